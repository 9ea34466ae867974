package advisory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpochDates(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "rfc3339", in: "2024-01-02T03:04:05Z", want: int64(1704164645000)},
		{name: "rfc3339 nano", in: "2024-01-02T03:04:05.123Z", want: int64(1704164645123)},
		{name: "no zone", in: "2024-01-02T03:04:05", want: int64(1704164645000)},
		{name: "date only", in: "2024-01-02", want: int64(1704153600000)},
		{name: "plain string untouched", in: "CVE-2024-12345", want: "CVE-2024-12345"},
		{name: "short string untouched", in: "1.2.3", want: "1.2.3"},
		{name: "number untouched", in: 9.8, want: 9.8},
		{name: "nil untouched", in: nil, want: nil},
		{name: "nested map and slice",
			in: map[string]any{
				"published": "2024-01-02T03:04:05Z",
				"aliases":   []any{"GHSA-x", "2024-01-02T03:04:05Z"},
				"score":     "9.8",
			},
			want: map[string]any{
				"published": int64(1704164645000),
				"aliases":   []any{"GHSA-x", int64(1704164645000)},
				"score":     "9.8",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EpochDates(tt.in))
		})
	}
}
