package cvss

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/seclens/vuln-triage/internal/advisory"
)

const (
	v31Vector = "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"
	v30Vector = "CVSS:3.0/AV:N/AC:L/PR:N/UI:N/S:U/C:L/I:L/A:N"
	v40Vector = "CVSS:4.0/AV:N/AC:L/AT:N/PR:N/UI:N/VC:H/VI:H/VA:H/SC:N/SI:N/SA:N"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		candidates []Candidate
		wantOK     bool
		wantVer    string
		wantVector string
		wantScore  string
	}{
		{name: "no candidates",
			candidates: nil,
			wantOK:     false,
		},
		{name: "v4 preferred over v31 regardless of order",
			candidates: []Candidate{
				{Version: "3.1", Vector: v31Vector, Score: 9.8, HasScore: true},
				{Version: "4.0", Vector: v40Vector, Score: 9.3, HasScore: true},
			},
			wantOK:     true,
			wantVer:    "4.0",
			wantVector: v40Vector,
			wantScore:  "9.3",
		},
		{name: "v31 preferred over v30",
			candidates: []Candidate{
				{Version: "3.0", Vector: v30Vector, Score: 6.5, HasScore: true},
				{Version: "3.1", Vector: v31Vector, Score: 9.8, HasScore: true},
			},
			wantOK:     true,
			wantVer:    "3.1",
			wantVector: v31Vector,
			wantScore:  "9.8",
		},
		{name: "missing v31 score is derived from the vector",
			candidates: []Candidate{
				{Version: "3.1", Vector: v31Vector},
			},
			wantOK:     true,
			wantVer:    "3.1",
			wantVector: v31Vector,
			wantScore:  "9.8",
		},
		{name: "placeholder vector is skipped",
			candidates: []Candidate{
				{Version: "4.0", Vector: "n/a"},
				{Version: "3.1", Vector: v31Vector, Score: 9.8, HasScore: true},
			},
			wantOK:     true,
			wantVer:    "3.1",
			wantVector: v31Vector,
			wantScore:  "9.8",
		},
		{name: "v4 without upstream score carries no score",
			candidates: []Candidate{
				{Version: "4.0", Vector: v40Vector},
			},
			wantOK:     true,
			wantVer:    "4.0",
			wantVector: v40Vector,
			wantScore:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.candidates)
			assert.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantVer, got.Version)
			assert.Equal(t, tt.wantVector, got.Vector)
			assert.Equal(t, tt.wantScore, got.ScoreString)
		})
	}
}

func TestValidVector(t *testing.T) {
	assert.False(t, ValidVector(""))
	assert.False(t, ValidVector("   "))
	assert.False(t, ValidVector("n/a"))
	assert.False(t, ValidVector("N/A"))
	assert.False(t, ValidVector("AV:N/AC:L"))
	assert.True(t, ValidVector(v31Vector))
	assert.True(t, ValidVector(v40Vector))
}

func TestFormatScore(t *testing.T) {
	assert.Equal(t, "9.8", FormatScore(9.8))
	assert.Equal(t, "10", FormatScore(10))
	assert.Equal(t, "7.5", FormatScore(7.5))
}

func TestCandidatesFromCVE(t *testing.T) {
	assert.Nil(t, CandidatesFromCVE(nil))

	rec := &advisory.CVERecord{Metrics: []advisory.CVSSMetric{
		{Version: "3.1", Vector: v31Vector, Score: 9.8},
		{Version: "4.0", Vector: v40Vector},
	}}
	got := CandidatesFromCVE(rec)
	assert.Len(t, got, 2)
	assert.True(t, got[0].HasScore)
	assert.False(t, got[1].HasScore)
}

func TestCandidatesFromAdvisory(t *testing.T) {
	rec := &advisory.Record{Severity: []advisory.SeverityVector{
		{Type: "CVSS_V3", Score: v31Vector},
		{Type: "CVSS_V4", Score: v40Vector},
		{Type: "CVSS_V2", Score: "AV:N/AC:L/Au:N/C:P/I:P/A:P"},
	}}
	got := CandidatesFromAdvisory(rec)
	assert.Len(t, got, 2)
	assert.Equal(t, "3.1", got[0].Version)
	assert.Equal(t, "4.0", got[1].Version)
}
