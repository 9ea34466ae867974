package advisory

import "time"

// date layouts seen across OSV, EPSS and MITRE payloads.
var auditDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// EpochDates walks a decoded JSON tree and rewrites every string that
// parses as a date into an epoch-millisecond integer. The usage log
// stores timestamps this way so rate accounting can compare entries
// across sources without reparsing heterogeneous date formats.
func EpochDates(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = EpochDates(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = EpochDates(item)
		}
		return val
	case string:
		if ms, ok := epochMillis(val); ok {
			return ms
		}
		return val
	default:
		return v
	}
}

func epochMillis(s string) (int64, bool) {
	// Cheap pre-filter: all supported layouts start with a 4-digit year.
	if len(s) < 10 || s[4] != '-' {
		return 0, false
	}
	for _, layout := range auditDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
