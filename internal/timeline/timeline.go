// Package timeline merges chronological events from independent
// sources into one deduplicated, time-ordered sequence.
package timeline

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/exp/slices"
)

// Event is one timeline entry. Time is epoch milliseconds.
type Event struct {
	Value string `json:"value"`
	Time  int64  `json:"time"`
}

// Canonical event labels produced by enrichment.
const (
	LabelFirstDiscovered   = "First discovered"
	LabelLastSynchronized  = "Last synchronized"
	LabelAdvisoryPublished = "Advisory published"
	LabelFirstReviewed     = "First reviewed"
	LabelCisaAdded         = "Added to CISA KEV catalog"
	LabelBomPublished      = "BOM published"
)

// PublishOffsetMillis shifts the advisory publish event so it sorts
// just before "First discovered" when timestamps collide.
const PublishOffsetMillis = -1

// legacyLabels were emitted by the pre-rewrite sync jobs and are
// excluded from merged timelines; their replacements are
// "First discovered" and "Last synchronized".
var legacyLabels = map[string]struct{}{
	"First seen":   {},
	"Last checked": {},
}

// At converts a timestamp to the epoch-millisecond form events use.
func At(t time.Time) int64 {
	return t.UnixMilli()
}

// Merge concatenates all event groups, drops deny-listed legacy labels,
// deduplicates on the exact (value, time) pair and sorts ascending by
// time. Events sharing a value but not a time are all retained.
func Merge(groups ...[]Event) []Event {
	seen := make(map[Event]struct{})
	out := make([]Event, 0)
	for _, group := range groups {
		for _, ev := range group {
			if strings.TrimSpace(ev.Value) == "" || ev.Time == 0 {
				continue
			}
			if _, denied := legacyLabels[ev.Value]; denied {
				continue
			}
			if _, dup := seen[ev]; dup {
				continue
			}
			seen[ev] = struct{}{}
			out = append(out, ev)
		}
	}
	slices.SortStableFunc(out, func(a, b Event) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return strings.Compare(a.Value, b.Value)
	})
	return out
}

// Encode serializes events for storage on the finding.
func Encode(events []Event) (string, error) {
	data, err := json.Marshal(events)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode parses a stored timeline; an empty document yields no events.
func Decode(data string) ([]Event, error) {
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}
	var events []Event
	if err := json.Unmarshal([]byte(data), &events); err != nil {
		return nil, err
	}
	return events, nil
}
