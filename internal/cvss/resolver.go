// Package cvss selects one canonical vector from heterogeneous CVSS
// candidates and derives its base score.
package cvss

import (
	"strconv"
	"strings"

	"github.com/goark/go-cvss/v3/metric"

	"github.com/seclens/vuln-triage/internal/advisory"
)

// Candidate is one (vector, score) pair tagged by CVSS major version.
type Candidate struct {
	Version string // "4.0", "3.1", "3.0"
	Vector  string
	Score   float64
	// HasScore distinguishes an upstream-published score from an absent
	// one; absent 3.x scores are derived from the vector.
	HasScore bool
}

// Resolved is the chosen canonical vector. Score is kept both numeric
// (for computation) and as decimal text (for persistence; scores are
// stored as strings to avoid cross-storage rounding drift).
type Resolved struct {
	Version     string
	Vector      string
	Score       float64
	ScoreString string
}

// preference is strict: once a higher version is present, lower ones
// are ignored entirely.
var preference = []string{"4.0", "3.1", "3.0"}

// Resolve picks the first candidate by version preference that carries
// a usable vector. Returns false when no candidate qualifies.
func Resolve(candidates []Candidate) (Resolved, bool) {
	for _, version := range preference {
		for _, cand := range candidates {
			if cand.Version != version || !ValidVector(cand.Vector) {
				continue
			}
			r := Resolved{Version: cand.Version, Vector: cand.Vector}
			switch {
			case cand.HasScore:
				r.Score = cand.Score
			case version != "4.0":
				// goark has no 4.0 calculator; 4.0 scores come only from
				// the upstream container's aggregate score.
				if _, score, ok := DecodeBase(cand.Vector); ok {
					r.Score = score
				}
			}
			if r.Score > 0 {
				r.ScoreString = FormatScore(r.Score)
			}
			return r, true
		}
	}
	return Resolved{}, false
}

// ValidVector rejects empty and placeholder vector strings.
func ValidVector(vector string) bool {
	v := strings.TrimSpace(vector)
	if v == "" || strings.EqualFold(v, "n/a") {
		return false
	}
	return strings.HasPrefix(v, "CVSS:")
}

// DecodeBase derives severity and base score from a 3.x vector.
func DecodeBase(vector string) (string, float64, bool) {
	bm, err := metric.NewBase().Decode(vector)
	if err != nil {
		return "", 0, false
	}
	return bm.Severity().String(), bm.Score(), true
}

// FormatScore renders a score the way it is persisted: minimal decimal
// text, e.g. 9.8 -> "9.8", 10 -> "10".
func FormatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

// CandidatesFromCVE extracts candidates from a cached CVE record's
// metrics. These take precedence over advisory-sourced vectors.
func CandidatesFromCVE(rec *advisory.CVERecord) []Candidate {
	if rec == nil {
		return nil
	}
	out := make([]Candidate, 0, len(rec.Metrics))
	for _, m := range rec.Metrics {
		out = append(out, Candidate{Version: m.Version, Vector: m.Vector, Score: m.Score, HasScore: m.Score > 0})
	}
	return out
}

// CandidatesFromAdvisory extracts candidates from an OSV severity list,
// where each entry's "score" is a vector string.
func CandidatesFromAdvisory(rec *advisory.Record) []Candidate {
	if rec == nil {
		return nil
	}
	out := make([]Candidate, 0, len(rec.Severity))
	for _, sv := range rec.Severity {
		version := versionOfVector(sv.Score)
		if version == "" {
			continue
		}
		out = append(out, Candidate{Version: version, Vector: sv.Score})
	}
	return out
}

func versionOfVector(vector string) string {
	switch {
	case strings.HasPrefix(vector, "CVSS:4.0/"):
		return "4.0"
	case strings.HasPrefix(vector, "CVSS:3.1/"):
		return "3.1"
	case strings.HasPrefix(vector, "CVSS:3.0/"):
		return "3.0"
	}
	return ""
}
