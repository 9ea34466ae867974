// Package confidence scores how trustworthy a finding's advisory data
// is. The rule table is fixed; evaluation is a pure function over an
// explicit snapshot, so rules can never read or mutate ambient state.
package confidence

import (
	"math"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"
)

// Level buckets for the normalized percentage.
const (
	LevelLow  = "Low"
	LevelHigh = "High"
	LevelSure = "Sure"
)

// maliciousPrefix marks advisories for malicious packages.
const maliciousPrefix = "MAL-"

// Snapshot is the already-normalized view of a finding that rules are
// evaluated against.
type Snapshot struct {
	DetectionTitle   string
	DatabaseReviewed bool
	CisaDateAdded    *time.Time
	ReferenceCount   int
	ExploitCount     int
	PackageVersion   string
	FixVersion       string
}

// Rule is a named predicate with a signed weight. Rationale describes
// what a triggered rule means to a human reader.
type Rule struct {
	Name      string
	Weight    int
	Rationale string
	Predicate func(s Snapshot) bool
}

// Evaluation is the transient result of one rule.
type Evaluation struct {
	Rule      string `json:"rule"`
	Result    bool   `json:"result"`
	Rationale string `json:"rationale"`
	Score     int    `json:"score"`
}

// Result is the flattened outcome persisted onto the finding.
type Result struct {
	Score       float64
	Level       string
	Rationales  []string
	Evaluations []Evaluation
}

// Rules is the fixed table. Weights sum to +21 positive and -7 negative.
var Rules = []Rule{
	{
		Name:      "databaseReviewed",
		Weight:    2,
		Rationale: "Advisory was reviewed by the source database",
		Predicate: func(s Snapshot) bool { return s.DatabaseReviewed },
	},
	{
		Name:      "cisaValidated",
		Weight:    5,
		Rationale: "CISA has validated and enriched this vulnerability",
		Predicate: func(s Snapshot) bool { return s.CisaDateAdded != nil && !s.CisaDateAdded.IsZero() },
	},
	{
		Name:      "maliciousPackage",
		Weight:    10,
		Rationale: "Package is flagged as intentionally malicious",
		Predicate: func(s Snapshot) bool { return strings.HasPrefix(s.DetectionTitle, maliciousPrefix) },
	},
	{
		Name:      "goodReferences",
		Weight:    2,
		Rationale: "Advisory cites five or more references",
		Predicate: func(s Snapshot) bool { return s.ReferenceCount >= 5 },
	},
	{
		Name:      "limitedReferences",
		Weight:    -1,
		Rationale: "Advisory cites fewer than five references",
		Predicate: func(s Snapshot) bool { return s.ReferenceCount < 5 },
	},
	{
		Name:      "exploitsAvailable",
		Weight:    2,
		Rationale: "At least one known exploit is recorded",
		Predicate: func(s Snapshot) bool { return s.ExploitCount >= 1 },
	},
	{
		Name:      "invalidPackageVersion",
		Weight:    -5,
		Rationale: "Package version is not a valid semantic version",
		Predicate: func(s Snapshot) bool { return !validSemver(s.PackageVersion) },
	},
	{
		Name:      "invalidFixVersion",
		Weight:    -1,
		Rationale: "Fix version is not a valid semantic version",
		Predicate: func(s Snapshot) bool { return !validSemver(s.FixVersion) },
	},
}

func validSemver(v string) bool {
	if strings.TrimSpace(v) == "" {
		return false
	}
	_, err := version.NewSemver(v)
	return err == nil
}

// Evaluate runs every rule against the snapshot and normalizes the
// signed sum into a 0-100 percentage. Untriggered rules contribute 0 to
// the sum and nothing to the rationale list.
func Evaluate(s Snapshot) Result {
	var raw, positive, negative int
	res := Result{Evaluations: make([]Evaluation, 0, len(Rules))}
	for _, rule := range Rules {
		if rule.Weight > 0 {
			positive += rule.Weight
		} else {
			negative += -rule.Weight
		}
		ev := Evaluation{Rule: rule.Name, Rationale: rule.Rationale}
		if rule.Predicate(s) {
			ev.Result = true
			ev.Score = rule.Weight
			raw += rule.Weight
			res.Rationales = append(res.Rationales, rule.Rationale)
		}
		res.Evaluations = append(res.Evaluations, ev)
	}
	// Shift by the negative offset so the score lands in [0, pos+neg].
	normalized := float64(raw + negative)
	normalizedMax := float64(positive + negative)
	res.Score = round2(normalized / normalizedMax * 100)
	res.Level = LevelOf(res.Score)
	return res
}

// LevelOf maps a percentage to its confidence bucket.
func LevelOf(score float64) string {
	switch {
	case score <= 33:
		return LevelLow
	case score < 80:
		return LevelHigh
	default:
		return LevelSure
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
