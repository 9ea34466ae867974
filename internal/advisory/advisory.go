// Package advisory fetches and normalizes external vulnerability
// intelligence. Each client turns one upstream schema (OSV, FIRST.org
// EPSS, MITRE CVE) into an explicit intermediate record so that the
// enrichment layer never touches raw upstream JSON shapes.
package advisory

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Source names as they appear in integration toggles and usage logs.
const (
	SourceOSV   = "osv.dev"
	SourceEPSS  = "first.org"
	SourceMitre = "mitre.org"
)

// MaliciousPrefix marks advisories describing malicious packages
// rather than vulnerable ones (OSV "MAL-" identifiers).
const MaliciousPrefix = "MAL-"

// Record is the normalized OSV advisory consumed by enrichment.
type Record struct {
	Source           string
	ID               string
	Aliases          []string
	Summary          string
	Details          string
	Modified         time.Time
	Published        time.Time
	Severity         []SeverityVector
	Affected         []AffectedPackage
	References       []Reference
	DatabaseReviewed bool
	CweIDs           []string
}

type SeverityVector struct {
	Type  string `json:"type"`
	Score string `json:"score"`
}

type AffectedPackage struct {
	Ecosystem string
	Name      string
	Purl      string
	Ranges    []VersionRange
	Versions  []string
}

type VersionRange struct {
	Type   string
	Events []RangeEvent
}

type RangeEvent struct {
	Introduced   string `json:"introduced,omitempty"`
	Fixed        string `json:"fixed,omitempty"`
	LastAffected string `json:"last_affected,omitempty"`
	Limit        string `json:"limit,omitempty"`
}

type Reference struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Malicious reports whether the advisory id or any alias carries the
// malicious-package marker.
func (r *Record) Malicious() bool {
	if strings.HasPrefix(r.ID, MaliciousPrefix) {
		return true
	}
	for _, a := range r.Aliases {
		if strings.HasPrefix(a, MaliciousPrefix) {
			return true
		}
	}
	return false
}

// CVE returns the first CVE identifier among the record id and aliases.
func (r *Record) CVE() string {
	if strings.HasPrefix(r.ID, "CVE-") {
		return r.ID
	}
	for _, a := range r.Aliases {
		if strings.HasPrefix(a, "CVE-") {
			return a
		}
	}
	return ""
}

// AdvisoryURL returns the canonical web URL for the advisory, preferring
// an upstream ADVISORY reference over the osv.dev page.
func (r *Record) AdvisoryURL() string {
	for _, ref := range r.References {
		if ref.Type == "ADVISORY" && ref.URL != "" {
			return ref.URL
		}
	}
	return fmt.Sprintf("https://osv.dev/vulnerability/%s", r.ID)
}

// Validate reports every structural defect of a normalized record at
// once. A record failing validation is treated as a malformed advisory.
func (r *Record) Validate() error {
	var result error
	if r.ID == "" {
		result = multierror.Append(result, fmt.Errorf("advisory id is missing"))
	}
	if r.Modified.IsZero() {
		result = multierror.Append(result, fmt.Errorf("modified date is missing on %s", r.ID))
	}
	for i, sv := range r.Severity {
		if sv.Score == "" {
			result = multierror.Append(result, fmt.Errorf("severity %d has no score on %s", i, r.ID))
		}
	}
	return result
}
