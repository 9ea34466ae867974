package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const DefaultOSVBaseURL = "https://api.osv.dev"

// OSVClient queries the OSV database.
type OSVClient struct {
	*Client
	BaseURL string
}

func NewOSVClient(c *Client, baseURL string) *OSVClient {
	if baseURL == "" {
		baseURL = DefaultOSVBaseURL
	}
	return &OSVClient{Client: c, BaseURL: baseURL}
}

// osvVulnerability mirrors the subset of the OSV schema this system
// consumes. Severity scores are vector strings, not numbers.
type osvVulnerability struct {
	ID         string           `json:"id"`
	Aliases    []string         `json:"aliases"`
	Summary    string           `json:"summary"`
	Details    string           `json:"details"`
	Modified   string           `json:"modified"`
	Published  string           `json:"published"`
	Withdrawn  string           `json:"withdrawn"`
	Severity   []SeverityVector `json:"severity"`
	References []Reference      `json:"references"`
	Affected   []struct {
		Package struct {
			Ecosystem string `json:"ecosystem"`
			Name      string `json:"name"`
			Purl      string `json:"purl"`
		} `json:"package"`
		Ranges []struct {
			Type   string       `json:"type"`
			Events []RangeEvent `json:"events"`
		} `json:"ranges"`
		Versions         []string       `json:"versions"`
		DatabaseSpecific map[string]any `json:"database_specific"`
	} `json:"affected"`
	DatabaseSpecific struct {
		GithubReviewed bool     `json:"github_reviewed"`
		CweIDs         []string `json:"cwe_ids"`
	} `json:"database_specific"`
}

// Query fetches a single advisory by identifier (CVE, GHSA, MAL, ...).
func (c *OSVClient) Query(ctx context.Context, id Identity, vulnID string) (*Record, error) {
	url := fmt.Sprintf("%s/v1/vulns/%s", c.BaseURL, vulnID)
	data, status, err := c.get(ctx, id, SourceOSV, url)
	if err != nil {
		return nil, err
	}
	var raw osvVulnerability
	if err := decodeJSON(data, status, &raw); err != nil {
		return nil, err
	}
	if raw.ID == "" {
		return nil, fmt.Errorf("osv response for %s has no id: %w", vulnID, ErrMalformedAdvisory)
	}
	return normalizeOSV(&raw), nil
}

type osvBatchQuery struct {
	Package struct {
		Name      string `json:"name"`
		Ecosystem string `json:"ecosystem"`
	} `json:"package"`
	Version string `json:"version"`
}

type osvBatchRequest struct {
	Queries []osvBatchQuery `json:"queries"`
}

type osvBatchResponse struct {
	Results []struct {
		Vulns []struct {
			ID       string `json:"id"`
			Modified string `json:"modified"`
		} `json:"vulns"`
	} `json:"results"`
}

// PackageQuery identifies one package version for a batch lookup.
type PackageQuery struct {
	Name      string
	Ecosystem string
	Version   string
}

// QueryBatch resolves advisory identifiers per package. The ingestion
// side uses this to seed detection titles; enrichment then runs Query
// per identifier.
func (c *OSVClient) QueryBatch(ctx context.Context, id Identity, pkgs []PackageQuery) ([][]string, error) {
	req := osvBatchRequest{Queries: make([]osvBatchQuery, len(pkgs))}
	for i, p := range pkgs {
		req.Queries[i].Package.Name = p.Name
		req.Queries[i].Package.Ecosystem = p.Ecosystem
		req.Queries[i].Version = p.Version
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/querybatch", c.BaseURL)
	data, status, err := c.do(ctx, id, SourceOSV, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var resp osvBatchResponse
	if err := decodeJSON(data, status, &resp); err != nil {
		return nil, err
	}
	ids := make([][]string, len(resp.Results))
	for i, result := range resp.Results {
		for _, v := range result.Vulns {
			ids[i] = append(ids[i], v.ID)
		}
	}
	return ids, nil
}

func normalizeOSV(raw *osvVulnerability) *Record {
	rec := &Record{
		Source:           SourceOSV,
		ID:               raw.ID,
		Aliases:          raw.Aliases,
		Summary:          raw.Summary,
		Details:          raw.Details,
		Severity:         raw.Severity,
		References:       raw.References,
		DatabaseReviewed: raw.DatabaseSpecific.GithubReviewed,
		CweIDs:           raw.DatabaseSpecific.CweIDs,
	}
	rec.Modified = parseOSVTime(raw.Modified)
	rec.Published = parseOSVTime(raw.Published)
	for _, aff := range raw.Affected {
		pkg := AffectedPackage{
			Ecosystem: aff.Package.Ecosystem,
			Name:      aff.Package.Name,
			Purl:      aff.Package.Purl,
			Versions:  aff.Versions,
		}
		for _, r := range aff.Ranges {
			pkg.Ranges = append(pkg.Ranges, VersionRange{Type: r.Type, Events: r.Events})
		}
		rec.Affected = append(rec.Affected, pkg)
	}
	return rec
}

func parseOSVTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
