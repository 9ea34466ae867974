package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultMitreAPIBaseURL    = "https://cveawg.mitre.org"
	DefaultMitreMirrorBaseURL = "https://raw.githubusercontent.com/CVEProject/cvelistV5/main/cves"
)

// CVERecord is the normalized MITRE CVE container (CNA + ADP). It is
// cached by cveId: fetched once, reused on every later enrichment.
type CVERecord struct {
	CveID         string          `json:"cveId"`
	Published     time.Time       `json:"published"`
	Modified      time.Time       `json:"modified"`
	Vendor        string          `json:"vendor,omitempty"`
	Product       string          `json:"product,omitempty"`
	CPEs          []string        `json:"cpes,omitempty"`
	Affected      []RangeEvent    `json:"affected,omitempty"`
	Metrics       []CVSSMetric    `json:"metrics,omitempty"`
	Timeline      []TimelineEntry `json:"timeline,omitempty"`
	CisaDateAdded *time.Time      `json:"cisaDateAdded,omitempty"`
}

// CVSSMetric is one CVSS candidate as published by a CNA or ADP.
type CVSSMetric struct {
	Version string  `json:"version"` // "4.0", "3.1", "3.0"
	Vector  string  `json:"vector"`
	Score   float64 `json:"score"`
}

// TimelineEntry is an upstream CNA/ADP timeline item.
type TimelineEntry struct {
	Time  time.Time `json:"time"`
	Value string    `json:"value"`
}

// CVECacheStore persists normalized CVE records keyed by id. Save is a
// find-or-create: a conflicting concurrent write is a no-op.
type CVECacheStore interface {
	FindCVERecord(ctx context.Context, cveID string) (*CVERecord, bool, error)
	SaveCVERecord(ctx context.Context, rec *CVERecord) error
}

// BlobStore holds raw upstream CVE documents by path.
type BlobStore interface {
	Get(path string) ([]byte, bool)
	Put(path string, data []byte) error
}

// MitreClient fetches CVE records from the cveawg API with a static
// list-mirror fallback. Both paths produce the same container shape.
type MitreClient struct {
	*Client
	APIBaseURL    string
	MirrorBaseURL string
	Cache         CVECacheStore
	Blobs         BlobStore
}

func NewMitreClient(c *Client, apiBase, mirrorBase string, cache CVECacheStore, blobs BlobStore) *MitreClient {
	if apiBase == "" {
		apiBase = DefaultMitreAPIBaseURL
	}
	if mirrorBase == "" {
		mirrorBase = DefaultMitreMirrorBaseURL
	}
	return &MitreClient{Client: c, APIBaseURL: apiBase, MirrorBaseURL: mirrorBase, Cache: cache, Blobs: blobs}
}

// mitreCVE mirrors the CVE JSON 5.x container.
type mitreCVE struct {
	CveMetadata struct {
		CveID         string `json:"cveId"`
		DatePublished string `json:"datePublished"`
		DateUpdated   string `json:"dateUpdated"`
	} `json:"cveMetadata"`
	Containers struct {
		Cna mitreContainer   `json:"cna"`
		Adp []mitreContainer `json:"adp"`
	} `json:"containers"`
}

type mitreContainer struct {
	Title            string `json:"title"`
	ProviderMetadata struct {
		ShortName   string `json:"shortName"`
		DateUpdated string `json:"dateUpdated"`
	} `json:"providerMetadata"`
	Affected []struct {
		Vendor   string   `json:"vendor"`
		Product  string   `json:"product"`
		Cpes     []string `json:"cpes"`
		Versions []struct {
			Status          string `json:"status"`
			Version         string `json:"version"`
			LessThan        string `json:"lessThan"`
			LessThanOrEqual string `json:"lessThanOrEqual"`
		} `json:"versions"`
	} `json:"affected"`
	Metrics []struct {
		CvssV4_0 mitreCvssData `json:"cvssV4_0"`
		CvssV3_1 mitreCvssData `json:"cvssV3_1"`
		CvssV3_0 mitreCvssData `json:"cvssV3_0"`
	} `json:"metrics"`
	Timeline []struct {
		Time  string `json:"time"`
		Value string `json:"value"`
	} `json:"timeline"`
}

type mitreCvssData struct {
	VectorString string  `json:"vectorString"`
	BaseScore    float64 `json:"baseScore"`
	Score        float64 `json:"score"`
}

// Query returns the normalized record for a CVE id, cache first. A CVE
// unknown to both the live API and the mirror yields (nil, nil).
func (c *MitreClient) Query(ctx context.Context, id Identity, cveID string) (*CVERecord, error) {
	if c.Cache != nil {
		if rec, ok, err := c.Cache.FindCVERecord(ctx, cveID); err == nil && ok {
			return rec, nil
		}
	}

	data, status, err := c.get(ctx, id, SourceMitre, fmt.Sprintf("%s/api/cve/%s", c.APIBaseURL, cveID))
	var raw mitreCVE
	liveErr := err
	if liveErr == nil {
		liveErr = decodeJSON(data, status, &raw)
	}
	if liveErr != nil {
		// Live API down, record not served there yet, or an undecodable
		// body; fall back to the static list mirror.
		if errors.Is(liveErr, ErrIntegrationDisabled) {
			return nil, liveErr
		}
		mirrorPath, perr := MirrorPath(cveID)
		if perr != nil {
			return nil, perr
		}
		data, status, err = c.get(ctx, id, SourceMitre, fmt.Sprintf("%s/%s", c.MirrorBaseURL, mirrorPath))
		if err != nil {
			return nil, err
		}
		if status == 404 {
			return nil, nil
		}
		raw = mitreCVE{}
		if err := decodeJSON(data, status, &raw); err != nil {
			return nil, err
		}
	}
	if raw.CveMetadata.CveID == "" {
		return nil, fmt.Errorf("cve record for %s has no cveId: %w", cveID, ErrMalformedAdvisory)
	}
	rec := normalizeMitre(&raw)

	if c.Blobs != nil {
		if err := c.Blobs.Put(fmt.Sprintf("mitre/%s.json", cveID), data); err != nil {
			c.Log.Warn("cve blob write failed", zap.String("cve", cveID), zap.Error(err))
		}
	}
	if c.Cache != nil {
		if err := c.Cache.SaveCVERecord(ctx, rec); err != nil {
			c.Log.Warn("cve cache write failed", zap.String("cve", cveID), zap.Error(err))
		}
	}
	return rec, nil
}

// MirrorPath builds the deterministic static-mirror path for a CVE id:
// {year}/{number/1000}xxx/{cveId}.json, e.g. CVE-2023-12345 ->
// 2023/12xxx/CVE-2023-12345.json.
func MirrorPath(cveID string) (string, error) {
	parts := strings.Split(cveID, "-")
	if len(parts) != 3 || parts[0] != "CVE" {
		return "", fmt.Errorf("invalid cve id %q", cveID)
	}
	num, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", fmt.Errorf("invalid cve number %q", parts[2])
	}
	return fmt.Sprintf("%s/%dxxx/%s.json", parts[1], num/1000, cveID), nil
}

func normalizeMitre(raw *mitreCVE) *CVERecord {
	rec := &CVERecord{
		CveID:     raw.CveMetadata.CveID,
		Published: parseOSVTime(raw.CveMetadata.DatePublished),
		Modified:  parseOSVTime(raw.CveMetadata.DateUpdated),
	}
	cna := raw.Containers.Cna
	for _, aff := range cna.Affected {
		if rec.Vendor == "" {
			rec.Vendor = aff.Vendor
			rec.Product = aff.Product
		}
		rec.CPEs = append(rec.CPEs, aff.Cpes...)
		for _, v := range aff.Versions {
			if v.Status != "affected" {
				continue
			}
			ev := RangeEvent{Introduced: v.Version}
			switch {
			case v.LessThan != "":
				ev.Fixed = v.LessThan
			case v.LessThanOrEqual != "":
				ev.LastAffected = v.LessThanOrEqual
			}
			rec.Affected = append(rec.Affected, ev)
		}
	}
	rec.Metrics = append(rec.Metrics, containerMetrics(cna)...)
	rec.Timeline = append(rec.Timeline, containerTimeline(cna)...)

	for _, adp := range raw.Containers.Adp {
		rec.Metrics = append(rec.Metrics, containerMetrics(adp)...)
		rec.Timeline = append(rec.Timeline, containerTimeline(adp)...)
		// The CISA ADP container's update date doubles as the KEV/ADP
		// validation date for this record.
		if strings.Contains(adp.Title, "CISA") || strings.EqualFold(adp.ProviderMetadata.ShortName, "CISA-ADP") {
			if t := parseOSVTime(adp.ProviderMetadata.DateUpdated); !t.IsZero() {
				rec.CisaDateAdded = &t
			}
		}
	}
	return rec
}

func containerMetrics(c mitreContainer) []CVSSMetric {
	var out []CVSSMetric
	for _, m := range c.Metrics {
		if m.CvssV4_0.VectorString != "" {
			score := m.CvssV4_0.Score
			if score == 0 {
				score = m.CvssV4_0.BaseScore
			}
			out = append(out, CVSSMetric{Version: "4.0", Vector: m.CvssV4_0.VectorString, Score: score})
		}
		if m.CvssV3_1.VectorString != "" {
			out = append(out, CVSSMetric{Version: "3.1", Vector: m.CvssV3_1.VectorString, Score: m.CvssV3_1.BaseScore})
		}
		if m.CvssV3_0.VectorString != "" {
			out = append(out, CVSSMetric{Version: "3.0", Vector: m.CvssV3_0.VectorString, Score: m.CvssV3_0.BaseScore})
		}
	}
	return out
}

func containerTimeline(c mitreContainer) []TimelineEntry {
	var out []TimelineEntry
	for _, t := range c.Timeline {
		when := parseOSVTime(t.Time)
		if when.IsZero() || t.Value == "" {
			continue
		}
		out = append(out, TimelineEntry{Time: when, Value: t.Value})
	}
	return out
}

// MarshalData serializes a record for the metadata cache row.
func (r *CVERecord) MarshalData() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
