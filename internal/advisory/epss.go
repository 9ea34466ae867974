package advisory

import (
	"context"
	"fmt"
	"strconv"
)

const DefaultEPSSBaseURL = "https://api.first.org"

// EPSSClient queries the FIRST.org Exploit Prediction Scoring System.
type EPSSClient struct {
	*Client
	BaseURL string
}

func NewEPSSClient(c *Client, baseURL string) *EPSSClient {
	if baseURL == "" {
		baseURL = DefaultEPSSBaseURL
	}
	return &EPSSClient{Client: c, BaseURL: baseURL}
}

// EPSSScore is one score row. EPSS and Percentile keep the upstream
// string form for persistence; the float fields serve computation.
type EPSSScore struct {
	CVE             string
	EPSS            string
	Percentile      string
	EPSSValue       float64
	PercentileValue float64
	Date            string
}

type epssResponse struct {
	Status string `json:"status"`
	Total  int    `json:"total"`
	Data   []struct {
		CVE        string `json:"cve"`
		EPSS       string `json:"epss"`
		Percentile string `json:"percentile"`
		Date       string `json:"date"`
	} `json:"data"`
}

// Query returns the best-match score row for a CVE: the dataset is
// filtered by exact CVE match and the last match wins when the feed
// carries duplicates. A CVE absent from the feed yields (nil, nil).
func (c *EPSSClient) Query(ctx context.Context, id Identity, cveID string) (*EPSSScore, error) {
	url := fmt.Sprintf("%s/data/v1/epss?cve=%s", c.BaseURL, cveID)
	data, status, err := c.get(ctx, id, SourceEPSS, url)
	if err != nil {
		return nil, err
	}
	var resp epssResponse
	if err := decodeJSON(data, status, &resp); err != nil {
		return nil, err
	}
	var match *EPSSScore
	for _, row := range resp.Data {
		if row.CVE != cveID {
			continue
		}
		score := EPSSScore{CVE: row.CVE, EPSS: row.EPSS, Percentile: row.Percentile, Date: row.Date}
		score.EPSSValue, _ = strconv.ParseFloat(row.EPSS, 64)
		score.PercentileValue, _ = strconv.ParseFloat(row.Percentile, 64)
		m := score
		match = &m
	}
	return match, nil
}
