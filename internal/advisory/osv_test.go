package advisory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const osvDoc = `{
  "id": "GHSA-prpj-rchv-9q2w",
  "aliases": ["CVE-2024-12345"],
  "summary": "Path traversal in example-lib",
  "modified": "2024-05-01T10:00:00Z",
  "published": "2024-04-01T09:00:00Z",
  "severity": [
    {"type": "CVSS_V3", "score": "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"}
  ],
  "references": [
    {"type": "ADVISORY", "url": "https://github.com/advisories/GHSA-prpj-rchv-9q2w"},
    {"type": "WEB", "url": "https://example.com/writeup"}
  ],
  "affected": [
    {
      "package": {"ecosystem": "npm", "name": "example-lib"},
      "ranges": [
        {"type": "SEMVER", "events": [{"introduced": "0"}, {"fixed": "2.1.4"}]}
      ]
    }
  ],
  "database_specific": {"github_reviewed": true, "cwe_ids": ["CWE-22"]}
}`

func TestOSVQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/vulns/GHSA-prpj-rchv-9q2w", r.URL.Path)
		w.Write([]byte(osvDoc))
	}))
	defer srv.Close()

	base, _ := newTestClient(SourceOSV)
	c := NewOSVClient(base, srv.URL)

	rec, err := c.Query(context.Background(), testIdentity, "GHSA-prpj-rchv-9q2w")
	assert.NoError(t, err)
	assert.Equal(t, "GHSA-prpj-rchv-9q2w", rec.ID)
	assert.Equal(t, []string{"CVE-2024-12345"}, rec.Aliases)
	assert.Equal(t, "CVE-2024-12345", rec.CVE())
	assert.True(t, rec.DatabaseReviewed)
	assert.Equal(t, []string{"CWE-22"}, rec.CweIDs)
	assert.Equal(t, time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC), rec.Published)
	assert.Equal(t, "https://github.com/advisories/GHSA-prpj-rchv-9q2w", rec.AdvisoryURL())
	assert.NoError(t, rec.Validate())

	assert.Len(t, rec.Affected, 1)
	assert.Equal(t, "npm", rec.Affected[0].Ecosystem)
	assert.Equal(t, "2.1.4", rec.Affected[0].Ranges[0].Events[1].Fixed)
}

func TestOSVQueryMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"summary":"no id"}`))
	}))
	defer srv.Close()

	base, _ := newTestClient(SourceOSV)
	c := NewOSVClient(base, srv.URL)

	_, err := c.Query(context.Background(), testIdentity, "GHSA-missing")
	assert.ErrorIs(t, err, ErrMalformedAdvisory)
}

func TestOSVQueryUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	base, _ := newTestClient(SourceOSV)
	c := NewOSVClient(base, srv.URL)

	_, err := c.Query(context.Background(), testIdentity, "GHSA-down")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestOSVQueryBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/querybatch", r.URL.Path)
		w.Write([]byte(`{"results":[{"vulns":[{"id":"GHSA-a"},{"id":"GHSA-b"}]},{"vulns":[]}]}`))
	}))
	defer srv.Close()

	base, _ := newTestClient(SourceOSV)
	c := NewOSVClient(base, srv.URL)

	ids, err := c.QueryBatch(context.Background(), testIdentity, []PackageQuery{
		{Name: "example-lib", Ecosystem: "npm", Version: "2.1.0"},
		{Name: "clean-lib", Ecosystem: "npm", Version: "1.0.0"},
	})
	assert.NoError(t, err)
	assert.Equal(t, [][]string{{"GHSA-a", "GHSA-b"}, nil}, ids)
}

func TestRecordMalicious(t *testing.T) {
	assert.True(t, (&Record{ID: "MAL-2024-100"}).Malicious())
	assert.True(t, (&Record{ID: "GHSA-x", Aliases: []string{"MAL-2024-100"}}).Malicious())
	assert.False(t, (&Record{ID: "GHSA-x"}).Malicious())
}

func TestRecordValidate(t *testing.T) {
	err := (&Record{Severity: []SeverityVector{{Type: "CVSS_V3"}}}).Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "advisory id is missing")
	assert.Contains(t, err.Error(), "modified date is missing")
	assert.Contains(t, err.Error(), "severity 0 has no score")
}
