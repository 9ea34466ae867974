package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Error taxonomy for outbound advisory calls. All of these surface to
// the caller unchanged; none are retried here.
var (
	// ErrIntegrationDisabled means the organization switched the source
	// off. No network call is made.
	ErrIntegrationDisabled = errors.New("integration disabled for organization")
	// ErrUpstreamUnavailable covers network failures, non-2xx statuses
	// and unparseable bodies.
	ErrUpstreamUnavailable = errors.New("advisory source unavailable")
	// ErrMalformedAdvisory means the body parsed but required fields
	// were absent. Callers treat it like ErrUpstreamUnavailable.
	ErrMalformedAdvisory = errors.New("malformed advisory document")
)

// Identity is the caller-supplied principal used for toggle scoping and
// audit logging. This package never authenticates it.
type Identity struct {
	OrgID       string
	MemberEmail string
}

// IntegrationStore answers whether an organization has a source enabled.
type IntegrationStore interface {
	FindEnabled(ctx context.Context, orgID, source string) (bool, error)
}

// UsageEntry is one audit row for an outbound call. Response holds the
// decoded body with date strings rewritten to epoch milliseconds; it is
// the system's only retry/rate diagnostic trail.
type UsageEntry struct {
	OrgID       string
	MemberEmail string
	Source      string
	Request     string
	Response    any
	StatusCode  int
	Timestamp   time.Time
}

// UsageSink records usage entries append-only, fire-and-forget.
type UsageSink interface {
	Record(ctx context.Context, entry UsageEntry) error
}

// Client carries the plumbing shared by all advisory source clients:
// the integration gate, the usage log, outbound rate limiting and the
// HTTP transport.
type Client struct {
	HTTP         *http.Client
	Integrations IntegrationStore
	Usage        UsageSink
	Limiter      *rate.Limiter
	Log          *zap.Logger
}

// NewClient builds a client with a bounded transport. A nil limiter
// disables rate accounting.
func NewClient(integrations IntegrationStore, usage UsageSink, limiter *rate.Limiter, log *zap.Logger) *Client {
	return &Client{
		HTTP:         &http.Client{Timeout: 30 * time.Second},
		Integrations: integrations,
		Usage:        usage,
		Limiter:      limiter,
		Log:          log,
	}
}

// gate enforces the per-organization integration toggle.
func (c *Client) gate(ctx context.Context, id Identity, source string) error {
	enabled, err := c.Integrations.FindEnabled(ctx, id.OrgID, source)
	if err != nil {
		return fmt.Errorf("integration lookup for %s: %w", source, err)
	}
	if !enabled {
		return fmt.Errorf("%s for org %s: %w", source, id.OrgID, ErrIntegrationDisabled)
	}
	return nil
}

// get performs a gated, rate-limited GET and writes the audit row. The
// returned body is raw; status is the HTTP status code. Any transport
// failure maps to ErrUpstreamUnavailable.
func (c *Client) get(ctx context.Context, id Identity, source, url string) ([]byte, int, error) {
	return c.do(ctx, id, source, http.MethodGet, url, nil)
}

func (c *Client) do(ctx context.Context, id Identity, source, method, url string, body io.Reader) ([]byte, int, error) {
	if err := c.gate(ctx, id, source); err != nil {
		return nil, 0, err
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.Log.Warn("advisory request failed", zap.String("source", source), zap.String("url", url), zap.Error(err))
		return nil, 0, fmt.Errorf("%s %s: %v: %w", method, url, err, ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read %s response: %v: %w", source, err, ErrUpstreamUnavailable)
	}
	c.logUsage(ctx, id, source, fmt.Sprintf("%s %s", method, url), data, resp.StatusCode)
	return data, resp.StatusCode, nil
}

// logUsage appends the audit row. Dates in the response body are
// rewritten to epoch milliseconds before storage. Failures are logged
// and swallowed; the audit trail never fails a live call.
func (c *Client) logUsage(ctx context.Context, id Identity, source, request string, body []byte, status int) {
	if c.Usage == nil {
		return
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		decoded = string(body)
	} else {
		decoded = EpochDates(decoded)
	}
	entry := UsageEntry{
		OrgID:       id.OrgID,
		MemberEmail: id.MemberEmail,
		Source:      source,
		Request:     request,
		Response:    decoded,
		StatusCode:  status,
		Timestamp:   time.Now().UTC(),
	}
	if err := c.Usage.Record(ctx, entry); err != nil {
		c.Log.Warn("usage log write failed", zap.String("source", source), zap.Error(err))
	}
}

// decodeJSON maps body bytes into out, translating failures into the
// recoverable upstream-unavailable error.
func decodeJSON(data []byte, status int, out any) error {
	if status < 200 || status > 299 {
		return fmt.Errorf("status %d: %w", status, ErrUpstreamUnavailable)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("non-JSON response: %w", ErrUpstreamUnavailable)
	}
	return nil
}
