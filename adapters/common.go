package adapters

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const defaultFormat = "json"

// errMissingField is the cause of a ScoreError for a report without the
// field a vendor's score is read from.
var errMissingField = errors.New("missing")

// base is the plumbing every adapter shares: one Transport (and with it one
// availability latch), the credential strategy and the liveness request.
type base struct {
	t      *sandboxbridge.Transport
	auth   sandboxbridge.Authenticator
	probe  *sandboxbridge.NormalizedRequest
	accept func(*sandboxbridge.NormalizedResponse) bool
}

func newBase(name, baseURL string, cfg *sandboxbridge.ProviderConfig) (base, error) {
	t, err := sandboxbridge.NewTransport(name, trimSlash(baseURL), cfg)
	if err != nil {
		return base{}, err
	}
	return base{t: t}, nil
}

func (b *base) Name() string { return b.t.Name() }

func (b *base) IsAvailable(ctx context.Context) bool {
	return b.t.Probe(ctx, b.probe, b.auth, b.accept)
}

func (b *base) RateLimitInfo() *sandboxbridge.NormalizedRateLimitInfo {
	return b.t.RateLimitInfo()
}

// Transport exposes the executor, mostly for tests and diagnostics.
func (b *base) Transport() *sandboxbridge.Transport { return b.t }

func (b *base) do(ctx context.Context, req *sandboxbridge.NormalizedRequest) (*sandboxbridge.NormalizedResponse, error) {
	return b.t.DoAuthorized(ctx, req, b.auth)
}

func (b *base) get(ctx context.Context, endpoint string) (*sandboxbridge.NormalizedResponse, error) {
	return b.do(ctx, &sandboxbridge.NormalizedRequest{Method: http.MethodGet, Endpoint: endpoint})
}

func (b *base) submitError(reason string, err error) error {
	return &sandboxbridge.SubmissionError{Backend: b.Name(), Reason: reason, Err: err}
}

func (b *base) stateError(id sandboxbridge.SubmissionID, err error) error {
	return &sandboxbridge.StateQueryError{Backend: b.Name(), ID: id.Value, Err: err}
}

func (b *base) formatError(format string, err error) error {
	return &sandboxbridge.ReportFormatError{Backend: b.Name(), Format: format, Err: err}
}

// upload builds the multipart submission request. The transport rewinds the
// stream before every attempt.
func upload(endpoint, field string, content io.ReadSeeker, filename string) *sandboxbridge.NormalizedRequest {
	return &sandboxbridge.NormalizedRequest{
		Method:   http.MethodPost,
		Endpoint: endpoint,
		Files:    []sandboxbridge.File{{Field: field, Filename: filename, Content: content}},
	}
}

// jsonBody parses a response body, failing on anything that is not JSON.
func jsonBody(resp *sandboxbridge.NormalizedResponse) (gjson.Result, bool) {
	if len(resp.Data) == 0 || !gjson.ValidBytes(resp.Data) {
		return gjson.Result{}, false
	}
	return gjson.ParseBytes(resp.Data), true
}

func formatOrDefault(format string) string {
	if format == "" {
		return defaultFormat
	}
	return strings.ToLower(format)
}

// numberOr returns the numeric value at path, or def when it is missing or
// not numeric.
func numberOr(report *sandboxbridge.Report, path string, def float64) float64 {
	r := report.Get(path)
	if r.Type != gjson.Number {
		return def
	}
	return r.Float()
}

func trimSlash(u string) string {
	return strings.TrimRight(u, "/")
}

var (
	_ sandboxbridge.Sandbox = (*CuckooAdapter)(nil)
	_ sandboxbridge.Sandbox = (*FireEyeAdapter)(nil)
	_ sandboxbridge.Sandbox = (*FalconAdapter)(nil)
	_ sandboxbridge.Sandbox = (*JoeAdapter)(nil)
	_ sandboxbridge.Sandbox = (*VMRayAdapter)(nil)
	_ sandboxbridge.Sandbox = (*WildFireAdapter)(nil)
	_ sandboxbridge.Sandbox = (*TriageAdapter)(nil)
	_ sandboxbridge.Sandbox = (*OPSWATAdapter)(nil)

	_ sandboxbridge.RateLimitReporter = (*CuckooAdapter)(nil)
)
