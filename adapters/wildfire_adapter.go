package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/clbanning/mxj/v2"
	"github.com/tidwall/gjson"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const (
	WildFireName       = "wildfire"
	WildFireDefaultURL = "https://wildfire.paloaltonetworks.com"
)

// WildFire verdict codes returned by /get/verdict.
const (
	wildFireBenign        = 0
	wildFireMalware       = 1
	wildFireGrayware      = 2
	wildFirePhishing      = 4
	wildFirePending       = -100
	wildFireFailed        = -101
	wildFireUnknownSample = -102
	wildFireInvalidHash   = -103
)

// WildFireAdapter talks to the Palo Alto WildFire public API. Requests are
// form POSTs carrying the api key; answers are XML and are converted to
// JSON before inspection. Submissions are identified by their SHA-256.
type WildFireAdapter struct {
	base
}

func NewWildFireAdapter(apiKey, url string, cfg *sandboxbridge.ProviderConfig) (*WildFireAdapter, error) {
	if url == "" {
		url = WildFireDefaultURL
	}
	b, err := newBase(WildFireName, trimSlash(url)+"/publicapi", cfg)
	if err != nil {
		return nil, err
	}
	b.auth = sandboxbridge.StaticParams{"apikey": {apiKey}}
	// A GET on this endpoint is always refused with 405 by a live service.
	b.probe = &sandboxbridge.NormalizedRequest{Method: http.MethodGet, Endpoint: "/get/sample"}
	b.accept = sandboxbridge.ExpectStatus(http.StatusMethodNotAllowed)
	return &WildFireAdapter{base: b}, nil
}

// decode converts an XML answer to JSON and surfaces the error envelope.
func (w *WildFireAdapter) decode(resp *sandboxbridge.NormalizedResponse) ([]byte, error) {
	m, err := mxj.NewMapXml(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("%s: decode xml: %w", w.Name(), err)
	}
	data, err := m.Json()
	if err != nil {
		return nil, fmt.Errorf("%s: convert xml: %w", w.Name(), err)
	}
	if e := gjson.GetBytes(data, "error"); e.Exists() {
		return nil, &sandboxbridge.TransportError{
			URL: resp.URL, Status: resp.StatusCode, Body: resp.Data,
			Err: fmt.Errorf("%w: %s", sandboxbridge.ErrAPI, e.Get("error-message").String()),
		}
	}
	return data, nil
}

func (w *WildFireAdapter) post(ctx context.Context, endpoint string, params url.Values) (*sandboxbridge.NormalizedResponse, error) {
	return w.do(ctx, &sandboxbridge.NormalizedRequest{Method: http.MethodPost, Endpoint: endpoint, Params: params})
}

func (w *WildFireAdapter) Submit(ctx context.Context, content io.ReadSeeker, filename string) (sandboxbridge.SubmissionID, error) {
	resp, err := w.do(ctx, upload("/submit/file", "file", content, filename))
	if err != nil {
		return sandboxbridge.SubmissionID{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return sandboxbridge.SubmissionID{}, w.submitError("unexpected response", sandboxbridge.APIError(resp))
	}
	data, err := w.decode(resp)
	if err != nil {
		return sandboxbridge.SubmissionID{}, w.submitError("rejected", err)
	}
	hash := gjson.GetBytes(data, "wildfire.upload-file-info.sha256").String()
	if hash == "" {
		return sandboxbridge.SubmissionID{}, w.submitError("no sha256 in response", nil)
	}
	return sandboxbridge.NewSubmissionID(w.Name(), hash), nil
}

// IsComplete maps the verdict code: any verdict means complete, -100 is
// pending and the other negative codes are rejections.
func (w *WildFireAdapter) IsComplete(ctx context.Context, id sandboxbridge.SubmissionID) (bool, error) {
	if err := id.Check(w.Name()); err != nil {
		return false, err
	}
	resp, err := w.post(ctx, "/get/verdict", url.Values{"hash": {id.Value}})
	if err != nil {
		return false, err
	}
	if !resp.OK() {
		return false, w.stateError(id, sandboxbridge.APIError(resp))
	}
	data, err := w.decode(resp)
	if err != nil {
		return false, w.stateError(id, err)
	}

	raw := gjson.GetBytes(data, "wildfire.get-verdict-info.verdict").String()
	return verdictStatus(raw).Resolve(w.Name(), id)
}

func verdictStatus(raw string) sandboxbridge.Status {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return sandboxbridge.Rejected(raw, sandboxbridge.ErrMalformedStatus)
	}
	switch {
	case v >= 0:
		return sandboxbridge.Complete(raw)
	case v == wildFirePending:
		return sandboxbridge.Pending(raw)
	case v == wildFireFailed:
		return sandboxbridge.Rejected(raw, sandboxbridge.ErrProcessingFailed)
	case v == wildFireUnknownSample:
		return sandboxbridge.Rejected(raw, sandboxbridge.ErrUnknownSubmission)
	case v == wildFireInvalidHash:
		return sandboxbridge.Rejected(raw, sandboxbridge.ErrInvalidSubmissionID)
	}
	return sandboxbridge.Rejected(raw, sandboxbridge.ErrMalformedStatus)
}

// FetchReport retrieves the XML report as JSON, or the PDF rendering raw.
func (w *WildFireAdapter) FetchReport(ctx context.Context, id sandboxbridge.SubmissionID, format string) (*sandboxbridge.Report, error) {
	if err := id.Check(w.Name()); err != nil {
		return nil, err
	}
	format = formatOrDefault(format)
	var wire string
	switch format {
	case "json", "xml":
		wire = "xml"
	case "pdf":
		wire = "pdf"
	default:
		return nil, w.formatError(format, nil)
	}

	resp, err := w.post(ctx, "/get/report", url.Values{"hash": {id.Value}, "format": {wire}})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, sandboxbridge.APIError(resp)
	}
	if wire == "pdf" {
		return sandboxbridge.RawReport(format, resp.Data), nil
	}
	data, err := w.decode(resp)
	if err != nil {
		return nil, err
	}
	return sandboxbridge.JSONReport(format, data), nil
}

// Score maps the report verdict: malware 8, phishing 5, grayware 2. Any
// other verdict code is returned as is, so benign scores 0.
func (w *WildFireAdapter) Score(report *sandboxbridge.Report) (float64, error) {
	if v := report.Get("wildfire.file_info.verdict"); v.Exists() {
		if n, err := strconv.Atoi(strings.TrimSpace(v.String())); err == nil {
			return verdictScore(n), nil
		}
	}
	switch strings.ToLower(report.Get("wildfire.file_info.malware").String()) {
	case "yes":
		return verdictScore(wildFireMalware), nil
	case "grayware":
		return verdictScore(wildFireGrayware), nil
	case "phishing":
		return verdictScore(wildFirePhishing), nil
	}
	return verdictScore(wildFireBenign), nil
}

func verdictScore(v int) float64 {
	switch v {
	case wildFireMalware:
		return 8
	case wildFireGrayware:
		return 2
	case wildFirePhishing:
		return 5
	}
	return float64(v)
}
