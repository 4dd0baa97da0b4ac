package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const (
	JoeName       = "joe"
	JoeDefaultURL = "https://jbxcloud.joesecurity.org/api"
)

// JoeAdapter talks to the Joe Sandbox REST v2 API. Every call is a form POST
// carrying the api key.
type JoeAdapter struct {
	base
	AcceptTAC bool
}

// NewJoeAdapter uses JoeDefaultURL when url is empty. acceptTAC declares
// acceptance of the cloud terms and conditions on every submission.
func NewJoeAdapter(apiKey, url string, acceptTAC bool, cfg *sandboxbridge.ProviderConfig) (*JoeAdapter, error) {
	if url == "" {
		url = JoeDefaultURL
	}
	b, err := newBase(JoeName, url, cfg)
	if err != nil {
		return nil, err
	}
	b.auth = sandboxbridge.StaticParams{"apikey": {apiKey}}
	b.probe = &sandboxbridge.NormalizedRequest{Method: http.MethodPost, Endpoint: "/v2/server/online"}
	b.accept = func(resp *sandboxbridge.NormalizedResponse) bool {
		body, ok := jsonBody(resp)
		return ok && resp.OK() && body.Get("data.online").Bool()
	}
	return &JoeAdapter{base: b, AcceptTAC: acceptTAC}, nil
}

func (j *JoeAdapter) post(ctx context.Context, endpoint string, params url.Values) (*sandboxbridge.NormalizedResponse, error) {
	return j.do(ctx, &sandboxbridge.NormalizedRequest{Method: http.MethodPost, Endpoint: endpoint, Params: params})
}

// apiError returns the error described by a Joe error envelope, or nil when
// the response is a success.
func (j *JoeAdapter) apiError(resp *sandboxbridge.NormalizedResponse) error {
	body, ok := jsonBody(resp)
	if ok && body.Get("errors").Exists() {
		msgs := make([]string, 0)
		body.Get("errors.#.message").ForEach(func(_, v gjson.Result) bool {
			msgs = append(msgs, v.String())
			return true
		})
		return fmt.Errorf("%w: %s", sandboxbridge.ErrAPI, strings.Join(msgs, "; "))
	}
	if !resp.OK() {
		return sandboxbridge.APIError(resp)
	}
	return nil
}

func (j *JoeAdapter) Submit(ctx context.Context, content io.ReadSeeker, filename string) (sandboxbridge.SubmissionID, error) {
	tac := "0"
	if j.AcceptTAC {
		tac = "1"
	}
	req := upload("/v2/analysis/submit", "sample", content, filename)
	req.Params = url.Values{"accept-tac": {tac}}

	resp, err := j.do(ctx, req)
	if err != nil {
		return sandboxbridge.SubmissionID{}, err
	}
	if err := j.apiError(resp); err != nil {
		return sandboxbridge.SubmissionID{}, j.submitError("rejected", err)
	}
	body, _ := jsonBody(resp)
	webid := body.Get("data.webids.0")
	if webid.String() == "" {
		return sandboxbridge.SubmissionID{}, j.submitError("no webid in response", nil)
	}
	return sandboxbridge.NewSubmissionID(j.Name(), webid.String()), nil
}

// IsComplete reports false for ids the API answers with an error envelope.
// Transport failures are returned.
func (j *JoeAdapter) IsComplete(ctx context.Context, id sandboxbridge.SubmissionID) (bool, error) {
	if err := id.Check(j.Name()); err != nil {
		return false, err
	}
	resp, err := j.post(ctx, "/v2/analysis/info", url.Values{"webid": {id.Value}})
	if err != nil {
		return false, err
	}

	var st sandboxbridge.Status
	if apiErr := j.apiError(resp); apiErr != nil {
		j.t.Logger().Debug("analysis info rejected: " + apiErr.Error())
		st = sandboxbridge.NotVisible()
	} else {
		body, _ := jsonBody(resp)
		status := body.Get("data.status")
		switch {
		case !status.Exists():
			st = sandboxbridge.Rejected("", sandboxbridge.ErrMalformedStatus)
		case strings.EqualFold(status.String(), "finished"):
			st = sandboxbridge.Complete(status.String())
		default:
			st = sandboxbridge.Pending(status.String())
		}
	}
	return st.Resolve(j.Name(), id)
}

// FetchReport downloads the report of the given type; json maps to the
// jsonfixed rendering. The payload must parse as JSON.
func (j *JoeAdapter) FetchReport(ctx context.Context, id sandboxbridge.SubmissionID, format string) (*sandboxbridge.Report, error) {
	if err := id.Check(j.Name()); err != nil {
		return nil, err
	}
	format = formatOrDefault(format)
	kind := format
	if kind == "json" {
		kind = "jsonfixed"
	}
	resp, err := j.post(ctx, "/v2/analysis/download", url.Values{"webid": {id.Value}, "type": {kind}})
	if err != nil {
		return nil, err
	}
	if err := j.apiError(resp); err != nil {
		return nil, fmt.Errorf("%s: report fetch: %w", j.Name(), err)
	}
	if !gjson.ValidBytes(resp.Data) {
		return nil, j.formatError(format, fmt.Errorf("report is not JSON"))
	}
	return sandboxbridge.JSONReport(format, resp.Data), nil
}

// Score reads the score of the second detection strategy, defaulting to 0.
func (j *JoeAdapter) Score(report *sandboxbridge.Report) (float64, error) {
	return numberOr(report, "analysis.signaturedetections.strategy.1.score", 0), nil
}
