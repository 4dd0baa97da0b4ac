package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const (
	FireEyeName           = "fireeye"
	FireEyeDefaultProfile = "winxp-sp3"
	fireEyeTokenHeader    = "X-FeApi-Token"
)

// FireEyeAdapter talks to the FireEye AX web services API. Every call carries
// a session token obtained from /auth/login with basic credentials; an
// expired session is detected from HTTP 401 or the in-body
// fireeyeapis.httpStatus and renewed once.
type FireEyeAdapter struct {
	base
	Profile string

	username string
	password string
	session  *sandboxbridge.SessionAuth
}

// NewFireEyeAdapter targets the v1.2.0 API, or v1.1.0 for 7.x appliances
// when legacyAPI is set. An empty profile selects winxp-sp3.
func NewFireEyeAdapter(username, password, baseURL, profile string, legacyAPI bool, cfg *sandboxbridge.ProviderConfig) (*FireEyeAdapter, error) {
	version := "v1.2.0"
	if legacyAPI {
		version = "v1.1.0"
	}
	if profile == "" {
		profile = FireEyeDefaultProfile
	}

	b, err := newBase(FireEyeName, trimSlash(baseURL)+"/wsapis/"+version, cfg)
	if err != nil {
		return nil, err
	}
	f := &FireEyeAdapter{base: b, Profile: profile, username: username, password: password}

	f.session = sandboxbridge.NewSessionAuth(fireEyeTokenHeader, f.login)
	f.session.Unauthorized = func(resp *sandboxbridge.NormalizedResponse) bool {
		body, ok := jsonBody(resp)
		return ok && body.Get("fireeyeapis.httpStatus").Int() == http.StatusUnauthorized
	}
	f.auth = sandboxbridge.Chain{sandboxbridge.StaticHeaders{"Accept": "application/json"}, f.session}
	f.probe = &sandboxbridge.NormalizedRequest{Method: http.MethodGet, Endpoint: "/config"}
	f.accept = sandboxbridge.ExpectStatus(http.StatusOK)
	return f, nil
}

func (f *FireEyeAdapter) login(ctx context.Context) (*oauth2.Token, error) {
	resp, err := f.t.Do(ctx, &sandboxbridge.NormalizedRequest{
		Method:    http.MethodPost,
		Endpoint:  "/auth/login",
		Headers:   map[string]string{"Accept": "application/json"},
		BasicAuth: &sandboxbridge.BasicAuth{Username: f.username, Password: f.password},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &sandboxbridge.TransportError{
			URL:    resp.URL,
			Status: resp.StatusCode,
			Body:   resp.Data,
			Err:    fmt.Errorf("%w: can't log in", sandboxbridge.ErrAuthentication),
		}
	}
	return &oauth2.Token{AccessToken: resp.Headers["x-feapi-token"]}, nil
}

func (f *FireEyeAdapter) Submit(ctx context.Context, content io.ReadSeeker, filename string) (sandboxbridge.SubmissionID, error) {
	req := upload("/submissions", "file", content, filename)
	req.Params = url.Values{"options": {fmt.Sprintf(
		`{"application":"0","timeout":"500","priority":"0","profiles":["%s"],"analysistype":"0","force":"true","prefetch":"1"}`,
		f.Profile)}}

	resp, err := f.do(ctx, req)
	if err != nil {
		return sandboxbridge.SubmissionID{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return sandboxbridge.SubmissionID{}, f.submitError("unexpected response", sandboxbridge.APIError(resp))
	}
	body, ok := jsonBody(resp)
	if !ok {
		return sandboxbridge.SubmissionID{}, f.submitError("response is not JSON", nil)
	}
	path := "ID"
	if body.IsArray() {
		path = "0.ID"
	}
	id := body.Get(path)
	if !id.Exists() || id.String() == "" {
		return sandboxbridge.SubmissionID{}, f.submitError("no submission id in response", nil)
	}
	return sandboxbridge.NewSubmissionID(f.Name(), id.String()), nil
}

func (f *FireEyeAdapter) IsComplete(ctx context.Context, id sandboxbridge.SubmissionID) (bool, error) {
	if err := id.Check(f.Name()); err != nil {
		return false, err
	}
	resp, err := f.do(ctx, &sandboxbridge.NormalizedRequest{Method: http.MethodGet, Endpoint: "/submissions/status/" + id.Value})
	if err != nil {
		return false, err
	}

	var st sandboxbridge.Status
	body, ok := jsonBody(resp)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		st = sandboxbridge.NotVisible()
	case !ok || !body.Get("submissionStatus").Exists():
		st = sandboxbridge.Rejected("", sandboxbridge.ErrMalformedStatus)
	case body.Get("submissionStatus").String() == "Done":
		st = sandboxbridge.Complete("Done")
	default:
		st = sandboxbridge.Pending(body.Get("submissionStatus").String())
	}
	return st.Resolve(f.Name(), id)
}

// FetchReport returns the extended results as JSON, or raw when the body is
// not JSON. html has no rendering and yields the placeholder.
func (f *FireEyeAdapter) FetchReport(ctx context.Context, id sandboxbridge.SubmissionID, format string) (*sandboxbridge.Report, error) {
	if err := id.Check(f.Name()); err != nil {
		return nil, err
	}
	format = formatOrDefault(format)
	if format == "html" {
		return sandboxbridge.UnavailableReport(format), nil
	}
	resp, err := f.do(ctx, &sandboxbridge.NormalizedRequest{
		Method:   http.MethodGet,
		Endpoint: "/submissions/results/" + id.Value,
		Params:   url.Values{"info_level": {"extended"}},
	})
	if err != nil {
		return nil, err
	}
	return sandboxbridge.JSONOrRaw(format, resp.Data), nil
}

// Score is 8 when the first alert is of major severity, else 0. A report
// without alerts is a ScoreError.
func (f *FireEyeAdapter) Score(report *sandboxbridge.Report) (float64, error) {
	severity := report.Get("alert.0.severity")
	if !severity.Exists() {
		return 0, &sandboxbridge.ScoreError{Backend: f.Name(), Field: "alert.0.severity", Err: errMissingField}
	}
	if severity.String() == "MAJR" {
		return 8, nil
	}
	return 0, nil
}
