package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const (
	FalconName          = "falcon"
	FalconDefaultURL    = "https://www.reverse.it/api/v2"
	FalconDefaultEnvID  = 100
	falconUserAgent     = "Falcon Sandbox"
	falconMaliciousRank = 2
)

// FalconAdapter talks to the Falcon Sandbox (Hybrid Analysis) v2 API. The
// api key travels in a header; every request names the analysis
// environment.
type FalconAdapter struct {
	base
	EnvironmentID int
}

// NewFalconAdapter uses FalconDefaultURL when url is empty and
// FalconDefaultEnvID when envID is zero.
func NewFalconAdapter(apiKey, url string, envID int, cfg *sandboxbridge.ProviderConfig) (*FalconAdapter, error) {
	if url == "" {
		url = FalconDefaultURL
	}
	if envID == 0 {
		envID = FalconDefaultEnvID
	}
	b, err := newBase(FalconName, url, cfg)
	if err != nil {
		return nil, err
	}
	b.auth = sandboxbridge.Chain{
		sandboxbridge.StaticHeaders{
			"api-key":    apiKey,
			"User-Agent": falconUserAgent,
			"Accept":     "application/json",
		},
		sandboxbridge.StaticParams{"environment_id": {strconv.Itoa(envID)}},
	}
	b.probe = &sandboxbridge.NormalizedRequest{Method: http.MethodGet, Endpoint: "/system/heartbeat"}
	b.accept = sandboxbridge.ExpectStatus(http.StatusOK)
	return &FalconAdapter{base: b, EnvironmentID: envID}, nil
}

func (f *FalconAdapter) Submit(ctx context.Context, content io.ReadSeeker, filename string) (sandboxbridge.SubmissionID, error) {
	resp, err := f.do(ctx, upload("/submit/file", "file", content, filename))
	if err != nil {
		return sandboxbridge.SubmissionID{}, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return sandboxbridge.SubmissionID{}, sandboxbridge.RateLimitError(resp)
	}
	if resp.StatusCode != http.StatusCreated {
		return sandboxbridge.SubmissionID{}, f.submitError("unexpected response", sandboxbridge.APIError(resp))
	}
	body, ok := jsonBody(resp)
	if !ok || body.Get("job_id").String() == "" {
		return sandboxbridge.SubmissionID{}, f.submitError("no job id in response", nil)
	}
	return sandboxbridge.NewSubmissionID(f.Name(), body.Get("job_id").String()), nil
}

// IsComplete treats both SUCCESS and ERROR as finished: a failed job still
// has a summary to fetch.
func (f *FalconAdapter) IsComplete(ctx context.Context, id sandboxbridge.SubmissionID) (bool, error) {
	if err := id.Check(f.Name()); err != nil {
		return false, err
	}
	resp, err := f.get(ctx, "/report/"+id.Value+"/state")
	if err != nil {
		return false, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return false, sandboxbridge.RateLimitError(resp)
	}

	var st sandboxbridge.Status
	body, ok := jsonBody(resp)
	state := body.Get("state")
	switch {
	case resp.StatusCode == http.StatusNotFound:
		st = sandboxbridge.NotVisible()
	case !ok || !state.Exists():
		st = sandboxbridge.Rejected("", sandboxbridge.ErrMalformedStatus)
	case state.String() == "SUCCESS" || state.String() == "ERROR":
		st = sandboxbridge.Complete(state.String())
	default:
		st = sandboxbridge.Pending(state.String())
	}
	return st.Resolve(f.Name(), id)
}

// FetchReport retrieves the summary. Formats other than json come back as
// text.
func (f *FalconAdapter) FetchReport(ctx context.Context, id sandboxbridge.SubmissionID, format string) (*sandboxbridge.Report, error) {
	return f.fetch(ctx, id, "/report/"+id.Value+"/summary", formatOrDefault(format))
}

// FullReport retrieves the detailed report file in the given format.
func (f *FalconAdapter) FullReport(ctx context.Context, id sandboxbridge.SubmissionID, format string) (*sandboxbridge.Report, error) {
	format = formatOrDefault(format)
	return f.fetch(ctx, id, "/report/"+id.Value+"/file/"+format, format)
}

func (f *FalconAdapter) fetch(ctx context.Context, id sandboxbridge.SubmissionID, endpoint, format string) (*sandboxbridge.Report, error) {
	if err := id.Check(f.Name()); err != nil {
		return nil, err
	}
	resp, err := f.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, sandboxbridge.RateLimitError(resp)
	}
	if format == "json" {
		return sandboxbridge.JSONOrRaw(format, resp.Data), nil
	}
	return sandboxbridge.RawReport(format, resp.Data), nil
}

// QueueSize returns the raw queue-size answer.
func (f *FalconAdapter) QueueSize(ctx context.Context) (string, error) {
	resp, err := f.get(ctx, "/system/queue-size")
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", sandboxbridge.APIError(resp)
	}
	return strings.TrimSpace(string(resp.Data)), nil
}

// Score maps threat_level (0 none, 1 suspicious, 2 malicious) and the
// threat_score confidence (0-100) onto 0-10. Both fields are required.
func (f *FalconAdapter) Score(report *sandboxbridge.Report) (float64, error) {
	level, err := f.intField(report, "threat_level")
	if err != nil {
		return 0, err
	}
	confidence, err := f.intField(report, "threat_score")
	if err != nil {
		return 0, err
	}

	switch {
	case level == falconMaliciousRank && confidence >= 90:
		return 10, nil
	case level == falconMaliciousRank && confidence >= 75:
		return 9, nil
	case level == falconMaliciousRank:
		return 8, nil
	case level == 1 && confidence >= 90:
		return 7, nil
	case level == 1 && confidence >= 75:
		return 6, nil
	case level == 1:
		return 5, nil
	case level == 0 && confidence < 75:
		return 1, nil
	}
	return 0, nil
}

func (f *FalconAdapter) intField(report *sandboxbridge.Report, field string) (int, error) {
	v := report.Get(field)
	switch v.Type {
	case gjson.Number:
		return int(v.Int()), nil
	case gjson.String:
		if n, err := strconv.Atoi(strings.TrimSpace(v.Str)); err == nil {
			return n, nil
		}
		return 0, &sandboxbridge.ScoreError{Backend: f.Name(), Field: field, Err: fmt.Errorf("not an integer: %q", v.Str)}
	}
	return 0, &sandboxbridge.ScoreError{Backend: f.Name(), Field: field, Err: errMissingField}
}
