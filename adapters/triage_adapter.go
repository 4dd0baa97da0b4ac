package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const (
	TriageName           = "triage"
	TriageDefaultURL     = "https://api.tria.ge"
	TriageDefaultAPIPath = "/v0"
	triageBaseScore      = 1
)

// TriageAdapter talks to the Hatching Triage API. Every answer must be JSON;
// an object carrying "error" is the API's error envelope.
type TriageAdapter struct {
	base
}

// NewTriageAdapter uses TriageDefaultURL and TriageDefaultAPIPath for empty
// arguments. Private instances live under their own host.
func NewTriageAdapter(apiKey, url, apiPath string, cfg *sandboxbridge.ProviderConfig) (*TriageAdapter, error) {
	if url == "" {
		url = TriageDefaultURL
	}
	if apiPath == "" {
		apiPath = TriageDefaultAPIPath
	}
	b, err := newBase(TriageName, trimSlash(url)+apiPath, cfg)
	if err != nil {
		return nil, err
	}
	b.auth = sandboxbridge.NewBearerToken(apiKey)
	b.probe = &sandboxbridge.NormalizedRequest{Method: http.MethodGet, Endpoint: "/samples"}
	b.accept = func(resp *sandboxbridge.NormalizedResponse) bool {
		body, ok := jsonBody(resp)
		return ok && resp.OK() && !body.Get("error").Exists()
	}
	return &TriageAdapter{base: b}, nil
}

// decode validates a response against the Triage envelope.
func (tr *TriageAdapter) decode(resp *sandboxbridge.NormalizedResponse) (gjson.Result, error) {
	body, ok := jsonBody(resp)
	if !ok {
		return gjson.Result{}, &sandboxbridge.TransportError{
			URL: resp.URL, Status: resp.StatusCode, Body: resp.Data,
			Err: fmt.Errorf("%w: non JSON response", sandboxbridge.ErrAPI),
		}
	}
	if e := body.Get("error"); e.Exists() {
		return gjson.Result{}, &sandboxbridge.TransportError{
			URL: resp.URL, Status: resp.StatusCode, Body: resp.Data,
			Err: fmt.Errorf("%w: %s - %s", sandboxbridge.ErrAPI, e.String(), body.Get("message").String()),
		}
	}
	return body, nil
}

func (tr *TriageAdapter) Submit(ctx context.Context, content io.ReadSeeker, filename string) (sandboxbridge.SubmissionID, error) {
	req := upload("/samples", "file", content, filename)
	req.Params = url.Values{"_json": {`{"kind":"file","interactive":false}`}}

	resp, err := tr.do(ctx, req)
	if err != nil {
		return sandboxbridge.SubmissionID{}, err
	}
	body, err := tr.decode(resp)
	if err != nil {
		return sandboxbridge.SubmissionID{}, tr.submitError("rejected", err)
	}
	if body.Get("id").String() == "" {
		return sandboxbridge.SubmissionID{}, tr.submitError("no sample id in response", nil)
	}
	return sandboxbridge.NewSubmissionID(tr.Name(), body.Get("id").String()), nil
}

func (tr *TriageAdapter) IsComplete(ctx context.Context, id sandboxbridge.SubmissionID) (bool, error) {
	if err := id.Check(tr.Name()); err != nil {
		return false, err
	}
	resp, err := tr.get(ctx, "/samples/"+id.Value+"/status")
	if err != nil {
		return false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return sandboxbridge.NotVisible().Resolve(tr.Name(), id)
	}
	body, err := tr.decode(resp)
	if err != nil {
		return false, err
	}

	var st sandboxbridge.Status
	status := body.Get("status")
	switch {
	case !status.Exists():
		st = sandboxbridge.Rejected("", fmt.Errorf("%w: no status returned", sandboxbridge.ErrMalformedStatus))
	case status.String() == "reported":
		st = sandboxbridge.Complete("reported")
	default:
		st = sandboxbridge.Pending(status.String())
	}
	return st.Resolve(tr.Name(), id)
}

// FetchReport returns the sample summary. Only json is supported.
func (tr *TriageAdapter) FetchReport(ctx context.Context, id sandboxbridge.SubmissionID, format string) (*sandboxbridge.Report, error) {
	if err := id.Check(tr.Name()); err != nil {
		return nil, err
	}
	format = formatOrDefault(format)
	if format != "json" {
		return nil, tr.formatError(format, nil)
	}
	resp, err := tr.get(ctx, "/samples/"+id.Value+"/summary")
	if err != nil {
		return nil, err
	}
	body, err := tr.decode(resp)
	if err != nil {
		return nil, err
	}
	return sandboxbridge.JSONReport(format, []byte(body.Raw)), nil
}

// FullReport combines the summary with the triage report of every task:
// {"summary": ..., "tasks": {"behavioral1": ...}}. Tasks whose report
// cannot be fetched are left out.
func (tr *TriageAdapter) FullReport(ctx context.Context, id sandboxbridge.SubmissionID) (*sandboxbridge.Report, error) {
	summary, err := tr.FetchReport(ctx, id, "json")
	if err != nil {
		return nil, err
	}

	tasks := map[string]json.RawMessage{}
	for taskID := range summary.Get("tasks").Map() {
		name := strings.TrimPrefix(taskID, id.Value+"-")
		resp, err := tr.get(ctx, "/samples/"+id.Value+"/"+name+"/report_triage.json")
		if err != nil {
			tr.t.Logger().Debug("skipping task report", zap.String("task", name), zap.Error(err))
			continue
		}
		body, err := tr.decode(resp)
		if err != nil {
			tr.t.Logger().Debug("skipping task report", zap.String("task", name), zap.Error(err))
			continue
		}
		tasks[name] = json.RawMessage(body.Raw)
	}

	data, err := json.Marshal(map[string]any{
		"summary": json.RawMessage(summary.Data),
		"tasks":   tasks,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: encode full report: %w", tr.Name(), err)
	}
	return sandboxbridge.JSONReport("json", data), nil
}

// Score is the highest task score, never below the Triage base score of 1.
func (tr *TriageAdapter) Score(report *sandboxbridge.Report) (float64, error) {
	score := float64(triageBaseScore)
	report.Get("tasks").ForEach(func(_, task gjson.Result) bool {
		if s := task.Get("score"); s.Type == gjson.Number && s.Float() > score {
			score = s.Float()
		}
		return true
	})
	return score, nil
}
