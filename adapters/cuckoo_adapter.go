package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const (
	CuckooName        = "cuckoo"
	CuckooDefaultPort = 8090
)

// CuckooTask is one entry of the task list.
type CuckooTask struct {
	ID     int      `json:"id"`
	Status string   `json:"status"`
	Target string   `json:"target"`
	Tags   []string `json:"tags"`
}

// CuckooAdapter talks to the Cuckoo REST API. It needs no credentials.
type CuckooAdapter struct {
	base
}

// NewCuckooAdapter accepts a full API URL. A value without an http(s) scheme
// is treated as a bare host and addressed as http://host:8090/. A nil cfg
// disables certificate verification, as Cuckoo installs are usually
// self-signed.
func NewCuckooAdapter(url string, cfg *sandboxbridge.ProviderConfig) (*CuckooAdapter, error) {
	return NewCuckooHostAdapter(url, CuckooDefaultPort, "/", cfg)
}

// NewCuckooHostAdapter supports the legacy host/port/path addressing. port
// and apiPath are ignored when url is already a full URL.
func NewCuckooHostAdapter(url string, port int, apiPath string, cfg *sandboxbridge.ProviderConfig) (*CuckooAdapter, error) {
	apiURL := url
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		apiURL = "http://" + url + ":" + strconv.Itoa(port) + apiPath
	}
	if cfg == nil {
		cfg = &sandboxbridge.ProviderConfig{InsecureSkipVerify: true}
	}

	b, err := newBase(CuckooName, apiURL, cfg)
	if err != nil {
		return nil, err
	}
	b.probe = &sandboxbridge.NormalizedRequest{Method: http.MethodGet, Endpoint: "/cuckoo/status"}
	b.accept = sandboxbridge.ExpectStatus(http.StatusOK)
	return &CuckooAdapter{base: b}, nil
}

func (c *CuckooAdapter) Submit(ctx context.Context, content io.ReadSeeker, filename string) (sandboxbridge.SubmissionID, error) {
	resp, err := c.do(ctx, upload("/tasks/create/file", "file", content, filename))
	if err != nil {
		return sandboxbridge.SubmissionID{}, err
	}
	if !resp.OK() {
		return sandboxbridge.SubmissionID{}, c.submitError("unexpected response", sandboxbridge.APIError(resp))
	}
	body, ok := jsonBody(resp)
	if !ok {
		return sandboxbridge.SubmissionID{}, c.submitError("response is not JSON", nil)
	}

	// v1.3 answers task_id, v2.0 answers task_ids.
	id := body.Get("task_id")
	if !id.Exists() {
		id = body.Get("task_ids.0")
	}
	if !id.Exists() || id.String() == "" {
		return sandboxbridge.SubmissionID{}, c.submitError("no task id in response", nil)
	}
	return sandboxbridge.NewSubmissionID(c.Name(), id.String()), nil
}

func (c *CuckooAdapter) IsComplete(ctx context.Context, id sandboxbridge.SubmissionID) (bool, error) {
	if err := id.Check(c.Name()); err != nil {
		return false, err
	}
	st, err := c.status(ctx, id)
	if err != nil {
		return false, err
	}
	return st.Resolve(c.Name(), id)
}

func (c *CuckooAdapter) status(ctx context.Context, id sandboxbridge.SubmissionID) (sandboxbridge.Status, error) {
	resp, err := c.get(ctx, "/tasks/view/"+id.Value)
	if err != nil {
		return sandboxbridge.Status{}, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return sandboxbridge.NotVisible(), nil
	}
	body, ok := jsonBody(resp)
	if !ok {
		return sandboxbridge.Rejected("", sandboxbridge.ErrMalformedStatus), nil
	}
	status := body.Get("task.status")
	if !status.Exists() {
		return sandboxbridge.Rejected("", sandboxbridge.ErrMalformedStatus), nil
	}
	switch status.String() {
	case "completed", "reported":
		return sandboxbridge.Complete(status.String()), nil
	default:
		return sandboxbridge.Pending(status.String()), nil
	}
}

// FetchReport supports json, html, all, dropped and package_files. JSON that
// does not parse is returned raw.
func (c *CuckooAdapter) FetchReport(ctx context.Context, id sandboxbridge.SubmissionID, format string) (*sandboxbridge.Report, error) {
	if err := id.Check(c.Name()); err != nil {
		return nil, err
	}
	format = formatOrDefault(format)
	resp, err := c.get(ctx, fmt.Sprintf("/tasks/report/%s/%s", id.Value, format))
	if err != nil {
		return nil, err
	}
	if format == "json" {
		return sandboxbridge.JSONOrRaw(format, resp.Data), nil
	}
	return sandboxbridge.RawReport(format, resp.Data), nil
}

// Score reads malscore (cuckoo-modified), then info.score (cuckoo 2.0).
func (c *CuckooAdapter) Score(report *sandboxbridge.Report) (float64, error) {
	if v := report.Get("malscore"); v.Exists() {
		return v.Float(), nil
	}
	return numberOr(report, "info.score", 0), nil
}

// Analyses lists every task known to the sandbox.
func (c *CuckooAdapter) Analyses(ctx context.Context) ([]CuckooTask, error) {
	resp, err := c.get(ctx, "/tasks/list")
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, sandboxbridge.APIError(resp)
	}
	var out struct {
		Tasks []CuckooTask `json:"tasks"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("%s: decode task list: %w", c.Name(), err)
	}
	return out.Tasks, nil
}

// QueueSize counts pending tasks.
func (c *CuckooAdapter) QueueSize(ctx context.Context) (int, error) {
	tasks, err := c.Analyses(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range tasks {
		if t.Status == "pending" {
			n++
		}
	}
	return n, nil
}

// Delete removes a task and its report. Failures are reported as false.
func (c *CuckooAdapter) Delete(ctx context.Context, id sandboxbridge.SubmissionID) bool {
	if id.Check(c.Name()) != nil {
		return false
	}
	resp, err := c.get(ctx, "/tasks/delete/"+id.Value)
	if err != nil {
		c.t.Logger().Debug("delete failed", zap.Error(err))
		return false
	}
	return resp.StatusCode == http.StatusOK
}
