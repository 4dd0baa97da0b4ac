package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const (
	VMRayName       = "vmray"
	VMRayDefaultURL = "https://cloud.vmray.com"
)

// VMRayAdapter talks to the VMRay REST API.
type VMRayAdapter struct {
	base
}

func NewVMRayAdapter(apiKey, url string, cfg *sandboxbridge.ProviderConfig) (*VMRayAdapter, error) {
	if url == "" {
		url = VMRayDefaultURL
	}
	b, err := newBase(VMRayName, trimSlash(url)+"/rest", cfg)
	if err != nil {
		return nil, err
	}
	b.auth = sandboxbridge.StaticHeaders{"Authorization": "api_key " + apiKey}
	b.probe = &sandboxbridge.NormalizedRequest{Method: http.MethodGet, Endpoint: "/system_info"}
	b.accept = sandboxbridge.ExpectStatus(http.StatusOK)
	return &VMRayAdapter{base: b}, nil
}

// Submit supports single-file submissions and returns the first sample id.
func (v *VMRayAdapter) Submit(ctx context.Context, content io.ReadSeeker, filename string) (sandboxbridge.SubmissionID, error) {
	resp, err := v.do(ctx, upload("/sample/submit", "sample_file", content, filename))
	if err != nil {
		return sandboxbridge.SubmissionID{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return sandboxbridge.SubmissionID{}, v.submitError("unexpected response", sandboxbridge.APIError(resp))
	}
	body, ok := jsonBody(resp)
	if !ok {
		return sandboxbridge.SubmissionID{}, v.submitError("response is not JSON", nil)
	}
	if errs := body.Get("data.errors"); errs.IsArray() && len(errs.Array()) > 0 {
		return sandboxbridge.SubmissionID{}, v.submitError("rejected: "+errs.Raw, sandboxbridge.ErrAPI)
	}
	id := body.Get("data.samples.0.sample_id")
	if !id.Exists() {
		return sandboxbridge.SubmissionID{}, v.submitError("no sample id in response", nil)
	}
	return sandboxbridge.NewSubmissionID(v.Name(), id.String()), nil
}

// IsComplete is true once any submission of the sample has finished.
func (v *VMRayAdapter) IsComplete(ctx context.Context, id sandboxbridge.SubmissionID) (bool, error) {
	if err := id.Check(v.Name()); err != nil {
		return false, err
	}
	resp, err := v.get(ctx, "/submission/sample/"+id.Value)
	if err != nil {
		return false, err
	}

	var st sandboxbridge.Status
	body, ok := jsonBody(resp)
	data := body.Get("data")
	switch {
	case resp.StatusCode == http.StatusNotFound:
		st = sandboxbridge.NotVisible()
	case !ok || !data.IsArray():
		st = sandboxbridge.Rejected("", sandboxbridge.ErrMalformedStatus)
	default:
		st = sandboxbridge.Pending("unfinished")
		for _, sub := range data.Array() {
			if sub.Get("submission_finished").Bool() {
				st = sandboxbridge.Complete("finished")
				break
			}
		}
	}
	return st.Resolve(v.Name(), id)
}

// FetchReport picks the analysis with the highest VTI score and returns its
// summary. html yields the placeholder.
func (v *VMRayAdapter) FetchReport(ctx context.Context, id sandboxbridge.SubmissionID, format string) (*sandboxbridge.Report, error) {
	if err := id.Check(v.Name()); err != nil {
		return nil, err
	}
	format = formatOrDefault(format)
	if format == "html" {
		return sandboxbridge.UnavailableReport(format), nil
	}

	resp, err := v.get(ctx, "/analysis/sample/"+id.Value)
	if err != nil {
		return nil, err
	}
	body, ok := jsonBody(resp)
	if !ok || !body.Get("data").IsArray() {
		return nil, v.formatError(format, fmt.Errorf("%w: analysis list", sandboxbridge.ErrMalformedStatus))
	}

	var (
		analysisID = "0"
		top        = -1.0
	)
	body.Get("data").ForEach(func(_, a gjson.Result) bool {
		if s := a.Get("analysis_vti_score").Float(); s > top {
			top = s
			analysisID = a.Get("analysis_id").String()
		}
		return true
	})

	resp, err = v.get(ctx, "/analysis/"+analysisID+"/archive/logs/summary.json")
	if err != nil {
		return nil, err
	}
	return sandboxbridge.JSONOrRaw(format, resp.Data), nil
}

// Score returns vti.vti_score (0-100), defaulting to 0.
func (v *VMRayAdapter) Score(report *sandboxbridge.Report) (float64, error) {
	return numberOr(report, "vti.vti_score", 0), nil
}
