package adapters

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const (
	OPSWATName       = "opswat"
	OPSWATDefaultURL = "https://www.filescan.io"
)

// opswatReportFilters selects the report sections scoring and triage need.
var opswatReportFilters = []string{
	"general",
	"finalVerdict",
	"allTags",
	"overallState",
	"taskReference",
	"subtaskReferences",
	"allSignalGroups",
}

// OPSWATAdapter talks to the OPSWAT Filescan sandbox.
type OPSWATAdapter struct {
	base
	Private         bool   // hide submissions from the public feed
	ArchivePassword string // password for encrypted archive submissions

	apiKey string
}

func NewOPSWATAdapter(apiKey, url string, cfg *sandboxbridge.ProviderConfig) (*OPSWATAdapter, error) {
	if url == "" {
		url = OPSWATDefaultURL
	}
	b, err := newBase(OPSWATName, url, cfg)
	if err != nil {
		return nil, err
	}
	b.auth = sandboxbridge.StaticHeaders{"X-Api-Key": apiKey}
	b.probe = &sandboxbridge.NormalizedRequest{Method: http.MethodGet, Endpoint: "/api/users/me"}
	b.accept = sandboxbridge.ExpectStatus(http.StatusOK)
	return &OPSWATAdapter{base: b, apiKey: apiKey}, nil
}

func (o *OPSWATAdapter) Submit(ctx context.Context, content io.ReadSeeker, filename string) (sandboxbridge.SubmissionID, error) {
	if o.apiKey == "" {
		return sandboxbridge.SubmissionID{}, o.submitError("missing api key", sandboxbridge.ErrMissingCredential)
	}
	req := upload("/api/scan/file", "file", content, filename)
	req.Params = url.Values{"is_private": {strconv.FormatBool(o.Private)}}
	if o.ArchivePassword != "" {
		req.Params.Set("password", o.ArchivePassword)
	}

	resp, err := o.do(ctx, req)
	if err != nil {
		return sandboxbridge.SubmissionID{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return sandboxbridge.SubmissionID{}, o.submitError("unexpected response", sandboxbridge.APIError(resp))
	}
	body, ok := jsonBody(resp)
	if !ok || body.Get("flow_id").String() == "" {
		return sandboxbridge.SubmissionID{}, o.submitError("no flow id in response", nil)
	}
	return sandboxbridge.NewSubmissionID(o.Name(), body.Get("flow_id").String()), nil
}

func (o *OPSWATAdapter) IsComplete(ctx context.Context, id sandboxbridge.SubmissionID) (bool, error) {
	if err := id.Check(o.Name()); err != nil {
		return false, err
	}
	resp, err := o.get(ctx, "/api/scan/"+id.Value+"/report")
	if err != nil {
		return false, err
	}

	var st sandboxbridge.Status
	body, ok := jsonBody(resp)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		st = sandboxbridge.NotVisible()
	case !ok:
		st = sandboxbridge.Rejected("", sandboxbridge.ErrMalformedStatus)
	case body.Get("allFinished").Bool():
		st = sandboxbridge.Complete("allFinished")
	default:
		st = sandboxbridge.Pending(body.Get("overallState").String())
	}
	return st.Resolve(o.Name(), id)
}

// FetchReport returns the filtered scan report. html yields the placeholder.
func (o *OPSWATAdapter) FetchReport(ctx context.Context, id sandboxbridge.SubmissionID, format string) (*sandboxbridge.Report, error) {
	if err := id.Check(o.Name()); err != nil {
		return nil, err
	}
	format = formatOrDefault(format)
	if format == "html" {
		return sandboxbridge.UnavailableReport(format), nil
	}
	resp, err := o.do(ctx, &sandboxbridge.NormalizedRequest{
		Method:   http.MethodGet,
		Endpoint: "/api/scan/" + id.Value + "/report",
		Params:   url.Values{"filter": opswatReportFilters},
	})
	if err != nil {
		return nil, err
	}
	return sandboxbridge.JSONOrRaw(format, resp.Data), nil
}

// Score is the highest final verdict threat level across reports, scaled to
// 0-100. Negative levels count as 0.
func (o *OPSWATAdapter) Score(report *sandboxbridge.Report) (float64, error) {
	score := 0.0
	report.Get("reports").ForEach(func(_, r gjson.Result) bool {
		if level := r.Get("finalVerdict.threatLevel").Float() * 100; level > score {
			score = level
		}
		return true
	})
	return score, nil
}
