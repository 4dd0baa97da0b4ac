package adapters

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

func TestVMRaySubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "api_key key" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.URL.Path != "/rest/sample/submit" {
			http.NotFound(w, r)
			return
		}
		if got := uploaded(t, r, "sample_file"); got != sampleContent {
			t.Errorf("uploaded %q", got)
		}
		io.WriteString(w, `{"data": {"errors": [], "samples": [{"sample_id": 1169850}]}, "result": "ok"}`)
	}))
	defer server.Close()

	v, err := NewVMRayAdapter("key", server.URL, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	id, err := v.Submit(context.Background(), sample(), "test.exe")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id.Value != "1169850" {
		t.Errorf("id = %q", id.Value)
	}
}

func TestVMRaySubmitErrors(t *testing.T) {
	server := newServer(t, map[string]route{
		"POST /rest/sample/submit": {body: `{"data": {"errors": [{"error_msg": "Submission rejected"}], "samples": []}}`},
	}, nil)
	v, _ := NewVMRayAdapter("key", server.URL, testConfig())

	_, err := v.Submit(context.Background(), sample(), "test.exe")
	var subErr *sandboxbridge.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
}

func TestVMRayIsComplete(t *testing.T) {
	server := newServer(t, map[string]route{
		"GET /rest/submission/sample/1": {body: `{"data": [{"submission_finished": false}, {"submission_finished": true}]}`},
		"GET /rest/submission/sample/2": {body: `{"data": [{"submission_finished": false}]}`},
		"GET /rest/submission/sample/3": {body: `{"result": "ok"}`},
	}, nil)
	v, _ := NewVMRayAdapter("key", server.URL, testConfig())
	ctx := context.Background()

	for value, want := range map[string]bool{"1": true, "2": false, "404": false} {
		got, err := v.IsComplete(ctx, sandboxbridge.NewSubmissionID(VMRayName, value))
		if err != nil {
			t.Fatalf("IsComplete(%s): %v", value, err)
		}
		if got != want {
			t.Errorf("IsComplete(%s) = %v, want %v", value, got, want)
		}
	}
	_, err := v.IsComplete(ctx, sandboxbridge.NewSubmissionID(VMRayName, 3))
	if !errors.Is(err, sandboxbridge.ErrMalformedStatus) {
		t.Errorf("expected ErrMalformedStatus, got %v", err)
	}
}

func TestVMRayReportPicksHighestScore(t *testing.T) {
	server := newServer(t, map[string]route{
		"GET /rest/analysis/sample/1169850": {body: `{"data": [
			{"analysis_id": 1097120, "analysis_vti_score": 5},
			{"analysis_id": 1097123, "analysis_vti_score": 20},
			{"analysis_id": 1097125, "analysis_vti_score": 15}
		]}`},
		"GET /rest/analysis/1097123/archive/logs/summary.json": {body: `{"vti": {"vti_score": 20}}`},
	}, nil)
	v, _ := NewVMRayAdapter("key", server.URL, testConfig())
	ctx := context.Background()
	id := sandboxbridge.NewSubmissionID(VMRayName, 1169850)

	report, err := v.FetchReport(ctx, id, "json")
	if err != nil {
		t.Fatalf("FetchReport: %v", err)
	}
	if score, _ := v.Score(report); score != 20 {
		t.Errorf("score = %v, want 20", score)
	}
	if score, _ := v.Score(sandboxbridge.JSONReport("json", []byte(`{}`))); score != 0 {
		t.Errorf("default score = %v", score)
	}

	html, err := v.FetchReport(ctx, id, "html")
	if err != nil || !html.Placeholder {
		t.Errorf("expected placeholder, got %+v, %v", html, err)
	}
}

func TestVMRayReportMalformedAnalysisList(t *testing.T) {
	server := newServer(t, map[string]route{
		"GET /rest/analysis/sample/7": {body: `{"data": {"analysis_id": 1}}`},
	}, nil)
	v, _ := NewVMRayAdapter("key", server.URL, testConfig())

	_, err := v.FetchReport(context.Background(), sandboxbridge.NewSubmissionID(VMRayName, 7), "json")
	var formatErr *sandboxbridge.ReportFormatError
	if !errors.As(err, &formatErr) || !errors.Is(err, sandboxbridge.ErrMalformedStatus) {
		t.Errorf("expected ReportFormatError wrapping ErrMalformedStatus, got %v", err)
	}
	var stateErr *sandboxbridge.StateQueryError
	if errors.As(err, &stateErr) {
		t.Errorf("report errors must not be StateQueryErrors: %v", err)
	}
}
