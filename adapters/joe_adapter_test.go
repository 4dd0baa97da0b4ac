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

func joeServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("%s %s: Joe calls are POSTs", r.Method, r.URL.Path)
		}
		if r.URL.Path == "/v2/analysis/submit" {
			if got := uploaded(t, r, "sample"); got != sampleContent {
				t.Errorf("uploaded %q", got)
			}
			if r.FormValue("accept-tac") != "1" {
				t.Errorf("accept-tac = %q", r.FormValue("accept-tac"))
			}
		}
		if r.FormValue("apikey") != "key" {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `{"errors": [{"code": 2, "message": "invalid api key"}]}`)
			return
		}

		switch r.URL.Path {
		case "/v2/server/online":
			io.WriteString(w, `{"data": {"online": true}}`)
		case "/v2/analysis/submit":
			io.WriteString(w, `{"data": {"webids": ["100001"]}}`)
		case "/v2/analysis/info":
			switch r.FormValue("webid") {
			case "100001":
				io.WriteString(w, `{"data": {"status": "Finished"}}`)
			case "100002":
				io.WriteString(w, `{"data": {"status": "running"}}`)
			default:
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"errors": [{"code": 1, "message": "Unknown analysis"}]}`)
			}
		case "/v2/analysis/download":
			switch r.FormValue("type") {
			case "jsonfixed":
				io.WriteString(w, `{"analysis": {"signaturedetections": {"strategy": [{"score": 1}, {"score": 42}]}}}`)
			default:
				io.WriteString(w, `<html></html>`)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestJoeLifecycle(t *testing.T) {
	server := joeServer(t)
	j, err := NewJoeAdapter("key", server.URL, true, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if !j.IsAvailable(ctx) {
		t.Fatal("expected available")
	}
	id, err := j.Submit(ctx, sample(), "test.exe")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id.Value != "100001" {
		t.Errorf("webid = %q", id.Value)
	}

	for value, want := range map[string]bool{"100001": true, "100002": false, "999": false} {
		got, err := j.IsComplete(ctx, sandboxbridge.NewSubmissionID(JoeName, value))
		if err != nil {
			t.Fatalf("IsComplete(%s): %v", value, err)
		}
		if got != want {
			t.Errorf("IsComplete(%s) = %v, want %v", value, got, want)
		}
	}

	report, err := j.FetchReport(ctx, id, "json")
	if err != nil {
		t.Fatalf("FetchReport: %v", err)
	}
	if score, _ := j.Score(report); score != 42 {
		t.Errorf("score = %v, want 42", score)
	}
	if score, _ := j.Score(sandboxbridge.JSONReport("json", []byte(`{"analysis": {}}`))); score != 0 {
		t.Errorf("default score = %v", score)
	}

	var formatErr *sandboxbridge.ReportFormatError
	if _, err := j.FetchReport(ctx, id, "html"); !errors.As(err, &formatErr) {
		t.Errorf("expected ReportFormatError for non-JSON payload, got %v", err)
	}
}

func TestJoeSubmitRejected(t *testing.T) {
	server := joeServer(t)
	j, _ := NewJoeAdapter("wrong", server.URL, true, testConfig())

	_, err := j.Submit(context.Background(), sample(), "test.exe")
	var subErr *sandboxbridge.SubmissionError
	if !errors.As(err, &subErr) || !errors.Is(err, sandboxbridge.ErrAPI) {
		t.Fatalf("expected SubmissionError wrapping ErrAPI, got %v", err)
	}
}

func TestJoeUnreachableIsAnError(t *testing.T) {
	j, _ := NewJoeAdapter("key", "http://127.0.0.1:1", true, testConfig())

	_, err := j.IsComplete(context.Background(), sandboxbridge.NewSubmissionID(JoeName, "1"))
	if !errors.Is(err, sandboxbridge.ErrConnectivity) {
		t.Fatalf("expected ErrConnectivity, got %v", err)
	}
	if j.IsAvailable(context.Background()) {
		t.Error("expected unavailable")
	}
}
