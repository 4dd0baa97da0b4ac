package adapters

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

func TestCuckooSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tasks/create/file" {
			http.NotFound(w, r)
			return
		}
		if got := uploaded(t, r, "file"); got != sampleContent {
			t.Errorf("uploaded %q, want full sample", got)
		}
		w.Write([]byte(`{"task_id": 1}`))
	}))
	defer server.Close()

	c, err := NewCuckooAdapter(server.URL+"/", testConfig())
	if err != nil {
		t.Fatal(err)
	}
	id, err := c.Submit(context.Background(), sample(), "test.exe")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if diff := cmp.Diff(sandboxbridge.SubmissionID{Backend: "cuckoo", Value: "1"}, id); diff != "" {
		t.Errorf("id mismatch (-want +got):\n%s", diff)
	}
}

func TestCuckooSubmitTaskIDs(t *testing.T) {
	server := newServer(t, map[string]route{
		"POST /tasks/create/file": {body: `{"task_ids": [7, 8]}`},
	}, nil)
	c, _ := NewCuckooAdapter(server.URL, testConfig())

	id, err := c.Submit(context.Background(), sample(), "test.exe")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id.Value != "7" {
		t.Errorf("got %q, want first task id", id.Value)
	}
}

func TestCuckooSubmitWithoutID(t *testing.T) {
	server := newServer(t, map[string]route{
		"POST /tasks/create/file": {body: `{"message": "nope"}`},
	}, nil)
	c, _ := NewCuckooAdapter(server.URL, testConfig())

	_, err := c.Submit(context.Background(), sample(), "test.exe")
	var subErr *sandboxbridge.SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected SubmissionError, got %v", err)
	}
}

func TestCuckooIsComplete(t *testing.T) {
	server := newServer(t, map[string]route{
		"GET /tasks/view/1": {body: `{"task": {"status": "reported"}}`},
		"GET /tasks/view/2": {body: `{"task": {"status": "running"}}`},
		"GET /tasks/view/3": {body: `<html>oops</html>`},
		"GET /tasks/view/4": {body: `{"task": {}}`},
	}, nil)
	c, _ := NewCuckooAdapter(server.URL, testConfig())
	ctx := context.Background()

	tests := []struct {
		id      string
		want    bool
		wantErr bool
	}{
		{"1", true, false},
		{"2", false, false},
		{"3", false, true},
		{"4", false, true},
		{"404", false, false},
	}
	for _, tt := range tests {
		got, err := c.IsComplete(ctx, sandboxbridge.NewSubmissionID(CuckooName, tt.id))
		if (err != nil) != tt.wantErr {
			t.Errorf("id %s: err = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
		if err != nil {
			var sq *sandboxbridge.StateQueryError
			if !errors.As(err, &sq) {
				t.Errorf("id %s: expected StateQueryError, got %T", tt.id, err)
			}
		}
		if got != tt.want {
			t.Errorf("id %s: got %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestCuckooRejectsForeignID(t *testing.T) {
	c, _ := NewCuckooAdapter("http://127.0.0.1:1", testConfig())
	_, err := c.IsComplete(context.Background(), sandboxbridge.NewSubmissionID(JoeName, "1"))
	if !errors.Is(err, sandboxbridge.ErrForeignSubmission) {
		t.Errorf("expected ErrForeignSubmission, got %v", err)
	}
}

func TestCuckooReportAndScore(t *testing.T) {
	server := newServer(t, map[string]route{
		"GET /tasks/report/8/json": {body: `{"info": {"id": 8, "score": 5}}`},
		"GET /tasks/report/8/html": {body: `<html></html>`},
		"GET /tasks/report/9/json": {body: `{"malscore": 7.5, "info": {"score": 5}}`},
	}, nil)
	c, _ := NewCuckooAdapter(server.URL, testConfig())
	ctx := context.Background()

	report, err := c.FetchReport(ctx, sandboxbridge.NewSubmissionID(CuckooName, 8), "")
	if err != nil {
		t.Fatalf("FetchReport: %v", err)
	}
	if !report.Structured || report.Get("info.id").Int() != 8 {
		t.Errorf("unexpected report: %s", report)
	}
	if score, _ := c.Score(report); score != 5 {
		t.Errorf("score = %v, want 5", score)
	}

	html, err := c.FetchReport(ctx, sandboxbridge.NewSubmissionID(CuckooName, 8), "html")
	if err != nil {
		t.Fatalf("FetchReport html: %v", err)
	}
	if html.Structured || html.String() != "<html></html>" {
		t.Errorf("expected raw html, got %+v", html)
	}

	modified, _ := c.FetchReport(ctx, sandboxbridge.NewSubmissionID(CuckooName, 9), "json")
	if score, _ := c.Score(modified); score != 7.5 {
		t.Errorf("malscore = %v, want 7.5", score)
	}
	if score, _ := c.Score(sandboxbridge.JSONReport("json", []byte(`{}`))); score != 0 {
		t.Errorf("default score = %v, want 0", score)
	}
}

func TestCuckooIsAvailableCachesSuccess(t *testing.T) {
	var hits atomic.Int32
	server := newServer(t, map[string]route{
		"GET /cuckoo/status": {body: `{"version": "2.0.7"}`},
	}, &hits)
	c, _ := NewCuckooAdapter(server.URL, testConfig())
	ctx := context.Background()

	if !c.IsAvailable(ctx) {
		t.Fatal("expected available")
	}
	if !c.IsAvailable(ctx) {
		t.Fatal("expected cached availability")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("probe made %d requests, want 1", got)
	}
}

func TestCuckooServerErrorLowersLatch(t *testing.T) {
	server := newServer(t, map[string]route{
		"GET /cuckoo/status": {body: `{}`},
		"GET /tasks/view/1":  {status: http.StatusInternalServerError},
	}, nil)
	c, _ := NewCuckooAdapter(server.URL, testConfig())
	ctx := context.Background()

	if !c.IsAvailable(ctx) {
		t.Fatal("expected available")
	}
	_, err := c.IsComplete(ctx, sandboxbridge.NewSubmissionID(CuckooName, 1))
	if !errors.Is(err, sandboxbridge.ErrServerUnavailable) {
		t.Fatalf("expected ErrServerUnavailable, got %v", err)
	}
	if c.Transport().Availability().Up() {
		t.Error("latch still raised after a 5xx")
	}
}

func TestCuckooQueueSizeAndDelete(t *testing.T) {
	server := newServer(t, map[string]route{
		"GET /tasks/list": {body: `{"tasks": [
			{"id": 1, "status": "pending", "target": "a.exe"},
			{"id": 2, "status": "reported", "target": "b.exe"},
			{"id": 3, "status": "pending", "target": "c.exe"}
		]}`},
		"GET /tasks/delete/2": {body: `{"status": "OK"}`},
	}, nil)
	c, _ := NewCuckooAdapter(server.URL, testConfig())
	ctx := context.Background()

	n, err := c.QueueSize(ctx)
	if err != nil {
		t.Fatalf("QueueSize: %v", err)
	}
	if n != 2 {
		t.Errorf("queue size = %d, want 2", n)
	}
	if !c.Delete(ctx, sandboxbridge.NewSubmissionID(CuckooName, 2)) {
		t.Error("expected delete to succeed")
	}
	if c.Delete(ctx, sandboxbridge.NewSubmissionID(CuckooName, 5)) {
		t.Error("expected delete of unknown task to fail")
	}
}

func TestCuckooLegacyAddressing(t *testing.T) {
	tests := []struct {
		url, path string
		port      int
		want      string
	}{
		{"localhost", "/", 8090, "http://localhost:8090"},
		{"10.0.0.5", "/api/", 8000, "http://10.0.0.5:8000/api"},
		{"https://cuckoo.example/api/", "/ignored", 1, "https://cuckoo.example/api"},
	}
	for _, tt := range tests {
		c, err := NewCuckooHostAdapter(tt.url, tt.port, tt.path, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got := c.Transport().BaseURL(); got != tt.want {
			t.Errorf("%s: base = %q, want %q", tt.url, got, tt.want)
		}
	}
}
