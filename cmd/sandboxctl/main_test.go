package main

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

func cuckooServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/cuckoo/status", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"version": "2.0.7"}`)
	})
	mux.HandleFunc("/tasks/create/file", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"task_id": 7}`)
	})
	mux.HandleFunc("/tasks/view/7", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"task": {"id": 7, "status": "reported"}}`)
	})
	mux.HandleFunc("/tasks/report/7/json", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"info": {"id": 7, "score": 4.5}}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// execute runs the CLI against a config with one Cuckoo sandbox named lab.
func execute(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "sandboxctl.yaml")
	content := "sandboxes:\n  lab:\n    type: cuckoo\n    url: " + serverURL + "\n    max_attempts: 1\n"
	if err := os.WriteFile(cfg, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.exe")
	if err := os.WriteFile(path, []byte("MZ"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAvailable(t *testing.T) {
	server := cuckooServer(t)
	out, err := execute(t, server.URL, "available")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "lab") || !strings.Contains(out, " available") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSubmitCheckScore(t *testing.T) {
	server := cuckooServer(t)

	out, err := execute(t, server.URL, "submit", "lab", writeSample(t))
	if err != nil || strings.TrimSpace(out) != "cuckoo:7" {
		t.Fatalf("submit: %q, %v", out, err)
	}
	out, err = execute(t, server.URL, "check", "lab", "cuckoo:7")
	if err != nil || strings.TrimSpace(out) != "complete" {
		t.Errorf("check: %q, %v", out, err)
	}
	out, err = execute(t, server.URL, "score", "lab", "7")
	if err != nil || strings.TrimSpace(out) != "4.5" {
		t.Errorf("score: %q, %v", out, err)
	}
}

func TestReportYAML(t *testing.T) {
	server := cuckooServer(t)
	out, err := execute(t, server.URL, "report", "lab", "7", "--output", "yaml")
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Info struct {
			Score float64 `yaml:"score"`
		} `yaml:"info"`
	}
	if err := yaml.Unmarshal([]byte(out), &got); err != nil || got.Info.Score != 4.5 {
		t.Errorf("report: %q, %v", out, err)
	}
	reportFlags.output = outputJSON
}

func TestAnalyze(t *testing.T) {
	server := cuckooServer(t)
	out, err := execute(t, server.URL, "analyze", "lab", writeSample(t), "--interval", "1ms", "--timeout", "5s")
	if err != nil {
		t.Fatal(err)
	}
	var got analyzeResult
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "cuckoo:7" || got.State != "reported" || got.Score != 4.5 || got.Polls != 1 {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestUnknownSandbox(t *testing.T) {
	server := cuckooServer(t)
	if _, err := execute(t, server.URL, "check", "missing", "1"); err == nil {
		t.Error("expected an error for an unconfigured sandbox")
	}
}

func TestForeignSubmissionID(t *testing.T) {
	server := cuckooServer(t)
	_, err := execute(t, server.URL, "check", "lab", "falcon:abc")
	if !errors.Is(err, sandboxbridge.ErrForeignSubmission) {
		t.Errorf("expected ErrForeignSubmission, got %v", err)
	}
}
