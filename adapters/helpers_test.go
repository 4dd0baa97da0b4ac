package adapters

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
)

const sampleContent = "MZ\x90\x00sample"

func testConfig() *sandboxbridge.ProviderConfig {
	return &sandboxbridge.ProviderConfig{MaxAttempts: 1, BaseBackoff: time.Millisecond, Timeout: 5 * time.Second}
}

// sample returns a stream positioned at its end, so tests also cover the
// rewind before upload.
func sample() io.ReadSeeker {
	r := strings.NewReader(sampleContent)
	r.Seek(0, io.SeekEnd)
	return r
}

// uploaded returns the content of a multipart file field.
func uploaded(t *testing.T, r *http.Request, field string) string {
	t.Helper()
	f, _, err := r.FormFile(field)
	if err != nil {
		t.Errorf("form file %s: %v", field, err)
		return ""
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	return string(data)
}

type route struct {
	status int
	body   string
	header map[string]string
}

// newServer serves fixed responses keyed by "METHOD /path" and counts hits.
func newServer(t *testing.T, routes map[string]route, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		rt, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		for k, v := range rt.header {
			w.Header().Set(k, v)
		}
		if rt.status != 0 {
			w.WriteHeader(rt.status)
		}
		io.WriteString(w, rt.body)
	}))
	t.Cleanup(server.Close)
	return server
}
