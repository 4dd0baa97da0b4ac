package sandboxbridge

import (
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestNewHTTPClient(t *testing.T) {
	client, err := NewHTTPClient(&ProviderConfig{
		InsecureSkipVerify: true,
		Proxies:            map[string]string{"https": "http://10.10.1.10:1080"},
		Timeout:            5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", client.Timeout)
	}
	tr := client.Transport.(*http.Transport)
	if !tr.TLSClientConfig.InsecureSkipVerify {
		t.Error("expected certificate verification to be disabled")
	}

	proxy, err := tr.Proxy(&http.Request{URL: &url.URL{Scheme: "https", Host: "cuckoo.example"}})
	if err != nil || proxy == nil || proxy.Host != "10.10.1.10:1080" {
		t.Errorf("https proxy = %v, %v", proxy, err)
	}
}

func TestNewHTTPClientDefaults(t *testing.T) {
	client, err := NewHTTPClient(nil)
	if err != nil {
		t.Fatal(err)
	}
	if client.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v", client.Timeout)
	}
	if client.Transport.(*http.Transport).TLSClientConfig.InsecureSkipVerify {
		t.Error("certificates must be verified by default")
	}

	var cfg *ProviderConfig
	if cfg.maxAttempts() != DefaultMaxAttempts || cfg.baseBackoff() != DefaultBaseBackoff {
		t.Error("nil config must fall back to defaults")
	}
}

func TestNewHTTPClientOverride(t *testing.T) {
	own := &http.Client{}
	client, err := NewHTTPClient(&ProviderConfig{HTTPClient: own, InsecureSkipVerify: true})
	if err != nil || client != own {
		t.Errorf("expected the supplied client, got %v, %v", client, err)
	}
}

func TestNewHTTPClientErrors(t *testing.T) {
	if _, err := NewHTTPClient(&ProviderConfig{Proxies: map[string]string{"http": "://bad"}}); err == nil {
		t.Error("expected an invalid proxy to fail")
	}
	if _, err := NewHTTPClient(&ProviderConfig{ClientPKCS12: []byte("not a bundle")}); err == nil {
		t.Error("expected an invalid client certificate to fail")
	}
}
