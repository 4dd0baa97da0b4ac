// config.go
// ----------
// This file defines the ProviderConfig structure, which carries the settings applied
// uniformly to every request an adapter instance makes: TLS verification, per-scheme
// proxies, client certificates, timeouts, the retry schedule and the logger.
//
// A nil *ProviderConfig is valid everywhere and means "defaults".
package sandboxbridge

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/pkcs12"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = 100 * time.Millisecond
	DefaultTimeout     = 60 * time.Second
)

// ProviderConfig allows per-adapter customization of transport behavior.
type ProviderConfig struct {
	InsecureSkipVerify bool              // verify_ssl=false
	Proxies            map[string]string // scheme -> proxy address, e.g. "https" -> "http://10.10.1.10:1080"

	ClientPKCS12         []byte // optional client certificate bundle
	ClientPKCS12Password string

	Timeout     time.Duration // per attempt; 0 means DefaultTimeout
	MaxAttempts int           // 0 means DefaultMaxAttempts
	BaseBackoff time.Duration // jitter window is [0, 4^attempt * BaseBackoff)
	UserAgent   string

	Logger     *zap.Logger
	HTTPClient *http.Client // overrides everything above except retries and logging
}

func (c *ProviderConfig) maxAttempts() int {
	if c == nil || c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

func (c *ProviderConfig) baseBackoff() time.Duration {
	if c == nil || c.BaseBackoff <= 0 {
		return DefaultBaseBackoff
	}
	return c.BaseBackoff
}

func (c *ProviderConfig) logger() *zap.Logger {
	if c == nil || c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// NewHTTPClient builds the *http.Client described by the config.
func NewHTTPClient(cfg *ProviderConfig) (*http.Client, error) {
	if cfg != nil && cfg.HTTPClient != nil {
		return cfg.HTTPClient, nil
	}
	if cfg == nil {
		cfg = &ProviderConfig{}
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec // opt-in per sandbox

	if len(cfg.ClientPKCS12) > 0 {
		cert, err := LoadPKCS12(cfg.ClientPKCS12, cfg.ClientPKCS12Password)
		if err != nil {
			return nil, err
		}
		tr.TLSClientConfig.Certificates = []tls.Certificate{cert}
	}

	if len(cfg.Proxies) > 0 {
		proxies := make(map[string]*url.URL, len(cfg.Proxies))
		for scheme, raw := range cfg.Proxies {
			u, err := url.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid %s proxy %q: %w", scheme, raw, err)
			}
			proxies[scheme] = u
		}
		tr.Proxy = func(req *http.Request) (*url.URL, error) {
			if u, ok := proxies[req.URL.Scheme]; ok {
				return u, nil
			}
			return http.ProxyFromEnvironment(req)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

// LoadPKCS12 decodes a PKCS#12 bundle holding one certificate and its key.
func LoadPKCS12(data []byte, password string) (tls.Certificate, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode client certificate: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}
