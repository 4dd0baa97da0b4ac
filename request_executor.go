// request_executor.go
// --------------------
// Transport is the shared resilient executor every sandbox adapter composes. It turns a
// NormalizedRequest into an HTTP call against the adapter's base address and handles:
//
// - Up to MaxAttempts attempts on connectivity failures (DNS, refused, timeouts), sleeping
//   a random duration drawn from [0, 4^attempt * BaseBackoff) after each failure.
// - Fail-fast on any 5xx: the availability latch is lowered and a TransportError returned
//   without consuming further attempts.
// - Lowering the availability latch after exhausting attempts. Transport never raises it;
//   only Probe does, after a response the adapter accepts.
// - Returning every other response (2xx-4xx) untouched for the adapter to interpret.
// - One bounded re-authentication round for Reauthenticators (DoAuthorized).
package sandboxbridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxReauth bounds re-authentication to one extra attempt per call.
const maxReauth = 1

type Transport struct {
	name        string
	baseURL     string
	client      *http.Client
	maxAttempts int
	baseBackoff time.Duration
	userAgent   string

	availability *Availability
	rateLimiter  *RateLimiter
	logger       *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(window time.Duration) time.Duration
}

// NewTransport builds the executor for one adapter instance. name scopes log
// lines and rate limit bookkeeping; baseURL is prefixed verbatim to every
// endpoint.
func NewTransport(name, baseURL string, cfg *ProviderConfig) (*Transport, error) {
	client, err := NewHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	var userAgent string
	if cfg != nil {
		userAgent = cfg.UserAgent
	}
	return &Transport{
		name:         name,
		baseURL:      baseURL,
		client:       client,
		maxAttempts:  cfg.maxAttempts(),
		baseBackoff:  cfg.baseBackoff(),
		userAgent:    userAgent,
		availability: &Availability{},
		rateLimiter:  NewRateLimiter(),
		logger:       cfg.logger().With(zap.String("sandbox", name)),
		sleep:        sleepContext,
		jitter:       uniformJitter,
	}, nil
}

func (t *Transport) Name() string { return t.name }
func (t *Transport) BaseURL() string { return t.baseURL }
func (t *Transport) Availability() *Availability { return t.availability }
func (t *Transport) Logger() *zap.Logger { return t.logger }
func (t *Transport) RateLimiter() *RateLimiter { return t.rateLimiter }
func (t *Transport) RateLimitInfo() *NormalizedRateLimitInfo {
	return t.rateLimiter.GetRateLimitInfo(t.name)
}

// Do executes req with retries. See the file comment for the policy.
func (t *Transport) Do(ctx context.Context, req *NormalizedRequest) (*NormalizedResponse, error) {
	fullURL := t.baseURL + req.Endpoint
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	log := t.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("method", method),
		zap.String("url", fullURL),
	)

	var (
		lastErr  error
		lastBody []byte
	)
	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		log.Debug("sending request", zap.Int("attempt", attempt+1))

		httpReq, err := t.buildRequest(ctx, method, fullURL, req)
		if err != nil {
			return nil, &TransportError{URL: fullURL, Params: req.Params, Err: err}
		}

		resp, body, err := t.roundTrip(httpReq)
		if err == nil {
			t.rateLimiter.Observe(t.name, resp)
			if resp.StatusCode >= 500 {
				t.availability.MarkDown()
				log.Warn("server error, assuming unavailable", zap.Int("status", resp.StatusCode))
				return nil, &TransportError{
					URL:    resp.URL,
					Params: req.Params,
					Status: resp.StatusCode,
					Body:   resp.Data,
					Err:    ErrServerUnavailable,
				}
			}
			log.Debug("received response", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(resp.Data)))
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, &TransportError{URL: fullURL, Params: req.Params, Err: ctx.Err()}
		}

		lastErr = err
		if body != nil {
			lastBody = body
		}
		wait := t.jitter(t.backoffWindow(attempt))
		log.Warn("request failed, backing off",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", t.maxAttempts),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if err := t.sleep(ctx, wait); err != nil {
			return nil, &TransportError{URL: fullURL, Params: req.Params, Err: err}
		}
	}

	t.availability.MarkDown()
	log.Warn("exceeded attempts, assuming unavailable", zap.Int("max_attempts", t.maxAttempts))
	return nil, &TransportError{
		URL:    fullURL,
		Params: req.Params,
		Body:   lastBody,
		Err:    fmt.Errorf("%w: exceeded %d attempts: %w", ErrConnectivity, t.maxAttempts, lastErr),
	}
}

// DoAuthorized attaches credentials from auth and executes req. When auth is
// a Reauthenticator and the response shows an expired credential, the
// credential is dropped and the request retried once; a second expiry is
// returned as ErrUnauthorized.
func (t *Transport) DoAuthorized(ctx context.Context, req *NormalizedRequest, auth Authenticator) (*NormalizedResponse, error) {
	if auth == nil {
		return t.Do(ctx, req)
	}
	reauth, canExpire := auth.(Reauthenticator)

	for attempt := 0; ; attempt++ {
		r := req.Clone()
		if err := auth.Authorize(ctx, r); err != nil {
			return nil, err
		}
		resp, err := t.Do(ctx, r)
		if err != nil {
			return nil, err
		}
		if !canExpire || !reauth.Expired(resp) {
			return resp, nil
		}

		reauth.Invalidate()
		if attempt >= maxReauth {
			return nil, &TransportError{
				URL:    resp.URL,
				Params: req.Params,
				Status: resp.StatusCode,
				Body:   resp.Data,
				Err:    ErrUnauthorized,
			}
		}
		t.logger.Info("credential expired, re-authenticating", zap.String("endpoint", req.Endpoint))
	}
}

// Probe is the liveness check behind IsAvailable. A raised latch answers
// without I/O. Otherwise one request is made; accept decides whether the
// response proves the backend is up. Errors are swallowed.
func (t *Transport) Probe(ctx context.Context, req *NormalizedRequest, auth Authenticator, accept func(*NormalizedResponse) bool) bool {
	if t.availability.Up() {
		return true
	}
	resp, err := t.DoAuthorized(ctx, req, auth)
	if err != nil {
		t.logger.Debug("liveness probe failed", zap.Error(err))
		return false
	}
	if accept(resp) {
		t.availability.MarkUp()
		return true
	}
	t.availability.MarkDown()
	t.logger.Debug("liveness probe rejected", zap.Int("status", resp.StatusCode))
	return false
}

// ExpectStatus accepts responses with the given status code.
func ExpectStatus(code int) func(*NormalizedResponse) bool {
	return func(resp *NormalizedResponse) bool { return resp.StatusCode == code }
}

func (t *Transport) backoffWindow(attempt int) time.Duration {
	window := t.baseBackoff
	for i := 0; i < attempt; i++ {
		window *= 4
	}
	return window
}

// roundTrip performs exactly one HTTP exchange. On a body read failure the
// partial body is returned alongside the error.
func (t *Transport) roundTrip(httpReq *http.Request) (*NormalizedResponse, []byte, error) {
	resp, err := t.client.Do(httpReq)
	if err != nil {
		// url.Error repeats the full URL, query credentials included.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, data, fmt.Errorf("read body: %w", err)
	}

	headers := make(map[string]string)
	for k, vals := range resp.Header {
		if len(vals) > 0 {
			headers[strings.ToLower(k)] = vals[0]
		}
	}

	return &NormalizedResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Data:       data,
		URL:        httpReq.URL.String(),
	}, nil, nil
}

func (t *Transport) buildRequest(ctx context.Context, method, fullURL string, req *NormalizedRequest) (*http.Request, error) {
	u, err := url.Parse(fullURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", fullURL, err)
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case method == http.MethodPost && len(req.Files) > 0:
		buf, ct, err := encodeMultipart(req.Params, req.Files)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	case method == http.MethodPost && len(req.Params) > 0:
		body, contentType = strings.NewReader(req.Params.Encode()), "application/x-www-form-urlencoded"
	case len(req.Params) > 0:
		q := u.Query()
		for k, vs := range req.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if t.userAgent != "" {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.BasicAuth != nil {
		httpReq.SetBasicAuth(req.BasicAuth.Username, req.BasicAuth.Password)
	}
	return httpReq, nil
}

// encodeMultipart rewinds every file before copying it, so each attempt
// uploads the full content.
func encodeMultipart(params url.Values, files []File) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range params[k] {
			if err := w.WriteField(k, v); err != nil {
				return nil, "", fmt.Errorf("write field %s: %w", k, err)
			}
		}
	}

	for _, f := range files {
		if f.Content == nil {
			return nil, "", errors.New("multipart file without content")
		}
		if _, err := f.Content.Seek(0, io.SeekStart); err != nil {
			return nil, "", fmt.Errorf("rewind %s: %w", f.Filename, err)
		}
		part, err := w.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", f.Field, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, "", fmt.Errorf("copy %s: %w", f.Filename, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func uniformJitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(window)))
}
