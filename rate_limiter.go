// rate_limiter.go
// ----------------
// This file defines the RateLimiter type, which stores the rate limit information
// each sandbox advertises in its response headers. Transport records it on every
// response; it never delays a request itself. Consumers pacing a polling loop ask
// DelayBeforeNextRequest how long the backend asked them to back off.
//
// Responsibilities:
// - Parsing Retry-After and X-RateLimit-* headers into NormalizedRateLimitInfo.
// - Storing the latest info keyed by sandbox name.
// - Calculating the delay before the next request once the budget is exhausted.
package sandboxbridge

import (
	"strconv"
	"sync"
	"time"

	"github.com/opengovern/sandbox-bridge/internal"
)

type RateLimiter struct {
	mu     sync.Mutex
	limits map[string]*NormalizedRateLimitInfo
	now    func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limits: make(map[string]*NormalizedRateLimitInfo),
		now:    time.Now,
	}
}

// ParseRateLimitInfo extracts rate limit hints from response headers. It
// returns nil when the response carries none.
func ParseRateLimitInfo(resp *NormalizedResponse, now time.Time) *NormalizedRateLimitInfo {
	h := resp.Headers
	parseInt := func(key string) *int {
		if val, ok := h[key]; ok {
			if i, err := strconv.Atoi(val); err == nil {
				return &i
			}
		}
		return nil
	}

	info := &NormalizedRateLimitInfo{
		MaxRequests:       parseInt("x-ratelimit-limit"),
		RemainingRequests: parseInt("x-ratelimit-remaining"),
	}
	if ms, ok := internal.ParseReset(h["x-ratelimit-reset"], now); ok {
		info.ResetRequestsAt = &ms
	}

	// retry-after is only present when rate limited and wins if later.
	if ms, ok := internal.ParseRetryAfter(h["retry-after"], now); ok {
		if info.ResetRequestsAt == nil || ms > *info.ResetRequestsAt {
			info.ResetRequestsAt = &ms
		}
		if resp.StatusCode == 429 {
			zero := 0
			info.RemainingRequests = &zero
		}
	}

	if info.MaxRequests == nil && info.RemainingRequests == nil && info.ResetRequestsAt == nil {
		return nil
	}
	return info
}

// Observe records the rate limit info carried by resp, if any.
func (r *RateLimiter) Observe(sandbox string, resp *NormalizedResponse) {
	info := ParseRateLimitInfo(resp, r.now())
	if info == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[sandbox] = info
}

// canProceed reports false if the budget is exhausted and the reset time
// hasn't passed yet.
func (r *RateLimiter) canProceed(sandbox string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.limits[sandbox]
	if !ok || info == nil {
		return true
	}
	if info.RemainingRequests != nil && *info.RemainingRequests <= 0 {
		if info.ResetRequestsAt != nil && internal.IsInFuture(*info.ResetRequestsAt, r.now()) {
			return false
		}
	}
	return true
}

// DelayBeforeNextRequest returns how long the sandbox asked callers to wait.
func (r *RateLimiter) DelayBeforeNextRequest(sandbox string) time.Duration {
	if r.canProceed(sandbox) {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.limits[sandbox]
	if !ok || info == nil || info.ResetRequestsAt == nil {
		return 0
	}
	delayMs := *info.ResetRequestsAt - r.now().UnixMilli()
	if delayMs <= 0 {
		return 0
	}
	return time.Duration(delayMs) * time.Millisecond
}

// GetRateLimitInfo returns a copy of the last info recorded for sandbox.
func (r *RateLimiter) GetRateLimitInfo(sandbox string) *NormalizedRateLimitInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info, ok := r.limits[sandbox]; ok {
		return &NormalizedRateLimitInfo{
			MaxRequests:       copyPtr(info.MaxRequests),
			RemainingRequests: copyPtr(info.RemainingRequests),
			ResetRequestsAt:   copyPtr(info.ResetRequestsAt),
		}
	}
	return nil
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
