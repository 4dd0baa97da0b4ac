// internal/time_parser.go
// ------------------------
// Helpers for turning the reset hints sandbox APIs put in their rate limit headers
// into absolute millisecond timestamps.
//
// Functions:
// - ParseRetryAfter: Retry-After as delta-seconds or an HTTP-date.
// - ParseReset: X-RateLimit-Reset as a UNIX timestamp, a delta in seconds, or "6m0s".
// - ParseTimeStr: Convert strings like "1s", "6m0s" into milliseconds.
// - UnixToMs: Convert a UNIX timestamp in seconds to milliseconds.
// - IsInFuture: Check if a given timestamp (ms) is in the future.
package internal

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// unixThreshold separates absolute UNIX timestamps from relative deltas in
// reset headers. Nothing resets more than ~3 years out.
const unixThreshold = 100_000_000

// ParseRetryAfter returns the absolute reset time in ms for a Retry-After value.
func ParseRetryAfter(v string, now time.Time) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if sec, err := strconv.Atoi(v); err == nil {
		if sec < 0 {
			return 0, false
		}
		return now.UnixMilli() + int64(sec)*1000, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return t.UnixMilli(), true
	}
	return 0, false
}

// ParseReset returns the absolute reset time in ms for an X-RateLimit-Reset value.
func ParseReset(v string, now time.Time) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n >= unixThreshold {
			return UnixToMs(n), true
		}
		return now.UnixMilli() + n*1000, true
	}
	if ms := ParseTimeStr(v); ms > 0 {
		return now.UnixMilli() + ms, true
	}
	return 0, false
}

// ParseTimeStr converts strings like "1s", "6m0s" into ms.
func ParseTimeStr(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if strings.HasSuffix(s, "s") && !strings.Contains(s, "m") {
		val := strings.TrimSuffix(s, "s")
		sec, err := strconv.Atoi(val)
		if err == nil {
			return int64(sec) * 1000
		}
	}

	var minutes, seconds int
	n, err := fmt.Sscanf(s, "%dm%ds", &minutes, &seconds)
	if n == 2 && err == nil {
		return int64(minutes)*60_000 + int64(seconds)*1_000
	}

	return 0
}

// UnixToMs converts a UNIX timestamp in seconds to milliseconds.
func UnixToMs(timestamp int64) int64 {
	return timestamp * 1000
}

// IsInFuture checks if a timestamp (in ms) is in the future relative to now.
func IsInFuture(ms int64, now time.Time) bool {
	return ms > now.UnixMilli()
}
