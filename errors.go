package sandboxbridge

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrConnectivity is wrapped by a TransportError raised after every
	// attempt failed before an HTTP response was received.
	ErrConnectivity = errors.New("sandbox unreachable")
	// ErrServerUnavailable is wrapped when the backend answered with a 5xx.
	ErrServerUnavailable = errors.New("sandbox server unavailable")
	// ErrRateLimited is wrapped when the backend declared a rate limit (429).
	ErrRateLimited = errors.New("sandbox rate limit exceeded")
	// ErrUnauthorized is wrapped when a request stayed unauthorized after
	// one re-authentication.
	ErrUnauthorized = errors.New("sandbox rejected credentials")
	// ErrAuthentication is wrapped when the login exchange itself failed.
	ErrAuthentication = errors.New("sandbox authentication failed")
	// ErrAPI is wrapped when the backend returned an error envelope.
	ErrAPI = errors.New("sandbox api error")

	ErrMalformedStatus     = errors.New("malformed status response")
	ErrProcessingFailed    = errors.New("sandbox failed to process the sample")
	ErrUnknownSubmission   = errors.New("submission unknown to the sandbox")
	ErrInvalidSubmissionID = errors.New("invalid submission identifier")
	ErrForeignSubmission   = errors.New("submission belongs to another sandbox")
	ErrMissingCredential   = errors.New("missing credential")
)

// TransportError reports a request that could not be completed: connectivity
// failure after all attempts, a 5xx answer, a rate limit, or an
// authentication failure.
type TransportError struct {
	URL    string
	Params url.Values
	Status int    // 0 when no response was received
	Body   []byte // last response body, if any
	Err    error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.URL != "" {
		fmt.Fprintf(&b, ": %s", e.URL)
	}
	if len(e.Params) > 0 {
		fmt.Fprintf(&b, " p:%v", redact(e.Params))
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if len(e.Body) > 0 {
		fmt.Fprintf(&b, "\n%s", truncate(e.Body, 512))
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// SubmissionError reports a submission the backend rejected or whose
// response carried no identifier.
type SubmissionError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("%s: submit: %s", e.Backend, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// StateQueryError reports a status response that could not be mapped to a
// completion state, or a backend that rejected the identifier outright.
type StateQueryError struct {
	Backend string
	ID      string
	Err     error
}

func (e *StateQueryError) Error() string {
	return fmt.Sprintf("%s: status of %s: %v", e.Backend, e.ID, e.Err)
}

func (e *StateQueryError) Unwrap() error { return e.Err }

// ReportFormatError reports a format the backend cannot render, or a report
// payload that could not be decoded in the requested format.
type ReportFormatError struct {
	Backend string
	Format  string
	Err     error
}

func (e *ReportFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: report format %q: %v", e.Backend, e.Format, e.Err)
	}
	return fmt.Sprintf("%s: report format %q is not supported", e.Backend, e.Format)
}

func (e *ReportFormatError) Unwrap() error { return e.Err }

// ScoreError is returned by adapters whose scoring requires fields the
// report does not carry.
type ScoreError struct {
	Backend string
	Field   string
	Err     error
}

func (e *ScoreError) Error() string {
	return fmt.Sprintf("%s: score: field %q: %v", e.Backend, e.Field, e.Err)
}

func (e *ScoreError) Unwrap() error { return e.Err }

// RateLimitError builds the TransportError for a 429 answer.
func RateLimitError(resp *NormalizedResponse) *TransportError {
	return &TransportError{URL: resp.URL, Status: resp.StatusCode, Body: resp.Data, Err: ErrRateLimited}
}

// APIError builds the TransportError for a non-success answer the adapter
// has no specific mapping for.
func APIError(resp *NormalizedResponse) *TransportError {
	return &TransportError{URL: resp.URL, Status: resp.StatusCode, Body: resp.Data, Err: ErrAPI}
}

var secretParams = map[string]bool{"apikey": true, "api_key": true, "api-key": true, "password": true}

func redact(p url.Values) url.Values {
	out := make(url.Values, len(p))
	for k, v := range p {
		if secretParams[strings.ToLower(k)] {
			out[k] = []string{"***"}
			continue
		}
		out[k] = v
	}
	return out
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
