package sandboxbridge

import (
	"context"
	"io"
)

// Sandbox defines the lifecycle contract every backend adapter implements.
// An instance is not safe for concurrent use: the availability latch and any
// session credential are shared mutable state. Give each goroutine its own
// instance or serialize access.
type Sandbox interface {
	// Name is the backend key that scopes the SubmissionIDs this instance issues.
	Name() string

	// Submit uploads content for analysis. content is rewound to its start first.
	Submit(ctx context.Context, content io.ReadSeeker, filename string) (SubmissionID, error)

	// IsComplete reports whether the analysis is finished. Ids the backend does
	// not know yet return false; ids it rejects return a *StateQueryError.
	IsComplete(ctx context.Context, id SubmissionID) (bool, error)

	// FetchReport retrieves the report in the given format ("json" by default).
	FetchReport(ctx context.Context, id SubmissionID, format string) (*Report, error)

	// Score derives a numeric verdict from a fetched report. It performs no I/O.
	Score(report *Report) (float64, error)

	// IsAvailable probes the backend unless a previous probe already succeeded.
	IsAvailable(ctx context.Context) bool
}

// RateLimitReporter is implemented by adapters that expose the last rate
// limit information their backend advertised.
type RateLimitReporter interface {
	RateLimitInfo() *NormalizedRateLimitInfo
}

// Authenticator attaches credentials to an outgoing request.
type Authenticator interface {
	Authorize(ctx context.Context, req *NormalizedRequest) error
}

// Reauthenticator is an Authenticator whose credential can expire. When
// Expired reports true for a response, the credential is dropped and the
// request is retried once with a fresh one.
type Reauthenticator interface {
	Authenticator
	Expired(resp *NormalizedResponse) bool
	Invalidate()
}
