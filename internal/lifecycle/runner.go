package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	sandboxbridge "github.com/opengovern/sandbox-bridge"
	"github.com/opengovern/sandbox-bridge/internal"
)

const (
	DefaultInterval = 10 * time.Second
	DefaultTimeout  = 15 * time.Minute
)

// ErrPollTimeout is returned when the analysis did not complete in time.
var ErrPollTimeout = errors.New("analysis did not complete in time")

type PollOptions struct {
	Interval time.Duration // between status checks; 0 means DefaultInterval
	Timeout  time.Duration // for the whole poll phase; 0 means DefaultTimeout
	Format   string        // report format, "json" when empty

	// Limiter paces every call against the sandbox. When nil, calls are
	// spaced by Interval.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

// Result is the outcome of one lifecycle run. ID is set as soon as the
// submission was accepted, also on failure.
type Result struct {
	ID     sandboxbridge.SubmissionID
	Report *sandboxbridge.Report
	Score  float64
	State  string
	Polls  int
}

// Run submits content to sb and follows the submission to a scored report.
// A failed submission ends in StateRejected. A nil Result means nothing was
// sent because ctx ended while waiting for the rate limit.
func Run(ctx context.Context, sb sandboxbridge.Sandbox, content io.ReadSeeker, filename string, opts PollOptions) (*Result, error) {
	opts = opts.withDefaults()
	if err := pace(ctx, sb, opts.Limiter); err != nil {
		return nil, err
	}
	tracker := NewTracker(opts.Logger.With(zap.String("sandbox", sb.Name())))
	id, err := sb.Submit(ctx, content, filename)
	if err != nil {
		if ferr := tracker.Fire(context.WithoutCancel(ctx), EventReject); ferr != nil {
			return nil, ferr
		}
		opts.Logger.Warn("submission rejected", zap.String("sandbox", sb.Name()), zap.Error(err))
		return &Result{State: tracker.State()}, err
	}
	opts.Logger.Info("submitted", zap.String("sandbox", sb.Name()), zap.String("id", id.String()))
	return follow(ctx, sb, id, opts, tracker)
}

// Follow polls an existing submission until it completes, then fetches and
// scores its report. An id the backend rejects while polling ends in
// StateUnknown.
func Follow(ctx context.Context, sb sandboxbridge.Sandbox, id sandboxbridge.SubmissionID, opts PollOptions) (*Result, error) {
	opts = opts.withDefaults()
	return follow(ctx, sb, id, opts, NewTracker(opts.Logger.With(zap.String("id", id.String()))))
}

func follow(ctx context.Context, sb sandboxbridge.Sandbox, id sandboxbridge.SubmissionID, opts PollOptions, tracker *Tracker) (*Result, error) {
	res := &Result{ID: id}
	finish := func(err error) (*Result, error) {
		res.State = tracker.State()
		res.Polls = tracker.Polls()
		return res, err
	}

	pollCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	for {
		if err := pace(pollCtx, sb, opts.Limiter); err != nil {
			return finish(lost(ctx, tracker, err))
		}
		done, err := sb.IsComplete(pollCtx, id)
		if err != nil {
			var rejected *sandboxbridge.StateQueryError
			if errors.As(err, &rejected) {
				if ferr := tracker.Fire(context.WithoutCancel(ctx), EventLose); ferr != nil {
					return finish(ferr)
				}
				return finish(err)
			}
			if pollCtx.Err() != nil {
				return finish(lost(ctx, tracker, err))
			}
			return finish(err)
		}
		if done {
			if err := tracker.Fire(ctx, EventPollComplete); err != nil {
				return finish(err)
			}
			break
		}
		if err := tracker.Fire(ctx, EventPollPending); err != nil {
			return finish(err)
		}
		opts.Logger.Debug("analysis pending", zap.String("id", id.String()), zap.Int("polls", tracker.Polls()))
	}

	if err := pace(ctx, sb, opts.Limiter); err != nil {
		return finish(err)
	}
	report, err := sb.FetchReport(ctx, id, opts.Format)
	if err != nil {
		return finish(err)
	}
	res.Report = report
	if err := tracker.Fire(ctx, EventReport); err != nil {
		return finish(err)
	}
	score, err := sb.Score(report)
	if err != nil {
		return finish(err)
	}
	res.Score = score
	return finish(nil)
}

// lost moves the tracker to unknown. A poll deadline becomes ErrPollTimeout;
// cancellation of the caller's ctx is returned as is.
func lost(ctx context.Context, tracker *Tracker, cause error) error {
	if err := tracker.Fire(context.WithoutCancel(ctx), EventLose); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w after %d polls: %v", ErrPollTimeout, tracker.Polls(), cause)
}

// pace blocks until the next call against sb may go out: the limiter has a
// token and the rate limit sb last advertised, if exhausted, has reset.
func pace(ctx context.Context, sb sandboxbridge.Sandbox, limiter *rate.Limiter) error {
	if r, ok := sb.(sandboxbridge.RateLimitReporter); ok {
		if d := resetDelay(r.RateLimitInfo(), time.Now()); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return limiter.Wait(ctx)
}

func resetDelay(info *sandboxbridge.NormalizedRateLimitInfo, now time.Time) time.Duration {
	if info == nil || info.RemainingRequests == nil || *info.RemainingRequests > 0 || info.ResetRequestsAt == nil {
		return 0
	}
	if !internal.IsInFuture(*info.ResetRequestsAt, now) {
		return 0
	}
	return time.Duration(*info.ResetRequestsAt-now.UnixMilli()) * time.Millisecond
}

func (o PollOptions) withDefaults() PollOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Format == "" {
		o.Format = "json"
	}
	if o.Limiter == nil {
		o.Limiter = rate.NewLimiter(rate.Every(o.Interval), 1)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
