// Package lifecycle drives one sample through submit, poll, fetch and score
// on a single sandbox. The adapters stay stateless; the per-submission state
// lives here, in a Tracker.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

const (
	StateSubmitted = "submitted"
	StatePending   = "pending"
	StateComplete  = "complete"
	StateReported  = "reported"
	StateRejected  = "rejected"
	StateUnknown   = "unknown"
)

const (
	EventPollPending  = "poll_pending"
	EventPollComplete = "poll_complete"
	EventReport       = "report"
	EventReject       = "reject"
	EventLose         = "lose"
)

// Tracker holds the state of one submission.
type Tracker struct {
	fsm    *fsm.FSM
	polls  int
	logger *zap.Logger
}

func NewTracker(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{logger: logger}
	t.fsm = fsm.NewFSM(
		StateSubmitted,
		fsm.Events{
			{Name: EventPollPending, Src: []string{StateSubmitted, StatePending}, Dst: StatePending},
			{Name: EventPollComplete, Src: []string{StateSubmitted, StatePending}, Dst: StateComplete},
			{Name: EventReport, Src: []string{StateComplete}, Dst: StateReported},
			{Name: EventReject, Src: []string{StateSubmitted}, Dst: StateRejected},
			{Name: EventLose, Src: []string{StateSubmitted, StatePending, StateComplete}, Dst: StateUnknown},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				t.logger.Debug("submission state", zap.String("from", e.Src), zap.String("to", e.Dst), zap.String("event", e.Event))
			},
		},
	)
	return t
}

func (t *Tracker) State() string { return t.fsm.Current() }

// Polls is the number of status checks recorded so far.
func (t *Tracker) Polls() int { return t.polls }

// Terminal reports whether no further event can move the tracker.
func (t *Tracker) Terminal() bool {
	switch t.fsm.Current() {
	case StateReported, StateRejected, StateUnknown:
		return true
	}
	return false
}

// Fire applies event. Re-entering the current state (pending to pending) is
// not an error.
func (t *Tracker) Fire(ctx context.Context, event string) error {
	if event == EventPollPending || event == EventPollComplete {
		t.polls++
	}
	err := t.fsm.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return fmt.Errorf("%s in state %s: %w", event, t.fsm.Current(), err)
	}
	return nil
}
