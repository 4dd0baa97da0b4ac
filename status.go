package sandboxbridge

// State is the closed set of completion states a status response maps to.
type State int

const (
	// StatePending: the backend knows the submission and is still working.
	StatePending State = iota
	// StateComplete: a report can be fetched.
	StateComplete
	// StateNotVisible: the backend does not know the id yet (404 and
	// equivalents). A just-submitted id may not be indexed yet.
	StateNotVisible
	// StateRejected: the backend declared the id failed, unknown for good,
	// or malformed. Err says which.
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateComplete:
		return "complete"
	case StateNotVisible:
		return "not_visible"
	case StateRejected:
		return "rejected"
	}
	return "invalid"
}

// Status is one decoded status response.
type Status struct {
	State State
	Raw   string // vendor status value, for logs
	Err   error  // set for StateRejected
}

func Pending(raw string) Status  { return Status{State: StatePending, Raw: raw} }
func Complete(raw string) Status { return Status{State: StateComplete, Raw: raw} }
func NotVisible() Status         { return Status{State: StateNotVisible} }

func Rejected(raw string, err error) Status {
	return Status{State: StateRejected, Raw: raw, Err: err}
}

// Resolve maps the status onto the boolean completion domain. Only rejected
// ids raise; not-yet-visible ids are reported as incomplete.
func (s Status) Resolve(backend string, id SubmissionID) (bool, error) {
	switch s.State {
	case StateComplete:
		return true, nil
	case StatePending, StateNotVisible:
		return false, nil
	}
	err := s.Err
	if err == nil {
		err = ErrMalformedStatus
	}
	return false, &StateQueryError{Backend: backend, ID: id.Value, Err: err}
}
