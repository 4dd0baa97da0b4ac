package sandboxbridge

import (
	"fmt"
	"strings"
)

// SubmissionID is the opaque handle returned by Submit. It is scoped to the
// backend that issued it; Value carries the vendor's own identifier (task id,
// web id, hash, flow id) as text.
type SubmissionID struct {
	Backend string
	Value   string
}

func NewSubmissionID(backend string, value any) SubmissionID {
	return SubmissionID{Backend: backend, Value: fmt.Sprint(value)}
}

// ParseSubmissionID parses the "backend:value" form produced by String.
func ParseSubmissionID(s string) (SubmissionID, error) {
	backend, value, ok := strings.Cut(s, ":")
	if !ok || backend == "" || value == "" {
		return SubmissionID{}, fmt.Errorf("%w: %q", ErrInvalidSubmissionID, s)
	}
	return SubmissionID{Backend: backend, Value: value}, nil
}

func (id SubmissionID) String() string {
	return id.Backend + ":" + id.Value
}

// Check verifies the identifier was issued by backend.
func (id SubmissionID) Check(backend string) error {
	if id.Value == "" {
		return fmt.Errorf("%w: empty identifier", ErrInvalidSubmissionID)
	}
	if id.Backend != backend {
		return fmt.Errorf("%w: %s issued %q, not %s", ErrForeignSubmission, id.Backend, id.Value, backend)
	}
	return nil
}
