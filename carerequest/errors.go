package carerequest

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no care request exists for the id.
	ErrNotFound = errors.New("carerequest: not found")
	// ErrImmutable signals a mutation attempt on a completed or cancelled
	// request. Permanent; never retried.
	ErrImmutable = errors.New("carerequest: request is terminal and immutable")
	// ErrConflict signals a concurrent modification lost the race. The
	// caller reloads and retries the whole operation; the controller never
	// retries internally.
	ErrConflict = errors.New("carerequest: concurrent modification, reload and retry")
)

// InvalidTransitionError reports a disallowed status change, either an
// illegal edge or a coupled status/payment/assignee invariant that the
// target state would violate. Permanent; never retried.
type InvalidTransitionError struct {
	From   Status
	To     Status
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("carerequest: invalid transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("carerequest: invalid transition %s -> %s", e.From, e.To)
}
