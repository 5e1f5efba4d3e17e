package governance

import (
	"errors"
	"fmt"
)

// ErrNotFound marks lookups against penalties or appeals that do not
// exist or are already resolved.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition marks lifecycle operations that are not legal in
// the record's current state, e.g. re-reviewing a resolved appeal.
var ErrInvalidTransition = errors.New("invalid transition")

// CollaboratorError wraps a failure from an external collaborator (the
// metrics source or the event bus). Metrics failures abort the current
// evaluation cycle; publish failures are reported but never roll back
// applied state.
type CollaboratorError struct {
	Collaborator string // "metrics" | "bus"
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("collaborator %s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }
