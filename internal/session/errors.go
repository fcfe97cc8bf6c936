package session

import (
	"errors"
	"fmt"
)

// ErrValidationRejected marks input refused before any network call
// (blank titles, duplicate tags). Wrap with fmt.Errorf("%w: reason").
var ErrValidationRejected = errors.New("validation rejected")

// ErrTaskClosed is returned for intents arriving after the task was
// archived or deleted at the authority.
var ErrTaskClosed = errors.New("task closed")

// ErrConfirmationRequired guards destructive operations; callers pass
// confirmed=true after an explicit user confirmation.
var ErrConfirmationRequired = errors.New("confirmation required")

// SyncError reports a remote call that failed after the optimistic
// state was applied. The local state is kept, not rolled back.
type SyncError struct {
	Op  string
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidationRejected, fmt.Sprintf(format, args...))
}
