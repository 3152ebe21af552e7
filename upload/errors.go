package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariantViolation is returned when part results are not dense and unique.
	ErrInvariantViolation = errors.New("part result invariant violated")
	// ErrRetriesExhausted is returned when a retry limit is configured and reached.
	ErrRetriesExhausted = errors.New("transient retries exhausted")
	// ErrSizeMismatch is returned when the source yields a different number of bytes than declared.
	ErrSizeMismatch = errors.New("source size mismatch")
	// ErrInvalidTransition is returned on an illegal session state change.
	ErrInvalidTransition = errors.New("invalid session state transition")
)

// StatusError is a failure reported by the remote storage service.
// Storage implementations return it so failures can be classified the same way across backends.
type StatusError struct {
	Operation  string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d (%s): %s", e.Operation, e.StatusCode, e.Code, e.Message)
}
