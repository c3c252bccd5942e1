package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification indicates a stale version write; callers
	// should reload the entity and retry.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrCollaboratorUnavailable indicates the persistence or notification
	// backend is unreachable; retryable.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrInsufficientStock indicates a decrement beyond available quantity;
	// never clamped silently.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrForbidden indicates the actor lacks the required capability.
	ErrForbidden = errors.New("forbidden")
)

// GuardViolation reports which transition guard failed and the entity's
// current authoritative state.
type GuardViolation struct {
	Transition string
	Reason     string
	State      string
}

func (e *GuardViolation) Error() string {
	if e.State == "" {
		return fmt.Sprintf("guard violation: %s: %s", e.Transition, e.Reason)
	}
	return fmt.Sprintf("guard violation: %s: %s (current state %s)", e.Transition, e.Reason, e.State)
}

// Guardf builds a GuardViolation with a formatted reason.
func Guardf(transition, state, format string, args ...any) *GuardViolation {
	return &GuardViolation{Transition: transition, State: state, Reason: fmt.Sprintf(format, args...)}
}

// IsGuardViolation reports whether err is a GuardViolation.
func IsGuardViolation(err error) bool {
	var gv *GuardViolation
	return errors.As(err, &gv)
}
