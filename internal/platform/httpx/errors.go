package httpx

import (
	"errors"
	"net/http"

	"github.com/stockline-erp/stockline/internal/shared"
)

// ErrValidation marks malformed request payloads.
var ErrValidation = errors.New("validation failed")

var guardObserver func(transition string)

// SetGuardObserver registers a callback invoked for every guard
// violation response. Call once during startup, before serving.
func SetGuardObserver(fn func(transition string)) {
	guardObserver = fn
}

// RespondError maps lifecycle errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var guard *shared.GuardViolation
	switch {
	case errors.As(err, &guard):
		if guardObserver != nil {
			guardObserver(guard.Transition)
		}
		JSON(w, http.StatusUnprocessableEntity, ProblemDetail{
			Title:      "Guard Violation",
			Status:     http.StatusUnprocessableEntity,
			Detail:     guard.Reason,
			Transition: guard.Transition,
			State:      guard.State,
		})
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConcurrentModification):
		Problem(w, http.StatusConflict, "Concurrent Modification", "entity changed, reload and retry")
	case errors.Is(err, shared.ErrEntityBusy):
		Problem(w, http.StatusConflict, "Entity Busy", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Already Processed", err.Error())
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrCollaboratorUnavailable):
		Problem(w, http.StatusServiceUnavailable, "Collaborator Unavailable", "backend unreachable, retry later")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
