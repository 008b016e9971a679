// Package apperr defines the error taxonomy shared by the relay core.
//
// Components wrap these sentinels with fmt.Errorf("...: %w") so callers can
// classify failures with errors.Is without depending on each other.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyAdmin     = errors.New("already an admin")
	ErrNotAdmin         = errors.New("not an admin")
	ErrLastAdmin        = errors.New("cannot remove the last admin")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrUnresolvedThread = errors.New("unresolved thread")
	ErrThrottled        = errors.New("throttled")
	ErrTransport        = errors.New("transport failure")
	ErrPersistence      = errors.New("persistence failure")
)

// ThrottleError reports a rate-limit rejection together with the time the
// sender should wait before trying again.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %s", e.RetryAfter)
}

// Is lets errors.Is(err, ErrThrottled) match a *ThrottleError.
func (e *ThrottleError) Is(target error) bool {
	return target == ErrThrottled
}

// Persistence wraps a backing-store error so it classifies as ErrPersistence
// while keeping the original cause reachable.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

// Kind returns a short stable name for the class of err, used as a metric
// label and log field. Unknown errors report "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyAdmin):
		return "already_admin"
	case errors.Is(err, ErrNotAdmin):
		return "not_admin"
	case errors.Is(err, ErrLastAdmin):
		return "last_admin"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrUnresolvedThread):
		return "unresolved_thread"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}

// Recoverable reports whether err is one of the classes the event dispatcher
// turns into a user-visible response instead of surfacing to its caller.
func Recoverable(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrUnresolvedThread),
		errors.Is(err, ErrThrottled),
		errors.Is(err, ErrAlreadyAdmin),
		errors.Is(err, ErrNotAdmin),
		errors.Is(err, ErrLastAdmin):
		return true
	}
	return false
}
