// Package errs holds the error taxonomy shared by the chat core and its backends.
package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthenticated means there is no active session; callers must stop issuing backend calls.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrBackendUnavailable is the transient, retryable class.
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrNotFound           = errors.New("not found")
	// ErrResolutionFailed is returned once reference resolution has exhausted its retries.
	ErrResolutionFailed = errors.New("resolution failed")
	ErrValidation       = errors.New("validation error")
)

// Validation builds an ErrValidation with a description of the rejected input.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrNotFound naming the missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}

// Unavailable marks err as transient. Already classified errors are returned unchanged.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

// ResolutionFailed wraps the last transient error seen while resolving ref.
// The cause is kept as text so the result no longer reads as retryable.
func ResolutionFailed(ref string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrResolutionFailed, ref, cause)
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// Classified reports whether err already belongs to the taxonomy.
func Classified(err error) bool {
	for _, target := range []error{ErrUnauthenticated, ErrBackendUnavailable, ErrNotFound, ErrResolutionFailed, ErrValidation} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Status renders err as a short human readable status line.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthenticated):
		return "You are not signed in"
	case errors.Is(err, ErrResolutionFailed):
		return "Could not load the attachment, try again later"
	case errors.Is(err, ErrBackendUnavailable):
		return "The chat service is unreachable, retrying did not help"
	case errors.Is(err, ErrNotFound):
		return "Not found"
	case errors.Is(err, ErrValidation):
		return "Invalid input: " + detail(err, ErrValidation)
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timed out"
	default:
		return "Internal error"
	}
}

// detail strips the sentinel prefix from a wrapped message.
func detail(err, sentinel error) string {
	msg := err.Error()
	if _, rest, ok := strings.Cut(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}
