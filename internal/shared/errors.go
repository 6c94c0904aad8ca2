// Package shared contains the error taxonomy used across the daemon.
//
// Components mark their failures with a Kind (MarkKind) and callers at the
// edges classify them (KindOf, HTTPStatus) without knowing which component
// produced them.
package shared

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors shared by every component.
var (
	// ErrNotFound indicates that a job, run or other resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input: a bad expression, jobs file or query parameter.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a clash with existing state, e.g. a duplicate job name.
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates a bug or an unexpected condition.
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates that an operation ran out of time.
	ErrTimeout = errors.New("operation timed out")

	// ErrDependencyFailure indicates that a database, webhook or chat API failed.
	ErrDependencyFailure = errors.New("dependency failure")

	// ErrRateLimited indicates that a caller exceeded its request budget.
	ErrRateLimited = errors.New("rate limited")
)

// Kind classifies an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindConflict
	KindInternal
	KindTimeout
	KindDependencyFailure
	KindRateLimited
	KindCanceled
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "Validation"
	case KindConflict:
		return "Conflict"
	case KindInternal:
		return "Internal"
	case KindTimeout:
		return "Timeout"
	case KindDependencyFailure:
		return "DependencyFailure"
	case KindRateLimited:
		return "RateLimited"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// classification is checked in order; the first match wins.
var classification = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindTimeout, nil},
	{KindNotFound, ErrNotFound},
	{KindValidation, ErrValidation},
	{KindConflict, ErrConflict},
	{KindRateLimited, ErrRateLimited},
	{KindDependencyFailure, ErrDependencyFailure},
	{KindInternal, ErrInternal},
}

// KindOf classifies err by walking its chain. Cancellation and timeouts take
// precedence over any sentinel, so a journal write aborted by shutdown reports
// KindCanceled even when it is also marked KindDependencyFailure.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, c := range classification {
		switch c.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if errors.Is(err, c.err) {
				return c.kind
			}
		}
	}
	return KindUnknown
}

// HasKind reports whether KindOf(err) equals kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// SentinelOf returns the sentinel error of kind, or nil for KindUnknown and KindCanceled.
func SentinelOf(kind Kind) error {
	if kind == KindTimeout {
		return ErrTimeout
	}
	for _, c := range classification {
		if c.kind == kind {
			return c.err
		}
	}
	return nil
}

// MarkKind wraps err with the sentinel of kind while keeping err in the chain,
// so both errors.Is(result, err) and KindOf(result) == kind hold.
// A nil err yields the bare sentinel. Marking is idempotent.
func MarkKind(err error, kind Kind) error {
	sentinel := SentinelOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil || KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap prefixes err with msg. It returns nil for a nil err and err itself for an empty msg.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if msg == "" {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// IsCanceled reports whether err comes from a canceled context.
func IsCanceled(err error) bool {
	return err != nil && errors.Is(err, context.Canceled)
}

// IsTimeout reports whether err is a deadline, a network timeout or ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsNotFound reports whether err is marked as not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err is marked as a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict reports whether err is marked as a conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsDependencyFailure reports whether err is marked as a dependency failure.
func IsDependencyFailure(err error) bool {
	return errors.Is(err, ErrDependencyFailure)
}

// HTTPStatus maps the kind of err to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindDependencyFailure:
		return http.StatusBadGateway
	case KindCanceled:
		// nginx's "client closed request"
		return 499
	default:
		return http.StatusInternalServerError
	}
}
