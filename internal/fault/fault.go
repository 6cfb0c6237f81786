// internal/fault/fault.go

// Package fault defines the error kinds shared by the lending packages.
//
// Every named business error wraps exactly one kind, so callers can match
// either the precise error or its family with errors.Is.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound marks a missing user, title, copy, loan or entry.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a business-rule rejection. Never retried.
	ErrConflict = errors.New("conflict")
	// ErrInvariant marks state that correct concurrency control should make impossible.
	ErrInvariant = errors.New("invariant violation")
	// ErrForbidden marks an operation the principal may not perform.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid marks malformed input.
	ErrInvalid = errors.New("invalid argument")
	ErrLimited = errors.New("rate limited")
)

// New returns a named error of the given kind.
func New(kind error, msg string) error {
	return fmt.Errorf("%w: %s", kind, msg)
}

// Status maps an error to the HTTP status the API layer reports for it.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
