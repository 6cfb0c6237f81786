// internal/respond/respond.go

// Package respond writes JSON responses and maps errors to status codes.
package respond

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/fault"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// Error writes err with the status of its fault kind. Server errors are logged.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := fault.Status(err)
	if auth.IsAuthError(err) {
		status = http.StatusUnauthorized
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"invariant", errors.Is(err, fault.ErrInvariant),
		)
	}
	JSON(w, status, ErrorBody{Error: err.Error(), Kind: kindOf(err)})
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		return "not_found"
	case errors.Is(err, fault.ErrConflict):
		return "conflict"
	case errors.Is(err, fault.ErrForbidden):
		return "forbidden"
	case errors.Is(err, fault.ErrInvalid):
		return "invalid"
	case errors.Is(err, fault.ErrLimited):
		return "rate_limited"
	case errors.Is(err, fault.ErrInvariant):
		return "invariant"
	default:
		return "internal"
	}
}

// Decode reads a JSON body into v.
func Decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fault.New(fault.ErrInvalid, fmt.Sprintf("decode body: %v", err))
	}
	return nil
}

// UUIDParam parses a chi URL parameter.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fault.New(fault.ErrInvalid, "invalid "+name)
	}
	return id, nil
}

// Principal returns the caller or an authentication error.
func Principal(r *http.Request) (auth.Principal, error) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	return p, nil
}
