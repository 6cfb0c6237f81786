// internal/auth/principal.go

// Package auth carries the caller's identity as an explicit value.
//
// Admin operations take a Principal parameter; nothing reads identity from
// global state.
package auth

import (
	"context"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/store"
)

var (
	ErrNotAdmin        = fault.New(fault.ErrForbidden, "admin role required")
	ErrNotOwner        = fault.New(fault.ErrForbidden, "operation on another member's behalf")
	ErrUnauthenticated = fault.New(fault.ErrForbidden, "authentication required")
)

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID  `json:"user_id"`
	Role   store.Role `json:"role"`
}

// System is the principal of scheduled jobs and operator commands.
var System = Principal{Role: store.RoleAdmin}

func (p Principal) IsAdmin() bool {
	return p.Role == store.RoleAdmin
}

// CanActFor reports whether p may operate on userID's loans and reservations.
func (p Principal) CanActFor(userID uuid.UUID) bool {
	return p.IsAdmin() || (p.UserID != uuid.Nil && p.UserID == userID)
}

func (p Principal) RequireAdmin() error {
	if !p.IsAdmin() {
		return ErrNotAdmin
	}
	return nil
}

func (p Principal) RequireActFor(userID uuid.UUID) error {
	if !p.CanActFor(userID) {
		return ErrNotOwner
	}
	return nil
}

type ctxKey struct{}

// WithPrincipal attaches p to ctx. Only the HTTP middleware should call it.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
