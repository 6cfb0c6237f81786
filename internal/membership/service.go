// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/store"
)

// Service defines the interface for the membership service.
// It also serves as the lending engine's user directory.
type Service interface {
	RegisterMember(ctx context.Context, email, name, password string) (*store.Member, error)
	Authenticate(ctx context.Context, email, password string) (*store.Member, error)
	FindUser(ctx context.Context, id uuid.UUID) (*store.Member, error)
	Promote(ctx context.Context, p auth.Principal, id uuid.UUID) error
}
