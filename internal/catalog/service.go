// internal/catalog/service.go
package catalog

import (
	"context"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/inventory"
	"github.com/jules-labs/libranexus/internal/store"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddTitle(ctx context.Context, p auth.Principal, t NewTitle) (*store.Title, error)
	GetTitle(ctx context.Context, id uuid.UUID) (*TitleView, error)
	ListTitles(ctx context.Context) ([]TitleView, error)
	Search(ctx context.Context, query string) ([]TitleView, error)
	Copies(ctx context.Context, titleID uuid.UUID) ([]store.Copy, error)

	AddCopies(ctx context.Context, p auth.Principal, titleID uuid.UUID, n int) ([]store.Copy, error)
	RemoveCopy(ctx context.Context, p auth.Principal, copyID uuid.UUID) error
	Verify(ctx context.Context, p auth.Principal, titleID uuid.UUID) (inventory.IntegrityReport, error)
}

// Stock changes copies of existing titles. The lending engine implements it,
// since new copies may have to be handed to the head of the wait-list.
type Stock interface {
	Restock(ctx context.Context, p auth.Principal, titleID uuid.UUID, n int) ([]store.Copy, error)
	RemoveCopy(ctx context.Context, p auth.Principal, copyID uuid.UUID) error
	Verify(ctx context.Context, p auth.Principal, titleID uuid.UUID) (inventory.IntegrityReport, error)
}
