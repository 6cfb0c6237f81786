// internal/circulation/stock.go
package circulation

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/inventory"
	"github.com/jules-labs/libranexus/internal/store"
)

// Restock adds n copies to a title. If someone is waiting, the head is
// notified in the same transaction.
func (s *service) Restock(ctx context.Context, p auth.Principal, titleID uuid.UUID, n int) ([]store.Copy, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.restock", trace.WithAttributes(
		attribute.String("title.id", titleID.String()),
		attribute.Int("copies", n),
	))
	defer span.End()

	if err := p.RequireAdmin(); err != nil {
		return nil, s.fail(ctx, span, "restock", err)
	}

	var (
		added []store.Copy
		out   outbox
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out.reset()
		title, err := s.lockTitle(ctx, tx, titleID)
		if err != nil {
			return err
		}
		if added, err = s.registry.AddCopies(ctx, tx, titleID, n); err != nil {
			return err
		}
		return s.promote(ctx, tx, title, &out)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "restock", err)
	}
	s.deliver(ctx, &out)
	return added, nil
}

// RemoveCopy withdraws a copy that is not on loan.
func (s *service) RemoveCopy(ctx context.Context, p auth.Principal, copyID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "circulation.remove_copy", trace.WithAttributes(
		attribute.String("copy.id", copyID.String()),
	))
	defer span.End()

	if err := p.RequireAdmin(); err != nil {
		return s.fail(ctx, span, "remove_copy", err)
	}
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := s.registry.Copy(ctx, tx, copyID)
		if err != nil {
			return err
		}
		if _, err := s.lockTitle(ctx, tx, c.TitleID); err != nil {
			return err
		}
		_, err = s.registry.RemoveCopy(ctx, tx, copyID)
		return err
	})
	if err != nil {
		return s.fail(ctx, span, "remove_copy", err)
	}
	return nil
}

func (s *service) Verify(ctx context.Context, p auth.Principal, titleID uuid.UUID) (inventory.IntegrityReport, error) {
	if err := p.RequireAdmin(); err != nil {
		return inventory.IntegrityReport{}, err
	}
	var report inventory.IntegrityReport
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		report, err = s.registry.Verify(ctx, tx, titleID)
		return err
	})
	return report, err
}
