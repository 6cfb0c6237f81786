// internal/notify/inbox.go
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/store"
)

var ErrNoticeNotFound = fault.New(fault.ErrNotFound, "notice not found")

// Inbox stores the notices members read in the API.
type Inbox struct {
	store store.Store
	clock clock.Clock
}

func NewInbox(st store.Store, c clock.Clock) *Inbox {
	return &Inbox{store: st, clock: c}
}

// Record stores n inside tx, so it commits or rolls back with the lending change.
func (i *Inbox) Record(ctx context.Context, tx store.Tx, n store.Notice) (*store.Notice, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = i.clock.Now()
	}
	if err := tx.Notices().Insert(ctx, &n); err != nil {
		return nil, fmt.Errorf("insert notice: %w", err)
	}
	return &n, nil
}

// ForUser returns the user's notices, newest first.
func (i *Inbox) ForUser(ctx context.Context, userID uuid.UUID) ([]store.Notice, error) {
	var out []store.Notice
	err := i.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Notices().ForUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	return out, nil
}

func (i *Inbox) MarkRead(ctx context.Context, userID, noticeID uuid.UUID) error {
	err := i.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Notices().MarkRead(ctx, userID, noticeID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoticeNotFound
	}
	return err
}
