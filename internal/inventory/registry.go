// internal/inventory/registry.go

// Package inventory tracks the availability of physical copies.
//
// The registry never touches loans or reservations beyond reading them for
// integrity checks; keeping those consistent is the lending engine's job.
package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/store"
)

var (
	ErrNoAvailableCopy = fault.New(fault.ErrConflict, "no available copy")
	ErrCopyNotFound    = fault.New(fault.ErrNotFound, "copy not found")
	ErrTitleNotFound   = fault.New(fault.ErrNotFound, "title not found")
	ErrCopyOnLoan      = fault.New(fault.ErrConflict, "copy is on loan")
	// ErrFlipRejected means a copy was not in the state its flip expected.
	ErrFlipRejected = fault.New(fault.ErrInvariant, "availability flip rejected")
)

// Registry owns Copy.Available. All methods run inside the caller's transaction.
type Registry struct {
	clock clock.Clock
}

func NewRegistry(c clock.Clock) *Registry {
	return &Registry{clock: c}
}

// AllocateAnyAvailable returns the earliest-added available copy of the title.
// It does not flip the copy.
func (r *Registry) AllocateAnyAvailable(ctx context.Context, tx store.Tx, titleID uuid.UUID) (*store.Copy, error) {
	c, err := tx.Copies().FirstAvailable(ctx, titleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoAvailableCopy
	}
	if err != nil {
		return nil, fmt.Errorf("find available copy: %w", err)
	}
	return c, nil
}

// MarkUnavailable flips an available copy to unavailable.
func (r *Registry) MarkUnavailable(ctx context.Context, tx store.Tx, copyID uuid.UUID) error {
	return r.flip(ctx, tx, copyID, true, false)
}

// MarkAvailable flips an unavailable copy back to available.
func (r *Registry) MarkAvailable(ctx context.Context, tx store.Tx, copyID uuid.UUID) error {
	return r.flip(ctx, tx, copyID, false, true)
}

func (r *Registry) flip(ctx context.Context, tx store.Tx, copyID uuid.UUID, from, to bool) error {
	err := tx.Copies().CompareAndSetAvailable(ctx, copyID, from, to)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrCopyNotFound
	case errors.Is(err, store.ErrPrecondition):
		return fmt.Errorf("%w: copy %s expected available=%t", ErrFlipRejected, copyID, from)
	default:
		return fmt.Errorf("flip copy %s: %w", copyID, err)
	}
}

// SetAvailable forces the flag, succeeding if it already holds.
// Intended for administrative correction only.
func (r *Registry) SetAvailable(ctx context.Context, tx store.Tx, copyID uuid.UUID, available bool) error {
	c, err := r.Copy(ctx, tx, copyID)
	if err != nil {
		return err
	}
	if c.Available == available {
		return nil
	}
	return r.flip(ctx, tx, copyID, c.Available, available)
}

func (r *Registry) IsAvailable(ctx context.Context, tx store.Tx, copyID uuid.UUID) (bool, error) {
	c, err := r.Copy(ctx, tx, copyID)
	if err != nil {
		return false, err
	}
	return c.Available, nil
}

func (r *Registry) Copy(ctx context.Context, tx store.Tx, copyID uuid.UUID) (*store.Copy, error) {
	c, err := tx.Copies().Get(ctx, copyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCopyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get copy: %w", err)
	}
	return c, nil
}

// CopiesOf lists a title's copies in the order they were added.
func (r *Registry) CopiesOf(ctx context.Context, tx store.Tx, titleID uuid.UUID) ([]store.Copy, error) {
	if _, err := r.title(ctx, tx, titleID); err != nil {
		return nil, err
	}
	copies, err := tx.Copies().ListByTitle(ctx, titleID)
	if err != nil {
		return nil, fmt.Errorf("list copies: %w", err)
	}
	return copies, nil
}

// AddCopies creates n available copies and bumps the title's counter.
func (r *Registry) AddCopies(ctx context.Context, tx store.Tx, titleID uuid.UUID, n int) ([]store.Copy, error) {
	if n <= 0 {
		return nil, fault.New(fault.ErrInvalid, "copy count must be positive")
	}
	if _, err := r.title(ctx, tx, titleID); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	added := make([]store.Copy, 0, n)
	for i := 0; i < n; i++ {
		c := store.Copy{
			ID:        uuid.New(),
			TitleID:   titleID,
			Available: true,
			CreatedAt: now,
		}
		if err := tx.Copies().Insert(ctx, &c); err != nil {
			return nil, fmt.Errorf("insert copy: %w", err)
		}
		added = append(added, c)
	}

	if err := tx.Titles().AdjustCopies(ctx, titleID, n); err != nil {
		return nil, fmt.Errorf("adjust total copies: %w", err)
	}
	return added, nil
}

// RemoveCopy deletes a copy that no open loan references.
func (r *Registry) RemoveCopy(ctx context.Context, tx store.Tx, copyID uuid.UUID) (*store.Copy, error) {
	c, err := r.Copy(ctx, tx, copyID)
	if err != nil {
		return nil, err
	}

	open, err := tx.Loans().Find(ctx, store.LoanFilter{CopyID: copyID, Statuses: store.OpenLoanStatuses})
	if err != nil {
		return nil, fmt.Errorf("find open loans: %w", err)
	}
	if len(open) > 0 {
		return nil, ErrCopyOnLoan
	}

	if err := tx.Copies().Delete(ctx, copyID); err != nil {
		return nil, fmt.Errorf("delete copy: %w", err)
	}
	if err := tx.Titles().AdjustCopies(ctx, c.TitleID, -1); err != nil {
		return nil, fmt.Errorf("adjust total copies: %w", err)
	}
	return c, nil
}

func (r *Registry) title(ctx context.Context, tx store.Tx, titleID uuid.UUID) (*store.Title, error) {
	t, err := tx.Titles().Get(ctx, titleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTitleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get title: %w", err)
	}
	return t, nil
}
