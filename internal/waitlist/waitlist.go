// internal/waitlist/waitlist.go

// Package waitlist keeps the FIFO reservation queue of each title.
//
// Entries are ordered by their store-assigned sequence and are never
// re-sorted. The head is the earliest entry still queued, whether it is
// WAITING or NOTIFIED, and only the head's user may borrow while the
// queue is non-empty.
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/store"
)

// NotQueued is the position of a user without an entry.
const NotQueued = -1

var ErrAlreadyQueued = fault.New(fault.ErrConflict, "already waiting for this title")

// List operates on the queues inside the caller's transaction.
type List struct {
	clock clock.Clock
}

func New(c clock.Clock) *List {
	return &List{clock: c}
}

// Reserve appends a WAITING entry at the tail. Copy availability is not checked.
func (l *List) Reserve(ctx context.Context, tx store.Tx, userID, titleID uuid.UUID) (*store.Reservation, error) {
	waiting, err := tx.Reservations().ExistsWaiting(ctx, userID, titleID)
	if err != nil {
		return nil, fmt.Errorf("check existing reservation: %w", err)
	}
	if waiting {
		return nil, ErrAlreadyQueued
	}

	entry := &store.Reservation{
		ID:        uuid.New(),
		UserID:    userID,
		TitleID:   titleID,
		Status:    store.ReservationWaiting,
		CreatedAt: l.clock.Now(),
	}
	if err := tx.Reservations().Insert(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAlreadyQueued
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return entry, nil
}

// Leave removes every entry of the user for the title. Leaving twice is fine.
func (l *List) Leave(ctx context.Context, tx store.Tx, userID, titleID uuid.UUID) error {
	_, err := l.Claim(ctx, tx, userID, titleID)
	return err
}

// Claim removes the user's entries when they borrow and reports how many there were.
func (l *List) Claim(ctx context.Context, tx store.Tx, userID, titleID uuid.UUID) (int64, error) {
	n, err := tx.Reservations().DeleteFor(ctx, userID, titleID)
	if err != nil {
		return 0, fmt.Errorf("delete reservations: %w", err)
	}
	return n, nil
}

// HeadOf returns the earliest queued entry, or nil for an empty queue.
func (l *List) HeadOf(ctx context.Context, tx store.Tx, titleID uuid.UUID) (*store.Reservation, error) {
	entries, err := l.Entries(ctx, tx, titleID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	head := entries[0]
	return &head, nil
}

// Advance marks the head NOTIFIED. The bool reports whether the head changed
// state; an already notified head is returned unchanged.
func (l *List) Advance(ctx context.Context, tx store.Tx, titleID uuid.UUID) (*store.Reservation, bool, error) {
	head, err := l.HeadOf(ctx, tx, titleID)
	if err != nil || head == nil {
		return nil, false, err
	}
	if head.Status == store.ReservationNotified {
		return head, false, nil
	}

	now := l.clock.Now()
	if err := tx.Reservations().MarkNotified(ctx, head.ID, now); err != nil {
		return nil, false, fmt.Errorf("mark head notified: %w", err)
	}
	head.Status = store.ReservationNotified
	head.NotifiedAt = &now
	return head, true, nil
}

// PositionOf returns the 1-based rank of the user's entry, or NotQueued.
func (l *List) PositionOf(ctx context.Context, tx store.Tx, userID, titleID uuid.UUID) (int, error) {
	entries, err := l.Entries(ctx, tx, titleID)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		if e.UserID == userID {
			return i + 1, nil
		}
	}
	return NotQueued, nil
}

// CanBorrow holds when the queue is empty or the user is at its head.
func (l *List) CanBorrow(ctx context.Context, tx store.Tx, userID, titleID uuid.UUID) (bool, error) {
	head, err := l.HeadOf(ctx, tx, titleID)
	if err != nil {
		return false, err
	}
	return head == nil || head.UserID == userID, nil
}

// Entries returns the title's queue in order.
func (l *List) Entries(ctx context.Context, tx store.Tx, titleID uuid.UUID) ([]store.Reservation, error) {
	entries, err := tx.Reservations().Queued(ctx, titleID)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	return entries, nil
}

func (l *List) ForUser(ctx context.Context, tx store.Tx, userID uuid.UUID) ([]store.Reservation, error) {
	entries, err := tx.Reservations().ForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load reservations: %w", err)
	}
	return entries, nil
}

// Expired lists NOTIFIED entries notified before cutoff.
func (l *List) Expired(ctx context.Context, tx store.Tx, cutoff time.Time) ([]store.Reservation, error) {
	entries, err := tx.Reservations().NotifiedBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load expired reservations: %w", err)
	}
	return entries, nil
}
