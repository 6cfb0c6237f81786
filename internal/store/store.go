// internal/store/store.go

// Package store defines the persisted lending records and the transactional
// unit of work every lending operation runs in.
//
// Records reference each other by id only. Two implementations exist:
// memstore (process memory, used by tests and the `memory` store mode) and
// postgres (sqlx + goqu over lib/pq).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("store: record not found")
	ErrDuplicate = errors.New("store: duplicate record")
	// ErrPrecondition is returned by compare-and-set updates whose expected state did not hold.
	ErrPrecondition = errors.New("store: precondition failed")
	// ErrConcurrencyConflict is returned by versioned updates and appends.
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
)

// Store opens units of work.
type Store interface {
	// InTx runs fn in one all-or-nothing transaction. The transaction is
	// committed when fn returns nil and rolled back on any error or panic.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Tx exposes the repositories bound to one transaction.
type Tx interface {
	Titles() TitleRepository
	Copies() CopyRepository
	Loans() LoanRepository
	Reservations() ReservationRepository
	Notices() NoticeRepository
	Members() MemberRepository
	Events() EventRepository
}

type TitleRepository interface {
	Insert(ctx context.Context, t *Title) error
	Get(ctx context.Context, id uuid.UUID) (*Title, error)
	// Lock reads the title and holds a row lock until the transaction ends.
	Lock(ctx context.Context, id uuid.UUID) (*Title, error)
	List(ctx context.Context) ([]Title, error)
	AdjustCopies(ctx context.Context, id uuid.UUID, delta int) error
}

type CopyRepository interface {
	// Insert stores c and assigns its Seq.
	Insert(ctx context.Context, c *Copy) error
	Get(ctx context.Context, id uuid.UUID) (*Copy, error)
	ListByTitle(ctx context.Context, titleID uuid.UUID) ([]Copy, error)
	// FirstAvailable returns the available copy with the lowest Seq, or ErrNotFound.
	FirstAvailable(ctx context.Context, titleID uuid.UUID) (*Copy, error)
	// CompareAndSetAvailable flips the flag only if it currently equals from.
	CompareAndSetAvailable(ctx context.Context, id uuid.UUID, from, to bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// LoanFilter selects loans. Zero fields do not constrain.
type LoanFilter struct {
	UserID    uuid.UUID
	TitleID   uuid.UUID
	CopyID    uuid.UUID
	Statuses  []LoanStatus
	DueFrom   time.Time // inclusive
	DueBefore time.Time // exclusive
}

type LoanRepository interface {
	Insert(ctx context.Context, l *Loan) error
	Get(ctx context.Context, id uuid.UUID) (*Loan, error)
	// Update persists l if its Version still matches and increments it.
	Update(ctx context.Context, l *Loan) error
	// Find returns matching loans ordered by start date, then creation.
	Find(ctx context.Context, f LoanFilter) ([]Loan, error)
}

type ReservationRepository interface {
	// Insert stores r and assigns its Seq. A second WAITING entry for the
	// same user and title fails with ErrDuplicate.
	Insert(ctx context.Context, r *Reservation) error
	// Queued returns the title's entries in insertion order.
	Queued(ctx context.Context, titleID uuid.UUID) ([]Reservation, error)
	ForUser(ctx context.Context, userID uuid.UUID) ([]Reservation, error)
	ExistsWaiting(ctx context.Context, userID, titleID uuid.UUID) (bool, error)
	// MarkNotified moves a WAITING entry to NOTIFIED.
	MarkNotified(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteFor(ctx context.Context, userID, titleID uuid.UUID) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	NotifiedBefore(ctx context.Context, cutoff time.Time) ([]Reservation, error)
}

type NoticeRepository interface {
	Insert(ctx context.Context, n *Notice) error
	ForUser(ctx context.Context, userID uuid.UUID) ([]Notice, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
}

type MemberRepository interface {
	Insert(ctx context.Context, m *Member, c *Credential) error
	Get(ctx context.Context, id uuid.UUID) (*Member, error)
	GetByEmail(ctx context.Context, email string) (*Member, error)
	Credential(ctx context.Context, memberID uuid.UUID) (*Credential, error)
	SetRole(ctx context.Context, id uuid.UUID, role Role) error
}

type EventRepository interface {
	// Append adds events after expectedVersion for the aggregate.
	Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events []Event) error
	Load(ctx context.Context, aggregateID uuid.UUID) ([]Event, error)
}
