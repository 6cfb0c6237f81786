// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/inventory"
	"github.com/jules-labs/libranexus/internal/store"
	"github.com/jules-labs/libranexus/internal/waitlist"
)

var (
	ErrCopyNotAvailable  = fault.New(fault.ErrConflict, "copy not available")
	ErrQueueBlocksBorrow = fault.New(fault.ErrConflict, "another member is first in the queue")
	ErrCannotProlong     = fault.New(fault.ErrConflict, "loan cannot be prolonged")
	ErrLoanClosed        = fault.New(fault.ErrConflict, "loan already returned")
	ErrSweepInProgress   = fault.New(fault.ErrConflict, "sweep already running")
	ErrLoanNotFound      = fault.New(fault.ErrNotFound, "loan not found")
	ErrRentalNotFound    = fault.New(fault.ErrNotFound, "no active loan for this title")
	ErrMemberInactive    = fault.New(fault.ErrForbidden, "member is not eligible to borrow")
	ErrDoubleLoan        = fault.New(fault.ErrInvariant, "copy already has an open loan")

	ErrNoAvailableCopy = inventory.ErrNoAvailableCopy
	ErrCopyNotFound    = inventory.ErrCopyNotFound
	ErrTitleNotFound   = inventory.ErrTitleNotFound
	ErrAlreadyQueued   = waitlist.ErrAlreadyQueued
)

// NotQueued is the position reported for a user without a reservation.
const NotQueued = waitlist.NotQueued

// UserDirectory resolves borrowers.
type UserDirectory interface {
	FindUser(ctx context.Context, id uuid.UUID) (*store.Member, error)
}

// Service defines the interface for the lending engine.
// Every mutating call runs in one transaction that first locks the title.
type Service interface {
	BorrowCopy(ctx context.Context, userID, copyID uuid.UUID) (*store.Loan, error)
	BorrowTitle(ctx context.Context, userID, titleID uuid.UUID) (*store.Loan, error)
	ReturnLoan(ctx context.Context, loanID uuid.UUID) (*store.Loan, error)
	Extend(ctx context.Context, userID, titleID uuid.UUID) (*store.Loan, error)
	Sweep(ctx context.Context) (SweepReport, error)

	Reserve(ctx context.Context, userID, titleID uuid.UUID) (*store.Reservation, error)
	Leave(ctx context.Context, userID, titleID uuid.UUID) error
	Position(ctx context.Context, userID, titleID uuid.UUID) (int, error)
	Head(ctx context.Context, titleID uuid.UUID) (*store.Reservation, error)
	CanBorrow(ctx context.Context, userID, titleID uuid.UUID) (bool, error)
	Queue(ctx context.Context, titleID uuid.UUID) ([]store.Reservation, error)
	Reservations(ctx context.Context, userID uuid.UUID) ([]store.Reservation, error)

	Loan(ctx context.Context, loanID uuid.UUID) (*store.Loan, error)
	LoansByUser(ctx context.Context, userID uuid.UUID) ([]store.Loan, error)
	OverdueLoans(ctx context.Context) ([]store.Loan, error)
	History(ctx context.Context, loanID uuid.UUID) ([]store.Event, error)
	ExpireNotified(ctx context.Context, p auth.Principal, olderThan time.Duration) (ExpiryReport, error)

	Restock(ctx context.Context, p auth.Principal, titleID uuid.UUID, n int) ([]store.Copy, error)
	RemoveCopy(ctx context.Context, p auth.Principal, copyID uuid.UUID) error
	Verify(ctx context.Context, p auth.Principal, titleID uuid.UUID) (inventory.IntegrityReport, error)
}
