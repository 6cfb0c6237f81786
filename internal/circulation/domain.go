// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
)

// Policy holds the lending periods.
type Policy struct {
	LoanPeriodDays int
	ExtensionDays  int
	// DueSoonDays is how many days ahead the sweep sends reminders.
	DueSoonDays int
}

// DefaultPolicy lends for two weeks and allows one two-week extension.
func DefaultPolicy() Policy {
	return Policy{LoanPeriodDays: 14, ExtensionDays: 14, DueSoonDays: 3}
}

// SweepReport summarizes one overdue sweep.
type SweepReport struct {
	RanAt    time.Time `json:"ran_at"`
	Overdue  int       `json:"overdue"`
	Reminded int       `json:"reminded"`
	Failed   int       `json:"failed"`
}

// ExpiryReport summarizes one expiry of ignored reservations.
type ExpiryReport struct {
	Expired  int `json:"expired"`
	Notified int `json:"notified"`
}

// Event types appended to the lending log.
const (
	EventLoanOpened          = "LoanOpened"
	EventLoanExtended        = "LoanExtended"
	EventLoanOverdue         = "LoanOverdue"
	EventLoanReminded        = "LoanReminded"
	EventLoanReturned        = "LoanReturned"
	EventReservationAdded    = "ReservationAdded"
	EventReservationNotified = "ReservationNotified"

	aggregateLoan        = "loan"
	aggregateReservation = "reservation"
)

// LoanOpenedEvent is appended when a copy is lent.
type LoanOpenedEvent struct {
	LoanID  uuid.UUID `json:"loan_id"`
	UserID  uuid.UUID `json:"user_id"`
	CopyID  uuid.UUID `json:"copy_id"`
	TitleID uuid.UUID `json:"title_id"`
	DueDate time.Time `json:"due_date"`
}

// LoanReturnedEvent is appended when a loan is closed.
type LoanReturnedEvent struct {
	LoanID     uuid.UUID `json:"loan_id"`
	UserID     uuid.UUID `json:"user_id"`
	CopyID     uuid.UUID `json:"copy_id"`
	ReturnDate time.Time `json:"return_date"`
	WasOverdue bool      `json:"was_overdue"`
}

// LoanDueEvent is appended on extension, overdue and reminder.
type LoanDueEvent struct {
	LoanID  uuid.UUID `json:"loan_id"`
	DueDate time.Time `json:"due_date"`
}

// ReservationEvent is appended when an entry is queued or notified.
type ReservationEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	UserID        uuid.UUID `json:"user_id"`
	TitleID       uuid.UUID `json:"title_id"`
	Seq           int64     `json:"seq"`
	At            time.Time `json:"at"`
}
