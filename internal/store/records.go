// internal/store/records.go
package store

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Title is a catalog entry. TotalCopies always equals the number of its copies.
type Title struct {
	ID          uuid.UUID `json:"id" db:"id"`
	ISBN        string    `json:"isbn" db:"isbn"`
	Name        string    `json:"title" db:"name"`
	Author      string    `json:"author" db:"author"`
	Categories  []string  `json:"categories" db:"-"`
	TotalCopies int       `json:"total_copies" db:"total_copies"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Clone returns a deep copy of t.
func (t Title) Clone() Title {
	t.Categories = slices.Clone(t.Categories)
	return t
}

// Copy is one physical, individually lendable instance of a title.
type Copy struct {
	ID      uuid.UUID `json:"id" db:"id"`
	TitleID uuid.UUID `json:"title_id" db:"title_id"`
	// Seq orders copies by the time they were added to stock.
	Seq       int64     `json:"seq" db:"seq"`
	Available bool      `json:"available" db:"available"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LoanStatus string

const (
	LoanActive   LoanStatus = "ACTIVE"
	LoanOverdue  LoanStatus = "OVERDUE"
	LoanReturned LoanStatus = "RETURNED"
)

// Open reports whether the loan still holds its copy.
func (s LoanStatus) Open() bool {
	return s == LoanActive || s == LoanOverdue
}

// OpenLoanStatuses are the statuses that hold a copy.
var OpenLoanStatuses = []LoanStatus{LoanActive, LoanOverdue}

// Loan records one copy lent to one user.
type Loan struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	CopyID    uuid.UUID  `json:"copy_id" db:"copy_id"`
	TitleID   uuid.UUID  `json:"title_id" db:"title_id"`
	Status    LoanStatus `json:"status" db:"status"`
	StartDate time.Time  `json:"start_date" db:"start_date"`
	// EndDate is the due date while the loan is open and the return date afterwards.
	EndDate    time.Time  `json:"end_date" db:"end_date"`
	ReturnedAt *time.Time `json:"returned_at,omitempty" db:"returned_at"`
	Prolonged  bool       `json:"prolonged" db:"prolonged"`
	Reminded   bool       `json:"reminded" db:"reminded"`
	Version    int        `json:"version" db:"version"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

type ReservationStatus string

const (
	ReservationWaiting  ReservationStatus = "WAITING"
	ReservationNotified ReservationStatus = "NOTIFIED"
)

// Reservation is one user's place in a title's wait-list.
type Reservation struct {
	ID      uuid.UUID         `json:"id" db:"id"`
	UserID  uuid.UUID         `json:"user_id" db:"user_id"`
	TitleID uuid.UUID         `json:"title_id" db:"title_id"`
	Status  ReservationStatus `json:"status" db:"status"`
	// Seq is the insertion order. Entries are never re-sorted.
	Seq        int64      `json:"seq" db:"seq"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	NotifiedAt *time.Time `json:"notified_at,omitempty" db:"notified_at"`
}

type NoticeKind string

const (
	NoticeAvailable NoticeKind = "available"
	NoticeOverdue   NoticeKind = "overdue"
	NoticeDueSoon   NoticeKind = "due_soon"
	NoticeReturned  NoticeKind = "returned"
)

// Notice is an inbox entry shown to a member.
type Notice struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	UserID    uuid.UUID  `json:"user_id" db:"user_id"`
	Kind      NoticeKind `json:"kind" db:"kind"`
	Subject   string     `json:"subject" db:"subject"`
	Body      string     `json:"body" db:"body"`
	TitleID   uuid.UUID  `json:"title_id" db:"title_id"`
	LoanID    *uuid.UUID `json:"loan_id,omitempty" db:"loan_id"`
	Read      bool       `json:"read" db:"read"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Member is a registered library user.
type Member struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Role      Role      `json:"role" db:"role"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Credential holds a member's password hash.
type Credential struct {
	MemberID     uuid.UUID `json:"-" db:"member_id"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Salt         string    `json:"-" db:"salt"`
}

// Event is one entry of the append-only lending log.
type Event struct {
	ID            int64           `json:"id" db:"id"`
	AggregateID   uuid.UUID       `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string          `json:"aggregate_type" db:"aggregate_type"`
	EventType     string          `json:"event_type" db:"event_type"`
	EventData     json.RawMessage `json:"event_data" db:"event_data"`
	Version       int             `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
