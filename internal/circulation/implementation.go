// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/inventory"
	"github.com/jules-labs/libranexus/internal/notify"
	"github.com/jules-labs/libranexus/internal/store"
	"github.com/jules-labs/libranexus/internal/waitlist"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// service implements the Service interface.
type service struct {
	store    store.Store
	registry *inventory.Registry
	queue    *waitlist.List
	inbox    *notify.Inbox
	sink     notify.Sink
	users    UserDirectory
	clock    clock.Clock
	policy   Policy
	logger   *slog.Logger
	tracer   trace.Tracer

	sweeping sync.Mutex

	opened     metric.Int64Counter
	returned   metric.Int64Counter
	rejected   metric.Int64Counter
	sinkErrors metric.Int64Counter
	violations metric.Int64Counter
}

// NewService creates the lending engine.
func NewService(st store.Store, users UserDirectory, inbox *notify.Inbox, sink notify.Sink, c clock.Clock, policy Policy, logger *slog.Logger) Service {
	meter := otel.Meter("libranexus/circulation")
	opened, _ := meter.Int64Counter("circulation.loans.opened")
	returned, _ := meter.Int64Counter("circulation.loans.returned")
	rejected, _ := meter.Int64Counter("circulation.borrow.rejected")
	sinkErrors, _ := meter.Int64Counter("circulation.notify.failures")
	violations, _ := meter.Int64Counter("circulation.invariant.violations")

	return &service{
		store:      st,
		registry:   inventory.NewRegistry(c),
		queue:      waitlist.New(c),
		inbox:      inbox,
		sink:       sink,
		users:      users,
		clock:      c,
		policy:     policy,
		logger:     logger.With("component", "circulation"),
		tracer:     otel.Tracer("libranexus/circulation"),
		opened:     opened,
		returned:   returned,
		rejected:   rejected,
		sinkErrors: sinkErrors,
		violations: violations,
	}
}

// outbox collects sink calls to make once the transaction has committed.
type outbox struct {
	calls []func(ctx context.Context, sink notify.Sink) error
	kinds []store.NoticeKind
}

func (o *outbox) available(userID, titleID uuid.UUID) {
	o.kinds = append(o.kinds, store.NoticeAvailable)
	o.calls = append(o.calls, func(ctx context.Context, s notify.Sink) error {
		return s.NotifyAvailable(ctx, userID, titleID)
	})
}

func (o *outbox) loan(kind store.NoticeKind, loanID uuid.UUID) {
	o.kinds = append(o.kinds, kind)
	o.calls = append(o.calls, func(ctx context.Context, s notify.Sink) error {
		switch kind {
		case store.NoticeOverdue:
			return s.NotifyOverdue(ctx, loanID)
		case store.NoticeDueSoon:
			return s.NotifyDueSoon(ctx, loanID)
		default:
			return s.NotifyReturned(ctx, loanID)
		}
	})
}

func (o *outbox) reset() {
	o.calls, o.kinds = nil, nil
}

// deliver hands committed events to the sink. Failures are logged only.
func (s *service) deliver(ctx context.Context, o *outbox) {
	ctx = context.WithoutCancel(ctx)
	for i, call := range o.calls {
		if err := call(ctx, s.sink); err != nil {
			s.sinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(o.kinds[i]))))
			s.logger.WarnContext(ctx, "notification delivery failed", "kind", o.kinds[i], "error", err)
		}
	}
}

// fail records err on the span and reports invariant violations loudly.
func (s *service) fail(ctx context.Context, span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	switch {
	case errors.Is(err, fault.ErrInvariant):
		s.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
		s.logger.ErrorContext(ctx, "lending invariant violated", "op", op, "error", err)
	case errors.Is(err, ErrCopyNotAvailable), errors.Is(err, ErrQueueBlocksBorrow), errors.Is(err, ErrNoAvailableCopy):
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", err.Error())))
	}
	return err
}

func (s *service) checkUser(ctx context.Context, userID uuid.UUID) error {
	m, err := s.users.FindUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("find user %s: %w", userID, err)
	}
	if m.Status != "" && m.Status != "active" {
		return ErrMemberInactive
	}
	return nil
}

func (s *service) lockTitle(ctx context.Context, tx store.Tx, titleID uuid.UUID) (*store.Title, error) {
	t, err := tx.Titles().Lock(ctx, titleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTitleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock title: %w", err)
	}
	return t, nil
}

func (s *service) appendEvent(ctx context.Context, tx store.Tx, aggregateID uuid.UUID, aggregateType string, expected int, eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	ev := store.Event{EventType: eventType, EventData: payload, CreatedAt: s.clock.Now()}
	if err := tx.Events().Append(ctx, aggregateID, aggregateType, expected, []store.Event{ev}); err != nil {
		return fmt.Errorf("append %s: %w", eventType, err)
	}
	return nil
}

// BorrowCopy lends a specific copy.
func (s *service) BorrowCopy(ctx context.Context, userID, copyID uuid.UUID) (*store.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow_copy", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("copy.id", copyID.String()),
	))
	defer span.End()

	if err := s.checkUser(ctx, userID); err != nil {
		return nil, s.fail(ctx, span, "borrow_copy", err)
	}

	var loan *store.Loan
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		c, err := s.registry.Copy(ctx, tx, copyID)
		if err != nil {
			return err
		}
		title, err := s.lockTitle(ctx, tx, c.TitleID)
		if err != nil {
			return err
		}
		// Re-read under the title lock.
		if c, err = s.registry.Copy(ctx, tx, copyID); err != nil {
			return err
		}
		if !c.Available {
			return ErrCopyNotAvailable
		}
		if err := s.admit(ctx, tx, userID, title.ID); err != nil {
			return err
		}
		loan, err = s.lend(ctx, tx, userID, c)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, span, "borrow_copy", err)
	}
	s.opened.Add(ctx, 1)
	return loan, nil
}

// BorrowTitle lends the earliest-added available copy of a title.
func (s *service) BorrowTitle(ctx context.Context, userID, titleID uuid.UUID) (*store.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow_title", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("title.id", titleID.String()),
	))
	defer span.End()

	if err := s.checkUser(ctx, userID); err != nil {
		return nil, s.fail(ctx, span, "borrow_title", err)
	}

	var loan *store.Loan
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.lockTitle(ctx, tx, titleID); err != nil {
			return err
		}
		if err := s.admit(ctx, tx, userID, titleID); err != nil {
			return err
		}
		c, err := s.registry.AllocateAnyAvailable(ctx, tx, titleID)
		if err != nil {
			return err
		}
		loan, err = s.lend(ctx, tx, userID, c)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, span, "borrow_title", err)
	}
	s.opened.Add(ctx, 1)
	return loan, nil
}

func (s *service) admit(ctx context.Context, tx store.Tx, userID, titleID uuid.UUID) error {
	ok, err := s.queue.CanBorrow(ctx, tx, userID, titleID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrQueueBlocksBorrow
	}
	return nil
}

// lend claims the user's place in the queue, opens the loan and flips the copy.
func (s *service) lend(ctx context.Context, tx store.Tx, userID uuid.UUID, c *store.Copy) (*store.Loan, error) {
	if _, err := s.queue.Claim(ctx, tx, userID, c.TitleID); err != nil {
		return nil, err
	}

	open, err := tx.Loans().Find(ctx, store.LoanFilter{CopyID: c.ID, Statuses: store.OpenLoanStatuses})
	if err != nil {
		return nil, fmt.Errorf("find open loans: %w", err)
	}
	if len(open) > 0 {
		return nil, fmt.Errorf("copy %s: %w", c.ID, ErrDoubleLoan)
	}

	today := clock.Today(s.clock)
	loan := &store.Loan{
		ID:        uuid.New(),
		UserID:    userID,
		CopyID:    c.ID,
		TitleID:   c.TitleID,
		Status:    store.LoanActive,
		StartDate: today,
		EndDate:   today.AddDate(0, 0, s.policy.LoanPeriodDays),
		CreatedAt: s.clock.Now(),
	}
	if err := tx.Loans().Insert(ctx, loan); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("copy %s: %w", c.ID, ErrDoubleLoan)
		}
		return nil, fmt.Errorf("insert loan: %w", err)
	}
	if err := s.registry.MarkUnavailable(ctx, tx, c.ID); err != nil {
		return nil, err
	}

	ev := LoanOpenedEvent{LoanID: loan.ID, UserID: userID, CopyID: c.ID, TitleID: c.TitleID, DueDate: loan.EndDate}
	if err := s.appendEvent(ctx, tx, loan.ID, aggregateLoan, 0, EventLoanOpened, ev); err != nil {
		return nil, err
	}
	return loan, nil
}

// ReturnLoan closes an open loan, frees its copy and notifies the queue head.
func (s *service) ReturnLoan(ctx context.Context, loanID uuid.UUID) (*store.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return_loan", trace.WithAttributes(
		attribute.String("loan.id", loanID.String()),
	))
	defer span.End()

	var (
		loan *store.Loan
		out  outbox
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out.reset()
		l, err := s.loan(ctx, tx, loanID)
		if err != nil {
			return err
		}
		title, err := s.lockTitle(ctx, tx, l.TitleID)
		if err != nil {
			return err
		}
		if l, err = s.loan(ctx, tx, loanID); err != nil {
			return err
		}
		if !l.Status.Open() {
			return ErrLoanClosed
		}

		now := s.clock.Now()
		wasOverdue := l.Status == store.LoanOverdue
		l.Status = store.LoanReturned
		l.EndDate = clock.Date(now)
		l.ReturnedAt = &now
		if err := tx.Loans().Update(ctx, l); err != nil {
			return fmt.Errorf("update loan: %w", err)
		}
		if err := s.registry.MarkAvailable(ctx, tx, l.CopyID); err != nil {
			return err
		}
		ev := LoanReturnedEvent{LoanID: l.ID, UserID: l.UserID, CopyID: l.CopyID, ReturnDate: l.EndDate, WasOverdue: wasOverdue}
		if err := s.appendEvent(ctx, tx, l.ID, aggregateLoan, l.Version-1, EventLoanReturned, ev); err != nil {
			return err
		}
		if _, err := s.inbox.Record(ctx, tx, notify.ReturnedNotice(*l, *title)); err != nil {
			return err
		}
		out.loan(store.NoticeReturned, l.ID)

		if err := s.promote(ctx, tx, title, &out); err != nil {
			return err
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, span, "return_loan", err)
	}
	s.returned.Add(ctx, 1)
	s.deliver(ctx, &out)
	return loan, nil
}

// promote notifies the queue head when a copy of the title is free. The head
// is notified at most once per WAITING to NOTIFIED transition.
func (s *service) promote(ctx context.Context, tx store.Tx, title *store.Title, out *outbox) error {
	if _, err := s.registry.AllocateAnyAvailable(ctx, tx, title.ID); err != nil {
		if errors.Is(err, ErrNoAvailableCopy) {
			return nil
		}
		return err
	}
	head, moved, err := s.queue.Advance(ctx, tx, title.ID)
	if err != nil || !moved {
		return err
	}
	if _, err := s.inbox.Record(ctx, tx, notify.AvailableNotice(head.UserID, *title)); err != nil {
		return err
	}
	ev := ReservationEvent{ReservationID: head.ID, UserID: head.UserID, TitleID: head.TitleID, Seq: head.Seq, At: *head.NotifiedAt}
	if err := s.appendEvent(ctx, tx, head.ID, aggregateReservation, 1, EventReservationNotified, ev); err != nil {
		return err
	}
	out.available(head.UserID, title.ID)
	return nil
}

// Extend pushes the due date of the user's earliest active loan of the title
// once, provided nobody is waiting for the title. The loan becomes eligible
// for another due-soon reminder.
func (s *service) Extend(ctx context.Context, userID, titleID uuid.UUID) (*store.Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.extend", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("title.id", titleID.String()),
	))
	defer span.End()

	if err := s.checkUser(ctx, userID); err != nil {
		return nil, s.fail(ctx, span, "extend", err)
	}

	var loan *store.Loan
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.lockTitle(ctx, tx, titleID); err != nil {
			return err
		}
		active, err := tx.Loans().Find(ctx, store.LoanFilter{
			UserID:   userID,
			TitleID:  titleID,
			Statuses: []store.LoanStatus{store.LoanActive},
		})
		if err != nil {
			return fmt.Errorf("find active loans: %w", err)
		}
		if len(active) == 0 {
			return ErrRentalNotFound
		}
		l := active[0]
		if l.Prolonged {
			return fmt.Errorf("already prolonged: %w", ErrCannotProlong)
		}
		waiting, err := s.queue.Entries(ctx, tx, titleID)
		if err != nil {
			return err
		}
		if len(waiting) > 0 {
			return fmt.Errorf("%d members waiting: %w", len(waiting), ErrCannotProlong)
		}

		l.EndDate = l.EndDate.AddDate(0, 0, s.policy.ExtensionDays)
		l.Prolonged = true
		l.Reminded = false
		if err := tx.Loans().Update(ctx, &l); err != nil {
			return fmt.Errorf("update loan: %w", err)
		}
		ev := LoanDueEvent{LoanID: l.ID, DueDate: l.EndDate}
		if err := s.appendEvent(ctx, tx, l.ID, aggregateLoan, l.Version-1, EventLoanExtended, ev); err != nil {
			return err
		}
		loan = &l
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, span, "extend", err)
	}
	return loan, nil
}

// Reserve queues the user for the title without looking at availability.
func (s *service) Reserve(ctx context.Context, userID, titleID uuid.UUID) (*store.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.reserve", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("title.id", titleID.String()),
	))
	defer span.End()

	if err := s.checkUser(ctx, userID); err != nil {
		return nil, s.fail(ctx, span, "reserve", err)
	}

	var entry *store.Reservation
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.lockTitle(ctx, tx, titleID); err != nil {
			return err
		}
		var err error
		if entry, err = s.queue.Reserve(ctx, tx, userID, titleID); err != nil {
			return err
		}
		ev := ReservationEvent{ReservationID: entry.ID, UserID: userID, TitleID: titleID, Seq: entry.Seq, At: entry.CreatedAt}
		return s.appendEvent(ctx, tx, entry.ID, aggregateReservation, 0, EventReservationAdded, ev)
	})
	if err != nil {
		return nil, s.fail(ctx, span, "reserve", err)
	}
	return entry, nil
}

// Leave drops the user's entries for the title. When the user was the queue
// head and a copy is on the shelf, the next head is notified.
func (s *service) Leave(ctx context.Context, userID, titleID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "circulation.leave", trace.WithAttributes(
		attribute.String("user.id", userID.String()),
		attribute.String("title.id", titleID.String()),
	))
	defer span.End()

	var out outbox
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out.reset()
		title, err := s.lockTitle(ctx, tx, titleID)
		if err != nil {
			return err
		}
		head, err := s.queue.HeadOf(ctx, tx, titleID)
		if err != nil {
			return err
		}
		n, err := s.queue.Claim(ctx, tx, userID, titleID)
		if err != nil || n == 0 || head == nil || head.UserID != userID {
			return err
		}
		return s.promote(ctx, tx, title, &out)
	})
	if err != nil {
		return s.fail(ctx, span, "leave", err)
	}
	s.deliver(ctx, &out)
	return nil
}

func (s *service) read(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.store.InTx(ctx, fn)
}

func (s *service) Position(ctx context.Context, userID, titleID uuid.UUID) (int, error) {
	pos := NotQueued
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		pos, err = s.queue.PositionOf(ctx, tx, userID, titleID)
		return err
	})
	return pos, err
}

// Head returns the first entry of the title's queue, or nil when it is empty.
func (s *service) Head(ctx context.Context, titleID uuid.UUID) (*store.Reservation, error) {
	var head *store.Reservation
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		head, err = s.queue.HeadOf(ctx, tx, titleID)
		return err
	})
	return head, err
}

func (s *service) CanBorrow(ctx context.Context, userID, titleID uuid.UUID) (bool, error) {
	var ok bool
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ok, err = s.queue.CanBorrow(ctx, tx, userID, titleID)
		return err
	})
	return ok, err
}

func (s *service) Queue(ctx context.Context, titleID uuid.UUID) ([]store.Reservation, error) {
	var entries []store.Reservation
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		entries, err = s.queue.Entries(ctx, tx, titleID)
		return err
	})
	return entries, err
}

func (s *service) Reservations(ctx context.Context, userID uuid.UUID) ([]store.Reservation, error) {
	var entries []store.Reservation
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		entries, err = s.queue.ForUser(ctx, tx, userID)
		return err
	})
	return entries, err
}

func (s *service) loan(ctx context.Context, tx store.Tx, loanID uuid.UUID) (*store.Loan, error) {
	l, err := tx.Loans().Get(ctx, loanID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return l, nil
}

func (s *service) Loan(ctx context.Context, loanID uuid.UUID) (*store.Loan, error) {
	var l *store.Loan
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		l, err = s.loan(ctx, tx, loanID)
		return err
	})
	return l, err
}

func (s *service) LoansByUser(ctx context.Context, userID uuid.UUID) ([]store.Loan, error) {
	return s.findLoans(ctx, store.LoanFilter{UserID: userID})
}

func (s *service) OverdueLoans(ctx context.Context) ([]store.Loan, error) {
	return s.findLoans(ctx, store.LoanFilter{Statuses: []store.LoanStatus{store.LoanOverdue}})
}

func (s *service) findLoans(ctx context.Context, f store.LoanFilter) ([]store.Loan, error) {
	var out []store.Loan
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.Loans().Find(ctx, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find loans: %w", err)
	}
	return out, nil
}

// History returns the loan's event log in order.
func (s *service) History(ctx context.Context, loanID uuid.UUID) ([]store.Event, error) {
	var events []store.Event
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.loan(ctx, tx, loanID); err != nil {
			return err
		}
		var err error
		events, err = tx.Events().Load(ctx, loanID)
		return err
	})
	return events, err
}
