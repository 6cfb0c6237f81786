// internal/circulation/sweep.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/notify"
	"github.com/jules-labs/libranexus/internal/store"
)

// Sweep marks past-due loans OVERDUE and sends one reminder for loans due
// within the policy window. Each loan is handled in its own transaction, so
// a failure on one loan does not hold back the others.
func (s *service) Sweep(ctx context.Context) (SweepReport, error) {
	if !s.sweeping.TryLock() {
		return SweepReport{}, ErrSweepInProgress
	}
	defer s.sweeping.Unlock()

	ctx, span := s.tracer.Start(ctx, "circulation.sweep")
	defer span.End()

	today := clock.Today(s.clock)
	report := SweepReport{RanAt: s.clock.Now()}

	overdue, err := s.findLoans(ctx, store.LoanFilter{
		Statuses:  []store.LoanStatus{store.LoanActive},
		DueBefore: today,
	})
	if err != nil {
		return report, s.fail(ctx, span, "sweep", err)
	}
	dueSoon, err := s.findLoans(ctx, store.LoanFilter{
		Statuses:  []store.LoanStatus{store.LoanActive},
		DueFrom:   today,
		DueBefore: today.AddDate(0, 0, s.policy.DueSoonDays+1),
	})
	if err != nil {
		return report, s.fail(ctx, span, "sweep", err)
	}

	var errs []error
	for _, l := range overdue {
		changed, err := s.sweepLoan(ctx, l.ID, today, markOverdue)
		switch {
		case err != nil:
			report.Failed++
			errs = append(errs, err)
		case changed:
			report.Overdue++
		}
	}
	for _, l := range dueSoon {
		if l.Reminded {
			continue
		}
		changed, err := s.sweepLoan(ctx, l.ID, today, remindDueSoon)
		switch {
		case err != nil:
			report.Failed++
			errs = append(errs, err)
		case changed:
			report.Reminded++
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.overdue", report.Overdue),
		attribute.Int("sweep.reminded", report.Reminded),
		attribute.Int("sweep.failed", report.Failed),
	)
	s.logger.InfoContext(ctx, "sweep finished", "overdue", report.Overdue, "reminded", report.Reminded, "failed", report.Failed)
	if err := errors.Join(errs...); err != nil {
		return report, s.fail(ctx, span, "sweep", err)
	}
	return report, nil
}

type sweepAction int

const (
	markOverdue sweepAction = iota
	remindDueSoon
)

// sweepLoan re-checks one candidate under its title lock and applies action.
func (s *service) sweepLoan(ctx context.Context, loanID uuid.UUID, today time.Time, action sweepAction) (bool, error) {
	var (
		changed bool
		out     outbox
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		out.reset()
		changed = false
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
		if l.Status != store.LoanActive {
			return nil
		}

		var (
			eventType string
			notice    store.Notice
			kind      store.NoticeKind
		)
		switch action {
		case markOverdue:
			if !l.EndDate.Before(today) {
				return nil
			}
			l.Status = store.LoanOverdue
			eventType, kind = EventLoanOverdue, store.NoticeOverdue
			notice = notify.OverdueNotice(*l, *title)
		case remindDueSoon:
			if l.Reminded || l.EndDate.Before(today) || l.EndDate.After(today.AddDate(0, 0, s.policy.DueSoonDays)) {
				return nil
			}
			l.Reminded = true
			eventType, kind = EventLoanReminded, store.NoticeDueSoon
			notice = notify.DueSoonNotice(*l, *title)
		}

		if err := tx.Loans().Update(ctx, l); err != nil {
			return fmt.Errorf("update loan: %w", err)
		}
		if err := s.appendEvent(ctx, tx, l.ID, aggregateLoan, l.Version-1, eventType, LoanDueEvent{LoanID: l.ID, DueDate: l.EndDate}); err != nil {
			return err
		}
		if _, err := s.inbox.Record(ctx, tx, notice); err != nil {
			return err
		}
		out.loan(kind, l.ID)
		changed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("sweep loan %s: %w", loanID, err)
	}
	s.deliver(ctx, &out)
	return changed, nil
}

// ExpireNotified drops NOTIFIED entries whose holder ignored the notice for
// longer than olderThan, then notifies the next head where a copy is free.
func (s *service) ExpireNotified(ctx context.Context, p auth.Principal, olderThan time.Duration) (ExpiryReport, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.expire_notified", trace.WithAttributes(
		attribute.String("older_than", olderThan.String()),
	))
	defer span.End()

	var report ExpiryReport
	if err := p.RequireAdmin(); err != nil {
		return report, s.fail(ctx, span, "expire_notified", err)
	}

	cutoff := s.clock.Now().Add(-olderThan)
	var stale []store.Reservation
	err := s.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		stale, err = s.queue.Expired(ctx, tx, cutoff)
		return err
	})
	if err != nil {
		return report, s.fail(ctx, span, "expire_notified", err)
	}

	titles := make(map[uuid.UUID]struct{})
	var order []uuid.UUID
	for _, r := range stale {
		if _, seen := titles[r.TitleID]; !seen {
			titles[r.TitleID] = struct{}{}
			order = append(order, r.TitleID)
		}
	}

	for _, titleID := range order {
		var out outbox
		err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			out.reset()
			title, err := s.lockTitle(ctx, tx, titleID)
			if err != nil {
				return err
			}
			entries, err := s.queue.Entries(ctx, tx, titleID)
			if err != nil {
				return err
			}
			dropped := 0
			for _, e := range entries {
				if e.Status != store.ReservationNotified || e.NotifiedAt == nil || !e.NotifiedAt.Before(cutoff) {
					continue
				}
				if err := tx.Reservations().Delete(ctx, e.ID); err != nil {
					return fmt.Errorf("delete reservation: %w", err)
				}
				dropped++
			}
			if dropped == 0 {
				return nil
			}
			report.Expired += dropped
			return s.promote(ctx, tx, title, &out)
		})
		if err != nil {
			return report, s.fail(ctx, span, "expire_notified", err)
		}
		report.Notified += len(out.calls)
		s.deliver(ctx, &out)
	}
	return report, nil
}
