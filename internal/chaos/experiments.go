// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/circulation"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/notify"
	"github.com/jules-labs/libranexus/internal/store"
)

var ErrInjected = errors.New("injected sink failure")

// Target is the slice of the library an experiment works on.
type Target struct {
	Lending circulation.Service
	Titles  []uuid.UUID
	Members []uuid.UUID
	// Sink, when set, is the sink the lending engine was built with.
	Sink *FlakySink
}

// Defaults registers every experiment that applies to t.
func (e *Engine) Defaults(t Target, observe time.Duration) {
	e.Register(
		ConcurrentBorrowExperiment(t, observe),
		QueueChurnExperiment(t, observe),
	)
	if t.Sink != nil {
		e.Register(SinkOutageExperiment(t, observe))
	}
}

// ConcurrentBorrowExperiment has every member race for every title at once,
// then returns whatever was lent.
func ConcurrentBorrowExperiment(t Target, observe time.Duration) Experiment {
	probes := integrityProbes(t)
	return Experiment{
		Name:        "concurrent-borrow-race",
		Hypothesis:  "No copy is lent twice when members borrow the same title simultaneously",
		SteadyState: probes,
		Method: []Action{{
			Type:   "borrow-storm",
			Target: "circulation",
			Execute: func(ctx context.Context) error {
				loans, err := borrowAll(ctx, t)
				return errors.Join(err, returnAll(ctx, t, loans))
			},
		}},
		Validation: []Assertion{
			{Probe: "inconsistent_titles", Condition: zero, Message: "every title must pass the integrity check"},
			{Probe: "duplicate_open_loans", Condition: zero, Message: "a member never holds two open loans of one title"},
		},
		Duration: observe,
		Interval: observe / 4,
	}
}

// QueueChurnExperiment mixes reservations, withdrawals and borrows from all
// members concurrently.
func QueueChurnExperiment(t Target, observe time.Duration) Experiment {
	return Experiment{
		Name:        "queue-churn",
		Hypothesis:  "Wait lists stay in arrival order and duplicate-free under concurrent joins and leaves",
		SteadyState: integrityProbes(t),
		Method: []Action{{
			Type:   "queue-storm",
			Target: "waitlist",
			Execute: func(ctx context.Context) error {
				var (
					wg   sync.WaitGroup
					mu   sync.Mutex
					errs []error
					lent []store.Loan
				)
				for i, member := range t.Members {
					for _, title := range t.Titles {
						wg.Add(1)
						go func(i int, member, title uuid.UUID) {
							defer wg.Done()
							err := churn(ctx, t.Lending, i, member, title, func(l *store.Loan) {
								mu.Lock()
								lent = append(lent, *l)
								mu.Unlock()
							})
							if err != nil {
								mu.Lock()
								errs = append(errs, err)
								mu.Unlock()
							}
						}(i, member, title)
					}
				}
				wg.Wait()
				errs = append(errs, returnAll(ctx, t, lent))
				for _, member := range t.Members {
					for _, title := range t.Titles {
						errs = append(errs, t.Lending.Leave(ctx, member, title))
					}
				}
				return errors.Join(errs...)
			},
		}},
		Validation: []Assertion{
			{Probe: "queue_disorder", Condition: zero, Message: "queues must stay ordered by arrival"},
			{Probe: "inconsistent_titles", Condition: zero, Message: "every title must pass the integrity check"},
		},
		Duration: observe,
		Interval: observe / 4,
	}
}

// SinkOutageExperiment breaks the notification sink while members borrow,
// queue and return.
func SinkOutageExperiment(t Target, observe time.Duration) Experiment {
	probes := append(integrityProbes(t), Probe{
		Name:      "open_loans",
		Query:     func(ctx context.Context) (float64, error) { return openLoans(ctx, t) },
		Threshold: Threshold{Operator: "==", Value: 0},
	})
	return Experiment{
		Name:        "notification-sink-outage",
		Hypothesis:  "Returns and queue promotion commit even when every notification fails",
		SteadyState: probes,
		Method: []Action{
			{Type: "fail-sink", Target: "notify", Execute: func(context.Context) error {
				t.Sink.Fail(true)
				return nil
			}},
			{Type: "lending-cycle", Target: "circulation", Execute: func(ctx context.Context) error {
				loans, err := borrowAll(ctx, t)
				return errors.Join(err, returnAll(ctx, t, loans))
			}},
		},
		Rollback: []Action{{Type: "restore-sink", Target: "notify", Execute: func(context.Context) error {
			t.Sink.Fail(false)
			return nil
		}}},
		Validation: []Assertion{
			{Probe: "open_loans", Condition: zero, Message: "every return must commit despite the outage"},
			{Probe: "inconsistent_titles", Condition: zero, Message: "every title must pass the integrity check"},
		},
		Duration: observe,
		Interval: observe / 4,
	}
}

func zero(v float64) bool { return v == 0 }

func integrityProbes(t Target) []Probe {
	return []Probe{
		{
			Name:      "inconsistent_titles",
			Query:     func(ctx context.Context) (float64, error) { return inconsistentTitles(ctx, t) },
			Threshold: Threshold{Operator: "==", Value: 0},
		},
		{
			Name:      "duplicate_open_loans",
			Query:     func(ctx context.Context) (float64, error) { return duplicateLoans(ctx, t) },
			Threshold: Threshold{Operator: "==", Value: 0},
		},
		{
			Name:      "queue_disorder",
			Query:     func(ctx context.Context) (float64, error) { return queueDisorder(ctx, t) },
			Threshold: Threshold{Operator: "==", Value: 0},
		},
	}
}

func inconsistentTitles(ctx context.Context, t Target) (float64, error) {
	var n float64
	for _, id := range t.Titles {
		report, err := t.Lending.Verify(ctx, auth.System, id)
		if err != nil {
			return 0, err
		}
		if !report.Consistent() {
			n++
		}
	}
	return n, nil
}

func duplicateLoans(ctx context.Context, t Target) (float64, error) {
	var n float64
	for _, member := range t.Members {
		loans, err := t.Lending.LoansByUser(ctx, member)
		if err != nil {
			return 0, err
		}
		seen := make(map[uuid.UUID]bool)
		for _, l := range loans {
			if !l.Status.Open() {
				continue
			}
			if seen[l.TitleID] {
				n++
			}
			seen[l.TitleID] = true
		}
	}
	return n, nil
}

// queueDisorder counts titles whose queue is out of arrival order or lists a member twice.
func queueDisorder(ctx context.Context, t Target) (float64, error) {
	var n float64
	for _, id := range t.Titles {
		queue, err := t.Lending.Queue(ctx, id)
		if err != nil {
			return 0, err
		}
		seen := make(map[uuid.UUID]bool, len(queue))
		for i, r := range queue {
			if seen[r.UserID] || (i > 0 && queue[i-1].Seq >= r.Seq) {
				n++
				break
			}
			seen[r.UserID] = true
		}
	}
	return n, nil
}

func openLoans(ctx context.Context, t Target) (float64, error) {
	var n float64
	for _, member := range t.Members {
		loans, err := t.Lending.LoansByUser(ctx, member)
		if err != nil {
			return 0, err
		}
		for _, l := range loans {
			if l.Status.Open() {
				n++
			}
		}
	}
	return n, nil
}

// borrowAll races every member for every title. Losing a race is expected;
// anything but a conflict is reported.
func borrowAll(ctx context.Context, t Target) ([]store.Loan, error) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		loans []store.Loan
		errs  []error
	)
	for _, member := range t.Members {
		for _, title := range t.Titles {
			wg.Add(1)
			go func(member, title uuid.UUID) {
				defer wg.Done()
				loan, err := t.Lending.BorrowTitle(ctx, member, title)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					loans = append(loans, *loan)
				case !errors.Is(err, fault.ErrConflict):
					errs = append(errs, err)
				}
			}(member, title)
		}
	}
	wg.Wait()
	return loans, errors.Join(errs...)
}

func returnAll(ctx context.Context, t Target, loans []store.Loan) error {
	var errs []error
	for _, l := range loans {
		if _, err := t.Lending.ReturnLoan(ctx, l.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// churn has one member queue, try to borrow, and leave, in an order that
// depends on i.
func churn(ctx context.Context, lending circulation.Service, i int, member, title uuid.UUID, lent func(*store.Loan)) error {
	if _, err := lending.Reserve(ctx, member, title); err != nil && !errors.Is(err, circulation.ErrAlreadyQueued) {
		return err
	}
	if i%2 == 0 {
		if err := lending.Leave(ctx, member, title); err != nil {
			return err
		}
	}
	loan, err := lending.BorrowTitle(ctx, member, title)
	if err == nil {
		lent(loan)
		return nil
	}
	if errors.Is(err, fault.ErrConflict) {
		return nil
	}
	return err
}

// FlakySink forwards to another sink until told to fail.
type FlakySink struct {
	next    notify.Sink
	failing atomic.Bool
	dropped atomic.Int64
}

func NewFlakySink(next notify.Sink) *FlakySink {
	return &FlakySink{next: next}
}

func (s *FlakySink) Fail(on bool) { s.failing.Store(on) }

// Dropped counts calls rejected while failing.
func (s *FlakySink) Dropped() int64 { return s.dropped.Load() }

func (s *FlakySink) gate() error {
	if s.failing.Load() {
		s.dropped.Add(1)
		return ErrInjected
	}
	return nil
}

func (s *FlakySink) NotifyAvailable(ctx context.Context, userID, titleID uuid.UUID) error {
	if err := s.gate(); err != nil {
		return err
	}
	return s.next.NotifyAvailable(ctx, userID, titleID)
}

func (s *FlakySink) NotifyOverdue(ctx context.Context, loanID uuid.UUID) error {
	if err := s.gate(); err != nil {
		return err
	}
	return s.next.NotifyOverdue(ctx, loanID)
}

func (s *FlakySink) NotifyDueSoon(ctx context.Context, loanID uuid.UUID) error {
	if err := s.gate(); err != nil {
		return err
	}
	return s.next.NotifyDueSoon(ctx, loanID)
}

func (s *FlakySink) NotifyReturned(ctx context.Context, loanID uuid.UUID) error {
	if err := s.gate(); err != nil {
		return err
	}
	return s.next.NotifyReturned(ctx, loanID)
}
