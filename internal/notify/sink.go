// internal/notify/sink.go

// Package notify records member notices and delivers lending events.
//
// Notices are written inside the lending transaction through the Inbox.
// Sinks are called after commit and are best-effort: their errors are
// logged by the caller and never undo the state change that caused them.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Sink receives lending events.
type Sink interface {
	NotifyAvailable(ctx context.Context, userID, titleID uuid.UUID) error
	NotifyOverdue(ctx context.Context, loanID uuid.UUID) error
	NotifyDueSoon(ctx context.Context, loanID uuid.UUID) error
	NotifyReturned(ctx context.Context, loanID uuid.UUID) error
}

// Fanout forwards every event to all sinks and joins their errors.
type Fanout []Sink

func (f Fanout) NotifyAvailable(ctx context.Context, userID, titleID uuid.UUID) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.NotifyAvailable(ctx, userID, titleID))
	}
	return errors.Join(errs...)
}

func (f Fanout) NotifyOverdue(ctx context.Context, loanID uuid.UUID) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.NotifyOverdue(ctx, loanID))
	}
	return errors.Join(errs...)
}

func (f Fanout) NotifyDueSoon(ctx context.Context, loanID uuid.UUID) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.NotifyDueSoon(ctx, loanID))
	}
	return errors.Join(errs...)
}

func (f Fanout) NotifyReturned(ctx context.Context, loanID uuid.UUID) error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.NotifyReturned(ctx, loanID))
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) NotifyAvailable(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (Discard) NotifyOverdue(context.Context, uuid.UUID) error              { return nil }
func (Discard) NotifyDueSoon(context.Context, uuid.UUID) error              { return nil }
func (Discard) NotifyReturned(context.Context, uuid.UUID) error             { return nil }
