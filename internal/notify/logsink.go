// internal/notify/logsink.go
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "notify")}
}

func (s *LogSink) NotifyAvailable(ctx context.Context, userID, titleID uuid.UUID) error {
	s.logger.InfoContext(ctx, "copy available for queue head", "user_id", userID, "title_id", titleID)
	return nil
}

func (s *LogSink) NotifyOverdue(ctx context.Context, loanID uuid.UUID) error {
	s.logger.InfoContext(ctx, "loan overdue", "loan_id", loanID)
	return nil
}

func (s *LogSink) NotifyDueSoon(ctx context.Context, loanID uuid.UUID) error {
	s.logger.InfoContext(ctx, "loan due soon", "loan_id", loanID)
	return nil
}

func (s *LogSink) NotifyReturned(ctx context.Context, loanID uuid.UUID) error {
	s.logger.InfoContext(ctx, "loan returned", "loan_id", loanID)
	return nil
}
