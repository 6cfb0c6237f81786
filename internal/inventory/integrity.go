// internal/inventory/integrity.go
package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jules-labs/libranexus/internal/store"
)

// IntegrityReport describes how a title's copies disagree with its loans.
type IntegrityReport struct {
	TitleID     uuid.UUID `json:"title_id"`
	TotalCopies int       `json:"total_copies"`
	CopyCount   int       `json:"copy_count"`
	// DoubleLoaned lists copies referenced by more than one open loan.
	DoubleLoaned []uuid.UUID `json:"double_loaned"`
	// FlagMismatch lists copies whose Available flag contradicts their open loans.
	FlagMismatch []uuid.UUID `json:"flag_mismatch"`
}

// Consistent reports whether no violation was found.
func (r IntegrityReport) Consistent() bool {
	return r.TotalCopies == r.CopyCount && len(r.DoubleLoaned) == 0 && len(r.FlagMismatch) == 0
}

// Verify cross-checks copy flags, open loans and the title counter.
func (r *Registry) Verify(ctx context.Context, tx store.Tx, titleID uuid.UUID) (IntegrityReport, error) {
	t, err := r.title(ctx, tx, titleID)
	if err != nil {
		return IntegrityReport{}, err
	}
	copies, err := tx.Copies().ListByTitle(ctx, titleID)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("list copies: %w", err)
	}
	open, err := tx.Loans().Find(ctx, store.LoanFilter{TitleID: titleID, Statuses: store.OpenLoanStatuses})
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("find open loans: %w", err)
	}

	openPerCopy := make(map[uuid.UUID]int, len(open))
	for _, l := range open {
		openPerCopy[l.CopyID]++
	}

	report := IntegrityReport{
		TitleID:      titleID,
		TotalCopies:  t.TotalCopies,
		CopyCount:    len(copies),
		DoubleLoaned: []uuid.UUID{},
		FlagMismatch: []uuid.UUID{},
	}
	for _, c := range copies {
		n := openPerCopy[c.ID]
		if n > 1 {
			report.DoubleLoaned = append(report.DoubleLoaned, c.ID)
		}
		if c.Available != (n == 0) {
			report.FlagMismatch = append(report.FlagMismatch, c.ID)
		}
	}
	return report, nil
}
