// internal/inventory/registry_test.go
package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/store"
	"github.com/jules-labs/libranexus/internal/store/memstore"
)

type fixture struct {
	st      *memstore.Store
	reg     *Registry
	titleID uuid.UUID
	copies  []store.Copy
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	f := &fixture{
		st:      memstore.New(),
		reg:     NewRegistry(clock.NewManual(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC))),
		titleID: uuid.New(),
	}
	f.run(t, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.Titles().Insert(ctx, &store.Title{ID: f.titleID, Name: "Solaris"}))
		if n > 0 {
			added, err := f.reg.AddCopies(ctx, tx, f.titleID, n)
			require.NoError(t, err)
			f.copies = added
		}
	})
	return f
}

func (f *fixture) run(t *testing.T, fn func(ctx context.Context, tx store.Tx)) {
	t.Helper()
	require.NoError(t, f.st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		fn(ctx, tx)
		return nil
	}))
}

func TestAllocateAnyAvailablePicksEarliestAdded(t *testing.T) {
	f := newFixture(t, 3)
	f.run(t, func(ctx context.Context, tx store.Tx) {
		c, err := f.reg.AllocateAnyAvailable(ctx, tx, f.titleID)
		require.NoError(t, err)
		assert.Equal(t, f.copies[0].ID, c.ID)

		require.NoError(t, f.reg.MarkUnavailable(ctx, tx, f.copies[0].ID))
		c, err = f.reg.AllocateAnyAvailable(ctx, tx, f.titleID)
		require.NoError(t, err)
		assert.Equal(t, f.copies[1].ID, c.ID)
	})
}

func TestAllocateAnyAvailableExhausted(t *testing.T) {
	f := newFixture(t, 1)
	f.run(t, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, f.reg.MarkUnavailable(ctx, tx, f.copies[0].ID))
		_, err := f.reg.AllocateAnyAvailable(ctx, tx, f.titleID)
		assert.ErrorIs(t, err, ErrNoAvailableCopy)
		assert.ErrorIs(t, err, fault.ErrConflict)
	})
}

func TestFlipsAreGuarded(t *testing.T) {
	f := newFixture(t, 1)
	id := f.copies[0].ID
	f.run(t, func(ctx context.Context, tx store.Tx) {
		err := f.reg.MarkAvailable(ctx, tx, id)
		assert.ErrorIs(t, err, ErrFlipRejected)
		assert.ErrorIs(t, err, fault.ErrInvariant)

		require.NoError(t, f.reg.MarkUnavailable(ctx, tx, id))
		assert.ErrorIs(t, f.reg.MarkUnavailable(ctx, tx, id), ErrFlipRejected)

		ok, err := f.reg.IsAvailable(ctx, tx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		assert.ErrorIs(t, f.reg.MarkAvailable(ctx, tx, uuid.New()), ErrCopyNotFound)
	})
}

func TestSetAvailableIsPermissive(t *testing.T) {
	f := newFixture(t, 1)
	id := f.copies[0].ID
	f.run(t, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, f.reg.SetAvailable(ctx, tx, id, true))
		require.NoError(t, f.reg.SetAvailable(ctx, tx, id, false))
		require.NoError(t, f.reg.SetAvailable(ctx, tx, id, false))

		ok, err := f.reg.IsAvailable(ctx, tx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestAddAndRemoveCopiesKeepCounter(t *testing.T) {
	f := newFixture(t, 2)
	f.run(t, func(ctx context.Context, tx store.Tx) {
		_, err := f.reg.AddCopies(ctx, tx, f.titleID, 0)
		assert.ErrorIs(t, err, fault.ErrInvalid)

		_, err = f.reg.RemoveCopy(ctx, tx, f.copies[1].ID)
		require.NoError(t, err)

		title, err := tx.Titles().Get(ctx, f.titleID)
		require.NoError(t, err)
		assert.Equal(t, 1, title.TotalCopies)

		copies, err := f.reg.CopiesOf(ctx, tx, f.titleID)
		require.NoError(t, err)
		assert.Len(t, copies, 1)

		_, err = f.reg.CopiesOf(ctx, tx, uuid.New())
		assert.ErrorIs(t, err, ErrTitleNotFound)
	})
}

func TestRemoveCopyRefusesOpenLoan(t *testing.T) {
	f := newFixture(t, 1)
	id := f.copies[0].ID
	f.run(t, func(ctx context.Context, tx store.Tx) {
		require.NoError(t, tx.Loans().Insert(ctx, &store.Loan{
			ID: uuid.New(), CopyID: id, TitleID: f.titleID, Status: store.LoanOverdue,
		}))
		_, err := f.reg.RemoveCopy(ctx, tx, id)
		assert.ErrorIs(t, err, ErrCopyOnLoan)
	})
}

func TestVerifyFindsMismatches(t *testing.T) {
	f := newFixture(t, 2)
	f.run(t, func(ctx context.Context, tx store.Tx) {
		report, err := f.reg.Verify(ctx, tx, f.titleID)
		require.NoError(t, err)
		assert.True(t, report.Consistent())

		// an open loan without the flag flip
		require.NoError(t, tx.Loans().Insert(ctx, &store.Loan{
			ID: uuid.New(), CopyID: f.copies[0].ID, TitleID: f.titleID, Status: store.LoanActive,
		}))
		require.NoError(t, tx.Titles().AdjustCopies(ctx, f.titleID, 1))

		report, err = f.reg.Verify(ctx, tx, f.titleID)
		require.NoError(t, err)
		assert.False(t, report.Consistent())
		assert.Equal(t, []uuid.UUID{f.copies[0].ID}, report.FlagMismatch)
		assert.Equal(t, 3, report.TotalCopies)
		assert.Equal(t, 2, report.CopyCount)
	})
}
