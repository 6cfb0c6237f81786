// internal/store/memstore/memstore_test.go
package memstore

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/libranexus/internal/store"
)

func newTitle(t *testing.T, s *Store, copies int) (uuid.UUID, []uuid.UUID) {
	t.Helper()
	titleID := uuid.New()
	var ids []uuid.UUID
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.Titles().Insert(ctx, &store.Title{ID: titleID, Name: "Dune", TotalCopies: copies}); err != nil {
			return err
		}
		for i := 0; i < copies; i++ {
			c := store.Copy{ID: uuid.New(), TitleID: titleID, Available: true}
			if err := tx.Copies().Insert(ctx, &c); err != nil {
				return err
			}
			ids = append(ids, c.ID)
		}
		return nil
	})
	require.NoError(t, err)
	return titleID, ids
}

func TestRollbackDiscardsWrites(t *testing.T) {
	s := New()
	titleID, copies := newTitle(t, s, 1)
	boom := errors.New("boom")

	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Copies().CompareAndSetAvailable(ctx, copies[0], true, false))
		require.NoError(t, tx.Titles().AdjustCopies(ctx, titleID, 5))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		c, err := tx.Copies().Get(ctx, copies[0])
		require.NoError(t, err)
		assert.True(t, c.Available)
		title, err := tx.Titles().Get(ctx, titleID)
		require.NoError(t, err)
		assert.Equal(t, 1, title.TotalCopies)
		return nil
	}))
}

func TestPanicRollsBackAndUnlocks(t *testing.T) {
	s := New()
	_, copies := newTitle(t, s, 1)

	assert.Panics(t, func() {
		_ = s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			_ = tx.Copies().CompareAndSetAvailable(ctx, copies[0], true, false)
			panic("boom")
		})
	})

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		c, err := tx.Copies().Get(ctx, copies[0])
		require.NoError(t, err)
		assert.True(t, c.Available)
		return nil
	}))
}

func TestCopySeqOrdersAllocation(t *testing.T) {
	s := New()
	titleID, copies := newTitle(t, s, 3)

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Copies().CompareAndSetAvailable(ctx, copies[0], true, false))
		first, err := tx.Copies().FirstAvailable(ctx, titleID)
		require.NoError(t, err)
		assert.Equal(t, copies[1], first.ID)

		err = tx.Copies().CompareAndSetAvailable(ctx, copies[0], true, false)
		assert.ErrorIs(t, err, store.ErrPrecondition)
		return nil
	}))
}

func TestFirstAvailableNone(t *testing.T) {
	s := New()
	titleID, _ := newTitle(t, s, 0)
	err := s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Copies().FirstAvailable(ctx, titleID)
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReservationUniqueWaiting(t *testing.T) {
	s := New()
	titleID, _ := newTitle(t, s, 0)
	user := uuid.New()

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		first := store.Reservation{ID: uuid.New(), UserID: user, TitleID: titleID, Status: store.ReservationWaiting}
		require.NoError(t, tx.Reservations().Insert(ctx, &first))

		dup := store.Reservation{ID: uuid.New(), UserID: user, TitleID: titleID, Status: store.ReservationWaiting}
		assert.ErrorIs(t, tx.Reservations().Insert(ctx, &dup), store.ErrDuplicate)

		// once notified, a new waiting entry is allowed
		require.NoError(t, tx.Reservations().MarkNotified(ctx, first.ID, time.Now()))
		again := store.Reservation{ID: uuid.New(), UserID: user, TitleID: titleID, Status: store.ReservationWaiting}
		require.NoError(t, tx.Reservations().Insert(ctx, &again))
		assert.Greater(t, again.Seq, first.Seq)

		assert.ErrorIs(t, tx.Reservations().MarkNotified(ctx, first.ID, time.Now()), store.ErrPrecondition)

		n, err := tx.Reservations().DeleteFor(ctx, user, titleID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
		return nil
	}))
}

func TestLoanUpdateVersion(t *testing.T) {
	s := New()
	titleID, copies := newTitle(t, s, 1)
	loan := store.Loan{ID: uuid.New(), CopyID: copies[0], TitleID: titleID, Status: store.LoanActive}

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.Loans().Insert(ctx, &loan))
		assert.Equal(t, 1, loan.Version)

		second := store.Loan{ID: uuid.New(), CopyID: copies[0], TitleID: titleID, Status: store.LoanActive}
		assert.ErrorIs(t, tx.Loans().Insert(ctx, &second), store.ErrDuplicate)

		stale := loan
		loan.Prolonged = true
		require.NoError(t, tx.Loans().Update(ctx, &loan))
		assert.Equal(t, 2, loan.Version)
		assert.ErrorIs(t, tx.Loans().Update(ctx, &stale), store.ErrConcurrencyConflict)
		return nil
	}))
}

func TestLoanFindFilters(t *testing.T) {
	s := New()
	titleID, copies := newTitle(t, s, 3)
	user := uuid.New()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for i, c := range copies {
			l := store.Loan{
				ID: uuid.New(), UserID: user, CopyID: c, TitleID: titleID, Status: store.LoanActive,
				StartDate: day.AddDate(0, 0, -i), EndDate: day.AddDate(0, 0, i),
			}
			require.NoError(t, tx.Loans().Insert(ctx, &l))
		}

		all, err := tx.Loans().Find(ctx, store.LoanFilter{UserID: user})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, copies[2], all[0].CopyID, "ordered by start date")

		due, err := tx.Loans().Find(ctx, store.LoanFilter{DueFrom: day, DueBefore: day.AddDate(0, 0, 2)})
		require.NoError(t, err)
		assert.Len(t, due, 2)

		none, err := tx.Loans().Find(ctx, store.LoanFilter{Statuses: []store.LoanStatus{store.LoanOverdue}})
		require.NoError(t, err)
		assert.Empty(t, none)
		return nil
	}))
}

func TestEventsAppend(t *testing.T) {
	s := New()
	agg := uuid.New()
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Events().Append(ctx, agg, "loan", 0, []store.Event{{EventType: "LoanOpened"}, {EventType: "LoanExtended"}})
	}))
	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Events().Append(ctx, agg, "loan", 1, []store.Event{{EventType: "LoanReturned"}})
	})
	assert.ErrorIs(t, err, store.ErrConcurrencyConflict)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		evs, err := tx.Events().Load(ctx, agg)
		require.NoError(t, err)
		require.Len(t, evs, 2)
		assert.Equal(t, 2, evs[1].Version)
		return nil
	}))
}

func TestRolledBackAppendLeavesStreamIntact(t *testing.T) {
	s := New()
	agg := uuid.New()
	ctx := context.Background()
	boom := errors.New("boom")

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Events().Append(ctx, agg, "loan", 0, []store.Event{{EventType: "LoanOpened"}})
	}))
	for range 3 {
		err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			require.NoError(t, tx.Events().Append(ctx, agg, "loan", 1, []store.Event{{EventType: "LoanReturned"}}))
			return boom
		})
		require.ErrorIs(t, err, boom)
	}
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Events().Append(ctx, agg, "loan", 1, []store.Event{{EventType: "LoanExtended"}})
	}))

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		evs, err := tx.Events().Load(ctx, agg)
		require.NoError(t, err)
		require.Len(t, evs, 2)
		assert.Equal(t, "LoanExtended", evs[1].EventType)
		return nil
	}))
}

func TestReadOnlyTxSharesCommittedTables(t *testing.T) {
	s := New()
	titleID, copies := newTitle(t, s, 2)
	before := reflect.ValueOf(s.committed.copies).Pointer()

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Copies().ListByTitle(ctx, titleID)
		return err
	}))
	assert.Equal(t, before, reflect.ValueOf(s.committed.copies).Pointer())

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Copies().CompareAndSetAvailable(ctx, copies[0], true, false)
	}))
	assert.NotEqual(t, before, reflect.ValueOf(s.committed.copies).Pointer())
}

func TestCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.InTx(ctx, func(context.Context, store.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
