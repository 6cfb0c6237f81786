// internal/catalog/catalog_test.go
package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/inventory"
	"github.com/jules-labs/libranexus/internal/store"
	"github.com/jules-labs/libranexus/internal/store/memstore"
)

type stubStock struct {
	restocked map[uuid.UUID]int
}

func (s *stubStock) Restock(_ context.Context, p auth.Principal, titleID uuid.UUID, n int) ([]store.Copy, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	s.restocked[titleID] += n
	return make([]store.Copy, n), nil
}

func (s *stubStock) RemoveCopy(context.Context, auth.Principal, uuid.UUID) error { return nil }

func (s *stubStock) Verify(_ context.Context, _ auth.Principal, titleID uuid.UUID) (inventory.IntegrityReport, error) {
	return inventory.IntegrityReport{TitleID: titleID}, nil
}

func newTestService() (Service, *memstore.Store) {
	st := memstore.New()
	c := clock.NewManual(time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	stock := &stubStock{restocked: map[uuid.UUID]int{}}
	return NewService(st, stock, c, slog.New(slog.NewTextHandler(io.Discard, nil))), st
}

func TestAddTitle(t *testing.T) {
	svc, st := newTestService()
	ctx := context.Background()

	title, err := svc.AddTitle(ctx, auth.System, NewTitle{
		ISBN:       "978-0-06-051275-8",
		Name:       "The Left Hand of Darkness",
		Author:     "Ursula K. Le Guin",
		Categories: []string{"science fiction"},
		Copies:     3,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, title.TotalCopies)

	view, err := svc.GetTitle(ctx, title.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, view.TotalCopies)
	assert.Equal(t, 3, view.Available)
	require.Len(t, view.Copies, 3)
	assert.Less(t, view.Copies[0].Seq, view.Copies[1].Seq)

	require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		events, err := tx.Events().Load(ctx, title.ID)
		require.Len(t, events, 1)
		assert.Equal(t, "TitleAdded", events[0].EventType)
		return err
	}))
}

func TestAddTitleValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.AddTitle(ctx, auth.Principal{UserID: uuid.New(), Role: store.RoleMember}, NewTitle{Name: "Dune"})
	assert.ErrorIs(t, err, auth.ErrNotAdmin)

	_, err = svc.AddTitle(ctx, auth.System, NewTitle{Name: "  "})
	assert.ErrorIs(t, err, fault.ErrInvalid)

	_, err = svc.AddTitle(ctx, auth.System, NewTitle{Name: "Dune", Copies: -1})
	assert.ErrorIs(t, err, fault.ErrInvalid)

	_, err = svc.GetTitle(ctx, uuid.New())
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestSearch(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for _, in := range []NewTitle{
		{Name: "Kindred", Author: "Octavia E. Butler", Categories: []string{"fiction"}},
		{Name: "Parable of the Sower", Author: "Octavia E. Butler", Copies: 1},
		{Name: "Roadside Picnic", Author: "Arkady and Boris Strugatsky", ISBN: "978-1-61374-341-6"},
	} {
		_, err := svc.AddTitle(ctx, auth.System, in)
		require.NoError(t, err)
	}

	found, err := svc.Search(ctx, "butler")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = svc.Search(ctx, "978-1-61374-341-6")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Roadside Picnic", found[0].Name)

	found, err = svc.Search(ctx, "FICTION")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = svc.Search(ctx, "")
	assert.ErrorIs(t, err, fault.ErrInvalid)

	all, err := svc.ListTitles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStockChangesGoThroughTheEngine(t *testing.T) {
	st := memstore.New()
	stock := &stubStock{restocked: map[uuid.UUID]int{}}
	svc := NewService(st, stock, clock.System{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	title, err := svc.AddTitle(ctx, auth.System, NewTitle{Name: "Stand on Zanzibar", Copies: 1})
	require.NoError(t, err)

	added, err := svc.AddCopies(ctx, auth.System, title.ID, 2)
	require.NoError(t, err)
	assert.Len(t, added, 2)
	assert.Equal(t, 2, stock.restocked[title.ID])

	copies, err := svc.Copies(ctx, title.ID)
	require.NoError(t, err)
	assert.Len(t, copies, 1, "the stub does not persist copies")

	report, err := svc.Verify(ctx, auth.System, title.ID)
	require.NoError(t, err)
	assert.Equal(t, title.ID, report.TitleID)

	_, err = svc.Copies(ctx, uuid.New())
	assert.ErrorIs(t, err, fault.ErrNotFound)
}
