// internal/chaos/chaos_test.go
package chaos

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/circulation"
	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/notify"
	"github.com/jules-labs/libranexus/internal/store"
	"github.com/jules-labs/libranexus/internal/store/memstore"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type directory map[uuid.UUID]store.Member

func (d directory) FindUser(_ context.Context, id uuid.UUID) (*store.Member, error) {
	m, ok := d[id]
	if !ok {
		return nil, fault.New(fault.ErrNotFound, "member not found")
	}
	return &m, nil
}

func newTarget(t *testing.T, titles, copies, members int) Target {
	ctx := context.Background()
	st := memstore.New()
	c := clock.NewManual(time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC))
	users := directory{}
	sink := NewFlakySink(notify.Discard{})
	lending := circulation.NewService(st, users, notify.NewInbox(st, c), sink, c, circulation.DefaultPolicy(), quiet)

	target := Target{Lending: lending, Sink: sink}
	for i := 0; i < titles; i++ {
		title := store.Title{ID: uuid.New(), Name: "Title", CreatedAt: c.Now()}
		require.NoError(t, st.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.Titles().Insert(ctx, &title)
		}))
		_, err := lending.Restock(ctx, auth.System, title.ID, copies)
		require.NoError(t, err)
		target.Titles = append(target.Titles, title.ID)
	}
	for i := 0; i < members; i++ {
		id := uuid.New()
		users[id] = store.Member{ID: id, Role: store.RoleMember, Status: "active"}
		target.Members = append(target.Members, id)
	}
	return target
}

func TestThresholdHolds(t *testing.T) {
	cases := []struct {
		op   string
		v    float64
		want bool
	}{
		{">", 2, true}, {">", 1, false},
		{"<", 0, true}, {">=", 1, true},
		{"<=", 2, false}, {"==", 1, true},
		{"!=", 1, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Threshold{Operator: tc.op, Value: 1}.Holds(tc.v), "%v %s 1", tc.v, tc.op)
	}
}

func TestLendingExperimentsHold(t *testing.T) {
	target := newTarget(t, 2, 2, 6)
	engine := NewEngine(quiet)
	engine.Defaults(target, 20*time.Millisecond)
	require.Len(t, engine.Experiments(), 3)

	results, err := engine.GameDay(context.Background(), "test", 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.SteadyStateValid, r.Experiment)
		assert.True(t, r.HypothesisHeld, "%s: violations=%v failed=%v errors=%v", r.Experiment, r.Violations, r.Failed, r.ErrorEvents)
	}
	assert.Len(t, engine.Results(), 3)
	assert.Positive(t, target.Sink.Dropped())
}

func TestRunAbortsOnBrokenSteadyState(t *testing.T) {
	engine := NewEngine(quiet)
	injected := false
	result, err := engine.Run(context.Background(), Experiment{
		Name: "broken",
		SteadyState: []Probe{{
			Name:      "always_bad",
			Query:     func(context.Context) (float64, error) { return 5, nil },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{Execute: func(context.Context) error {
			injected = true
			return nil
		}}},
	})
	require.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, result.SteadyStateValid)
	assert.False(t, injected)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, 5.0, result.Violations[0].Actual)
}

func TestRunRecordsRecovery(t *testing.T) {
	engine := NewEngine(quiet)
	var broken, rolledBack bool
	probe := Probe{
		Name: "errors",
		Query: func(context.Context) (float64, error) {
			if broken {
				return 1, nil
			}
			return 0, nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
	result, err := engine.Run(context.Background(), Experiment{
		Name:        "recovering",
		SteadyState: []Probe{probe},
		Method: []Action{
			{Target: "x", Execute: func(context.Context) error {
				broken = true
				return nil
			}},
			{Target: "y", Execute: func(context.Context) error { return errors.New("boom") }},
		},
		Rollback: []Action{{Execute: func(context.Context) error {
			broken = false
			rolledBack = true
			return nil
		}}},
		Validation: []Assertion{{Probe: "errors", Condition: zero, Message: "recovers after rollback"}},
		Duration:   30 * time.Millisecond,
		Interval:   5 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, rolledBack)
	assert.NotEmpty(t, result.Violations)
	assert.False(t, result.HypothesisHeld)
	assert.Empty(t, result.Failed, "last sample is taken after rollback")
	require.Len(t, result.ErrorEvents, 1)
	assert.Equal(t, "y", result.ErrorEvents[0].Component)
}

func TestFlakySink(t *testing.T) {
	sink := NewFlakySink(notify.Discard{})
	ctx := context.Background()
	require.NoError(t, sink.NotifyOverdue(ctx, uuid.New()))

	sink.Fail(true)
	assert.ErrorIs(t, sink.NotifyReturned(ctx, uuid.New()), ErrInjected)
	assert.ErrorIs(t, sink.NotifyAvailable(ctx, uuid.New(), uuid.New()), ErrInjected)
	assert.EqualValues(t, 2, sink.Dropped())

	sink.Fail(false)
	assert.NoError(t, sink.NotifyDueSoon(ctx, uuid.New()))
}
