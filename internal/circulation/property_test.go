// internal/circulation/property_test.go
package circulation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jules-labs/libranexus/internal/fault"
	"github.com/jules-labs/libranexus/internal/store"
)

// TestLendingStateMachine drives random borrow, return, reserve, leave and
// sweep sequences and checks the inventory after every step.
func TestLendingStateMachine(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(rt, rapid.IntRange(1, 3).Draw(rt, "copies"))
		users := make([]uuid.UUID, 4)
		for i := range users {
			users[i] = f.member()
		}
		var open []store.Loan

		rt.Repeat(map[string]func(*rapid.T){
			"borrow": func(rt *rapid.T) {
				u := rapid.SampledFrom(users).Draw(rt, "user")
				head, err := f.svc.Head(f.ctx, f.title.ID)
				require.NoError(rt, err)

				loan, err := f.svc.BorrowTitle(f.ctx, u, f.title.ID)
				if err != nil {
					require.ErrorIs(rt, err, fault.ErrConflict)
					return
				}
				if head != nil {
					require.Equal(rt, head.UserID, loan.UserID, "only the head may borrow from a non-empty queue")
				}
				pos, err := f.svc.Position(f.ctx, u, f.title.ID)
				require.NoError(rt, err)
				require.Equal(rt, NotQueued, pos)
				open = append(open, *loan)
			},
			"return": func(rt *rapid.T) {
				if len(open) == 0 {
					rt.Skip("nothing on loan")
				}
				i := rapid.IntRange(0, len(open)-1).Draw(rt, "loan")
				_, err := f.svc.ReturnLoan(f.ctx, open[i].ID)
				require.NoError(rt, err)
				open = append(open[:i], open[i+1:]...)
			},
			"reserve": func(rt *rapid.T) {
				u := rapid.SampledFrom(users).Draw(rt, "user")
				before, err := f.svc.Queue(f.ctx, f.title.ID)
				require.NoError(rt, err)
				_, err = f.svc.Reserve(f.ctx, u, f.title.ID)
				if err != nil {
					require.ErrorIs(rt, err, ErrAlreadyQueued)
					return
				}
				pos, err := f.svc.Position(f.ctx, u, f.title.ID)
				require.NoError(rt, err)
				require.Equal(rt, len(before)+1, pos, "new entries join at the tail")
			},
			"leave": func(rt *rapid.T) {
				u := rapid.SampledFrom(users).Draw(rt, "user")
				require.NoError(rt, f.svc.Leave(f.ctx, u, f.title.ID))
			},
			"sweep": func(rt *rapid.T) {
				f.clock.AddDays(rapid.IntRange(1, 10).Draw(rt, "days"))
				_, err := f.svc.Sweep(f.ctx)
				require.NoError(rt, err)
			},
			"": func(rt *rapid.T) {
				f.verify(rt)
				queue, err := f.svc.Queue(f.ctx, f.title.ID)
				require.NoError(rt, err)
				for i := 1; i < len(queue); i++ {
					require.Less(rt, queue[i-1].Seq, queue[i].Seq)
				}
			},
		})
	})
}
