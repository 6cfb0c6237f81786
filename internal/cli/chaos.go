// internal/cli/chaos.go
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/catalog"
	"github.com/jules-labs/libranexus/internal/chaos"
	"github.com/jules-labs/libranexus/internal/circulation"
	"github.com/jules-labs/libranexus/internal/clock"
	"github.com/jules-labs/libranexus/internal/config"
	"github.com/jules-labs/libranexus/internal/membership"
	"github.com/jules-labs/libranexus/internal/notify"
	"github.com/jules-labs/libranexus/internal/store/memstore"
)

type chaosOptions struct {
	titles  int
	copies  int
	members int
	observe time.Duration
	pause   time.Duration
}

func newChaosCommand(cfg *config.Config) *cobra.Command {
	opts := chaosOptions{}
	cmd := &cobra.Command{
		Use:   "chaos",
		Short: "Run the lending game day against an in-memory library",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			target, err := seedChaosTarget(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}

			engine := chaos.NewEngine(logger)
			engine.Defaults(target, opts.observe)
			results, err := engine.GameDay(cmd.Context(), "lending game day", opts.pause)
			if perr := printJSON(cmd, results); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			for _, r := range results {
				if !r.HypothesisHeld {
					return fmt.Errorf("hypothesis violated: %s", r.Experiment)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.titles, "titles", 3, "titles to seed")
	cmd.Flags().IntVar(&opts.copies, "copies", 2, "copies per title")
	cmd.Flags().IntVar(&opts.members, "members", 12, "members racing for copies")
	cmd.Flags().DurationVar(&opts.observe, "observe", 2*time.Second, "observation window per experiment")
	cmd.Flags().DurationVar(&opts.pause, "pause", 0, "pause between experiments")
	return cmd
}

// seedChaosTarget builds a throwaway library so experiments never touch real data.
func seedChaosTarget(ctx context.Context, cfg *config.Config, opts chaosOptions) (chaos.Target, error) {
	logger, err := newLogger(&config.Config{Log: config.Log{Level: "error", Format: cfg.Log.Format}}, nil)
	if err != nil {
		return chaos.Target{}, err
	}
	st := memstore.New()
	clk := clock.System{}
	sink := chaos.NewFlakySink(notify.Discard{})
	members := membership.NewService(st, clk, nil, logger)
	lending := circulation.NewService(st, members, notify.NewInbox(st, clk), sink, clk, cfg.Policy(), logger)
	titles := catalog.NewService(st, lending, clk, logger)

	target := chaos.Target{Lending: lending, Sink: sink}
	for i := 0; i < opts.titles; i++ {
		title, err := titles.AddTitle(ctx, auth.System, catalog.NewTitle{Name: fmt.Sprintf("Chaos title %d", i+1), Copies: opts.copies})
		if err != nil {
			return chaos.Target{}, err
		}
		target.Titles = append(target.Titles, title.ID)
	}
	for i := 0; i < opts.members; i++ {
		m, err := members.RegisterMember(ctx, fmt.Sprintf("chaos-%d-%s@example.com", i, uuid.NewString()[:8]), "chaos", "chaos-password")
		if err != nil {
			return chaos.Target{}, err
		}
		target.Members = append(target.Members, m.ID)
	}
	return target, nil
}
