// internal/cli/operator.go
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jules-labs/libranexus/internal/auth"
	"github.com/jules-labs/libranexus/internal/clients"
	"github.com/jules-labs/libranexus/internal/config"
	"github.com/jules-labs/libranexus/internal/scheduler"
	"github.com/jules-labs/libranexus/internal/store/postgres"
)

func newMigrateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := postgres.Open(cmd.Context(), cfg.Database.URL)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return err
		},
	}
}

// withApp runs fn against a locally wired service graph.
func withApp(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, a *app) error) (err error) {
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, a.Close(context.WithoutCancel(cmd.Context()))) }()
	return fn(cmd.Context(), a)
}

func newSweepCommand(cfg *config.Config, client func() *clients.Client) *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the overdue and due-soon sweep once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if remote {
				report, err := client().Sweep(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			}
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				logger, err := newLogger(cfg, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				report, err := scheduler.NewSweepScheduler(a.lending, cfg.SweepConfig(), logger).RunNow(ctx)
				if perr := printJSON(cmd, report); perr != nil {
					return perr
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "ask the API server to sweep instead of using the database directly")
	cmd.Flags().DurationVar(&cfg.HoldExpiry, "hold-expiry", cfg.HoldExpiry, "also drop notified reservations older than this")
	return cmd
}

func newMemberCommand(cfg *config.Config, client func() *clients.Client) *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Member accounts"}

	var name string
	register := &cobra.Command{
		Use:   "register <email> <password>",
		Short: "Register a member through the API",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			member, err := client().Register(cmd.Context(), args[0], name, args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd, member)
		},
	}
	register.Flags().StringVar(&name, "name", "", "display name")

	login := &cobra.Command{
		Use:   "login <email> <password>",
		Short: "Print a bearer token",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().Login(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return err
		},
	}

	grant := &cobra.Command{
		Use:   "grant-admin <member-id>",
		Short: "Make a member an administrator, directly in the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, cfg, func(ctx context.Context, a *app) error {
				return a.members.Promote(ctx, auth.System, id)
			})
		},
	}

	notices := &cobra.Command{
		Use:   "notices",
		Short: "List the caller's notices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := client().Notices(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		},
	}

	show := &cobra.Command{
		Use:   "show <member-id>",
		Short: "Show a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := idArgs(args)
			if err != nil {
				return err
			}
			member, err := client().Member(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, member)
		},
	}

	promote := &cobra.Command{
		Use:   "promote <member-id>",
		Short: "Make a member an administrator through the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := idArgs(args)
			if err != nil {
				return err
			}
			return client().Promote(cmd.Context(), ids[0])
		},
	}

	cmd.AddCommand(register, login, show, promote, grant, notices)
	return cmd
}
