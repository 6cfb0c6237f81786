// internal/cli/root.go

// Package cli holds the libranexus command tree.
package cli

import (
	"io"
	"log/slog"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/jules-labs/libranexus/internal/clients"
	"github.com/jules-labs/libranexus/internal/config"
	"github.com/jules-labs/libranexus/internal/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewRoot builds the command tree. Settings come from the environment; the
// API commands also accept --api-url and --token.
func NewRoot() *cobra.Command {
	cfg := config.NewConfig()

	root := &cobra.Command{
		Use:           "libranexus",
		Short:         "Library lending service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.Client.APIURL, "api-url", cfg.Client.APIURL, "API base URL")
	root.PersistentFlags().StringVar(&cfg.Client.Token, "token", cfg.Client.Token, "bearer token")

	client := func() *clients.Client { return clients.New(cfg.Client.APIURL, cfg.Client.Token) }

	root.AddCommand(
		newServeCommand(cfg),
		newMigrateCommand(cfg),
		newSweepCommand(cfg, client),
		newChaosCommand(cfg),
		newMemberCommand(cfg, client),
		newTitleCommand(client),
		newLoanCommand(client),
		newQueueCommand(client),
	)
	return root
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	return telemetry.NewLogger(w, cfg.Log.Level, cfg.Log.Format)
}

// printJSON writes v indented to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(append(out, '\n'))
	return err
}
