package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ticksync/internal/config"
	"ticksync/logging"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "ticksync",
		Short: "Tick-based entity state synchronization",
		Long: `ticksync runs an authoritative simulation that streams entity state
to observers as compact deltas over websockets, and an observer that
follows such a server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "ticksync.yaml", "Path to the YAML configuration")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug events")

	cmd.AddCommand(
		serveCmd(opts),
		observeCmd(opts),
		configCmd(opts),
	)
	return cmd
}

// load reads the configuration named by the persistent flags.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.verbose {
		cfg.Logging.MinimumSeverity = logging.SeverityDebug
	}
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
