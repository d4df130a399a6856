package main

import (
	"github.com/spf13/cobra"

	"ticksync/internal/app"
)

func observeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "observe <url>",
		Short:   "Follow a server and log smoothed entity positions",
		Example: "  ticksync observe ws://localhost:8080/ws",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return app.RunObserver(ctx, cfg, args[0], app.Deps{Stdout: cmd.OutOrStdout()})
		},
	}
}
