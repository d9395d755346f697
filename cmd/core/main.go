// Command core is the conversation server: it owns sessions, talks to the
// model provider and streams events to clients over a local socket.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"parley/internal/config"
	"parley/internal/logging"
)

func main() {
	if err := newRootCmd(os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logOut io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "core",
		Short:         "Serve conversation sessions over a local socket",
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := logging.New(logOut, cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := wireDaemon(cfg, logger)
			if err != nil {
				return fmt.Errorf("core init failed: %w", err)
			}
			defer d.close()
			if err := d.run(ctx); err != nil {
				return fmt.Errorf("core server failed: %w", err)
			}
			return nil
		},
	}
	cmd.SetContext(context.Background())
	config.RegisterServerFlags(cmd.Flags())
	return cmd
}
