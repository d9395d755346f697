// Command tui is an interactive chat client. It streams a session's events
// and runs the read-only builtin tools locally when the model asks for them.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"parley/internal/builtins"
	"parley/internal/config"
	"parley/internal/ipc"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		sessionID string
		cwd       string
		rounds    int
	)
	cmd := &cobra.Command{
		Use:           "tui",
		Short:         "Chat with a core session from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if cwd == "" {
				if cwd, err = os.Getwd(); err != nil {
					return err
				}
			}
			client, err := ipc.Dial(cfg.Server.Network, cfg.Server.Address, 2*time.Second)
			if err != nil {
				return fmt.Errorf("connect to core: %w", err)
			}
			defer client.Close()

			a := newApp(client, builtins.DefaultTools(cwd), cmd.OutOrStdout())
			a.maxToolRounds = rounds
			return a.run(cmd.Context(), cmd.InOrStdin(), sessionID, cwd)
		},
	}
	config.RegisterClientFlags(cmd.Flags())
	cmd.Flags().StringVar(&sessionID, "session", "", "attach to an existing session instead of creating one")
	cmd.Flags().StringVar(&cwd, "cwd", "", "directory the local tools operate in (default current directory)")
	cmd.Flags().IntVar(&rounds, "max-tool-rounds", defaultToolRounds, "tool round trips allowed per query")
	return cmd
}
