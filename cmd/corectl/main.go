// Command corectl sends single commands to a running core server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"parley/internal/config"
	"parley/internal/core"
	"parley/internal/ipc"
	"parley/internal/protocol"
)

const dialTimeout = 2 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var timeout time.Duration
	root := &cobra.Command{
		Use:           "corectl",
		Short:         "Send commands to a core server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	config.RegisterClientFlags(root.PersistentFlags())
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall command timeout")

	run := func(typ protocol.CommandType, payload func(args []string) (any, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			p, err := payload(args)
			if err != nil {
				return err
			}
			return withClient(cmd, timeout, func(ctx context.Context, c *ipc.Client) error {
				raw, err := c.Do(ctx, typ, p)
				if err != nil {
					return formatError(err)
				}
				return printPayload(cmd.OutOrStdout(), typ, raw)
			})
		}
	}
	ref := func(args []string) (any, error) {
		return protocol.SessionRef{SessionID: args[0]}, nil
	}

	var create protocol.CreateSessionPayload
	var creds protocol.Credentials
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session",
		Args:  cobra.NoArgs,
		RunE: run(protocol.CmdCreateSession, func([]string) (any, error) {
			if creds != (protocol.Credentials{}) {
				create.Credentials = &creds
			}
			return create, nil
		}),
	}
	createCmd.Flags().StringVar(&create.Owner, "owner", "", "session owner")
	createCmd.Flags().StringVar(&create.WorkingDirectory, "cwd", "", "working directory reported to the model")
	createCmd.Flags().StringVar(&creds.Model, "model", "", "provider model")
	createCmd.Flags().StringVar(&creds.BaseURL, "base-url", "", "provider base URL")
	createCmd.Flags().StringVar(&creds.APIKey, "api-key", "", "provider API key")

	var owner string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Args:  cobra.NoArgs,
		RunE: run(protocol.CmdListSessions, func([]string) (any, error) {
			return protocol.ListSessionsPayload{Owner: owner}, nil
		}),
	}
	listCmd.Flags().StringVar(&owner, "owner", "", "only sessions of this owner")

	var approve, reject bool
	decideCmd := &cobra.Command{
		Use:   "decide <session-id> <call-id>",
		Short: "Approve or reject a pending tool call",
		Args:  cobra.ExactArgs(2),
		RunE: run(protocol.CmdToolDecision, func(args []string) (any, error) {
			if approve == reject {
				return nil, errors.New("exactly one of --approve or --reject is required")
			}
			return protocol.ToolDecisionPayload{SessionID: args[0], CallID: args[1], Approved: approve}, nil
		}),
	}
	decideCmd.Flags().BoolVar(&approve, "approve", false, "approve the call")
	decideCmd.Flags().BoolVar(&reject, "reject", false, "reject the call")

	root.AddCommand(
		&cobra.Command{Use: "ping", Short: "Check the server is up", Args: cobra.NoArgs, RunE: run(protocol.CmdPing, func([]string) (any, error) { return nil, nil })},
		createCmd,
		listCmd,
		&cobra.Command{Use: "get <session-id>", Short: "Show a session", Args: cobra.ExactArgs(1), RunE: run(protocol.CmdGetSession, ref)},
		&cobra.Command{Use: "delete <session-id>", Short: "Delete a session and its history", Args: cobra.ExactArgs(1), RunE: run(protocol.CmdDeleteSession, ref)},
		&cobra.Command{Use: "stats <session-id>", Short: "Show message count and token usage", Args: cobra.ExactArgs(1), RunE: run(protocol.CmdSessionStats, ref)},
		&cobra.Command{Use: "compress <session-id>", Short: "Compress persisted history", Args: cobra.ExactArgs(1), RunE: run(protocol.CmdCompressSession, ref)},
		&cobra.Command{Use: "cancel <session-id>", Short: "Cancel the turn in flight", Args: cobra.ExactArgs(1), RunE: run(protocol.CmdCancel, ref)},
		decideCmd,
		newSendCmd(&timeout),
		newRespondCmd(&timeout),
	)
	return root
}

func newSendCmd(timeout *time.Duration) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "send <session-id> <text...>",
		Short: "Send a query and print the streamed events",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := json.Marshal(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return stream(cmd, *timeout, args[0], text, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as NDJSON")
	return cmd
}

func newRespondCmd(timeout *time.Duration) *cobra.Command {
	var (
		asJSON bool
		name   string
		failed bool
	)
	cmd := &cobra.Command{
		Use:   "respond <session-id> <call-id> <output>",
		Short: "Send the result of a tool call and print the streamed events",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := "output"
			if failed {
				key = "error"
			}
			parts := []protocol.FunctionResponsePart{{FunctionResponse: protocol.FunctionResponse{
				ID:       args[1],
				Name:     name,
				Response: map[string]any{key: args[2]},
			}}}
			msg, err := json.Marshal(parts)
			if err != nil {
				return err
			}
			return stream(cmd, *timeout, args[0], msg, asJSON)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "tool name")
	cmd.Flags().BoolVar(&failed, "error", false, "report output as a tool failure")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as NDJSON")
	return cmd
}

// stream subscribes to sessionID, submits message and prints events up to
// the terminal event of the provider call.
func stream(cmd *cobra.Command, timeout time.Duration, sessionID string, message json.RawMessage, asJSON bool) error {
	return withClient(cmd, timeout, func(ctx context.Context, c *ipc.Client) error {
		if err := c.Call(ctx, protocol.CmdSubscribe, protocol.SessionRef{SessionID: sessionID}, nil); err != nil {
			return formatError(err)
		}
		if err := c.Call(ctx, protocol.CmdMessage, protocol.MessagePayload{SessionID: sessionID, Message: message}, nil); err != nil {
			return formatError(err)
		}
		events, err := c.CollectCall(ctx)
		out := cmd.OutOrStdout()
		if asJSON {
			if werr := ipc.WriteTraceNDJSON(out, events); werr != nil {
				return werr
			}
		} else {
			for _, ev := range events {
				fmt.Fprintln(out, describeEvent(ev))
			}
		}
		if err != nil {
			return err
		}
		if last := events[len(events)-1]; last.Type == core.EventError {
			return fmt.Errorf("turn failed (%d): %s", last.Status, last.Message)
		}
		return nil
	})
}

func withClient(cmd *cobra.Command, timeout time.Duration, fn func(context.Context, *ipc.Client) error) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	c, err := ipc.Dial(cfg.Server.Network, cfg.Server.Address, dialTimeout)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return fn(ctx, c)
}

func describeEvent(ev core.Event) string {
	switch ev.Type {
	case core.EventContent:
		return ev.Text
	case core.EventToolCallRequest:
		args, _ := json.Marshal(ev.Args)
		return fmt.Sprintf("tool_call %s %s %s", ev.CallID, ev.Name, args)
	case core.EventFinished:
		return fmt.Sprintf("finished (%s) tokens in=%d out=%d total=%d", ev.Reason, ev.Usage.InputTokens, ev.Usage.OutputTokens, ev.Usage.TotalTokens)
	case core.EventError:
		return fmt.Sprintf("error (%d): %s", ev.Status, ev.Message)
	default:
		return string(ev.Type)
	}
}

func formatError(err error) error {
	var re *ipc.RemoteError
	if errors.As(err, &re) {
		return fmt.Errorf("%s: %s", re.Code, re.Message)
	}
	return fmt.Errorf("request failed: %w", err)
}

func printPayload(w io.Writer, typ protocol.CommandType, raw json.RawMessage) error {
	if typ == protocol.CmdPing {
		_, err := fmt.Fprintln(w, "pong")
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = fmt.Fprintf(w, "ok: %s\n", raw)
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
