package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"parley/internal/builtins"
	"parley/internal/core"
	"parley/internal/ipc"
	"parley/internal/protocol"
	"parley/internal/provider"
	"parley/internal/session"
)

const defaultToolRounds = 8

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("135"))
	usageStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

type inputKind int

const (
	inputQuery inputKind = iota
	inputCommand
	inputQuit
)

type input struct {
	kind inputKind
	cmd  protocol.CommandType
	arg  string
	text string
}

// parseInput maps a line to a query or a slash command.
func parseInput(line string) (input, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		if line == "" {
			return input{}, errors.New("empty input")
		}
		return input{kind: inputQuery, text: line}, nil
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return input{kind: inputQuit}, nil
	case "ping":
		return input{kind: inputCommand, cmd: protocol.CmdPing}, nil
	case "new":
		return input{kind: inputCommand, cmd: protocol.CmdCreateSession}, nil
	case "sessions":
		return input{kind: inputCommand, cmd: protocol.CmdListSessions}, nil
	case "info":
		return input{kind: inputCommand, cmd: protocol.CmdGetSession}, nil
	case "stats":
		return input{kind: inputCommand, cmd: protocol.CmdSessionStats}, nil
	case "compress":
		return input{kind: inputCommand, cmd: protocol.CmdCompressSession}, nil
	case "cancel":
		return input{kind: inputCommand, cmd: protocol.CmdCancel}, nil
	case "switch":
		if arg == "" {
			return input{}, errors.New("/switch requires a session id")
		}
		return input{kind: inputCommand, cmd: protocol.CmdSubscribe, arg: arg}, nil
	default:
		return input{}, fmt.Errorf("unknown command: /%s", name)
	}
}

type app struct {
	client        *ipc.Client
	tools         *builtins.Set
	out           io.Writer
	sessionID     string
	maxToolRounds int
}

func newApp(client *ipc.Client, tools *builtins.Set, out io.Writer) *app {
	return &app{client: client, tools: tools, out: out, maxToolRounds: defaultToolRounds}
}

// run reads lines from in until EOF or /quit.
func (a *app) run(ctx context.Context, in io.Reader, sessionID, cwd string) error {
	if sessionID == "" {
		var info session.Info
		if err := a.client.Call(ctx, protocol.CmdCreateSession, protocol.CreateSessionPayload{WorkingDirectory: cwd}, &info); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		sessionID = info.ID
	}
	if err := a.attach(ctx, sessionID); err != nil {
		return err
	}
	fmt.Fprintln(a.out, infoStyle.Render("session "+a.sessionID+" (type /quit to leave)"))

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(a.out, promptStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(a.out)
			return scanner.Err()
		}
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		parsed, err := parseInput(scanner.Text())
		if err != nil {
			fmt.Fprintln(a.out, errorStyle.Render(err.Error()))
			continue
		}
		switch parsed.kind {
		case inputQuit:
			return nil
		case inputQuery:
			msg, _ := json.Marshal(parsed.text)
			err = a.ask(ctx, msg)
		case inputCommand:
			err = a.command(ctx, parsed)
		}
		if err != nil {
			fmt.Fprintln(a.out, errorStyle.Render(err.Error()))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (a *app) attach(ctx context.Context, sessionID string) error {
	if err := a.client.Call(ctx, protocol.CmdSubscribe, protocol.SessionRef{SessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("subscribe %s: %w", sessionID, err)
	}
	a.sessionID = sessionID
	return nil
}

func (a *app) command(ctx context.Context, in input) error {
	ref := protocol.SessionRef{SessionID: a.sessionID}
	switch in.cmd {
	case protocol.CmdSubscribe:
		if err := a.attach(ctx, in.arg); err != nil {
			return err
		}
		fmt.Fprintln(a.out, infoStyle.Render("switched to "+a.sessionID))
		return nil
	case protocol.CmdCreateSession:
		var info session.Info
		if err := a.client.Call(ctx, protocol.CmdCreateSession, protocol.CreateSessionPayload{}, &info); err != nil {
			return err
		}
		if err := a.attach(ctx, info.ID); err != nil {
			return err
		}
		fmt.Fprintln(a.out, infoStyle.Render("session "+a.sessionID))
		return nil
	case protocol.CmdPing:
		if _, err := a.client.Do(ctx, protocol.CmdPing, nil); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "pong")
		return nil
	case protocol.CmdListSessions:
		var listed struct {
			Sessions []session.Info `json:"sessions"`
		}
		if err := a.client.Call(ctx, protocol.CmdListSessions, protocol.ListSessionsPayload{}, &listed); err != nil {
			return err
		}
		for _, s := range listed.Sessions {
			marker := " "
			if s.ID == a.sessionID {
				marker = "*"
			}
			fmt.Fprintf(a.out, "%s %s %s %s\n", marker, s.ID, s.Owner, usageStyle.Render(s.LastActivity.Format("2006-01-02 15:04")))
		}
		return nil
	default:
		raw, err := a.client.Do(ctx, in.cmd, ref)
		if err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintln(a.out, string(b))
		return nil
	}
}

// ask submits message and keeps answering tool calls locally until the
// model replies without requesting tools or the round limit is hit.
func (a *app) ask(ctx context.Context, message json.RawMessage) error {
	for round := 0; ; round++ {
		if err := a.client.Call(ctx, protocol.CmdMessage, protocol.MessagePayload{SessionID: a.sessionID, Message: message}, nil); err != nil {
			return err
		}
		events, err := a.client.CollectCall(ctx)
		calls := a.render(events)
		if err != nil {
			return err
		}
		if last := events[len(events)-1]; last.Type == core.EventError {
			return nil
		}
		if len(calls) == 0 {
			return nil
		}
		if round >= a.maxToolRounds {
			return fmt.Errorf("stopped after %d tool rounds", round)
		}
		message, err = a.runTools(ctx, calls)
		if err != nil {
			return err
		}
		// The turn that requested the tools must be done before results are
		// accepted.
		if err := a.waitIdle(ctx); err != nil {
			return err
		}
	}
}

func (a *app) render(events []core.Event) []provider.ToolCall {
	var calls []provider.ToolCall
	for _, ev := range events {
		switch ev.Type {
		case core.EventContent:
			fmt.Fprintln(a.out, ev.Text)
		case core.EventToolCallRequest:
			args, _ := json.Marshal(ev.Args)
			fmt.Fprintln(a.out, toolStyle.Render(fmt.Sprintf("⚙ %s %s", ev.Name, args)))
			calls = append(calls, provider.ToolCall{ID: ev.CallID, Name: ev.Name, Arguments: ev.Args})
		case core.EventFinished:
			fmt.Fprintln(a.out, usageStyle.Render(fmt.Sprintf("tokens %d in / %d out", ev.Usage.InputTokens, ev.Usage.OutputTokens)))
		case core.EventError:
			fmt.Fprintln(a.out, errorStyle.Render(fmt.Sprintf("error %d: %s", ev.Status, ev.Message)))
		}
	}
	return calls
}

func (a *app) runTools(ctx context.Context, calls []provider.ToolCall) (json.RawMessage, error) {
	parts := make([]protocol.FunctionResponsePart, 0, len(calls))
	for _, call := range calls {
		result := a.tools.Execute(ctx, call)
		if msg, failed := result.Response["error"]; failed {
			fmt.Fprintln(a.out, errorStyle.Render(fmt.Sprintf("  %s failed: %v", call.Name, msg)))
		}
		parts = append(parts, protocol.FunctionResponsePart{FunctionResponse: protocol.FunctionResponse{
			ID:       result.ID,
			Name:     result.Name,
			Response: result.Response,
		}})
	}
	return json.Marshal(parts)
}

func (a *app) waitIdle(ctx context.Context) error {
	for {
		var details struct {
			Busy bool `json:"busy"`
		}
		if err := a.client.Call(ctx, protocol.CmdGetSession, protocol.SessionRef{SessionID: a.sessionID}, &details); err != nil {
			return err
		}
		if !details.Busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}
