// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jeranaias/agentchat/internal/model"
	"github.com/jeranaias/agentchat/internal/session"
	"github.com/jeranaias/agentchat/internal/ui/styles"
)

// maxStdinPrompt caps a prompt read from stdin.
const maxStdinPrompt = 1 << 20

func newAskCmd(a *app) *cobra.Command {
	var chatID string

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a single question and stream the reply",
		Long: `Send one message and stream the reply to stdout as it arrives.

Tool calls and the chat id are reported on stderr, so stdout carries only the
reply. Without a prompt argument the prompt is read from stdin. The command
exits with status 1 when the exchange fails.`,
		Example: `  agentchat ask "Summarize last week's incidents"
  agentchat ask --chat 7f3c2a "And the week before?"
  git diff | agentchat ask`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := a.readPrompt(args)
			if err != nil {
				return err
			}
			return a.runAsk(cmd.Context(), chatID, prompt)
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "continue an existing chat")
	return cmd
}

func (a *app) readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if isTerminal(a.stdin) {
		return "", errors.New("no prompt given")
	}
	data, err := io.ReadAll(io.LimitReader(a.stdin, maxStdinPrompt))
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return string(data), nil
}

func (a *app) runAsk(ctx context.Context, chatID, prompt string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := a.client()
	if err != nil {
		return err
	}

	cfg := session.Config{
		AgentID:        a.cfg.Backend.AgentID,
		RenderInterval: a.cfg.Stream.RenderInterval.Duration,
		MaxRecordSize:  a.cfg.Stream.MaxRecordSize,
		Logger:         a.logger,
	}
	if cache := a.cache(); cache != nil {
		defer cache.Close()
		cfg.Cache = cache
	}
	ctrl := session.NewController(client, cfg)
	defer ctrl.Close()

	if chatID != "" {
		if err := ctrl.SwitchSession(ctx, chatID); err != nil {
			return err
		}
	}

	printer := newAskPrinter(a.stdout, a.stderr, isTerminal(a.stderr))
	ctrl.AddListener(printer)

	if err := ctrl.Send(prompt); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, ctrl.Cancel)
	defer stop()
	ctrl.Wait()

	return printer.finish(ctrl.Transcript(), ctrl.SessionID())
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// askPrinter writes the streaming reply to out and progress to status.
type askPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	status io.Writer
	styled bool

	streamID  string
	printed   int
	wroteAny  bool
	calls     map[string]model.CallStatus
	states    []session.State
	errorText string
}

func newAskPrinter(out, status io.Writer, styled bool) *askPrinter {
	return &askPrinter{
		out:    out,
		status: status,
		styled: styled,
		calls:  make(map[string]model.CallStatus),
	}
}

// OnStateChange implements session.Listener.
func (p *askPrinter) OnStateChange(s session.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, s)
}

// OnTranscript prints whatever the in-progress reply gained since the last
// snapshot.
func (p *askPrinter) OnTranscript(msgs []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range msgs {
		switch {
		case msg.IsStreaming || (msg.ID == p.streamID && !msg.IsError):
			// The finished message keeps its id and may carry a tail that
			// never reached a streaming snapshot.
			if msg.ID != p.streamID {
				p.streamID = msg.ID
				p.printed = 0
			}
			if len(msg.Content) > p.printed {
				io.WriteString(p.out, msg.Content[p.printed:])
				p.printed = len(msg.Content)
				p.wroteAny = true
			}
		case msg.IsError:
			p.errorText = msg.Content
		}
	}
}

// OnFunctionCalls reports calls as they start and finish.
func (p *askPrinter) OnFunctionCalls(calls []model.FunctionCall) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range calls {
		prev, seen := p.calls[c.CallID]
		if seen && prev == c.Status {
			continue
		}
		p.calls[c.CallID] = c.Status
		switch c.Status {
		case model.CallCompleted:
			p.note(styles.RenderSuccess(c.Name), styles.StatusIndicators.Success+" "+c.Name)
		case model.CallError:
			p.note(styles.RenderError(c.Name+": "+c.Error), styles.StatusIndicators.Error+" "+c.Name+": "+c.Error)
		default:
			p.note(styles.RenderInfo("calling "+c.Name), styles.StatusIndicators.Pending+" calling "+c.Name)
		}
	}
}

// OnSessionCreated implements session.Listener.
func (p *askPrinter) OnSessionCreated(string) {}

func (p *askPrinter) note(styled, plain string) {
	if p.styled {
		fmt.Fprintln(p.status, styled)
		return
	}
	fmt.Fprintln(p.status, plain)
}

// finish prints a reply that never streamed, reports the chat id and maps
// the outcome to an error.
func (p *askPrinter) finish(final []model.Message, chatID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	outcome := session.StateIdle
	for _, s := range p.states {
		if s == session.StateFailed || s == session.StateCancelled {
			outcome = s
		}
	}

	if outcome == session.StateIdle && !p.wroteAny {
		if msg, ok := model.LastAssistant(final); ok {
			io.WriteString(p.out, msg.Content)
			p.wroteAny = true
		}
	}
	if p.wroteAny {
		fmt.Fprintln(p.out)
	}

	if chatID != "" {
		p.note(DimStyle.Render("chat: ")+IDStyle.Render(chatID), "chat: "+chatID)
	}

	switch outcome {
	case session.StateFailed:
		return &exitError{code: 1, err: errors.New(p.errorText)}
	case session.StateCancelled:
		return &exitError{code: 130, err: errors.New("cancelled")}
	}
	return nil
}
