// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/agentchat/internal/config"
	"github.com/jeranaias/agentchat/internal/session"
	"github.com/jeranaias/agentchat/internal/ui/chat"
	"github.com/jeranaias/agentchat/internal/ui/styles"
)

func newChatCmd(a *app) *cobra.Command {
	var chatID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive chat",
		Long: `Start the interactive chat.

Keys:
  Enter   send            Esc     stop the reply
  C-n     new chat        C-o     open an earlier chat
  C-y     good reply      C-t     bad reply
  PgUp    scroll up       PgDn    scroll down
  C-c     quit`,
		Example: `  agentchat chat
  agentchat chat --chat 7f3c2a`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !isTerminal(a.stdout) {
				return errors.New("chat needs a terminal; use 'agentchat ask' for scripts")
			}
			return a.runChat(cmd.Context(), chatID)
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "open an existing chat")
	return cmd
}

func (a *app) runChat(ctx context.Context, chatID string) error {
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

	theme := styles.NewThemeFor(a.cfg.UI.Theme)
	theme.Apply()

	agent := a.lookupAgent(ctx, client, a.cfg.Backend.AgentID)

	m := chat.New(ctrl, chat.Options{
		Chats:       client,
		Theme:       theme,
		InitialChat: chatID,
		Agent:       agent,
		Logger:      a.logger,
	})
	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithInput(a.stdin),
		tea.WithOutput(a.stdout),
	)
	ctrl.AddListener(chat.NewBridge(p.Send))

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if path, err := a.configPath(); err == nil {
		err := config.Watch(watchCtx, path, a.logger, func(c *config.Config) {
			p.Send(chat.ConfigChangedMsg{Config: c})
		})
		if err != nil {
			a.logger.Debug("config watch unavailable", "err", err)
		}
	}

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}
