// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/agentchat/internal/backend"
)

// pickerTimeout bounds the chat list request.
const pickerTimeout = 15 * time.Second

// ChatSource lists the chats available to open. Implemented by backend.Client.
type ChatSource interface {
	ListChats(ctx context.Context) ([]backend.Chat, error)
}

// picker is the chat selection overlay.
type picker struct {
	loading bool
	err     error
	chats   []backend.Chat
	cursor  int
}

func (p *picker) load(chats []backend.Chat, err error) {
	p.loading = false
	p.err = err
	p.chats = chats
	p.cursor = 0
}

func (p *picker) move(delta int) {
	if len(p.chats) == 0 {
		return
	}
	p.cursor += delta
	if p.cursor < 0 {
		p.cursor = 0
	}
	if p.cursor >= len(p.chats) {
		p.cursor = len(p.chats) - 1
	}
}

// selected returns the chat under the cursor.
func (p *picker) selected() (backend.Chat, bool) {
	if p.loading || p.cursor >= len(p.chats) {
		return backend.Chat{}, false
	}
	return p.chats[p.cursor], true
}

// visible returns the window of rows that fits in height around the cursor.
func (p *picker) visible(height int) (start, end int) {
	if height < 1 {
		height = 1
	}
	start = 0
	if p.cursor >= height {
		start = p.cursor - height + 1
	}
	end = start + height
	if end > len(p.chats) {
		end = len(p.chats)
	}
	return start, end
}

func listChatsCmd(src ChatSource) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), pickerTimeout)
		defer cancel()
		chats, err := src.ListChats(ctx)
		return chatsLoadedMsg{Chats: chats, Err: err}
	}
}
