// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/agentchat/internal/model"
	"github.com/jeranaias/agentchat/internal/session"
)

// Bridge forwards controller events into a Bubble Tea program.
type Bridge struct {
	send func(tea.Msg)
}

// NewBridge returns a listener that delivers events through send, normally
// (*tea.Program).Send.
func NewBridge(send func(tea.Msg)) *Bridge {
	return &Bridge{send: send}
}

// OnStateChange implements session.Listener.
func (b *Bridge) OnStateChange(s session.State) {
	b.send(stateMsg{State: s})
}

// OnTranscript implements session.Listener.
func (b *Bridge) OnTranscript(msgs []model.Message) {
	b.send(transcriptMsg{Messages: msgs})
}

// OnFunctionCalls implements session.Listener.
func (b *Bridge) OnFunctionCalls(calls []model.FunctionCall) {
	b.send(callsMsg{Calls: calls})
}

// OnSessionCreated implements session.Listener.
func (b *Bridge) OnSessionCreated(id string) {
	b.send(sessionCreatedMsg{ID: id})
}

var _ session.Listener = (*Bridge)(nil)
