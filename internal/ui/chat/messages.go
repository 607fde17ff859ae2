// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/config"
	"github.com/jeranaias/agentchat/internal/model"
	"github.com/jeranaias/agentchat/internal/session"
)

// =============================================================================
// CONTROLLER EVENTS
// =============================================================================

// stateMsg carries a controller state transition.
type stateMsg struct {
	State session.State
}

// transcriptMsg carries a transcript snapshot.
type transcriptMsg struct {
	Messages []model.Message
}

// callsMsg carries the function calls of the running exchange.
type callsMsg struct {
	Calls []model.FunctionCall
}

// sessionCreatedMsg reports the id the backend assigned to a new chat.
type sessionCreatedMsg struct {
	ID string
}

// =============================================================================
// COMMAND RESULTS
// =============================================================================

// switchedMsg reports the outcome of loading a chat.
type switchedMsg struct {
	ID  string
	Err error
}

// chatsLoadedMsg delivers the chat list for the picker.
type chatsLoadedMsg struct {
	Chats []backend.Chat
	Err   error
}

// feedbackMsg reports the outcome of a thumbs up/down.
type feedbackMsg struct {
	MessageID string
	Positive  bool
	Err       error
}

// =============================================================================
// EXTERNAL
// =============================================================================

// ConfigChangedMsg tells the view that the configuration file changed. The
// agent and render interval are applied once no exchange is running.
type ConfigChangedMsg struct {
	Config *config.Config
}
