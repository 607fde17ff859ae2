// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the interactive chat view for the agentchat TUI.

The view is a Bubble Tea model wrapped around a session.Controller. It never
mutates the transcript itself: the controller publishes state, transcript and
function-call snapshots through a Listener, and Bridge forwards those as
tea.Msg values into the running program.

# Key Components

## Model (model.go)

The Model struct holds what the screen shows:
  - the latest transcript and function-call snapshots
  - the controller state (input is disabled while a reply streams)
  - the chat picker, notices and pending configuration changes

## Bridge (bridge.go)

Bridge implements session.Listener and hands every event to tea.Program.Send.

## View Rendering (view.go)

Header with agent and chat, the scrolling transcript (assistant replies are
rendered as markdown with glamour), the live function-call list, the input
box and a status bar.

# Usage

	m := chat.New(ctrl, chat.Options{Chats: client, Theme: theme})
	p := tea.NewProgram(m, tea.WithAltScreen())
	ctrl.AddListener(chat.NewBridge(p.Send))
	_, err := p.Run()
*/
package chat
