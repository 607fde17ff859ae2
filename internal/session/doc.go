// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides the streaming conversation controller.
//
// A Controller owns the transcript of the active conversation for one UI
// surface. Send starts an exchange: the user message is appended
// optimistically, the invoke stream is decoded and applied event by event,
// and once the transport closes the canonical record is fetched and
// reconciled into the transcript.
//
// # State Machine
//
//	Idle -> Sending -> Streaming -> Completing -> Idle
//	                            \-> Cancelled  -> Idle
//	                            \-> Failed     -> Idle
//
// Only one exchange runs per controller. Switching the active session, or
// starting a new conversation, cancels the running exchange before the new
// transcript becomes visible; the abandoned exchange can never mutate the
// transcript that replaced it.
//
// # Key Types
//
//   - Controller: Per-surface exchange orchestrator
//   - Listener: Observer for state, transcript and function call changes
//   - Reconciler: Merges canonical chat records into a transcript
//
// # Usage
//
//	ctrl := session.NewController(client, session.DefaultConfig())
//	ctrl.AddListener(session.ListenerFuncs{
//	    Transcript: func(msgs []model.Message) { render(msgs) },
//	})
//	if err := ctrl.Send("What is my balance?"); err != nil {
//	    // busy or empty input
//	}
//	ctrl.Wait()
package session
