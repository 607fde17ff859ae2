// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/model"
)

// Errors returned synchronously by Controller operations.
var (
	// ErrExchangeInProgress rejects Send while another exchange is not Idle.
	ErrExchangeInProgress = errors.New("an exchange is already in progress")

	// ErrEmptyMessage rejects Send with blank text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoAgent rejects Send when no agent is selected.
	ErrNoAgent = errors.New("no agent selected")

	// ErrSessionLoading rejects Send while a session switch is loading.
	ErrSessionLoading = errors.New("session is loading")

	// ErrSessionChanged reports that a load was superseded by a newer switch.
	ErrSessionChanged = errors.New("session changed while loading")

	// ErrNoTrace rejects feedback on a message without a permanent trace id.
	ErrNoTrace = errors.New("message has no trace to attach feedback to")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
)

// =============================================================================
// STATE
// =============================================================================

// State is the exchange state of a controller.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleting
	StateCancelled
	StateFailed
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleting:
		return "completing"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsStreaming reports whether a request is outstanding.
func (s State) IsStreaming() bool {
	return s == StateSending || s == StateStreaming
}

// Busy reports whether input should be disabled.
func (s State) Busy() bool {
	return s != StateIdle
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Backend is the part of the backend client the controller depends on.
type Backend interface {
	Invoke(ctx context.Context, req backend.InvokeRequest) (io.ReadCloser, error)
	GetChat(ctx context.Context, id string) (*backend.Chat, error)
	LogAssessment(ctx context.Context, a backend.Assessment) error
}

// Cache stores canonical chat records locally. Implemented by storage.ChatCache.
type Cache interface {
	Put(ctx context.Context, chat *backend.Chat) error
	Get(ctx context.Context, id string) (*backend.Chat, error)
}

// =============================================================================
// LISTENER
// =============================================================================

// Listener observes a controller. Methods are invoked in order from a single
// dispatch goroutine, never while the controller holds a lock, so they may
// call back into the controller.
type Listener interface {
	// OnStateChange reports every state transition.
	OnStateChange(s State)
	// OnTranscript delivers a snapshot of the transcript. During streaming
	// snapshots are throttled to the configured render interval.
	OnTranscript(msgs []model.Message)
	// OnFunctionCalls delivers the function calls of the running exchange.
	OnFunctionCalls(calls []model.FunctionCall)
	// OnSessionCreated fires once when the backend assigns an identity to a
	// new conversation.
	OnSessionCreated(id string)
}

// ListenerFuncs adapts optional functions to the Listener interface.
type ListenerFuncs struct {
	State          func(State)
	Transcript     func([]model.Message)
	FunctionCalls  func([]model.FunctionCall)
	SessionCreated func(string)
}

// OnStateChange implements Listener.
func (f ListenerFuncs) OnStateChange(s State) {
	if f.State != nil {
		f.State(s)
	}
}

// OnTranscript implements Listener.
func (f ListenerFuncs) OnTranscript(msgs []model.Message) {
	if f.Transcript != nil {
		f.Transcript(msgs)
	}
}

// OnFunctionCalls implements Listener.
func (f ListenerFuncs) OnFunctionCalls(calls []model.FunctionCall) {
	if f.FunctionCalls != nil {
		f.FunctionCalls(calls)
	}
}

// OnSessionCreated implements Listener.
func (f ListenerFuncs) OnSessionCreated(id string) {
	if f.SessionCreated != nil {
		f.SessionCreated(id)
	}
}
