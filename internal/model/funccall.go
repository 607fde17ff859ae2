// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"sync"
)

// =============================================================================
// CALL STATUS
// =============================================================================

// CallStatus is the lifecycle state of a FunctionCall.
type CallStatus string

const (
	CallCalling   CallStatus = "calling"
	CallCompleted CallStatus = "completed"
	CallError     CallStatus = "error"
)

// IsTerminal reports whether the status can no longer change.
func (s CallStatus) IsTerminal() bool {
	return s == CallCompleted || s == CallError
}

// =============================================================================
// FUNCTION CALL
// =============================================================================

// FunctionCall is a tool invocation made by the agent mid-response.
type FunctionCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Status    CallStatus      `json:"status"`
	Error     string          `json:"error,omitempty"`
}

// FunctionCallSet holds the function calls of one exchange, in the order they
// were opened. It is safe for concurrent use.
type FunctionCallSet struct {
	mu    sync.Mutex
	calls []FunctionCall
	index map[string]int
}

// NewFunctionCallSet creates an empty set.
func NewFunctionCallSet() *FunctionCallSet {
	return &FunctionCallSet{index: make(map[string]int)}
}

// Open records a new call in the calling state. A call id that is already
// known is ignored and Open returns false.
func (s *FunctionCallSet) Open(callID, name string, arguments json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[callID]; exists {
		return false
	}
	s.index[callID] = len(s.calls)
	s.calls = append(s.calls, FunctionCall{
		CallID:    callID,
		Name:      name,
		Arguments: arguments,
		Status:    CallCalling,
	})
	return true
}

// Resolve moves a calling entry to completed, or to error when errText is
// non-empty. Unknown ids and already-resolved calls are left untouched and
// Resolve returns false.
func (s *FunctionCallSet) Resolve(callID string, output json.RawMessage, errText string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[callID]
	if !ok {
		return false
	}
	call := &s.calls[i]
	if call.Status.IsTerminal() {
		return false
	}

	call.Output = output
	if errText != "" {
		call.Status = CallError
		call.Error = errText
	} else {
		call.Status = CallCompleted
	}
	return true
}

// List returns a copy of all calls in open order.
func (s *FunctionCallSet) List() []FunctionCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FunctionCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Reset discards every call.
func (s *FunctionCallSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
	s.index = make(map[string]int)
}
