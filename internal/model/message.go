// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks identifiers minted on the client before the backend has
// persisted the message.
const TempIDPrefix = "tmp-"

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a transcript.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string `json:"content"`

	// Trace data, only available after reconciliation (or optimistically from
	// the stream for TraceID).
	TraceID      string        `json:"trace_id,omitempty"`
	TraceSummary *TraceSummary `json:"trace_summary,omitempty"`

	// Client-side state (not persisted)
	IsStreaming bool `json:"-"`
	IsError     bool `json:"-"`
}

// NewMessage creates a new message with a temporary ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        NewTempID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates an empty assistant message ready to receive deltas.
func NewAssistantMessage() Message {
	msg := NewMessage(RoleAssistant, "")
	msg.IsStreaming = true
	return msg
}

// NewErrorMessage creates the inline assistant message shown when an exchange fails.
func NewErrorMessage(text string) Message {
	msg := NewMessage(RoleAssistant, text)
	msg.IsError = true
	return msg
}

// IsTemporary reports whether the message still carries a client-minted ID.
func (m Message) IsTemporary() bool {
	return IsTempID(m.ID)
}

// HasTrace reports whether feedback can be attached to the message.
func (m Message) HasTrace() bool {
	return m.TraceID != "" && !m.IsTemporary()
}

// Preview returns a truncated single-line preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	content := strings.Join(strings.Fields(m.Content), " ")
	runes := []rune(content)
	if maxLen <= 3 || len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has no content.
func (m Message) IsEmpty() bool {
	return len(m.Content) == 0
}

// =============================================================================
// TRACE SUMMARY
// =============================================================================

// TraceSummary is the server-computed summary attached to a persisted
// assistant message.
type TraceSummary struct {
	TraceID          string          `json:"trace_id,omitempty"`
	DurationMS       float64         `json:"duration_ms"`
	Status           string          `json:"status,omitempty"`
	ToolsCalled      []ToolSpan      `json:"tools_called,omitempty"`
	RetrievalCalls   json.RawMessage `json:"retrieval_calls,omitempty"`
	LLMCalls         json.RawMessage `json:"llm_calls,omitempty"`
	TotalTokens      int             `json:"total_tokens"`
	SpansCount       int             `json:"spans_count"`
	FunctionCalls    json.RawMessage `json:"function_calls,omitempty"`
	DatabricksOutput json.RawMessage `json:"databricks_output,omitempty"`
}

// ToolSpan describes a single tool invocation inside a TraceSummary.
type ToolSpan struct {
	Name       string          `json:"name"`
	DurationMS float64         `json:"duration_ms"`
	Inputs     json.RawMessage `json:"inputs,omitempty"`
	Outputs    json.RawMessage `json:"outputs,omitempty"`
	Status     string          `json:"status,omitempty"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// NewTempID creates a client-side message ID, unique for the process lifetime.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}
