// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jeranaias/agentchat/internal/model"
)

// =============================================================================
// CHAT RECORD
// =============================================================================

// Chat is the canonical persisted record of a conversation.
type Chat struct {
	ID        string        `json:"id"`
	UserEmail string        `json:"user_email,omitempty"`
	Title     string        `json:"title"`
	AgentID   string        `json:"agent_id,omitempty"`
	CreatedAt Timestamp     `json:"created_at"`
	UpdatedAt Timestamp     `json:"updated_at"`
	Messages  []ChatMessage `json:"messages"`
}

// ChatMessage is a persisted message inside a Chat.
type ChatMessage struct {
	ID           string              `json:"id"`
	ChatID       string              `json:"chat_id,omitempty"`
	Role         string              `json:"role"`
	Content      string              `json:"content"`
	Timestamp    Timestamp           `json:"timestamp"`
	TraceID      string              `json:"trace_id,omitempty"`
	TraceSummary *model.TraceSummary `json:"trace_summary,omitempty"`
}

// Transcript converts the persisted messages into transcript messages.
func (c *Chat) Transcript() []model.Message {
	out := make([]model.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, m.Message())
	}
	return out
}

// Message converts a persisted message into a transcript message.
func (m ChatMessage) Message() model.Message {
	traceID := m.TraceID
	if traceID == "" && m.TraceSummary != nil {
		traceID = m.TraceSummary.TraceID
	}
	return model.Message{
		ID:           m.ID,
		Role:         model.Role(m.Role),
		Content:      m.Content,
		Timestamp:    m.Timestamp.Time,
		TraceID:      traceID,
		TraceSummary: m.TraceSummary,
	}
}

// =============================================================================
// TIMESTAMP
// =============================================================================

// timestampLayouts covers offset-aware and naive ISO 8601 values.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp decodes the backend's ISO 8601 timestamps, which may lack a
// zone offset. Naive values are read as UTC.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// =============================================================================
// REQUESTS
// =============================================================================

// InvokeMessage is one entry of the conversation sent to the agent.
type InvokeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// InvokeRequest starts one exchange.
type InvokeRequest struct {
	AgentID string `json:"agent_id"`
	// ChatID is empty for a new conversation; the backend then creates one
	// and announces it with a chat.created record.
	ChatID   string          `json:"chat_id,omitempty"`
	Messages []InvokeMessage `json:"messages"`
}

// HistoryFrom builds the invoke message list from a transcript, skipping
// inline error messages and empty entries.
func HistoryFrom(msgs []model.Message) []InvokeMessage {
	out := make([]InvokeMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.IsError || m.IsEmpty() {
			continue
		}
		out = append(out, InvokeMessage{Role: m.Role.String(), Content: m.Content})
	}
	return out
}

// Assessment is user feedback attached to a trace.
type Assessment struct {
	TraceID   string `json:"trace_id"`
	AgentID   string `json:"agent_id"`
	Name      string `json:"assessment_name"`
	Value     any    `json:"assessment_value"`
	Rationale string `json:"rationale,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
}

// FeedbackAssessment is the assessment name used for thumbs up/down.
const FeedbackAssessment = "user_feedback"

type renameRequest struct {
	Title string `json:"title"`
}

type clearResponse struct {
	Success      bool `json:"success"`
	DeletedCount int  `json:"deleted_count"`
}

type agentsResponse struct {
	Agents []model.Agent `json:"agents"`
	Error  string        `json:"error,omitempty"`
}
