// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"
	"sync"
)

// Errors returned by Transcript mutations.
var (
	// ErrMessageNotFound indicates no message has the requested id.
	ErrMessageNotFound = errors.New("message not found")

	// ErrStreamInProgress indicates another message is already receiving deltas.
	ErrStreamInProgress = errors.New("another message is already streaming")

	// ErrNotStreaming indicates content was appended to a message that is not in progress.
	ErrNotStreaming = errors.New("message is not streaming")
)

// =============================================================================
// TRANSCRIPT TYPE
// =============================================================================

// Transcript is the ordered message log of the active session.
//
// At most one message is in progress (receiving deltas) at any instant. Its
// content is accumulated in a builder and materialized on Snapshot and
// FinishStreaming.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message

	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	streamID string
	stream   strings.Builder
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// =============================================================================
// LIVE MUTATIONS
// =============================================================================

// Append adds msg at the end. A message with IsStreaming set becomes the
// in-progress message; Append fails if one is already in progress.
func (t *Transcript) Append(msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.IsStreaming {
		if t.streamID != "" {
			return ErrStreamInProgress
		}
		t.streamID = msg.ID
		t.stream.Reset()
		t.stream.WriteString(msg.Content)
		msg.Content = ""
	}
	t.messages = append(t.messages, msg)
	return nil
}

// AppendContent appends delta to the in-progress message with the given id.
func (t *Transcript) AppendContent(id, delta string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.streamID == "" || t.streamID != id {
		return ErrNotStreaming
	}
	t.stream.WriteString(delta)
	return nil
}

// UpdateByID applies patch to the message with the given id. The patch sees
// the materialized content of an in-progress message; content changes made by
// the patch replace what was streamed so far.
func (t *Transcript) UpdateByID(id string, patch func(*Message)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(id)
	if i < 0 {
		return ErrMessageNotFound
	}
	msg := &t.messages[i]
	if id == t.streamID {
		msg.Content = t.stream.String()
		patch(msg)
		t.stream.Reset()
		t.stream.WriteString(msg.Content)
		msg.Content = ""
		if !msg.IsStreaming {
			t.finishLocked(msg)
		}
		return nil
	}
	patch(msg)
	return nil
}

// FinishStreaming merges streamed content into the in-progress message and
// clears the in-progress marker. It is a no-op when id is not in progress.
func (t *Transcript) FinishStreaming(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == "" || t.streamID != id {
		return
	}
	if i := t.indexLocked(id); i >= 0 {
		t.finishLocked(&t.messages[i])
		return
	}
	t.streamID = ""
	t.stream.Reset()
}

// RemoveByID removes a message. Removing the in-progress message discards its
// streamed content.
func (t *Transcript) RemoveByID(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexLocked(id)
	if i < 0 {
		return ErrMessageNotFound
	}
	if id == t.streamID {
		t.streamID = ""
		t.stream.Reset()
	}
	t.messages = append(t.messages[:i], t.messages[i+1:]...)
	return nil
}

// ReplaceAll swaps the whole message list, dropping any in-progress state.
func (t *Transcript) ReplaceAll(msgs []Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.messages = cloneMessages(msgs)
	t.streamID = ""
	t.stream.Reset()
}

// =============================================================================
// READERS
// =============================================================================

// Snapshot returns a copy of the messages with in-progress content materialized.
func (t *Transcript) Snapshot() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := cloneMessages(t.messages)
	if t.streamID != "" {
		for i := range out {
			if out[i].ID == t.streamID {
				out[i].Content = t.stream.String()
				break
			}
		}
	}
	return out
}

// Get returns the message with the given id.
func (t *Transcript) Get(id string) (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i := t.indexLocked(id)
	if i < 0 {
		return Message{}, false
	}
	msg := t.messages[i]
	if id == t.streamID {
		msg.Content = t.stream.String()
	}
	return msg, true
}

// LastAssistant returns the most recent assistant message in msgs that is
// not an inline error.
func LastAssistant(msgs []Message) (Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant && !msgs[i].IsError {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// =============================================================================
// HELPERS
// =============================================================================

func (t *Transcript) indexLocked(id string) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Transcript) finishLocked(msg *Message) {
	msg.Content = t.stream.String()
	msg.IsStreaming = false
	t.streamID = ""
	t.stream.Reset()
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return []Message{}
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
