// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/agentchat/internal/model"
	"github.com/jeranaias/agentchat/internal/stream"
)

// effect reports which observable parts of the exchange an event changed.
type effect uint8

const (
	effectTranscript effect = 1 << iota
	effectCalls
)

// StreamError is an in-band error record received from the backend.
type StreamError struct {
	Message string
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	return "agent error: " + e.Message
}

// =============================================================================
// EVENT INTERPRETER
// =============================================================================

// interpreter applies decoded events of one exchange to its transcript and
// function call set. Events must be applied one at a time in arrival order.
type interpreter struct {
	transcript *model.Transcript
	calls      *model.FunctionCallSet
	logger     *log.Logger

	// onSession records a backend-assigned session identity. It runs before
	// any later event is applied.
	onSession func(id string)

	assistantID string
	sawDelta    bool
	traceID     string

	// fallback is the text of the latest complete message item. It becomes
	// the reply at finish only if no delta arrived during the exchange.
	fallback string
}

func newInterpreter(tr *model.Transcript, calls *model.FunctionCallSet, logger *log.Logger, onSession func(string)) *interpreter {
	if logger == nil {
		logger = log.Default()
	}
	return &interpreter{
		transcript: tr,
		calls:      calls,
		logger:     logger,
		onSession:  onSession,
	}
}

// apply performs the mutation for ev. A non-nil error is only returned for
// in-band error records; everything else the interpreter does not understand
// is logged and ignored.
func (in *interpreter) apply(ev stream.Event) (effect, error) {
	var eff effect

	if ev.TraceID != "" && in.traceID == "" {
		in.traceID = ev.TraceID
		if in.attachTrace() {
			eff |= effectTranscript
		}
	}

	switch ev.Kind {
	case stream.KindSessionCreated:
		if in.onSession != nil {
			in.onSession(ev.ChatID)
		}

	case stream.KindTextDelta:
		if ev.Delta == "" {
			break
		}
		if !in.ensureAssistant() {
			break
		}
		in.sawDelta = true
		if err := in.transcript.AppendContent(in.assistantID, ev.Delta); err != nil {
			in.logger.Warn("dropping delta", "err", err)
			break
		}
		eff |= effectTranscript

	case stream.KindFunctionCall:
		if ev.CallID == "" {
			in.logger.Debug("function call without call_id", "name", ev.Name)
			break
		}
		if !in.calls.Open(ev.CallID, ev.Name, ev.Arguments) {
			in.logger.Debug("duplicate function call", "call_id", ev.CallID)
			break
		}
		eff |= effectCalls

	case stream.KindFunctionCallOutput:
		if !in.calls.Resolve(ev.CallID, ev.Output, ev.CallError) {
			in.logger.Debug("ignoring output for unknown or resolved call", "call_id", ev.CallID)
			break
		}
		eff |= effectCalls

	case stream.KindMessage:
		if ev.Text != "" {
			in.fallback = ev.Text
		}

	case stream.KindResponseDone:
		// Trace data only, handled above.

	case stream.KindError:
		return eff, &StreamError{Message: ev.Error}

	default:
		in.logger.Debug("ignoring stream record", "type", ev.Type)
	}

	return eff, nil
}

// ensureAssistant creates the in-progress assistant message on first content.
func (in *interpreter) ensureAssistant() bool {
	if in.assistantID != "" {
		return true
	}
	msg := model.NewAssistantMessage()
	msg.TraceID = in.traceID
	if err := in.transcript.Append(msg); err != nil {
		in.logger.Warn("cannot open assistant message", "err", err)
		return false
	}
	in.assistantID = msg.ID
	return true
}

func (in *interpreter) attachTrace() bool {
	if in.assistantID == "" {
		return false
	}
	traceID := in.traceID
	err := in.transcript.UpdateByID(in.assistantID, func(m *model.Message) {
		m.TraceID = traceID
	})
	return err == nil
}

// finish closes the in-progress message after a clean end of stream. A reply
// that never received a delta takes the fallback message text.
func (in *interpreter) finish() {
	if !in.sawDelta && in.fallback != "" && in.ensureAssistant() {
		text := in.fallback
		err := in.transcript.UpdateByID(in.assistantID, func(m *model.Message) {
			m.Content = text
		})
		if err != nil {
			in.logger.Warn("dropping final message", "err", err)
		}
	}
	if in.assistantID != "" {
		in.transcript.FinishStreaming(in.assistantID)
	}
}

// discard removes the assistant message created by this exchange, if any.
func (in *interpreter) discard() bool {
	if in.assistantID == "" {
		return false
	}
	id := in.assistantID
	in.assistantID = ""
	err := in.transcript.RemoveByID(id)
	return !errors.Is(err, model.ErrMessageNotFound)
}
