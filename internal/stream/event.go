// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// Record type discriminators sent by the backend.
const (
	TypeChatCreated    = "chat.created"
	TypeTextDelta      = "response.output_text.delta"
	TypeOutputItemDone = "response.output_item.done"
	TypeResponseDone   = "response.done"
	TypeError          = "error"
)

// Item type discriminators inside response.output_item.done.
const (
	ItemMessage            = "message"
	ItemFunctionCall       = "function_call"
	ItemFunctionCallOutput = "function_call_output"
)

// Kind classifies a decoded record.
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionCreated
	KindTextDelta
	KindFunctionCall
	KindFunctionCallOutput
	KindMessage
	KindResponseDone
	KindError
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSessionCreated:
		return "session.created"
	case KindTextDelta:
		return "text.delta"
	case KindFunctionCall:
		return "item.function_call"
	case KindFunctionCallOutput:
		return "item.function_call_output"
	case KindMessage:
		return "item.message"
	case KindResponseDone:
		return "response.done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is the typed form of one record payload.
type Event struct {
	Kind Kind
	// Type is the raw discriminator, kept for logging unknown records.
	Type string

	// KindSessionCreated
	ChatID string

	// KindTextDelta
	Delta string

	// KindFunctionCall, KindFunctionCallOutput
	CallID    string
	Name      string
	Arguments json.RawMessage
	Output    json.RawMessage
	CallError string

	// KindMessage
	Text string

	// KindError
	Error string

	// TraceID is set on any record carrying databricks_output trace info.
	TraceID string
}

// =============================================================================
// PARSING
// =============================================================================

// Paths at which the backend reports the trace id, checked in order.
var traceIDPaths = []string{
	"databricks_output.trace.info.trace_id",
	"item.databricks_output.trace.info.trace_id",
	"response.databricks_output.trace.info.trace_id",
}

// Parse classifies a record payload. Payloads are expected to be valid JSON
// (the Decoder drops anything else); a payload without a known type yields
// KindUnknown.
func Parse(payload string) Event {
	root := gjson.Parse(payload)
	ev := Event{Type: root.Get("type").String()}

	for _, path := range traceIDPaths {
		if id := root.Get(path).String(); id != "" {
			ev.TraceID = id
			break
		}
	}

	switch ev.Type {
	case TypeChatCreated:
		ev.ChatID = root.Get("chat_id").String()
		if ev.ChatID != "" {
			ev.Kind = KindSessionCreated
		}
	case TypeTextDelta:
		ev.Kind = KindTextDelta
		ev.Delta = root.Get("delta").String()
	case TypeOutputItemDone:
		parseItem(root.Get("item"), &ev)
	case TypeResponseDone:
		ev.Kind = KindResponseDone
	case TypeError:
		ev.Kind = KindError
		ev.Error = errorText(root)
	}
	return ev
}

func parseItem(item gjson.Result, ev *Event) {
	switch item.Get("type").String() {
	case ItemFunctionCall:
		ev.Kind = KindFunctionCall
		ev.CallID = item.Get("call_id").String()
		ev.Name = item.Get("name").String()
		ev.Arguments = jsonField(item.Get("arguments"))
	case ItemFunctionCallOutput:
		ev.Kind = KindFunctionCallOutput
		ev.CallID = item.Get("call_id").String()
		ev.Output = jsonField(item.Get("output"))
		if e := item.Get("error"); e.Exists() && e.Type != gjson.Null {
			ev.CallError = e.String()
		}
	case ItemMessage:
		ev.Kind = KindMessage
		ev.Text = messageText(item)
	}
}

// messageText returns the first output_text part of a message item, or a
// plain string content.
func messageText(item gjson.Result) string {
	content := item.Get("content")
	if content.Type == gjson.String {
		return content.String()
	}
	for _, part := range content.Array() {
		if part.Get("type").String() == "output_text" {
			return part.Get("text").String()
		}
	}
	return item.Get("text").String()
}

// jsonField returns the raw JSON of a field that may hold either a JSON value
// or a string containing an encoded object or array.
func jsonField(r gjson.Result) json.RawMessage {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	if r.Type == gjson.String {
		s := strings.TrimSpace(r.String())
		if (strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")) && gjson.Valid(s) {
			return json.RawMessage(s)
		}
	}
	return json.RawMessage(r.Raw)
}

func errorText(root gjson.Result) string {
	e := root.Get("error")
	if e.IsObject() {
		if msg := e.Get("message").String(); msg != "" {
			return msg
		}
		return e.Raw
	}
	if s := e.String(); s != "" {
		return s
	}
	if s := root.Get("message").String(); s != "" {
		return s
	}
	return "stream error"
}
