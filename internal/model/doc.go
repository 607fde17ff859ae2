// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for transcripts, messages and
// function calls.
//
// This package defines the core domain types shared by the stream decoder,
// the session controller and the UI surfaces.
//
// # Key Types
//
//   - Transcript: Ordered, mutex-guarded message log for one session
//   - Message: Single message with role, content, timestamp and trace data
//   - FunctionCall: Tool invocation with a calling/completed/error lifecycle
//   - FunctionCallSet: Exchange-scoped collection of FunctionCalls keyed by call id
//   - Agent: Backend agent endpoint description
//
// # Usage
//
// Build a transcript for a new exchange:
//
//	tr := model.NewTranscript()
//	tr.Append(model.NewUserMessage("Hello!"))
//	reply := model.NewAssistantMessage()
//	tr.Append(reply)
//	tr.AppendContent(reply.ID, "Hi")
//
// Temporary ids are minted on the client and replaced by permanent server ids
// once the canonical record is loaded:
//
//	model.IsTempID(reply.ID) // true
package model
