// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the HTTP client for the agent chat backend.
//
// The backend exposes, under the /api prefix:
//
//   - POST   /invoke_endpoint    streamed agent invocation (text/event-stream)
//   - GET    /chats              chat history, newest first
//   - GET    /chats/{id}         canonical chat record
//   - PATCH  /chats/{id}         rename
//   - DELETE /chats/{id}         delete one chat
//   - DELETE /chats              delete every chat of the user
//   - POST   /log_assessment     feedback on a trace
//   - GET    /config/agents      available agents
//
// Idempotent reads are retried with exponential backoff on network errors
// and 5xx responses. The invoke stream is never retried and has no client
// timeout; its lifetime is bounded by the caller's context.
//
// BACKEND: Bounded response reads, retry logic, typed HTTP errors
package backend
