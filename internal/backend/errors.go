// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Error variables for common backend failures.
var (
	// ErrNotConfigured indicates the client has no usable base URL.
	ErrNotConfigured = errors.New("backend URL not configured")

	// ErrChatNotFound indicates the requested chat does not exist for the user.
	ErrChatNotFound = errors.New("chat not found")

	// ErrNoStream indicates the invoke endpoint answered with a JSON document
	// instead of an event stream.
	ErrNoStream = errors.New("backend did not return a stream")
)

// HTTPError is returned for any non-success status.
type HTTPError struct {
	Status int
	// Message is the backend's error detail when one could be extracted.
	Message string
	// Body is the raw (size-limited) response body.
	Body string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (%d %s): %s", e.Status, http.StatusText(e.Status), e.Message)
	}
	return fmt.Sprintf("backend error (%d %s)", e.Status, http.StatusText(e.Status))
}

// Temporary reports whether retrying the request could succeed.
func (e *HTTPError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// IsNotFound reports whether err means the chat does not exist.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrChatNotFound) {
		return true
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}

// InvokeError is the in-band error document the invoke endpoint returns with
// status 200 when the agent or chat cannot be resolved.
type InvokeError struct {
	Reason  string
	Message string
}

// Error implements the error interface.
func (e *InvokeError) Error() string {
	if e.Message != "" {
		return e.Reason + ": " + e.Message
	}
	return e.Reason
}

// Unwrap lets callers match ErrNoStream.
func (e *InvokeError) Unwrap() error {
	return ErrNoStream
}

// newHTTPError builds an HTTPError, pulling a human-readable message out of
// FastAPI style {"detail": ...} bodies or {"error": ...} documents.
func newHTTPError(status int, body []byte) *HTTPError {
	e := &HTTPError{Status: status, Body: string(body)}
	if gjson.ValidBytes(body) {
		doc := gjson.ParseBytes(body)
		for _, path := range []string{"detail", "error.message", "error", "message"} {
			if v := doc.Get(path); v.Exists() && v.Type == gjson.String {
				e.Message = v.String()
				break
			}
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
		if len(e.Message) > 200 {
			e.Message = e.Message[:200] + "..."
		}
	}
	return e
}
