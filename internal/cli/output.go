// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// JSONResponse is the envelope printed by commands run with --json.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data any `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is when the response was generated (RFC 3339, UTC)
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates an error response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write prints the response as indented JSON.
func (r *JSONResponse) Write(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// outputJSON runs handler and prints its result as JSON when jsonMode is set.
// Otherwise the handler prints its own human-readable output.
func outputJSON(w io.Writer, jsonMode bool, command string, handler func() (any, error)) error {
	data, err := handler()
	if !jsonMode {
		return err
	}
	if err != nil {
		if werr := NewJSONErrorResponse(command, err).Write(w); werr != nil {
			return werr
		}
		return &exitError{code: 1}
	}
	return NewJSONResponse(command, data).Write(w)
}
