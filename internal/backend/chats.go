// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jeranaias/agentchat/internal/model"
)

// =============================================================================
// CHAT HISTORY
// =============================================================================

// GetChat fetches the canonical record of a chat.
func (c *Client) GetChat(ctx context.Context, id string) (*Chat, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrChatNotFound
	}
	var chat Chat
	if err := c.doWithRetry(ctx, http.MethodGet, c.endpoint("/chats", id), &chat); err != nil {
		return nil, wrapNotFound(err, id)
	}
	return &chat, nil
}

// ListChats returns every chat of the user, newest first.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var chats []Chat
	if err := c.doWithRetry(ctx, http.MethodGet, c.endpoint("/chats"), &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// RenameChat changes the title of a chat.
func (c *Client) RenameChat(ctx context.Context, id, title string) (*Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("title must not be empty")
	}
	var chat Chat
	if err := c.doOnce(ctx, http.MethodPatch, c.endpoint("/chats", id), renameRequest{Title: title}, &chat); err != nil {
		return nil, wrapNotFound(err, id)
	}
	return &chat, nil
}

// DeleteChat removes one chat.
func (c *Client) DeleteChat(ctx context.Context, id string) error {
	if err := c.doOnce(ctx, http.MethodDelete, c.endpoint("/chats", id), nil, nil); err != nil {
		return wrapNotFound(err, id)
	}
	return nil
}

// ClearChats removes every chat of the user and returns how many were deleted.
func (c *Client) ClearChats(ctx context.Context) (int, error) {
	var resp clearResponse
	if err := c.doOnce(ctx, http.MethodDelete, c.endpoint("/chats"), nil, &resp); err != nil {
		return 0, err
	}
	return resp.DeletedCount, nil
}

// =============================================================================
// FEEDBACK AND AGENTS
// =============================================================================

// LogAssessment records feedback for a trace.
func (c *Client) LogAssessment(ctx context.Context, a Assessment) error {
	if a.TraceID == "" {
		return errors.New("assessment requires a trace id")
	}
	if a.Name == "" {
		a.Name = FeedbackAssessment
	}
	if a.SourceID == "" {
		a.SourceID = "anonymous"
	}
	return c.doOnce(ctx, http.MethodPost, c.endpoint("/log_assessment"), a, nil)
}

// ListAgents returns the agents the backend is configured with.
func (c *Client) ListAgents(ctx context.Context) ([]model.Agent, error) {
	var resp agentsResponse
	if err := c.doWithRetry(ctx, http.MethodGet, c.endpoint("/config/agents"), &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" && len(resp.Agents) == 0 {
		return nil, fmt.Errorf("failed to load agents: %s", resp.Error)
	}
	return resp.Agents, nil
}

func wrapNotFound(err error, id string) error {
	if IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	return err
}
