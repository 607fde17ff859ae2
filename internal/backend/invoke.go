// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// =============================================================================
// STREAMED INVOCATION
// =============================================================================

// Invoke starts an exchange and returns the open event stream. The caller
// must close the returned body. Cancelling ctx aborts the transport.
//
// A non-success status yields *HTTPError. A success status carrying a JSON
// error document (unknown agent or chat) yields *InvokeError.
func (c *Client) Invoke(ctx context.Context, req InvokeRequest) (io.ReadCloser, error) {
	if req.AgentID == "" {
		return nil, errors.New("invoke requires an agent id")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("invoke requires at least one message")
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, c.endpoint("/invoke_endpoint"), req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := c.streamer.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug("invoke stream opened", "agent", req.AgentID, "chat_id", req.ChatID, "status", resp.StatusCode, "ttfb", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, newHTTPError(resp.StatusCode, body)
	}

	if isJSON(resp.Header.Get("Content-Type")) {
		defer func() { _ = resp.Body.Close() }()
		body, err := readResponse(resp)
		if err != nil {
			return nil, err
		}
		return nil, invokeError(body)
	}

	return resp.Body, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

func invokeError(body []byte) error {
	doc := gjson.ParseBytes(body)
	e := &InvokeError{
		Reason:  doc.Get("error").String(),
		Message: doc.Get("message").String(),
	}
	if e.Reason == "" {
		e.Reason = ErrNoStream.Error()
	}
	return e
}
