// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/model"
	"github.com/jeranaias/agentchat/internal/stream"
)

// abortMode records who cancelled an exchange.
type abortMode int

const (
	abortNone abortMode = iota
	// abortCancel keeps the exchange bound to the visible transcript until
	// its exit has cleaned up.
	abortCancel
	// abortDetach unbinds the exchange immediately; its transcript is no
	// longer shown.
	abortDetach
)

// exchange is one send → stream → reconcile operation. Its context is the
// cancellation token checked at every suspension point and mutation site.
type exchange struct {
	id     string
	req    backend.InvokeRequest
	ctx    context.Context
	cancel context.CancelFunc
	logger *log.Logger

	// transcript and calls are the objects that were visible when the
	// exchange started. A session switch replaces the controller's objects,
	// never these.
	transcript *model.Transcript
	calls      *model.FunctionCallSet
	interp     *interpreter
	throttle   *throttle

	// abort is written under the controller lock.
	abort abortMode

	// mu serializes event application with the exit path.
	mu       sync.Mutex
	finished bool
}

func (c *Controller) newExchangeLocked(req backend.InvokeRequest) *exchange {
	ctx, cancel := context.WithCancel(c.base)
	ex := &exchange{
		id:         uuid.NewString(),
		req:        req,
		ctx:        ctx,
		cancel:     cancel,
		transcript: c.transcript,
		calls:      c.calls,
	}
	ex.logger = c.logger.With("exchange", ex.id[:8], "agent", req.AgentID)
	ex.interp = newInterpreter(ex.transcript, ex.calls, ex.logger, func(id string) {
		c.sessionCreated(ex, id)
	})
	ex.throttle = newThrottle(c.cfg.RenderInterval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ex.ctx.Err() == nil {
			c.postTranscriptLocked(ex.transcript)
		}
	})
	return ex
}

// abortLocked cancels the exchange token. Must be called with c.mu held.
func (ex *exchange) abortLocked(mode abortMode) {
	if ex.abort == abortNone {
		ex.abort = mode
	}
	ex.cancel()
}

// =============================================================================
// RUN LOOP
// =============================================================================

func (c *Controller) run(ex *exchange) {
	defer c.wg.Done()

	body, err := c.backend.Invoke(ex.ctx, ex.req)
	if err != nil {
		c.exit(ex, StateFailed, err)
		return
	}
	defer body.Close()

	// Unblock a pending read when the token is cancelled.
	stop := context.AfterFunc(ex.ctx, func() { _ = body.Close() })
	defer stop()

	if !c.beginStreaming(ex) {
		c.exit(ex, StateCancelled, nil)
		return
	}

	opts := []stream.DecoderOption{stream.WithLogger(ex.logger)}
	if c.cfg.MaxRecordSize > 0 {
		opts = append(opts, stream.WithMaxRecordSize(c.cfg.MaxRecordSize))
	}

	for payload, err := range stream.Records(ex.ctx, body, opts...) {
		if err != nil {
			c.exit(ex, StateFailed, err)
			return
		}
		if err := c.apply(ex, stream.Parse(payload)); err != nil {
			c.exit(ex, StateFailed, err)
			return
		}
	}

	c.exit(ex, StateCompleting, nil)
}

func (c *Controller) beginStreaming(ex *exchange) bool {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.finished {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ex.ctx.Err() != nil {
		return false
	}
	c.setStateLocked(StateStreaming)
	return true
}

// apply interprets one event. Events that arrive after the token was
// cancelled are dropped without touching the transcript.
func (c *Controller) apply(ex *exchange, ev stream.Event) error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.finished || ex.ctx.Err() != nil {
		return context.Canceled
	}

	eff, err := ex.interp.apply(ev)
	if eff&effectTranscript != 0 {
		ex.throttle.trigger()
	}
	if eff&effectCalls != 0 {
		c.mu.Lock()
		if ex.ctx.Err() == nil {
			c.postCallsLocked(ex.calls.List())
		}
		c.mu.Unlock()
	}
	return err
}

// sessionCreated records a backend-assigned identity. Runs under ex.mu.
func (c *Controller) sessionCreated(ex *exchange, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ex.ctx.Err() != nil {
		return
	}

	switch c.sessionID {
	case "":
		c.sessionID = id
		ex.logger.Info("session created", "chat_id", id)
		c.notify.post(func(l Listener) { l.OnSessionCreated(id) })
	case id:
	default:
		ex.logger.Warn("backend reported a different session", "current", c.sessionID, "reported", id)
	}
}

// =============================================================================
// EXIT
// =============================================================================

// exit is the single way out of Sending/Streaming. The first call wins; later
// calls for the same exchange return immediately.
func (c *Controller) exit(ex *exchange, outcome State, cause error) {
	ex.mu.Lock()
	if ex.finished {
		ex.mu.Unlock()
		return
	}
	ex.finished = true

	if outcome == StateCompleting {
		sessionID, ok := c.complete(ex)
		ex.mu.Unlock()
		if ok && sessionID != "" {
			c.reconcile(ex, sessionID)
		}
		c.mu.Lock()
		if ex.ctx.Err() == nil || ex.abort == abortCancel {
			c.postTranscriptLocked(ex.transcript)
		}
		c.releaseLocked(ex)
		c.mu.Unlock()
		ex.cancel()
		return
	}
	defer ex.mu.Unlock()
	ex.throttle.stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer ex.cancel()

	if outcome == StateFailed && ex.ctx.Err() == nil && !errors.Is(cause, context.Canceled) {
		ex.interp.discard()
		ex.logger.Error("exchange failed", "err", cause)
		if err := ex.transcript.Append(model.NewErrorMessage(failureText(cause))); err != nil {
			ex.logger.Warn("cannot append error message", "err", err)
		}
		c.postTranscriptLocked(ex.transcript)
		c.postCallsLocked(ex.calls.List())
		c.setStateLocked(StateFailed)
		c.releaseLocked(ex)
		return
	}

	ex.interp.discard()
	ex.logger.Debug("exchange cancelled")
	if ex.abort != abortDetach {
		c.postTranscriptLocked(ex.transcript)
		if c.state.IsStreaming() {
			c.setStateLocked(StateCancelled)
		}
	}
	c.releaseLocked(ex)
}

// complete closes the assistant message, publishes it at once and enters
// Completing. It reports the session to reconcile and whether the exchange was
// still current. Runs under ex.mu.
func (c *Controller) complete(ex *exchange) (string, bool) {
	ex.interp.finish()
	ex.throttle.flush()
	ex.throttle.stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if ex.ctx.Err() != nil {
		ex.interp.discard()
		return "", false
	}

	c.postCallsLocked(ex.calls.List())
	c.setStateLocked(StateCompleting)
	return c.sessionID, true
}

func (c *Controller) reconcile(ex *exchange, sessionID string) {
	ctx, cancel := context.WithTimeout(ex.ctx, c.cfg.ReconcileTimeout)
	defer cancel()

	res, err := c.reconciler.Reconcile(ctx, sessionID, ex.transcript)
	if err != nil {
		if ex.ctx.Err() != nil {
			ex.logger.Debug("reconcile abandoned", "chat_id", sessionID)
			return
		}
		ex.logger.Warn("reconcile failed, keeping streamed transcript", "chat_id", sessionID, "err", err)
		return
	}
	ex.logger.Debug("reconciled", "chat_id", sessionID, "messages", len(res.Messages))
}

// releaseLocked unbinds ex and returns the surface to Idle.
func (c *Controller) releaseLocked(ex *exchange) {
	if c.current != ex {
		return
	}
	c.current = nil
	c.setStateLocked(StateIdle)
}

// failureText is the inline message shown for a failed exchange.
func failureText(err error) string {
	var se *StreamError
	var he *backend.HTTPError
	var ie *backend.InvokeError
	switch {
	case errors.As(err, &se):
		return "The agent reported an error: " + se.Message
	case errors.As(err, &ie):
		return "The agent could not be reached: " + ie.Message
	case errors.As(err, &he):
		return "The request failed: " + he.Error()
	default:
		return "Something went wrong while streaming the reply: " + err.Error()
	}
}
