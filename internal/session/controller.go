// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/model"
)

// Config holds configuration for a controller.
type Config struct {
	// AgentID is the agent exchanges are sent to.
	AgentID string

	// RenderInterval is the minimum time between transcript refreshes during
	// streaming (default: 33ms).
	RenderInterval time.Duration

	// MaxRecordSize caps a single stream record (default: 1MB).
	MaxRecordSize int

	// ReconcileTimeout bounds the canonical fetch after an exchange (default: 15s).
	ReconcileTimeout time.Duration

	// Cache receives canonical records and serves sessions offline. Optional.
	Cache Cache

	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		RenderInterval:   DefaultRenderInterval,
		ReconcileTimeout: 15 * time.Second,
	}
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller orchestrates exchanges for one UI surface.
type Controller struct {
	backend    Backend
	reconciler *Reconciler
	cache      Cache
	cfg        Config
	logger     *log.Logger
	notify     *notifier

	// base is cancelled by Close and parents every exchange and load.
	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	// load is the in-flight SwitchSession fetch.
	load cancelSlot

	mu         sync.Mutex
	state      State
	sessionID  string
	agentID    string
	transcript *model.Transcript
	calls      *model.FunctionCallSet
	current    *exchange
	loading    bool
	loadSeq    uint64
	closed     bool
}

// NewController creates a controller with an empty transcript and no session.
func NewController(b Backend, cfg Config) *Controller {
	if cfg.RenderInterval <= 0 {
		cfg.RenderInterval = DefaultRenderInterval
	}
	if cfg.ReconcileTimeout <= 0 {
		cfg.ReconcileTimeout = DefaultConfig().ReconcileTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	base, shutdown := context.WithCancel(context.Background())
	return &Controller{
		backend:    b,
		reconciler: NewReconciler(b, cfg.Cache, logger),
		cache:      cfg.Cache,
		cfg:        cfg,
		logger:     logger,
		notify:     newNotifier(),
		base:       base,
		shutdown:   shutdown,
		agentID:    cfg.AgentID,
		transcript: model.NewTranscript(),
		calls:      model.NewFunctionCallSet(),
	}
}

// AddListener subscribes l to controller events.
func (c *Controller) AddListener(l Listener) {
	c.notify.add(l)
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current exchange state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsStreaming reports whether a request is outstanding.
func (c *Controller) IsStreaming() bool {
	return c.State().IsStreaming()
}

// SessionID returns the active session identity, or "" for a new conversation.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// AgentID returns the agent used for the next exchange.
func (c *Controller) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

// SetAgent selects the agent for the next exchange. A running exchange keeps
// the agent it started with.
func (c *Controller) SetAgent(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentID = strings.TrimSpace(id)
}

// SetRenderInterval changes the refresh interval used by the next exchange.
// Non-positive values restore the default.
func (c *Controller) SetRenderInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultRenderInterval
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.RenderInterval = d
}

// Transcript returns a snapshot of the active transcript.
func (c *Controller) Transcript() []model.Message {
	c.mu.Lock()
	tr := c.transcript
	c.mu.Unlock()
	return tr.Snapshot()
}

// FunctionCalls returns the function calls of the latest exchange.
func (c *Controller) FunctionCalls() []model.FunctionCall {
	c.mu.Lock()
	calls := c.calls
	c.mu.Unlock()
	return calls.List()
}

// =============================================================================
// EXCHANGES
// =============================================================================

// Send starts an exchange with text as the user message. It returns an error
// only when the exchange cannot start; every outcome of a started exchange is
// reported through the transcript.
func (c *Controller) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.state != StateIdle || c.current != nil:
		c.mu.Unlock()
		return ErrExchangeInProgress
	case c.loading:
		c.mu.Unlock()
		return ErrSessionLoading
	case c.agentID == "":
		c.mu.Unlock()
		return ErrNoAgent
	}

	history := backend.HistoryFrom(c.transcript.Snapshot())
	user := model.NewUserMessage(text)
	if err := c.transcript.Append(user); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("append user message: %w", err)
	}
	history = append(history, backend.InvokeMessage{Role: user.Role.String(), Content: text})

	c.calls.Reset()
	ex := c.newExchangeLocked(backend.InvokeRequest{
		AgentID:  c.agentID,
		ChatID:   c.sessionID,
		Messages: history,
	})
	c.current = ex
	c.setStateLocked(StateSending)
	c.postTranscriptLocked(c.transcript)
	c.postCallsLocked(nil)
	c.mu.Unlock()

	ex.logger.Debug("exchange started", "messages", len(history))

	c.wg.Add(1)
	go c.run(ex)
	return nil
}

// Cancel aborts the running exchange while it is sending or streaming. The
// user message stays; partial assistant content is discarded and no error
// message is added. Safe to call at any time.
func (c *Controller) Cancel() {
	c.mu.Lock()
	ex := c.current
	if ex == nil || !c.state.IsStreaming() {
		c.mu.Unlock()
		return
	}
	ex.abortLocked(abortCancel)
	c.setStateLocked(StateCancelled)
	c.mu.Unlock()

	c.exit(ex, StateCancelled, nil)
}

// SwitchSession makes id the active session. The running exchange is
// cancelled before the new transcript becomes visible. The canonical record
// is loaded from the backend, falling back to the local cache; on failure the
// new transcript stays empty and the error is returned. Switching to the
// session that is already active is a no-op.
func (c *Controller) SwitchSession(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if id != "" && id == c.sessionID && !c.loading {
		c.mu.Unlock()
		return nil
	}
	ex := c.detachLocked()
	tr := c.resetLocked(id)
	c.loadSeq++
	seq := c.loadSeq
	c.loading = id != ""
	loadCtx, release := c.load.bind(c.base)
	c.mu.Unlock()

	c.abandon(ex)
	defer release()

	if id == "" {
		return nil
	}

	// Stop the load when the caller gives up.
	stop := context.AfterFunc(ctx, release)
	defer stop()

	chat, err := c.fetchChat(loadCtx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadSeq != seq {
		return ErrSessionChanged
	}
	c.loading = false
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("load session %s: %w", id, err)
	}
	if c.agentID == "" {
		c.agentID = chat.AgentID
	}
	tr.ReplaceAll(chat.Transcript())
	c.postTranscriptLocked(tr)
	return nil
}

// NewConversation cancels the running exchange and starts an empty
// conversation with no session identity.
func (c *Controller) NewConversation() {
	_ = c.SwitchSession(context.Background(), "")
}

// SubmitFeedback records thumbs up/down for a reconciled assistant message.
func (c *Controller) SubmitFeedback(ctx context.Context, messageID string, positive bool, rationale string) error {
	c.mu.Lock()
	tr := c.transcript
	agentID := c.agentID
	c.mu.Unlock()

	msg, ok := tr.Get(messageID)
	if !ok {
		return model.ErrMessageNotFound
	}
	if !msg.HasTrace() {
		return ErrNoTrace
	}
	return c.backend.LogAssessment(ctx, backend.Assessment{
		TraceID:   msg.TraceID,
		AgentID:   agentID,
		Name:      backend.FeedbackAssessment,
		Value:     positive,
		Rationale: rationale,
	})
}

// Wait blocks until every started exchange has finished and all listener
// notifications posted so far have been delivered.
func (c *Controller) Wait() {
	c.wg.Wait()
	c.notify.sync()
}

// Close cancels everything in flight and stops listener delivery.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ex := c.detachLocked()
	c.mu.Unlock()

	c.abandon(ex)
	c.load.cancel()
	c.shutdown()
	c.wg.Wait()
	c.notify.close()
}

// =============================================================================
// INTERNAL STATE HELPERS
// =============================================================================

// detachLocked cancels the current exchange and unbinds it so a new
// transcript can be shown at once. Must be called with c.mu held.
func (c *Controller) detachLocked() *exchange {
	ex := c.current
	if ex == nil {
		return nil
	}
	c.current = nil
	ex.abortLocked(abortDetach)

	if c.state.IsStreaming() {
		c.setStateLocked(StateCancelled)
	}
	c.setStateLocked(StateIdle)
	return ex
}

// abandon funnels a detached exchange through the exit path.
func (c *Controller) abandon(ex *exchange) {
	if ex == nil {
		return
	}
	c.exit(ex, StateCancelled, nil)
}

// resetLocked installs a fresh transcript for id and publishes it.
func (c *Controller) resetLocked(id string) *model.Transcript {
	c.sessionID = id
	c.transcript = model.NewTranscript()
	c.calls = model.NewFunctionCallSet()
	c.postTranscriptLocked(c.transcript)
	c.postCallsLocked(nil)
	return c.transcript
}

func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.notify.post(func(l Listener) { l.OnStateChange(s) })
}

func (c *Controller) postTranscriptLocked(tr *model.Transcript) {
	snap := tr.Snapshot()
	c.notify.post(func(l Listener) { l.OnTranscript(snap) })
}

func (c *Controller) postCallsLocked(calls []model.FunctionCall) {
	if calls == nil {
		calls = []model.FunctionCall{}
	}
	c.notify.post(func(l Listener) { l.OnFunctionCalls(calls) })
}

// fetchChat loads a chat from the backend, falling back to the cache.
func (c *Controller) fetchChat(ctx context.Context, id string) (*backend.Chat, error) {
	chat, err := c.backend.GetChat(ctx, id)
	if err == nil {
		if c.cache != nil {
			if perr := c.cache.Put(ctx, chat); perr != nil {
				c.logger.Warn("failed to cache chat", "chat_id", id, "err", perr)
			}
		}
		return chat, nil
	}
	if ctx.Err() != nil || c.cache == nil || backend.IsNotFound(err) {
		return nil, err
	}

	cached, cerr := c.cache.Get(ctx, id)
	if cerr != nil {
		return nil, errors.Join(err, cerr)
	}
	c.logger.Warn("backend unavailable, showing cached chat", "chat_id", id, "err", err)
	return cached, nil
}
