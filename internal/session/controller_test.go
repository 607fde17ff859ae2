// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/model"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeBackend struct {
	mu          sync.Mutex
	invoke      func(ctx context.Context, req backend.InvokeRequest) (io.ReadCloser, error)
	chats       map[string]*backend.Chat
	getChat     func(ctx context.Context, id string) (*backend.Chat, error)
	getErr      error
	gets        []string
	requests    []backend.InvokeRequest
	assessments []backend.Assessment
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{chats: make(map[string]*backend.Chat)}
}

func (f *fakeBackend) Invoke(ctx context.Context, req backend.InvokeRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.invoke
	f.mu.Unlock()
	if fn == nil {
		return nil, errors.New("no stream configured")
	}
	return fn(ctx, req)
}

func (f *fakeBackend) GetChat(ctx context.Context, id string) (*backend.Chat, error) {
	f.mu.Lock()
	f.gets = append(f.gets, id)
	fn := f.getChat
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}
	return f.storedChat(id)
}

func (f *fakeBackend) storedChat(id string) (*backend.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	chat, ok := f.chats[id]
	if !ok {
		return nil, backend.ErrChatNotFound
	}
	return chat, nil
}

func (f *fakeBackend) LogAssessment(_ context.Context, a backend.Assessment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assessments = append(f.assessments, a)
	return nil
}

func (f *fakeBackend) setStream(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoke = func(context.Context, backend.InvokeRequest) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
}

// setPipe makes the next exchange stream whatever the test writes.
func (f *fakeBackend) setPipe() *io.PipeWriter {
	pr, pw := io.Pipe()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoke = func(context.Context, backend.InvokeRequest) (io.ReadCloser, error) {
		return pr, nil
	}
	return pw
}

func (f *fakeBackend) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.gets...)
}

func (f *fakeBackend) lastRequest() backend.InvokeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

type recorder struct {
	mu          sync.Mutex
	states      []State
	transcripts [][]model.Message
	calls       [][]model.FunctionCall
	sessions    []string
}

func (r *recorder) OnStateChange(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) OnTranscript(msgs []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts = append(r.transcripts, msgs)
}

func (r *recorder) OnFunctionCalls(calls []model.FunctionCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, calls)
}

func (r *recorder) OnSessionCreated(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, id)
}

func (r *recorder) stateLog() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) lastTranscript() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.transcripts) == 0 {
		return nil
	}
	return r.transcripts[len(r.transcripts)-1]
}

func newTestController(t *testing.T, fb *fakeBackend, cache Cache) (*Controller, *recorder) {
	t.Helper()
	c := NewController(fb, Config{
		AgentID: "agent-1",
		Cache:   cache,
		Logger:  quietLogger(),
	})
	rec := &recorder{}
	c.AddListener(rec)
	t.Cleanup(c.Close)
	return c, rec
}

func record(t *testing.T, v map[string]any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return "data: " + string(b) + "\n\n"
}

func deltaRec(t *testing.T, s string) string {
	return record(t, map[string]any{"type": "response.output_text.delta", "delta": s})
}

func createdRec(t *testing.T, id string) string {
	return record(t, map[string]any{"type": "chat.created", "chat_id": id})
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

// =============================================================================
// EXCHANGE OUTCOMES
// =============================================================================

func TestController_CompletedExchangeReconciles(t *testing.T) {
	fb := newFakeBackend()
	fb.setStream(createdRec(t, "c1") + deltaRec(t, "Hel") + deltaRec(t, "lo") +
		record(t, map[string]any{"type": "response.done"}) + "data: [DONE]\n\n")
	fb.chats["c1"] = &backend.Chat{ID: "c1", Messages: []backend.ChatMessage{
		{ID: "m1", Role: "user", Content: "hi"},
		{ID: "m2", Role: "assistant", Content: "Hello", TraceID: "tr-2"},
	}}
	c, rec := newTestController(t, fb, nil)

	require.NoError(t, c.Send("  hi  "))
	c.Wait()

	assert.Equal(t, StateIdle, c.State())
	assert.False(t, c.IsStreaming())
	assert.Equal(t, "c1", c.SessionID())
	assert.Equal(t, []State{StateSending, StateStreaming, StateCompleting, StateIdle}, rec.stateLog())
	assert.Equal(t, []string{"c1"}, rec.sessions)

	msgs := c.Transcript()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.True(t, msgs[1].HasTrace())
	assert.Equal(t, msgs, rec.lastTranscript())

	req := fb.lastRequest()
	assert.Equal(t, "agent-1", req.AgentID)
	assert.Empty(t, req.ChatID)
	assert.Equal(t, []backend.InvokeMessage{{Role: "user", Content: "hi"}}, req.Messages)
}

func TestController_FollowUpSendsHistoryAndSession(t *testing.T) {
	fb := newFakeBackend()
	fb.setStream(createdRec(t, "c1") + deltaRec(t, "one"))
	fb.chats["c1"] = &backend.Chat{ID: "c1", Messages: []backend.ChatMessage{
		{ID: "m1", Role: "user", Content: "first"},
		{ID: "m2", Role: "assistant", Content: "one"},
	}}
	c, rec := newTestController(t, fb, nil)

	require.NoError(t, c.Send("first"))
	c.Wait()

	// The backend repeats chat.created for existing chats.
	fb.setStream(createdRec(t, "c1") + deltaRec(t, "two"))
	require.NoError(t, c.Send("second"))
	c.Wait()

	req := fb.lastRequest()
	assert.Equal(t, "c1", req.ChatID)
	assert.Equal(t, []backend.InvokeMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "one"},
		{Role: "user", Content: "second"},
	}, req.Messages)
	assert.Equal(t, []string{"c1"}, rec.sessions, "session created fires once")
}

func TestController_TransportFailure(t *testing.T) {
	fb := newFakeBackend()
	fb.invoke = func(context.Context, backend.InvokeRequest) (io.ReadCloser, error) {
		return nil, &backend.HTTPError{Status: http.StatusInternalServerError, Message: "upstream exploded"}
	}
	c, rec := newTestController(t, fb, nil)

	require.NoError(t, c.Send("hi"))
	c.Wait()

	msgs := c.Transcript()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.True(t, msgs[1].IsError)
	assert.Contains(t, msgs[1].Content, "upstream exploded")

	assert.False(t, c.IsStreaming())
	assert.Equal(t, []State{StateSending, StateFailed, StateIdle}, rec.stateLog())
	assert.Empty(t, fb.fetched(), "nothing to reconcile without a session")
}

func TestController_StreamErrorReplacesPartialContent(t *testing.T) {
	fb := newFakeBackend()
	fb.setStream(deltaRec(t, "partial ") + record(t, map[string]any{"type": "error", "error": "model overloaded"}) + deltaRec(t, "never"))
	c, _ := newTestController(t, fb, nil)

	require.NoError(t, c.Send("hi"))
	c.Wait()

	msgs := c.Transcript()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError)
	assert.Contains(t, msgs[1].Content, "model overloaded")
	assert.NotContains(t, msgs[1].Content, "partial")
	assert.Empty(t, c.FunctionCalls())
}

func TestController_ReconcileFailureKeepsStreamedContent(t *testing.T) {
	fb := newFakeBackend()
	fb.setStream(createdRec(t, "c1") + deltaRec(t, "kept ") + deltaRec(t, "verbatim"))
	fb.getErr = errors.New("network unreachable")
	c, rec := newTestController(t, fb, nil)

	require.NoError(t, c.Send("hi"))
	c.Wait()

	msgs := c.Transcript()
	assert.Equal(t, []string{"hi", "kept verbatim"}, contents(msgs))
	for _, m := range msgs {
		assert.False(t, m.IsError)
		assert.True(t, m.IsTemporary())
		assert.False(t, m.IsStreaming)
	}
	assert.Equal(t, []string{"c1"}, fb.fetched())
	assert.Equal(t, StateIdle, rec.stateLog()[len(rec.stateLog())-1])
}

func TestController_FunctionCallsSurfaced(t *testing.T) {
	fb := newFakeBackend()
	fb.setStream(
		record(t, map[string]any{"type": "response.output_item.done", "item": map[string]any{
			"type": "function_call", "call_id": "abc", "name": "lookup", "arguments": `{"q":"x"}`}}) +
			record(t, map[string]any{"type": "response.output_item.done", "item": map[string]any{
				"type": "function_call_output", "call_id": "abc", "output": map[string]any{"ok": true}}}) +
			record(t, map[string]any{"type": "response.output_item.done", "item": map[string]any{
				"type": "message", "content": []map[string]any{{"type": "output_text", "text": "done"}}}}))
	c, rec := newTestController(t, fb, nil)

	require.NoError(t, c.Send("look it up"))
	c.Wait()

	calls := c.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.CallCompleted, calls[0].Status)
	assert.JSONEq(t, `{"ok":true}`, string(calls[0].Output))
	assert.Equal(t, []string{"look it up", "done"}, contents(c.Transcript()))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.calls)
	assert.Empty(t, rec.calls[0], "calls reset at send")
}

func TestController_ThrottledRefreshStillFlushes(t *testing.T) {
	var body strings.Builder
	var want strings.Builder
	for i := 0; i < 200; i++ {
		body.WriteString(deltaRec(t, "x"))
		want.WriteString("x")
	}
	fb := newFakeBackend()
	fb.setStream(body.String())

	c := NewController(fb, Config{AgentID: "agent-1", RenderInterval: time.Hour, Logger: quietLogger()})
	defer c.Close()
	rec := &recorder{}
	c.AddListener(rec)

	require.NoError(t, c.Send("go"))
	c.Wait()

	rec.mu.Lock()
	n := len(rec.transcripts)
	rec.mu.Unlock()
	assert.Less(t, n, 10, "deltas must be coalesced")
	assert.Equal(t, want.String(), rec.lastTranscript()[1].Content)
}

// completionWatcher remembers the transcript that was current when the
// controller entered Completing.
type completionWatcher struct {
	recorder
	atCompleting []model.Message
}

func (w *completionWatcher) OnStateChange(s State) {
	w.recorder.OnStateChange(s)
	if s == StateCompleting {
		msgs := w.recorder.lastTranscript()
		w.mu.Lock()
		w.atCompleting = msgs
		w.mu.Unlock()
	}
}

func TestController_CompletionPublishesFinalContent(t *testing.T) {
	fb := newFakeBackend()
	fb.setStream(deltaRec(t, "one") + deltaRec(t, " two") + deltaRec(t, " three"))

	c := NewController(fb, Config{AgentID: "agent-1", RenderInterval: time.Hour, Logger: quietLogger()})
	defer c.Close()
	w := &completionWatcher{}
	c.AddListener(w)

	require.NoError(t, c.Send("go"))
	c.Wait()

	w.mu.Lock()
	got := w.atCompleting
	w.mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "one two three", got[1].Content)
	assert.False(t, got[1].IsStreaming)
}

// =============================================================================
// CONCURRENCY AND CANCELLATION
// =============================================================================

func waitForContent(t *testing.T, c *Controller, substr string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, m := range c.Transcript() {
			if strings.Contains(m.Content, substr) {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestController_SingleExchangeInFlight(t *testing.T) {
	fb := newFakeBackend()
	pw := fb.setPipe()
	c, _ := newTestController(t, fb, nil)

	require.NoError(t, c.Send("first"))
	_, err := pw.Write([]byte(deltaRec(t, "streaming")))
	require.NoError(t, err)
	waitForContent(t, c, "streaming")

	assert.ErrorIs(t, c.Send("second"), ErrExchangeInProgress)
	assert.Equal(t, []string{"first", "streaming"}, contents(c.Transcript()))

	require.NoError(t, pw.Close())
	c.Wait()
	assert.Equal(t, StateIdle, c.State())
}

func TestController_SwitchMidStreamDiscardsExchange(t *testing.T) {
	fb := newFakeBackend()
	pw := fb.setPipe()
	fb.chats["c2"] = &backend.Chat{ID: "c2", AgentID: "agent-1", Messages: []backend.ChatMessage{
		{ID: "x1", Role: "user", Content: "older question"},
		{ID: "x2", Role: "assistant", Content: "older answer"},
	}}
	c, rec := newTestController(t, fb, nil)

	require.NoError(t, c.Send("hi"))
	_, err := pw.Write([]byte(createdRec(t, "c1") + deltaRec(t, "partial")))
	require.NoError(t, err)
	waitForContent(t, c, "partial")
	require.Equal(t, "c1", c.SessionID())

	require.NoError(t, c.SwitchSession(context.Background(), "c2"))
	c.Wait()

	// The transport for the old exchange is gone.
	_, err = pw.Write([]byte(deltaRec(t, " leaked")))
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	assert.Equal(t, "c2", c.SessionID())
	assert.Equal(t, []string{"older question", "older answer"}, contents(c.Transcript()))
	assert.Equal(t, []string{"c2"}, fb.fetched(), "abandoned exchange is never reconciled")

	for _, m := range rec.lastTranscript() {
		assert.NotContains(t, m.Content, "partial")
		assert.NotContains(t, m.Content, "leaked")
	}
	assert.Equal(t, []State{StateSending, StateStreaming, StateCancelled, StateIdle}, rec.stateLog())
	assert.Equal(t, StateIdle, c.State())
}

func TestController_SwitchDuringReconcile(t *testing.T) {
	fb := newFakeBackend()
	fb.setStream(createdRec(t, "c1") + deltaRec(t, "answer"))
	fb.chats["other"] = &backend.Chat{ID: "other", AgentID: "agent-1", Messages: []backend.ChatMessage{
		{ID: "o1", Role: "assistant", Content: "other"},
	}}
	fb.getChat = func(ctx context.Context, id string) (*backend.Chat, error) {
		if id == "c1" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return fb.storedChat(id)
	}
	c, rec := newTestController(t, fb, nil)

	require.NoError(t, c.Send("hi"))
	require.Eventually(t, func() bool {
		return c.State() == StateCompleting && len(fb.fetched()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.SwitchSession(context.Background(), "other"))
	c.Wait()

	assert.Equal(t, "other", c.SessionID())
	assert.Equal(t, []string{"other"}, contents(c.Transcript()))
	assert.Equal(t, []string{"other"}, contents(rec.lastTranscript()))
	assert.Equal(t, []State{StateSending, StateStreaming, StateCompleting, StateIdle}, rec.stateLog())
	assert.Equal(t, StateIdle, c.State())

	fb.mu.Lock()
	fb.chats["other"] = &backend.Chat{ID: "other", AgentID: "agent-1", Messages: []backend.ChatMessage{
		{ID: "o1", Role: "assistant", Content: "other"},
		{ID: "o2", Role: "user", Content: "again"},
		{ID: "o3", Role: "assistant", Content: "next reply"},
	}}
	fb.mu.Unlock()
	fb.setStream(deltaRec(t, "next reply"))
	require.NoError(t, c.Send("again"))
	c.Wait()
	assert.Equal(t, []string{"other", "again", "next reply"}, contents(c.Transcript()))
	assert.Equal(t, "other", fb.lastRequest().ChatID)
}

func TestController_NewConversationCancels(t *testing.T) {
	fb := newFakeBackend()
	pw := fb.setPipe()
	c, _ := newTestController(t, fb, nil)

	require.NoError(t, c.Send("hi"))
	_, err := pw.Write([]byte(deltaRec(t, "partial")))
	require.NoError(t, err)
	waitForContent(t, c, "partial")

	c.NewConversation()
	c.Wait()

	assert.Empty(t, c.Transcript())
	assert.Empty(t, c.SessionID())
	assert.False(t, c.IsStreaming())
}

func TestController_ExplicitCancel(t *testing.T) {
	fb := newFakeBackend()
	pw := fb.setPipe()
	c, rec := newTestController(t, fb, nil)

	require.NoError(t, c.Send("hi"))
	_, err := pw.Write([]byte(deltaRec(t, "partial")))
	require.NoError(t, err)
	waitForContent(t, c, "partial")

	c.Cancel()
	c.Cancel()
	c.Wait()

	assert.Equal(t, []string{"hi"}, contents(c.Transcript()))
	assert.Equal(t, []string{"hi"}, contents(rec.lastTranscript()))
	assert.Equal(t, []State{StateSending, StateStreaming, StateCancelled, StateIdle}, rec.stateLog())

	fb.setStream(deltaRec(t, "again"))
	require.NoError(t, c.Send("retry"))
	c.Wait()
	assert.Equal(t, []string{"hi", "retry", "again"}, contents(c.Transcript()))
}

func TestController_CancelWhenIdleIsNoop(t *testing.T) {
	fb := newFakeBackend()
	c, rec := newTestController(t, fb, nil)

	c.Cancel()
	c.Wait()
	assert.Empty(t, rec.stateLog())
}

// =============================================================================
// SESSION LOADING
// =============================================================================

func TestController_SwitchFallsBackToCache(t *testing.T) {
	fb := newFakeBackend()
	fb.getErr = errors.New("dial tcp: connection refused")
	cache := newMemCache()
	cache.chats["c9"] = &backend.Chat{ID: "c9", Messages: []backend.ChatMessage{
		{ID: "k1", Role: "user", Content: "cached"},
	}}
	c, _ := newTestController(t, fb, cache)

	require.NoError(t, c.SwitchSession(context.Background(), "c9"))
	assert.Equal(t, []string{"cached"}, contents(c.Transcript()))
}

func TestController_SwitchToMissingChat(t *testing.T) {
	fb := newFakeBackend()
	c, _ := newTestController(t, fb, newMemCache())

	err := c.SwitchSession(context.Background(), "nope")
	require.ErrorIs(t, err, backend.ErrChatNotFound)
	assert.Empty(t, c.Transcript())
	assert.Equal(t, "nope", c.SessionID())

	// The surface is usable again after a failed load.
	assert.NotErrorIs(t, c.Send("hello"), ErrSessionLoading)
}

func TestController_SwitchToCurrentIsNoop(t *testing.T) {
	fb := newFakeBackend()
	fb.chats["c1"] = &backend.Chat{ID: "c1", Messages: []backend.ChatMessage{{ID: "m1", Role: "user", Content: "hi"}}}
	c, _ := newTestController(t, fb, nil)

	require.NoError(t, c.SwitchSession(context.Background(), "c1"))
	require.NoError(t, c.SwitchSession(context.Background(), "c1"))
	assert.Equal(t, []string{"c1"}, fb.fetched())
}

func TestController_SwitchCachesCanonicalRecord(t *testing.T) {
	fb := newFakeBackend()
	fb.chats["c1"] = &backend.Chat{ID: "c1"}
	cache := newMemCache()
	c, _ := newTestController(t, fb, cache)

	require.NoError(t, c.SwitchSession(context.Background(), "c1"))
	assert.Equal(t, 1, cache.puts)
}

// =============================================================================
// VALIDATION AND FEEDBACK
// =============================================================================

func TestController_SendValidation(t *testing.T) {
	fb := newFakeBackend()
	c, _ := newTestController(t, fb, nil)

	assert.ErrorIs(t, c.Send("   "), ErrEmptyMessage)

	c.SetAgent("")
	assert.ErrorIs(t, c.Send("hi"), ErrNoAgent)
	assert.Empty(t, c.Transcript())

	c.Close()
	assert.ErrorIs(t, c.Send("hi"), ErrClosed)
	assert.ErrorIs(t, c.SwitchSession(context.Background(), "x"), ErrClosed)
}

func TestController_SubmitFeedback(t *testing.T) {
	fb := newFakeBackend()
	fb.setStream(createdRec(t, "c1") + deltaRec(t, "answer"))
	fb.chats["c1"] = &backend.Chat{ID: "c1", Messages: []backend.ChatMessage{
		{ID: "m1", Role: "user", Content: "q"},
		{ID: "m2", Role: "assistant", Content: "answer", TraceID: "tr-77"},
	}}
	c, _ := newTestController(t, fb, nil)

	require.NoError(t, c.Send("q"))
	c.Wait()

	require.NoError(t, c.SubmitFeedback(context.Background(), "m2", true, "helpful"))
	require.Len(t, fb.assessments, 1)
	a := fb.assessments[0]
	assert.Equal(t, "tr-77", a.TraceID)
	assert.Equal(t, "agent-1", a.AgentID)
	assert.Equal(t, backend.FeedbackAssessment, a.Name)
	assert.Equal(t, true, a.Value)
	assert.Equal(t, "helpful", a.Rationale)

	assert.ErrorIs(t, c.SubmitFeedback(context.Background(), "m1", false, ""), ErrNoTrace)
	assert.ErrorIs(t, c.SubmitFeedback(context.Background(), "missing", false, ""), model.ErrMessageNotFound)
}

func TestController_CloseAbortsStream(t *testing.T) {
	fb := newFakeBackend()
	pw := fb.setPipe()
	c := NewController(fb, Config{AgentID: "agent-1", Logger: quietLogger()})

	require.NoError(t, c.Send("hi"))
	_, err := pw.Write([]byte(deltaRec(t, "partial")))
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.False(t, c.IsStreaming())
}
