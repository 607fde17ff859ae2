// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/config"
	"github.com/jeranaias/agentchat/internal/model"
	"github.com/jeranaias/agentchat/internal/session"
	"github.com/jeranaias/agentchat/internal/ui/styles"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type fakeBackend struct {
	mu          sync.Mutex
	body        func() io.ReadCloser
	chats       map[string]*backend.Chat
	listErr     error
	requests    []backend.InvokeRequest
	assessments []backend.Assessment
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{chats: make(map[string]*backend.Chat)}
}

func (f *fakeBackend) Invoke(_ context.Context, req backend.InvokeRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.body == nil {
		return nil, errors.New("no stream configured")
	}
	return f.body(), nil
}

func (f *fakeBackend) GetChat(_ context.Context, id string) (*backend.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[id]
	if !ok {
		return nil, backend.ErrChatNotFound
	}
	return chat, nil
}

func (f *fakeBackend) ListChats(context.Context) ([]backend.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]backend.Chat, 0, len(f.chats))
	for _, c := range f.chats {
		out = append(out, *c)
	}
	return out, nil
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
	f.body = func() io.ReadCloser { return io.NopCloser(strings.NewReader(body)) }
}

func (f *fakeBackend) setPipe() *io.PipeWriter {
	pr, pw := io.Pipe()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body = func() io.ReadCloser { return pr }
	return pw
}

func (f *fakeBackend) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// harness drives a Model the way tea.Program would: controller events are
// collected by a Bridge and fed back through Update.
type harness struct {
	t       *testing.T
	be      *fakeBackend
	ctrl    *session.Controller
	m       Model
	mu      sync.Mutex
	pending []tea.Msg
}

func newHarness(t *testing.T, be *fakeBackend) *harness {
	t.Helper()
	logger := log.New(io.Discard)
	ctrl := session.NewController(be, session.Config{AgentID: "agent-1", Logger: logger})
	t.Cleanup(ctrl.Close)

	h := &harness{t: t, be: be, ctrl: ctrl}
	ctrl.AddListener(NewBridge(func(msg tea.Msg) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.pending = append(h.pending, msg)
	}))
	h.m = New(ctrl, Options{
		Chats:  be,
		Theme:  styles.NewThemeFor(styles.ModeNoTTY),
		Logger: logger,
	})
	h.update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return h
}

func (h *harness) update(msg tea.Msg) tea.Cmd {
	next, cmd := h.m.Update(msg)
	h.m = next.(Model)
	return cmd
}

// run executes a command synchronously and feeds its result back.
func (h *harness) run(cmd tea.Cmd) {
	h.t.Helper()
	require.NotNil(h.t, cmd)
	h.update(cmd())
}

// settle waits for the controller and applies every published event.
func (h *harness) settle() {
	h.ctrl.Wait()
	h.mu.Lock()
	msgs := h.pending
	h.pending = nil
	h.mu.Unlock()
	for _, msg := range msgs {
		h.update(msg)
	}
}

func (h *harness) typeAndSend(text string) {
	h.m.input.SetValue(text)
	h.update(tea.KeyMsg{Type: tea.KeyEnter})
}

func record(t *testing.T, v map[string]any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return "data: " + string(b) + "\n\n"
}

func completedStream(t *testing.T, chatID, reply string) string {
	return record(t, map[string]any{"type": "chat.created", "chat_id": chatID}) +
		record(t, map[string]any{"type": "response.output_text.delta", "delta": reply}) +
		record(t, map[string]any{"type": "response.done"}) +
		"data: [DONE]\n\n"
}

func canonicalChat(id, question, answer, trace string) *backend.Chat {
	return &backend.Chat{ID: id, Title: question, Messages: []backend.ChatMessage{
		{ID: id + "-u", Role: "user", Content: question},
		{ID: id + "-a", Role: "assistant", Content: answer, TraceID: trace},
	}}
}

// =============================================================================
// TESTS
// =============================================================================

func TestModel_SendRendersReconciledReply(t *testing.T) {
	be := newFakeBackend()
	be.setStream(completedStream(t, "c1", "Hello there"))
	be.chats["c1"] = canonicalChat("c1", "hi", "Hello there", "tr-1")
	h := newHarness(t, be)

	h.typeAndSend("hi")
	assert.Empty(t, h.m.input.Value())
	h.settle()

	assert.Equal(t, session.StateIdle, h.m.state)
	assert.Equal(t, "c1", h.m.sessionID)
	require.Len(t, h.m.messages, 2)
	assert.Equal(t, "c1-a", h.m.messages[1].ID)

	view := h.m.View()
	assert.Contains(t, view, "Hello there")
	assert.Contains(t, view, "c1")
}

func TestModel_EmptyInputIsIgnored(t *testing.T) {
	be := newFakeBackend()
	h := newHarness(t, be)

	h.typeAndSend("   ")
	h.settle()

	assert.Zero(t, be.requestCount())
	assert.Empty(t, h.m.notice)
}

func TestModel_InputDisabledWhileStreaming(t *testing.T) {
	be := newFakeBackend()
	h := newHarness(t, be)

	h.update(stateMsg{State: session.StateStreaming})
	assert.False(t, h.m.input.Focused())
	assert.Contains(t, h.m.View(), "Esc to stop")

	h.m.input.SetValue("second")
	h.update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Zero(t, be.requestCount())
	assert.Equal(t, "second", h.m.input.Value())

	h.update(stateMsg{State: session.StateIdle})
	assert.True(t, h.m.input.Focused())
}

func TestModel_EscCancelsStreamingReply(t *testing.T) {
	be := newFakeBackend()
	pw := be.setPipe()
	h := newHarness(t, be)

	h.typeAndSend("long question")
	_, err := pw.Write([]byte(record(t, map[string]any{"type": "response.output_text.delta", "delta": "partial"})))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.ctrl.State() == session.StateStreaming },
		2*time.Second, 5*time.Millisecond)

	h.update(stateMsg{State: session.StateStreaming})
	h.update(tea.KeyMsg{Type: tea.KeyEsc})
	h.settle()

	assert.Equal(t, session.StateIdle, h.m.state)
	require.Len(t, h.m.messages, 1)
	assert.Equal(t, model.RoleUser, h.m.messages[0].Role)
	assert.Equal(t, "Stopped", h.m.notice)
}

func TestModel_FailureShowsInlineError(t *testing.T) {
	be := newFakeBackend()
	h := newHarness(t, be)

	h.typeAndSend("hi")
	h.settle()

	require.Len(t, h.m.messages, 2)
	assert.True(t, h.m.messages[1].IsError)
	assert.Contains(t, h.m.View(), "no stream configured")
}

func TestModel_FunctionCallsListed(t *testing.T) {
	be := newFakeBackend()
	h := newHarness(t, be)

	h.update(callsMsg{Calls: []model.FunctionCall{
		{CallID: "a", Name: "search_docs", Status: model.CallCalling},
		{CallID: "b", Name: "lookup", Status: model.CallCompleted},
		{CallID: "c", Name: "broken", Status: model.CallError, Error: "timeout"},
	}})

	view := h.m.View()
	assert.Contains(t, view, "search_docs")
	assert.Contains(t, view, styles.StatusIndicators.Success+" lookup")
	assert.Contains(t, view, "broken: timeout")
}

func TestModel_PickerOpensChat(t *testing.T) {
	be := newFakeBackend()
	be.chats["c9"] = canonicalChat("c9", "earlier question", "earlier answer", "tr-9")
	h := newHarness(t, be)

	cmd := h.update(tea.KeyMsg{Type: tea.KeyCtrlO})
	require.NotNil(t, h.m.picker)
	assert.Contains(t, h.m.View(), "Loading chats")

	h.run(cmd)
	require.Len(t, h.m.picker.chats, 1)
	assert.Contains(t, h.m.View(), "earlier question")

	cmd = h.update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, h.m.picker)
	h.run(cmd)
	h.settle()

	assert.Equal(t, "c9", h.m.sessionID)
	assert.Equal(t, "c9", h.ctrl.SessionID())
	require.Len(t, h.m.messages, 2)
	assert.Contains(t, h.m.View(), "earlier answer")
}

func TestModel_PickerShowsListError(t *testing.T) {
	be := newFakeBackend()
	be.listErr = errors.New("backend down")
	h := newHarness(t, be)

	h.run(h.update(tea.KeyMsg{Type: tea.KeyCtrlO}))
	assert.Contains(t, h.m.View(), "backend down")

	h.update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, h.m.picker)
}

func TestModel_OpenMissingChat(t *testing.T) {
	be := newFakeBackend()
	h := newHarness(t, be)

	h.run(h.m.switchCmd("gone"))
	assert.True(t, h.m.noticeErr)
	assert.Contains(t, h.m.notice, "gone")
}

func TestModel_NewConversation(t *testing.T) {
	be := newFakeBackend()
	be.chats["c1"] = canonicalChat("c1", "q", "a", "tr")
	h := newHarness(t, be)
	h.run(h.m.switchCmd("c1"))
	h.settle()
	require.Len(t, h.m.messages, 2)

	h.update(tea.KeyMsg{Type: tea.KeyCtrlN})
	h.settle()

	assert.Empty(t, h.m.sessionID)
	assert.Empty(t, h.m.messages)
	assert.Contains(t, h.m.View(), "Start a conversation")
}

func TestModel_FeedbackOnLastReply(t *testing.T) {
	be := newFakeBackend()
	be.chats["c1"] = canonicalChat("c1", "q", "a", "tr-42")
	h := newHarness(t, be)
	h.run(h.m.switchCmd("c1"))
	h.settle()

	h.run(h.update(tea.KeyMsg{Type: tea.KeyCtrlT}))

	require.Len(t, be.assessments, 1)
	assert.Equal(t, "tr-42", be.assessments[0].TraceID)
	assert.Equal(t, false, be.assessments[0].Value)
	rating, ok := h.m.feedback["c1-a"]
	require.True(t, ok)
	assert.False(t, rating)
	assert.Equal(t, "Thanks for the feedback", h.m.notice)
}

func TestModel_FeedbackNeedsTrace(t *testing.T) {
	be := newFakeBackend()
	be.chats["c1"] = canonicalChat("c1", "q", "a", "")
	h := newHarness(t, be)
	h.run(h.m.switchCmd("c1"))
	h.settle()

	cmd := h.update(tea.KeyMsg{Type: tea.KeyCtrlY})
	assert.Nil(t, cmd)
	assert.True(t, h.m.noticeErr)
	assert.Empty(t, be.assessments)
}

func TestModel_ConfigChangeWaitsForIdle(t *testing.T) {
	be := newFakeBackend()
	h := newHarness(t, be)

	cfg := config.Default()
	cfg.Backend.AgentID = "agent-2"

	h.update(stateMsg{State: session.StateStreaming})
	h.update(ConfigChangedMsg{Config: cfg})
	assert.Equal(t, "agent-1", h.ctrl.AgentID())

	h.update(stateMsg{State: session.StateIdle})
	assert.Equal(t, "agent-2", h.ctrl.AgentID())
	assert.Nil(t, h.m.pendingCfg)
}

func TestPicker_Navigation(t *testing.T) {
	p := &picker{loading: true}
	_, ok := p.selected()
	assert.False(t, ok)

	p.load([]backend.Chat{{ID: "a"}, {ID: "b"}, {ID: "c"}}, nil)
	p.move(-1)
	assert.Equal(t, 0, p.cursor)
	p.move(5)
	assert.Equal(t, 2, p.cursor)

	start, end := p.visible(2)
	assert.Equal(t, 1, start)
	assert.Equal(t, 3, end)

	chat, ok := p.selected()
	require.True(t, ok)
	assert.Equal(t, "c", chat.ID)
}

func TestMarkdownRenderer_CachesByID(t *testing.T) {
	r := newMarkdownRenderer("notty")
	r.SetWidth(60)

	first := r.Render("m1", "**bold** text")
	assert.Contains(t, first, "bold")
	assert.Equal(t, first, r.Render("m1", "**bold** text"))

	changed := r.Render("m1", "other text")
	assert.Contains(t, changed, "other text")

	r.SetWidth(40)
	assert.Empty(t, r.cache)
}

func TestHelpText(t *testing.T) {
	k := DefaultKeyMap()
	text := HelpText([]key.Binding{k.Submit, k.Quit})
	assert.Equal(t, "Enter send  C-c quit", text)
}
