// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/model"
)

type fetchFunc func(ctx context.Context, id string) (*backend.Chat, error)

func (f fetchFunc) GetChat(ctx context.Context, id string) (*backend.Chat, error) {
	return f(ctx, id)
}

type memCache struct {
	chats map[string]*backend.Chat
	puts  int
}

func newMemCache() *memCache {
	return &memCache{chats: make(map[string]*backend.Chat)}
}

func (m *memCache) Put(_ context.Context, chat *backend.Chat) error {
	m.puts++
	m.chats[chat.ID] = chat
	return nil
}

func (m *memCache) Get(_ context.Context, id string) (*backend.Chat, error) {
	if c, ok := m.chats[id]; ok {
		return c, nil
	}
	return nil, errors.New("not cached")
}

func canonicalMsg(id string, role model.Role, content, trace string) model.Message {
	return model.Message{ID: id, Role: role, Content: content, TraceID: trace}
}

func localMsg(role model.Role, content string) model.Message {
	return model.NewMessage(role, content)
}

func TestMerge_ReplacesWhenCanonicalCoversLocal(t *testing.T) {
	local := []model.Message{
		localMsg(model.RoleUser, "hi"),
		localMsg(model.RoleAssistant, "hello"),
	}
	canonical := []model.Message{
		canonicalMsg("m1", model.RoleUser, "hi", ""),
		canonicalMsg("m2", model.RoleAssistant, "hello", "tr-1"),
	}

	merged, mode := Merge(local, canonical)
	assert.Equal(t, ReconcileReplaced, mode)
	assert.Equal(t, canonical, merged)
}

func TestMerge_PatchesWhenCanonicalIsShorter(t *testing.T) {
	local := []model.Message{
		localMsg(model.RoleUser, "first"),
		localMsg(model.RoleAssistant, "one"),
		localMsg(model.RoleUser, "second"),
		localMsg(model.RoleAssistant, "two"),
	}
	canonical := []model.Message{
		canonicalMsg("m3", model.RoleUser, "second", ""),
		canonicalMsg("m4", model.RoleAssistant, "two!", "tr-4"),
	}

	merged, mode := Merge(local, canonical)
	assert.Equal(t, ReconcilePatched, mode)
	require.Len(t, merged, 4)

	assert.True(t, merged[0].IsTemporary())
	assert.Equal(t, "first", merged[0].Content)
	assert.Equal(t, "m3", merged[2].ID)
	assert.Equal(t, "m4", merged[3].ID)
	assert.Equal(t, "two!", merged[3].Content)
	assert.True(t, merged[3].HasTrace())
}

func TestMerge_PatchStopsAtRoleMismatch(t *testing.T) {
	local := []model.Message{
		localMsg(model.RoleUser, "a"),
		localMsg(model.RoleUser, "b"),
		localMsg(model.RoleAssistant, "c"),
	}
	canonical := []model.Message{
		canonicalMsg("x", model.RoleAssistant, "?", ""),
		canonicalMsg("y", model.RoleAssistant, "c", ""),
	}

	merged, mode := Merge(local, canonical)
	assert.Equal(t, ReconcilePatched, mode)
	assert.Equal(t, "y", merged[2].ID)
	assert.True(t, merged[1].IsTemporary())
	assert.True(t, merged[0].IsTemporary())
}

func TestMerge_KeepsInlineErrors(t *testing.T) {
	failed := model.NewErrorMessage("request failed")
	local := []model.Message{
		localMsg(model.RoleUser, "broken"),
		failed,
		localMsg(model.RoleUser, "retry"),
		localMsg(model.RoleAssistant, "ok"),
	}
	canonical := []model.Message{
		canonicalMsg("m1", model.RoleUser, "broken", ""),
		canonicalMsg("m2", model.RoleUser, "retry", ""),
		canonicalMsg("m3", model.RoleAssistant, "ok", "tr"),
	}

	merged, mode := Merge(local, canonical)
	assert.Equal(t, ReconcileReplaced, mode)
	require.Len(t, merged, 4)
	assert.Equal(t, "m1", merged[0].ID)
	assert.Equal(t, failed.ID, merged[1].ID)
	assert.True(t, merged[1].IsError)
	assert.Equal(t, "m2", merged[2].ID)
	assert.Equal(t, "m3", merged[3].ID)
}

func TestMerge_ErrorAnchorsWithLongerCanonical(t *testing.T) {
	// The canonical record holds history the local view never loaded.
	failed := model.NewErrorMessage("boom")
	local := []model.Message{
		failed,
		localMsg(model.RoleUser, "again"),
		localMsg(model.RoleAssistant, "fine"),
	}
	canonical := []model.Message{
		canonicalMsg("old1", model.RoleUser, "earlier", ""),
		canonicalMsg("old2", model.RoleAssistant, "reply", ""),
		canonicalMsg("m1", model.RoleUser, "again", ""),
		canonicalMsg("m2", model.RoleAssistant, "fine", ""),
	}

	merged, _ := Merge(local, canonical)
	ids := make([]string, len(merged))
	for i, m := range merged {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"old1", "old2", failed.ID, "m1", "m2"}, ids)
}

func TestMerge_EmptyInputs(t *testing.T) {
	merged, mode := Merge(nil, nil)
	assert.Equal(t, ReconcileReplaced, mode)
	assert.Empty(t, merged)
}

func transcriptOf(msgs []model.Message) *model.Transcript {
	tr := model.NewTranscript()
	tr.ReplaceAll(msgs)
	return tr
}

func TestReconciler_ReplacesTranscript(t *testing.T) {
	tr := transcriptOf([]model.Message{
		localMsg(model.RoleUser, "hi"),
		localMsg(model.RoleAssistant, "hello"),
	})
	cache := newMemCache()
	chat := &backend.Chat{ID: "c1", Messages: []backend.ChatMessage{
		{ID: "m1", Role: "user", Content: "hi"},
		{ID: "m2", Role: "assistant", Content: "hello", TraceSummary: &model.TraceSummary{TraceID: "tr-9"}},
	}}
	r := NewReconciler(fetchFunc(func(_ context.Context, id string) (*backend.Chat, error) {
		assert.Equal(t, "c1", id)
		return chat, nil
	}), cache, quietLogger())

	res, err := r.Reconcile(context.Background(), "c1", tr)
	require.NoError(t, err)
	assert.Equal(t, ReconcileReplaced, res.Mode)
	assert.Equal(t, 1, cache.puts)

	msgs := tr.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, "tr-9", msgs[1].TraceID)
	assert.True(t, msgs[1].HasTrace())
}

func TestReconciler_FetchFailureKeepsTranscript(t *testing.T) {
	before := []model.Message{
		localMsg(model.RoleUser, "hi"),
		localMsg(model.RoleAssistant, "streamed verbatim"),
	}
	tr := transcriptOf(before)
	r := NewReconciler(fetchFunc(func(context.Context, string) (*backend.Chat, error) {
		return nil, errors.New("connection reset")
	}), nil, quietLogger())

	_, err := r.Reconcile(context.Background(), "c1", tr)
	require.Error(t, err)
	assert.Equal(t, before, tr.Snapshot())
}

func TestReconciler_CancelledAfterFetch(t *testing.T) {
	before := []model.Message{localMsg(model.RoleUser, "hi")}
	tr := transcriptOf(before)

	ctx, cancel := context.WithCancel(context.Background())
	r := NewReconciler(fetchFunc(func(context.Context, string) (*backend.Chat, error) {
		cancel()
		return &backend.Chat{ID: "c1"}, nil
	}), nil, quietLogger())

	_, err := r.Reconcile(ctx, "c1", tr)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, before, tr.Snapshot())
}

func TestReconciler_RequiresSession(t *testing.T) {
	r := NewReconciler(fetchFunc(func(context.Context, string) (*backend.Chat, error) {
		t.Fatal("fetch must not run")
		return nil, nil
	}), nil, nil)

	_, err := r.Reconcile(context.Background(), "", model.NewTranscript())
	assert.Error(t, err)
}
