// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/model"
)

// ChatFetcher loads canonical chat records.
type ChatFetcher interface {
	GetChat(ctx context.Context, id string) (*backend.Chat, error)
}

// ReconcileMode describes how a canonical record was merged.
type ReconcileMode int

const (
	// ReconcileReplaced means the canonical list replaced the transcript.
	ReconcileReplaced ReconcileMode = iota
	// ReconcilePatched means the canonical list was shorter than what the
	// user has seen; ids and trace data were copied onto matching messages
	// and the rest was kept.
	ReconcilePatched
)

// ReconcileResult summarizes a successful reconciliation.
type ReconcileResult struct {
	Mode     ReconcileMode
	Chat     *backend.Chat
	Messages []model.Message
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler replaces optimistic transcript state with the backend's
// canonical record of a session.
type Reconciler struct {
	fetcher ChatFetcher
	cache   Cache
	logger  *log.Logger
}

// NewReconciler creates a reconciler. cache may be nil.
func NewReconciler(fetcher ChatFetcher, cache Cache, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{fetcher: fetcher, cache: cache, logger: logger}
}

// Reconcile fetches sessionID and merges it into tr. On fetch failure tr is
// left untouched and the error is returned for logging; the optimistic state
// stays the user's view. The merge is skipped if ctx is cancelled after the
// fetch.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string, tr *model.Transcript) (*ReconcileResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("reconcile: no session identity")
	}

	chat, err := r.fetcher.GetChat(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", sessionID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Put(ctx, chat); err != nil {
			r.logger.Warn("failed to cache chat", "chat_id", sessionID, "err", err)
		}
	}

	merged, mode := Merge(tr.Snapshot(), chat.Transcript())
	if mode == ReconcilePatched {
		r.logger.Warn("canonical record is shorter than transcript, patching in place",
			"chat_id", sessionID, "canonical", len(chat.Messages))
	}
	tr.ReplaceAll(merged)

	return &ReconcileResult{Mode: mode, Chat: chat, Messages: merged}, nil
}

// Merge combines the local transcript with the canonical message list.
//
// Inline error messages exist only locally and are carried over, positioned
// after the message that preceded them. The remaining local messages are
// aligned with the canonical list from the end. When the canonical list holds
// at least as many messages it replaces them wholesale; otherwise matching
// pairs (same role, walking back from the newest) receive the canonical id,
// timestamp and trace data and unmatched local messages are kept as they are.
func Merge(local, canonical []model.Message) ([]model.Message, ReconcileMode) {
	type anchored struct {
		msg   model.Message
		after int // index into kept of the preceding non-error message, -1 for none
	}

	var kept []model.Message
	var errs []anchored
	for _, m := range local {
		if m.IsError {
			errs = append(errs, anchored{msg: m, after: len(kept) - 1})
			continue
		}
		kept = append(kept, m)
	}

	var base []model.Message
	var mode ReconcileMode
	offset := 0

	if len(canonical) >= len(kept) {
		mode = ReconcileReplaced
		base = append(base, canonical...)
		offset = len(canonical) - len(kept)
	} else {
		mode = ReconcilePatched
		base = append(base, kept...)
		for i, j := len(kept)-1, len(canonical)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
			if kept[i].Role != canonical[j].Role {
				break
			}
			c := canonical[j]
			base[i].ID = c.ID
			base[i].Timestamp = c.Timestamp
			base[i].TraceID = c.TraceID
			base[i].TraceSummary = c.TraceSummary
			if c.Content != "" {
				base[i].Content = c.Content
			}
			base[i].IsStreaming = false
		}
	}

	if len(errs) == 0 {
		return base, mode
	}

	out := make([]model.Message, 0, len(base)+len(errs))
	next := 0
	for i := -1; i < len(base); i++ {
		if i >= 0 {
			out = append(out, base[i])
		}
		for next < len(errs) && anchorIndex(errs[next].after, offset) == i {
			out = append(out, errs[next].msg)
			next++
		}
	}
	for ; next < len(errs); next++ {
		out = append(out, errs[next].msg)
	}
	return out, mode
}

// anchorIndex maps a position in the local non-error list to the merged list.
func anchorIndex(after, offset int) int {
	if after < 0 {
		if offset > 0 {
			return offset - 1
		}
		return -1
	}
	return after + offset
}
