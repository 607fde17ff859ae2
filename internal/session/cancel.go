// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
)

// =============================================================================
// CANCEL FUNCTION MANAGEMENT (THREAD-SAFE)
// =============================================================================

// cancelSlot holds the cancel function of the operation currently bound to a
// slot, such as the in-flight session load. Binding a new operation cancels
// the previous one.
type cancelSlot struct {
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	generation uint64
}

// bind derives a cancellable context from parent and binds it to the slot,
// cancelling whatever was bound before. The returned release cancels the
// context and clears the slot if it is still bound to it.
func (s *cancelSlot) bind(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	prev := s.cancelFunc
	s.cancelFunc = cancel
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	if prev != nil {
		prev()
	}

	release := func() {
		cancel()
		s.mu.Lock()
		if s.generation == gen {
			s.cancelFunc = nil
		}
		s.mu.Unlock()
	}
	return ctx, release
}

// cancel invokes the stored cancel function and clears it.
// Safe to call multiple times or with no cancel function set.
func (s *cancelSlot) cancel() {
	s.mu.Lock()
	fn := s.cancelFunc
	s.cancelFunc = nil
	s.generation++
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}
