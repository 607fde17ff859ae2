// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "sync"

// notifier delivers listener callbacks in post order from one goroutine.
// post never blocks, so it is safe to call with controller locks held.
type notifier struct {
	mu        sync.Mutex
	listeners []Listener
	queue     []func(Listener)
	barriers  []chan struct{}
	closed    bool

	wake chan struct{}
	done chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *notifier) add(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

// post queues fn to be called for every listener.
func (n *notifier) post(fn func(Listener)) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.queue = append(n.queue, fn)
	n.mu.Unlock()
	n.signal()
}

// sync blocks until everything posted before the call has been delivered.
func (n *notifier) sync() {
	ch := make(chan struct{})
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.queue = append(n.queue, func(Listener) {})
	n.barriers = append(n.barriers, ch)
	n.mu.Unlock()
	n.signal()
	<-ch
}

// close delivers what is queued and stops the dispatch goroutine.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.mu.Unlock()
	n.signal()
	<-n.done
}

func (n *notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for range n.wake {
		for {
			n.mu.Lock()
			if len(n.queue) == 0 {
				barriers := n.barriers
				n.barriers = nil
				closed := n.closed
				n.mu.Unlock()
				for _, b := range barriers {
					close(b)
				}
				if closed {
					return
				}
				break
			}
			batch := n.queue
			n.queue = nil
			listeners := append([]Listener(nil), n.listeners...)
			n.mu.Unlock()

			for _, fn := range batch {
				for _, l := range listeners {
					fn(l)
				}
			}
		}
	}
}
