// Package notify fans change notifications out to per-branch subscribers.
//
// Every store backend owns one Hub. Writes made through the backend, and
// changes the backend learns about from outside (a LISTEN channel, a change
// log), end in Publish for the affected branches.
package notify

import (
	"sync"
	"sync/atomic"
)

// Hub tracks subscriptions by branch.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	count  atomic.Int64
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	hub       *Hub
	branch    string
	fn        func()
	once      sync.Once
	cancelled atomic.Bool
}

// Branch returns the subscribed branch.
func (s *Subscription) Branch() string { return s.branch }

// Cancel removes the subscription from its hub. Only the first call has an
// effect. A Publish already running when Cancel is called may still invoke
// the callback once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		s.hub.remove(s)
	})
}

// Subscribe registers fn for branch. On a closed hub the returned
// subscription is already cancelled and never fires.
func (h *Hub) Subscribe(branch string, fn func()) *Subscription {
	s := &Subscription{hub: h, branch: branch, fn: fn}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.cancelled.Store(true)
		s.once.Do(func() {})
		return s
	}
	set, ok := h.subs[branch]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[branch] = set
	}
	set[s] = struct{}{}
	h.count.Add(1)
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.branch]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	h.count.Add(-1)
	if len(set) == 0 {
		delete(h.subs, s.branch)
	}
}

// Publish invokes the callback of every live subscription on branch.
// Callbacks run synchronously on the caller's goroutine.
func (h *Hub) Publish(branch string) {
	h.mu.RLock()
	targets := make([]*Subscription, 0, len(h.subs[branch]))
	for s := range h.subs[branch] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.cancelled.Load() {
			s.fn()
		}
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	return int(h.count.Load())
}

// Branches returns the branches that currently have subscribers.
func (h *Hub) Branches() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subs))
	for b := range h.subs {
		out = append(out, b)
	}
	return out
}

// Close cancels every subscription. Later Subscribe calls return inert
// handles.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*Subscription
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Cancel()
	}
}
