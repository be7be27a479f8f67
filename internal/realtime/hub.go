// Package realtime fans committed row changes out to subscribers of a
// (table, session) channel.
package realtime

import (
	"sync"

	"github.com/sjawhar/pollcast/internal/schema"
)

const defaultBuffer = 64

type channelKey struct {
	table     schema.Table
	sessionID string
}

// Subscription receives the changes published on one channel. Its channel is
// closed when the subscriber unsubscribes or falls behind; a subscriber that
// did not ask to leave must resubscribe and fetch the table again.
type Subscription struct {
	key    channelKey
	ch     chan schema.Change
	closed bool
	lagged bool
}

func (s *Subscription) C() <-chan schema.Change {
	return s.ch
}

func (s *Subscription) Table() schema.Table {
	return s.key.table
}

func (s *Subscription) SessionID() string {
	return s.key.sessionID
}

type Hub struct {
	mu     sync.Mutex
	buffer int
	subs   map[channelKey]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return NewHubWithBuffer(defaultBuffer)
}

// NewHubWithBuffer sets how many undelivered changes a subscriber may hold
// before it is dropped.
func NewHubWithBuffer(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[channelKey]map[*Subscription]struct{}),
	}
}

func (h *Hub) Subscribe(table schema.Table, sessionID string) *Subscription {
	sub := &Subscription{
		key: channelKey{table: table, sessionID: sessionID},
		ch:  make(chan schema.Change, h.buffer),
	}

	h.mu.Lock()
	set, ok := h.subs[sub.key]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sub.key] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe is safe to call more than once and after the hub dropped the
// subscriber.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// Lagged reports whether the hub dropped the subscription because its buffer
// filled up.
func (h *Hub) Lagged(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sub.lagged
}

// Publish delivers change to every subscriber of its channel without
// blocking. A subscriber whose buffer is full is dropped.
func (h *Hub) Publish(change schema.Change) {
	key := channelKey{table: change.Table, sessionID: change.SessionID}

	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[key] {
		select {
		case sub.ch <- change:
		default:
			sub.lagged = true
			h.removeLocked(sub)
		}
	}
}

// Count returns the number of live subscribers on a channel.
func (h *Hub) Count(table schema.Table, sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[channelKey{table: table, sessionID: sessionID}])
}

func (h *Hub) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	if set, ok := h.subs[sub.key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.key)
		}
	}
	close(sub.ch)
}
