// Package broadcast is the in-process publish-subscribe channel shared by the
// sync engine and open editor instances. The engine uses it to ask editors to
// flush unsaved CRDT fragments before a pass and to tell them a document
// changed underfoot.
package broadcast

import (
	"context"
	"sync"
	"time"
)

// MessageKind discriminates hub messages.
type MessageKind string

const (
	// KindDocumentUpdated tells open editors to reload the named document.
	KindDocumentUpdated MessageKind = "update"
	// KindFlushRequested asks editors to persist unsaved fragments. An empty
	// DocID addresses every open editor.
	KindFlushRequested MessageKind = "flush"
)

// Message is one hub event.
type Message struct {
	Kind      MessageKind
	DocID     string
	Timestamp time.Time
}

// Hub fans messages out to subscribers. It is an explicitly constructed,
// dependency-injected service: tests build isolated instances and Close tears
// the instance down.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
	closed      bool
}

type subscriber struct {
	id     int64
	stream chan Message
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener. The returned cancel function releases the
// subscription; cancelling twice is safe. The subscription also ends when the
// context is done.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Message, func()) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		stream := make(chan Message)
		close(stream)
		return stream, func() {}
	}
	h.nextID++
	entry := &subscriber{
		id:     h.nextID,
		stream: make(chan Message, h.bufferSize),
	}
	h.subscribers[entry.id] = entry
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, entry.id)
			h.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return entry.stream, cancel
}

// Publish delivers the message to every subscriber without blocking; slow
// subscribers with full buffers miss the message.
func (h *Hub) Publish(message Message) {
	if message.Kind == "" {
		return
	}
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(h.subscribers))
	for _, entry := range h.subscribers {
		copies = append(copies, entry)
	}
	h.mu.RUnlock()
	for _, entry := range copies {
		select {
		case entry.stream <- message:
		default:
		}
	}
}

// Close tears the hub down. Further publishes are dropped and new
// subscriptions return closed streams.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.subscribers = make(map[int64]*subscriber)
}
