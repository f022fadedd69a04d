// Package hub maps connected client ids to their outbound queues.
package hub

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"bken/signaling/internal/protocol"
)

// DefaultBuffer is the per-client queue depth used when none is given.
const DefaultBuffer = 64

// Conn is one registered client's outbound queue. The transport drains Send
// until it is closed.
type Conn struct {
	ClientID string
	Send     <-chan protocol.Message

	send chan protocol.Message
}

// Hub implements core.Sender over buffered per-client channels. Send never
// blocks: a full or missing queue drops the message.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	buffer int
	log    *zap.Logger

	dropped atomic.Uint64
	onDrop  func(event string)
}

// New returns an empty hub. buffer <= 0 uses DefaultBuffer.
func New(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		conns:  make(map[string]*Conn),
		buffer: buffer,
		log:    logger,
	}
}

// OnDrop installs a hook called for every dropped message. It must be set
// before the hub is shared.
func (h *Hub) OnDrop(fn func(event string)) {
	h.onDrop = fn
}

// Register creates the queue for clientID, replacing any previous one.
func (h *Hub) Register(clientID string) *Conn {
	ch := make(chan protocol.Message, h.buffer)
	c := &Conn{ClientID: clientID, Send: ch, send: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[clientID]; ok {
		close(old.send)
	}
	h.conns[clientID] = c
	return c
}

// Unregister closes and forgets c. A conn that has already been replaced is
// left alone.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[c.ClientID]; ok && cur == c {
		delete(h.conns, c.ClientID)
		close(c.send)
	}
}

// Send enqueues msg for clientID without blocking.
func (h *Hub) Send(clientID string, msg protocol.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[clientID]
	if !ok {
		h.drop(clientID, msg, "not connected")
		return
	}
	select {
	case c.send <- msg:
	default:
		h.drop(clientID, msg, "queue full")
	}
}

func (h *Hub) drop(clientID string, msg protocol.Message, reason string) {
	h.dropped.Add(1)
	if h.onDrop != nil {
		h.onDrop(msg.Event)
	}
	h.log.Debug("message dropped",
		zap.String("client_id", clientID),
		zap.String("event", msg.Event),
		zap.String("reason", reason))
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Dropped returns how many messages have been discarded.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
