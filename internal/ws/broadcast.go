package ws

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/machinemetrics/shdr-adapter/internal/metric"
)

// ErrTooManyConnections is returned by AddClient when the client cap is
// reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

const (
	sendQueueSize = 64
	writeWait     = 5 * time.Second
)

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster mirrors SHDR payloads to WebSocket clients. New clients first
// receive the snapshot payload.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	snapshot func() []byte
	maxConns int
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// NewBroadcaster creates a broadcaster. maxConns <= 0 means unlimited. A nil
// snapshot sends nothing on connect.
func NewBroadcaster(snapshot func() []byte, maxConns int, logger *slog.Logger, metrics *metric.Metrics) *Broadcaster {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Broadcaster{
		clients:  make(map[*client]bool),
		snapshot: snapshot,
		maxConns: maxConns,
		logger:   logger.With(slog.String("component", "mirror")),
		metrics:  metrics,
	}
}

// Full reports whether the client cap has been reached.
func (b *Broadcaster) Full() bool {
	if b.maxConns <= 0 {
		return false
	}
	return b.ClientCount() >= b.maxConns
}

// AddClient registers conn, queues the snapshot and starts its write pump.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, sendQueueSize),
	}

	var snap []byte
	if b.snapshot != nil {
		snap = b.snapshot()
	}

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		return nil, ErrTooManyConnections
	}
	// Queued under the lock so no broadcast can overtake the snapshot.
	if len(snap) > 0 {
		c.send <- snap
	}
	b.clients[c] = true
	n := len(b.clients)
	b.mu.Unlock()
	b.metrics.SetMirrorClients(n)

	go c.writePump()
	return c, nil
}

// RemoveClient unregisters c and ends its write pump. Safe to call more
// than once.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	n := len(b.clients)
	b.mu.Unlock()
	b.metrics.SetMirrorClients(n)
}

// Publish queues data for every client. Clients whose queue is full are
// disconnected.
func (b *Broadcaster) Publish(data []byte) {
	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !b.enqueue(c, data) {
			b.logger.Info("mirror client too slow, disconnecting", slog.String("remote", c.conn.RemoteAddr().String()))
			b.RemoveClient(c)
		}
	}
}

// enqueue reports false when c cannot take more data. A client removed
// concurrently is skipped.
func (b *Broadcaster) enqueue(c *client, data []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop disconnects every client.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
	b.metrics.SetMirrorClients(0)
}
