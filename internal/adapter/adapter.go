// Package adapter ties the SHDR data item model to the stream server: it
// owns the registered items, runs the per-cycle change tracking and
// replays full state to every reader that connects.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/machinemetrics/shdr-adapter/internal/metric"
	"github.com/machinemetrics/shdr-adapter/internal/server"
	"github.com/machinemetrics/shdr-adapter/internal/shdr"
)

var (
	// ErrDuplicateItem is returned when an item name is already registered.
	ErrDuplicateItem = errors.New("duplicate data item")

	// ErrInvalidAsset is returned for assets that cannot be framed.
	ErrInvalidAsset = errors.New("invalid asset")
)

// Sink receives a copy of every payload broadcast to SHDR readers.
type Sink interface {
	Publish(data []byte)
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithMetrics records cycle and traffic metrics, including the server's.
func WithMetrics(m *metric.Metrics) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithEncoder replaces the default wire encoder.
func WithEncoder(enc *shdr.Encoder) Option {
	return func(a *Adapter) { a.enc = enc }
}

// Adapter is the SHDR orchestrator driven by a scan loop:
//
//	a.Begin()
//	... mutate items ...
//	a.SendChanged()
type Adapter struct {
	logger  *slog.Logger
	metrics *metric.Metrics
	enc     *shdr.Encoder
	srv     *server.Server

	mu    sync.RWMutex
	items []shdr.DataItem
	names map[string]bool

	begun atomic.Bool

	sinksMu sync.RWMutex
	sinks   []Sink
}

// New creates an adapter serving cfg. A nil logger discards output.
func New(cfg server.Config, logger *slog.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Name == "" {
		cfg.Name = "SHDR"
	}

	a := &Adapter{
		logger: logger.With(slog.String("component", "adapter")),
		names:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.enc == nil {
		a.enc = shdr.NewEncoder()
	}

	a.srv = server.New(cfg, logger, server.WithMetrics(a.metrics))
	a.srv.OnConnect(a.replay)
	return a
}

// AddDataItem registers di. Names must be unique.
func (a *Adapter) AddDataItem(di shdr.DataItem) error {
	if di == nil {
		return shdr.ErrNilItem
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.names[di.Name()] {
		return fmt.Errorf("%w: %q", ErrDuplicateItem, di.Name())
	}
	a.items = append(a.items, di)
	a.names[di.Name()] = true
	return nil
}

// RemoveDataItem unregisters di and reports whether it was registered.
func (a *Adapter) RemoveDataItem(di shdr.DataItem) bool {
	if di == nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i, item := range a.items {
		if item != di {
			continue
		}
		// Copy so that snapshots taken earlier keep their view.
		items := make([]shdr.DataItem, 0, len(a.items)-1)
		items = append(items, a.items[:i]...)
		a.items = append(items, a.items[i+1:]...)
		delete(a.names, di.Name())
		return true
	}
	return false
}

// RemoveAllDataItems unregisters every item.
func (a *Adapter) RemoveAllDataItems() {
	a.mu.Lock()
	a.items = nil
	a.names = make(map[string]bool)
	a.mu.Unlock()
}

// Items returns the registered items in registration order.
func (a *Adapter) Items() []shdr.DataItem {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]shdr.DataItem(nil), a.items...)
}

// Item looks up a registered item by name.
func (a *Adapter) Item(name string) (shdr.DataItem, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, di := range a.items {
		if di.Name() == name {
			return di, true
		}
	}
	return nil, false
}

// MarkAllUnavailable forces every item to UNAVAILABLE. The values go out
// with the next SendChanged.
func (a *Adapter) MarkAllUnavailable() {
	for _, di := range a.Items() {
		di.Unavailable()
	}
}

// Begin starts a scan cycle and arms condition mark-and-sweep.
func (a *Adapter) Begin() {
	for _, di := range a.Items() {
		di.Begin()
	}
	a.begun.Store(true)
}

// SendChanged broadcasts every item changed since the previous call,
// stamped with the current time. It returns the number of lines sent.
func (a *Adapter) SendChanged() int {
	return a.SendChangedAt("")
}

// SendChangedAt is SendChanged with an explicit timestamp. An empty
// timestamp means now.
func (a *Adapter) SendChangedAt(timestamp string) int {
	start := time.Now()
	defer func() { a.metrics.RecordCycle(time.Since(start)) }()

	lines := a.enc.Changed(a.Items(), a.begun.Swap(false), timestamp)
	if len(lines) == 0 {
		return 0
	}
	a.metrics.RecordLines("changed", len(lines))
	a.broadcast(shdr.Join(lines))
	return len(lines)
}

// AddAsset broadcasts asset as a multiline block immediately. Assets are not
// retained or replayed.
func (a *Adapter) AddAsset(asset shdr.Asset) error {
	if asset.ID == "" || asset.Type == "" {
		return fmt.Errorf("%w: id and type are required", ErrInvalidAsset)
	}
	block := a.enc.Asset(asset, "")
	a.metrics.RecordAsset()
	a.metrics.RecordLines("asset", 1)
	n := a.broadcast([]byte(block))
	a.logger.Debug("asset sent", slog.String("asset", asset.ID), slog.String("type", asset.Type), slog.Int("clients", n))
	return nil
}

// FullDump renders the complete current state without touching change
// tracking. An empty timestamp means now.
func (a *Adapter) FullDump(timestamp string) []string {
	return a.enc.Full(a.Items(), timestamp)
}

// AddSink mirrors every broadcast to s.
func (a *Adapter) AddSink(s Sink) {
	a.sinksMu.Lock()
	a.sinks = append(a.sinks, s)
	a.sinksMu.Unlock()
}

// OnNewConnection registers fn to run after the full-state replay for every
// new reader.
func (a *Adapter) OnNewConnection(fn server.ConnectHandler) {
	a.srv.OnConnect(fn)
}

func (a *Adapter) broadcast(data []byte) int {
	n := a.srv.SendToAll(data)

	a.sinksMu.RLock()
	sinks := append([]Sink(nil), a.sinks...)
	a.sinksMu.RUnlock()
	for _, s := range sinks {
		s.Publish(data)
	}
	return n
}

// replay sends the full state to a reader that just connected.
func (a *Adapter) replay(c *server.Client) {
	lines := a.FullDump("")
	if len(lines) == 0 {
		return
	}
	a.metrics.RecordLines("full", len(lines))
	if err := a.srv.WriteTo(c, shdr.Join(lines)); err != nil {
		a.logger.Debug("replay failed", slog.String("client", c.ID()), slog.Any("error", err))
	}
}

// Start binds the SHDR port.
func (a *Adapter) Start(ctx context.Context) error {
	return a.srv.Start(ctx)
}

// Stop shuts the SHDR port down, waiting up to timeout for readers.
func (a *Adapter) Stop(timeout time.Duration) error {
	return a.srv.Stop(timeout)
}

// Done is closed when the listener stops accepting connections.
func (a *Adapter) Done() <-chan struct{} { return a.srv.Done() }

// Err returns the listener fault that stopped the server, if any.
func (a *Adapter) Err() error { return a.srv.Err() }

// ClientCount returns the number of connected readers.
func (a *Adapter) ClientCount() int { return a.srv.ClientCount() }

// Addr returns the bound SHDR address, or nil when stopped.
func (a *Adapter) Addr() net.Addr { return a.srv.Addr() }
