package reader

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/machinemetrics/shdr-adapter/internal/shdr"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
)

// ErrNotConnected is returned when no stream connection is open.
var ErrNotConnected = errors.New("not connected")

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Client manages the TCP connection to an SHDR adapter.
type Client struct {
	addr      string
	heartbeat time.Duration
	logger    *slog.Logger

	dial      dialFunc
	baseDelay time.Duration
	maxDelay  time.Duration

	mu       sync.Mutex
	writeMu  sync.Mutex // serialises pings
	conn     net.Conn
	r        *bufio.Reader
	pingStop context.CancelFunc
	lastPing atomic.Int64 // unix nanos of the last ping written
}

// NewClient creates a client for the adapter at addr. A positive heartbeat
// sends "* PING" at that interval and treats twice the interval of silence
// as a dead connection. A nil logger discards output.
func NewClient(addr string, heartbeat time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var d net.Dialer
	return &Client{
		addr:      addr,
		heartbeat: heartbeat,
		logger:    logger.With(slog.String("component", "reader"), slog.String("addr", addr)),
		dial:      d.DialContext,
		baseDelay: reconnectBaseDelay,
		maxDelay:  reconnectMaxDelay,
	}
}

// Addr returns the adapter address.
func (c *Client) Addr() string { return c.addr }

// Listen returns a Bubble Tea command that connects, retrying with
// exponential backoff until it succeeds or ctx ends.
func (c *Client) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := c.baseDelay
		for {
			if ctx.Err() != nil {
				return nil
			}

			conn, err := c.dial(ctx, "tcp", c.addr)
			if err != nil {
				c.logger.Debug("dial failed", slog.Any("error", err), slog.Duration("retry", delay))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				delay = min(delay*2, c.maxDelay)
				continue
			}

			c.mu.Lock()
			if c.pingStop != nil {
				c.pingStop()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.r = bufio.NewReader(conn)
			c.pingStop = pingCancel
			c.mu.Unlock()

			if c.heartbeat > 0 {
				go c.pingLoop(pingCtx, conn)
			}
			c.logger.Info("connected")
			return ConnectedMsg{Addr: c.addr}
		}
	}
}

// ReadLoop returns a Bubble Tea command that reads until the next message
// worth delivering. Start it after ConnectedMsg and again after every
// message it returns.
func (c *Client) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn, r := c.conn, c.r
		c.mu.Unlock()
		if conn == nil {
			return DisconnectedMsg{Err: ErrNotConnected}
		}

		for {
			if c.heartbeat > 0 {
				_ = conn.SetReadDeadline(time.Now().Add(2 * c.heartbeat))
			}
			msg, err := c.next(r)
			if err == nil && ctx.Err() != nil {
				err = ctx.Err()
			}
			if err != nil {
				c.disconnect(conn)
				c.logger.Info("disconnected", slog.Any("error", err))
				return DisconnectedMsg{Err: err}
			}
			if msg != nil {
				return msg
			}
		}
	}
}

// next reads one line, or a whole asset block, and converts it. A nil
// message with a nil error means the line carried nothing to deliver.
func (c *Client) next(r *bufio.Reader) (tea.Msg, error) {
	raw, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	raw = strings.TrimRight(raw, "\r\n")
	if raw == "" {
		return nil, nil
	}

	if strings.HasPrefix(raw, "*") {
		if interval, ok := shdr.ParsePong(raw); ok {
			now := time.Now()
			return PongMsg{Interval: interval, RTT: c.roundTrip(now), Received: now}, nil
		}
		c.logger.Debug("ignoring command", slog.String("line", raw))
		return nil, nil
	}

	if header, ok := shdr.ParseAssetHeader(raw); ok {
		doc, err := readBlock(r, header.Boundary)
		if err != nil {
			return nil, err
		}
		return AssetMsg{Header: header, Document: doc, Received: time.Now()}, nil
	}

	line, err := shdr.ParseLine(raw)
	if err != nil {
		c.logger.Debug("skipping line", slog.Any("error", err))
		return nil, nil
	}
	return ObservationsMsg{Line: line, Received: time.Now()}, nil
}

// readBlock collects lines up to the boundary line.
func readBlock(r *bufio.Reader, boundary string) (string, error) {
	var lines []string
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		raw = strings.TrimRight(raw, "\r\n")
		if raw == boundary {
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, raw)
	}
}

// pingLoop sends a ping right away and then every heartbeat. It exits when
// ctx is cancelled or the connection is replaced.
func (c *Client) pingLoop(ctx context.Context, conn net.Conn) {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		current := c.conn
		c.mu.Unlock()
		if current != conn {
			return
		}

		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_, err := conn.Write([]byte(shdr.PingRequest + "\r\n"))
		if err == nil {
			c.lastPing.Store(time.Now().UnixNano())
		}
		c.writeMu.Unlock()
		if err != nil {
			c.logger.Debug("ping failed", slog.Any("error", err))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) roundTrip(now time.Time) time.Duration {
	sent := c.lastPing.Load()
	if sent == 0 {
		return 0
	}
	return max(now.Sub(time.Unix(0, sent)), 0)
}

func (c *Client) disconnect(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.r = nil
		if c.pingStop != nil {
			c.pingStop()
			c.pingStop = nil
		}
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// Connected reports whether a stream connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close drops the current connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.disconnect(conn)
	return nil
}
