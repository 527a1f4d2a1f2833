package server

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/machinemetrics/shdr-adapter/internal/metric"
	"github.com/machinemetrics/shdr-adapter/internal/shdr"
)

const readBufferSize = 4096

// State is the lifecycle stage of a client connection.
type State int32

const (
	StateConnected State = iota
	StateAlive
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAlive:
		return "alive"
	case StateDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Client is one connected SHDR reader. It can receive broadcasts as soon as
// it is accepted; the heartbeat only governs when it is considered dead.
type Client struct {
	id          string
	conn        net.Conn
	remote      string
	connectedAt time.Time

	heartbeat    time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metric.Metrics

	// run is the server run that accepted this client.
	run *run

	writeMu       sync.Mutex
	state         atomic.Int32
	lastHeartbeat atomic.Int64
}

func newClient(conn net.Conn, heartbeat, writeTimeout time.Duration, logger *slog.Logger, metrics *metric.Metrics) *Client {
	c := &Client{
		id:           uuid.NewString(),
		conn:         conn,
		remote:       conn.RemoteAddr().String(),
		connectedAt:  time.Now(),
		heartbeat:    heartbeat,
		writeTimeout: writeTimeout,
		metrics:      metrics,
	}
	c.logger = logger.With(slog.String("client", c.id), slog.String("remote", c.remote))
	return c
}

func (c *Client) ID() string             { return c.id }
func (c *Client) RemoteAddr() string     { return c.remote }
func (c *Client) ConnectedAt() time.Time { return c.connectedAt }
func (c *Client) State() State           { return State(c.state.Load()) }

// LastHeartbeat returns the time of the most recent ping, or the zero time
// if the reader never sent one.
func (c *Client) LastHeartbeat() time.Time {
	ns := c.lastHeartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// write sends data under the client's write lock with a write deadline.
func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() == StateDropped {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(data)
	return err
}

// close marks the client dropped and closes its connection, which unblocks
// a pending read.
func (c *Client) close() error {
	c.state.Store(int32(StateDropped))
	return c.conn.Close()
}

// readLoop consumes input until the connection fails. It returns the drop
// reason and the error that ended it; a clean close returns a nil error.
func (c *Client) readLoop() (string, error) {
	buf := make([]byte, readBufferSize)
	n := 0
	for {
		if c.heartbeat > 0 && c.State() == StateAlive {
			if err := c.conn.SetReadDeadline(time.Now().Add(2 * c.heartbeat)); err != nil {
				return metric.ReasonReadError, err
			}
		}

		m, err := c.conn.Read(buf[n:])
		if m > 0 {
			var werr error
			n, werr = c.scan(buf, n+m)
			if werr != nil {
				return metric.ReasonWrite, werr
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return metric.ReasonClosed, nil
			case isTimeout(err):
				return metric.ReasonTimeout, err
			default:
				return metric.ReasonReadError, err
			}
		}
	}
}

// scan handles every complete line in buf[:n] and moves the unconsumed tail
// to the front. It returns the new fill level.
func (c *Client) scan(buf []byte, n int) (int, error) {
	start := 0
	for {
		i := bytes.IndexByte(buf[start:n], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(buf[start:start+i], "\r")
		start += i + 1
		if err := c.handleLine(line); err != nil {
			return 0, err
		}
	}

	if start > 0 {
		n = copy(buf, buf[start:n])
	}
	if n == len(buf) {
		c.logger.Debug("discarding unterminated line", slog.Int("bytes", n))
		n = 0
	}
	return n, nil
}

func (c *Client) handleLine(line []byte) error {
	if c.heartbeat <= 0 || !bytes.HasPrefix(line, []byte(shdr.PingRequest)) {
		return nil
	}

	c.lastHeartbeat.Store(time.Now().UnixNano())
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateAlive)) {
		c.logger.Info("heartbeat established", slog.Duration("interval", c.heartbeat))
	}

	if err := c.write(shdr.Pong(c.heartbeat)); err != nil {
		return err
	}
	c.metrics.RecordHeartbeat()
	return nil
}
