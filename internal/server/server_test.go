package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinemetrics/shdr-adapter/internal/metric"
)

func startServer(t *testing.T, cfg Config, opts ...Option) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	s := New(cfg, nil, opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(2 * time.Second) })
	return s
}

func dial(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func readLine(t *testing.T, conn net.Conn, r *bufio.Reader) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.ClientCount() == n },
		2*time.Second, 10*time.Millisecond, "want %d clients, have %d", n, s.ClientCount())
}

func TestServer_StartTwice(t *testing.T) {
	s := startServer(t, Config{})
	assert.True(t, s.Running())
	assert.NotZero(t, s.Port())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)
}

func TestServer_PortInUse(t *testing.T) {
	first := startServer(t, Config{})

	second := New(Config{Addr: first.Addr().String()}, nil)
	err := second.Start(context.Background())
	require.Error(t, err)
	assert.False(t, second.Running())
}

func TestServer_StopAndRestart(t *testing.T) {
	s := startServer(t, Config{Heartbeat: time.Second})
	conn, r := dial(t, s)
	waitForClients(t, s, 1)

	start := time.Now()
	require.NoError(t, s.Stop(time.Second))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, s.Running())
	assert.Nil(t, s.Addr())
	assert.Equal(t, 0, s.ClientCount())
	assert.NoError(t, s.Err())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := r.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF, "client sees the connection closed")

	require.NoError(t, s.Start(context.Background()))
	dial(t, s)
	waitForClients(t, s, 1)
	assert.Equal(t, 1, s.SendToAll([]byte("x\r\n")))
}

func TestServer_StopTimesOutOnHungConnection(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	var enterOnce, releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	s.OnConnect(func(*Client) {
		enterOnce.Do(func() { close(entered) })
		<-release
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(time.Second) })
	t.Cleanup(unblock)

	dial(t, s)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("connect handler never ran")
	}

	start := time.Now()
	err := s.Stop(100 * time.Millisecond)
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, ErrStopTimeout)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.False(t, s.Running())
	assert.Equal(t, 0, s.ClientCount())

	require.NoError(t, s.Start(context.Background()), "a timed-out stop leaves no listener behind")
	assert.True(t, s.Running())
	unblock()

	conn, r := dial(t, s)
	waitForClients(t, s, 1)
	assert.Equal(t, 1, s.SendToAll([]byte("x\r\n")))
	assert.Equal(t, "x\r\n", readLine(t, conn, r))
}

func TestServer_StopWhenStopped(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, nil)
	assert.NoError(t, s.Stop(time.Second))
	assert.Nil(t, s.Done())
	assert.NoError(t, s.Err())
}

func TestServer_ContextCancelEndsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Config{Addr: "127.0.0.1:0"}, nil)
	require.NoError(t, s.Start(ctx))
	dial(t, s)
	waitForClients(t, s, 1)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("accept loop did not exit")
	}
	assert.False(t, s.Running())
	assert.NoError(t, s.Err(), "cancellation is not a listener fault")
	waitForClients(t, s, 0)
	assert.NoError(t, s.Stop(time.Second))
}

func TestServer_ConnectHandlersRunInOrder(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, nil)
	s.OnConnect(func(c *Client) { _ = s.WriteTo(c, []byte("first\r\n")) })
	s.OnConnect(func(c *Client) { _ = s.WriteTo(c, []byte("second\r\n")) })
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(time.Second) })

	conn, r := dial(t, s)
	assert.Equal(t, "first\r\n", readLine(t, conn, r))
	assert.Equal(t, "second\r\n", readLine(t, conn, r))
}

func TestServer_WriteToNilClient(t *testing.T) {
	s := New(Config{}, nil)
	assert.ErrorIs(t, s.WriteTo(nil, []byte("x")), ErrNilClient)
}

func TestServer_SendToAll(t *testing.T) {
	m := metric.New()
	s := startServer(t, Config{}, WithMetrics(m))

	type peer struct {
		conn net.Conn
		r    *bufio.Reader
	}
	var peers []peer
	for i := 0; i < 3; i++ {
		conn, r := dial(t, s)
		peers = append(peers, peer{conn, r})
	}
	waitForClients(t, s, 3)

	payload := []byte("2024-01-02T03:04:05.678Z|avail|AVAILABLE\r\n")
	assert.Equal(t, 3, s.SendToAll(payload))
	for _, p := range peers {
		assert.Equal(t, string(payload), readLine(t, p.conn, p.r))
	}

	assert.Equal(t, 0, s.SendToAll(nil))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ConnectionsAccepted))
	assert.Equal(t, float64(3*len(payload)), testutil.ToFloat64(m.BytesSent))
}

func TestServer_HeartbeatPong(t *testing.T) {
	m := metric.New()
	s := startServer(t, Config{Heartbeat: 10 * time.Second}, WithMetrics(m))
	conn, r := dial(t, s)

	_, err := conn.Write([]byte("* PING\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "* PONG 10000\n", readLine(t, conn, r))

	clients := s.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, StateAlive, clients[0].State())
	assert.False(t, clients[0].LastHeartbeat().IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Heartbeats))
}

func TestServer_PingSplitAcrossReads(t *testing.T) {
	m := metric.New()
	s := startServer(t, Config{Heartbeat: time.Second}, WithMetrics(m))
	conn, r := dial(t, s)
	waitForClients(t, s, 1)

	_, err := conn.Write([]byte("* PI"))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = conn.Write([]byte("NG\r\n* PING\n"))
	require.NoError(t, err)

	assert.Equal(t, "* PONG 1000\n", readLine(t, conn, r))
	assert.Equal(t, "* PONG 1000\n", readLine(t, conn, r))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Heartbeats))
}

func TestServer_HeartbeatTimeoutDropsSilentClient(t *testing.T) {
	m := metric.New()
	s := startServer(t, Config{Heartbeat: 50 * time.Millisecond}, WithMetrics(m))
	conn, r := dial(t, s)

	_, err := conn.Write([]byte("* PING\n"))
	require.NoError(t, err)
	assert.Equal(t, "* PONG 50\n", readLine(t, conn, r))

	// No further pings: the server gives up after twice the interval.
	waitForClients(t, s, 0)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = r.ReadString('\n')
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientsDropped.WithLabelValues(metric.ReasonTimeout)))
}

func TestServer_NoHeartbeatIgnoresPings(t *testing.T) {
	s := startServer(t, Config{})
	conn, r := dial(t, s)
	waitForClients(t, s, 1)

	_, err := conn.Write([]byte("* PING\r\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, err = r.ReadString('\n')
	require.Error(t, err)
	assert.True(t, isTimeout(err), "no pong expected, got %v", err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, s.ClientCount())
	assert.Equal(t, StateConnected, s.Clients()[0].State())
}

func TestServer_ClientDisconnectIsRemoved(t *testing.T) {
	m := metric.New()
	s := startServer(t, Config{}, WithMetrics(m))
	conn, _ := dial(t, s)
	waitForClients(t, s, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, s, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientsDropped.WithLabelValues(metric.ReasonClosed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ClientsConnected))
}

// failingConn accepts nothing.
type failingConn struct{ net.Conn }

func (failingConn) Write([]byte) (int, error) { return 0, syscall.EPIPE }

func TestServer_WriteFailureDropsOnlyThatClient(t *testing.T) {
	s := New(Config{WriteTimeout: time.Second}, nil)

	var readers []chan string
	for i := 0; i < 2; i++ {
		local, remote := net.Pipe()
		t.Cleanup(func() { _ = remote.Close() })
		s.registry.Add(newClient(local, 0, time.Second, s.logger, nil))

		got := make(chan string, 1)
		go func() {
			line, _ := bufio.NewReader(remote).ReadString('\n')
			got <- line
		}()
		readers = append(readers, got)
	}

	broken, peer := net.Pipe()
	t.Cleanup(func() { _ = peer.Close() })
	bad := newClient(failingConn{broken}, 0, time.Second, s.logger, nil)
	s.registry.Add(bad)
	require.Equal(t, 3, s.ClientCount())

	assert.Equal(t, 2, s.SendToAll([]byte("line\r\n")))
	assert.Equal(t, 2, s.ClientCount())
	assert.Equal(t, StateDropped, bad.State())
	assert.NotContains(t, s.Clients(), bad)

	for _, got := range readers {
		select {
		case line := <-got:
			assert.Equal(t, "line\r\n", line)
		case <-time.After(2 * time.Second):
			t.Fatal("healthy client did not receive the broadcast")
		}
	}
}

func TestClient_DiscardsOverlongLine(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	c := newClient(local, time.Second, time.Second, New(Config{}, nil).logger, nil)

	result := make(chan error, 1)
	go func() {
		_, err := c.readLoop()
		result <- err
	}()

	go func() {
		_, _ = remote.Write([]byte(strings.Repeat("x", readBufferSize+10)))
		_, _ = remote.Write([]byte("\n* PING\r\n"))
	}()

	require.NoError(t, remote.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bufio.NewReader(remote).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "* PONG 1000\n", line)

	_ = local.Close()
	select {
	case err := <-result:
		assert.True(t, IsExpectedCloseError(err) || err == nil, "%v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not exit")
	}
}

func TestClient_ScanKeepsPartialLine(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	defer local.Close()
	c := newClient(local, 0, time.Second, New(Config{}, nil).logger, nil)

	buf := make([]byte, readBufferSize)
	n := copy(buf, "first\r\n* PI")
	n, err := c.scan(buf, n)
	require.NoError(t, err)
	assert.Equal(t, "* PI", string(buf[:n]))

	n += copy(buf[n:], "NG\r\n")
	n, err = c.scan(buf, n)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClient_WriteAfterDropFails(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	c := newClient(local, 0, 0, New(Config{}, nil).logger, nil)
	require.NoError(t, c.close())
	assert.ErrorIs(t, c.write([]byte("x")), net.ErrClosed)
}

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"closed", net.ErrClosed, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"wrapped closed", errors.Join(errors.New("read"), net.ErrClosed), true},
		{"broken pipe", &net.OpError{Op: "write", Err: syscall.EPIPE}, true},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, true},
		{"canceled", context.Canceled, true},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsExpectedCloseError(tt.err))
		})
	}
}
