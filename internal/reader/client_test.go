package reader

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinemetrics/shdr-adapter/internal/adapter"
	"github.com/machinemetrics/shdr-adapter/internal/server"
	"github.com/machinemetrics/shdr-adapter/internal/shdr"
)

const stamp = "2024-01-02T03:04:05.678Z"

// nextMsg skips lines that carry nothing to deliver.
func nextMsg(t *testing.T, c *Client, r *bufio.Reader) tea.Msg {
	t.Helper()
	for {
		msg, err := c.next(r)
		require.NoError(t, err)
		if msg != nil {
			return msg
		}
	}
}

func TestClient_Next(t *testing.T) {
	stream := strings.Join([]string{
		"* PONG 10000\n",
		stamp + "|mode|AUTOMATIC|execution|ACTIVE\r\n",
		"not a data line\r\n",
		"\r\n",
		"* UNKNOWN command\r\n",
		stamp + "|@ASSET@|T1|CuttingTool|--multiline--ABCD1234\r\n",
		"<CuttingTool>\r\n",
		"  <Life>10</Life>\r\n",
		"</CuttingTool>\r\n",
		"--multiline--ABCD1234\r\n",
		stamp + "|system|FAULT|1001||HIGH|Spindle overload\r\n",
	}, "")

	c := NewClient("unused", 0, nil)
	r := bufio.NewReader(strings.NewReader(stream))

	pong, ok := nextMsg(t, c, r).(PongMsg)
	require.True(t, ok)
	assert.Equal(t, 10*time.Second, pong.Interval)
	assert.Zero(t, pong.RTT, "no ping was sent")

	obs, ok := nextMsg(t, c, r).(ObservationsMsg)
	require.True(t, ok)
	assert.Equal(t, stamp, obs.Line.Timestamp)
	assert.Equal(t, []shdr.Observation{
		{Name: "mode", Value: "AUTOMATIC"},
		{Name: "execution", Value: "ACTIVE"},
	}, obs.Line.Observations)
	assert.False(t, obs.Received.IsZero())

	asset, ok := nextMsg(t, c, r).(AssetMsg)
	require.True(t, ok)
	assert.Equal(t, "T1", asset.Header.ID)
	assert.Equal(t, "CuttingTool", asset.Header.Type)
	assert.Equal(t, "<CuttingTool>\n  <Life>10</Life>\n</CuttingTool>", asset.Document)

	cond, ok := nextMsg(t, c, r).(ObservationsMsg)
	require.True(t, ok)
	require.Len(t, cond.Line.Observations, 1)
	require.NotNil(t, cond.Line.Observations[0].Condition)
	assert.Equal(t, shdr.LevelFault, cond.Line.Observations[0].Condition.Level)
	assert.Equal(t, "Spindle overload", cond.Line.Observations[0].Condition.Text)

	_, err := c.next(r)
	assert.Error(t, err, "end of stream")
}

func TestClient_NextTruncatedAsset(t *testing.T) {
	c := NewClient("unused", 0, nil)
	r := bufio.NewReader(strings.NewReader(stamp + "|@ASSET@|T1|Tool|--multiline--X\r\n<Tool/>\r\n"))
	_, err := c.next(r)
	assert.Error(t, err)
}

func TestClient_PongRoundTrip(t *testing.T) {
	c := NewClient("unused", time.Second, nil)
	c.lastPing.Store(time.Now().Add(-40 * time.Millisecond).UnixNano())

	msg := nextMsg(t, c, bufio.NewReader(strings.NewReader("* PONG 1000\n")))
	pong, ok := msg.(PongMsg)
	require.True(t, ok)
	assert.Equal(t, time.Second, pong.Interval)
	assert.GreaterOrEqual(t, pong.RTT, 40*time.Millisecond)
	assert.Less(t, pong.RTT, 10*time.Second)
	assert.False(t, pong.Received.IsZero())
}

func TestClient_ListenRetriesWithBackoff(t *testing.T) {
	c := NewClient("adapter:7878", 0, nil)
	c.baseDelay = time.Millisecond
	c.maxDelay = 4 * time.Millisecond

	var attempts atomic.Int32
	c.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if attempts.Add(1) < 4 {
			return nil, errors.New("connection refused")
		}
		local, remote := net.Pipe()
		t.Cleanup(func() { _ = remote.Close() })
		return local, nil
	}

	msg := c.Listen(context.Background())()
	assert.Equal(t, ConnectedMsg{Addr: "adapter:7878"}, msg)
	assert.Equal(t, int32(4), attempts.Load())
	assert.True(t, c.Connected())

	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Close(), ErrNotConnected)
}

func TestClient_ListenStopsOnCancel(t *testing.T) {
	c := NewClient("adapter:7878", 0, nil)
	c.baseDelay = 5 * time.Millisecond
	c.dial = func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan tea.Msg, 1)
	go func() { done <- c.Listen(ctx)() }()
	select {
	case msg := <-done:
		assert.Nil(t, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestClient_ReadLoopWithoutConnection(t *testing.T) {
	c := NewClient("adapter:7878", 0, nil)
	msg := c.ReadLoop(context.Background())()
	assert.Equal(t, DisconnectedMsg{Err: ErrNotConnected}, msg)
}

func TestClient_Pings(t *testing.T) {
	c := NewClient("adapter:7878", 20*time.Millisecond, nil)
	local, remote := net.Pipe()
	defer remote.Close()
	c.dial = func(context.Context, string, string) (net.Conn, error) { return local, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.IsType(t, ConnectedMsg{}, c.Listen(ctx)())

	require.NoError(t, remote.SetReadDeadline(time.Now().Add(2*time.Second)))
	r := bufio.NewReader(remote)
	for i := 0; i < 2; i++ {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "* PING\r\n", line)
	}
}

func TestClient_StreamFromAdapter(t *testing.T) {
	a := adapter.New(server.Config{Addr: "127.0.0.1:0", Heartbeat: time.Second, WriteTimeout: time.Second}, nil)
	mode := shdr.NewEvent("mode")
	require.NoError(t, a.AddDataItem(mode))
	mode.Set("AUTOMATIC")
	a.SendChanged()
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(time.Second) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewClient(a.Addr().String(), time.Second, nil)
	require.IsType(t, ConnectedMsg{}, c.Listen(ctx)())

	// The replay and the first pong race each other.
	var sawPong, sawMode bool
	for !(sawPong && sawMode) {
		switch msg := c.ReadLoop(ctx)().(type) {
		case PongMsg:
			assert.Equal(t, time.Second, msg.Interval)
			sawPong = true
		case ObservationsMsg:
			assert.Contains(t, msg.Line.Observations, shdr.Observation{Name: "mode", Value: "AUTOMATIC"})
			sawMode = true
		default:
			t.Fatalf("unexpected message %T: %v", msg, msg)
		}
	}

	require.Eventually(t, func() bool { return a.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, a.AddAsset(shdr.Asset{ID: "T1", Type: "Tool", Document: "<Tool/>"}))
	for {
		msg := c.ReadLoop(ctx)()
		if _, ok := msg.(PongMsg); ok {
			continue
		}
		asset, ok := msg.(AssetMsg)
		require.True(t, ok, "got %T", msg)
		assert.Equal(t, "<Tool/>", asset.Document)
		break
	}

	require.NoError(t, a.Stop(time.Second))
	for {
		msg := c.ReadLoop(ctx)()
		if _, ok := msg.(PongMsg); ok {
			continue
		}
		assert.IsType(t, DisconnectedMsg{}, msg)
		break
	}
	assert.False(t, c.Connected())
}
