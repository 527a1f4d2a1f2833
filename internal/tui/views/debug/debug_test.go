package debug

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/machinemetrics/shdr-adapter/internal/shdr"
)

var t0 = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func TestRingKeepsNewestInOrder(t *testing.T) {
	m := New()
	for i := 0; i < maxEntries+25; i++ {
		m.Error(fmt.Sprintf("e%d", i), t0.Add(time.Duration(i)*time.Millisecond))
	}
	if m.Len() != maxEntries {
		t.Fatalf("len = %d, want %d", m.Len(), maxEntries)
	}
	if got := m.Entry(0).Message; got != "e25" {
		t.Errorf("oldest = %q, want e25", got)
	}
	last, ok := m.Last()
	if !ok || last.Message != fmt.Sprintf("e%d", maxEntries+24) {
		t.Errorf("newest = %q", last.Message)
	}
	for i := 1; i < m.Len(); i++ {
		if !m.Entry(i).At.After(m.Entry(i - 1).At) {
			t.Fatalf("entry %d out of order", i)
		}
	}
}

func TestPongStats(t *testing.T) {
	m := New()
	for _, rtt := range []time.Duration{2 * time.Millisecond, 6 * time.Millisecond, 4 * time.Millisecond} {
		m.Pong(10*time.Second, rtt, t0)
	}

	s := m.Stats()
	if s.Pongs != 3 {
		t.Errorf("pongs = %d", s.Pongs)
	}
	if s.LastRTT != 4*time.Millisecond || s.MaxRTT != 6*time.Millisecond {
		t.Errorf("last/max = %s/%s", s.LastRTT, s.MaxRTT)
	}
	if s.MeanRTT() != 4*time.Millisecond {
		t.Errorf("mean = %s", s.MeanRTT())
	}
	last, _ := m.Last()
	if last.Kind != KindBeat || !strings.Contains(last.Message, "rtt 4ms") {
		t.Errorf("last = %+v", last)
	}
}

func TestMeanRTTWithoutPongs(t *testing.T) {
	if got := New().Stats().MeanRTT(); got != 0 {
		t.Errorf("mean = %s", got)
	}
}

func TestAssetKeepsStreamTimestamp(t *testing.T) {
	m := New()
	m.Asset(shdr.AssetHeader{Timestamp: "2024-01-02T03:04:05.678Z", ID: "T1", Type: "CuttingTool"}, 14, t0)

	e, _ := m.Last()
	if e.Kind != KindAsset || e.Stream != "2024-01-02T03:04:05.678Z" {
		t.Errorf("entry = %+v", e)
	}
	if e.Message != "T1 CuttingTool (14 bytes)" {
		t.Errorf("message = %q", e.Message)
	}
	if s := m.Stats(); s.Assets != 1 || s.LastAsset != "T1" {
		t.Errorf("stats = %+v", s)
	}
}

func TestReconnectCountsDrops(t *testing.T) {
	m := New()
	m.Connected("127.0.0.1:7878", t0)
	m.Disconnected(errors.New("i/o timeout"), t0)
	m.Disconnected(nil, t0)
	m.Connected("127.0.0.1:7878", t0)

	tests := []struct {
		i    int
		kind Kind
		msg  string
	}{
		{0, KindConn, "connected to 127.0.0.1:7878"},
		{1, KindErr, "disconnected: i/o timeout"},
		{2, KindErr, "disconnected"},
		{3, KindConn, "reconnected to 127.0.0.1:7878 (2 drops)"},
	}
	for _, tt := range tests {
		e := m.Entry(tt.i)
		if e.Kind != tt.kind || e.Message != tt.msg {
			t.Errorf("entry %d = %s %q, want %s %q", tt.i, e.Kind, e.Message, tt.kind, tt.msg)
		}
	}
}

func TestZeroTimeUsesNow(t *testing.T) {
	m := New()
	before := time.Now()
	m.Error("mirror: refused", time.Time{})
	e, _ := m.Last()
	if e.At.Before(before) {
		t.Errorf("at = %s, want >= %s", e.At, before)
	}
}

func TestScroll(t *testing.T) {
	m := New()
	for i := 0; i < 5; i++ {
		m.Pong(time.Second, time.Millisecond, t0)
	}
	m.ScrollUp(3)
	if m.Offset() != 3 {
		t.Errorf("offset = %d, want 3", m.Offset())
	}
	m.ScrollUp(100)
	if m.Offset() != 4 {
		t.Errorf("offset = %d, want 4 (len-1)", m.Offset())
	}
	m.ScrollDown(10)
	if m.Offset() != 0 {
		t.Errorf("offset = %d, want 0", m.Offset())
	}

	m.ScrollUp(2)
	m.Connected("x", t0)
	if m.Offset() != 0 {
		t.Error("a new entry should scroll back to the newest")
	}
}

func TestView(t *testing.T) {
	empty := New().View(80, 20)
	if !strings.Contains(empty, "No stream events") {
		t.Error("empty view should say no events")
	}

	m := New()
	m.Connected("127.0.0.1:7878", t0)
	m.Pong(10*time.Second, 3*time.Millisecond, t0)
	m.Asset(shdr.AssetHeader{Timestamp: "2024-01-02T03:04:05.678Z", ID: "T1", Type: "CuttingTool"}, 14, t0)

	v := m.View(100, 30)
	for _, want := range []string{
		"DEBUG LOG",
		"pongs 1",
		"assets 1 (last T1)",
		"connected to 127.0.0.1:7878",
		"@2024-01-02T03:04:05.678Z",
		"03:04:05.000",
	} {
		if !strings.Contains(v, want) {
			t.Errorf("view missing %q", want)
		}
	}
}
