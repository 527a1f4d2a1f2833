// Package debug records stream events for the debug overlay: connects and
// drops, heartbeat round trips, and asset arrivals.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/machinemetrics/shdr-adapter/internal/shdr"
	"github.com/machinemetrics/shdr-adapter/internal/tui/theme"
)

const maxEntries = 200

// Kind classifies an entry.
type Kind int

const (
	KindConn Kind = iota
	KindBeat
	KindAsset
	KindErr
)

func (k Kind) String() string {
	switch k {
	case KindConn:
		return "conn"
	case KindBeat:
		return "beat"
	case KindAsset:
		return "asset"
	case KindErr:
		return "err"
	}
	return "?"
}

func (k Kind) color() lipgloss.Color {
	switch k {
	case KindConn:
		return theme.ColorStream
	case KindBeat:
		return theme.ColorBeat
	case KindAsset:
		return theme.ColorAsset
	case KindErr:
		return theme.ColorDanger
	}
	return theme.ColorDimmed
}

// Entry is one recorded event. Stream holds the adapter's own timestamp
// when the event carried one.
type Entry struct {
	At      time.Time
	Stream  string
	Kind    Kind
	Message string
}

// Stats summarises the heartbeat and asset traffic seen so far.
type Stats struct {
	Pongs     int
	LastRTT   time.Duration
	MaxRTT    time.Duration
	Assets    int
	LastAsset string
	Drops     int
	totalRTT  time.Duration
}

// MeanRTT is the average round trip over every pong received.
func (s Stats) MeanRTT() time.Duration {
	if s.Pongs == 0 {
		return 0
	}
	return s.totalRTT / time.Duration(s.Pongs)
}

// Model is a fixed ring of the most recent entries plus running stats.
type Model struct {
	ring   [maxEntries]Entry
	head   int // index of the oldest entry
	n      int
	offset int // rows scrolled up from the newest entry
	stats  Stats
}

// New creates an empty log.
func New() Model {
	return Model{}
}

func (m *Model) add(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if m.n < maxEntries {
		m.ring[(m.head+m.n)%maxEntries] = e
		m.n++
	} else {
		m.ring[m.head] = e
		m.head = (m.head + 1) % maxEntries
	}
	m.offset = 0
}

// Connected records a successful dial.
func (m *Model) Connected(addr string, at time.Time) {
	msg := "connected to " + addr
	if m.stats.Drops > 0 {
		msg = fmt.Sprintf("reconnected to %s (%d drops)", addr, m.stats.Drops)
	}
	m.add(Entry{At: at, Kind: KindConn, Message: msg})
}

// Disconnected records a dropped stream.
func (m *Model) Disconnected(err error, at time.Time) {
	m.stats.Drops++
	msg := "disconnected"
	if err != nil {
		msg += ": " + err.Error()
	}
	m.add(Entry{At: at, Kind: KindErr, Message: msg})
}

// Pong records a heartbeat reply and its round trip.
func (m *Model) Pong(interval, rtt time.Duration, at time.Time) {
	m.stats.Pongs++
	m.stats.LastRTT = rtt
	m.stats.MaxRTT = max(m.stats.MaxRTT, rtt)
	m.stats.totalRTT += rtt
	m.add(Entry{
		At:      at,
		Kind:    KindBeat,
		Message: fmt.Sprintf("pong every %s, rtt %s", interval, rtt.Round(time.Microsecond)),
	})
}

// Asset records an asset block.
func (m *Model) Asset(h shdr.AssetHeader, size int, at time.Time) {
	m.stats.Assets++
	m.stats.LastAsset = h.ID
	m.add(Entry{
		At:      at,
		Stream:  h.Timestamp,
		Kind:    KindAsset,
		Message: fmt.Sprintf("%s %s (%d bytes)", h.ID, h.Type, size),
	})
}

// Error records any other failure.
func (m *Model) Error(msg string, at time.Time) {
	m.add(Entry{At: at, Kind: KindErr, Message: msg})
}

// Len returns the number of retained entries.
func (m Model) Len() int { return m.n }

// Entry returns the i-th retained entry, oldest first.
func (m Model) Entry(i int) Entry {
	return m.ring[(m.head+i)%maxEntries]
}

// Last returns the newest entry.
func (m Model) Last() (Entry, bool) {
	if m.n == 0 {
		return Entry{}, false
	}
	return m.Entry(m.n - 1), true
}

func (m Model) Stats() Stats { return m.stats }

func (m Model) Offset() int { return m.offset }

func (m *Model) ScrollUp(n int) {
	m.offset = min(m.offset+n, max(m.n-1, 0))
}

func (m *Model) ScrollDown(n int) {
	m.offset = max(m.offset-n, 0)
}

func (m Model) summary() string {
	s := m.stats
	parts := []string{fmt.Sprintf("pongs %d", s.Pongs)}
	if s.Pongs > 0 {
		parts = append(parts, fmt.Sprintf("rtt %s avg %s max %s",
			s.LastRTT.Round(time.Microsecond), s.MeanRTT().Round(time.Microsecond), s.MaxRTT.Round(time.Microsecond)))
	}
	assets := fmt.Sprintf("assets %d", s.Assets)
	if s.LastAsset != "" {
		assets += " (last " + s.LastAsset + ")"
	}
	parts = append(parts, assets, fmt.Sprintf("drops %d", s.Drops))
	return strings.Join(parts, "  ")
}

func (m Model) row(e Entry, width int) string {
	ts := theme.StyleDimmed.Render(e.At.Format("15:04:05.000"))
	kind := lipgloss.NewStyle().Foreground(e.Kind.color()).Width(6).Render(e.Kind.String())
	msg := e.Message
	if e.Stream != "" {
		msg += " @" + e.Stream
	}
	if room := width - 20; room > 3 && len(msg) > room {
		msg = msg[:room-3] + "..."
	}
	return ts + " " + kind + msg
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	rows := max(height-8, 3)

	title := theme.StyleHeader.Render(" DEBUG LOG ")
	stats := theme.StyleDimmed.Render(m.summary())
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d entries", m.n))
	panel := lipgloss.NewStyle().
		Width(innerW).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)

	if m.n == 0 {
		body := theme.StyleDimmed.Render("  No stream events yet.")
		return panel.Render(lipgloss.JoinVertical(lipgloss.Left, title, stats, "", body, "", help))
	}

	end := m.n - m.offset
	start := max(end-rows, 0)
	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		lines = append(lines, m.row(m.Entry(i), innerW))
	}

	more := ""
	if m.offset > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d newer", m.offset))
	}
	return panel.Render(lipgloss.JoinVertical(lipgloss.Left,
		title, stats, "", strings.Join(lines, "\n"), more, help))
}
