package app

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/machinemetrics/shdr-adapter/internal/reader"
	"github.com/machinemetrics/shdr-adapter/internal/tui/theme"
	"github.com/machinemetrics/shdr-adapter/internal/tui/views/asset"
	"github.com/machinemetrics/shdr-adapter/internal/tui/views/debug"
	"github.com/machinemetrics/shdr-adapter/internal/tui/views/items"
	"github.com/machinemetrics/shdr-adapter/internal/tui/views/status"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayDebug
	OverlayAsset
	OverlayHelp
)

const rateWindow = time.Second

type tickMsg time.Time

type itemsMsg struct {
	items []reader.ItemView
	err   error
}

// Model is the root Bubble Tea model.
type Model struct {
	stream *reader.Client
	mirror *reader.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	help   help.Model
	width  int
	height int

	overlay Overlay

	// Sub-views.
	statusBar status.Model
	items     items.Model
	debug     debug.Model
	asset     asset.Model

	// Connection state.
	connected bool

	// Line rate accounting.
	lines       int
	windowStart time.Time
}

// New creates the root model. mirror may be nil.
func New(stream *reader.Client, mirror *reader.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	m := Model{
		stream:    stream,
		mirror:    mirror,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		statusBar: status.New(),
		items:     items.New(),
		debug:     debug.New(),
		asset:     asset.New(),
	}
	if stream != nil {
		m.statusBar.Addr = stream.Addr()
	}
	return m
}

// Init starts the stream connection and the status animation.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.stream.Listen(m.ctx), tick()}
	if m.mirror != nil {
		cmds = append(cmds, m.fetchItems())
	}
	return tea.Batch(cmds...)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second/status.FrameRate, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetchItems() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
		defer cancel()
		views, err := m.mirror.Items(ctx)
		return itemsMsg{items: views, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.updateRate(time.Time(msg))
		m.statusBar.Step()
		return m, tick()

	case itemsMsg:
		if msg.err != nil {
			m.debug.Error("mirror: "+msg.err.Error(), time.Now())
			return m, nil
		}
		for _, v := range msg.items {
			kind := items.KindValue
			if v.Kind == "condition" {
				kind = items.KindCondition
			}
			m.items.Seed(v.Name, kind)
		}
		m.updateCounts()
		return m, nil

	case reader.ConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.statusBar.Addr = msg.Addr
		m.debug.Connected(msg.Addr, time.Now())
		return m, m.stream.ReadLoop(m.ctx)

	case reader.DisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		m.items.MarkStale()
		m.updateCounts()
		m.debug.Disconnected(msg.Err, time.Now())
		return m, m.stream.Listen(m.ctx)

	case reader.ObservationsMsg:
		m.items.Apply(msg.Line, msg.Received)
		m.lines++
		m.updateCounts()
		return m, m.stream.ReadLoop(m.ctx)

	case reader.AssetMsg:
		m.asset.Set(msg.Header, msg.Document, time.Now())
		m.debug.Asset(msg.Header, len(msg.Document), msg.Received)
		return m, m.stream.ReadLoop(m.ctx)

	case reader.PongMsg:
		m.statusBar.Heartbeat = msg.Interval
		m.statusBar.LastPong = time.Now()
		m.debug.Pong(msg.Interval, msg.RTT, msg.Received)
		return m, m.stream.ReadLoop(m.ctx)
	}

	return m, nil
}

func (m *Model) updateRate(now time.Time) {
	if m.windowStart.IsZero() {
		m.windowStart = now
		return
	}
	if elapsed := now.Sub(m.windowStart); elapsed >= rateWindow {
		m.statusBar.SetRate(float64(m.lines) / elapsed.Seconds())
		m.lines = 0
		m.windowStart = now
	}
}

func (m *Model) updateCounts() {
	warnings, faults := m.items.Counts()
	m.statusBar.SetCounts(m.items.Len(), warnings, faults)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		if m.stream != nil {
			_ = m.stream.Close()
		}
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		switch {
		case key.Matches(msg, m.keys.Escape):
			m.overlay = OverlayNone
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Up):
			m.debug.ScrollUp(1)
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Down):
			m.debug.ScrollDown(1)
		case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Debug),
			m.overlay == OverlayAsset && key.Matches(msg, m.keys.Asset),
			m.overlay == OverlayHelp && key.Matches(msg, m.keys.Help):
			m.overlay = OverlayNone
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Down):
		m.items.Down()
	case key.Matches(msg, m.keys.Up):
		m.items.Up()
	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
	case key.Matches(msg, m.keys.Asset):
		m.overlay = OverlayAsset
	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
	}
	return m, nil
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	bar := m.statusBar.View()
	footer := m.help.ShortHelpView(m.keys.ShortHelp())
	bodyHeight := max(m.height-lipgloss.Height(bar)-lipgloss.Height(footer), 3)

	var body string
	switch {
	case m.overlay == OverlayDebug:
		body = m.debug.View(m.width, bodyHeight)
	case m.overlay == OverlayAsset:
		body = m.asset.View(m.width, bodyHeight)
	case m.overlay == OverlayHelp:
		h := m.help
		h.ShowAll = true
		body = theme.StyleBorder.Padding(1, 2).Render(
			lipgloss.JoinVertical(lipgloss.Left, theme.StyleHeader.Render(" KEYS "), "", h.View(m.keys)))
	case !m.connected:
		body = m.renderDisconnected()
	default:
		body = m.items.View(bodyHeight, time.Now())
	}

	return lipgloss.JoinVertical(lipgloss.Left, bar, body, footer)
}

func (m Model) renderDisconnected() string {
	addr := m.statusBar.Addr
	if addr == "" {
		addr = "adapter"
	}
	panel := theme.StyleBorder.Padding(1, 4).Render(lipgloss.JoinVertical(lipgloss.Center,
		lipgloss.NewStyle().Bold(true).Foreground(theme.ColorDanger).Render("DISCONNECTED"),
		theme.StyleDimmed.Render("Reconnecting to "+addr+"..."),
	))
	return lipgloss.Place(m.width, 7, lipgloss.Center, lipgloss.Center, panel)
}
