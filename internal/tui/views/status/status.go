package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/machinemetrics/shdr-adapter/internal/tui/theme"
)

// FrameRate is how often Step should be called.
const FrameRate = 10

const gaugeWidth = 10

// Model holds the status bar state.
type Model struct {
	Connected bool
	Addr      string
	Heartbeat time.Duration
	LastPong  time.Time
	Items     int
	Warnings  int
	Faults    int
	Width     int

	rate   float64 // lines per second, target
	shown  float64 // animated gauge position
	vel    float64
	peak   float64
	spring harmonica.Spring
}

// New creates a status bar model.
func New() Model {
	return Model{
		spring: harmonica.NewSpring(harmonica.FPS(FrameRate), 6.0, 0.8),
	}
}

// SetCounts updates the item and active alarm counts.
func (m *Model) SetCounts(items, warnings, faults int) {
	m.Items = items
	m.Warnings = warnings
	m.Faults = faults
}

// SetRate sets the line rate the gauge moves toward.
func (m *Model) SetRate(linesPerSecond float64) {
	m.rate = linesPerSecond
	if linesPerSecond > m.peak {
		m.peak = linesPerSecond
	}
}

// Rate returns the most recent line rate.
func (m Model) Rate() float64 { return m.rate }

// Step advances the gauge animation by one frame.
func (m *Model) Step() {
	m.shown, m.vel = m.spring.Update(m.shown, m.vel, m.rate)
	if m.shown < 0 {
		m.shown, m.vel = 0, 0
	}
}

// gauge renders the animated line-rate bar relative to the peak seen.
func (m Model) gauge() string {
	filled := 0
	if m.peak > 0 {
		filled = int(math.Round(m.shown / m.peak * gaugeWidth))
	}
	filled = max(0, min(filled, gaugeWidth))

	bar := lipgloss.NewStyle().Foreground(theme.ColorStream).Render(strings.Repeat("█", filled)) +
		theme.StyleDimmed.Render(strings.Repeat("░", gaugeWidth-filled))
	return fmt.Sprintf("%s %.1f lines/s", bar, m.rate)
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● " + m.Addr)
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	beat := theme.StyleDimmed.Render("no heartbeat")
	if m.Heartbeat > 0 && !m.LastPong.IsZero() {
		beat = lipgloss.NewStyle().Foreground(theme.ColorBeat).Render(
			fmt.Sprintf("♥ %s (%s ago)", m.Heartbeat, time.Since(m.LastPong).Truncate(time.Second)))
	}

	counts := fmt.Sprintf("%d items", m.Items)
	if m.Warnings > 0 {
		counts += "  " + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(fmt.Sprintf("%d warning", m.Warnings))
	}
	if m.Faults > 0 {
		counts += "  " + lipgloss.NewStyle().Foreground(theme.ColorFault).Render(fmt.Sprintf("%d fault", m.Faults))
	}

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + beat + sep + counts + sep + m.gauge()

	bar := lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)

	return bar
}
