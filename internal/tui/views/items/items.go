// Package items renders the table of data items seen on the stream.
package items

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/machinemetrics/shdr-adapter/internal/shdr"
	"github.com/machinemetrics/shdr-adapter/internal/tui/theme"
)

const (
	nameWidth  = 20
	valueWidth = 40
	ageWidth   = 8
)

// Kinds shown in the table.
const (
	KindValue     = "value"
	KindCondition = "condition"
)

// Item is the latest known state of one data item.
type Item struct {
	Name      string
	Kind      string
	Value     string
	Timestamp string
	Updated   time.Time

	// Alarms holds the active condition alarms keyed by native code.
	Alarms map[string]shdr.Alarm
	// Level is the condition level when no coded alarm is active.
	Level shdr.Level
}

// Severity returns the worst active condition level.
func (it *Item) Severity() shdr.Level {
	worst := it.Level
	for _, a := range it.Alarms {
		if rank(a.Level) > rank(worst) {
			worst = a.Level
		}
	}
	return worst
}

func rank(l shdr.Level) int {
	switch l {
	case shdr.LevelFault:
		return 3
	case shdr.LevelWarning:
		return 2
	case shdr.LevelNormal:
		return 1
	default:
		return 0
	}
}

// applyCondition folds one condition observation into the alarm set.
func (it *Item) applyCondition(a shdr.Alarm) {
	switch {
	case a.Level == shdr.LevelUnavailable || (a.Level == shdr.LevelNormal && a.NativeCode == ""):
		it.Alarms = nil
		it.Level = a.Level
	case a.Level == shdr.LevelNormal:
		delete(it.Alarms, a.NativeCode)
		if len(it.Alarms) == 0 {
			it.Level = shdr.LevelNormal
		}
	default:
		if it.Alarms == nil {
			it.Alarms = make(map[string]shdr.Alarm)
		}
		it.Alarms[a.NativeCode] = a
		it.Level = shdr.LevelNormal
	}
}

// Model holds the item table state.
type Model struct {
	items    map[string]*Item
	order    []string
	Selected int
	Width    int
}

// New creates an empty table.
func New() Model {
	return Model{items: make(map[string]*Item)}
}

// Seed registers names and kinds before any values arrive.
func (m *Model) Seed(name, kind string) {
	if _, ok := m.items[name]; ok {
		return
	}
	m.items[name] = &Item{Name: name, Kind: kind, Value: shdr.Unavailable, Level: shdr.LevelUnavailable}
	m.rebuildOrder()
}

// Apply folds a parsed line into the table.
func (m *Model) Apply(line shdr.Line, at time.Time) {
	added := false
	for _, obs := range line.Observations {
		it, ok := m.items[obs.Name]
		if !ok {
			it = &Item{Name: obs.Name, Kind: KindValue}
			m.items[obs.Name] = it
			added = true
		}
		it.Timestamp = line.Timestamp
		it.Updated = at
		it.Value = obs.Value
		if obs.Condition != nil {
			it.Kind = KindCondition
			it.applyCondition(*obs.Condition)
		}
	}
	if added {
		m.rebuildOrder()
	}
}

// MarkStale flags every value as unknown, for example after a disconnect.
func (m *Model) MarkStale() {
	for _, it := range m.items {
		it.Value = shdr.Unavailable
		it.Alarms = nil
		it.Level = shdr.LevelUnavailable
	}
}

// Get returns the named item.
func (m Model) Get(name string) (*Item, bool) {
	it, ok := m.items[name]
	return it, ok
}

// Len returns the number of items.
func (m Model) Len() int { return len(m.order) }

// Counts returns the number of active warning and fault alarms.
func (m Model) Counts() (warnings, faults int) {
	for _, it := range m.items {
		for _, a := range it.Alarms {
			switch a.Level {
			case shdr.LevelWarning:
				warnings++
			case shdr.LevelFault:
				faults++
			}
		}
	}
	return warnings, faults
}

// Down moves the selection down, wrapping around.
func (m *Model) Down() {
	if len(m.order) > 0 {
		m.Selected = (m.Selected + 1) % len(m.order)
	}
}

// Up moves the selection up, wrapping around.
func (m *Model) Up() {
	if len(m.order) > 0 {
		m.Selected = (m.Selected - 1 + len(m.order)) % len(m.order)
	}
}

func (m *Model) rebuildOrder() {
	m.order = m.order[:0]
	for name := range m.items {
		m.order = append(m.order, name)
	}
	sort.Strings(m.order)
}

// View renders at most height rows, keeping the selection visible.
func (m Model) View(height int, now time.Time) string {
	if len(m.order) == 0 {
		return theme.StyleDimmed.Render("  No data items received yet")
	}

	header := theme.StyleHeader.Render(fmt.Sprintf("  %-*s %-*s %*s",
		nameWidth, "ITEM", valueWidth, "VALUE", ageWidth, "AGE"))
	lines := []string{header}

	rows := max(height-1, 1)
	start := 0
	if m.Selected >= rows {
		start = m.Selected - rows + 1
	}
	end := min(start+rows, len(m.order))

	for i := start; i < end; i++ {
		it := m.items[m.order[i]]
		prefix := "  "
		if i == m.Selected {
			prefix = "> "
		}
		lines = append(lines, prefix+m.renderRow(it, now))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderRow(it *Item, now time.Time) string {
	name := lipgloss.NewStyle().Width(nameWidth).Render(truncate(it.Name, nameWidth))

	var value string
	if it.Kind == KindCondition {
		level := it.Severity()
		text := theme.LevelGlyph(string(level)) + " " + describe(it, level)
		value = lipgloss.NewStyle().Foreground(theme.LevelColor(string(level))).Width(valueWidth).
			Render(truncate(text, valueWidth))
	} else {
		color := theme.AgeColor(now.Sub(it.Updated))
		if it.Value == shdr.Unavailable {
			color = theme.ColorUnavailable
		}
		value = lipgloss.NewStyle().Foreground(color).Width(valueWidth).Render(truncate(it.Value, valueWidth))
	}

	age := "-"
	if !it.Updated.IsZero() {
		age = formatAge(now.Sub(it.Updated))
	}
	return name + " " + value + " " + theme.StyleDimmed.Render(fmt.Sprintf("%*s", ageWidth, age))
}

// describe summarises a condition by its worst alarm.
func describe(it *Item, level shdr.Level) string {
	if len(it.Alarms) == 0 {
		return string(level)
	}
	codes := make([]string, 0, len(it.Alarms))
	for code := range it.Alarms {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var worst shdr.Alarm
	for _, code := range codes {
		if a := it.Alarms[code]; rank(a.Level) > rank(worst.Level) {
			worst = a
		}
	}
	s := string(worst.Level)
	if worst.NativeCode != "" {
		s += " " + worst.NativeCode
	}
	if worst.Text != "" {
		s += " " + worst.Text
	}
	if n := len(it.Alarms) - 1; n > 0 {
		s += fmt.Sprintf(" (+%d)", n)
	}
	return s
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
