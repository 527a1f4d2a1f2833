// Package asset renders the most recent asset document as an overlay.
package asset

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/machinemetrics/shdr-adapter/internal/shdr"
	"github.com/machinemetrics/shdr-adapter/internal/tui/theme"
)

// Model holds the last received asset.
type Model struct {
	Header   shdr.AssetHeader
	Document string
	Received time.Time
	Count    int
}

// New creates an empty asset model.
func New() Model {
	return Model{}
}

// Set replaces the shown asset.
func (m *Model) Set(header shdr.AssetHeader, document string, at time.Time) {
	m.Header = header
	m.Document = document
	m.Received = at
	m.Count++
}

// Markdown returns the asset as a markdown document.
func (m Model) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s `%s`\n\n", m.Header.Type, m.Header.ID)
	fmt.Fprintf(&b, "Reported at %s.\n\n", m.Header.Timestamp)
	b.WriteString("```" + language(m.Document) + "\n")
	b.WriteString(m.Document)
	b.WriteString("\n```\n")
	return b.String()
}

func language(doc string) string {
	doc = strings.TrimSpace(doc)
	switch {
	case strings.HasPrefix(doc, "<"):
		return "xml"
	case strings.HasPrefix(doc, "{"), strings.HasPrefix(doc, "["):
		return "json"
	default:
		return ""
	}
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the asset through glamour, clipped to height lines.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	help := theme.StyleDimmed.Render(fmt.Sprintf("esc:close  %d assets received", m.Count))

	if m.Count == 0 {
		body := theme.StyleDimmed.Render("  No assets received yet.")
		return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, body, "", help))
	}

	body, err := render(m.Markdown(), innerW-4)
	if err != nil {
		body = m.Document
	}
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	if limit := height - 4; limit > 0 && len(lines) > limit {
		lines = append(lines[:limit-1], theme.StyleDimmed.Render(fmt.Sprintf("… %d more lines", len(lines)-limit+1)))
	}
	return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, strings.Join(lines, "\n"), help))
}

func render(markdown string, wrap int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return "", err
	}
	return r.Render(markdown)
}
