// Package theme provides the Lip Gloss color palette and reusable styles
// for the SHDR viewer. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import (
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Condition level colors.
var (
	ColorNormal      = lipgloss.Color("#22c55e")
	ColorWarning     = lipgloss.Color("#d97706")
	ColorFault       = lipgloss.Color("#dc2626")
	ColorUnavailable = lipgloss.Color("#6b7280")
)

// Value freshness colors.
var (
	ColorFresh = lipgloss.Color("#f9fafb")
	ColorAging = lipgloss.Color("#9ca3af")
	ColorStale = lipgloss.Color("#4b5563")
)

// Debug log kind colors.
var (
	ColorStream = lipgloss.Color("#2563eb")
	ColorAsset  = lipgloss.Color("#7c3aed")
	ColorBeat   = lipgloss.Color("#06b6d4")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorDefault = lipgloss.Color("#9ca3af")
)

// LevelColor returns the color for a condition level or an UNAVAILABLE value.
func LevelColor(level string) lipgloss.Color {
	switch level {
	case "NORMAL":
		return ColorNormal
	case "WARNING":
		return ColorWarning
	case "FAULT":
		return ColorFault
	case "UNAVAILABLE":
		return ColorUnavailable
	default:
		return ColorDefault
	}
}

// AgeColor fades a value as it goes without updates.
func AgeColor(age time.Duration) lipgloss.Color {
	switch {
	case age < 5*time.Second:
		return ColorFresh
	case age < time.Minute:
		return ColorAging
	default:
		return ColorStale
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)
)

// LevelGlyph returns a Unicode glyph for a condition level.
func LevelGlyph(level string) string {
	switch level {
	case "NORMAL":
		return "●"
	case "WARNING":
		return "▲"
	case "FAULT":
		return "✗"
	case "UNAVAILABLE":
		return "?"
	default:
		return "·"
	}
}
