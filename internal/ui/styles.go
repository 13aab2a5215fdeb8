package ui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Semantic color palette.
const (
	colorPrimary = lipgloss.Color("#00BFFF") // cyan accent
	colorAccent  = lipgloss.Color("#FFD700") // gold, attention
	colorSuccess = lipgloss.Color("#00E676")
	colorDanger  = lipgloss.Color("#FF5252")
	colorMuted   = lipgloss.Color("#8C8C8C")
	colorBlue    = lipgloss.Color("#5B8DEF")
)

// Status icons.
const (
	iconDone    = "✓"
	iconFailed  = "✗"
	iconWorking = "▶"
	iconSkipped = "–"
	iconWarn    = "⚠"
)

// styles holds the lipgloss styles of one printer, bound to the printer's
// output so color is dropped automatically when it is not a terminal.
type styles struct {
	title   lipgloss.Style
	label   lipgloss.Style
	dim     lipgloss.Style
	success lipgloss.Style
	danger  lipgloss.Style
	warn    lipgloss.Style
	info    lipgloss.Style
	high    lipgloss.Style
	medium  lipgloss.Style
	low     lipgloss.Style
	box     lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(colorPrimary),
		label:   r.NewStyle().Bold(true),
		dim:     r.NewStyle().Foreground(colorMuted),
		success: r.NewStyle().Bold(true).Foreground(colorSuccess),
		danger:  r.NewStyle().Bold(true).Foreground(colorDanger),
		warn:    r.NewStyle().Foreground(colorAccent),
		info:    r.NewStyle().Foreground(colorBlue),
		high:    r.NewStyle().Bold(true).Foreground(colorDanger),
		medium:  r.NewStyle().Foreground(colorAccent),
		low:     r.NewStyle().Foreground(colorMuted),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1),
	}
}
