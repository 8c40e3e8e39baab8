package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/surge-downloader/kadtable/internal/tui/colors"
)

var (
	ColorNeonPurple   = colors.NeonPurple
	ColorNeonPink     = colors.NeonPink
	ColorNeonCyan     = colors.NeonCyan
	ColorGray         = colors.Gray
	ColorLightGray    = colors.LightGray
	ColorWhite        = colors.White
	ColorStateError   = colors.StateError
	ColorStatePartial = colors.StatePartial
	ColorStateFull    = colors.StateFull
)

// === Layout Styles ===
var (
	PaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)

	GraphStyle = PaneStyle.
			BorderForeground(ColorNeonCyan)

	BucketPaneStyle = PaneStyle.
			BorderForeground(ColorNeonPink)

	// === Text Styles ===

	PaneTitleStyle = lipgloss.NewStyle().
			Foreground(ColorNeonCyan).
			Bold(true)

	StatsLabelStyle = lipgloss.NewStyle().
			Foreground(ColorNeonCyan).
			Width(10)

	StatsValueStyle = lipgloss.NewStyle().
			Foreground(ColorNeonPink).
			Bold(true)

	BucketIndexStyle = lipgloss.NewStyle().
				Foreground(ColorLightGray).
				Width(4).
				Align(lipgloss.Right)

	BucketFullStyle = lipgloss.NewStyle().
			Foreground(ColorStateFull).
			Bold(true)

	BucketPartialStyle = lipgloss.NewStyle().
				Foreground(ColorStatePartial)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorStateError)

	DimStyle = lipgloss.NewStyle().
			Foreground(ColorGray)
)
