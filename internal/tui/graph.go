package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// GraphStats is overlaid on the table size graph
type GraphStats struct {
	Size    int
	Peak    int
	Buckets int
}

var graphGradient = []lipgloss.TerminalColor{
	lipgloss.AdaptiveColor{Light: "#80deea", Dark: "#005f5f"}, // Bottom
	lipgloss.AdaptiveColor{Light: "#26c6da", Dark: "#00878f"},
	lipgloss.AdaptiveColor{Light: "#00acc1", Dark: "#00afd7"},
	lipgloss.AdaptiveColor{Light: "#006064", Dark: "#8be9fd"}, // Top
}

var blocks = []string{" ", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

// renderGraph draws data as bars scaled to maxVal, stretched across width.
// stats may be nil.
func renderGraph(data []float64, width, height int, maxVal float64, stats *GraphStats) string {
	if width < 1 || height < 1 {
		return ""
	}
	if maxVal <= 0 {
		maxVal = 1
	}

	gridStyle := lipgloss.NewStyle().Foreground(ColorGray)

	rows := make([][]string, height)
	for i := range rows {
		rows[i] = make([]string, width)
		for j := range rows[i] {
			switch {
			case i == height-1:
				rows[i][j] = gridStyle.Render("─")
			case i%2 == 0:
				rows[i][j] = gridStyle.Render("╌")
			default:
				rows[i][j] = " "
			}
		}
	}

	// One pre-rendered glyph set per row so Render runs len(blocks)*height times.
	rowChars := make([][]string, height)
	for y := 0; y < height; y++ {
		colorIdx := (y * len(graphGradient)) / height
		if colorIdx >= len(graphGradient) {
			colorIdx = len(graphGradient) - 1
		}
		style := lipgloss.NewStyle().Foreground(graphGradient[colorIdx])
		rowChars[y] = make([]string, len(blocks))
		for k, b := range blocks {
			rowChars[y][k] = style.Render(b)
		}
	}

	if len(data) > 0 {
		colsPerPoint := float64(width) / float64(len(data))
		for i, val := range data {
			if val < 0 {
				val = 0
			}
			pct := val / maxVal
			if pct > 1.0 {
				pct = 1.0
			}
			totalSubBlocks := pct * float64(height) * 8.0

			startCol := int(float64(i) * colsPerPoint)
			endCol := int(float64(i+1) * colsPerPoint)
			if endCol > width {
				endCol = width
			}

			for col := startCol; col < endCol; col++ {
				for y := 0; y < height; y++ {
					rowValue := totalSubBlocks - float64(y*8)
					var charIndex int
					switch {
					case rowValue <= 0:
						continue
					case rowValue >= 8:
						charIndex = 7
					default:
						charIndex = int(rowValue)
					}
					if charIndex > 0 {
						rows[height-1-y][col] = rowChars[y][charIndex]
					}
				}
			}
		}
	}

	lines := make([]string, height)
	for i, row := range rows {
		lines[i] = strings.Join(row, "")
	}
	graph := strings.Join(lines, "\n")

	if stats != nil {
		graph = overlayStatsBox(graph, stats, width, height)
	}
	return graph
}

// overlayStatsBox renders stats over the top-right corner of graph
func overlayStatsBox(graph string, stats *GraphStats, width, height int) string {
	valueStyle := lipgloss.NewStyle().Foreground(ColorNeonCyan).Bold(true)
	labelStyle := lipgloss.NewStyle().Foreground(ColorLightGray)
	headerStyle := lipgloss.NewStyle().Foreground(ColorNeonPink).Bold(true)

	statsBox := lipgloss.JoinVertical(lipgloss.Right,
		headerStyle.Render("entries"),
		fmt.Sprintf("%s %s", labelStyle.Render("Now:"), valueStyle.Render(fmt.Sprint(stats.Size))),
		fmt.Sprintf("%s %s", labelStyle.Render("Peak:"), valueStyle.Render(fmt.Sprint(stats.Peak))),
		fmt.Sprintf("%s %s", labelStyle.Render("Buckets:"), valueStyle.Render(fmt.Sprint(stats.Buckets))),
	)
	statsWidth := lipgloss.Width(statsBox)
	if statsWidth >= width || lipgloss.Height(statsBox) >= height {
		return graph
	}

	graphLines := strings.Split(graph, "\n")
	statsLines := strings.Split(statsBox, "\n")
	for i := 0; i < len(statsLines) && i < len(graphLines); i++ {
		keep := width - lipgloss.Width(statsLines[i]) - 1
		if keep < 0 {
			keep = 0
		}
		line := ansi.Truncate(graphLines[i], keep, "")
		if pad := keep - lipgloss.Width(line); pad > 0 {
			line += strings.Repeat(" ", pad)
		}
		graphLines[i] = line + " " + statsLines[i]
	}
	return strings.Join(graphLines, "\n")
}
