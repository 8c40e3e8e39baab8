package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/surge-downloader/kadtable/internal/tui/colors"
)

const (
	historyLimit = 120
	graphHeight  = 6
	barWidth     = 30
)

// Snapshot is what the dashboard shows for one poll of a running node.
type Snapshot struct {
	Local  string
	K      int
	Size   int
	Census map[int]int
}

// Source fetches the current snapshot, usually over the local API.
type Source func() (Snapshot, error)

type snapshotMsg struct {
	snap Snapshot
	err  error
}

type tickMsg time.Time

// Model is the bubbletea model behind `kadtable watch`.
type Model struct {
	source   Source
	interval time.Duration
	keys     KeyMap
	help     help.Model
	bar      progress.Model

	snap    Snapshot
	err     error
	updated time.Time
	history []float64
	peak    int

	offset int
	width  int
	height int
}

func New(source Source, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	bar := progress.New(
		progress.WithGradient(colors.ProgressStart, colors.ProgressEnd),
		progress.WithoutPercentage(),
		progress.WithWidth(barWidth),
	)
	return Model{
		source:   source,
		interval: interval,
		keys:     Keys,
		help:     help.New(),
		bar:      bar,
		width:    80,
		height:   24,
	}
}

func (m Model) Init() tea.Cmd {
	return m.fetch()
}

func (m Model) fetch() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		snap, err := source()
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.clampOffset()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.Up):
			m.offset--
		case key.Matches(msg, m.keys.Down):
			m.offset++
		case key.Matches(msg, m.keys.Top):
			m.offset = 0
		}
		m.clampOffset()
		return m, nil

	case snapshotMsg:
		m.updated = time.Now()
		m.err = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.history = append(m.history, float64(msg.snap.Size))
			if len(m.history) > historyLimit {
				m.history = m.history[len(m.history)-historyLimit:]
			}
			if msg.snap.Size > m.peak {
				m.peak = msg.snap.Size
			}
		}
		m.clampOffset()
		return m, m.tick()

	case tickMsg:
		return m, m.fetch()
	}
	return m, nil
}

// buckets returns the non-empty bucket indexes, farthest first.
func (m Model) buckets() []int {
	idx := make([]int, 0, len(m.snap.Census))
	for i, c := range m.snap.Census {
		if c > 0 {
			idx = append(idx, i)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(idx)))
	return idx
}

// visibleRows is how many bucket rows fit below the header and graph.
func (m Model) visibleRows() int {
	rows := m.height - graphHeight - 12
	if rows < 3 {
		rows = 3
	}
	return rows
}

func (m *Model) clampOffset() {
	limit := len(m.buckets()) - m.visibleRows()
	if m.offset > limit {
		m.offset = limit
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

func (m Model) View() string {
	var sections []string

	sections = append(sections, m.headerView())

	graphWidth := m.width - 4
	if graphWidth < 20 {
		graphWidth = 20
	}
	graph := renderGraph(m.history, graphWidth, graphHeight, float64(max(m.peak, 1)), &GraphStats{
		Size:    m.snap.Size,
		Peak:    m.peak,
		Buckets: len(m.buckets()),
	})
	sections = append(sections, GraphStyle.Render(graph))

	sections = append(sections, BucketPaneStyle.Render(m.bucketsView()))

	if m.err != nil {
		sections = append(sections, ErrorStyle.Render("Error: "+m.err.Error()))
	}
	sections = append(sections, m.help.View(m.keys))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) headerView() string {
	logo := ApplyGradient("kadtable", colors.ProgressStart, colors.ProgressEnd)
	local := m.snap.Local
	if local == "" {
		local = "connecting..."
	}
	stats := lipgloss.JoinVertical(lipgloss.Left,
		StatsLabelStyle.Render("Node")+StatsValueStyle.Render(local),
		StatsLabelStyle.Render("k")+StatsValueStyle.Render(fmt.Sprint(m.snap.K)),
		StatsLabelStyle.Render("Entries")+StatsValueStyle.Render(fmt.Sprint(m.snap.Size)),
	)
	updated := ""
	if !m.updated.IsZero() {
		updated = DimStyle.Render("updated " + m.updated.Format("15:04:05"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, logo+"  "+updated, stats)
}

func (m Model) bucketsView() string {
	idx := m.buckets()
	title := PaneTitleStyle.Render("Buckets")
	if len(idx) == 0 {
		return title + "\n" + DimStyle.Render("routing table is empty")
	}

	end := m.offset + m.visibleRows()
	if end > len(idx) {
		end = len(idx)
	}

	k := m.snap.K
	if k <= 0 {
		k = 1
	}
	lines := []string{title}
	for _, i := range idx[m.offset:end] {
		count := m.snap.Census[i]
		pct := float64(count) / float64(k)
		if pct > 1 {
			pct = 1
		}
		countStyle := BucketPartialStyle
		if count >= k {
			countStyle = BucketFullStyle
		}
		lines = append(lines, fmt.Sprintf("%s %s %s",
			BucketIndexStyle.Render(fmt.Sprint(i)),
			m.bar.ViewAs(pct),
			countStyle.Render(fmt.Sprintf("%d/%d", count, m.snap.K)),
		))
	}
	if hidden := len(idx) - end; hidden > 0 {
		lines = append(lines, DimStyle.Render(fmt.Sprintf("… %d more", hidden)))
	}
	return strings.Join(lines, "\n")
}
