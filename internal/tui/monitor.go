// internal/tui/monitor.go
//
// Terminal monitor for a running pipeline. It uses bubbletea's Elm-style
// loop: the model polls the status snapshot the scheduler persists after
// every transition, so the monitor runs in a separate process from the
// pipeline and never touches its state.

package tui

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/decision"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow/graph"
)

const (
	refreshInterval = 2 * time.Second
	decisionTail    = 6
)

var (
	styleSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	styleRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	styleStale     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	styleSkipped   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	stylePending   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).MarginBottom(1)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A0AEC0"))
	reasonStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
)

type tickMsg time.Time

type snapshotMsg struct {
	steps     []graph.StepState
	decisions []decision.Entry
	err       error
}

// Model is the monitor's full state.
type Model struct {
	snapshotPath string
	decisionPath string
	spin         spinner.Model
	steps        []graph.StepState
	decisions    []decision.Entry
	loadedOnce   bool
	err          error
	width        int
}

// NewModel builds a monitor over one run's snapshot and decision log.
func NewModel(snapshotPath, decisionPath string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styleRunning
	return Model{
		snapshotPath: snapshotPath,
		decisionPath: decisionPath,
		spin:         sp,
	}
}

// Run blocks until the user quits the monitor.
func Run(snapshotPath, decisionPath string) error {
	_, err := tea.NewProgram(NewModel(snapshotPath, decisionPath)).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.load, scheduleTick())
}

func scheduleTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) load() tea.Msg {
	steps, err := graph.LoadSnapshot(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			// The run has not written its first snapshot yet.
			return snapshotMsg{}
		}
		return snapshotMsg{err: err}
	}
	msg := snapshotMsg{steps: steps}
	if entries, err := decision.Replay(m.decisionPath); err == nil {
		if len(entries) > decisionTail {
			entries = entries[len(entries)-decisionTail:]
		}
		msg.decisions = entries
	}
	return msg
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.load
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tea.Batch(m.load, scheduleTick())
	case snapshotMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		if msg.steps != nil {
			m.steps = msg.steps
			m.decisions = msg.decisions
			m.loadedOnce = true
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	header := headerStyle.Render("GMV · run monitor")
	var sections []string
	sections = append(sections, header)

	switch {
	case m.err != nil:
		sections = append(sections, styleFailed.Render(fmt.Sprintf("snapshot error: %v", m.err)))
	case !m.loadedOnce:
		sections = append(sections, m.spin.View()+" waiting for the first status snapshot")
	default:
		sections = append(sections, m.renderBoard())
		if panel := m.renderDecisions(); panel != "" {
			sections = append(sections, panel)
		}
		sections = append(sections, footerStyle.Render(m.summaryLine()))
	}
	sections = append(sections, footerStyle.Render("q quit · r refresh"))
	return strings.Join(sections, "\n")
}

func (m Model) renderBoard() string {
	bySample := make(map[string][]graph.StepState)
	var project []graph.StepState
	for _, st := range m.steps {
		if st.Sample == "" {
			project = append(project, st)
			continue
		}
		bySample[st.Sample] = append(bySample[st.Sample], st)
	}
	ids := make([]string, 0, len(bySample))
	for id := range bySample {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var panels []string
	for _, id := range ids {
		panels = append(panels, m.renderChain(id, bySample[id]))
	}
	if len(project) > 0 {
		panels = append(panels, m.renderChain("project", project))
	}
	return strings.Join(panels, "\n")
}

func (m Model) renderChain(title string, steps []graph.StepState) string {
	lines := []string{titleStyle.Render(title)}
	for _, st := range steps {
		line := fmt.Sprintf("%s %-28s %s", statusGlyph(st.Status, m.spin), stageOf(st.Name), statusLabel(st.Status))
		if st.Reason != "" {
			line += "  " + reasonStyle.Render(st.Reason)
		}
		lines = append(lines, line)
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderDecisions() string {
	if len(m.decisions) == 0 {
		return ""
	}
	lines := []string{titleStyle.Render("decisions")}
	for _, e := range m.decisions {
		risk := stylePending
		if e.Risk == decision.RiskHigh {
			risk = styleFailed
		}
		lines = append(lines, fmt.Sprintf("%s %-20s %s",
			risk.Render(string(e.Risk)), e.Action, reasonStyle.Render(e.Rationale)))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) summaryLine() string {
	counts := make(map[workflow.Status]int)
	for _, st := range m.steps {
		counts[st.Status]++
	}
	return fmt.Sprintf("%d steps · %d running · %d succeeded · %d failed · %d skipped",
		len(m.steps), counts[workflow.StatusRunning], counts[workflow.StatusSucceeded],
		counts[workflow.StatusFailed], counts[workflow.StatusSkipped])
}

func stageOf(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func statusGlyph(s workflow.Status, spin spinner.Model) string {
	switch s {
	case workflow.StatusSucceeded:
		return styleSucceeded.Render("✓")
	case workflow.StatusFailed:
		return styleFailed.Render("✗")
	case workflow.StatusRunning:
		return spin.View()
	case workflow.StatusSkipped:
		return styleSkipped.Render("∅")
	case workflow.StatusStale:
		return styleStale.Render("~")
	}
	return stylePending.Render("·")
}

func statusLabel(s workflow.Status) string {
	switch s {
	case workflow.StatusSucceeded:
		return styleSucceeded.Render(string(s))
	case workflow.StatusFailed:
		return styleFailed.Render(string(s))
	case workflow.StatusRunning:
		return styleRunning.Render(string(s))
	case workflow.StatusSkipped:
		return styleSkipped.Render(string(s))
	case workflow.StatusStale:
		return styleStale.Render(string(s))
	}
	return stylePending.Render(string(s))
}
