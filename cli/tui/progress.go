package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/darkroom/log"
	"github.com/justapithecus/darkroom/types"
)

// maxRecentLines bounds the warning/error tail shown under the bar.
const maxRecentLines = 5

// EventMsg carries one pipeline event into the program.
type EventMsg types.Event

// ProgressModel follows a running batch.
type ProgressModel struct {
	total    int
	current  int
	started  int
	counts   map[types.ItemStatus]int
	recent   []string
	summary  *types.RunSummary
	spinner  spinner.Model
	bar      progress.Model
	onQuit   func()
	quitting bool
}

// NewProgressModel creates a progress model for total items. onQuit is
// called when the user quits before the run completes.
func NewProgressModel(total int, onQuit func()) ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)
	return ProgressModel{
		total:   total,
		counts:  make(map[types.ItemStatus]int),
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		onQuit:  onQuit,
	}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			if m.summary == nil && m.onQuit != nil {
				m.onQuit()
			}
			return m, tea.Quit
		}

	case EventMsg:
		return m.applyEvent(types.Event(msg))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ProgressModel) applyEvent(ev types.Event) (tea.Model, tea.Cmd) {
	switch ev.Kind {
	case types.EventKindProgress:
		if ev.Progress != nil {
			m.current = ev.Progress.Current
			if ev.Progress.Total > 0 {
				m.total = ev.Progress.Total
			}
		}
	case types.EventKindRunComplete:
		m.summary = ev.Summary
		return m, tea.Quit
	case types.EventKindLog:
		switch ev.Message {
		case "item started":
			m.started++
		case "item completed":
			m.counts[types.ItemStatus(fmt.Sprint(ev.Fields["status"]))]++
		case "item failed", "item panicked":
			m.counts[types.ItemError]++
		}
		if ev.Level == types.LogLevelWarn || ev.Level == types.LogLevelError {
			m.recent = append(m.recent, formatLine(ev))
			if len(m.recent) > maxRecentLines {
				m.recent = m.recent[len(m.recent)-maxRecentLines:]
			}
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	if m.summary != nil {
		b.WriteString(TitleStyle.Render("Batch complete"))
		b.WriteString("\n")
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			statBox("Success", fmt.Sprintf("%d", m.summary.Success), SuccessStyle),
			statBox("Warning", fmt.Sprintf("%d", m.summary.Warning), WarningStyle),
			statBox("Error", fmt.Sprintf("%d", m.summary.Error), ErrorStyle),
			statBox("Cancelled", fmt.Sprintf("%d", m.summary.Cancelled), MutedStyle),
		))
		b.WriteString("\n")
		return b.String()
	}

	percent := 0.0
	if m.total > 0 {
		percent = float64(m.current) / float64(m.total)
	}
	b.WriteString(fmt.Sprintf("%s Processing %d/%d\n", m.spinner.View(), m.current, m.total))
	b.WriteString(m.bar.ViewAs(percent))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("%s  %s  %s\n",
		SuccessStyle.Render(fmt.Sprintf("✓ %d", m.counts[types.ItemSuccess])),
		WarningStyle.Render(fmt.Sprintf("! %d", m.counts[types.ItemWarning])),
		ErrorStyle.Render(fmt.Sprintf("✗ %d", m.counts[types.ItemError])),
	))
	for _, line := range m.recent {
		b.WriteString(MutedStyle.Render(line))
		b.WriteString("\n")
	}
	if !m.quitting {
		b.WriteString(HelpStyle.Render("q cancel"))
	}
	return b.String()
}

func formatLine(ev types.Event) string {
	line := ev.Message
	if src, ok := ev.Fields["source"]; ok {
		line += " " + fmt.Sprint(src)
	}
	if cause, ok := ev.Fields["cause"]; ok {
		line += " (" + fmt.Sprint(cause) + ")"
	}
	if e, ok := ev.Fields["error"]; ok {
		line += ": " + fmt.Sprint(e)
	}
	return truncate(line, 100)
}

// ProgramSink forwards events to a running program.
type ProgramSink struct {
	Program *tea.Program
}

// Emit implements log.Sink.
func (s ProgramSink) Emit(event types.Event) {
	if s.Program != nil {
		s.Program.Send(EventMsg(event))
	}
}

// Verify ProgramSink implements log.Sink.
var _ log.Sink = ProgramSink{}
