package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/darkroom/archive"
)

// InspectModel shows an archived run and a scrollable item table.
type InspectModel struct {
	ledger   *archive.Ledger
	items    table.Model
	quitting bool
}

// NewInspectModel creates a new inspect model for an *archive.Ledger.
func NewInspectModel(data any) InspectModel {
	ledger, _ := data.(*archive.Ledger)
	m := InspectModel{ledger: ledger}

	columns := []table.Column{
		{Title: "#", Width: 4},
		{Title: "Source", Width: 28},
		{Title: "Status", Width: 10},
		{Title: "Tries", Width: 5},
		{Title: "Score", Width: 6},
		{Title: "Message", Width: 40},
	}
	var rows []table.Row
	if ledger != nil {
		for _, it := range ledger.Items {
			rows = append(rows, itemRow(it))
		}
	}
	m.items = table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(min(len(rows)+1, 15)),
	)
	return m
}

func itemRow(it archive.ItemRecord) table.Row {
	score := "-"
	if n := len(it.Attempts); n > 0 && it.Attempts[n-1].Verdict != nil {
		score = fmt.Sprintf("%.1f", it.Attempts[n-1].Verdict.Score)
	}
	return table.Row{
		fmt.Sprintf("%d", it.Index+1),
		truncate(it.SourceRef, 28),
		string(it.Status),
		fmt.Sprintf("%d", len(it.Attempts)),
		score,
		truncate(it.Message, 40),
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.items, cmd = m.items.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}
	if m.ledger == nil {
		return "Invalid data type for inspect_run"
	}

	run := m.ledger.Run
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run " + run.RunID))
	b.WriteString("\n")

	rows := [][]string{
		{"Mode", run.Mode},
		{"Source", run.Source},
		{"Started At", run.StartedAt.Format("2006-01-02 15:04:05")},
		{"Duration", run.CompletedAt.Sub(run.StartedAt).Round(time.Second).String()},
		{"Calls", fmt.Sprintf("%d generation, %d verification", run.Summary.Calls.Generation, run.Summary.Calls.Verification)},
		{"Cost", fmt.Sprintf("$%.4f", run.Cost.TotalUSD)},
	}
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1])))
	}

	summary := lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Success", fmt.Sprintf("%d", run.Summary.Success), SuccessStyle),
		statBox("Warning", fmt.Sprintf("%d", run.Summary.Warning), WarningStyle),
		statBox("Error", fmt.Sprintf("%d", run.Summary.Error), ErrorStyle),
		statBox("Cancelled", fmt.Sprintf("%d", run.Summary.Cancelled), MutedStyle),
	)

	help := HelpStyle.Render("↑/↓ scroll • q quit")
	return BoxStyle.Render(b.String()) + "\n" + summary + "\n" + m.items.View() + "\n" + help
}

// UsageModel shows storage usage against the quota.
type UsageModel struct {
	usage    *UsageView
	quitting bool
}

// UsageView is the storage usage payload.
type UsageView struct {
	Backend        string  `json:"backend"`
	TotalBytes     int64   `json:"total_bytes"`
	ObjectCount    int     `json:"object_count"`
	ProtectedBytes int64   `json:"protected_bytes"`
	HardLimitBytes int64   `json:"hard_limit_bytes"`
	TargetBytes    int64   `json:"target_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// NewUsageModel creates a usage model for a *UsageView.
func NewUsageModel(data any) UsageModel {
	usage, _ := data.(*UsageView)
	return UsageModel{usage: usage}
}

// Init implements tea.Model.
func (m UsageModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m UsageModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok && key.Matches(msg, keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// View implements tea.Model.
func (m UsageModel) View() string {
	if m.quitting {
		return ""
	}
	if m.usage == nil {
		return "Invalid data type for storage_usage"
	}
	u := m.usage
	style := SuccessStyle
	switch {
	case u.TotalBytes >= u.HardLimitBytes:
		style = ErrorStyle
	case u.TotalBytes > u.TargetBytes:
		style = WarningStyle
	}

	title := TitleStyle.Render("Storage (" + u.Backend + ")")
	boxes := lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Used", FormatBytes(u.TotalBytes), style),
		statBox("Limit", FormatBytes(u.HardLimitBytes), ValueStyle),
		statBox("Objects", fmt.Sprintf("%d", u.ObjectCount), ValueStyle),
		statBox("Protected", FormatBytes(u.ProtectedBytes), MutedStyle),
	)
	pct := style.Render(fmt.Sprintf("%.1f%% of limit", u.UsedPercent))
	return title + "\n" + boxes + "\n" + pct + "\n" + HelpStyle.Render("Press q or Ctrl+C to quit")
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Verify models implement tea.Model.
var (
	_ tea.Model = InspectModel{}
	_ tea.Model = UsageModel{}
)
