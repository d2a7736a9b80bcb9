package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Read-only view types.
const (
	ViewInspectRun   = "inspect_run"
	ViewStorageUsage = "storage_usage"
)

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// Run starts the read-only TUI for viewType.
func Run(viewType string, data any) error {
	if !IsTUISupported(viewType) {
		return fmt.Errorf("TUI mode is not supported for %s", viewType)
	}

	var model tea.Model
	switch viewType {
	case ViewInspectRun:
		model = NewInspectModel(data)
	case ViewStorageUsage:
		model = NewUsageModel(data)
	}

	_, err := tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	for _, v := range SupportedTUIViews() {
		if v == viewType {
			return true
		}
	}
	return false
}

// SupportedTUIViews returns the read-only views that support TUI.
// The live run view is started separately by the run command.
func SupportedTUIViews() []string {
	return []string{ViewInspectRun, ViewStorageUsage}
}
