// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the gateway client UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Controls holds channels for keyboard-driven actions
type Controls struct {
	Reconnect chan struct{}
	Quit      chan struct{}
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{
		Reconnect: make(chan struct{}, 4),
		Quit:      make(chan struct{}, 1),
	}
}

// NewModel creates a new TUI model
func NewModel(ctrl *Controls) Model {
	return Model{
		state: "disconnected",
		ctrl:  ctrl,
	}
}

// Run starts the TUI
func Run(ctrl *Controls) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(ctrl), tea.WithAltScreen())
	return p, nil
}
