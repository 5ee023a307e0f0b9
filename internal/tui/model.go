// Package tui is the bubbletea dashboard: a task pane on the left, the
// auto-mode pane on the right, fed by the event bus.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskdeck/taskdeck/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneAutoMode
)

// Model is the root Bubble Tea model.
type Model struct {
	taskPane     TaskPaneModel
	autoModePane AutoModePaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
}

// New creates the TUI model, subscribed to every bus topic.
func New(bus *events.Bus) Model {
	return Model{
		taskPane:     NewTaskPaneModel(),
		autoModePane: NewAutoModePaneModel(),
		focusedPane:  PaneTasks,
		eventSub:     bus.SubscribeAll(256),
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), m.autoModePane.Init())
}

// waitForEvent returns a command that waits for the next bus event.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab, KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneAutoMode
			m.updateFocusStates()

		default:
			switch m.focusedPane {
			case PaneTasks:
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneAutoMode:
				var cmd tea.Cmd
				m.autoModePane, cmd = m.autoModePane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case events.TaskStatusChangedEvent, events.TaskOutputEvent, events.TaskPlanGeneratedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.FeatureStartedEvent, events.FeatureCompletedEvent, events.FeatureFailedEvent,
		events.FeatureProgressEvent, events.RateLimitEnteredEvent, events.RateLimitExitedEvent:
		var cmd tea.Cmd
		m.autoModePane, cmd = m.autoModePane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	default:
		var cmd tea.Cmd
		m.autoModePane, cmd = m.autoModePane.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.autoModePane.View())
	return lipgloss.JoinVertical(lipgloss.Left, main, HelpView())
}

// computeLayout sizes the panes: tasks get 65% of the width.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // help bar

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.autoModePane.SetSize(rightWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.autoModePane.SetFocused(m.focusedPane == PaneAutoMode)
}
