package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskdeck/taskdeck/internal/events"
	"github.com/taskdeck/taskdeck/internal/task"
)

// taskRow is the display state of one task.
type taskRow struct {
	ID     string
	Status task.Status
	Output []string
}

// TaskPaneModel shows the task list alongside the selected task's output.
type TaskPaneModel struct {
	tasks       map[string]*taskRow
	order       []string // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*taskRow),
		viewport: viewport.New(0, 0),
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.refreshViewport()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.refreshViewport()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStatusChangedEvent:
		row, exists := m.tasks[msg.ID]
		if !exists {
			row = &taskRow{ID: msg.ID}
			m.tasks[msg.ID] = row
			m.order = append(m.order, msg.ID)
			if len(m.order) == 1 {
				m.selectedIdx = 0
			}
		}
		row.Status = msg.To
		if m.selectedID() == msg.ID {
			m.refreshViewport()
		}

	case events.TaskOutputEvent:
		if row, exists := m.tasks[msg.ID]; exists {
			row.Output = append(row.Output, msg.Line)
			if m.selectedID() == msg.ID {
				m.refreshViewport()
			}
		}

	case events.TaskPlanGeneratedEvent:
		if row, exists := m.tasks[msg.ID]; exists {
			row.Output = append(row.Output, fmt.Sprintf("[plan v%d generated]", msg.Version))
			if m.selectedID() == msg.ID {
				m.refreshViewport()
			}
		}
	}

	return m, cmd
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	outputWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(outputWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderTaskList renders the task list column.
func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Tasks"))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("No tasks yet"))
	} else {
		for i, id := range m.order {
			row := m.tasks[id]
			label := id
			if len(label) > 8 {
				label = label[:8]
			}
			line := fmt.Sprintf("%s %s %s", statusIcon(row.Status), label, row.Status)
			if len(line) > width {
				line = line[:width]
			}
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// statusIcon returns a styled status indicator.
func statusIcon(s task.Status) string {
	switch s {
	case task.StatusRunning:
		return StyleStatusRunning.Render("●")
	case task.StatusAwaitingApproval, task.StatusReview:
		return StyleStatusRunning.Render("◐")
	case task.StatusCompleted:
		return StyleStatusComplete.Render("✓")
	case task.StatusFailed, task.StatusStopped:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m TaskPaneModel) selectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// refreshViewport fills the viewport with the selected task's output.
func (m *TaskPaneModel) refreshViewport() {
	id := m.selectedID()
	if id == "" {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	row, exists := m.tasks[id]
	if !exists {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	header := fmt.Sprintf("task %s  [%s]\n\n", row.ID, row.Status)
	m.viewport.SetContent(header + strings.Join(row.Output, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	listWidth := 28
	w := m.width - listWidth - 4
	h := m.height - 4
	if w < 10 {
		w = 10
	}
	if h < 5 {
		h = 5
	}
	m.viewport.Width = w
	m.viewport.Height = h
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
