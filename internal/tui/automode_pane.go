package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/taskdeck/taskdeck/internal/events"
)

// featureRow is the display state of one auto-mode feature.
type featureRow struct {
	ID       string
	Worktree string
	Status   string // "running", "completed", "failed"
	Detail   string
}

// AutoModePaneModel shows the feature scheduler: running features, backlog
// counters, and the rate-limit banner.
type AutoModePaneModel struct {
	features map[string]*featureRow
	order    []string
	spin     spinner.Model

	backlog   int
	running   int
	completed int
	failed    int

	rateLimited bool
	resetAt     time.Time

	width   int
	height  int
	focused bool
}

// NewAutoModePaneModel creates a new auto-mode pane model.
func NewAutoModePaneModel() AutoModePaneModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return AutoModePaneModel{
		features: make(map[string]*featureRow),
		spin:     sp,
	}
}

// Init starts the spinner.
func (m AutoModePaneModel) Init() tea.Cmd {
	return m.spin.Tick
}

// Update handles messages for the auto-mode pane.
func (m AutoModePaneModel) Update(msg tea.Msg) (AutoModePaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		m.spin, cmd = m.spin.Update(msg)

	case events.FeatureStartedEvent:
		row, exists := m.features[msg.ID]
		if !exists {
			row = &featureRow{ID: msg.ID}
			m.features[msg.ID] = row
			m.order = append(m.order, msg.ID)
		}
		row.Status = "running"
		row.Worktree = msg.Worktree
		row.Detail = ""

	case events.FeatureCompletedEvent:
		if row, exists := m.features[msg.ID]; exists {
			row.Status = "completed"
			row.Detail = msg.Duration.Round(time.Second).String()
		}

	case events.FeatureFailedEvent:
		if row, exists := m.features[msg.ID]; exists {
			row.Status = "failed"
			if msg.Err != nil {
				row.Detail = msg.Err.Error()
			}
		}

	case events.FeatureProgressEvent:
		m.backlog = msg.Backlog
		m.running = msg.Running
		m.completed = msg.Completed
		m.failed = msg.Failed

	case events.RateLimitEnteredEvent:
		m.rateLimited = true
		m.resetAt = msg.ResetAt

	case events.RateLimitExitedEvent:
		m.rateLimited = false
		m.resetAt = time.Time{}
	}

	return m, cmd
}

// View renders the auto-mode pane.
func (m AutoModePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render("Auto Mode"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("backlog %d | running %d | done %d | failed %d\n",
		m.backlog, m.running, m.completed, m.failed))

	if m.rateLimited {
		b.WriteString(StyleStatusFailed.Render(
			fmt.Sprintf("RATE LIMITED until %s", m.resetAt.Format("15:04:05"))))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("No features yet"))
	} else {
		for _, id := range m.order {
			row := m.features[id]
			label := id
			if len(label) > 8 {
				label = label[:8]
			}
			var icon string
			switch row.Status {
			case "running":
				icon = m.spin.View()
			case "completed":
				icon = StyleStatusComplete.Render("✓")
			case "failed":
				icon = StyleStatusFailed.Render("✗")
			default:
				icon = StyleStatusPending.Render("○")
			}
			line := fmt.Sprintf("%s %s %s", icon, label, row.Detail)
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(lipgloss.NewStyle().MaxHeight(m.height - 2).Render(b.String()))
}

// SetSize updates the pane dimensions.
func (m *AutoModePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *AutoModePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
