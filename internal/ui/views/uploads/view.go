package uploads

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	uploaddomain "pocus/internal/modules/upload/domain"
	"pocus/internal/modules/workspace/dto"
	"pocus/internal/ui/theme"
)

// Model shows every tracked upload with its progress.
type Model struct {
	views    []dto.UploadView
	bar      progress.Model
	viewport viewport.Model
	width    int
	height   int
}

func New() Model {
	return Model{
		bar:      progress.New(progress.WithGradient(string(theme.Sapphire), string(theme.Green)), progress.WithWidth(30)),
		viewport: viewport.New(0, 0),
	}
}

func (m *Model) SetSnapshot(snap dto.Snapshot) {
	m.views = snap.Uploads
	m.viewport.SetContent(m.render())
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if size, ok := msg.(tea.WindowSizeMsg); ok {
		m.width = size.Width
		m.height = size.Height
		m.viewport.Width = size.Width - 4
		m.viewport.Height = size.Height - 2
		m.viewport.SetContent(m.render())
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	return lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.Surface1).
		Width(m.width - 2).
		Height(m.height - 2).
		Render(m.viewport.View())
}

func (m Model) render() string {
	if len(m.views) == 0 {
		return theme.Muted.Render("no uploads; use :upload <path> with a study open")
	}
	var sb strings.Builder
	sb.WriteString(theme.Title.Render(fmt.Sprintf("Uploads (%d)", len(m.views))) + "\n\n")
	for _, view := range m.views {
		task := view.Task
		sb.WriteString(fmt.Sprintf("%s  %s\n", theme.Muted.Render(task.ID.String()[:8]), task.ObjectName))
		sb.WriteString("  " + m.line(view) + "\n")
	}
	return sb.String()
}

func (m Model) line(view dto.UploadView) string {
	task := view.Task
	switch {
	case view.Persisted:
		return theme.Good.Render("✓ saved") + theme.Muted.Render(fmt.Sprintf("  %d bytes", task.Size))
	case task.Status == uploaddomain.StatusFailed && task.Reason == uploaddomain.ReasonCancelled:
		return theme.Muted.Render("cancelled")
	case task.Status == uploaddomain.StatusFailed:
		return theme.Bad.Render("✕ failed") + theme.Muted.Render("  "+task.Reason)
	case task.Status == uploaddomain.StatusCompleted:
		return m.bar.ViewAs(1) + theme.Muted.Render("  recording media")
	default:
		return m.bar.ViewAs(task.Progress()) + theme.Muted.Render(fmt.Sprintf("  %s %d/%d", task.Status, task.Offset, task.Size))
	}
}
