package studies

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	studydomain "pocus/internal/modules/study/domain"
	uploaddomain "pocus/internal/modules/upload/domain"
	"pocus/internal/modules/workspace/dto"
	"pocus/internal/ui/theme"
)

// ─── messages ────────────────────────────────────────────────────────────────

// OpenStudyMsg asks the app to load a study's detail.
type OpenStudyMsg struct{ ID uuid.UUID }

// ─── list item ───────────────────────────────────────────────────────────────

type studyItem struct {
	study studydomain.Study
}

func (i studyItem) Title() string { return i.study.ExamType }
func (i studyItem) Description() string {
	return fmt.Sprintf("%s  %s", i.study.Status, i.study.CreatedAt.Local().Format("Jan 2 15:04"))
}
func (i studyItem) FilterValue() string { return i.study.ExamType + " " + string(i.study.Status) }

// ─── model ───────────────────────────────────────────────────────────────────

// Model lists studies on the left and the open study on the right. With
// queue set it lists the review queue instead of the filtered dashboard.
type Model struct {
	queue    bool
	list     list.Model
	preview  viewport.Model
	bar      progress.Model
	renderer *glamour.TermRenderer
	snap     dto.Snapshot
	width    int
	height   int
}

func New(title string, queue bool) Model {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(theme.Lavender).BorderForeground(theme.Lavender)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(theme.Sapphire).BorderForeground(theme.Lavender)

	l := list.New(nil, delegate, 0, 0)
	l.Title = title
	l.Styles.Title = theme.Title
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)

	vp := viewport.New(0, 0)
	vp.Style = lipgloss.NewStyle().
		Background(theme.Mantle).
		Foreground(theme.Text).
		Padding(1)

	r, _ := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(0),
	)

	return Model{
		queue:    queue,
		list:     l,
		preview:  vp,
		bar:      progress.New(progress.WithGradient(string(theme.Sapphire), string(theme.Green)), progress.WithWidth(24)),
		renderer: r,
	}
}

// SetSnapshot replaces the rows and keeps the cursor on the same study when it is still listed.
func (m *Model) SetSnapshot(snap dto.Snapshot) tea.Cmd {
	selected, hadSelection := m.SelectedStudyID()
	m.snap = snap

	rows := snap.Studies
	if m.queue {
		rows = snap.ReviewQueue
	} else if snap.Filter != "" {
		m.list.Title = "Studies · " + snap.Filter
	}
	items := make([]list.Item, len(rows))
	cursor := 0
	for i, study := range rows {
		items[i] = studyItem{study: study}
		if hadSelection && study.ID == selected {
			cursor = i
		}
	}
	cmd := m.list.SetItems(items)
	if len(items) > 0 {
		m.list.Select(cursor)
	}
	m.preview.SetContent(m.renderDetail())
	return cmd
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.preview.SetContent(m.renderDetail())
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "enter" && !m.Filtering() {
			if id, ok := m.SelectedStudyID(); ok {
				return m, func() tea.Msg { return OpenStudyMsg{ID: id} }
			}
			return m, nil
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	cmds = append(cmds, cmd)
	m.preview, cmd = m.preview.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	listW := m.width * 4 / 10
	detailW := m.width - listW

	listPane := lipgloss.NewStyle().
		Width(listW).
		Height(m.height).
		Render(m.list.View())

	detailPane := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.Surface1).
		Background(theme.Mantle).
		Width(detailW - 2).
		Height(m.height - 2).
		Render(m.preview.View())

	return lipgloss.JoinHorizontal(lipgloss.Top, listPane, detailPane)
}

func (m Model) SelectedStudyID() (uuid.UUID, bool) {
	if item, ok := m.list.SelectedItem().(studyItem); ok {
		return item.study.ID, true
	}
	return uuid.Nil, false
}

// OpenStudyID is the study whose detail is loaded, which palette commands act on.
func (m Model) OpenStudyID() (uuid.UUID, bool) {
	if m.snap.Detail == nil {
		return uuid.Nil, false
	}
	return m.snap.Detail.Study.ID, true
}

func (m Model) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// ─── private ─────────────────────────────────────────────────────────────────

func (m *Model) resize() {
	listW := m.width * 4 / 10
	detailW := m.width - listW
	m.list.SetSize(listW, m.height)
	m.preview.Width = detailW - 4
	m.preview.Height = m.height - 4
}

func (m Model) renderDetail() string {
	d := m.snap.Detail
	if d == nil {
		return theme.Muted.Render("enter: open the selected study")
	}
	s := d.Study
	var sb strings.Builder
	sb.WriteString(theme.Title.Render(s.ExamType) + "  " + statusBadge(s.Status) + "\n\n")
	sb.WriteString(theme.Muted.Render("id:        ") + s.ID.String() + "\n")
	sb.WriteString(theme.Muted.Render("created:   ") + s.CreatedAt.Local().Format(time.DateTime) + "\n")
	if s.SubmittedAt != nil {
		sb.WriteString(theme.Muted.Render("submitted: ") + s.SubmittedAt.Local().Format(time.DateTime) + "\n")
	}
	if s.Notes != nil && strings.TrimSpace(*s.Notes) != "" {
		sb.WriteString("\n" + theme.Title.Render("Notes") + "\n")
		sb.WriteString(m.renderNotes(*s.Notes))
	}

	sb.WriteString("\n" + theme.Title.Render(fmt.Sprintf("Media (%d)", len(d.Media))) + "\n")
	for _, media := range d.Media {
		sb.WriteString(fmt.Sprintf("  %s %s  %s\n", theme.Good.Render("●"), media.Kind, media.StoragePath))
	}
	for _, view := range m.snap.Uploads {
		if view.Task.StudyID != s.ID || view.Persisted {
			continue
		}
		sb.WriteString("  " + m.renderUpload(view.Task) + "\n")
	}

	if len(d.Feedback) > 0 {
		sb.WriteString("\n" + theme.Title.Render("Feedback") + "\n")
		for _, fb := range d.Feedback {
			line := "  " + fb.CreatedAt.Local().Format("Jan 2 15:04")
			if fb.Rating != nil {
				line += fmt.Sprintf("  %s", strings.Repeat("★", *fb.Rating))
			}
			if fb.Comments != nil {
				line += "  " + *fb.Comments
			}
			sb.WriteString(line + "\n")
		}
	}
	if d.Signoff != nil {
		sb.WriteString("\n" + theme.Muted.Render("sign-off:  ") + string(d.Signoff.Status) + "\n")
	}

	hints := []string{}
	if m.snap.CanSubmit && (s.Status == studydomain.StatusDraft || s.Status == studydomain.StatusNeedsRevision) {
		hints = append(hints, "study:submit")
	}
	if m.snap.CanReview {
		switch s.Status {
		case studydomain.StatusSubmitted, studydomain.StatusReviewable, studydomain.StatusNeedsRevision:
			hints = append(hints, "study:review")
		case studydomain.StatusApproved:
			hints = append(hints, "study:finalize")
		}
	}
	hints = append(hints, "upload <path>")
	sb.WriteString("\n" + theme.Muted.Render(": "+strings.Join(hints, "  ")))
	return sb.String()
}

func (m Model) renderNotes(notes string) string {
	if m.renderer == nil {
		return notes + "\n"
	}
	out, err := m.renderer.Render(notes)
	if err != nil {
		return notes + "\n"
	}
	return out
}

func (m Model) renderUpload(task uploaddomain.Task) string {
	switch task.Status {
	case uploaddomain.StatusFailed:
		return theme.Bad.Render("✕ ") + task.ObjectName + theme.Muted.Render("  "+task.Reason)
	case uploaddomain.StatusCompleted:
		return theme.Muted.Render("… saving ") + task.ObjectName
	default:
		return m.bar.ViewAs(task.Progress()) + "  " + theme.Muted.Render(string(task.Status))
	}
}

func statusBadge(status studydomain.Status) string {
	switch status {
	case studydomain.StatusApproved, studydomain.StatusSignedOff:
		return theme.Good.Render(string(status))
	case studydomain.StatusNeedsRevision:
		return theme.Bad.Render(string(status))
	case studydomain.StatusSubmitted, studydomain.StatusReviewable:
		return theme.Hot.Render(string(status))
	default:
		return theme.Muted.Render(string(status))
	}
}
