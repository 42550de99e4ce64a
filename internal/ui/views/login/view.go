package login

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	memberdomain "pocus/internal/modules/membership/domain"
	"pocus/internal/modules/workspace/dto"
	"pocus/internal/ui/theme"
)

// ─── messages ────────────────────────────────────────────────────────────────

type EmailSubmittedMsg struct{ Email string }

type CodeSubmittedMsg struct{ Code string }

type InstitutionChosenMsg struct{ Ref string }

// ─── list item ───────────────────────────────────────────────────────────────

type institutionItem struct {
	membership memberdomain.Membership
}

func (i institutionItem) Title() string       { return i.membership.Institution.Name }
func (i institutionItem) Description() string { return fmt.Sprintf("%s  %s", i.membership.Institution.Slug, i.membership.Role) }
func (i institutionItem) FilterValue() string { return i.membership.Institution.Name }

// ─── model ───────────────────────────────────────────────────────────────────

// Model covers every phase before the dashboard: email, code and institution choice.
type Model struct {
	phase        string
	email        string
	input        textinput.Model
	institutions list.Model
	width        int
	height       int
}

func New() Model {
	ti := textinput.New()
	ti.CharLimit = 254
	ti.Width = 40

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.Foreground(theme.Lavender).BorderForeground(theme.Lavender)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.Foreground(theme.Sapphire).BorderForeground(theme.Lavender)
	l := list.New(nil, delegate, 0, 0)
	l.Title = "Choose an institution"
	l.Styles.Title = theme.Title
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)

	m := Model{input: ti, institutions: l}
	m.setPhase("login")
	return m
}

// SetSnapshot follows the workspace phase. The input is reset only when the phase changes.
func (m *Model) SetSnapshot(snap dto.Snapshot) tea.Cmd {
	m.email = snap.Email
	if snap.Phase == "selecting_institution" {
		items := make([]list.Item, len(snap.Memberships))
		for i, membership := range snap.Memberships {
			items[i] = institutionItem{membership: membership}
		}
		m.institutions.SetItems(items)
	}
	if snap.Phase == m.phase {
		return nil
	}
	return m.setPhase(snap.Phase)
}

func (m *Model) setPhase(phase string) tea.Cmd {
	m.phase = phase
	m.input.SetValue("")
	switch phase {
	case "login":
		m.input.Placeholder = "you@hospital.org"
		m.input.EchoMode = textinput.EchoNormal
		return m.input.Focus()
	case "code_entry":
		m.input.Placeholder = "6-digit code"
		m.input.EchoMode = textinput.EchoNormal
		return m.input.Focus()
	default:
		m.input.Blur()
		return nil
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.institutions.SetSize(min(msg.Width, 60), msg.Height-4)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "enter" {
			return m, m.submit()
		}
	}

	var cmd tea.Cmd
	if m.phase == "selecting_institution" {
		m.institutions, cmd = m.institutions.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m Model) submit() tea.Cmd {
	value := strings.TrimSpace(m.input.Value())
	switch m.phase {
	case "login":
		if value == "" {
			return nil
		}
		return func() tea.Msg { return EmailSubmittedMsg{Email: value} }
	case "code_entry":
		if value == "" {
			return nil
		}
		return func() tea.Msg { return CodeSubmittedMsg{Code: value} }
	case "selecting_institution":
		item, ok := m.institutions.SelectedItem().(institutionItem)
		if !ok {
			return nil
		}
		ref := item.membership.InstitutionID.String()
		return func() tea.Msg { return InstitutionChosenMsg{Ref: ref} }
	}
	return nil
}

func (m Model) View() string {
	var body string
	switch m.phase {
	case "login":
		body = theme.Title.Render("Sign in") + "\n\n" +
			theme.Muted.Render("We will email you a one-time code.") + "\n\n" +
			m.input.View()
	case "code_entry":
		body = theme.Title.Render("Enter your code") + "\n\n" +
			theme.Muted.Render("Sent to "+m.email) + "\n\n" +
			m.input.View()
	case "selecting_institution":
		body = m.institutions.View()
	default:
		body = theme.Muted.Render("Restoring session…")
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, theme.Pane.Render(body))
}

// Capturing reports whether the view consumes free text, so global keys must yield.
func (m Model) Capturing() bool {
	return m.phase == "login" || m.phase == "code_entry"
}
