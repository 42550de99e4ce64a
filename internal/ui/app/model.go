package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"pocus/internal/modules/workspace/dto"
	"pocus/internal/ui/components"
	"pocus/internal/ui/theme"
	loginview "pocus/internal/ui/views/login"
	studiesview "pocus/internal/ui/views/studies"
	uploadsview "pocus/internal/ui/views/uploads"
)

// ─── ports ───────────────────────────────────────────────────────────────────

// workspacePort is the part of the workspace CLI handler the terminal UI drives.
type workspacePort interface {
	Bootstrap(ctx context.Context) (dto.Snapshot, error)
	RequestCode(ctx context.Context, email string) error
	VerifyCode(ctx context.Context, code string) (dto.Snapshot, error)
	SelectInstitution(ctx context.Context, ref string) (dto.Snapshot, error)
	SignOut(ctx context.Context) error
	ListStudies(ctx context.Context, filter string) (dto.Snapshot, error)
	CreateStudy(ctx context.Context, examType, notes string) (dto.Snapshot, error)
	ShowStudy(ctx context.Context, studyID string) (dto.Snapshot, error)
	SubmitStudy(ctx context.Context, studyID string) (dto.Snapshot, error)
	ReviewStudy(ctx context.Context, studyID, decision, rating, comments string) (dto.Snapshot, error)
	FinalizeStudy(ctx context.Context, studyID string) (dto.Snapshot, error)
	SaveNotes(ctx context.Context, studyID, notes string) (dto.Snapshot, error)
	Upload(ctx context.Context, studyID, path, contentType string) (uuid.UUID, error)
	CancelUpload(ctx context.Context, taskID string) error
	ResumeUploads(ctx context.Context) (int, error)
	Watch(ctx context.Context) <-chan dto.Snapshot
	CloseStudy()
	DismissBanner()
}

// ─── tab index ───────────────────────────────────────────────────────────────

type tabID int

const (
	tabStudies tabID = iota
	tabReview
	tabUploads
	tabCount
)

var tabLabels = [tabCount]string{
	"Studies", "Review", "Uploads",
}

// ─── async messages ───────────────────────────────────────────────────────────

type snapshotMsg struct{ snap dto.Snapshot }

type watchClosedMsg struct{}

// actionMsg reports the outcome of one workspace call. Resulting state
// arrives separately on the snapshot stream.
type actionMsg struct {
	status string
	err    error
}

// ─── key bindings ─────────────────────────────────────────────────────────────

type keyMap struct {
	Tab     key.Binding
	Help    key.Binding
	Palette key.Binding
	Quit    key.Binding
	Enter   key.Binding
	Submit  key.Binding
	Refresh key.Binding
	Dismiss key.Binding
	Close   key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Tab:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next tab")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Palette: key.NewBinding(key.WithKeys(":"), key.WithHelp(":", "palette")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
		Enter:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open study")),
		Submit:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "submit study")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Dismiss: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "dismiss banner")),
		Close:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close study")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Help, k.Palette, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.Enter, k.Close},
		{k.Submit, k.Refresh, k.Dismiss},
		{k.Help, k.Palette, k.Quit},
	}
}

// ─── model ───────────────────────────────────────────────────────────────────

// Model is the root Bubble Tea model. It renders whatever the workspace
// publishes and turns keys and palette commands into workspace calls.
type Model struct {
	ctx     context.Context
	port    workspacePort
	updates <-chan dto.Snapshot

	loginView   loginview.Model
	studiesView studiesview.Model
	reviewView  studiesview.Model
	uploadsView uploadsview.Model

	snap      dto.Snapshot
	activeTab tabID
	keys      keyMap
	help      help.Model
	showHelp  bool
	palette   components.Palette
	status    string
	width     int
	height    int
}

// ─── constructor ─────────────────────────────────────────────────────────────

func NewModel(ctx context.Context, port workspacePort) Model {
	return Model{
		ctx:         ctx,
		port:        port,
		updates:     port.Watch(ctx),
		loginView:   loginview.New(),
		studiesView: studiesview.New("Studies", false),
		reviewView:  studiesview.New("Review queue", true),
		uploadsView: uploadsview.New(),
		activeTab:   tabStudies,
		keys:        defaultKeys(),
		help:        help.New(),
		palette:     components.NewPalette(),
		status:      "restoring session",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForSnapshot(),
		m.call("session restored", func(ctx context.Context) error {
			_, err := m.port.Bootstrap(ctx)
			return err
		}),
	)
}

// ─── update ───────────────────────────────────────────────────────────────────

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	// The palette intercepts all input while open.
	if m.palette.Visible() {
		var cmd tea.Cmd
		m.palette, cmd = m.palette.Update(msg)
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.palette.SetWidth(min(m.width-4, 80))
		m.help.Width = m.width
		m.propagateSize()
		return m, nil

	case snapshotMsg:
		m.snap = msg.snap
		cmds = append(cmds,
			m.loginView.SetSnapshot(msg.snap),
			m.studiesView.SetSnapshot(msg.snap),
			m.reviewView.SetSnapshot(msg.snap),
		)
		m.uploadsView.SetSnapshot(msg.snap)
		m.learnCompletions()
		cmds = append(cmds, m.waitForSnapshot())
		return m, tea.Batch(cmds...)

	case watchClosedMsg:
		return m, tea.Quit

	case actionMsg:
		if msg.err != nil {
			m.status = msg.err.Error()
		} else if msg.status != "" {
			m.status = msg.status
		}
		return m, nil

	case loginview.EmailSubmittedMsg:
		m.status = "sending code to " + msg.Email
		return m, m.call("code sent", func(ctx context.Context) error {
			return m.port.RequestCode(ctx, msg.Email)
		})

	case loginview.CodeSubmittedMsg:
		m.status = "verifying code"
		return m, m.call("signed in", func(ctx context.Context) error {
			_, err := m.port.VerifyCode(ctx, msg.Code)
			return err
		})

	case loginview.InstitutionChosenMsg:
		return m, m.call("institution selected", func(ctx context.Context) error {
			_, err := m.port.SelectInstitution(ctx, msg.Ref)
			return err
		})

	case studiesview.OpenStudyMsg:
		return m, m.showStudy(msg.ID)

	case components.PaletteSubmitMsg:
		return m.executePalette(msg.Input)

	case components.PaletteCancelMsg:
		m.status = "ready"
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if !m.onDashboard() {
			var cmd tea.Cmd
			m.loginView, cmd = m.loginView.Update(msg)
			if !m.loginView.Capturing() && msg.String() == "q" {
				return m, tea.Quit
			}
			return m, cmd
		}

		if m.showHelp {
			if msg.String() == "?" || msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}

		// Yield to sub-view when its search filter is active.
		if m.subViewFiltering() {
			break
		}

		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "shift+tab":
			m.activeTab = (m.activeTab + tabCount - 1) % tabCount
			return m, nil
		case "?":
			m.showHelp = !m.showHelp
			return m, nil
		case ":":
			return m, m.palette.Open()
		case "d":
			m.port.DismissBanner()
			return m, nil
		case "esc":
			m.port.CloseStudy()
			return m, nil
		case "r":
			return m, m.refresh("")
		case "s":
			if id, ok := m.targetStudy(); ok {
				return m, m.call("study submitted", func(ctx context.Context) error {
					_, err := m.port.SubmitStudy(ctx, id.String())
					return err
				})
			}
			return m, nil
		}
	}

	if !m.onDashboard() {
		var cmd tea.Cmd
		m.loginView, cmd = m.loginView.Update(msg)
		return m, cmd
	}

	var tabCmd tea.Cmd
	switch m.activeTab {
	case tabStudies:
		m.studiesView, tabCmd = m.studiesView.Update(msg)
	case tabReview:
		m.reviewView, tabCmd = m.reviewView.Update(msg)
	case tabUploads:
		m.uploadsView, tabCmd = m.uploadsView.Update(msg)
	}
	cmds = append(cmds, tabCmd)

	return m, tea.Batch(cmds...)
}

// ─── view ────────────────────────────────────────────────────────────────────

func (m Model) View() string {
	if !m.onDashboard() {
		return lipgloss.JoinVertical(lipgloss.Left, m.loginView.View(), m.renderStatusBar())
	}

	tabBar := m.renderTabBar()
	statusBar := m.renderStatusBar()
	tabBarH := lipgloss.Height(tabBar)
	statusBarH := lipgloss.Height(statusBar)

	contentH := m.height - tabBarH - statusBarH
	if contentH < 1 {
		contentH = 1
	}

	var content string
	switch {
	case m.showHelp:
		content = lipgloss.NewStyle().Width(m.width).Height(contentH).
			Render(m.help.View(m.keys))
	case m.palette.Visible():
		content = lipgloss.Place(m.width, contentH,
			lipgloss.Center, lipgloss.Center, m.palette.View())
	default:
		content = m.activeView()
	}

	return lipgloss.JoinVertical(lipgloss.Left, tabBar, content, statusBar)
}

func (m Model) activeView() string {
	switch m.activeTab {
	case tabStudies:
		return m.studiesView.View()
	case tabReview:
		return m.reviewView.View()
	case tabUploads:
		return m.uploadsView.View()
	}
	return ""
}

func (m Model) renderTabBar() string {
	parts := make([]string, tabCount)
	for i := tabID(0); i < tabCount; i++ {
		label := tabLabels[i]
		switch i {
		case tabReview:
			label = fmt.Sprintf("%s (%d)", label, len(m.snap.ReviewQueue))
		case tabUploads:
			label = fmt.Sprintf("%s (%d)", label, m.activeUploads())
		}
		if i == m.activeTab {
			parts[i] = theme.Hot.Render(" " + label + " ")
		} else {
			parts[i] = theme.Muted.Render(" " + label + " ")
		}
	}
	sep := theme.Muted.Render(" │ ")
	bar := "pocus  " + strings.Join(parts, sep)
	if m.snap.Membership != nil {
		who := fmt.Sprintf("%s · %s · %s", m.snap.Email, m.snap.Membership.Institution.Name, m.snap.Membership.Role)
		bar += "    " + theme.Muted.Render(who)
	}
	if metrics := m.snap.Metrics; metrics != nil {
		bar += "    " + theme.Muted.Render(fmt.Sprintf("%d awaiting · %d reviewed · %.0f%% accepted",
			metrics.AwaitingReview, metrics.Reviewed, metrics.AcceptanceRate*100))
	}
	return lipgloss.NewStyle().Background(theme.Mantle).Width(m.width).Render(bar) + "\n"
}

func (m Model) renderStatusBar() string {
	left := m.status
	if m.snap.Banner != "" {
		left = theme.Banner.Render(m.snap.Banner) + "  " + theme.Muted.Render("d:dismiss")
	}
	right := theme.Muted.Render("?:help  tab:switch  :::palette  q:quit")
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	bar := left + strings.Repeat(" ", gap) + right
	return "\n" + lipgloss.NewStyle().Background(theme.Mantle).Width(m.width).Render(bar)
}

// ─── palette execution ────────────────────────────────────────────────────────

func (m Model) executePalette(input string) (tea.Model, tea.Cmd) {
	if strings.TrimSpace(input) == "" {
		return m, nil
	}
	parts := strings.Fields(input)
	rest := func(n int) string {
		if len(parts) <= n {
			return ""
		}
		return strings.Join(parts[n:], " ")
	}

	switch parts[0] {
	case "filter":
		if len(parts) < 2 {
			m.status = "usage: filter <drafts|queue|reviewable|completed|all>"
			return m, nil
		}
		m.activeTab = tabStudies
		return m, m.refresh(parts[1])

	case "refresh":
		return m, m.refresh("")

	case "study:new":
		if len(parts) < 2 {
			m.status = "usage: study:new <exam type> [notes]"
			return m, nil
		}
		exam, notes := parts[1], rest(2)
		m.activeTab = tabStudies
		return m, m.call("study created", func(ctx context.Context) error {
			_, err := m.port.CreateStudy(ctx, exam, notes)
			return err
		})

	case "study:submit":
		id, ok := m.requireStudy()
		if !ok {
			return m, nil
		}
		return m, m.call("study submitted", func(ctx context.Context) error {
			_, err := m.port.SubmitStudy(ctx, id.String())
			return err
		})

	case "study:review":
		if len(parts) < 2 {
			m.status = "usage: study:review <approve|revise> [rating] [comments]"
			return m, nil
		}
		id, ok := m.requireStudy()
		if !ok {
			return m, nil
		}
		decision, rating, comments := parts[1], "", rest(2)
		if len(parts) >= 3 {
			if _, err := strconv.Atoi(parts[2]); err == nil {
				rating, comments = parts[2], rest(3)
			}
		}
		return m, m.call("review recorded", func(ctx context.Context) error {
			_, err := m.port.ReviewStudy(ctx, id.String(), decision, rating, comments)
			return err
		})

	case "study:finalize":
		id, ok := m.requireStudy()
		if !ok {
			return m, nil
		}
		return m, m.call("study signed off", func(ctx context.Context) error {
			_, err := m.port.FinalizeStudy(ctx, id.String())
			return err
		})

	case "study:notes":
		id, ok := m.requireStudy()
		if !ok {
			return m, nil
		}
		notes := rest(1)
		return m, m.call("notes saved", func(ctx context.Context) error {
			_, err := m.port.SaveNotes(ctx, id.String(), notes)
			return err
		})

	case "upload":
		if len(parts) < 2 {
			m.status = "usage: upload <path> [content-type]"
			return m, nil
		}
		id, ok := m.requireStudy()
		if !ok {
			return m, nil
		}
		path, contentType := parts[1], rest(2)
		return m, func() tea.Msg {
			taskID, err := m.port.Upload(m.ctx, id.String(), path, contentType)
			if err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{status: "upload queued " + taskID.String()[:8]}
		}

	case "upload:cancel":
		if len(parts) < 2 {
			m.status = "usage: upload:cancel <task id>"
			return m, nil
		}
		taskID := m.expandTaskID(parts[1])
		return m, m.call("upload cancelled", func(ctx context.Context) error {
			return m.port.CancelUpload(ctx, taskID)
		})

	case "uploads:resume":
		m.activeTab = tabUploads
		return m, func() tea.Msg {
			n, err := m.port.ResumeUploads(m.ctx)
			if err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{status: fmt.Sprintf("resumed %d uploads", n)}
		}

	case "institution":
		if len(parts) < 2 {
			m.status = "usage: institution <slug>"
			return m, nil
		}
		ref := parts[1]
		return m, m.call("institution selected", func(ctx context.Context) error {
			_, err := m.port.SelectInstitution(ctx, ref)
			return err
		})

	case "signout":
		return m, m.call("signed out", m.port.SignOut)

	default:
		m.status = "unknown command: " + parts[0]
	}
	return m, nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (m Model) onDashboard() bool {
	return m.snap.Phase == "dashboard"
}

// targetStudy is the open study, or the highlighted row when none is open.
func (m Model) targetStudy() (uuid.UUID, bool) {
	if id, ok := m.studiesView.OpenStudyID(); ok {
		return id, true
	}
	switch m.activeTab {
	case tabStudies:
		return m.studiesView.SelectedStudyID()
	case tabReview:
		return m.reviewView.SelectedStudyID()
	}
	return uuid.Nil, false
}

func (m *Model) requireStudy() (uuid.UUID, bool) {
	id, ok := m.targetStudy()
	if !ok {
		m.status = "no study selected"
	}
	return id, ok
}

// expandTaskID lets the short prefix shown in the uploads tab stand for the full id.
func (m Model) expandTaskID(prefix string) string {
	for _, view := range m.snap.Uploads {
		if strings.HasPrefix(view.Task.ID.String(), prefix) {
			return view.Task.ID.String()
		}
	}
	return prefix
}

// learnCompletions feeds running task ids and institution slugs to the palette.
func (m *Model) learnCompletions() {
	tasks := []string{}
	for _, view := range m.snap.Uploads {
		if !view.Persisted && !view.Task.Status.Terminal() {
			tasks = append(tasks, view.Task.ID.String()[:8])
		}
	}
	m.palette.SetValues("upload:cancel", tasks)
	slugs := []string{}
	for _, membership := range m.snap.Memberships {
		slugs = append(slugs, membership.Institution.Slug)
	}
	m.palette.SetValues("institution", slugs)
}

func (m Model) activeUploads() int {
	n := 0
	for _, view := range m.snap.Uploads {
		if !view.Persisted && !view.Task.Status.Terminal() {
			n++
		}
	}
	return n
}

// subViewFiltering reports whether the active tab's list filter is open,
// in which case global key bindings must yield to allow free typing.
func (m Model) subViewFiltering() bool {
	switch m.activeTab {
	case tabStudies:
		return m.studiesView.Filtering()
	case tabReview:
		return m.reviewView.Filtering()
	}
	return false
}

func (m *Model) propagateSize() {
	sz := tea.WindowSizeMsg{Width: m.width, Height: m.height - 3}
	m.loginView, _ = m.loginView.Update(sz)
	m.studiesView, _ = m.studiesView.Update(sz)
	m.reviewView, _ = m.reviewView.Update(sz)
	m.uploadsView, _ = m.uploadsView.Update(sz)
}

// ─── async commands ───────────────────────────────────────────────────────────

func (m Model) waitForSnapshot() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return watchClosedMsg{}
		}
		return snapshotMsg{snap: snap}
	}
}

func (m Model) call(done string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{status: done}
	}
}

func (m Model) refresh(filter string) tea.Cmd {
	return m.call("studies refreshed", func(ctx context.Context) error {
		_, err := m.port.ListStudies(ctx, filter)
		return err
	})
}

func (m Model) showStudy(id uuid.UUID) tea.Cmd {
	return m.call("", func(ctx context.Context) error {
		_, err := m.port.ShowStudy(ctx, id.String())
		return err
	})
}
