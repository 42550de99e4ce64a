package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pocus/internal/ui/theme"
)

// PaletteSubmitMsg is emitted when the user confirms a command.
type PaletteSubmitMsg struct{ Input string }

// PaletteCancelMsg is emitted when the user presses esc.
type PaletteCancelMsg struct{}

var (
	paletteStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(theme.Peach).
			Background(theme.Mantle).
			Foreground(theme.Text).
			Padding(0, 1)

	hintStyle = lipgloss.NewStyle().Foreground(theme.Subtext0)
)

const maxSuggestions = 5

// command describes one palette verb. values completes its first argument.
type command struct {
	name   string
	usage  string
	values []string
}

// commands must stay in sync with the switch in app/model.go executePalette.
var commands = []command{
	{name: "filter", usage: "<drafts|queue|reviewable|completed|all>", values: []string{"drafts", "queue", "reviewable", "completed", "all"}},
	{name: "study:new", usage: "<exam type> [notes]", values: []string{"Cardiac", "IVC", "Lung", "Pleural", "Renal", "Bladder", "Aorta", "DVT", "FAST"}},
	{name: "study:submit"},
	{name: "study:review", usage: "<approve|revise> [rating] [comments]", values: []string{"approve", "revise"}},
	{name: "study:finalize"},
	{name: "study:notes", usage: "<text>"},
	{name: "upload", usage: "<path> [content-type]"},
	{name: "upload:cancel", usage: "<task id>"},
	{name: "uploads:resume"},
	{name: "institution", usage: "<slug>"},
	{name: "refresh"},
	{name: "signout"},
}

// Palette is a command-palette overlay backed by bubbles/textinput.
type Palette struct {
	input   textinput.Model
	visible bool
	width   int
	// values holds argument completions learned at runtime, by command name.
	values map[string][]string
}

// NewPalette creates an inactive Palette ready to be opened.
func NewPalette() Palette {
	ti := textinput.New()
	ti.Placeholder = "type a command…"
	ti.CharLimit = 256
	return Palette{input: ti}
}

// Visible reports whether the palette is currently shown.
func (p Palette) Visible() bool { return p.visible }

// Open shows the palette, clears the input, and returns the focus command.
func (p *Palette) Open() tea.Cmd {
	p.visible = true
	p.input.SetValue("")
	return p.input.Focus()
}

// SetWidth sets the render width for the overlay.
func (p *Palette) SetWidth(w int) { p.width = w }

// SetValues replaces the runtime completions for a command's first argument,
// such as the task ids of running uploads.
func (p *Palette) SetValues(name string, values []string) {
	if p.values == nil {
		p.values = map[string][]string{}
	}
	p.values[name] = values
}

// Suggestions lists what the current input can complete to: command lines
// while the verb is typed, argument values once it is.
func (p Palette) Suggestions() []string {
	input := strings.TrimLeft(p.input.Value(), " ")
	name, arg, hasArg := strings.Cut(input, " ")
	name = strings.ToLower(name)
	var out []string
	if !hasArg {
		for _, c := range commands {
			if strings.HasPrefix(c.name, name) {
				out = append(out, strings.TrimSpace(c.name+" "+c.usage))
			}
			if len(out) == maxSuggestions {
				break
			}
		}
		return out
	}
	if strings.Contains(arg, " ") {
		return nil
	}
	for _, c := range commands {
		if c.name != name {
			continue
		}
		for _, v := range append(append([]string{}, c.values...), p.values[name]...) {
			if strings.HasPrefix(strings.ToLower(v), strings.ToLower(arg)) {
				out = append(out, c.name+" "+v)
			}
			if len(out) == maxSuggestions {
				break
			}
		}
	}
	return out
}

// complete fills in the input when exactly one suggestion matches.
func (p *Palette) complete() {
	matches := p.Suggestions()
	if len(matches) != 1 {
		return
	}
	line := matches[0]
	// Drop the usage text of a command suggestion.
	if c, ok := lookup(strings.Fields(line)[0]); ok && c.usage != "" && strings.HasSuffix(line, c.usage) {
		line = strings.TrimSuffix(line, c.usage)
	}
	p.input.SetValue(strings.TrimSpace(line) + " ")
	p.input.CursorEnd()
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func (p Palette) Update(msg tea.Msg) (Palette, tea.Cmd) {
	if !p.visible {
		return p, nil
	}
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			p.visible = false
			p.input.Blur()
			return p, func() tea.Msg { return PaletteCancelMsg{} }
		case "tab":
			p.complete()
			return p, nil
		case "enter":
			val := strings.TrimSpace(p.input.Value())
			p.visible = false
			p.input.Blur()
			return p, func() tea.Msg { return PaletteSubmitMsg{Input: val} }
		}
	}
	var cmd tea.Cmd
	p.input, cmd = p.input.Update(msg)
	return p, cmd
}

func (p Palette) View() string {
	if !p.visible {
		return ""
	}
	matching := p.Suggestions()

	var sb strings.Builder
	sb.WriteString(theme.Title.Render("Command Palette") + hintStyle.Render("  tab completes") + "\n")
	sb.WriteString(": " + p.input.View() + "\n")
	if len(matching) > 0 {
		sb.WriteString("\n")
		for _, h := range matching {
			sb.WriteString(hintStyle.Render("  "+h) + "\n")
		}
	}

	w := p.width
	if w < 20 {
		w = 64
	}
	return paletteStyle.Width(w - 2).Render(sb.String())
}
