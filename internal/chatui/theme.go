package chatui

import "github.com/charmbracelet/lipgloss"

// Palette holds the ANSI-256 color codes of a theme.
type Palette struct {
	Foreground string
	Muted      string
	Accent     string
	Border     string
	Own        string
	Other      string
	System     string
	Badge      string
	Selected   string
}

// Palettes lists the available themes by name.
var Palettes = map[string]Palette{
	"default": {
		Foreground: "252",
		Muted:      "245",
		Accent:     "75",
		Border:     "240",
		Own:        "81",
		Other:      "147",
		System:     "214",
		Badge:      "203",
		Selected:   "75",
	},
	"high-contrast": {
		Foreground: "231",
		Muted:      "250",
		Accent:     "51",
		Border:     "231",
		Own:        "87",
		Other:      "225",
		System:     "229",
		Badge:      "196",
		Selected:   "51",
	},
}

// Theme is the set of styles the view renders with.
type Theme struct {
	Name      string
	Text      lipgloss.Style
	Muted     lipgloss.Style
	Header    lipgloss.Style
	Own       lipgloss.Style
	Other     lipgloss.Style
	System    lipgloss.Style
	Badge     lipgloss.Style
	Selected  lipgloss.Style
	Pane      lipgloss.Style
	FocusPane lipgloss.Style
}

// ThemeFor builds the named theme, falling back to the default palette.
func ThemeFor(name string) Theme {
	p, ok := Palettes[name]
	if !ok {
		name = "default"
		p = Palettes[name]
	}
	color := func(code string) lipgloss.Color { return lipgloss.Color(code) }
	pane := lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(color(p.Border))
	return Theme{
		Name:      name,
		Text:      lipgloss.NewStyle().Foreground(color(p.Foreground)),
		Muted:     lipgloss.NewStyle().Foreground(color(p.Muted)),
		Header:    lipgloss.NewStyle().Foreground(color(p.Accent)).Bold(true),
		Own:       lipgloss.NewStyle().Foreground(color(p.Own)).Bold(true),
		Other:     lipgloss.NewStyle().Foreground(color(p.Other)).Bold(true),
		System:    lipgloss.NewStyle().Foreground(color(p.System)).Italic(true),
		Badge:     lipgloss.NewStyle().Foreground(color(p.Badge)).Bold(true),
		Selected:  lipgloss.NewStyle().Foreground(color(p.Selected)).Bold(true),
		Pane:      pane,
		FocusPane: pane.BorderForeground(color(p.Accent)),
	}
}
