package cli

import "github.com/charmbracelet/lipgloss"

// Colors is the palette used by command output.
type Colors struct {
	Green  lipgloss.AdaptiveColor
	Yellow lipgloss.AdaptiveColor
	Red    lipgloss.AdaptiveColor
	Orange lipgloss.AdaptiveColor
	Cyan   lipgloss.AdaptiveColor
	Blue   lipgloss.AdaptiveColor
	Violet lipgloss.AdaptiveColor
	Muted  lipgloss.AdaptiveColor
}

// Theme holds the styles shared by help, errors and status output.
type Theme struct {
	Colors Colors

	Bold    lipgloss.Style
	Italic  lipgloss.Style
	Muted   lipgloss.Style
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Accent  lipgloss.Style
}

// Kanagawa palette, dark and light variants.
var kanagawa = Colors{
	Green:  lipgloss.AdaptiveColor{Dark: "#98BB6C", Light: "#4E7C5A"},
	Yellow: lipgloss.AdaptiveColor{Dark: "#FF9E3B", Light: "#A68A64"},
	Red:    lipgloss.AdaptiveColor{Dark: "#FF5D62", Light: "#C34043"},
	Orange: lipgloss.AdaptiveColor{Dark: "#FFA066", Light: "#CC6B4E"},
	Cyan:   lipgloss.AdaptiveColor{Dark: "#7E9CD8", Light: "#5B8BBE"},
	Blue:   lipgloss.AdaptiveColor{Dark: "#7FB4CA", Light: "#4F7CAC"},
	Violet: lipgloss.AdaptiveColor{Dark: "#957FB8", Light: "#674D7A"},
	Muted:  lipgloss.AdaptiveColor{Dark: "#727169", Light: "#6C7086"},
}

// DefaultTheme is the theme used by all commands.
var DefaultTheme = newTheme(kanagawa)

func newTheme(c Colors) *Theme {
	return &Theme{
		Colors:  c,
		Bold:    lipgloss.NewStyle().Bold(true),
		Italic:  lipgloss.NewStyle().Italic(true),
		Muted:   lipgloss.NewStyle().Foreground(c.Muted),
		Header:  lipgloss.NewStyle().Bold(true).Foreground(c.Orange),
		Success: lipgloss.NewStyle().Foreground(c.Green),
		Warning: lipgloss.NewStyle().Foreground(c.Yellow),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(c.Red),
		Accent:  lipgloss.NewStyle().Foreground(c.Blue),
	}
}
