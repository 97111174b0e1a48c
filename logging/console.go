package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// labelWidth aligns the values of Field and Path lines.
const labelWidth = 9

// Console prints the short results of CLI commands. Diagnostics go through
// NewLogger; Console output is what the user asked for.
type Console struct {
	w      io.Writer
	styles ConsoleStyles
}

// ConsoleStyles colors the parts of a Console line.
type ConsoleStyles struct {
	Success lipgloss.Style
	Info    lipgloss.Style
	Warning lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Path    lipgloss.Style
}

// DefaultConsoleStyles uses the terminal's own palette.
func DefaultConsoleStyles() ConsoleStyles {
	return ConsoleStyles{
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Value:   lipgloss.NewStyle().Bold(true),
		Path:    lipgloss.NewStyle().Italic(true),
	}
}

// NewConsole writes to w with the default styles.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w, styles: DefaultConsoleStyles()}
}

// WithStyles replaces the styles.
func (c *Console) WithStyles(s ConsoleStyles) *Console {
	c.styles = s
	return c
}

// Success prints a confirmation line.
func (c *Console) Success(format string, args ...interface{}) {
	c.line(c.styles.Success, "✓", fmt.Sprintf(format, args...))
}

// Info prints a neutral line.
func (c *Console) Info(format string, args ...interface{}) {
	c.line(c.styles.Info, "•", fmt.Sprintf(format, args...))
}

// Warn prints a line about something the user may want to act on.
func (c *Console) Warn(format string, args ...interface{}) {
	c.line(c.styles.Warning, "!", fmt.Sprintf(format, args...))
}

func (c *Console) line(style lipgloss.Style, mark, msg string) {
	fmt.Fprintf(c.w, "%s %s\n", style.Render(mark), style.Render(msg))
}

// Field prints an indented label and value under a result line.
func (c *Console) Field(label string, value interface{}) {
	c.pair(label, c.styles.Value.Render(fmt.Sprint(value)))
}

// Path prints an indented label and file path.
func (c *Console) Path(label, path string) {
	c.pair(label, c.styles.Path.Render(path))
}

func (c *Console) pair(label, rendered string) {
	pad := labelWidth - len(label)
	if pad < 1 {
		pad = 1
	}
	fmt.Fprintf(c.w, "  %s%s%s\n", c.styles.Label.Render(label+":"), strings.Repeat(" ", pad), rendered)
}
