package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/cli"
	"github.com/grovetools/synctray/logging"
)

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// pretty returns a console printer bound to the command output.
func pretty(cmd *cobra.Command) *logging.Console {
	t := cli.DefaultTheme
	return logging.NewConsole(cmd.OutOrStdout()).WithStyles(logging.ConsoleStyles{
		Success: t.Success,
		Info:    t.Accent,
		Warning: t.Warning,
		Label:   t.Muted,
		Value:   t.Bold,
		Path:    t.Italic,
	})
}
