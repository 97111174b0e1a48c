// Package cmd implements the synctray command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/cli"
	"github.com/grovetools/synctray/pkg/profiling"
)

// NewRootCmd assembles the synctray command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand("synctray", "Keep an eye on Syncthing from the tray and the terminal")
	root.Long = `synctray follows a Syncthing daemon through its event feed, keeps a
consistent view of devices, folders and transfers, and raises notifications
when something needs attention. The engine runs in the background
('synctray daemon start'); the other commands talk to it over a local socket.

Examples:
  # Start the engine in the foreground
  synctray daemon start

  # Show devices, folders and the connection state
  synctray status

  # Pause one device, then everything
  synctray pause --device 7QKKXHU
  synctray pause`
	cli.SetVersionTemplate(root)
	profiling.NewCobraProfiler().Attach(root)

	root.AddCommand(
		NewDaemonCmd(),
		NewStatusCmd(),
		NewWatchCmd(),
		NewPauseCmd(),
		NewResumeCmd(),
		NewRescanCmd(),
		NewRestartCmd(),
		NewNotificationsCmd(),
		NewProfilesCmd(),
		NewLauncherCmd(),
		NewLogsCmd(),
		NewConfigCmd(),
		NewSchemaCmd(),
		NewPathsCmd(),
		cli.NewVersionCommand("synctray"),
	)
	return root
}

// printJSON writes v as indented JSON to the command output.
func printJSON(cmd *cobra.Command, v interface{}) error {
	return writeJSON(cmd.OutOrStdout(), v)
}
