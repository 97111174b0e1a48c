package cmd

import (
	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/cli"
)

// NewStatusCmd prints the current snapshot.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the connection, devices and folders",
		Long: `Show the snapshot synctrayd currently publishes: the selected profile and
its connection state, every device and folder, transfers in progress and the
latest file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cli.Connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			snap, err := c.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd, snap)
			}
			cli.RenderStatus(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}
