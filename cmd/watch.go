package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/cli"
	"github.com/grovetools/synctray/pkg/models"
)

// NewWatchCmd follows the live stream of synctrayd.
func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow snapshot and notification updates",
		Long: `Print one line per update pushed by synctrayd until interrupted.
With --json every message is written as a JSON line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cli.Connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			messages, err := c.Stream(cmd.Context())
			if err != nil {
				return err
			}
			jsonOutput := cli.GetOptions(cmd).JSONOutput
			out := cmd.OutOrStdout()
			for msg := range messages {
				if jsonOutput {
					data, err := json.Marshal(msg)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(data))
					continue
				}
				printStreamMessage(out, msg)
			}
			return nil
		},
	}
}

func printStreamMessage(w io.Writer, msg models.StreamMessage) {
	t := cli.DefaultTheme
	now := t.Muted.Render(time.Now().Format(time.TimeOnly))
	switch msg.Kind {
	case models.StreamSnapshot:
		if msg.Snapshot == nil {
			return
		}
		s := msg.Snapshot
		paused := ""
		if s.AggregatePaused {
			paused = t.Warning.Render(" paused")
		}
		fmt.Fprintf(w, "%s v%d %-8s %s %s devices %d/%d folders %d%s\n",
			now, msg.Version, msg.Source, s.Session.ProfileID, s.Session.State,
			s.ConnectedDevices(), len(s.Devices), len(s.Folders), paused)
	case models.StreamNotification:
		if msg.Notification == nil {
			return
		}
		fmt.Fprintf(w, "%s %s %s\n", now, t.Accent.Render(string(msg.Notification.Kind)), msg.Notification.Text)
	}
}
