package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/cli"
	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/internal/daemon/launcher"
	"github.com/grovetools/synctray/pkg/client"
	"github.com/grovetools/synctray/pkg/models"
)

// NewLauncherCmd groups the commands controlling the launched Syncthing.
func NewLauncherCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launcher",
		Short: "Control the locally launched Syncthing",
		Long: `synctrayd can run Syncthing as a child process when launcher.enabled is
set. These commands start, stop and inspect that process.`,
	}
	cmd.AddCommand(newLauncherActionCmd("status", "Show the launcher state", client.Client.Launcher))
	cmd.AddCommand(newLauncherActionCmd("start", "Start the daemon process", client.Client.StartLauncher))
	cmd.AddCommand(newLauncherActionCmd("stop", "Stop the daemon process", client.Client.StopLauncher))
	cmd.AddCommand(newLauncherLogsCmd())
	return cmd
}

type launcherAction func(c client.Client, ctx context.Context) (models.LauncherInfo, error)

func newLauncherActionCmd(use, short string, action launcherAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cli.Connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			info, err := action(c, cmd.Context())
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd, info)
			}
			cli.RenderLauncher(cmd.OutOrStdout(), info)
			return nil
		},
	}
}

func newLauncherLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the output of the launched daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := launcherLogFile(cmd)
			if err != nil {
				return err
			}
			lines, _ := cmd.Flags().GetInt("lines")
			follow, _ := cmd.Flags().GetBool("follow")

			out := cmd.OutOrStdout()
			if err := launcher.Tail(path, lines, out); err != nil {
				// following waits for the first launch to create the file
				if !follow || !errors.Is(err, errors.ErrCodeLauncher) {
					return err
				}
			}
			if !follow {
				return nil
			}
			return launcher.Follow(cmd.Context(), path, out)
		},
	}
	cmd.Flags().IntP("lines", "n", 50, "Number of lines to show from the end of the log")
	cmd.Flags().BoolP("follow", "f", false, "Keep printing new output")
	return cmd
}

// launcherLogFile asks the engine for the log path and falls back to the configuration.
func launcherLogFile(cmd *cobra.Command) (string, error) {
	if c, err := cli.Connect(cmd); err == nil {
		defer c.Close()
		if info, err := c.Launcher(cmd.Context()); err == nil && info.LogFile != "" {
			return info.LogFile, nil
		}
	}
	cfg, _, err := cli.LoadConfig(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Launcher.LogFile == "" {
		return "", fmt.Errorf("no launcher log file configured")
	}
	return cfg.Launcher.LogFile, nil
}
