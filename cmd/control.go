package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/cli"
	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/pkg/models"
)

// NewPauseCmd pauses everything, one device or one folder.
func NewPauseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause synchronisation",
		Long: `Pause every device and folder, or only the one named by --device or --folder.

Examples:
  synctray pause
  synctray pause --device 7QKKXHU
  synctray pause --folder docs`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, targetCommand(cmd, models.CmdPauseAll, models.CmdPauseDevice, models.CmdPauseFolder))
		},
	}
	addTargetFlags(cmd)
	return cmd
}

// NewResumeCmd resumes everything, one device or one folder.
func NewResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume synchronisation",
		Long:  "Resume every device and folder, or only the one named by --device or --folder.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, targetCommand(cmd, models.CmdResumeAll, models.CmdResumeDevice, models.CmdResumeFolder))
		},
	}
	addTargetFlags(cmd)
	return cmd
}

// NewRescanCmd asks the daemon to rescan folders.
func NewRescanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rescan",
		Short: "Rescan all folders or one folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			folder, _ := cmd.Flags().GetString("folder")
			if folder != "" {
				return submit(cmd, models.Command{Kind: models.CmdRescanFolder, Target: folder})
			}
			return submit(cmd, models.Command{Kind: models.CmdRescanAll})
		},
	}
	cmd.Flags().String("folder", "", "Folder id to rescan")
	return cmd
}

// NewRestartCmd restarts the connected daemon.
func NewRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the connected Syncthing daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(cmd, models.Command{Kind: models.CmdRestart})
		},
	}
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().String("device", "", "Device id (a unique prefix is enough)")
	cmd.Flags().String("folder", "", "Folder id")
	cmd.MarkFlagsMutuallyExclusive("device", "folder")
}

func targetCommand(cmd *cobra.Command, all, device, folder models.CommandKind) models.Command {
	if id, _ := cmd.Flags().GetString("device"); id != "" {
		return models.Command{Kind: device, Target: id}
	}
	if id, _ := cmd.Flags().GetString("folder"); id != "" {
		return models.Command{Kind: folder, Target: id}
	}
	return models.Command{Kind: all}
}

func submit(cmd *cobra.Command, command models.Command) error {
	c, err := cli.Connect(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Submit(cmd.Context(), command)
	if err != nil {
		return err
	}
	if !result.Accepted {
		return errors.New(errors.ErrorCode(result.Code), result.Error)
	}

	if cli.GetOptions(cmd).JSONOutput {
		return printJSON(cmd, result)
	}
	msg := string(command.Kind)
	if command.Target != "" {
		msg = fmt.Sprintf("%s %s", command.Kind, command.Target)
	}
	pretty(cmd).Success("Sent %s", msg)
	return nil
}
