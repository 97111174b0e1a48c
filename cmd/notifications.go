package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/cli"
	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/pkg/client"
	"github.com/grovetools/synctray/pkg/models"
)

// NewNotificationsCmd groups the notification feed commands.
func NewNotificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notif"},
		Short:   "List and acknowledge notifications",
		Long: `List the notification feed and mark entries as seen or dismiss them.
Notification ids may be abbreviated to any unique prefix.`,
	}
	cmd.AddCommand(newNotificationsListCmd())
	cmd.AddCommand(newNotificationsSeenCmd())
	cmd.AddCommand(newNotificationsDismissCmd())
	return cmd
}

func newNotificationsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List notifications, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cli.Connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			list, err := c.Notifications(cmd.Context())
			if err != nil {
				return err
			}
			if unseen, _ := cmd.Flags().GetBool("unseen"); unseen {
				list = filterUnseen(list)
			}
			if cli.GetOptions(cmd).JSONOutput {
				if list == nil {
					list = []models.Notification{}
				}
				return printJSON(cmd, list)
			}
			cli.RenderNotifications(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().Bool("unseen", false, "Only show notifications not yet seen")
	return cmd
}

func newNotificationsSeenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seen <id|all>",
		Short: "Mark a notification, or all of them, as seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cli.Connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			list, err := c.Notifications(ctx)
			if err != nil {
				return err
			}

			if args[0] == "all" {
				n := 0
				for _, item := range filterUnseen(list) {
					if _, err := c.MarkSeen(ctx, item.ID); err != nil {
						return err
					}
					n++
				}
				pretty(cmd).Success("Marked %d notification(s) as seen", n)
				return nil
			}

			id, err := resolveNotification(list, args[0])
			if err != nil {
				return err
			}
			n, err := c.MarkSeen(ctx, id)
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd, n)
			}
			pretty(cmd).Success("Marked %s as seen", id)
			return nil
		},
	}
}

func newNotificationsDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "dismiss <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a notification from the feed",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := cli.Connect(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			id, err := lookupNotification(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			if err := c.Dismiss(cmd.Context(), id); err != nil {
				return err
			}
			pretty(cmd).Success("Dismissed %s", id)
			return nil
		},
	}
}

func lookupNotification(ctx context.Context, c client.Client, prefix string) (string, error) {
	list, err := c.Notifications(ctx)
	if err != nil {
		return "", err
	}
	return resolveNotification(list, prefix)
}

// resolveNotification expands prefix to the id of exactly one notification.
func resolveNotification(list []models.Notification, prefix string) (string, error) {
	var matches []string
	for _, n := range list {
		if n.ID == prefix {
			return n.ID, nil
		}
		if strings.HasPrefix(n.ID, prefix) {
			matches = append(matches, n.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", errors.New(errors.ErrCodeInvalidCommand, fmt.Sprintf("no notification matches %q", prefix))
	case 1:
		return matches[0], nil
	default:
		return "", errors.New(errors.ErrCodeInvalidCommand,
			fmt.Sprintf("%q matches %d notifications; use a longer prefix", prefix, len(matches)))
	}
}

func filterUnseen(list []models.Notification) []models.Notification {
	var out []models.Notification
	for _, n := range list {
		if !n.Seen {
			out = append(out, n)
		}
	}
	return out
}
