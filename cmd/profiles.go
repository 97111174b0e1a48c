package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/grovetools/synctray/cli"
	"github.com/grovetools/synctray/config"
	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/state"
)

// NewProfilesCmd groups the profile commands.
func NewProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profiles",
		Aliases: []string{"profile"},
		Short:   "List, select and add daemon profiles",
		Long: `A profile names one Syncthing daemon: its address and API key. synctrayd
connects to the selected profile. When synctrayd is not running, list and use
work on the configuration and state files directly.`,
	}
	cmd.AddCommand(newProfilesListCmd())
	cmd.AddCommand(newProfilesUseCmd())
	cmd.AddCommand(newProfilesAddCmd())
	return cmd
}

func newProfilesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List configured profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := listProfiles(cmd)
			if err != nil {
				return err
			}
			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd, profiles)
			}
			cli.RenderProfiles(cmd.OutOrStdout(), profiles)
			return nil
		},
	}
}

// listProfiles asks synctrayd, or reads the configuration when it is not running.
func listProfiles(cmd *cobra.Command) ([]models.ProfileInfo, error) {
	if c, err := cli.Connect(cmd); err == nil {
		defer c.Close()
		return c.Profiles(cmd.Context())
	}

	cfg, _, err := cli.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	selected := storedSelection(cfg)
	profiles := make([]models.ProfileInfo, 0, len(cfg.Profiles))
	for _, p := range cfg.ProfileModels() {
		profiles = append(profiles, models.ProfileInfo{Profile: p, Selected: p.ID == selected})
	}
	return profiles, nil
}

// storedSelection resolves the profile synctrayd would pick at startup.
func storedSelection(cfg *config.Config) string {
	usable := func(id string) bool {
		for _, p := range cfg.Profiles {
			if p.ID == id && p.IsEnabled() {
				return true
			}
		}
		return false
	}
	if id, err := state.GetString(state.KeyActiveProfile); err == nil && usable(id) {
		return id
	}
	if usable(cfg.ActiveProfile) {
		return cfg.ActiveProfile
	}
	for _, p := range cfg.Profiles {
		if p.IsEnabled() {
			return p.ID
		}
	}
	return ""
}

func newProfilesUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Select the profile synctrayd connects to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if c, err := cli.Connect(cmd); err == nil {
				defer c.Close()
				if err := c.SelectProfile(cmd.Context(), id); err != nil {
					return err
				}
				pretty(cmd).Success("Switched to profile %s", id)
				return nil
			}

			cfg, _, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			found := false
			for _, p := range cfg.Profiles {
				if p.ID != id {
					continue
				}
				if !p.IsEnabled() {
					return errors.New(errors.ErrCodeConfig, fmt.Sprintf("profile '%s' is disabled", id)).
						WithDetail("profile", id)
				}
				found = true
			}
			if !found {
				return errors.ProfileNotDefined(id)
			}
			if err := state.Set(state.KeyActiveProfile, id); err != nil {
				return err
			}
			pretty(cmd).Success("Profile %s will be used when synctrayd starts", id)
			return nil
		},
	}
}

func newProfilesAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add a profile to the configuration file",
		Long: `Append a profile to the configuration file, creating the file if needed.
Without --api-key the key is read from the terminal, or from the first line of
standard input when it is not a terminal. ${VAR} references are stored as written.

Examples:
  synctray profiles add laptop --url http://127.0.0.1:8384
  synctray profiles add nas --url https://nas:8384 --api-key '${NAS_API_KEY}' --insecure`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			label, _ := cmd.Flags().GetString("label")
			apiKey, _ := cmd.Flags().GetString("api-key")
			insecure, _ := cmd.Flags().GetBool("insecure")
			disabled, _ := cmd.Flags().GetBool("disabled")

			if !cmd.Flags().Changed("api-key") {
				key, err := readAPIKey(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				apiKey = key
			}

			p := config.ProfileConfig{
				ID:                 args[0],
				Label:              label,
				URL:                url,
				APIKey:             apiKey,
				InsecureSkipVerify: insecure,
			}
			if disabled {
				enabled := false
				p.Enabled = &enabled
			}

			path := cli.GetOptions(cmd).ConfigFile
			if path == "" {
				path = config.DefaultPath()
			}
			if err := config.AddProfile(path, p); err != nil {
				return err
			}

			log := pretty(cmd)
			log.Success("Added profile %s", p.ID)
			log.Path("Config", path)
			return nil
		},
	}
	cmd.Flags().String("url", "", "Base address of the daemon REST API")
	cmd.Flags().String("label", "", "Display name")
	cmd.Flags().String("api-key", "", "API key, or a ${VAR} reference")
	cmd.Flags().Bool("insecure", false, "Accept self-signed TLS certificates")
	cmd.Flags().Bool("disabled", false, "Add the profile disabled")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// readAPIKey prompts without echo on a terminal and reads one line otherwise.
func readAPIKey(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "API key: ")
		key, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read API key: %w", err)
		}
		return strings.TrimSpace(string(key)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
