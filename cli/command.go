// Package cli holds the pieces shared by synctray commands: standard flags,
// logging, configuration loading, error reporting and styled output.
package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/config"
	"github.com/grovetools/synctray/logging"
	"github.com/grovetools/synctray/pkg/client"
	"github.com/grovetools/synctray/pkg/profiling"
)

// CommandOptions holds the options common to all commands.
type CommandOptions struct {
	ConfigFile string
	Socket     string
	Verbose    bool
	JSONOutput bool
}

// NewStandardCommand creates a root command with the standard flags.
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to a synctray.toml or synctray.yml file")
	cmd.PersistentFlags().String("socket", "", "Unix socket of the synctray API")

	return cmd
}

// GetOptions extracts common options from a command
func GetOptions(cmd *cobra.Command) CommandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	socket, _ := cmd.Flags().GetString("socket")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return CommandOptions{
		ConfigFile: configFile,
		Socket:     socket,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
	}
}

// GetLogger returns the component logger, adjusted to the command flags.
func GetLogger(cmd *cobra.Command, component string) *logrus.Entry {
	entry := logging.NewLogger(component)
	opts := GetOptions(cmd)
	if opts.Verbose {
		entry.Logger.SetLevel(logrus.DebugLevel)
	}
	if opts.JSONOutput {
		entry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return entry
}

// LoadConfig loads the file named by --config, or the default configuration.
// The returned path is empty when no file exists yet.
func LoadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	opts := GetOptions(cmd)
	if opts.ConfigFile != "" {
		cfg, err := config.Load(opts.ConfigFile)
		return cfg, opts.ConfigFile, err
	}
	return config.LoadWithLogger(GetLogger(cmd, "cli").Logger)
}

// SocketPath resolves the API socket from --socket, the configuration or the default.
func SocketPath(cmd *cobra.Command) string {
	if socket := GetOptions(cmd).Socket; socket != "" {
		return socket
	}
	if cfg, _, err := LoadConfig(cmd); err == nil {
		return cfg.Server.Socket
	}
	cfg := &config.Config{}
	cfg.SetDefaults()
	return cfg.Server.Socket
}

// Connect returns a client for the running engine.
func Connect(cmd *cobra.Command) (*client.RemoteClient, error) {
	defer profiling.Start("connect").Stop()
	return client.ConnectTo(SocketPath(cmd))
}

// Execute runs root and reports a failure through the ErrorHandler.
// It returns the process exit code.
func Execute(root *cobra.Command) int {
	ApplyStyledHelpRecursive(root)
	cmd, err := root.ExecuteC()
	if err == nil {
		return 0
	}
	if cmd == nil {
		cmd = root
	}
	NewErrorHandler(GetOptions(cmd).Verbose).WithWriter(cmd.ErrOrStderr()).Handle(err)
	return 1
}
