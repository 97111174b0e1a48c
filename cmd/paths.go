package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/cli"
	"github.com/grovetools/synctray/config"
	"github.com/grovetools/synctray/logging"
	"github.com/grovetools/synctray/pkg/paths"
)

// PathsOutput represents the files and directories used by synctray.
type PathsOutput struct {
	ConfigDir   string `json:"config_dir"`
	ConfigFile  string `json:"config_file"`
	StateDir    string `json:"state_dir"`
	CacheDir    string `json:"cache_dir"`
	RuntimeDir  string `json:"runtime_dir"`
	Socket      string `json:"socket"`
	PidFile     string `json:"pid_file"`
	StateFile   string `json:"state_file"`
	EngineLog   string `json:"engine_log"`
	LauncherLog string `json:"launcher_log"`
}

func NewPathsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paths",
		Short: "Print the files and directories used by synctray",
		Long: `Print the files and directories used by synctray as JSON, making it easy
to parse from scripts and other tools.

The directories follow the XDG Base Directory Specification. SYNCTRAY_HOME
moves all of them under one directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, resolvePaths(cmd))
		},
	}

	return cmd
}

func resolvePaths(cmd *cobra.Command) PathsOutput {
	out := PathsOutput{
		ConfigDir:   paths.ConfigDir(),
		ConfigFile:  cli.GetOptions(cmd).ConfigFile,
		StateDir:    paths.StateDir(),
		CacheDir:    paths.CacheDir(),
		RuntimeDir:  paths.RuntimeDir(),
		Socket:      cli.SocketPath(cmd),
		PidFile:     paths.PidFilePath(),
		StateFile:   paths.StateFilePath(),
		LauncherLog: paths.LauncherLogPath(),
	}
	if out.ConfigFile == "" {
		out.ConfigFile = config.DefaultPath()
	}

	var logCfg logging.Config
	if cfg, _, err := cli.LoadConfig(cmd); err == nil {
		_ = cfg.UnmarshalExtension("logging", &logCfg)
		out.LauncherLog = cfg.Launcher.LogFile
	}
	out.EngineLog = logging.FilePath("synctrayd", logCfg, time.Now())
	return out
}
