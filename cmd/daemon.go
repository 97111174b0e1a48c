package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/grovetools/synctray/cli"
	"github.com/grovetools/synctray/internal/daemon/engine"
	"github.com/grovetools/synctray/internal/daemon/pidfile"
	"github.com/grovetools/synctray/internal/daemon/server"
	"github.com/grovetools/synctray/pkg/client"
	"github.com/grovetools/synctray/pkg/paths"
	"github.com/grovetools/synctray/pkg/process"
)

// NewDaemonCmd returns the engine command with subcommands.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the synctray engine",
		Long:  "Start, stop and inspect synctrayd, the background engine the other commands talk to.",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonStatusCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the engine",
		Long:  "Start synctrayd in the foreground. It stops on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := cli.GetLogger(cmd, "synctrayd")

			cfg, cfgPath, err := cli.LoadConfig(cmd)
			if err != nil {
				return err
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("failed to create synctray directories: %w", err)
			}

			pidPath := paths.PidFilePath()
			if err := pidfile.Acquire(pidPath); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer func() {
				if err := pidfile.Release(pidPath); err != nil && !os.IsNotExist(err) {
					logger.Errorf("Failed to release pidfile: %v", err)
				}
			}()

			configDir := paths.ConfigDir()
			if cfgPath != "" {
				configDir = filepath.Dir(cfgPath)
			}
			eng, err := engine.New(engine.Options{
				Config:           cfg,
				ConfigDir:        configDir,
				PersistSelection: true,
			})
			if err != nil {
				return err
			}

			srv := server.New(logger)
			srv.SetEngine(eng)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engineDone := make(chan error, 1)
			go func() { engineDone <- eng.Serve(ctx) }()

			serverDone := make(chan error, 1)
			sockPath := cli.SocketPath(cmd)
			go func() { serverDone <- srv.ListenAndServe(sockPath) }()

			logger.WithField("pid", os.Getpid()).WithField("socket", sockPath).Info("Starting synctrayd")

			var runErr error
			select {
			case <-ctx.Done():
				logger.Info("Received stop signal")
			case err := <-serverDone:
				if err != nil {
					runErr = fmt.Errorf("server error: %w", err)
				}
				serverDone = nil
			case err := <-engineDone:
				if err != nil && ctx.Err() == nil {
					runErr = fmt.Errorf("engine error: %w", err)
				}
				engineDone = nil
			}
			stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Errorf("Server shutdown error: %v", err)
			}
			if serverDone != nil {
				<-serverDone
			}
			if engineDone != nil {
				select {
				case <-engineDone:
				case <-shutdownCtx.Done():
					logger.Warn("Engine did not stop in time")
				}
			}
			return runErr
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !running {
				fmt.Fprintln(cmd.OutOrStdout(), "synctrayd is not running")
				return nil
			}

			p, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("failed to find process %d: %w", pid, err)
			}
			if err := process.Interrupt(p); err != nil {
				return fmt.Errorf("failed to send stop signal: %w", err)
			}

			pretty(cmd).Success("Sent stop signal to synctrayd (PID %d)", pid)
			return nil
		},
	}
}

// DaemonStatus is the JSON form of 'daemon status'.
type DaemonStatus struct {
	Running bool   `json:"running"`
	PID     int    `json:"pid,omitempty"`
	Socket  string `json:"socket"`
	Profile string `json:"profile,omitempty"`
	State   string `json:"state,omitempty"`
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the engine is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			running, pid, err := pidfile.IsRunning(paths.PidFilePath())
			if err != nil {
				return fmt.Errorf("error: %w", err)
			}
			status := DaemonStatus{Running: running, PID: pid, Socket: cli.SocketPath(cmd)}
			if !running {
				status.PID = 0
			}

			if c, err := client.ConnectTo(status.Socket); err == nil {
				defer c.Close()
				status.Running = true
				if snap, err := c.Snapshot(cmd.Context()); err == nil {
					status.Profile = snap.Session.ProfileID
					status.State = string(snap.Session.State)
				}
			}

			if cli.GetOptions(cmd).JSONOutput {
				return printJSON(cmd, status)
			}

			log := pretty(cmd)
			if !status.Running {
				log.Warn("synctrayd is stopped")
				return nil
			}
			if status.PID != 0 {
				log.Success("synctrayd is running (PID %d)", status.PID)
			} else {
				log.Success("synctrayd is running")
			}
			log.Path("Socket", status.Socket)
			if status.Profile != "" {
				log.Field("Profile", status.Profile)
				log.Field("State", status.State)
			}
			return nil
		},
	}
}
