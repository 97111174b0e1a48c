package models

import "time"

// LauncherStatus is the lifecycle state of a locally launched daemon.
type LauncherStatus string

const (
	LauncherNotStarted LauncherStatus = "not_started"
	LauncherStarting   LauncherStatus = "starting"
	LauncherRunning    LauncherStatus = "running"
	LauncherStopping   LauncherStatus = "stopping"
	LauncherStopped    LauncherStatus = "stopped"
	LauncherCrashed    LauncherStatus = "crashed"
)

// Active reports whether a child process exists in this status.
func (s LauncherStatus) Active() bool {
	return s == LauncherStarting || s == LauncherRunning || s == LauncherStopping
}

// LauncherProcess is the externally visible view of the launched daemon.
// The process handle itself never leaves the launcher.
type LauncherProcess struct {
	Launch    uint64         `json:"launch"` // increments with every Start
	PID       int            `json:"pid,omitempty"`
	Status    LauncherStatus `json:"status"`
	ExitCode  *int           `json:"exit_code,omitempty"`
	Error     string         `json:"error,omitempty"`
	StartedAt time.Time      `json:"started_at,omitempty"`
}
