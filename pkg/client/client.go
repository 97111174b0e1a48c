// Package client talks to a running synctrayd over its Unix socket API.
package client

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/paths"
)

// Client defines the operations synctrayd offers to collaborators
// such as the tray menu and the command line.
type Client interface {
	// Snapshot returns the current published snapshot.
	Snapshot(ctx context.Context) (*models.Snapshot, error)

	// Notifications returns the feed, newest first.
	Notifications(ctx context.Context) ([]models.Notification, error)
	MarkSeen(ctx context.Context, id string) (models.Notification, error)
	Dismiss(ctx context.Context, id string) error

	// Submit sends a control command to the connected daemon.
	Submit(ctx context.Context, cmd models.Command) (models.CommandResult, error)

	Profiles(ctx context.Context) ([]models.ProfileInfo, error)
	SelectProfile(ctx context.Context, id string) error

	Launcher(ctx context.Context) (models.LauncherInfo, error)
	StartLauncher(ctx context.Context) (models.LauncherInfo, error)
	StopLauncher(ctx context.Context) (models.LauncherInfo, error)

	// Stream subscribes to snapshot and notification pushes. The channel is
	// closed when ctx is cancelled or the connection is lost.
	Stream(ctx context.Context) (<-chan models.StreamMessage, error)

	// IsRunning returns true if synctrayd is available and responding.
	IsRunning() bool

	// Close cleans up any resources used by the client.
	Close() error
}

// Connect returns a client for the synctrayd listening on the default socket.
func Connect() (*RemoteClient, error) {
	return ConnectTo(paths.SocketPath())
}

// ConnectTo returns a client for the synctrayd listening on socketPath,
// or an error when nothing accepts connections there.
func ConnectTo(socketPath string) (*RemoteClient, error) {
	if _, err := os.Stat(socketPath); err != nil {
		return nil, notRunning(socketPath, err)
	}
	conn, err := net.DialTimeout("unix", socketPath, 100*time.Millisecond)
	if err != nil {
		return nil, notRunning(socketPath, err)
	}
	conn.Close()
	return NewRemoteClient(socketPath)
}

func notRunning(socketPath string, err error) *errors.SyncError {
	return errors.Wrap(err, errors.ErrCodeConnection,
		"synctrayd is not running; start it with 'synctray daemon start'").
		WithDetail("socket", socketPath)
}
