// Package gateway turns collaborator commands into daemon requests.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/internal/daemon/metrics"
	"github.com/grovetools/synctray/logging"
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/syncthing"
)

// Controller is the daemon's control surface.
type Controller interface {
	Pause(ctx context.Context, deviceID string) error
	Resume(ctx context.Context, deviceID string) error
	SetFolderPaused(ctx context.Context, folderID string, paused bool) error
	Scan(ctx context.Context, folderID string) error
	Restart(ctx context.Context) error
}

// Hinter applies optimistic updates for accepted commands.
type Hinter interface {
	HintDevicesPaused(gen uint64, id string, paused bool) bool
	HintFoldersPaused(gen uint64, id string, paused bool) bool
}

// SnapshotSource provides the current snapshot.
type SnapshotSource interface {
	Snapshot() *models.Snapshot
}

// Gateway submits commands to the daemon of the active session.
type Gateway struct {
	hints     Hinter
	snapshots SnapshotSource
	logger    *logrus.Entry

	mu   sync.RWMutex
	gen  uint64
	ctrl Controller
}

// New creates a Gateway with no session bound.
func New(hints Hinter, snapshots SnapshotSource) *Gateway {
	return &Gateway{
		hints:     hints,
		snapshots: snapshots,
		logger:    logging.NewLogger("gateway"),
	}
}

// Bind routes commands to ctrl for session generation gen.
func (g *Gateway) Bind(gen uint64, ctrl Controller) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen = gen
	g.ctrl = ctrl
}

// Unbind detaches the controller of generation gen. Later generations are kept.
func (g *Gateway) Unbind(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen == gen {
		g.ctrl = nil
	}
}

func (g *Gateway) bound() (uint64, Controller) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gen, g.ctrl
}

// Submit validates cmd, sends it to the daemon and applies the matching hint
// once the daemon accepted it.
func (g *Gateway) Submit(ctx context.Context, cmd models.Command) (err error) {
	defer func() {
		metrics.RecordCommand(string(cmd.Kind), err == nil)
		entry := g.logger.WithFields(logrus.Fields{"command": cmd.Kind, "target": cmd.Target})
		if err != nil {
			entry.WithError(err).Warn("Command rejected")
		} else {
			entry.Info("Command accepted")
		}
	}()

	if cmd.Kind == models.CmdPauseDevice || cmd.Kind == models.CmdResumeDevice {
		cmd.Target = syncthing.NormalizeDeviceID(cmd.Target)
	}
	if err := g.validate(cmd); err != nil {
		return err
	}
	gen, ctrl := g.bound()
	if ctrl == nil {
		return errors.InvalidCommand(string(cmd.Kind), "no active daemon session")
	}

	switch cmd.Kind {
	case models.CmdPauseAll:
		if err := ctrl.Pause(ctx, ""); err != nil {
			return err
		}
		g.hints.HintDevicesPaused(gen, "", true)

	case models.CmdResumeAll:
		return g.resumeAll(ctx, gen, ctrl)

	case models.CmdPauseDevice, models.CmdResumeDevice:
		paused := cmd.Kind == models.CmdPauseDevice
		call := ctrl.Resume
		if paused {
			call = ctrl.Pause
		}
		if err := call(ctx, cmd.Target); err != nil {
			return err
		}
		g.hints.HintDevicesPaused(gen, cmd.Target, paused)

	case models.CmdPauseFolder, models.CmdResumeFolder:
		paused := cmd.Kind == models.CmdPauseFolder
		if err := ctrl.SetFolderPaused(ctx, cmd.Target, paused); err != nil {
			return err
		}
		g.hints.HintFoldersPaused(gen, cmd.Target, paused)

	case models.CmdRescanAll, models.CmdRescanFolder:
		// The daemon answers a scan request once the scan is over, and the
		// stream has already carried the folder through scanning by then.
		return ctrl.Scan(ctx, cmd.Target)

	case models.CmdRestart:
		return ctrl.Restart(ctx)
	}
	return nil
}

// resumeAll resumes every device and every paused folder. Folders are
// resumed one by one; the first failure is returned after all were tried.
func (g *Gateway) resumeAll(ctx context.Context, gen uint64, ctrl Controller) error {
	if err := ctrl.Resume(ctx, ""); err != nil {
		return err
	}
	g.hints.HintDevicesPaused(gen, "", false)

	var firstErr error
	for _, f := range g.snapshots.Snapshot().SortedFolders() {
		if !f.Paused {
			continue
		}
		if err := ctrl.SetFolderPaused(ctx, f.ID, false); err != nil {
			g.logger.WithError(err).WithField("folder", f.ID).Warn("Failed to resume folder")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		g.hints.HintFoldersPaused(gen, f.ID, false)
	}
	return firstErr
}

func (g *Gateway) validate(cmd models.Command) error {
	known := false
	for _, k := range models.CommandKinds {
		if cmd.Kind == k {
			known = true
			break
		}
	}
	if !known {
		return errors.InvalidCommand(string(cmd.Kind), "unknown command")
	}
	if !cmd.Kind.NeedsTarget() {
		if cmd.Target != "" {
			return errors.InvalidCommand(string(cmd.Kind), "command takes no target")
		}
		return nil
	}
	if cmd.Target == "" {
		return errors.InvalidCommand(string(cmd.Kind), "target is required")
	}

	snap := g.snapshots.Snapshot()
	switch cmd.Kind {
	case models.CmdPauseDevice, models.CmdResumeDevice:
		if _, ok := snap.Devices[cmd.Target]; !ok {
			return errors.InvalidCommand(string(cmd.Kind), fmt.Sprintf("unknown device '%s'", cmd.Target)).
				WithDetail("target", cmd.Target)
		}
	default:
		if _, ok := snap.Folders[cmd.Target]; !ok {
			return errors.InvalidCommand(string(cmd.Kind), fmt.Sprintf("unknown folder '%s'", cmd.Target)).
				WithDetail("target", cmd.Target)
		}
	}
	return nil
}
