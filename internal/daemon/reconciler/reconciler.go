// Package reconciler is the only writer of the engine snapshot. It folds
// daemon events, full refreshes, session and launcher status, and optimistic
// command hints into copy-on-write snapshot updates.
package reconciler

import (
	"sync"
	"time"

	"github.com/moby/patternmatcher"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/internal/daemon/metrics"
	"github.com/grovetools/synctray/internal/daemon/store"
	"github.com/grovetools/synctray/logging"
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/syncthing"
)

const (
	DefaultRecentChangesLimit  = 100
	DefaultInternalErrorsLimit = 50
)

// Options configures derived feeds.
type Options struct {
	RecentChangesLimit  int
	InternalErrorsLimit int
	// IgnorePaths are patterns of file paths left out of recent changes.
	IgnorePaths []string
}

// Reconciler applies inputs to the store. Every input carrying a session
// generation is discarded unless it matches the generation of the session
// currently published in the snapshot.
type Reconciler struct {
	store  *store.Store
	opts   Options
	ignore *patternmatcher.PatternMatcher
	logger *logrus.Entry
	now    func() time.Time

	mu      sync.Mutex
	barrier map[uint64]int64
	errSeq  uint64
}

// New creates a Reconciler writing to st.
func New(st *store.Store, opts Options) (*Reconciler, error) {
	if opts.RecentChangesLimit <= 0 {
		opts.RecentChangesLimit = DefaultRecentChangesLimit
	}
	if opts.InternalErrorsLimit <= 0 {
		opts.InternalErrorsLimit = DefaultInternalErrorsLimit
	}

	var ignore *patternmatcher.PatternMatcher
	if len(opts.IgnorePaths) > 0 {
		pm, err := patternmatcher.New(opts.IgnorePaths)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "invalid notifications.ignore_paths pattern")
		}
		ignore = pm
	}

	return &Reconciler{
		store:   st,
		opts:    opts,
		ignore:  ignore,
		logger:  logging.NewLogger("reconciler"),
		now:     time.Now,
		barrier: make(map[uint64]int64),
	}, nil
}

// Store returns the store the reconciler writes to.
func (r *Reconciler) Store() *store.Store {
	return r.store
}

// BeginSession publishes a new session for profileID. Entities of the
// previous session are discarded; the first refresh of the new one fills them.
func (r *Reconciler) BeginSession(gen uint64, profileID string) {
	r.mu.Lock()
	r.barrier = map[uint64]int64{}
	r.mu.Unlock()

	r.store.Update(store.SourceSession, func(s *models.Snapshot) bool {
		s.Session = models.SessionInfo{
			ProfileID:  profileID,
			Generation: gen,
			State:      models.StateConnecting,
		}
		clearEntities(s)
		return true
	})
	metrics.SetConnectionState(models.StateConnecting)
}

// EndSession marks session gen as gone. Nothing happens when a newer session
// has already been published.
func (r *Reconciler) EndSession(gen uint64) {
	_, changed := r.store.Update(store.SourceSession, func(s *models.Snapshot) bool {
		if s.Session.Generation != gen {
			return false
		}
		s.Session = models.SessionInfo{Generation: gen, State: models.StateDisconnected}
		clearEntities(s)
		return true
	})
	if changed {
		metrics.SetConnectionState(models.StateDisconnected)
	}
}

func clearEntities(s *models.Snapshot) {
	s.Devices = make(map[string]models.Device)
	s.Folders = make(map[string]models.Folder)
	s.Downloads = make(map[string]models.DownloadItem)
	s.PendingDevices = make(map[string]models.PendingDevice)
	s.PendingFolders = make(map[string]models.PendingFolder)
}

// SetSessionState records the connection state of session gen. cause is
// kept as the last error; a nil cause leaves the previous one in place
// unless the session is connected.
func (r *Reconciler) SetSessionState(gen uint64, state models.ConnectionState, cause error) bool {
	now := r.now()
	_, changed := r.store.Update(store.SourceSession, func(s *models.Snapshot) bool {
		if s.Session.Generation != gen {
			return false
		}
		prev := s.Session
		s.Session.State = state
		switch {
		case cause != nil:
			s.Session.LastError = cause.Error()
		case state == models.StateConnected:
			s.Session.LastError = ""
		}
		if state == models.StateConnected {
			if prev.State != models.StateConnected {
				s.Session.ConnectedSince = now
			}
		} else {
			s.Session.ConnectedSince = time.Time{}
		}
		return s.Session != prev
	})
	if changed {
		metrics.SetConnectionState(state)
	}
	return changed
}

// ApplyRefresh replaces the entity collections of session gen with fs.
// Derived fields of entities that survive are preserved. Events with an id
// up to fs.Barrier are dropped afterwards.
func (r *Reconciler) ApplyRefresh(gen uint64, fs *syncthing.FullState) bool {
	_, changed := r.store.Update(store.SourceRefresh, func(s *models.Snapshot) bool {
		if s.Session.Generation != gen {
			return false
		}
		r.applyRefresh(s, fs)
		return true
	})
	if !changed {
		metrics.RecordEventDropped("stale_generation")
		return false
	}

	r.mu.Lock()
	r.barrier[gen] = fs.Barrier
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"generation": gen,
		"barrier":    fs.Barrier,
		"devices":    len(fs.Devices),
		"folders":    len(fs.Folders),
	}).Debug("Applied full refresh")
	return true
}

func (r *Reconciler) applyRefresh(s *models.Snapshot, fs *syncthing.FullState) {
	devices := make(map[string]models.Device, len(fs.Devices))
	for _, d := range fs.Devices {
		if old, ok := s.Devices[d.ID]; ok {
			if d.LastSeen.IsZero() || old.LastSeen.After(d.LastSeen) {
				d.LastSeen = old.LastSeen
			}
			if d.InBytes == 0 && d.OutBytes == 0 {
				d.InBytes, d.OutBytes = old.InBytes, old.OutBytes
			}
			if d.Address == "" {
				d.Address = old.Address
			}
		}
		devices[d.ID] = d
	}

	folders := make(map[string]models.Folder, len(fs.Folders))
	for _, f := range fs.Folders {
		if old, ok := s.Folders[f.ID]; ok {
			if f.LastScan.IsZero() {
				f.LastScan = old.LastScan
			}
			if f.StateChangedAt.IsZero() {
				f.StateChangedAt = old.StateChangedAt
			}
		}
		if f.ScanState == "" {
			f.ScanState = models.ScanIdle
		}
		folders[f.ID] = f
	}

	downloads := make(map[string]models.DownloadItem, len(s.Downloads))
	for k, dl := range s.Downloads {
		if f, ok := folders[dl.FolderID]; ok && !f.Paused {
			downloads[k] = dl
		}
	}

	pendingDevices := make(map[string]models.PendingDevice, len(fs.PendingDevices))
	for _, p := range fs.PendingDevices {
		pendingDevices[p.ID] = p
	}
	pendingFolders := make(map[string]models.PendingFolder, len(fs.PendingFolders))
	for _, p := range fs.PendingFolders {
		pendingFolders[models.PendingFolderKey(p.ID, p.OfferedBy)] = p
	}

	s.Devices = devices
	s.Folders = folders
	s.Downloads = downloads
	s.PendingDevices = pendingDevices
	s.PendingFolders = pendingFolders
	s.Session.DaemonID = fs.Identity.MyID
	s.Session.DaemonStartedAt = fs.Identity.StartTime
	s.Session.Cursor = fs.Barrier
}

// Apply folds events of session gen into the snapshot as one batch.
// Malformed records are dropped and recorded as internal errors. It returns
// the number of events that changed the snapshot.
func (r *Reconciler) Apply(gen uint64, events ...syncthing.Event) int {
	if len(events) == 0 {
		return 0
	}

	r.mu.Lock()
	barrier, hasBarrier := r.barrier[gen]
	r.mu.Unlock()

	applied := 0
	var malformed []error
	r.store.Update(store.SourceEvents, func(s *models.Snapshot) bool {
		if s.Session.Generation != gen {
			metrics.RecordEventDropped("stale_generation")
			return false
		}
		changed := false
		for _, ev := range events {
			if hasBarrier && ev.ID != 0 && ev.ID <= barrier {
				metrics.RecordEventDropped("before_refresh")
				continue
			}
			if ev.ID > s.Session.Cursor {
				s.Session.Cursor = ev.ID
				changed = true
			}
			if ev.Err != nil {
				malformed = append(malformed, ev.Err)
				r.appendInternalError(s, ev.Err)
				metrics.RecordEventDropped("malformed")
				changed = true
				continue
			}
			ok, err := r.applyEvent(s, ev)
			if err != nil {
				malformed = append(malformed, err)
				r.appendInternalError(s, err)
				metrics.RecordEventDropped("malformed")
				changed = true
				continue
			}
			if ok {
				applied++
				changed = true
				metrics.RecordEventApplied(ev.Type)
			}
		}
		return changed
	})

	for _, err := range malformed {
		r.logger.WithError(err).Warn("Dropped malformed event")
	}
	return applied
}

// RecordInternalError appends err to the internal error feed.
func (r *Reconciler) RecordInternalError(err error) {
	if err == nil {
		return
	}
	r.store.Update(store.SourceInternal, func(s *models.Snapshot) bool {
		r.appendInternalError(s, err)
		return true
	})
}

func (r *Reconciler) appendInternalError(s *models.Snapshot, err error) {
	r.mu.Lock()
	r.errSeq++
	seq := r.errSeq
	r.mu.Unlock()

	code := errors.GetCode(err)
	if code == "" {
		code = errors.ErrCodeInternal
	}
	entry := models.InternalError{Seq: seq, Code: string(code), Message: err.Error(), Time: r.now()}
	s.InternalErrors = prepend(s.InternalErrors, entry, r.opts.InternalErrorsLimit)
}

// SetLauncher publishes the launcher status.
func (r *Reconciler) SetLauncher(proc models.LauncherProcess) bool {
	_, changed := r.store.Update(store.SourceLauncher, func(s *models.Snapshot) bool {
		if launcherEqual(s.Launcher, proc) {
			return false
		}
		s.Launcher = proc
		if proc.ExitCode != nil {
			code := *proc.ExitCode
			s.Launcher.ExitCode = &code
		}
		return true
	})
	if changed {
		metrics.SetLauncherStatus(proc.Status)
	}
	return changed
}

func launcherEqual(a, b models.LauncherProcess) bool {
	if a.Launch != b.Launch || a.PID != b.PID || a.Status != b.Status || a.Error != b.Error || !a.StartedAt.Equal(b.StartedAt) {
		return false
	}
	if (a.ExitCode == nil) != (b.ExitCode == nil) {
		return false
	}
	return a.ExitCode == nil || *a.ExitCode == *b.ExitCode
}

// prepend adds v to the front of list, keeping at most limit entries.
func prepend[T any](list []T, v T, limit int) []T {
	n := len(list) + 1
	if n > limit {
		n = limit
	}
	out := make([]T, 0, n)
	out = append(out, v)
	for _, item := range list {
		if len(out) == n {
			break
		}
		out = append(out, item)
	}
	return out
}
