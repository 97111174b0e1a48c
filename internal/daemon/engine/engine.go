// Package engine wires the session, reconciler, launcher and notification
// services together and owns the single active daemon session.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"

	"github.com/grovetools/synctray/command"
	"github.com/grovetools/synctray/config"
	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/internal/daemon/configwatch"
	"github.com/grovetools/synctray/internal/daemon/gateway"
	"github.com/grovetools/synctray/internal/daemon/launcher"
	"github.com/grovetools/synctray/internal/daemon/metrics"
	"github.com/grovetools/synctray/internal/daemon/notify"
	"github.com/grovetools/synctray/internal/daemon/reconciler"
	"github.com/grovetools/synctray/internal/daemon/session"
	"github.com/grovetools/synctray/internal/daemon/store"
	"github.com/grovetools/synctray/logging"
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/profile"
	"github.com/grovetools/synctray/pkg/syncthing"
	"github.com/grovetools/synctray/state"
)

// Daemon is the client of one daemon profile.
type Daemon interface {
	session.Daemon
	gateway.Controller
}

// DaemonFactory creates the client used for a profile.
type DaemonFactory func(p models.Profile, cfg *config.Config) Daemon

// Options configures an Engine.
type Options struct {
	Config *config.Config
	// NewDaemon defaults to the REST client.
	NewDaemon DaemonFactory
	// Executor creates the launcher's child process; nil uses os/exec.
	Executor command.Executor
	// ConfigDir is watched for configuration changes when set.
	ConfigDir string
	// PersistSelection restores and saves the selected profile in the state file.
	PersistSelection bool
}

// Engine manages the active session and the long-lived services.
type Engine struct {
	opts       Options
	store      *store.Store
	reconciler *reconciler.Reconciler
	notify     *notify.Aggregator
	gateway    *gateway.Gateway
	launcher   *launcher.Supervisor
	profiles   *profile.Store
	supervisor *suture.Supervisor
	logger     *logrus.Entry

	cfgMu sync.RWMutex
	cfg   *config.Config

	// sessMu serialises session switches.
	sessMu  sync.Mutex
	gen     uint64
	active  models.Profile
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New builds an Engine. Serve starts it.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}
	if opts.NewDaemon == nil {
		opts.NewDaemon = newRESTDaemon
	}

	st := store.New(models.PauseScope(cfg.Aggregate.PauseScope))
	rec, err := reconciler.New(st, reconciler.Options{
		RecentChangesLimit:  cfg.Notifications.RecentChangesLimit,
		InternalErrorsLimit: cfg.Notifications.InternalErrorsLimit,
		IgnorePaths:         cfg.Notifications.IgnorePaths,
	})
	if err != nil {
		return nil, err
	}
	profiles, err := profile.NewStore(cfg.ProfileModels())
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger("engine")
	e := &Engine{
		opts:       opts,
		store:      st,
		reconciler: rec,
		notify:     notify.New(st, notify.Options{}),
		gateway:    gateway.New(rec, st),
		launcher:   launcher.New(launcherOptions(cfg), opts.Executor, rec),
		profiles:   profiles,
		logger:     logger,
		cfg:        cfg,
	}
	e.supervisor = suture.New("synctray", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.WithField("event", ev.Type()).Warn(ev.String())
		},
	})
	e.supervisor.Add(e.notify)
	e.supervisor.Add(e.launcher)
	return e, nil
}

func newRESTDaemon(p models.Profile, cfg *config.Config) Daemon {
	return syncthing.NewClient(p, syncthing.Options{
		PollTimeout:     cfg.Stream.PollTimeout.Std(),
		HeartbeatGrace:  cfg.Stream.HeartbeatGrace.Std(),
		EventLimit:      cfg.Stream.EventLimit,
		CheckLocalPaths: syncthing.IsLocalURL(p.URL),
	})
}

func launcherOptions(cfg *config.Config) launcher.Options {
	return launcher.Options{
		Binary:      cfg.Launcher.Binary,
		Args:        cfg.Launcher.Args,
		Env:         cfg.Launcher.Env,
		LogFile:     cfg.Launcher.LogFile,
		StopTimeout: cfg.Launcher.StopTimeout.Std(),
	}
}

// Serve runs the engine until ctx is done: it restores the profile
// selection, autostarts the launcher and supervises the services.
func (e *Engine) Serve(ctx context.Context) error {
	if e.opts.ConfigDir != "" {
		w, err := configwatch.New(e.opts.ConfigDir, 0, e.ApplyConfig, e.configRejected)
		if err != nil {
			e.logger.WithError(err).Warn("Config watcher unavailable")
		} else {
			e.supervisor.Add(w)
		}
	}

	errCh := e.supervisor.ServeBackground(ctx)
	e.restoreSelection()

	cfg := e.Config()
	if cfg.Launcher.Enabled && cfg.Launcher.Autostart {
		if err := e.StartLauncher(); err != nil {
			e.logger.WithError(err).Error("Failed to autostart daemon")
		}
	}

	e.logger.Info("Engine started")
	err := <-errCh
	e.stopSession()
	e.logger.Info("Engine stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// restoreSelection picks the startup profile: the one remembered in the
// state file, then the configured active_profile, then the first enabled one.
func (e *Engine) restoreSelection() {
	if e.opts.PersistSelection {
		id, err := state.GetString(state.KeyActiveProfile)
		if err != nil {
			e.logger.WithError(err).Warn("Failed to read state file")
		}
		if _, ok := e.profiles.Get(id); ok && id != "" {
			if e.SelectProfile(id) == nil {
				return
			}
		}
	}
	if id := e.Config().ActiveProfile; id != "" {
		if e.SelectProfile(id) == nil {
			return
		}
	}
	if p, ok := e.profiles.FirstEnabled(); ok {
		_ = e.SelectProfile(p.ID)
		return
	}
	e.logger.Warn("No enabled profile configured")
}

// SelectProfile switches the session to profile id. An unknown or disabled
// id raises a warning notification and leaves the current session untouched.
func (e *Engine) SelectProfile(id string) error {
	p, err := e.profiles.Select(id)
	if err != nil {
		text := err.Error()
		if se, ok := err.(*errors.SyncError); ok {
			text = se.Message
		}
		e.notify.Warn(text, id)
		e.logger.WithError(err).Warn("Profile selection ignored")
		return err
	}

	if e.opts.PersistSelection {
		if err := state.Set(state.KeyActiveProfile, id); err != nil {
			e.logger.WithError(err).Warn("Failed to save selected profile")
		}
	}
	e.activate(p)
	return nil
}

// activate starts a session for p, unless p reaches the launched daemon
// and the launcher is not running.
func (e *Engine) activate(p models.Profile) {
	if e.gatedByLauncher(p.ID) {
		e.logger.WithField("profile", p.ID).Info("Waiting for the launcher before connecting")
		e.stopSession()
		return
	}
	e.startSession(p)
}

func (e *Engine) gatedByLauncher(profileID string) bool {
	cfg := e.Config()
	return cfg.Launcher.Enabled && cfg.Launcher.Profile == profileID && !e.launcher.Status().Status.Active()
}

func (e *Engine) isLauncherProfile(profileID string) bool {
	cfg := e.Config()
	return cfg.Launcher.Enabled && cfg.Launcher.Profile == profileID
}

// startSession replaces the running session with a new generation for p.
// The previous session has fully stopped before the new one starts.
func (e *Engine) startSession(p models.Profile) {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	e.stopSessionLocked()

	cfg := e.Config()
	e.gen++
	gen := e.gen
	client := e.opts.NewDaemon(p, cfg)

	var onContact func()
	if e.isLauncherProfile(p.ID) {
		onContact = func() { e.launcher.MarkRunning() }
	}

	e.reconciler.BeginSession(gen, p.ID)
	e.gateway.Bind(gen, client)
	sess := session.New(client, e.reconciler, session.Options{
		Generation: gen,
		ProfileID:  p.ID,
		Backoff: session.Backoff{
			Initial: cfg.Reconnect.Initial.Std(),
			Max:     cfg.Reconnect.Max.Std(),
			Jitter:  cfg.Reconnect.Jitter,
		},
		EventLimit: cfg.Stream.EventLimit,
		OnContact:  onContact,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.active, e.cancel, e.done, e.running = p, cancel, done, true

	e.logger.WithFields(logrus.Fields{"profile": p.ID, "generation": gen}).Info("Session started")
	go func() {
		defer close(done)
		if err := sess.Run(ctx); err != nil {
			e.logger.WithError(err).WithField("generation", gen).Error("Session stopped")
		}
	}()
}

func (e *Engine) stopSession() {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	e.stopSessionLocked()
}

// stopSessionLocked cancels the running session and waits for it to exit.
func (e *Engine) stopSessionLocked() {
	if !e.running {
		return
	}
	e.cancel()
	<-e.done
	e.gateway.Unbind(e.gen)
	e.reconciler.EndSession(e.gen)
	metrics.SetConnectionState(models.StateDisconnected)
	e.logger.WithFields(logrus.Fields{"profile": e.active.ID, "generation": e.gen}).Info("Session stopped")
	e.active, e.cancel, e.done, e.running = models.Profile{}, nil, nil, false
}

// ReplaceProfiles swaps the profile set. A changed active profile rebuilds
// the session; a removed or disabled one falls back to the first enabled profile.
func (e *Engine) ReplaceProfiles(profiles []models.Profile) error {
	if err := e.profiles.Replace(profiles); err != nil {
		return err
	}

	e.sessMu.Lock()
	running, current := e.running, e.active
	e.sessMu.Unlock()

	selected, ok := e.profiles.Selected()
	switch {
	case !ok:
		e.stopSession()
		if p, ok := e.profiles.FirstEnabled(); ok {
			return e.SelectProfile(p.ID)
		}
	case running && selected != current:
		e.logger.WithField("profile", selected.ID).Info("Active profile changed, reconnecting")
		e.activate(selected)
	case !running:
		e.activate(selected)
	}
	return nil
}

// ApplyConfig takes over a reloaded configuration.
func (e *Engine) ApplyConfig(cfg *config.Config, path string) {
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()

	e.store.SetPauseScope(models.PauseScope(cfg.Aggregate.PauseScope))
	e.launcher.Configure(launcherOptions(cfg))
	if err := e.ReplaceProfiles(cfg.ProfileModels()); err != nil {
		e.configRejected(err, path)
	}
}

func (e *Engine) configRejected(err error, path string) {
	e.notify.Warn(fmt.Sprintf("Ignoring configuration change in %s: %v", path, err), "config")
}

// StartLauncher launches the daemon and connects to it through the
// launcher profile.
func (e *Engine) StartLauncher() error {
	cfg := e.Config()
	if !cfg.Launcher.Enabled {
		return errors.InvalidCommand("launcher start", "the launcher is not enabled")
	}
	if err := e.launcher.Start(); err != nil {
		return err
	}
	if selected, ok := e.profiles.Selected(); !ok || selected.ID == cfg.Launcher.Profile {
		return e.SelectProfile(cfg.Launcher.Profile)
	}
	return nil
}

// StopLauncher stops the session of the launcher profile, which cancels
// pending reconnects, then stops the daemon.
func (e *Engine) StopLauncher(ctx context.Context) error {
	if e.launcher.Status().Status.Active() {
		e.sessMu.Lock()
		stop := e.running && e.isLauncherProfile(e.active.ID)
		e.sessMu.Unlock()
		if stop {
			e.stopSession()
		}
	}
	return e.launcher.Stop(ctx)
}

// Submit sends a control command to the active daemon.
func (e *Engine) Submit(ctx context.Context, cmd models.Command) error {
	return e.gateway.Submit(ctx, cmd)
}

// Config returns the configuration in effect.
func (e *Engine) Config() *config.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Store returns the engine's snapshot store.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Snapshot returns the current snapshot.
func (e *Engine) Snapshot() *models.Snapshot {
	return e.store.Snapshot()
}

// Notifications returns the notification feed.
func (e *Engine) Notifications() *notify.Aggregator {
	return e.notify
}

// Profiles returns the configured profiles.
func (e *Engine) Profiles() []models.Profile {
	return e.profiles.List()
}

// SelectedProfile returns the selected profile, if any.
func (e *Engine) SelectedProfile() (models.Profile, bool) {
	return e.profiles.Selected()
}

// Launcher returns the launcher supervisor.
func (e *Engine) Launcher() *launcher.Supervisor {
	return e.launcher
}

// Generation returns the number of the current session.
func (e *Engine) Generation() uint64 {
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	return e.gen
}
