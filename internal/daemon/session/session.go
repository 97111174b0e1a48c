// Package session runs the connection to one daemon: it keeps the event
// stream alive across failures, decides when a full refresh is needed and
// feeds everything it reads into the reconciler.
package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/internal/daemon/metrics"
	"github.com/grovetools/synctray/logging"
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/syncthing"
)

// Daemon is the part of the daemon API a session consumes.
type Daemon interface {
	syncthing.EventSource
	Identity(ctx context.Context) (syncthing.Identity, error)
	FullState(ctx context.Context) (*syncthing.FullState, error)
}

// Sink receives everything a session observes.
type Sink interface {
	SetSessionState(gen uint64, state models.ConnectionState, cause error) bool
	ApplyRefresh(gen uint64, fs *syncthing.FullState) bool
	Apply(gen uint64, events ...syncthing.Event) int
}

// Options configures a Session.
type Options struct {
	Generation uint64
	ProfileID  string
	Backoff    Backoff
	EventLimit int
	// OnContact runs after every successful connect.
	OnContact func()
}

// Session is one generation of the connection to a daemon.
type Session struct {
	daemon  Daemon
	sink    Sink
	opts    Options
	backoff Backoff
	logger  *logrus.Entry
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	identity *syncthing.Identity
	cursor   int64
}

// New creates a Session. Run starts it.
func New(daemon Daemon, sink Sink, opts Options) *Session {
	if opts.EventLimit <= 0 {
		opts.EventLimit = syncthing.DefaultEventLimit
	}
	return &Session{
		daemon:  daemon,
		sink:    sink,
		opts:    opts,
		backoff: opts.Backoff,
		logger: logging.NewLogger("session").WithFields(logrus.Fields{
			"profile":    opts.ProfileID,
			"generation": opts.Generation,
		}),
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Run connects and reconnects until ctx is cancelled or the daemon rejects
// the credentials. It returns nil on cancellation and the AuthError otherwise.
func (s *Session) Run(ctx context.Context) error {
	gen := s.opts.Generation
	for {
		if ctx.Err() != nil {
			return nil
		}

		connectedAt, err := s.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, errors.ErrCodeAuth) {
			s.logger.WithError(err).Error("Daemon rejected the API key; not retrying")
			s.sink.SetSessionState(gen, models.StateError, err)
			return err
		}

		if !connectedAt.IsZero() && s.now().Sub(connectedAt) > s.backoff.Max {
			s.backoff.Reset()
		}

		s.sink.SetSessionState(gen, models.StateDegraded, err)
		delay := s.backoff.Next()
		metrics.RecordReconnectAttempt()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"attempt": s.backoff.Attempt(),
			"delay":   delay.String(),
			"cursor":  s.cursor,
		}).Warn("Connection lost, reconnecting")

		if err := s.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// connect runs one connection until it fails. connectedAt is zero when the
// connection never got past the handshake.
func (s *Session) connect(ctx context.Context) (connectedAt time.Time, err error) {
	gen := s.opts.Generation
	if s.identity == nil {
		s.sink.SetSessionState(gen, models.StateConnecting, nil)
	}

	id, err := s.daemon.Identity(ctx)
	if err != nil {
		return time.Time{}, err
	}

	if s.identity == nil || !s.identity.SameRun(id) {
		reason := "initial"
		if s.identity != nil {
			reason = "identity_changed"
			s.logger.WithFields(logrus.Fields{
				"previous": s.identity.MyID,
				"current":  id.MyID,
			}).Info("Daemon identity changed, refreshing")
		}
		if _, err := s.refresh(ctx, reason); err != nil {
			return time.Time{}, err
		}
	}

	s.sink.SetSessionState(gen, models.StateConnected, nil)
	if s.opts.OnContact != nil {
		s.opts.OnContact()
	}
	connectedAt = s.now()

	stream := syncthing.NewStream(s.daemon, s.cursor, s.opts.EventLimit)
	for {
		ev, err := stream.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, errors.ErrCodeProtocol):
			// Malformed record: the reconciler records it and the stream goes on.
		case errors.Is(err, errors.ErrCodeCursor):
			s.logger.WithError(err).Info("Event cursor invalid, refreshing")
			fs, rerr := s.refresh(ctx, "cursor_invalid")
			if rerr != nil {
				return connectedAt, rerr
			}
			stream.Reset(fs.Barrier)
			continue
		default:
			s.cursor = stream.Cursor()
			return connectedAt, err
		}

		s.sink.Apply(gen, ev)
		s.cursor = stream.Cursor()

		if ev.Type == syncthing.EventConfigSaved && ev.Err == nil {
			if _, err := s.refresh(ctx, "config_saved"); err != nil {
				return connectedAt, err
			}
		}
	}
}

// refresh fetches and applies a full state. The stream cursor moves to the
// refresh barrier.
func (s *Session) refresh(ctx context.Context, reason string) (*syncthing.FullState, error) {
	fs, err := s.daemon.FullState(ctx)
	if err != nil {
		return nil, err
	}
	s.sink.ApplyRefresh(s.opts.Generation, fs)
	metrics.RecordFullRefresh(reason)

	id := fs.Identity
	s.identity = &id
	if reason != "config_saved" {
		s.cursor = fs.Barrier
	}
	return fs, nil
}

// Cursor returns the last acknowledged event id.
func (s *Session) Cursor() int64 {
	return s.cursor
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
