package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/syncthing"
	"github.com/grovetools/synctray/testutil"
)

type poll struct {
	events []syncthing.Event
	err    error
}

// scriptedDaemon answers event polls from a script, then blocks until the
// context ends. done is closed when the script is exhausted.
type scriptedDaemon struct {
	mu         sync.Mutex
	identities []syncthing.Identity
	current    syncthing.Identity
	idErrs     []error
	barriers   []int64
	script     []poll
	since      []int64
	refreshes  int
	done       chan struct{}
	closed     bool
}

func newScriptedDaemon(script ...poll) *scriptedDaemon {
	return &scriptedDaemon{
		identities: []syncthing.Identity{{MyID: "SELF", StartTime: time.Unix(100, 0)}},
		barriers:   []int64{10},
		script:     script,
		done:       make(chan struct{}),
	}
}

func (d *scriptedDaemon) Identity(ctx context.Context) (syncthing.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.idErrs) > 0 {
		err := d.idErrs[0]
		d.idErrs = d.idErrs[1:]
		if err != nil {
			return syncthing.Identity{}, err
		}
	}
	d.current = d.identities[0]
	if len(d.identities) > 1 {
		d.identities = d.identities[1:]
	}
	return d.current, nil
}

func (d *scriptedDaemon) FullState(ctx context.Context) (*syncthing.FullState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refreshes++
	barrier := d.barriers[0]
	if len(d.barriers) > 1 {
		d.barriers = d.barriers[1:]
	}
	return &syncthing.FullState{Identity: d.current, Barrier: barrier}, nil
}

func (d *scriptedDaemon) Events(ctx context.Context, since int64, limit int) ([]syncthing.Event, error) {
	d.mu.Lock()
	d.since = append(d.since, since)
	if len(d.script) > 0 {
		p := d.script[0]
		d.script = d.script[1:]
		d.mu.Unlock()
		return p.events, p.err
	}
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	d.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (d *scriptedDaemon) polls() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.since...)
}

type recordingSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSink) record(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *recordingSink) SetSessionState(gen uint64, state models.ConnectionState, cause error) bool {
	s.record("state:%s", state)
	return true
}

func (s *recordingSink) ApplyRefresh(gen uint64, fs *syncthing.FullState) bool {
	s.record("refresh:%d", fs.Barrier)
	return true
}

func (s *recordingSink) Apply(gen uint64, events ...syncthing.Event) int {
	for _, ev := range events {
		s.record("apply:%d", ev.ID)
	}
	return len(events)
}

func (s *recordingSink) get() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func evs(ids ...int64) []syncthing.Event {
	out := make([]syncthing.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, syncthing.Event{ID: id, Type: syncthing.EventDeviceConnected})
	}
	return out
}

type runner struct {
	session *Session
	sleeps  []time.Duration
	cancel  context.CancelFunc
	result  chan error
}

func start(t *testing.T, d *scriptedDaemon, sink Sink, opts Options) *runner {
	t.Helper()
	if opts.Backoff.Initial == 0 {
		opts.Backoff = Backoff{Initial: time.Second, Max: time.Minute}
	}
	r := &runner{result: make(chan error, 1)}
	r.session = New(d, sink, opts)
	var mu sync.Mutex
	r.session.sleep = func(ctx context.Context, delay time.Duration) error {
		mu.Lock()
		r.sleeps = append(r.sleeps, delay)
		mu.Unlock()
		return ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() { r.result <- r.session.Run(ctx) }()
	t.Cleanup(cancel)
	return r
}

func (r *runner) stopAfter(t *testing.T, d *scriptedDaemon) error {
	t.Helper()
	select {
	case <-d.done:
	case err := <-r.result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("script not consumed")
	}
	r.cancel()
	select {
	case err := <-r.result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop")
	}
	return nil
}

func TestInitialConnectRefreshesBeforeEvents(t *testing.T) {
	d := newScriptedDaemon(poll{events: evs(11, 12)}, poll{}, poll{events: evs(13)})
	sink := &recordingSink{}
	contacts := 0

	r := start(t, d, sink, Options{Generation: 1, OnContact: func() { contacts++ }})
	require.NoError(t, r.stopAfter(t, d))

	assert.Equal(t, []string{
		"state:connecting", "refresh:10", "state:connected",
		"apply:11", "apply:12", "apply:13",
	}, sink.get())
	assert.Equal(t, []int64{10, 12, 12, 13}, d.polls())
	assert.Equal(t, 1, contacts)
	assert.Equal(t, int64(13), r.session.Cursor())
}

func TestCursorInvalidTriggersExactlyOneRefresh(t *testing.T) {
	d := newScriptedDaemon(
		poll{events: evs(11)},
		poll{events: evs(40, 41)}, // gap: the feed was truncated
		poll{events: evs(51)},
	)
	d.barriers = []int64{10, 50}
	sink := &recordingSink{}

	r := start(t, d, sink, Options{Generation: 1})
	require.NoError(t, r.stopAfter(t, d))

	assert.Equal(t, []string{
		"state:connecting", "refresh:10", "state:connected",
		"apply:11", "refresh:50", "apply:51",
	}, sink.get())
	assert.Equal(t, 2, d.refreshes)
	assert.Equal(t, []int64{10, 11, 50, 51}, d.polls())
}

func TestReconnectResumesFromCursor(t *testing.T) {
	cause := errors.ConnectionFailed("http://x", fmt.Errorf("reset by peer"))
	d := newScriptedDaemon(
		poll{events: evs(11, 12)},
		poll{err: cause},
		poll{events: evs(13)},
	)
	sink := &recordingSink{}

	r := start(t, d, sink, Options{Generation: 1})
	require.NoError(t, r.stopAfter(t, d))

	assert.Equal(t, []string{
		"state:connecting", "refresh:10", "state:connected",
		"apply:11", "apply:12",
		"state:degraded", "state:connected",
		"apply:13",
	}, sink.get())
	assert.Equal(t, 1, d.refreshes, "same daemon run needs no refresh")
	assert.Equal(t, []int64{10, 12, 12, 13}, d.polls())
	assert.Equal(t, []time.Duration{time.Second}, r.sleeps)
}

func TestBackoffGrowsWhileUnreachable(t *testing.T) {
	down := errors.ConnectionFailed("http://x", fmt.Errorf("refused"))
	d := newScriptedDaemon()
	d.idErrs = []error{down, down, down, nil}
	sink := &recordingSink{}

	r := start(t, d, sink, Options{Generation: 1})
	require.NoError(t, r.stopAfter(t, d))

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, r.sleeps)
	assert.Equal(t, "state:connected", sink.get()[len(sink.get())-1])
}

func TestIdentityChangeForcesRefresh(t *testing.T) {
	d := newScriptedDaemon(
		poll{events: evs(11)},
		poll{err: errors.ConnectionFailed("http://x", fmt.Errorf("eof"))},
		poll{events: evs(4)},
	)
	d.identities = []syncthing.Identity{
		{MyID: "SELF", StartTime: time.Unix(100, 0)},
		{MyID: "SELF", StartTime: time.Unix(900, 0)},
	}
	d.barriers = []int64{10, 3}
	sink := &recordingSink{}

	r := start(t, d, sink, Options{Generation: 1})
	require.NoError(t, r.stopAfter(t, d))

	assert.Equal(t, []string{
		"state:connecting", "refresh:10", "state:connected",
		"apply:11",
		"state:degraded", "refresh:3", "state:connected",
		"apply:4",
	}, sink.get())
	assert.Equal(t, []int64{10, 11, 3, 4}, d.polls())
}

func TestAuthErrorStopsWithoutRetry(t *testing.T) {
	d := newScriptedDaemon()
	d.idErrs = []error{errors.AuthRejected("http://x", 403)}
	sink := &recordingSink{}

	r := start(t, d, sink, Options{Generation: 1})
	select {
	case err := <-r.result:
		assert.True(t, errors.Is(err, errors.ErrCodeAuth))
	case <-time.After(5 * time.Second):
		t.Fatal("session kept running after auth error")
	}

	assert.Equal(t, []string{"state:connecting", "state:error"}, sink.get())
	assert.Empty(t, r.sleeps)
}

func TestConfigSavedTriggersRefresh(t *testing.T) {
	d := newScriptedDaemon(poll{events: []syncthing.Event{
		{ID: 11, Type: syncthing.EventConfigSaved},
		{ID: 12, Type: syncthing.EventFolderPaused},
	}})
	d.barriers = []int64{10, 12}
	sink := &recordingSink{}

	r := start(t, d, sink, Options{Generation: 1})
	require.NoError(t, r.stopAfter(t, d))

	assert.Equal(t, []string{
		"state:connecting", "refresh:10", "state:connected",
		"apply:11", "refresh:12", "apply:12",
	}, sink.get())
}

func TestMalformedRecordDoesNotStopStream(t *testing.T) {
	bad := syncthing.Event{ID: 12, Err: errors.MalformedEvent("", 12, fmt.Errorf("bad json"))}
	d := newScriptedDaemon(poll{events: []syncthing.Event{evs(11)[0], bad, evs(13)[0]}})
	sink := &recordingSink{}

	r := start(t, d, sink, Options{Generation: 1})
	require.NoError(t, r.stopAfter(t, d))

	assert.Equal(t, []string{
		"state:connecting", "refresh:10", "state:connected",
		"apply:11", "apply:12", "apply:13",
	}, sink.get())
}

func TestBackoffResetsAfterLongConnection(t *testing.T) {
	lost := errors.ConnectionFailed("http://x", fmt.Errorf("eof"))
	d := newScriptedDaemon(poll{err: lost}, poll{err: lost}, poll{err: lost})
	sink := &recordingSink{}

	clock := time.Unix(1000, 0)
	jump := false
	var mu sync.Mutex
	r := &runner{result: make(chan error, 1)}
	r.session = New(d, sink, Options{Generation: 1, Backoff: Backoff{Initial: time.Second, Max: 10 * time.Second}})
	r.session.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := clock
		if jump {
			jump = false
			clock = clock.Add(time.Minute)
		}
		return now
	}
	r.session.sleep = func(ctx context.Context, delay time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		r.sleeps = append(r.sleeps, delay)
		if len(r.sleeps) == 2 {
			// The next connection is held longer than the ceiling.
			jump = true
		}
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.cancel = cancel
	go func() { r.result <- r.session.Run(ctx) }()

	require.NoError(t, r.stopAfter(t, d))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, r.sleeps)
}

func TestStalledPollReconnectsFromCursor(t *testing.T) {
	fake := testutil.NewFakeDaemon(t)
	fake.Emit(syncthing.EventDeviceConnected, map[string]interface{}{"id": "DEV-A"})
	fake.Emit(syncthing.EventDeviceConnected, map[string]interface{}{"id": "DEV-B"})

	client := syncthing.NewClient(
		models.Profile{ID: "home", URL: fake.URL(), APIKey: fake.APIKey, Enabled: true},
		syncthing.Options{PollTimeout: time.Second, HeartbeatGrace: 200 * time.Millisecond},
	)
	sink := &recordingSink{}
	sess := New(client, sink, Options{Generation: 1, Backoff: Backoff{Initial: time.Second, Max: time.Minute}})
	var mu sync.Mutex
	var sleeps []time.Duration
	sess.sleep = func(ctx context.Context, delay time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, delay)
		mu.Unlock()
		return ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	testutil.Eventually(t, 5*time.Second, func() bool {
		return contains(sink.get(), "state:connected")
	}, "session did not connect")
	fake.StallEvents(1)

	testutil.Eventually(t, 10*time.Second, func() bool {
		calls := sink.get()
		return contains(calls, "state:degraded") && calls[len(calls)-1] == "state:connected"
	}, "session did not come back after the stalled poll")
	fake.Emit(syncthing.EventDeviceConnected, map[string]interface{}{"id": "DEV-C"})

	testutil.Eventually(t, 5*time.Second, func() bool {
		return contains(sink.get(), "apply:3")
	}, "event emitted after the stall was not applied")
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{
		"state:connecting", "refresh:2", "state:connected",
		"state:degraded", "state:connected",
		"apply:3",
	}, sink.get())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{time.Second}, sleeps)
	assert.Equal(t, int64(3), sess.Cursor())
}

func contains(calls []string, want string) bool {
	for _, c := range calls {
		if c == want {
			return true
		}
	}
	return false
}
