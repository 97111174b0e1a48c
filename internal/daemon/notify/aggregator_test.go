package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/synctray/internal/daemon/store"
	"github.com/grovetools/synctray/pkg/models"
)

type fixture struct {
	st  *store.Store
	agg *Aggregator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st := store.New(models.PauseScopeAll)
	agg := New(st, opts)
	seq := 0
	agg.newID = func() string {
		seq++
		return fmt.Sprintf("n-%d", seq)
	}
	agg.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, seq, 0, time.UTC) }
	return &fixture{st: st, agg: agg}
}

// change publishes a snapshot and feeds it to the aggregator.
func (f *fixture) change(fn func(s *models.Snapshot)) {
	f.st.Update(store.SourceInternal, func(s *models.Snapshot) bool {
		fn(s)
		return true
	})
	f.agg.Observe(f.st.Snapshot())
}

func (f *fixture) ofKind(kind models.NotificationKind) []models.Notification {
	var out []models.Notification
	for _, n := range f.agg.List() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func setDevice(id string, connected bool) func(*models.Snapshot) {
	return func(s *models.Snapshot) {
		d := s.Devices[id]
		d.ID = id
		d.Name = "laptop"
		d.Connected = connected
		s.Devices[id] = d
	}
}

func TestDisconnectedSupersededByConnected(t *testing.T) {
	f := newFixture(t, Options{})
	f.change(setDevice("DEV-A", true))
	assert.Empty(t, f.agg.List(), "a device appearing connected is not news")

	f.change(setDevice("DEV-A", false))
	got := f.ofKind(models.KindDisconnected)
	require.Len(t, got, 1)
	assert.Equal(t, "DEV-A", got[0].EntityID)
	assert.Contains(t, got[0].Text, "laptop")

	f.change(setDevice("DEV-A", true))
	assert.Empty(t, f.ofKind(models.KindDisconnected))
}

func TestSeenDisconnectedSurvivesReconnect(t *testing.T) {
	f := newFixture(t, Options{})
	f.change(setDevice("DEV-A", true))
	f.change(setDevice("DEV-A", false))
	n := f.ofKind(models.KindDisconnected)[0]
	require.True(t, f.agg.MarkSeen(n.ID))

	f.change(setDevice("DEV-A", true))
	got := f.ofKind(models.KindDisconnected)
	require.Len(t, got, 1)
	assert.True(t, got[0].Seen)
	assert.False(t, got[0].Dismissed)
}

func TestPausedDeviceIsNotReportedDisconnected(t *testing.T) {
	f := newFixture(t, Options{})
	f.change(setDevice("DEV-A", true))
	f.change(func(s *models.Snapshot) {
		d := s.Devices["DEV-A"]
		d.Connected = false
		d.Paused = true
		s.Devices["DEV-A"] = d
	})
	assert.Empty(t, f.agg.List())
}

func TestUnseenIsSupersededInPlace(t *testing.T) {
	f := newFixture(t, Options{})
	connected := func(s *models.Snapshot) {
		s.Session.ProfileID = "home"
		s.Session.State = models.StateConnected
		s.Session.LastError = ""
	}
	degraded := func(cause string) func(*models.Snapshot) {
		return func(s *models.Snapshot) {
			s.Session.State = models.StateDegraded
			s.Session.LastError = cause
		}
	}

	f.change(connected)
	f.change(degraded("connection refused"))
	first := f.ofKind(models.KindDisconnected)
	require.Len(t, first, 1)

	// Reconnect attempt fails again before the session recovers.
	f.change(func(s *models.Snapshot) { s.Session.State = models.StateConnecting })
	f.change(connected)
	assert.Empty(t, f.ofKind(models.KindDisconnected), "session reconnect removes the notification")

	f.change(degraded("timeout"))
	f.agg.mu.Lock()
	f.agg.raiseLocked(models.KindDisconnected, EntitySession, "Disconnected from home: reset by peer")
	f.agg.mu.Unlock()

	got := f.ofKind(models.KindDisconnected)
	require.Len(t, got, 1, "one unseen notification per kind and entity")
	assert.Equal(t, "Disconnected from home: reset by peer", got[0].Text)
	assert.NotEqual(t, first[0].ID, got[0].ID)

	require.True(t, f.agg.MarkSeen(got[0].ID))
	f.agg.mu.Lock()
	f.agg.raiseLocked(models.KindDisconnected, EntitySession, "again")
	f.agg.mu.Unlock()
	assert.Len(t, f.ofKind(models.KindDisconnected), 2, "a seen notification is not superseded")
}

func TestAuthErrorRaisesGeneric(t *testing.T) {
	f := newFixture(t, Options{})
	f.change(func(s *models.Snapshot) {
		s.Session.ProfileID = "home"
		s.Session.State = models.StateError
		s.Session.LastError = "AUTH_ERROR: daemon rejected the API key (status 403)"
	})
	got := f.ofKind(models.KindGeneric)
	require.Len(t, got, 1)
	assert.Equal(t, EntitySession, got[0].EntityID)
	assert.Contains(t, got[0].Text, "AUTH_ERROR")
}

func TestPendingNotifications(t *testing.T) {
	f := newFixture(t, Options{})
	f.change(func(s *models.Snapshot) {
		s.Devices["DEV-A"] = models.Device{ID: "DEV-A", Name: "laptop"}
		s.PendingDevices["DEV-NEW"] = models.PendingDevice{ID: "DEV-NEW", Name: "phone", Address: "10.0.0.9:22000"}
		s.PendingFolders[models.PendingFolderKey("music", "DEV-A")] =
			models.PendingFolder{ID: "music", Label: "Music", OfferedBy: "DEV-A"}
	})

	dev := f.ofKind(models.KindDeviceWantsToConnect)
	require.Len(t, dev, 1)
	assert.Equal(t, "DEV-NEW", dev[0].EntityID)
	assert.Equal(t, "Device phone wants to connect from 10.0.0.9:22000", dev[0].Text)

	folder := f.ofKind(models.KindNewFolderDiscovered)
	require.Len(t, folder, 1)
	assert.Equal(t, "music", folder[0].EntityID)
	assert.Equal(t, "Device laptop wants to share folder Music", folder[0].Text)

	// Unrelated change: nothing new.
	f.change(setDevice("DEV-A", false))
	assert.Len(t, f.agg.List(), 2)
}

func TestPendingOfferSurvivesSessionRebuild(t *testing.T) {
	f := newFixture(t, Options{})
	session := func(profile string, gen uint64) func(*models.Snapshot) {
		return func(s *models.Snapshot) {
			s.Session = models.SessionInfo{ProfileID: profile, Generation: gen, State: models.StateConnecting}
			s.PendingDevices = map[string]models.PendingDevice{}
			s.PendingFolders = map[string]models.PendingFolder{}
		}
	}
	offer := func(s *models.Snapshot) {
		s.Session.State = models.StateConnected
		s.PendingDevices["DEV-NEW"] = models.PendingDevice{ID: "DEV-NEW", Name: "phone"}
		s.PendingFolders[models.PendingFolderKey("music", "DEV-A")] = models.PendingFolder{ID: "music", OfferedBy: "DEV-A"}
	}

	f.change(session("home", 1))
	f.change(offer)
	require.Len(t, f.agg.List(), 2)
	for _, n := range f.agg.List() {
		require.True(t, f.agg.MarkSeen(n.ID))
	}

	// Reconnect, launcher restart or config rebuild: same offers again.
	f.change(session("home", 2))
	f.change(offer)
	assert.Len(t, f.agg.List(), 2, "offers already announced for this profile")

	// Withdrawn and offered again within the session.
	f.change(func(s *models.Snapshot) { delete(s.PendingDevices, "DEV-NEW") })
	f.change(offer)
	dev := f.ofKind(models.KindDeviceWantsToConnect)
	require.Len(t, dev, 2)
	assert.False(t, dev[0].Seen)
	assert.Len(t, f.ofKind(models.KindNewFolderDiscovered), 1)

	// Another profile has its own daemon and its own offers.
	f.change(session("nas", 3))
	f.change(offer)
	assert.Len(t, f.ofKind(models.KindDeviceWantsToConnect), 2, "unseen offer is updated in place")
	assert.Len(t, f.ofKind(models.KindNewFolderDiscovered), 2)
}

func TestLauncherCrashRaisesExactlyOne(t *testing.T) {
	f := newFixture(t, Options{})
	crash := func(launch uint64) func(*models.Snapshot) {
		return func(s *models.Snapshot) {
			code := 3
			s.Launcher = models.LauncherProcess{
				Launch:   launch,
				Status:   models.LauncherCrashed,
				ExitCode: &code,
				Error:    "LAUNCHER_ERROR: launcher error: syncthing",
			}
		}
	}
	f.change(func(s *models.Snapshot) {
		s.Launcher = models.LauncherProcess{Launch: 1, Status: models.LauncherRunning, PID: 42}
	})
	f.change(crash(1))
	f.change(func(s *models.Snapshot) { s.Session.State = models.StateDegraded })
	f.change(setDevice("DEV-A", true))

	got := f.ofKind(models.KindLauncherError)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Text, "LAUNCHER_ERROR")

	require.True(t, f.agg.MarkSeen(got[0].ID))
	f.change(func(s *models.Snapshot) {
		s.Launcher = models.LauncherProcess{Launch: 2, Status: models.LauncherStarting}
	})
	f.change(crash(2))
	assert.Len(t, f.ofKind(models.KindLauncherError), 2)
}

func TestLocalPathError(t *testing.T) {
	f := newFixture(t, Options{})
	f.change(func(s *models.Snapshot) {
		s.Folders["docs"] = models.Folder{ID: "docs", Path: "/data/docs", PathExists: false}
		s.Folders["photos"] = models.Folder{ID: "photos", Path: "/data/photos", PathExists: true}
	})
	got := f.ofKind(models.KindLocalPathError)
	require.Len(t, got, 1)
	assert.Equal(t, "docs", got[0].EntityID)
	assert.Contains(t, got[0].Text, "/data/docs")

	f.change(func(s *models.Snapshot) {
		d := s.Folders["docs"]
		d.PathExists = true
		s.Folders["docs"] = d
	})
	assert.Empty(t, f.ofKind(models.KindLocalPathError))
}

func TestInternalErrors(t *testing.T) {
	f := newFixture(t, Options{})
	f.change(func(s *models.Snapshot) {
		s.InternalErrors = []models.InternalError{
			{Seq: 2, Message: "second"},
			{Seq: 1, Message: "first"},
		}
	})
	got := f.ofKind(models.KindInternalError)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Text, "newest message wins")

	f.change(func(s *models.Snapshot) { s.Session.State = models.StateConnecting })
	assert.Len(t, f.ofKind(models.KindInternalError), 1)
}

func TestWarnSeenDismiss(t *testing.T) {
	f := newFixture(t, Options{})
	feed := f.agg.Subscribe()
	defer f.agg.Unsubscribe(feed)

	n := f.agg.Warn("the specified connection configuration 'nope' is not defined", "nope")
	assert.Equal(t, models.KindGeneric, n.Kind)
	assert.Equal(t, 1, f.agg.Unseen())

	got, ok := f.agg.Get(n.ID)
	require.True(t, ok)
	assert.Equal(t, n, got)

	assert.False(t, f.agg.MarkSeen("missing"))
	assert.False(t, f.agg.Dismiss("missing"))

	require.True(t, f.agg.MarkSeen(n.ID))
	assert.Equal(t, 0, f.agg.Unseen())
	require.True(t, f.agg.Dismiss(n.ID))
	assert.Empty(t, f.agg.List())

	added, seen, dismissed := <-feed, <-feed, <-feed
	assert.False(t, added.Seen)
	assert.True(t, seen.Seen)
	assert.True(t, dismissed.Dismissed)

	f.agg.Unsubscribe(feed)
	f.agg.Unsubscribe(feed)
}

func TestLimit(t *testing.T) {
	f := newFixture(t, Options{Limit: 3})
	for i := 0; i < 5; i++ {
		f.agg.Warn(fmt.Sprintf("warning %d", i), fmt.Sprintf("e%d", i))
	}
	list := f.agg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "warning 4", list[0].Text)
	assert.Equal(t, "warning 2", list[2].Text)
}

func TestStaleSnapshotsAreIgnored(t *testing.T) {
	f := newFixture(t, Options{})
	f.change(setDevice("DEV-A", true))
	old := f.st.Snapshot()
	f.change(setDevice("DEV-A", false))
	f.change(setDevice("DEV-A", true))

	f.agg.Observe(old)
	f.agg.Observe(nil)
	assert.Empty(t, f.agg.List())
}

func TestServe(t *testing.T) {
	st := store.New(models.PauseScopeAll)
	agg := New(st, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agg.Serve(ctx) }()

	require.Eventually(t, func() bool { return st.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	st.Update(store.SourceEvents, func(s *models.Snapshot) bool {
		s.PendingDevices["DEV-NEW"] = models.PendingDevice{ID: "DEV-NEW"}
		return true
	})

	require.Eventually(t, func() bool { return len(agg.List()) == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, st.Subscribers())
}
