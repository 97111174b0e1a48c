package reconciler

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/internal/daemon/store"
	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/syncthing"
)

var t0 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	*Reconciler
	gen   uint64
	seq   int64
	clock time.Time
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	r, err := New(store.New(models.PauseScopeAll), opts)
	require.NoError(t, err)
	h := &harness{Reconciler: r, gen: 1, clock: t0}
	r.now = func() time.Time { return h.clock }
	r.BeginSession(h.gen, "home")
	return h
}

func (h *harness) snap() *models.Snapshot {
	return h.Store().Snapshot()
}

// ev builds the next event of the feed.
func (h *harness) ev(typ string, data interface{}) syncthing.Event {
	h.seq++
	h.clock = h.clock.Add(time.Second)
	return syncthing.Event{ID: h.seq, Type: typ, Time: h.clock, Data: data}
}

func (h *harness) apply(typ string, data interface{}) int {
	return h.Apply(h.gen, h.ev(typ, data))
}

func fullState(barrier int64) *syncthing.FullState {
	return &syncthing.FullState{
		Identity: syncthing.Identity{MyID: "SELF", StartTime: t0},
		Barrier:  barrier,
		Devices: []models.Device{
			{ID: "DEV-A", Name: "laptop", Connected: true},
			{ID: "DEV-B", Name: "phone"},
		},
		Folders: []models.Folder{
			{ID: "docs", Label: "Documents", Path: "/data/docs", PathExists: true, ScanState: models.ScanIdle},
			{ID: "photos", Path: "/data/photos", PathExists: true, ScanState: models.ScanIdle},
		},
		PendingDevices: []models.PendingDevice{{ID: "DEV-NEW", Name: "tablet"}},
		PendingFolders: []models.PendingFolder{{ID: "music", OfferedBy: "DEV-A"}},
	}
}

func entities(s *models.Snapshot) interface{} {
	return []interface{}{s.Session, s.Devices, s.Folders, s.Downloads, s.PendingDevices, s.PendingFolders, s.AggregatePaused}
}

func TestBeginSession(t *testing.T) {
	h := newHarness(t, Options{})
	s := h.snap()
	assert.Equal(t, "home", s.Session.ProfileID)
	assert.Equal(t, uint64(1), s.Session.Generation)
	assert.Equal(t, models.StateConnecting, s.Session.State)
}

func TestFullRefreshIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	require.True(t, h.ApplyRefresh(h.gen, fullState(10)))
	first := h.snap()

	require.True(t, h.ApplyRefresh(h.gen, fullState(10)))
	second := h.snap()

	assert.Greater(t, second.Version, first.Version)
	assert.Equal(t, entities(first), entities(second))
	assert.Equal(t, int64(10), second.Session.Cursor)
	assert.Equal(t, "SELF", second.Session.DaemonID)
	assert.Len(t, second.PendingFolders, 1)
}

func TestFullRefreshReplacesAndPreserves(t *testing.T) {
	h := newHarness(t, Options{})
	h.seq = 10
	h.ApplyRefresh(h.gen, fullState(10))

	h.apply(syncthing.EventDeviceDisconnected, map[string]interface{}{"id": "DEV-B"})
	lastSeen := h.clock
	h.apply(syncthing.EventStateChanged, map[string]interface{}{"folder": "docs", "from": "idle", "to": "scanning"})
	h.apply(syncthing.EventStateChanged, map[string]interface{}{"folder": "docs", "from": "scanning", "to": "idle"})
	lastScan := h.clock
	h.apply(syncthing.EventItemStarted, map[string]interface{}{"folder": "photos", "item": "a.jpg", "type": "file", "action": "update"})
	h.apply(syncthing.EventItemStarted, map[string]interface{}{"folder": "docs", "item": "b.txt", "type": "file", "action": "update"})
	h.apply(syncthing.EventDeviceConnected, map[string]interface{}{"id": "DEV-GONE"})
	require.Len(t, h.snap().Downloads, 2)
	require.Contains(t, h.snap().Devices, "DEV-GONE")

	fs := fullState(h.seq)
	fs.Folders = fs.Folders[:1] // photos vanished
	require.True(t, h.ApplyRefresh(h.gen, fs))

	s := h.snap()
	assert.NotContains(t, s.Devices, "DEV-GONE", "entities missing from a refresh are removed")
	assert.NotContains(t, s.Folders, "photos")
	assert.Equal(t, lastSeen, s.Devices["DEV-B"].LastSeen)
	assert.Equal(t, lastScan, s.Folders["docs"].LastScan)
	assert.Len(t, s.Downloads, 1)
	assert.Contains(t, s.Downloads, models.DownloadKey("docs", "b.txt"))
}

func TestEventsUpToBarrierAreDropped(t *testing.T) {
	h := newHarness(t, Options{})
	h.ApplyRefresh(h.gen, fullState(20))

	stale := syncthing.Event{ID: 15, Type: syncthing.EventDeviceConnected, Time: t0, Data: map[string]interface{}{"id": "DEV-LATE"}}
	assert.Equal(t, 0, h.Apply(h.gen, stale))
	assert.NotContains(t, h.snap().Devices, "DEV-LATE")

	fresh := syncthing.Event{ID: 21, Type: syncthing.EventDeviceConnected, Time: t0, Data: map[string]interface{}{"id": "DEV-LATE"}}
	assert.Equal(t, 1, h.Apply(h.gen, fresh))
	assert.Contains(t, h.snap().Devices, "DEV-LATE")
	assert.Equal(t, int64(21), h.snap().Session.Cursor)
}

func TestStaleGenerationIsDiscarded(t *testing.T) {
	h := newHarness(t, Options{})
	h.ApplyRefresh(h.gen, fullState(0))
	h.BeginSession(2, "nas")
	version := h.snap().Version

	assert.Equal(t, 0, h.Apply(1, h.ev(syncthing.EventDevicePaused, map[string]interface{}{"device": "DEV-A"})))
	assert.False(t, h.ApplyRefresh(1, fullState(0)))
	assert.False(t, h.SetSessionState(1, models.StateConnected, nil))
	assert.False(t, h.HintDevicesPaused(1, "", true))
	h.EndSession(1)

	s := h.snap()
	assert.Equal(t, version, s.Version)
	assert.Equal(t, "nas", s.Session.ProfileID)
	assert.Empty(t, s.Devices)
}

func TestEndSessionClearsEntities(t *testing.T) {
	h := newHarness(t, Options{})
	h.ApplyRefresh(h.gen, fullState(0))
	h.EndSession(h.gen)

	s := h.snap()
	assert.Equal(t, models.StateDisconnected, s.Session.State)
	assert.Empty(t, s.Session.ProfileID)
	assert.Empty(t, s.Devices)
	assert.Empty(t, s.Folders)
	assert.False(t, s.AggregatePaused)
}

func TestSessionState(t *testing.T) {
	h := newHarness(t, Options{})

	require.True(t, h.SetSessionState(h.gen, models.StateConnected, nil))
	assert.Equal(t, t0, h.snap().Session.ConnectedSince)
	assert.False(t, h.SetSessionState(h.gen, models.StateConnected, nil))

	cause := errors.ConnectionFailed("http://x", fmt.Errorf("refused"))
	require.True(t, h.SetSessionState(h.gen, models.StateDegraded, cause))
	s := h.snap()
	assert.Equal(t, models.StateDegraded, s.Session.State)
	assert.Contains(t, s.Session.LastError, "refused")
	assert.True(t, s.Session.ConnectedSince.IsZero())

	h.SetSessionState(h.gen, models.StateConnected, nil)
	assert.Empty(t, h.snap().Session.LastError)
}

func TestUnknownEntitiesAreCreated(t *testing.T) {
	h := newHarness(t, Options{})

	h.apply(syncthing.EventDeviceConnected, map[string]interface{}{"id": "DEV-X", "deviceName": "desktop", "addr": "10.0.0.2:22000"})
	h.apply(syncthing.EventFolderPaused, map[string]interface{}{"id": "new-folder", "label": "New"})

	s := h.snap()
	require.Contains(t, s.Devices, "DEV-X")
	assert.Equal(t, "desktop", s.Devices["DEV-X"].Name)
	assert.True(t, s.Devices["DEV-X"].Connected)
	assert.Equal(t, "10.0.0.2:22000", s.Devices["DEV-X"].Address)
	require.Contains(t, s.Folders, "new-folder")
	assert.True(t, s.Folders["new-folder"].Paused)
	assert.True(t, s.AggregatePaused)
}

func TestMalformedEventsBecomeInternalErrors(t *testing.T) {
	h := newHarness(t, Options{InternalErrorsLimit: 2})
	h.ApplyRefresh(h.gen, fullState(0))

	h.apply(syncthing.EventDevicePaused, nil)
	h.apply(syncthing.EventStateChanged, "not an object")
	bad := h.ev("", nil)
	bad.Err = errors.MalformedEvent("", bad.ID, fmt.Errorf("unexpected token"))
	h.Apply(h.gen, bad)
	h.apply(syncthing.EventDevicePaused, map[string]interface{}{"device": "DEV-A"})

	s := h.snap()
	require.Len(t, s.InternalErrors, 2)
	assert.Equal(t, uint64(3), s.InternalErrors[0].Seq, "newest first")
	assert.Equal(t, string(errors.ErrCodeProtocol), s.InternalErrors[0].Code)
	assert.True(t, s.Devices["DEV-A"].Paused, "stream continues after malformed records")
	assert.Equal(t, int64(4), s.Session.Cursor)
}

func TestScanStateTransitions(t *testing.T) {
	h := newHarness(t, Options{})
	h.ApplyRefresh(h.gen, fullState(0))

	state := func(to, reason string) {
		h.apply(syncthing.EventStateChanged, map[string]interface{}{"folder": "docs", "to": to, "error": reason})
	}

	state("scanning", "")
	assert.Equal(t, models.ScanScanning, h.snap().Folders["docs"].ScanState)

	state("sync-preparing", "")
	f := h.snap().Folders["docs"]
	assert.Equal(t, models.ScanSyncing, f.ScanState)
	assert.Equal(t, h.clock, f.LastScan, "leaving scanning records the scan time")

	state("error", "folder marker missing")
	f = h.snap().Folders["docs"]
	assert.Equal(t, models.ScanError, f.ScanState)
	assert.Equal(t, "folder marker missing", f.Error)

	state("idle", "")
	f = h.snap().Folders["docs"]
	assert.Equal(t, models.ScanIdle, f.ScanState)
	assert.Empty(t, f.Error)
}

func TestOutOfOrderStateIsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	h.ApplyRefresh(h.gen, fullState(0))

	h.apply(syncthing.EventStateChanged, map[string]interface{}{"folder": "docs", "to": "scanning"})
	late := syncthing.Event{ID: 99, Type: syncthing.EventStateChanged, Time: t0.Add(-time.Hour),
		Data: map[string]interface{}{"folder": "docs", "to": "idle"}}
	assert.Equal(t, 0, h.Apply(h.gen, late))
	assert.Equal(t, models.ScanScanning, h.snap().Folders["docs"].ScanState)
}

func TestFolderSummary(t *testing.T) {
	h := newHarness(t, Options{})
	h.ApplyRefresh(h.gen, fullState(0))

	h.apply(syncthing.EventFolderSummary, map[string]interface{}{
		"folder": "docs",
		"summary": map[string]interface{}{
			"state":       "syncing",
			"needFiles":   "7",
			"globalFiles": 120,
			"errors":      2,
		},
	})

	f := h.snap().Folders["docs"]
	assert.Equal(t, int64(7), f.NeedFiles)
	assert.Equal(t, int64(120), f.GlobalFiles)
	assert.Equal(t, 2, f.ItemErrors)
	assert.Equal(t, models.ScanSyncing, f.ScanState)

	h.apply(syncthing.EventFolderErrors, map[string]interface{}{
		"folder": "docs",
		"errors": []interface{}{map[string]interface{}{"path": "a", "error": "denied"}},
	})
	assert.Equal(t, 1, h.snap().Folders["docs"].ItemErrors)
}

func TestDownloads(t *testing.T) {
	h := newHarness(t, Options{})
	h.ApplyRefresh(h.gen, fullState(0))

	h.apply(syncthing.EventItemStarted, map[string]interface{}{"folder": "docs", "item": "report.pdf", "type": "file", "action": "update"})
	h.apply(syncthing.EventItemStarted, map[string]interface{}{"folder": "ghost", "item": "x", "type": "file", "action": "update"})
	h.apply(syncthing.EventItemStarted, map[string]interface{}{"folder": "docs", "item": "old.txt", "type": "file", "action": "delete"})
	require.Len(t, h.snap().Downloads, 1, "downloads of unknown folders are dropped")
	started := h.clock

	h.apply(syncthing.EventDownloadProgress, map[string]interface{}{
		"docs":  map[string]interface{}{"report.pdf": map[string]interface{}{"total": 10, "pulled": 5, "bytesDone": 600, "bytesTotal": 1200}},
		"ghost": map[string]interface{}{"x": map[string]interface{}{"total": 1}},
	})
	key := models.DownloadKey("docs", "report.pdf")
	dl := h.snap().Downloads[key]
	assert.InDelta(t, 0.5, dl.Progress, 1e-9)
	assert.Equal(t, started.Add(-2*time.Second), dl.StartedAt)
	assert.Len(t, h.snap().Downloads, 1)

	h.apply(syncthing.EventItemFinished, map[string]interface{}{"folder": "docs", "item": "report.pdf", "type": "file", "action": "update"})
	assert.Empty(t, h.snap().Downloads)
}

func TestPausingFolderDropsDownloads(t *testing.T) {
	h := newHarness(t, Options{})
	h.ApplyRefresh(h.gen, fullState(0))
	h.apply(syncthing.EventItemStarted, map[string]interface{}{"folder": "docs", "item": "a", "action": "update"})
	h.apply(syncthing.EventFolderPaused, map[string]interface{}{"id": "docs"})
	assert.Empty(t, h.snap().Downloads)
}

func TestPendingDevicesAndFolders(t *testing.T) {
	h := newHarness(t, Options{})
	h.ApplyRefresh(h.gen, fullState(0))

	h.apply(syncthing.EventPendingDevicesChanged, map[string]interface{}{
		"added":   []interface{}{map[string]interface{}{"deviceID": "DEV-Q", "name": "guest", "address": "1.2.3.4"}},
		"removed": []interface{}{map[string]interface{}{"deviceID": "DEV-NEW"}},
	})
	s := h.snap()
	assert.Contains(t, s.PendingDevices, "DEV-Q")
	assert.NotContains(t, s.PendingDevices, "DEV-NEW")

	h.apply(syncthing.EventDeviceConnected, map[string]interface{}{"id": "DEV-Q"})
	assert.NotContains(t, h.snap().PendingDevices, "DEV-Q")

	h.apply(syncthing.EventPendingFoldersChanged, map[string]interface{}{
		"added": []interface{}{
			map[string]interface{}{"deviceID": "DEV-B", "folderID": "music", "folderLabel": "Music"},
			map[string]interface{}{"deviceID": "DEV-B", "folderID": "docs"},
		},
	})
	s = h.snap()
	assert.Len(t, s.PendingFolders, 2, "offers of folders already shared are skipped")

	h.apply(syncthing.EventPendingFoldersChanged, map[string]interface{}{
		"removed": []interface{}{map[string]interface{}{"folderID": "music"}},
	})
	assert.Empty(t, h.snap().PendingFolders)

	h.apply(syncthing.EventFolderRejected, map[string]interface{}{"device": "DEV-A", "folder": "videos", "folderLabel": "Videos"})
	assert.Contains(t, h.snap().PendingFolders, models.PendingFolderKey("videos", "DEV-A"))
}

func TestRecentChanges(t *testing.T) {
	h := newHarness(t, Options{RecentChangesLimit: 3, IgnorePaths: []string{"*.tmp", ".stversions"}})
	h.ApplyRefresh(h.gen, fullState(0))

	change := func(typ, path string) {
		h.apply(typ, map[string]interface{}{"folder": "docs", "path": path, "action": "modified", "type": "file", "modifiedBy": "DEVA"})
	}
	change(syncthing.EventLocalChangeDetected, "a.txt")
	change(syncthing.EventRemoteChangeDetected, "b.txt")
	change(syncthing.EventRemoteChangeDetected, "c.tmp")
	change(syncthing.EventRemoteChangeDetected, ".stversions/old/b.txt")
	change(syncthing.EventRemoteChangeDetected, "d.txt")
	change(syncthing.EventRemoteChangeDetected, "e.txt")

	s := h.snap()
	require.Len(t, s.RecentChanges, 3)
	assert.Equal(t, "e.txt", s.RecentChanges[0].Path)
	assert.Equal(t, "b.txt", s.RecentChanges[2].Path)
	assert.Equal(t, "Documents", s.RecentChanges[0].FolderLabel)
	assert.False(t, s.RecentChanges[0].Local)
}

func TestInvalidIgnorePattern(t *testing.T) {
	_, err := New(store.New(models.PauseScopeAll), Options{IgnorePaths: []string{"[-]"}})
	assert.True(t, errors.Is(err, errors.ErrCodeConfigInvalid))
}

func TestAggregatePauseMatchesRecomputation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	h := newHarness(t, Options{})
	h.ApplyRefresh(h.gen, fullState(0))

	devices := []string{"DEV-A", "DEV-B", "DEV-C"}
	folders := []string{"docs", "photos", "music"}
	for i := 0; i < 300; i++ {
		switch rng.Intn(4) {
		case 0:
			h.apply(syncthing.EventDevicePaused, map[string]interface{}{"device": devices[rng.Intn(3)]})
		case 1:
			h.apply(syncthing.EventDeviceResumed, map[string]interface{}{"device": devices[rng.Intn(3)]})
		case 2:
			h.apply(syncthing.EventFolderPaused, map[string]interface{}{"id": folders[rng.Intn(3)]})
		case 3:
			h.apply(syncthing.EventFolderResumed, map[string]interface{}{"id": folders[rng.Intn(3)]})
		}
		s := h.snap()
		require.Equal(t, models.AggregatePaused(s, models.PauseScopeAll), s.AggregatePaused, "step %d", i)
	}
}

func TestResumeAllScenario(t *testing.T) {
	h := newHarness(t, Options{})
	fs := fullState(0)
	fs.Folders[0].Paused = true // docs paused, photos running
	h.ApplyRefresh(h.gen, fs)
	require.True(t, h.snap().AggregatePaused)

	// Optimistic hints after ResumeAll was accepted.
	h.HintDevicesPaused(h.gen, "", false)
	h.HintFoldersPaused(h.gen, "", false)
	assert.False(t, h.snap().AggregatePaused)

	// The daemon confirms.
	h.apply(syncthing.EventFolderResumed, map[string]interface{}{"id": "docs"})
	s := h.snap()
	assert.False(t, s.Folders["docs"].Paused)
	assert.False(t, s.Folders["photos"].Paused)
	assert.False(t, s.AggregatePaused)
}

func TestHintsAreOverwrittenByEvents(t *testing.T) {
	h := newHarness(t, Options{})
	h.ApplyRefresh(h.gen, fullState(0))

	h.HintDevicesPaused(h.gen, "DEV-A", true)
	assert.True(t, h.snap().Devices["DEV-A"].Paused)

	h.apply(syncthing.EventDeviceResumed, map[string]interface{}{"device": "DEV-A"})
	assert.False(t, h.snap().Devices["DEV-A"].Paused)

	h.HintFoldersPaused(h.gen, "photos", true)
	assert.True(t, h.snap().Folders["photos"].Paused)
	h.apply(syncthing.EventFolderResumed, map[string]interface{}{"id": "photos"})
	assert.False(t, h.snap().Folders["photos"].Paused)
}

func TestSetLauncher(t *testing.T) {
	h := newHarness(t, Options{})
	code := 3
	proc := models.LauncherProcess{Launch: 1, Status: models.LauncherCrashed, ExitCode: &code}

	require.True(t, h.SetLauncher(proc))
	assert.False(t, h.SetLauncher(proc))

	code = 4
	assert.Equal(t, 3, *h.snap().Launcher.ExitCode, "published exit code is copied")
}

func TestRecordInternalError(t *testing.T) {
	h := newHarness(t, Options{})
	h.RecordInternalError(fmt.Errorf("plain"))
	h.RecordInternalError(nil)

	s := h.snap()
	require.Len(t, s.InternalErrors, 1)
	assert.Equal(t, string(errors.ErrCodeInternal), s.InternalErrors[0].Code)
}
