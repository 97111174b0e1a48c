// Package notify derives user-facing notifications from snapshot changes.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/internal/daemon/metrics"
	"github.com/grovetools/synctray/internal/daemon/store"
	"github.com/grovetools/synctray/logging"
	"github.com/grovetools/synctray/pkg/models"
)

// Entity ids used for notifications that do not refer to a device or folder.
const (
	EntitySession  = "session"
	EntityLauncher = "launcher"
	EntityInternal = "internal"
)

const (
	DefaultLimit = 200
	feedBuffer   = 50
)

// Options configures an Aggregator.
type Options struct {
	// Limit bounds the retained notifications; the oldest are dropped first.
	Limit int
}

// Aggregator keeps the notification feed. At most one unseen notification
// exists per (kind, entity); a newer one replaces its text in place.
type Aggregator struct {
	store  *store.Store
	logger *logrus.Entry
	limit  int
	now    func() time.Time
	newID  func() string

	mu    sync.Mutex
	items []models.Notification // newest first
	last  *models.Snapshot
	feed  map[chan models.Notification]struct{}
	// offers holds the pending offers already announced, per profile.
	// Entries outlive session rebuilds and go when the daemon withdraws the offer.
	offers map[string]map[string]bool
}

// New creates an Aggregator reading from st.
func New(st *store.Store, opts Options) *Aggregator {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	return &Aggregator{
		store:  st,
		logger: logging.NewLogger("notify"),
		limit:  opts.Limit,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		feed:   make(map[chan models.Notification]struct{}),
		offers: make(map[string]map[string]bool),
	}
}

// Serve consumes store updates until ctx is done.
func (a *Aggregator) Serve(ctx context.Context) error {
	updates := a.store.Subscribe()
	defer a.store.Unsubscribe(updates)

	a.Observe(a.store.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			a.Observe(u.Snapshot)
		}
	}
}

func (a *Aggregator) String() string {
	return "notify"
}

// Observe diffs next against the previously observed snapshot. Snapshots
// older than the last one observed are ignored.
func (a *Aggregator) Observe(next *models.Snapshot) {
	if next == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.last
	if prev == nil {
		prev = models.NewSnapshot()
	} else if next.Version <= prev.Version {
		return
	}
	a.last = next

	a.diffSession(prev, next)
	a.diffDevices(prev, next)
	a.diffPending(prev, next)
	a.diffFolders(prev, next)
	a.diffLauncher(prev, next)
	a.diffInternalErrors(prev, next)

	metrics.SetUnseenNotifications(a.unseenLocked())
}

func (a *Aggregator) diffSession(prev, next *models.Snapshot) {
	ps, ns := prev.Session, next.Session
	if ps.State == ns.State && ps.Generation == ns.Generation {
		return
	}
	switch {
	case ns.State == models.StateConnected:
		a.retractLocked(models.KindDisconnected, EntitySession)
	case ns.State == models.StateDegraded && ps.State == models.StateConnected:
		text := fmt.Sprintf("Disconnected from %s", ns.ProfileID)
		if ns.LastError != "" {
			text += ": " + ns.LastError
		}
		a.raiseLocked(models.KindDisconnected, EntitySession, text)
	case ns.State == models.StateError:
		a.raiseLocked(models.KindGeneric, EntitySession,
			fmt.Sprintf("Connection to %s failed and will not be retried: %s", ns.ProfileID, ns.LastError))
	}
}

func (a *Aggregator) diffDevices(prev, next *models.Snapshot) {
	for id, d := range next.Devices {
		old, ok := prev.Devices[id]
		if !ok {
			continue
		}
		switch {
		case !old.Connected && d.Connected:
			a.retractLocked(models.KindDisconnected, id)
		case old.Connected && !d.Connected && !d.Paused:
			a.raiseLocked(models.KindDisconnected, id,
				fmt.Sprintf("Device %s disconnected", d.DisplayName()))
		}
	}
}

// diffPending announces each pending offer once per profile. Offers the
// daemon repeats after a reconnect or a profile switch are not raised again.
func (a *Aggregator) diffPending(prev, next *models.Snapshot) {
	profile := next.Session.ProfileID
	announced := a.offers[profile]
	if announced == nil {
		announced = make(map[string]bool)
		a.offers[profile] = announced
	}

	// Maps emptied by a new or ended session say nothing about the offers.
	if profile != "" && prev.Session.ProfileID == profile && prev.Session.Generation == next.Session.Generation {
		for id := range prev.PendingDevices {
			if _, ok := next.PendingDevices[id]; !ok {
				delete(announced, offerKey(models.KindDeviceWantsToConnect, id))
			}
		}
		for key := range prev.PendingFolders {
			if _, ok := next.PendingFolders[key]; !ok {
				delete(announced, offerKey(models.KindNewFolderDiscovered, key))
			}
		}
	}

	for id, p := range next.PendingDevices {
		key := offerKey(models.KindDeviceWantsToConnect, id)
		if _, ok := prev.PendingDevices[id]; ok || announced[key] {
			continue
		}
		announced[key] = true
		name := p.Name
		if name == "" {
			name = id
		}
		text := fmt.Sprintf("Device %s wants to connect", name)
		if p.Address != "" {
			text += fmt.Sprintf(" from %s", p.Address)
		}
		a.raiseLocked(models.KindDeviceWantsToConnect, id, text)
	}
	for folderKey, p := range next.PendingFolders {
		key := offerKey(models.KindNewFolderDiscovered, folderKey)
		if _, ok := prev.PendingFolders[folderKey]; ok || announced[key] {
			continue
		}
		announced[key] = true
		label := p.Label
		if label == "" {
			label = p.ID
		}
		by := p.OfferedBy
		if d, ok := next.Devices[p.OfferedBy]; ok {
			by = d.DisplayName()
		}
		a.raiseLocked(models.KindNewFolderDiscovered, p.ID,
			fmt.Sprintf("Device %s wants to share folder %s", by, label))
	}
}

func offerKey(kind models.NotificationKind, entity string) string {
	return string(kind) + "/" + entity
}

func (a *Aggregator) diffFolders(prev, next *models.Snapshot) {
	for id, f := range next.Folders {
		old, known := prev.Folders[id]
		existed := !known || old.PathExists
		switch {
		case !f.PathExists && existed:
			a.raiseLocked(models.KindLocalPathError, id, errors.LocalPathMissing(id, f.Path).Message)
		case f.PathExists && known && !old.PathExists:
			a.retractLocked(models.KindLocalPathError, id)
		}
	}
}

// diffLauncher raises one LauncherError per crashed launch.
func (a *Aggregator) diffLauncher(prev, next *models.Snapshot) {
	nl, pl := next.Launcher, prev.Launcher
	if nl.Status != models.LauncherCrashed {
		return
	}
	if pl.Status == models.LauncherCrashed && pl.Launch == nl.Launch {
		return
	}
	text := "The daemon exited unexpectedly"
	if nl.Error != "" {
		text = nl.Error
	}
	a.raiseLocked(models.KindLauncherError, EntityLauncher, text)
}

func (a *Aggregator) diffInternalErrors(prev, next *models.Snapshot) {
	var lastSeq uint64
	if len(prev.InternalErrors) > 0 {
		lastSeq = prev.InternalErrors[0].Seq
	}
	// Newest first; raise oldest new entry first so the newest text wins.
	for i := len(next.InternalErrors) - 1; i >= 0; i-- {
		ie := next.InternalErrors[i]
		if ie.Seq <= lastSeq {
			continue
		}
		a.raiseLocked(models.KindInternalError, EntityInternal, ie.Message)
	}
}

// Warn raises a Generic notification, used for configuration problems.
func (a *Aggregator) Warn(text, entity string) models.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.raiseLocked(models.KindGeneric, entity, text)
	metrics.SetUnseenNotifications(a.unseenLocked())
	return n
}

func (a *Aggregator) raiseLocked(kind models.NotificationKind, entity, text string) models.Notification {
	now := a.now()
	metrics.RecordNotification(kind)
	for i := range a.items {
		n := &a.items[i]
		if n.Kind == kind && n.EntityID == entity && !n.Seen {
			n.Text = text
			n.Time = now
			a.publishLocked(*n)
			return *n
		}
	}

	n := models.Notification{
		ID:       a.newID(),
		Kind:     kind,
		Text:     text,
		EntityID: entity,
		Time:     now,
	}
	a.items = append([]models.Notification{n}, a.items...)
	if len(a.items) > a.limit {
		a.items = a.items[:a.limit]
	}
	a.logger.WithFields(logrus.Fields{
		"kind":   kind,
		"entity": entity,
	}).Info(text)
	a.publishLocked(n)
	return n
}

// retractLocked removes the unseen notification for (kind, entity).
func (a *Aggregator) retractLocked(kind models.NotificationKind, entity string) {
	for i, n := range a.items {
		if n.Kind == kind && n.EntityID == entity && !n.Seen {
			a.items = append(a.items[:i:i], a.items[i+1:]...)
			n.Dismissed = true
			a.publishLocked(n)
			return
		}
	}
}

// List returns the retained notifications, newest first.
func (a *Aggregator) List() []models.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Notification(nil), a.items...)
}

// Get returns the notification with id.
func (a *Aggregator) Get(id string) (models.Notification, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range a.items {
		if n.ID == id {
			return n, true
		}
	}
	return models.Notification{}, false
}

// Unseen counts notifications not yet marked seen.
func (a *Aggregator) Unseen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unseenLocked()
}

func (a *Aggregator) unseenLocked() int {
	n := 0
	for _, item := range a.items {
		if !item.Seen {
			n++
		}
	}
	return n
}

// MarkSeen marks a notification seen. It reports false for unknown ids.
func (a *Aggregator) MarkSeen(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.items {
		if a.items[i].ID == id {
			if !a.items[i].Seen {
				a.items[i].Seen = true
				a.publishLocked(a.items[i])
				metrics.SetUnseenNotifications(a.unseenLocked())
			}
			return true
		}
	}
	return false
}

// Dismiss removes a notification. It reports false for unknown ids.
func (a *Aggregator) Dismiss(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, n := range a.items {
		if n.ID == id {
			a.items = append(a.items[:i:i], a.items[i+1:]...)
			n.Dismissed = true
			a.publishLocked(n)
			metrics.SetUnseenNotifications(a.unseenLocked())
			return true
		}
	}
	return false
}

// Subscribe returns a channel receiving every added, updated, seen or
// dismissed notification. Slow readers miss entries.
func (a *Aggregator) Subscribe() chan models.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan models.Notification, feedBuffer)
	a.feed[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a feed channel.
func (a *Aggregator) Unsubscribe(ch chan models.Notification) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.feed[ch]; !ok {
		return
	}
	delete(a.feed, ch)
	close(ch)
}

func (a *Aggregator) publishLocked(n models.Notification) {
	for ch := range a.feed {
		select {
		case ch <- n:
		default:
		}
	}
}
