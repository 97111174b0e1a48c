package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/grovetools/synctray/internal/daemon/metrics"
	"github.com/grovetools/synctray/pkg/models"
)

const subscriberBuffer = 100

// Store publishes immutable snapshots. Readers never block writers: each
// Update clones the current snapshot, mutates the clone and swaps it in.
type Store struct {
	current atomic.Pointer[models.Snapshot]

	// writeMu serialises writers. mu guards the subscriber set.
	writeMu     sync.Mutex
	mu          sync.RWMutex
	subscribers map[chan Update]struct{}
	scope       models.PauseScope
	now         func() time.Time
	dropped     atomic.Uint64
}

// New creates a Store holding an empty snapshot.
func New(scope models.PauseScope) *Store {
	if scope == "" {
		scope = models.PauseScopeAll
	}
	s := &Store{
		subscribers: make(map[chan Update]struct{}),
		scope:       scope,
		now:         time.Now,
	}
	s.current.Store(models.NewSnapshot())
	return s
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (s *Store) Snapshot() *models.Snapshot {
	return s.current.Load()
}

// Version returns the version of the current snapshot.
func (s *Store) Version() uint64 {
	return s.current.Load().Version
}

// SetPauseScope changes the entities counted by the paused indicator and republishes.
func (s *Store) SetPauseScope(scope models.PauseScope) {
	s.Update(SourceConfig, func(*models.Snapshot) bool {
		s.scope = scope
		return true
	})
}

// Update applies fn to a copy of the current snapshot. When fn reports a
// change the copy gets the next version, is published and fanned out.
func (s *Store) Update(source Source, fn func(*models.Snapshot) bool) (*models.Snapshot, bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.current.Load()
	next := prev.Clone()
	if !fn(next) {
		return prev, false
	}

	next.AggregatePaused = models.AggregatePaused(next, s.scope)
	next.Version = prev.Version + 1
	next.UpdatedAt = s.now()
	s.current.Store(next)

	s.broadcast(Update{Version: next.Version, Source: source, Snapshot: next})
	return next, true
}

func (s *Store) broadcast(u Update) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subscribers {
		select {
		case ch <- u:
		default:
			s.dropped.Add(1)
			metrics.RecordSubscriberDrop()
		}
	}
}

// Dropped returns the number of updates lost to full subscriber buffers.
func (s *Store) Dropped() uint64 {
	return s.dropped.Load()
}

// Subscribe creates a new subscription channel for snapshot updates.
func (s *Store) Subscribe() chan Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Update, subscriberBuffer)
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Store) Unsubscribe(ch chan Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; !ok {
		return
	}
	delete(s.subscribers, ch)
	close(ch)
}

// Subscribers returns the number of active subscriptions.
func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
