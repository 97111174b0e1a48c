// Package profile keeps the set of connection profiles and the current selection.
package profile

import (
	"fmt"
	"sort"
	"sync"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/pkg/models"
)

// Store holds the configured profiles. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
	order    []string
	selected string
}

// NewStore creates a store holding profiles.
func NewStore(profiles []models.Profile) (*Store, error) {
	s := &Store{profiles: make(map[string]models.Profile)}
	if err := s.Replace(profiles); err != nil {
		return nil, err
	}
	return s, nil
}

// Replace swaps the full profile set. The selection survives if its profile
// is still present and enabled, otherwise it is cleared.
func (s *Store) Replace(profiles []models.Profile) error {
	next := make(map[string]models.Profile, len(profiles))
	order := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if p.ID == "" {
			return errors.ConfigInvalid("profile without id")
		}
		if _, dup := next[p.ID]; dup {
			return errors.ConfigInvalid(fmt.Sprintf("duplicate profile id %q", p.ID))
		}
		next[p.ID] = p
		order = append(order, p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = next
	s.order = order
	if p, ok := next[s.selected]; !ok || !p.Enabled {
		s.selected = ""
	}
	return nil
}

// Get returns the profile with id.
func (s *Store) Get(id string) (models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok
}

// List returns all profiles in configuration order.
func (s *Store) List() []models.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Profile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.profiles[id])
	}
	return out
}

// IDs returns the profile ids sorted alphabetically.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := append([]string(nil), s.order...)
	sort.Strings(ids)
	return ids
}

// Select makes id the current profile. Unknown or disabled ids fail with a
// CONFIG_ERROR and leave the previous selection in place.
func (s *Store) Select(id string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok || !p.Enabled {
		return models.Profile{}, errors.ProfileNotDefined(id)
	}
	s.selected = id
	return p, nil
}

// Selected returns the current profile, if any.
func (s *Store) Selected() (models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == "" {
		return models.Profile{}, false
	}
	p, ok := s.profiles[s.selected]
	return p, ok
}

// FirstEnabled returns the first enabled profile in configuration order.
func (s *Store) FirstEnabled() (models.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if p := s.profiles[id]; p.Enabled {
			return p, true
		}
	}
	return models.Profile{}, false
}
