package reconciler

import (
	"github.com/grovetools/synctray/internal/daemon/store"
	"github.com/grovetools/synctray/pkg/models"
)

// Hints are optimistic updates applied after the daemon accepted a command.
// The daemon's own events overwrite them.

// HintDevicesPaused marks the device with id, or every device when id is
// empty, as paused or resumed.
func (r *Reconciler) HintDevicesPaused(gen uint64, id string, paused bool) bool {
	return r.hint(gen, func(s *models.Snapshot) bool {
		changed := false
		for key, d := range s.Devices {
			if (id == "" || key == id) && d.Paused != paused {
				d.Paused = paused
				s.Devices[key] = d
				changed = true
			}
		}
		return changed
	})
}

// HintFoldersPaused marks the folder with id, or every folder when id is
// empty, as paused or resumed.
func (r *Reconciler) HintFoldersPaused(gen uint64, id string, paused bool) bool {
	return r.hint(gen, func(s *models.Snapshot) bool {
		changed := false
		for key, f := range s.Folders {
			if (id == "" || key == id) && f.Paused != paused {
				f.Paused = paused
				s.Folders[key] = f
				changed = true
			}
		}
		return changed
	})
}

func (r *Reconciler) hint(gen uint64, fn func(*models.Snapshot) bool) bool {
	_, changed := r.store.Update(store.SourceHint, func(s *models.Snapshot) bool {
		if s.Session.Generation != gen {
			return false
		}
		return fn(s)
	})
	return changed
}
