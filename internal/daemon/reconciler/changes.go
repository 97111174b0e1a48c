package reconciler

import (
	"path/filepath"

	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/syncthing"
)

// recordChange adds a file change to the recent changes feed unless its
// path matches an ignore pattern.
func (r *Reconciler) recordChange(s *models.Snapshot, d syncthing.ChangeDetectedData, ev syncthing.Event) bool {
	if d.Path == "" || r.ignored(d.Path) {
		return false
	}

	folderID := d.FolderKey()
	label := d.Label
	if f, ok := s.Folders[folderID]; ok {
		label = f.DisplayName()
	}

	change := models.RecentChange{
		FolderID:    folderID,
		FolderLabel: label,
		Action:      d.Action,
		ItemType:    d.Type,
		Path:        d.Path,
		ModifiedBy:  d.ModifiedBy,
		Local:       ev.Type == syncthing.EventLocalChangeDetected,
		Time:        ev.Time,
	}
	s.RecentChanges = prepend(s.RecentChanges, change, r.opts.RecentChangesLimit)
	return true
}

func (r *Reconciler) ignored(path string) bool {
	if r.ignore == nil {
		return false
	}
	match, err := r.ignore.MatchesOrParentMatches(filepath.FromSlash(path))
	if err != nil {
		r.logger.WithError(err).WithField("path", path).Debug("Ignore pattern evaluation failed")
		return false
	}
	return match
}
