package models

import (
	"sort"
	"time"
)

// PauseScope selects which entities participate in the aggregate pause state.
type PauseScope string

const (
	PauseScopeAll     PauseScope = "all"     // devices and folders
	PauseScopeDevices PauseScope = "devices" // devices only
)

// Snapshot is a consistent view of the daemon at one version.
// A published snapshot is never modified; writers clone it first.
type Snapshot struct {
	Version         uint64                   `json:"version"`
	UpdatedAt       time.Time                `json:"updated_at"`
	Session         SessionInfo              `json:"session"`
	Devices         map[string]Device        `json:"devices"`
	Folders         map[string]Folder        `json:"folders"`
	Downloads       map[string]DownloadItem  `json:"downloads"`
	PendingDevices  map[string]PendingDevice `json:"pending_devices"`
	PendingFolders  map[string]PendingFolder `json:"pending_folders"` // keyed by PendingFolderKey
	RecentChanges   []RecentChange           `json:"recent_changes"`  // newest first
	InternalErrors  []InternalError          `json:"internal_errors"` // newest first
	Launcher        LauncherProcess          `json:"launcher"`
	AggregatePaused bool                     `json:"aggregate_paused"`
}

// PendingFolderKey identifies a folder offer: the same folder may be offered by several devices.
func PendingFolderKey(folderID, deviceID string) string {
	return folderID + "\x00" + deviceID
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Session:        SessionInfo{State: StateDisconnected},
		Devices:        make(map[string]Device),
		Folders:        make(map[string]Folder),
		Downloads:      make(map[string]DownloadItem),
		PendingDevices: make(map[string]PendingDevice),
		PendingFolders: make(map[string]PendingFolder),
		Launcher:       LauncherProcess{Status: LauncherNotStarted},
	}
}

// Clone returns a copy that shares no mutable state with s.
// Folder.Devices slices are shared; they are replaced, never appended to.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	c.Devices = make(map[string]Device, len(s.Devices))
	for k, v := range s.Devices {
		c.Devices[k] = v
	}
	c.Folders = make(map[string]Folder, len(s.Folders))
	for k, v := range s.Folders {
		c.Folders[k] = v
	}
	c.Downloads = make(map[string]DownloadItem, len(s.Downloads))
	for k, v := range s.Downloads {
		c.Downloads[k] = v
	}
	c.PendingDevices = make(map[string]PendingDevice, len(s.PendingDevices))
	for k, v := range s.PendingDevices {
		c.PendingDevices[k] = v
	}
	c.PendingFolders = make(map[string]PendingFolder, len(s.PendingFolders))
	for k, v := range s.PendingFolders {
		c.PendingFolders[k] = v
	}
	c.RecentChanges = append([]RecentChange(nil), s.RecentChanges...)
	c.InternalErrors = append([]InternalError(nil), s.InternalErrors...)
	if s.Launcher.ExitCode != nil {
		code := *s.Launcher.ExitCode
		c.Launcher.ExitCode = &code
	}
	return &c
}

// AggregatePaused reports whether at least one entity in scope is paused.
func AggregatePaused(s *Snapshot, scope PauseScope) bool {
	for _, d := range s.Devices {
		if d.Paused {
			return true
		}
	}
	if scope == PauseScopeDevices {
		return false
	}
	for _, f := range s.Folders {
		if f.Paused {
			return true
		}
	}
	return false
}

// SortedDevices returns the devices ordered by display name.
func (s *Snapshot) SortedDevices() []Device {
	out := make([]Device, 0, len(s.Devices))
	for _, d := range s.Devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName() != out[j].DisplayName() {
			return out[i].DisplayName() < out[j].DisplayName()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SortedFolders returns the folders ordered by display name.
func (s *Snapshot) SortedFolders() []Folder {
	out := make([]Folder, 0, len(s.Folders))
	for _, f := range s.Folders {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName() != out[j].DisplayName() {
			return out[i].DisplayName() < out[j].DisplayName()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SortedDownloads returns in-flight downloads ordered by folder then path.
func (s *Snapshot) SortedDownloads() []DownloadItem {
	out := make([]DownloadItem, 0, len(s.Downloads))
	for _, d := range s.Downloads {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FolderID != out[j].FolderID {
			return out[i].FolderID < out[j].FolderID
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// ConnectedDevices counts devices with an open connection.
func (s *Snapshot) ConnectedDevices() int {
	n := 0
	for _, d := range s.Devices {
		if d.Connected {
			n++
		}
	}
	return n
}
