package models

import "time"

// Device is a remote device known to the daemon.
type Device struct {
	ID        string    `json:"id"`
	ShortID   string    `json:"short_id,omitempty"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Paused    bool      `json:"paused"`
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
	InBytes   int64     `json:"in_bytes"`
	OutBytes  int64     `json:"out_bytes"`
}

// DisplayName returns the device name, falling back to the short id.
func (d Device) DisplayName() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.ShortID != "":
		return d.ShortID
	default:
		return d.ID
	}
}

// ScanState is the activity of a folder.
type ScanState string

const (
	ScanIdle     ScanState = "idle"
	ScanScanning ScanState = "scanning"
	ScanSyncing  ScanState = "syncing"
	ScanError    ScanState = "error"
)

// NextScanState applies a reported state to the current one.
// Scanning and Syncing are only entered from Idle, so a report that jumps
// between two busy states passes through Idle; viaIdle reports that case.
// Error is entered only when it is reported explicitly.
func NextScanState(current, reported ScanState) (next ScanState, viaIdle bool) {
	if reported == current {
		return current, false
	}
	switch reported {
	case ScanIdle, ScanError:
		return reported, false
	case ScanScanning, ScanSyncing:
		return reported, current != ScanIdle
	}
	return current, false
}

// FolderType is the sharing direction of a folder.
type FolderType string

const (
	FolderSendReceive FolderType = "sendreceive"
	FolderSendOnly    FolderType = "sendonly"
	FolderReceiveOnly FolderType = "receiveonly"
	FolderUnknown     FolderType = "unknown"
)

// Folder is a synchronized directory.
type Folder struct {
	ID             string     `json:"id"`
	Label          string     `json:"label"`
	Path           string     `json:"path"`
	Type           FolderType `json:"type"`
	Paused         bool       `json:"paused"`
	PathExists     bool       `json:"path_exists"`
	ScanState      ScanState  `json:"scan_state"`
	Devices        []string   `json:"devices,omitempty"` // shared with; never mutated after publish
	ItemErrors     int        `json:"item_errors"`
	NeedFiles      int64      `json:"need_files"`
	GlobalFiles    int64      `json:"global_files"`
	Error          string     `json:"error,omitempty"`
	LastScan       time.Time  `json:"last_scan,omitempty"`
	StateChangedAt time.Time  `json:"state_changed_at,omitempty"`
}

// DisplayName returns the label if set, otherwise the id.
func (f Folder) DisplayName() string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}

// DownloadItem is a file currently being pulled into a folder.
type DownloadItem struct {
	FolderID     string    `json:"folder_id"`
	Path         string    `json:"path"`
	SourceDevice string    `json:"source_device,omitempty"`
	Progress     float64   `json:"progress"` // 0..1
	BytesDone    int64     `json:"bytes_done"`
	BytesTotal   int64     `json:"bytes_total"`
	StartedAt    time.Time `json:"started_at"`
}

// DownloadKey identifies a download within a snapshot.
func DownloadKey(folderID, path string) string {
	return folderID + "\x00" + path
}

// PendingDevice is an unknown device that asked to connect.
type PendingDevice struct {
	ID      string    `json:"id"`
	Name    string    `json:"name,omitempty"`
	Address string    `json:"address,omitempty"`
	Time    time.Time `json:"time"`
}

// PendingFolder is a folder offered by a remote device but not yet shared locally.
type PendingFolder struct {
	ID        string    `json:"id"`
	Label     string    `json:"label,omitempty"`
	OfferedBy string    `json:"offered_by"`
	Time      time.Time `json:"time"`
}

// RecentChange is one file change observed on a folder.
type RecentChange struct {
	FolderID    string    `json:"folder_id"`
	FolderLabel string    `json:"folder_label,omitempty"`
	Action      string    `json:"action"` // added, modified, deleted
	ItemType    string    `json:"item_type,omitempty"`
	Path        string    `json:"path"`
	ModifiedBy  string    `json:"modified_by,omitempty"`
	Local       bool      `json:"local"`
	Time        time.Time `json:"time"`
}

// InternalError is a problem the engine absorbed instead of failing, such as a
// malformed event record.
type InternalError struct {
	Seq     uint64    `json:"seq"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}
