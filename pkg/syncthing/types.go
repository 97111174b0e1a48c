package syncthing

import (
	"time"

	"github.com/grovetools/synctray/pkg/models"
)

// Event is one record of the daemon's event feed.
type Event struct {
	ID       int64       `json:"id"`
	GlobalID int64       `json:"globalID"`
	Type     string      `json:"type"`
	Time     time.Time   `json:"time"`
	Data     interface{} `json:"data"`

	// Err is set when the record could not be decoded; ID and Type are best effort.
	Err error `json:"-"`
}

// Event types consumed by the reconciler.
const (
	EventDeviceConnected       = "DeviceConnected"
	EventDeviceDisconnected    = "DeviceDisconnected"
	EventDevicePaused          = "DevicePaused"
	EventDeviceResumed         = "DeviceResumed"
	EventDeviceRejected        = "DeviceRejected"
	EventPendingDevicesChanged = "PendingDevicesChanged"
	EventFolderRejected        = "FolderRejected"
	EventPendingFoldersChanged = "PendingFoldersChanged"
	EventFolderPaused          = "FolderPaused"
	EventFolderResumed         = "FolderResumed"
	EventStateChanged          = "StateChanged"
	EventFolderSummary         = "FolderSummary"
	EventFolderErrors          = "FolderErrors"
	EventDownloadProgress      = "DownloadProgress"
	EventItemStarted           = "ItemStarted"
	EventItemFinished          = "ItemFinished"
	EventLocalChangeDetected   = "LocalChangeDetected"
	EventRemoteChangeDetected  = "RemoteChangeDetected"
	EventConfigSaved           = "ConfigSaved"
	EventStarting              = "Starting"
	EventStartupComplete       = "StartupComplete"
)

// SubscribedEvents is the filter sent with every poll. The daemon's default
// filter leaves out the disk change types. Each distinct filter is a
// subscription with its own id sequence.
var SubscribedEvents = []string{
	EventDeviceConnected, EventDeviceDisconnected, EventDevicePaused, EventDeviceResumed,
	EventDeviceRejected, EventPendingDevicesChanged, EventFolderRejected,
	EventPendingFoldersChanged, EventFolderPaused, EventFolderResumed, EventStateChanged,
	EventFolderSummary, EventFolderErrors, EventDownloadProgress, EventItemStarted,
	EventItemFinished, EventLocalChangeDetected, EventRemoteChangeDetected,
	EventConfigSaved, EventStarting, EventStartupComplete,
}

// Identity distinguishes one daemon run from another.
type Identity struct {
	MyID      string    `json:"myID"`
	StartTime time.Time `json:"startTime"`
}

// SameRun reports whether i and o describe the same daemon process.
func (i Identity) SameRun(o Identity) bool {
	return i.MyID == o.MyID && i.StartTime.Equal(o.StartTime)
}

// SystemStatus is the subset of /rest/system/status the engine reads.
type SystemStatus struct {
	MyID      string    `json:"myID"`
	StartTime time.Time `json:"startTime"`
	Uptime    int64     `json:"uptime"`
}

// DeviceConfig is a device entry of /rest/config.
type DeviceConfig struct {
	DeviceID  string   `json:"deviceID"`
	Name      string   `json:"name"`
	Addresses []string `json:"addresses"`
	Paused    bool     `json:"paused"`
}

// FolderDeviceConfig names a device a folder is shared with.
type FolderDeviceConfig struct {
	DeviceID string `json:"deviceID"`
}

// FolderConfig is a folder entry of /rest/config.
type FolderConfig struct {
	ID      string               `json:"id"`
	Label   string               `json:"label"`
	Path    string               `json:"path"`
	Type    string               `json:"type"`
	Paused  bool                 `json:"paused"`
	Devices []FolderDeviceConfig `json:"devices"`
}

// Config is the subset of /rest/config the engine reads.
type Config struct {
	Version int            `json:"version"`
	Devices []DeviceConfig `json:"devices"`
	Folders []FolderConfig `json:"folders"`
}

// ConnectionInfo is a per-device entry of /rest/system/connections.
type ConnectionInfo struct {
	Connected     bool   `json:"connected"`
	Paused        bool   `json:"paused"`
	Address       string `json:"address"`
	InBytesTotal  int64  `json:"inBytesTotal"`
	OutBytesTotal int64  `json:"outBytesTotal"`
}

// Connections is the body of /rest/system/connections.
type Connections struct {
	Connections map[string]ConnectionInfo `json:"connections"`
}

// FolderStatus is the subset of /rest/db/status the engine reads.
type FolderStatus struct {
	State        string    `json:"state"`
	StateChanged time.Time `json:"stateChanged"`
	NeedFiles    int64     `json:"needFiles"`
	GlobalFiles  int64     `json:"globalFiles"`
	Errors       int       `json:"errors"`
	PullErrors   int       `json:"pullErrors"`
	Error        string    `json:"error"`
}

// PendingDeviceInfo is a value of /rest/cluster/pending/devices.
type PendingDeviceInfo struct {
	Name    string    `json:"name"`
	Address string    `json:"address"`
	Time    time.Time `json:"time"`
}

// PendingFolderOffer is one device's offer of a folder.
type PendingFolderOffer struct {
	Label string    `json:"label"`
	Time  time.Time `json:"time"`
}

// PendingFolderInfo is a value of /rest/cluster/pending/folders.
type PendingFolderInfo struct {
	OfferedBy map[string]PendingFolderOffer `json:"offeredBy"`
}

// FullState is an authoritative picture of the daemon.
// Barrier is the newest event id that existed before the state queries ran;
// events up to and including it are already reflected.
type FullState struct {
	Identity       Identity
	Barrier        int64
	Devices        []models.Device
	Folders        []models.Folder
	PendingDevices []models.PendingDevice
	PendingFolders []models.PendingFolder
}

// ParseScanState maps a daemon folder state onto the engine's scan states.
func ParseScanState(s string) models.ScanState {
	switch s {
	case "scanning", "scan-waiting":
		return models.ScanScanning
	case "syncing", "sync-preparing", "sync-waiting", "cleaning", "clean-waiting":
		return models.ScanSyncing
	case "error":
		return models.ScanError
	default:
		return models.ScanIdle
	}
}

// ParseFolderType maps a folder type, including legacy names, onto FolderType.
func ParseFolderType(s string) models.FolderType {
	switch s {
	case "sendreceive", "readwrite":
		return models.FolderSendReceive
	case "sendonly", "readonly":
		return models.FolderSendOnly
	case "receiveonly":
		return models.FolderReceiveOnly
	default:
		return models.FolderUnknown
	}
}
