package models

import "time"

// NotificationKind classifies a notification.
type NotificationKind string

const (
	KindDisconnected         NotificationKind = "disconnected"
	KindDeviceWantsToConnect NotificationKind = "device_wants_to_connect"
	KindNewFolderDiscovered  NotificationKind = "new_folder_discovered"
	KindLauncherError        NotificationKind = "launcher_error"
	KindInternalError        NotificationKind = "internal_error"
	KindLocalPathError       NotificationKind = "local_path_error"
	KindGeneric              NotificationKind = "generic"
)

// Notification is an entry of the notification feed.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Text      string           `json:"text"`
	EntityID  string           `json:"entity_id,omitempty"`
	Time      time.Time        `json:"time"`
	Seen      bool             `json:"seen"`
	Dismissed bool             `json:"dismissed"`
}
