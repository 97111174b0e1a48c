package models

// StreamKind tags a message pushed over the local API stream.
type StreamKind string

const (
	StreamSnapshot     StreamKind = "snapshot"
	StreamNotification StreamKind = "notification"
)

// StreamMessage is one push of the local API stream.
// Exactly one of Snapshot or Notification is set, according to Kind.
type StreamMessage struct {
	Kind         StreamKind    `json:"kind"`
	Version      uint64        `json:"version,omitempty"`
	Source       string        `json:"source,omitempty"`
	Snapshot     *Snapshot     `json:"snapshot,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// ProfileInfo is a profile as listed by the local API. The API key is never exposed.
type ProfileInfo struct {
	Profile
	Selected bool `json:"selected"`
}

// LauncherInfo is the launcher view served by the local API.
type LauncherInfo struct {
	LauncherProcess
	Enabled bool   `json:"enabled"`
	Profile string `json:"profile,omitempty"`
	LogFile string `json:"log_file,omitempty"`
}

// SelectProfileRequest is the body of a profile selection.
type SelectProfileRequest struct {
	ID string `json:"id"`
}
