// Package models defines the data shared between the engine and its collaborators:
// the published snapshot, its entities, notifications and launcher status.
package models

import "time"

// Profile is a named way of reaching one daemon.
// A profile in use by a session is never mutated; replacing it rebuilds the session.
type Profile struct {
	ID                 string `json:"id"`
	Label              string `json:"label,omitempty"`
	URL                string `json:"url"`
	APIKey             string `json:"-"`
	Enabled            bool   `json:"enabled"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

// DisplayName returns the label if set, otherwise the id.
func (p Profile) DisplayName() string {
	if p.Label != "" {
		return p.Label
	}
	return p.ID
}

// ConnectionState is the health of the active session.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDegraded     ConnectionState = "degraded" // connection lost, reconnecting
	StateError        ConnectionState = "error"    // not retried until the profile changes
)

// SessionInfo describes the active daemon session.
type SessionInfo struct {
	ProfileID       string          `json:"profile_id,omitempty"`
	Generation      uint64          `json:"generation"`
	State           ConnectionState `json:"state"`
	LastError       string          `json:"last_error,omitempty"`
	Cursor          int64           `json:"cursor"`
	DaemonID        string          `json:"daemon_id,omitempty"`
	DaemonStartedAt time.Time       `json:"daemon_started_at,omitempty"`
	ConnectedSince  time.Time       `json:"connected_since,omitempty"`
}
