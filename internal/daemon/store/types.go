// Package store holds the engine's published snapshot.
package store

import "github.com/grovetools/synctray/pkg/models"

// Source names the producer of a snapshot change.
type Source string

const (
	SourceEvents   Source = "events"
	SourceRefresh  Source = "refresh"
	SourceSession  Source = "session"
	SourceLauncher Source = "launcher"
	SourceHint     Source = "hint"
	SourceInternal Source = "internal"
	SourceConfig   Source = "config"
)

// Update is delivered to subscribers after every published snapshot.
type Update struct {
	Version  uint64           `json:"version"`
	Source   Source           `json:"source"`
	Snapshot *models.Snapshot `json:"-"`
}
