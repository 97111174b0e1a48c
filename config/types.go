package config

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/grovetools/synctray/pkg/models"
	"github.com/grovetools/synctray/pkg/paths"
)

//go:generate go run ../tools/schema-generator/

// Duration is a time.Duration written as "1s", "500ms", "2m" in every config format.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(v)
	return nil
}

// JSONSchema describes Duration as a Go duration string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration, e.g. 500ms, 10s, 2m",
	}
}

// ProfileConfig describes one daemon the engine can connect to.
type ProfileConfig struct {
	ID                 string `yaml:"id" toml:"id" json:"id" jsonschema:"required,description=Unique profile identifier"`
	Label              string `yaml:"label,omitempty" toml:"label,omitempty" json:"label,omitempty" jsonschema:"description=Display name"`
	URL                string `yaml:"url" toml:"url" json:"url" jsonschema:"required,description=Base address of the daemon REST API"`
	APIKey             string `yaml:"api_key" toml:"api_key" json:"api_key" jsonschema:"description=API key sent as X-API-Key"`
	Enabled            *bool  `yaml:"enabled,omitempty" toml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"description=Whether the profile may be selected (default: true)"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" toml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty" jsonschema:"description=Accept self-signed TLS certificates"`
}

// IsEnabled reports whether the profile is enabled, defaulting to true.
func (p ProfileConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ReconnectConfig controls the reconnect backoff.
type ReconnectConfig struct {
	Initial Duration `yaml:"initial,omitempty" toml:"initial,omitempty" json:"initial,omitempty" jsonschema:"description=First reconnect delay (default: 1s)"`
	Max     Duration `yaml:"max,omitempty" toml:"max,omitempty" json:"max,omitempty" jsonschema:"description=Upper bound of the reconnect delay (default: 1m)"`
	Jitter  float64  `yaml:"jitter,omitempty" toml:"jitter,omitempty" json:"jitter,omitempty" jsonschema:"minimum=0,maximum=1,description=Random spread applied to each delay as a fraction (default: 0.1)"`
}

// StreamConfig controls the event long poll.
type StreamConfig struct {
	PollTimeout    Duration `yaml:"poll_timeout,omitempty" toml:"poll_timeout,omitempty" json:"poll_timeout,omitempty" jsonschema:"description=How long the daemon may hold an event request (default: 1m)"`
	HeartbeatGrace Duration `yaml:"heartbeat_grace,omitempty" toml:"heartbeat_grace,omitempty" json:"heartbeat_grace,omitempty" jsonschema:"description=Extra time allowed before a silent connection counts as lost (default: 10s)"`
	EventLimit     int      `yaml:"event_limit,omitempty" toml:"event_limit,omitempty" json:"event_limit,omitempty" jsonschema:"minimum=0,description=Maximum events per poll (default: 500)"`
}

// LauncherConfig controls the locally launched daemon.
type LauncherConfig struct {
	Enabled     bool     `yaml:"enabled" toml:"enabled" json:"enabled" jsonschema:"description=Whether the daemon is launched as a child process"`
	Profile     string   `yaml:"profile,omitempty" toml:"profile,omitempty" json:"profile,omitempty" jsonschema:"description=Profile that connects to the launched daemon"`
	Binary      string   `yaml:"binary,omitempty" toml:"binary,omitempty" json:"binary,omitempty" jsonschema:"description=Executable to run (default: syncthing)"`
	Args        []string `yaml:"args,omitempty" toml:"args,omitempty" json:"args,omitempty" jsonschema:"description=Arguments passed to the executable"`
	Env         []string `yaml:"env,omitempty" toml:"env,omitempty" json:"env,omitempty" jsonschema:"description=Extra KEY=VALUE environment entries"`
	LogFile     string   `yaml:"log_file,omitempty" toml:"log_file,omitempty" json:"log_file,omitempty" jsonschema:"description=File receiving the daemon output"`
	StopTimeout Duration `yaml:"stop_timeout,omitempty" toml:"stop_timeout,omitempty" json:"stop_timeout,omitempty" jsonschema:"description=Grace period between interrupt and kill (default: 10s)"`
	Autostart   bool     `yaml:"autostart,omitempty" toml:"autostart,omitempty" json:"autostart,omitempty" jsonschema:"description=Start the daemon when the engine starts"`
}

// NotificationsConfig controls derived feeds.
type NotificationsConfig struct {
	IgnorePaths         []string `yaml:"ignore_paths,omitempty" toml:"ignore_paths,omitempty" json:"ignore_paths,omitempty" jsonschema:"description=Patterns of file paths left out of recent changes"`
	RecentChangesLimit  int      `yaml:"recent_changes_limit,omitempty" toml:"recent_changes_limit,omitempty" json:"recent_changes_limit,omitempty" jsonschema:"minimum=0,description=Number of recent changes kept (default: 100)"`
	InternalErrorsLimit int      `yaml:"internal_errors_limit,omitempty" toml:"internal_errors_limit,omitempty" json:"internal_errors_limit,omitempty" jsonschema:"minimum=0,description=Number of internal errors kept (default: 50)"`
}

// AggregateConfig controls derived aggregate state.
type AggregateConfig struct {
	PauseScope string `yaml:"pause_scope,omitempty" toml:"pause_scope,omitempty" json:"pause_scope,omitempty" jsonschema:"enum=all,enum=devices,description=Entities counted by the paused indicator (default: all)"`
}

// ServerConfig controls the local API.
type ServerConfig struct {
	Socket string `yaml:"socket,omitempty" toml:"socket,omitempty" json:"socket,omitempty" jsonschema:"description=Unix socket path of the local API"`
}

// Config is the synctray configuration file.
type Config struct {
	ActiveProfile string              `yaml:"active_profile,omitempty" toml:"active_profile,omitempty" json:"active_profile,omitempty" jsonschema:"description=Profile selected at startup"`
	Profiles      []ProfileConfig     `yaml:"profiles" toml:"profiles" json:"profiles,omitempty" jsonschema:"description=Daemons the engine can connect to"`
	Reconnect     ReconnectConfig     `yaml:"reconnect,omitempty" toml:"reconnect,omitempty" json:"reconnect,omitempty"`
	Stream        StreamConfig        `yaml:"stream,omitempty" toml:"stream,omitempty" json:"stream,omitempty"`
	Launcher      LauncherConfig      `yaml:"launcher,omitempty" toml:"launcher,omitempty" json:"launcher,omitempty"`
	Notifications NotificationsConfig `yaml:"notifications,omitempty" toml:"notifications,omitempty" json:"notifications,omitempty"`
	Aggregate     AggregateConfig     `yaml:"aggregate,omitempty" toml:"aggregate,omitempty" json:"aggregate,omitempty"`
	Server        ServerConfig        `yaml:"server,omitempty" toml:"server,omitempty" json:"server,omitempty"`

	// Extensions captures all other top-level keys, such as "logging".
	Extensions map[string]interface{} `yaml:",inline" toml:"-" json:"-" jsonschema:"-"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.Reconnect.Initial == 0 {
		c.Reconnect.Initial = Duration(time.Second)
	}
	if c.Reconnect.Max == 0 {
		c.Reconnect.Max = Duration(time.Minute)
	}
	if c.Reconnect.Jitter == 0 {
		c.Reconnect.Jitter = 0.1
	}
	if c.Stream.PollTimeout == 0 {
		c.Stream.PollTimeout = Duration(time.Minute)
	}
	if c.Stream.HeartbeatGrace == 0 {
		c.Stream.HeartbeatGrace = Duration(10 * time.Second)
	}
	if c.Stream.EventLimit == 0 {
		c.Stream.EventLimit = 500
	}
	if c.Launcher.Binary == "" {
		c.Launcher.Binary = "syncthing"
	}
	if c.Launcher.Args == nil {
		c.Launcher.Args = []string{"serve", "--no-browser"}
	}
	if c.Launcher.LogFile == "" {
		c.Launcher.LogFile = paths.LauncherLogPath()
	}
	if c.Launcher.StopTimeout == 0 {
		c.Launcher.StopTimeout = Duration(10 * time.Second)
	}
	if c.Notifications.RecentChangesLimit == 0 {
		c.Notifications.RecentChangesLimit = 100
	}
	if c.Notifications.InternalErrorsLimit == 0 {
		c.Notifications.InternalErrorsLimit = 50
	}
	if c.Aggregate.PauseScope == "" {
		c.Aggregate.PauseScope = string(models.PauseScopeAll)
	}
	if c.Server.Socket == "" {
		c.Server.Socket = paths.SocketPath()
	}
}

// Redacted returns a copy with API keys masked, for display.
func (c *Config) Redacted() *Config {
	redacted := *c
	redacted.Profiles = append([]ProfileConfig(nil), c.Profiles...)
	for i := range redacted.Profiles {
		if redacted.Profiles[i].APIKey != "" {
			redacted.Profiles[i].APIKey = "***"
		}
	}
	return &redacted
}

// ProfileModels converts the configured profiles.
func (c *Config) ProfileModels() []models.Profile {
	out := make([]models.Profile, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		out = append(out, models.Profile{
			ID:                 p.ID,
			Label:              p.Label,
			URL:                p.URL,
			APIKey:             p.APIKey,
			Enabled:            p.IsEnabled(),
			InsecureSkipVerify: p.InsecureSkipVerify,
		})
	}
	return out
}

// UnmarshalExtension decodes a top-level section not modelled by Config,
// such as "logging", into target. A missing key leaves target untouched.
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
