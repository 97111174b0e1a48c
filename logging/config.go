package logging

// Config is the "logging" section of synctray.yml.
type Config struct {
	// Level is the minimum level written ("debug", "info", "warn", "error").
	// SYNCTRAY_LOG_LEVEL overrides it.
	Level string `yaml:"level" toml:"level" json:"level,omitempty"`

	// ReportCaller adds file, line and function to every entry.
	// SYNCTRAY_LOG_CALLER=true enables it.
	ReportCaller bool `yaml:"report_caller" toml:"report_caller" json:"report_caller,omitempty"`

	File FileSinkConfig `yaml:"file" toml:"file" json:"file,omitempty"`

	Format FormatConfig `yaml:"format" toml:"format" json:"format,omitempty"`
}

// FileSinkConfig configures the file logging sink.
type FileSinkConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled,omitempty"`
	// Path is the full path to the log file.
	Path string `yaml:"path" toml:"path" json:"path,omitempty"`
}

// FormatConfig controls the log output format.
type FormatConfig struct {
	// Preset can be "default" (rich text), "simple" (minimal text), or "json".
	Preset           string `yaml:"preset" toml:"preset" json:"preset,omitempty"`
	DisableTimestamp bool   `yaml:"disable_timestamp" toml:"disable_timestamp" json:"disable_timestamp,omitempty"`
	DisableComponent bool   `yaml:"disable_component" toml:"disable_component" json:"disable_component,omitempty"`
	// StructuredToStderr is "auto" (default), "always", or "never".
	StructuredToStderr string `yaml:"structured_to_stderr" toml:"structured_to_stderr" json:"structured_to_stderr,omitempty"`
}
