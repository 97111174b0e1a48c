package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/grovetools/synctray/errors"
	"github.com/grovetools/synctray/pkg/paths"
	"github.com/grovetools/synctray/util/pathutil"
)

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ConfigNames are the file names searched for, in order of precedence.
var ConfigNames = []string{"synctray.toml", "synctray.yml", "synctray.yaml"}

// FormatOf returns the syntax implied by a file name.
func FormatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	cfg, err := LoadFromBytes(data, FormatOf(path))
	if err != nil {
		if se, ok := err.(*errors.SyncError); ok {
			return nil, se.WithDetail("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads the configuration file from the config directory.
// A missing file yields the defaults.
func LoadDefault() (*Config, error) {
	path, err := FindConfigFile(paths.ConfigDir())
	if err != nil {
		if errors.Is(err, errors.ErrCodeConfigNotFound) {
			cfg := &Config{}
			cfg.SetDefaults()
			return cfg, nil
		}
		return nil, err
	}
	return Load(path)
}

// LoadWithLogger is LoadDefault with the chosen file logged at debug level.
func LoadWithLogger(logger *logrus.Logger) (*Config, string, error) {
	path, err := FindConfigFile(paths.ConfigDir())
	if err != nil {
		if errors.Is(err, errors.ErrCodeConfigNotFound) {
			logger.Debug("No configuration file found, using defaults")
			cfg := &Config{}
			cfg.SetDefaults()
			return cfg, "", nil
		}
		return nil, "", err
	}

	logger.WithField("path", path).Debug("Loading configuration")
	cfg, err := Load(path)
	if err != nil {
		return nil, path, err
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		if data, err := yaml.Marshal(cfg.Redacted()); err == nil {
			logger.Debugf("Loaded configuration:\n%s", string(data))
		}
	}
	return cfg, path, nil
}

// LoadFromBytes parses, validates and completes a configuration.
func LoadFromBytes(data []byte, format Format) (*Config, error) {
	cfg, err := decode([]byte(expandEnvVars(string(data))), format)
	if err != nil {
		return nil, err
	}

	validator, err := NewSchemaValidator()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to create validator")
	}
	if err := validator.Validate(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "schema validation failed")
	}

	cfg.SetDefaults()
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandPaths resolves ~ and relative paths in file-valued settings.
func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Launcher.LogFile, &c.Server.Socket} {
		expanded, err := pathutil.Expand(*p)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to expand path")
		}
		*p = expanded
	}
	if pathutil.IsPathLike(c.Launcher.Binary) {
		expanded, err := pathutil.Expand(c.Launcher.Binary)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to expand launcher.binary")
		}
		c.Launcher.Binary = expanded
	}
	return nil
}

// decode parses data as written, without defaults or validation.
func decode(data []byte, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration")
		}
		extensions, err := tomlExtensions(data)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration")
		}
		cfg.Extensions = extensions
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
		}
	}
	return &cfg, nil
}

// knownKeys are the top-level keys modelled by Config.
var knownKeys = map[string]bool{
	"active_profile": true,
	"profiles":       true,
	"reconnect":      true,
	"stream":         true,
	"launcher":       true,
	"notifications":  true,
	"aggregate":      true,
	"server":         true,
}

// tomlExtensions collects the top-level TOML keys Config does not model.
func tomlExtensions(data []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	extensions := make(map[string]interface{})
	for key, value := range raw {
		if !knownKeys[key] {
			extensions[key] = value
		}
	}
	return extensions, nil
}

// Save writes cfg to path in the syntax implied by its extension.
func Save(cfg *Config, path string) error {
	data, err := encode(cfg, FormatOf(path))
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func encode(cfg *Config, format Format) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatTOML:
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)
		err = enc.Encode(cfg)
		if err == nil {
			err = encodeTOMLExtensions(enc, cfg.Extensions)
		}
		data = buf.Bytes()
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode configuration")
	}
	return data, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create config directory").
			WithDetail("path", path)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write configuration").
			WithDetail("path", path)
	}
	return nil
}

// AddProfile appends p to the file at path, creating the file when missing.
// The file is edited as written: defaults are not filled in and ${VAR}
// references are kept. The result must load cleanly before it is written.
func AddProfile(path string, p ProfileConfig) error {
	format := FormatOf(path)
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if cfg, err = decode(data, format); err != nil {
			return err
		}
	case !os.IsNotExist(err):
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	for _, existing := range cfg.Profiles {
		if existing.ID == p.ID {
			return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("profile '%s' already exists", p.ID)).
				WithDetail("profile", p.ID)
		}
	}
	cfg.Profiles = append(cfg.Profiles, p)

	out, err := encode(cfg, format)
	if err != nil {
		return err
	}
	if _, err := LoadFromBytes(out, format); err != nil {
		return err
	}
	return writeFile(path, out)
}

// encodeTOMLExtensions appends extension tables after the modelled sections.
// Only table values are written; a bare key here would land in the last table.
func encodeTOMLExtensions(enc *toml.Encoder, extensions map[string]interface{}) error {
	tables := make(map[string]interface{})
	for key, value := range extensions {
		if _, ok := value.(map[string]interface{}); ok {
			tables[key] = value
		}
	}
	if len(tables) == 0 {
		return nil
	}
	return enc.Encode(tables)
}

// FindConfigFile returns the first configuration file present in dir.
func FindConfigFile(dir string) (string, error) {
	for _, name := range ConfigNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", errors.ConfigNotFound(dir).WithDetail("searchPath", dir)
}

// DefaultPath returns where a new configuration file is created.
func DefaultPath() string {
	if path, err := FindConfigFile(paths.ConfigDir()); err == nil {
		return path
	}
	return filepath.Join(paths.ConfigDir(), ConfigNames[0])
}

// expandEnvVars replaces ${VAR} with environment variable values
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		varName := envVarRegex.FindStringSubmatch(match)[1]

		// Handle default values: ${VAR:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]
		defaultValue := ""
		if len(parts) > 1 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}
