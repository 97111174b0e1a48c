package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/grovetools/synctray/config"
	"github.com/grovetools/synctray/pkg/paths"
	"github.com/grovetools/synctray/util/pathutil"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex
)

// NewLogger creates and returns a pre-configured logger for a specific component.
// Loggers are cached per component.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	var logCfg Config
	if cfg, err := config.LoadDefault(); err == nil {
		if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
			logrus.Warnf("Failed to parse 'logging' config: %v", err)
		}
	}

	entry := newLogger(component, logCfg).WithField("component", component)
	loggers[component] = entry
	return entry
}

// Reset drops all cached loggers so the next NewLogger call re-reads configuration.
func Reset() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	loggers = make(map[string]*logrus.Entry)
}

func newLogger(component string, logCfg Config) *logrus.Logger {
	logger := logrus.New()

	levelStr := "info"
	if env := os.Getenv("SYNCTRAY_LOG_LEVEL"); env != "" {
		levelStr = env
	} else if logCfg.Level != "" {
		levelStr = logCfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if os.Getenv("SYNCTRAY_LOG_CALLER") == "true" || logCfg.ReportCaller {
		logger.SetReportCaller(true)
	}

	switch logCfg.Format.Preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: logCfg.Format})
	}

	var writers []io.Writer

	logFilePath := FilePath(component, logCfg, time.Now())
	if file, err := openLogFile(logFilePath); err == nil {
		writers = append(writers, file)
	} else if logCfg.File.Enabled {
		logger.Warnf("Failed to open log file %s: %v", logFilePath, err)
	}

	if shouldLogToStderr(logCfg.Format.StructuredToStderr, logger.GetLevel()) {
		writers = append(writers, stderr)
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}
	return logger
}

// FilePath returns the file a component logs to on the day of now:
// the configured file when enabled, otherwise <state dir>/logs/<component>-<date>.log.
func FilePath(component string, logCfg Config, now time.Time) string {
	if logCfg.File.Enabled && logCfg.File.Path != "" {
		return expandPath(logCfg.File.Path)
	}
	return filepath.Join(paths.StateDir(), "logs", fmt.Sprintf("%s-%s.log", component, now.Format("2006-01-02")))
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// shouldLogToStderr resolves the structured_to_stderr mode. In "auto" mode
// entries reach stderr when debugging or when stderr is not a terminal.
func shouldLogToStderr(mode string, level logrus.Level) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	}
	isDebug := os.Getenv("SYNCTRAY_DEBUG") == "1" || level >= logrus.DebugLevel
	isInteractive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	return isDebug || !isInteractive
}

// expandPath resolves ~ in a configured file path.
func expandPath(path string) string {
	if expanded, err := pathutil.Expand(path); err == nil {
		return expanded
	}
	return path
}

// stderr carries console log lines. Its target can be swapped while loggers
// hold on to it.
var stderr = &redirectable{w: os.Stderr}

type redirectable struct {
	mu sync.RWMutex
	w  io.Writer
}

func (r *redirectable) Write(p []byte) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.w.Write(p)
}

// RedirectStderr sends console log lines of every logger to w until the
// returned function restores the previous target.
func RedirectStderr(w io.Writer) (restore func()) {
	stderr.mu.Lock()
	prev := stderr.w
	stderr.w = w
	stderr.mu.Unlock()
	return func() {
		stderr.mu.Lock()
		stderr.w = prev
		stderr.mu.Unlock()
	}
}
