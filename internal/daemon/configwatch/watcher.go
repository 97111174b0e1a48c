// Package configwatch reloads the configuration file when it changes on disk.
package configwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"

	"github.com/grovetools/synctray/config"
	"github.com/grovetools/synctray/logging"
)

const DefaultDebounce = 250 * time.Millisecond

// Watcher watches the config directory and calls onChange with the freshly
// loaded configuration once writes have settled. Files that fail to load
// are reported to onError and otherwise ignored.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration
	logger   *logrus.Entry

	onChange func(cfg *config.Config, path string)
	onError  func(err error, path string)

	mu           sync.Mutex
	timer        *time.Timer
	pending      string
	targetToLink map[string]string // symlink target -> link path in dir
}

// New creates a Watcher on dir. onError may be nil.
func New(dir string, debounce time.Duration, onChange func(*config.Config, string), onError func(error, string)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:      fw,
		dir:          dir,
		debounce:     debounce,
		logger:       logging.NewLogger("configwatch"),
		onChange:     onChange,
		onError:      onError,
		targetToLink: make(map[string]string),
	}
	w.watchSymlinkTargets()
	return w, nil
}

// watchSymlinkTargets adds the directories of symlinked config files;
// fsnotify does not follow links.
func (w *Watcher) watchSymlinkTargets() {
	watched := map[string]bool{w.dir: true}
	for _, name := range config.ConfigNames {
		link := filepath.Join(w.dir, name)
		info, err := os.Lstat(link)
		if err != nil || info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := filepath.EvalSymlinks(link)
		if err != nil {
			w.logger.WithError(err).Warnf("Failed to resolve symlink %s", name)
			continue
		}
		w.targetToLink[target] = link
		targetDir := filepath.Dir(target)
		if watched[targetDir] {
			continue
		}
		if err := w.watcher.Add(targetDir); err != nil {
			w.logger.WithError(err).Warnf("Failed to watch symlink target dir %s", targetDir)
			continue
		}
		watched[targetDir] = true
		w.logger.Debugf("Watching symlink target directory: %s", targetDir)
	}
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range config.ConfigNames {
		if base == name {
			return true
		}
	}
	return false
}

// Serve watches until ctx is done. A closed watcher is not restarted.
func (w *Watcher) Serve(ctx context.Context) error {
	defer w.Close()
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return suture.ErrDoNotRestart
			}
			w.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := event.Name
			if link, ok := w.targetToLink[name]; ok {
				name = link
			}
			if isConfigFile(name) {
				w.schedule(name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return suture.ErrDoNotRestart
			}
			w.logger.WithError(err).Error("Watcher error")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) String() string {
	return "configwatch"
}

// schedule (re)starts the debounce timer. Only the last change in a burst
// is loaded.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = path
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	w.timer = nil
	changed := w.pending
	w.mu.Unlock()

	// The highest precedence file wins, which is not necessarily the one
	// that changed.
	path, err := config.FindConfigFile(w.dir)
	if err != nil {
		w.report(err, w.dir)
		return
	}
	cfg, err := config.Load(path)
	if err != nil {
		w.report(err, path)
		return
	}
	w.logger.WithFields(logrus.Fields{"path": path, "changed": filepath.Base(changed)}).Info("Configuration reloaded")
	if w.onChange != nil {
		w.onChange(cfg, path)
	}
}

func (w *Watcher) report(err error, path string) {
	w.logger.WithError(err).WithField("path", path).Warn("Ignoring configuration change")
	if w.onError != nil {
		w.onError(err, path)
	}
}

// Close stops the watcher and any pending reload.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
