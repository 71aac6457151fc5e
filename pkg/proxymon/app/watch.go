package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDelay is how long the watcher waits after the last change
// before reloading. Editors often write a file in several steps.
const DefaultReloadDelay = 500 * time.Millisecond

// configWatcher calls onChange once per burst of YAML file changes in the
// watched directories.
type configWatcher struct {
	fsw      *fsnotify.Watcher
	delay    time.Duration
	onChange func()
	logger   *slog.Logger
	done     chan struct{}
}

// newConfigWatcher watches every existing directory in dirs. Directories that
// cannot be watched are logged and skipped; an error is returned only when
// none can be watched.
func newConfigWatcher(dirs []string, delay time.Duration, onChange func(), logger *slog.Logger) (*configWatcher, error) {
	if delay <= 0 {
		delay = DefaultReloadDelay
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("app: watcher: %w", err)
	}

	watched := 0
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			logger.Warn("app: cannot watch config directory", "dir", dir, "error", err.Error())
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = fsw.Close()
		return nil, fmt.Errorf("app: watcher: no config directory could be watched")
	}

	return &configWatcher{
		fsw:      fsw,
		delay:    delay,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// run processes events until ctx is cancelled or the watcher is closed.
func (w *configWatcher) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			w.logger.Debug("app: config change", "file", ev.Name, "op", ev.Op.String())
			pending = true
			timer.Reset(w.delay)

		case <-timer.C:
			if pending {
				pending = false
				w.onChange()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("app: watcher error", "error", err.Error())
		}
	}
}

// close stops the underlying watcher and waits for run to return.
func (w *configWatcher) close() {
	_ = w.fsw.Close()
	<-w.done
}

// relevant reports whether ev touches a YAML file in a way that can change
// the loaded configuration.
func relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	switch strings.ToLower(filepath.Ext(ev.Name)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}
