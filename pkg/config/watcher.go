package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/warden/pkg/observability"
)

// ReloadFunc receives the freshly loaded configuration.
type ReloadFunc func(*Config)

// Watcher reloads the YAML config file when it changes and re-applies the
// log level. Other settings take effect on restart unless a ReloadFunc
// picks them up.
type Watcher struct {
	path   string
	logger *observability.Logger

	mu        sync.Mutex
	callbacks []ReloadFunc
	current   *Config
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, logger *observability.Logger) *Watcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Watcher{path: filepath.Clean(path), logger: logger}
}

// OnReload registers a callback run after every successful reload.
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current returns the last successfully loaded config, or nil before the
// first reload.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start begins watching and blocks until ctx is cancelled. The parent
// directory is watched so editors that replace the file are seen.
func (w *Watcher) Start(ctx context.Context, ready chan<- struct{}) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	if ready != nil {
		close(ready)
	}

	w.logger.WithField("path", w.path).Info("Watching config file")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		w.logger.WithError(err).Warn("Ignoring invalid config change")
		return
	}

	level := cfg.Observability.Level()
	if level != w.logger.Level() {
		w.logger.WithFields(map[string]interface{}{
			"from": w.logger.Level().String(),
			"to":   level.String(),
		}).Info("Log level changed")
		w.logger.SetLevel(level)
	}

	w.mu.Lock()
	w.current = cfg
	callbacks := append([]ReloadFunc(nil), w.callbacks...)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}
