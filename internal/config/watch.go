package config

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the daemon config (and, through Load, its companion
// repeats file) when the config file changes on disk, debouncing bursts of
// events from editors that write-then-rename. Changes to the repeats file
// alone do not trigger a reload here.
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	onReload   func(*Config)
	log        *slog.Logger
	stop       chan struct{}
}

// NewWatcher starts watching configPath for changes. onReload is called with
// the freshly loaded config on every debounced change; load failures are
// logged and the previous config keeps serving.
func NewWatcher(configPath string, log *slog.Logger, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(configPath); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:    fsw,
		configPath: configPath,
		onReload:   onReload,
		log:        log,
		stop:       make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var debounce *time.Timer
	reload := func() {
		cfg, err := Load(w.configPath)
		if err != nil {
			w.log.Error("config reload failed, keeping previous config", "path", w.configPath, "error", err)
			return
		}
		w.log.Info("config reloaded", "path", w.configPath)
		w.onReload(cfg)
	}

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		case <-w.stop:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stop)
	return w.watcher.Close()
}
