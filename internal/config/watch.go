package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openpharm/posync/internal/logging"
)

// Watch observes the config file and invokes onChange with the re-loaded
// configuration whenever it is rewritten. Invalid rewrites are logged and
// skipped; the previous configuration stays in effect. The returned stop
// function releases the watcher.
func Watch(path string, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory: editors typically replace the file via rename,
	// which drops a watch placed on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	base := filepath.Base(path)
	done := make(chan struct{})

	go func() {
		var reloadAt time.Time
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				// Debounce bursts of events from a single save.
				if time.Since(reloadAt) < 200*time.Millisecond {
					continue
				}
				reloadAt = time.Now()

				cfg, err := Load(path)
				if err != nil {
					logging.Warn("Ignoring invalid config rewrite",
						map[string]interface{}{"path": path, "error": err.Error()})
					continue
				}
				logging.Info("Configuration reloaded", map[string]interface{}{"path": path})
				onChange(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Config watcher error", map[string]interface{}{"error": err.Error()})
			}
		}
	}()

	stop := func() {
		close(done)
		watcher.Close()
	}
	return stop, nil
}
