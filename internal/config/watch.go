package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/hvdkamer/relaydesk/internal/logger"
)

// Watcher re-reads the config file whenever it changes on disk and hands
// the validated result to the apply callback. Invalid edits are logged and
// skipped, so a half-saved file never replaces a working config.
type Watcher struct {
	watcher *fsnotify.Watcher
	closed  chan struct{}
}

// Watch starts watching path. The parent directory is watched rather than
// the file itself because most editors save via rename, which would drop
// a watch on the file.
func Watch(path string, apply func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config dir: %w", err)
	}

	w := &Watcher{
		watcher: fw,
		closed:  make(chan struct{}),
	}
	go w.loop(path, apply)
	return w, nil
}

func (w *Watcher) loop(path string, apply func(Config)) {
	base := filepath.Base(path)
	for {
		select {
		case <-w.closed:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.Warnf("config reload skipped: %v", err)
				continue
			}
			logger.Infof("config reloaded from %s", path)
			apply(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.closed)
	w.watcher.Close()
}
