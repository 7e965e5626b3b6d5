package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watcher reloads .director/config.yaml when it changes on disk.
type Watcher struct {
	cfg     *Config
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the .director directory. The watch is active when
// NewWatcher returns, so edits made afterwards are never missed.
func NewWatcher(cfg *Config) (*Watcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config: nil config")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	// fsnotify is more reliable on the directory than on a file that editors
	// replace by rename.
	if err := fw.Add(cfg.DirectorProjectDir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", cfg.DirectorProjectDir, err)
	}
	return &Watcher{cfg: cfg, watcher: fw}, nil
}

// Run blocks until ctx is done. After each burst of edits the config is
// reloaded; onChange receives a snapshot copy, onError any reload failure.
// Either callback may be nil.
func (w *Watcher) Run(ctx context.Context, onChange func(Config), onError func(error)) error {
	defer w.watcher.Close()
	target := filepath.Base(w.cfg.ProjectConfigPath())
	debounce := time.NewTimer(watchDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(watchDebounce)
		case <-debounce.C:
			if err := w.cfg.Reload(); err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onChange != nil {
				snapshot := *w.cfg
				snapshot.Project.Modes = append([]string(nil), w.cfg.Project.Modes...)
				onChange(snapshot)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(fmt.Errorf("config: watch: %w", err))
			}
		}
	}
}
