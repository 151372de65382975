// Package notify watches reduction input files and reports changes so that a
// long-running process can rebuild its taxonomy when upstream clustering
// rewrites them.
package notify

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce groups the bursts of events editors and batch writers
// produce for a single logical update.
const DefaultDebounce = 500 * time.Millisecond

// FileWatcher watches a fixed set of files and calls back with the files
// that changed once no further event arrived for the debounce interval.
//
// The parent directories are watched rather than the files themselves so
// that atomic rename-over writes are seen.
type FileWatcher struct {
	files    map[string]struct{}
	debounce time.Duration
	callback func(changed []string)
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewFileWatcher creates a watcher for paths. A non-positive debounce uses
// DefaultDebounce.
func NewFileWatcher(paths []string, debounce time.Duration, logger zerolog.Logger, callback func(changed []string)) *FileWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	files := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		files[filepath.Clean(p)] = struct{}{}
	}
	return &FileWatcher{
		files:    files,
		debounce: debounce,
		callback: callback,
		logger:   logger.With().Str("component", "notify").Logger(),
		done:     make(chan struct{}),
	}
}

// Start begins watching. Call Stop to clean up.
func (fw *FileWatcher) Start() error {
	if len(fw.files) == 0 {
		return fmt.Errorf("notify: no files to watch")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dirs := make(map[string]struct{})
	for f := range fw.files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return fmt.Errorf("notify: watch %s: %w", dir, err)
		}
	}
	fw.watcher = w

	go fw.loop()
	fw.logger.Info().Int("files", len(fw.files)).Msg("watching input files")
	return nil
}

// Stop shuts down the watcher and waits for the event loop to exit.
// A pending debounced callback is dropped.
func (fw *FileWatcher) Stop() {
	if fw.watcher == nil {
		return
	}
	_ = fw.watcher.Close()
	<-fw.done
}

func (fw *FileWatcher) loop() {
	defer close(fw.done)

	pending := make(map[string]struct{})
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case evt, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(evt.Name)
			if _, watched := fw.files[name]; !watched {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			pending[name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(fw.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for name := range pending {
				changed = append(changed, name)
			}
			sort.Strings(changed)
			pending = make(map[string]struct{})
			if fw.callback != nil {
				fw.callback(changed)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}
