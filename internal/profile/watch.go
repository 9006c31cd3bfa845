package profile

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dynamicsmcp/fomcp/internal/debug"
)

// watchDebounce absorbs editor save bursts before reloading.
const watchDebounce = 500 * time.Millisecond

// Watch reloads the registry when profiles.yaml changes and calls onChange
// after each successful reload. Blocks until ctx is done. Serve mode uses
// this so profile edits take effect without a restart.
func (r *Registry) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: atomic saves replace the inode.
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return err
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	target := filepath.Base(r.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(watchDebounce, func() {
				if err := r.Reload(); err != nil {
					debug.Logf("profile reload failed: %v\n", err)
					return
				}
				debug.Logf("profiles reloaded from %s\n", r.path)
				if onChange != nil {
					onChange()
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			debug.Logf("profile watcher error: %v\n", err)
		}
	}
}
