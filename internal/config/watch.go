package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roelfdiedericks/clawrelay/internal/logging"
)

// DefaultReloadDebounce coalesces bursts of writes (editors often write twice).
const DefaultReloadDebounce = 500 * time.Millisecond

// Watch calls onChange with a freshly loaded config whenever the file at path
// changes and still validates. Invalid edits are logged and ignored; the
// running config stays in effect. Blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory; editors replace files by rename
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Base(path)
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}

	logging.L_debug("config: watching", "path", path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
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
			logging.L_trace("config: file event", "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			cfg, _, err := Load(path)
			if err != nil {
				logging.L_warn("config: reload rejected, keeping current config", "error", err)
				continue
			}
			logging.L_info("config: reloaded", "path", path)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.L_warn("config: watcher error", "error", err)
		}
	}
}
