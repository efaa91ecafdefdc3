package screen

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/autograder/constants"
)

type WatchConfig struct {
	Debounce time.Duration // coalesce create/write bursts, default 200ms
	Wait     time.Duration // how long Capture waits for a new image, default 30s
}

// Watch adds images that appear in the replay directory after NewReplay to
// the end of the queue, in name order per debounce window. It returns once
// the watcher is running; watching stops when ctx is done.
func (r *Replay) Watch(ctx context.Context, cfg WatchConfig) error {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 30 * time.Second
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Error("failed to create fsnotify watcher", "error", err)
		return err
	}
	if err := w.Add(r.dir); err != nil {
		r.logger.Error("failed to watch replay directory", "dir", r.dir, "error", err)
		_ = w.Close()
		return err
	}

	r.mu.Lock()
	r.wait = cfg.Wait
	r.mu.Unlock()
	r.logger.Info("screen.replay.watching", "dir", r.dir, "debounce_ms", cfg.Debounce.Milliseconds())

	go func() {
		defer func() {
			if err := w.Close(); err != nil {
				r.logger.Warn("failed to close watcher", "error", err)
			}
		}()

		var flush <-chan time.Time
		pending := map[string]struct{}{}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if !constants.IsImageExt(filepath.Ext(e.Name)) || e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				pending[e.Name] = struct{}{}
				flush = time.After(cfg.Debounce)
			case <-flush:
				r.enqueue(pending)
				pending = map[string]struct{}{}
				flush = nil
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Error("watcher error", "dir", r.dir, "error", err)
			}
		}
	}()
	return nil
}

func (r *Replay) enqueue(pending map[string]struct{}) {
	var added []string
	r.mu.Lock()
	for p := range pending {
		if _, seen := r.known[p]; seen {
			continue
		}
		r.known[p] = struct{}{}
		added = append(added, p)
	}
	sort.Strings(added)
	r.files = append(r.files, added...)
	r.mu.Unlock()

	if len(added) == 0 {
		return
	}
	r.logger.Info("screen.replay.images_added", "dir", r.dir, "count", len(added))
	select {
	case r.arrived <- struct{}{}:
	default:
	}
}
