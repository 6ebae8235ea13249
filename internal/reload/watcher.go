package reload

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/timzifer/drivelink/config"
)

type fileState struct {
	modTime time.Time
	size    int64
	missing bool
}

// Watcher detects modifications of the configuration source files.
type Watcher struct {
	mu    sync.Mutex
	files map[string]fileState
}

// NewWatcher builds a watcher tracking the files cfg was loaded from.
func NewWatcher(cfg *config.Config, extra ...string) *Watcher {
	watcher := &Watcher{}
	watcher.Update(cfg, extra...)
	return watcher
}

// Update replaces the tracked file set. Paths that do not exist yet stay
// tracked and are reported once they appear. Directories are skipped.
func (w *Watcher) Update(cfg *config.Config, extra ...string) {
	if w == nil {
		return
	}
	paths := append(config.SourceFiles(cfg), extra...)
	states := make(map[string]fileState, len(paths))
	for _, path := range uniquePaths(paths) {
		info, err := os.Stat(path)
		if err != nil {
			states[path] = fileState{missing: true}
			continue
		}
		if info.IsDir() {
			continue
		}
		states[path] = fileState{modTime: info.ModTime(), size: info.Size()}
	}
	w.mu.Lock()
	w.files = states
	w.mu.Unlock()
}

// Check reports the tracked files whose state differs from the last Update.
func (w *Watcher) Check() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	var changed []string
	for path, state := range w.files {
		info, err := os.Stat(path)
		if err != nil {
			if !state.missing {
				changed = append(changed, path)
			}
			continue
		}
		if state.missing || info.ModTime().After(state.modTime) || info.Size() != state.size {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

// Watch polls Check every interval and delivers non-empty change sets until
// ctx ends. The returned channel is closed on exit.
func (w *Watcher) Watch(ctx context.Context, interval time.Duration) <-chan []string {
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan []string, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				changed := w.Check()
				if len(changed) == 0 {
					continue
				}
				select {
				case out <- changed:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}
