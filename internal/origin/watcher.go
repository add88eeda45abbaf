package origin

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch keeps the segment list in sync with the directory until ctx ends.
// fsnotify drives updates; a slow poll runs as a safety net and takes over
// entirely when the watcher cannot be created.
func (s *DirStore) Watch(ctx context.Context, pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[WARN] Segment watcher: fsnotify failed (%v), falling back to polling", err)
	} else if err := watcher.Add(s.root); err != nil {
		log.Printf("[WARN] Segment watcher: failed to watch %s (%v), falling back to polling", s.root, err)
		watcher.Close()
		watcher = nil
	}

	if watcher != nil {
		go func() {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
						continue
					}
					s.Forget(filepath.Base(event.Name))
					if err := s.Rescan(); err != nil {
						log.Printf("[ERROR] Segment watcher: rescan failed: %v", err)
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("[ERROR] Segment watcher: %v", err)
				}
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Rescan(); err != nil {
					log.Printf("[ERROR] Segment poll: rescan failed: %v", err)
				}
			}
		}
	}()
}
