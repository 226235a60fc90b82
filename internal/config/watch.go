package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// settleDelay coalesces the burst of events an editor produces for one save.
const settleDelay = 100 * time.Millisecond

// Watch calls onChange with the path of any watched file that is written,
// created, replaced, removed or has its mode changed. The parent directories
// are watched so atomic replace-by-rename is seen. Watching stops when ctx
// is done.
func Watch(ctx context.Context, log zerolog.Logger, onChange func(path string), paths ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		clean := filepath.Clean(p)
		targets[clean] = true
		dir := filepath.Dir(clean)
		if dirs[dir] {
			continue
		}
		if err := w.Add(dir); err != nil {
			w.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	var (
		mu     sync.Mutex
		timers = make(map[string]*time.Timer)
	)
	fire := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(settleDelay)
			return
		}
		timers[path] = time.AfterFunc(settleDelay, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			if ctx.Err() == nil {
				onChange(path)
			}
		})
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				for _, t := range timers {
					t.Stop()
				}
				mu.Unlock()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				name := filepath.Clean(ev.Name)
				if !targets[name] {
					continue
				}
				log.Debug().Str("path", name).Str("op", ev.Op.String()).Msg("settings file changed")
				fire(name)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("settings watcher error")
			}
		}
	}()

	return nil
}
