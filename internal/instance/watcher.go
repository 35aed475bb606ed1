package instance

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 750 * time.Millisecond

// RegistryWatcher calls onChange once the registry file has been quiet for
// the debounce window. Every event restarts the window, so a burst of
// writes results in a single call.
type RegistryWatcher struct {
	name     string
	debounce time.Duration
	onChange func()
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewRegistryWatcher watches the directory of path, since editors often
// replace the file instead of writing it in place.
func NewRegistryWatcher(path string, debounce time.Duration, onChange func(), logger *slog.Logger) (*RegistryWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve registry path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &RegistryWatcher{
		name:     filepath.Base(abs),
		debounce: debounce,
		onChange: onChange,
		watcher:  fw,
		logger:   logger.With("component", "registry_watcher", "path", abs),
		done:     make(chan struct{}),
	}, nil
}

func (w *RegistryWatcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("Watching robot registry", "debounce", w.debounce)
}

func (w *RegistryWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.name || ev.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("Registry event", "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", slog.Any("error", err))
		case <-fire:
			fire = nil
			w.onChange()
		}
	}
}

// Close stops the watcher and waits for a running onChange to return.
func (w *RegistryWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}
