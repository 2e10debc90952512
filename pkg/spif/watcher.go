package spif

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher invalidates a Loader's cache when the policy file changes on
// disk. Only file-backed sources can be watched; bucket-backed deployments
// rely on the distribution fan-out to trigger invalidation instead.
type Watcher struct {
	loader   *Loader
	path     string
	debounce time.Duration
	logger   *slog.Logger

	fw     *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// WatchFile starts watching the file behind src and invalidates loader
// after changes settle for the debounce window. A zero debounce uses a
// sensible default. Close releases the watch.
func WatchFile(loader *Loader, src *FileSource, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the parent directory: editors and atomic writers replace the
	// file via rename+create, which a watch on the file itself misses.
	if err := fw.Add(filepath.Dir(src.Path())); err != nil {
		_ = fw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		loader:   loader,
		path:     filepath.Clean(src.Path()),
		debounce: debounce,
		logger:   logger,
		fw:       fw,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	// The timer is armed on the first relevant event and re-armed on each
	// follow-up, so a burst of writes produces one invalidation.
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			w.logger.Info("policy file changed", "path", w.path)
			w.loader.Invalidate()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy watch error", "path", w.path, "error", err)
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.fw.Close()
	<-w.done
	return err
}
