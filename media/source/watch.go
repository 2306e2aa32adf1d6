package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leeforge/imageresize/logging"
	"github.com/leeforge/imageresize/media/category"
	"github.com/leeforge/imageresize/media/dispatch"
	"github.com/leeforge/imageresize/media/storage"
	"github.com/leeforge/imageresize/metrics"
	"go.uber.org/zap"
)

// Watcher triggers originals as soon as they land in a LocalStore. Bursts
// of events for one file collapse into a single trigger after the debounce
// delay.
type Watcher struct {
	store    *storage.LocalStore
	registry *category.Registry
	pub      dispatch.Publisher
	debounce time.Duration
	logger   logging.Logger
	metrics  *metrics.Collector

	fs     *fsnotify.Watcher
	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

func NewWatcher(store *storage.LocalStore, registry *category.Registry, pub dispatch.Publisher, debounce time.Duration, logger logging.Logger, m *metrics.Collector) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		store:    store,
		registry: registry,
		pub:      pub,
		debounce: debounce,
		logger:   logger.Named("source.watch"),
		metrics:  m,
		timers:   make(map[string]*time.Timer),
	}
}

func (w *Watcher) Name() string           { return "source." + NameWatch }
func (w *Watcher) Dependencies() []string { return []string{dispatch.ServiceName} }

// Optional lets the service run without the watcher when the platform
// refuses inotify watches.
func (w *Watcher) Optional() bool { return true }

// Start watches the originals directory of every category, creating it when
// missing.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	for _, dir := range w.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fsw.Close()
			return fmt.Errorf("create %s: %w", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.logger.Info("watching folder", zap.String("dir", dir))
	}
	w.fs = fsw

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processEvents(ctx)
	}()
	return nil
}

// Dirs lists the directories the watcher observes.
func (w *Watcher) Dirs() []string {
	var dirs []string
	for _, cat := range w.registry.All() {
		prefix := filepath.FromSlash(strings.TrimSuffix(cat.OriginalsPrefix, "/"))
		dirs = append(dirs, filepath.Join(w.store.BasePath(), cat.Name, prefix))
	}
	return dirs
}

func (w *Watcher) Stop(ctx context.Context) error {
	var err error
	if w.fs != nil {
		err = w.fs.Close()
	}

	w.mu.Lock()
	for name, timer := range w.timers {
		timer.Stop()
		delete(w.timers, name)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			// temp files and dotfiles
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.metrics.SourceError(NameWatch)
			w.logger.WithError(err).Warn("watcher error")
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.timers[name]; exists {
		timer.Stop()
	}
	w.timers[name] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, name)
		w.mu.Unlock()
		w.fire(ctx, name)
	})
}

func (w *Watcher) fire(ctx context.Context, name string) {
	if ctx.Err() != nil {
		return
	}
	if info, err := os.Stat(name); err != nil || info.IsDir() {
		return
	}
	container, key, ok := w.store.Locate(name)
	if !ok {
		return
	}
	path := container + "/" + key
	if err := publish(ctx, w.pub, NameWatch, path, nil); err != nil {
		w.metrics.SourceError(NameWatch)
		w.logger.WithError(err).Warn("publish failed", zap.String("path", path))
	}
}
