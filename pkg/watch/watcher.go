// Package watch runs a handler on transcript files as they appear in, or
// are rewritten inside, a directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config selects what is watched.
type Config struct {
	// Dir is the directory to watch (not recursive).
	Dir string

	// Pattern is a filepath.Match glob applied to file base names.
	Pattern string

	// Debounce is how long a file must stay quiet before it is handled.
	Debounce time.Duration

	// Existing also handles files already present at start.
	Existing bool

	// Ledger records handled file versions. Nil keeps them in memory.
	Ledger Ledger
}

// DefaultConfig watches dir for *.txt files.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:      dir,
		Pattern:  "*.txt",
		Debounce: 500 * time.Millisecond,
	}
}

// Handler processes one file. Errors are logged and do not stop the watcher.
type Handler func(ctx context.Context, path string) error

// Watcher monitors a directory and hands settled files to a Handler, one
// at a time.
type Watcher struct {
	cfg     Config
	handle  Handler
	logger  *zap.Logger
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
	ledger Ledger

	ready chan string

	handled atomic.Int64
	failed  atomic.Int64
}

// Stats counts handler calls since start.
type Stats struct {
	Handled int64
	Failed  int64
}

// Stats returns how many files were handled and how many of those failed.
func (w *Watcher) Stats() Stats {
	return Stats{Handled: w.handled.Load(), Failed: w.failed.Load()}
}

// NewWatcher creates a watcher. A nil logger disables logging.
func NewWatcher(cfg Config, handle Handler, logger *zap.Logger) (*Watcher, error) {
	if cfg.Pattern == "" {
		cfg.Pattern = "*"
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", cfg.Pattern, err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig("").Debounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewMemoryLedger()
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	cfg.Dir = dir

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	return &Watcher{
		cfg:     cfg,
		handle:  handle,
		logger:  logger,
		watcher: fsw,
		timers:  make(map[string]*time.Timer),
		ledger:  ledger,
		ready:   make(chan string, 64),
	}, nil
}

// Run blocks until ctx is cancelled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.process(ctx) })
	g.Go(func() error { return w.listen(ctx) })

	if w.cfg.Existing {
		if err := w.queueExisting(ctx); err != nil {
			w.logger.Warn("scan existing files", zap.Error(err))
		}
	}

	err := g.Wait()
	if ctx.Err() != nil {
		w.stopTimers()
		return nil
	}
	return err
}

func (w *Watcher) listen(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !w.matches(event.Name) {
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) matches(path string) bool {
	ok, _ := filepath.Match(w.cfg.Pattern, filepath.Base(path))
	return ok
}

// schedule (re)starts the quiet period of path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case w.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) process(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case path := <-w.ready:
			w.handleOne(ctx, path)
		}
	}
}

func (w *Watcher) handleOne(ctx context.Context, path string) {
	stat, err := os.Stat(path)
	if err != nil {
		w.logger.Debug("file vanished", zap.String("path", path), zap.Error(err))
		return
	}

	state := FileState{ModTime: stat.ModTime(), Size: stat.Size()}
	prev, handled, err := w.ledger.Seen(ctx, path)
	if err != nil {
		w.logger.Warn("ledger lookup failed", zap.String("path", path), zap.Error(err))
	}
	if handled && prev.Equal(state) {
		w.logger.Debug("file unchanged", zap.String("path", path))
		return
	}

	start := time.Now()
	err = w.safeHandle(ctx, path)
	if err != nil {
		w.failed.Add(1)
		w.logger.Warn("handler failed", zap.String("path", path), zap.Error(err))
	} else {
		w.logger.Info("file handled", zap.String("path", path), zap.Duration("elapsed", time.Since(start)))
	}

	w.handled.Add(1)

	if err := w.ledger.Mark(ctx, path, state); err != nil {
		w.logger.Warn("ledger update failed", zap.String("path", path), zap.Error(err))
	}
}

// safeHandle turns a handler panic into an error so one bad file cannot
// stop the watch.
func (w *Watcher) safeHandle(ctx context.Context, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	return w.handle(ctx, path)
}

func (w *Watcher) queueExisting(ctx context.Context) error {
	matches, err := filepath.Glob(filepath.Join(w.cfg.Dir, w.cfg.Pattern))
	if err != nil {
		return err
	}
	sort.Strings(matches)
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		select {
		case w.ready <- m:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}
