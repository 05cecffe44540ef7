package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/quizrag/internal/content"
	"github.com/Aman-CERP/quizrag/internal/queue"
	"github.com/Aman-CERP/quizrag/internal/trigger"
)

// Enqueuer accepts indexing tasks. Implemented by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, contentID string, p queue.Payload) (string, error)
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the time to wait before acting on a burst of
	// file events. Default: 500ms
	DebounceWindow time.Duration

	// PollInterval is the rescan interval when fsnotify is unavailable.
	// Default: 5s
	PollInterval time.Duration
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow: 500 * time.Millisecond,
		PollInterval:   5 * time.Second,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	return o
}

// SyncResult summarizes one Sync.
type SyncResult struct {
	Scanned  int
	Enqueued int
	Failed   int
}

// Watcher turns changes in a FileSource directory into queue tasks.
type Watcher struct {
	src  *FileSource
	q    Enqueuer
	opts Options

	mu       sync.Mutex
	snapshot map[string]*content.Item
	primed   bool
}

// NewWatcher creates a watcher for src that enqueues into q.
func NewWatcher(src *FileSource, q Enqueuer, opts Options) *Watcher {
	return &Watcher{
		src:      src,
		q:        q,
		opts:     opts.WithDefaults(),
		snapshot: make(map[string]*content.Item),
	}
}

// Prime records the directory's current state as the baseline without
// enqueuing anything. Changes are measured against it from then on.
func (w *Watcher) Prime(ctx context.Context) error {
	items, _, err := w.src.scan(ctx)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snapshot = items
	w.primed = true
	slog.Debug("source_primed", slog.Int("items", len(items)))
	return nil
}

// Sync rescans the directory and enqueues one task per changed item.
// Items whose file fails to parse, or whose task fails to enqueue, keep
// their previous state so the next Sync retries them.
func (w *Watcher) Sync(ctx context.Context) (SyncResult, error) {
	items, unreadable, err := w.src.scan(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	res := SyncResult{Scanned: len(items)}
	ids := make(map[string]struct{}, len(items)+len(w.snapshot))
	for id := range items {
		ids[id] = struct{}{}
	}
	for id := range w.snapshot {
		ids[id] = struct{}{}
	}
	ordered := make([]string, 0, len(ids))
	for id := range ids {
		ordered = append(ordered, id)
	}
	sort.Strings(ordered)

	next := make(map[string]*content.Item, len(items))
	var errs []error
	for _, id := range ordered {
		before := w.snapshot[id]
		if _, bad := unreadable[id]; bad {
			if before != nil {
				next[id] = before
			}
			continue
		}
		after := items[id]

		p, ok := trigger.Classify(before, after)
		if ok {
			taskID, err := w.q.Enqueue(ctx, id, p)
			if err != nil {
				res.Failed++
				errs = append(errs, fmt.Errorf("enqueue %s: %w", id, err))
				if before != nil {
					next[id] = before
				}
				continue
			}
			res.Enqueued++
			slog.Info("content_change_enqueued",
				slog.String("content_id", id),
				slog.String("type", string(p.Type())),
				slog.String("task_id", taskID))
		}
		if after != nil {
			next[id] = after
		}
	}
	w.snapshot = next
	w.primed = true
	return res, errors.Join(errs...)
}

// Run primes the watcher if needed, then syncs after every debounced
// burst of file events until ctx is done. It falls back to polling when
// fsnotify cannot watch the directory.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.src.Dir(), 0o755); err != nil {
		return fmt.Errorf("create content directory: %w", err)
	}
	w.mu.Lock()
	primed := w.primed
	w.mu.Unlock()
	if !primed {
		if err := w.Prime(ctx); err != nil {
			return err
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		err = fsw.Add(w.src.Dir())
		if err != nil {
			_ = fsw.Close()
		}
	}
	if err != nil {
		slog.Warn("fsnotify_unavailable_polling",
			slog.String("dir", w.src.Dir()),
			slog.String("error", err.Error()),
			slog.Duration("interval", w.opts.PollInterval))
		return w.poll(ctx)
	}
	defer func() { _ = fsw.Close() }()

	debouncer := NewDebouncer(w.opts.DebounceWindow)
	defer debouncer.Stop()

	slog.Info("source_watch_started", slog.String("dir", w.src.Dir()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if fe, ok := toFileEvent(event); ok {
				debouncer.Add(fe)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("source_watch_error", slog.String("error", err.Error()))
		case batch, ok := <-debouncer.Output():
			if !ok {
				return nil
			}
			w.syncLogged(ctx, len(batch))
		}
	}
}

func (w *Watcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.syncLogged(ctx, 0)
		}
	}
}

func (w *Watcher) syncLogged(ctx context.Context, events int) {
	res, err := w.Sync(ctx)
	if err != nil {
		slog.Warn("source_sync_failed", slog.String("error", err.Error()))
	}
	if res.Enqueued > 0 || res.Failed > 0 {
		slog.Info("source_synced",
			slog.Int("events", events),
			slog.Int("scanned", res.Scanned),
			slog.Int("enqueued", res.Enqueued),
			slog.Int("failed", res.Failed))
	}
}

func toFileEvent(e fsnotify.Event) (FileEvent, bool) {
	id, ok := itemID(filepath.Base(e.Name))
	if !ok {
		return FileEvent{}, false
	}
	fe := FileEvent{ID: id, Timestamp: time.Now()}
	switch {
	case e.Has(fsnotify.Create):
		fe.Operation = OpCreate
	case e.Has(fsnotify.Write):
		fe.Operation = OpModify
	case e.Has(fsnotify.Remove), e.Has(fsnotify.Rename):
		fe.Operation = OpDelete
	default:
		return FileEvent{}, false
	}
	return fe, true
}
