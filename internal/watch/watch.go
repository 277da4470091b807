// Package watch adapts fsnotify notifications under a monitored root into
// RawEvents for the coordinator.
//
// Directories are watched recursively. A directory that appears after Start
// is added to the watch, and the regular files already inside it are reported
// as Created. fsnotify reports a rename as a Rename on the old name followed by
// a Create on the new one; the two halves are tagged with a shared MoveID
// when the Create follows within the pairing window. Unpaired halves are left
// for the classifier to degrade. Attribute-only changes are dropped.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/varalys/fimwatch/internal/files"
	"github.com/varalys/fimwatch/internal/types"
	"go.uber.org/zap"
)

// DefaultPairWindow bounds how long a Rename waits for its Create.
const DefaultPairWindow = 100 * time.Millisecond

// Watcher emits RawEvents for changes below a root.
type Watcher struct {
	root       string
	filter     files.Options
	logger     *zap.Logger
	now        func() time.Time
	pairWindow time.Duration
	onOverflow func()
	newID      func() string

	fsw    *fsnotify.Watcher
	events chan types.RawEvent
	quit   chan struct{}
	done   chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	// owned by the loop goroutine
	pendingID string
	pendingAt time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithFilter applies the same include, exclude and skip rules as the
// baseline walk.
func WithFilter(o files.Options) Option { return func(w *Watcher) { w.filter = o } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock overrides the time source used for ObservedAt.
func WithClock(now func() time.Time) Option { return func(w *Watcher) { w.now = now } }

// WithPairWindow sets how long a Rename waits for the matching Create.
func WithPairWindow(d time.Duration) Option { return func(w *Watcher) { w.pairWindow = d } }

// WithBuffer sets the capacity of the Events channel.
func WithBuffer(n int) Option {
	return func(w *Watcher) {
		if n >= 0 {
			w.events = make(chan types.RawEvent, n)
		}
	}
}

// WithOverflow registers a callback for kernel queue overflows, after which
// events have been lost and a reconcile is due.
func WithOverflow(fn func()) Option { return func(w *Watcher) { w.onOverflow = fn } }

// New creates a watcher for root. Nothing is watched until Start.
func New(root string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s: not a directory", abs)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{
		root:       abs,
		logger:     zap.NewNop(),
		now:        time.Now,
		pairWindow: DefaultPairWindow,
		newID:      uuid.NewString,
		fsw:        fsw,
		events:     make(chan types.RawEvent, 1024),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Root returns the absolute watched root.
func (w *Watcher) Root() string { return w.root }

// Events returns the event stream. It is closed after Close, or once the
// context passed to Start is cancelled.
func (w *Watcher) Events() <-chan types.RawEvent { return w.events }

// Start registers the directory tree and begins forwarding events.
func (w *Watcher) Start(ctx context.Context) error {
	started := false
	var err error
	w.startOnce.Do(func() {
		started = true
		if err = w.addTree(ctx, w.root, false); err != nil {
			return
		}
		go w.loop(ctx)
	})
	if !started {
		return errors.New("watch: already started")
	}
	if err != nil {
		_ = w.fsw.Close()
		close(w.events)
		close(w.done)
		return err
	}
	w.logger.Info("Watching directory tree",
		zap.String("root", w.root),
		zap.Int("directories", len(w.fsw.WatchList())))
	return nil
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.quit)
		err = w.fsw.Close()
	})
	w.startOnce.Do(func() {
		// never started; nothing will close the stream
		close(w.events)
		close(w.done)
	})
	<-w.done
	return err
}

// addTree watches dir and every eligible directory below it. With report
// set, regular files found along the way are emitted as Created.
func (w *Watcher) addTree(ctx context.Context, dir string, report bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == dir {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if w.filter.Skipped(p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, ok := w.rel(p)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if rel != "." && w.filter.DirExcluded(rel) {
				return filepath.SkipDir
			}
			if addErr := w.fsw.Add(p); addErr != nil {
				if p == w.root {
					return fmt.Errorf("watch %s: %w", p, addErr)
				}
				w.logger.Warn("Cannot watch directory", zap.String("path", p), zap.Error(addErr))
				return filepath.SkipDir
			}
			return nil
		}
		if report && d.Type().IsRegular() && w.filter.Allowed(rel) {
			w.send(ctx, types.RawEvent{Kind: types.Created, Path: p, ObservedAt: w.now()})
		}
		return nil
	})
}

func (w *Watcher) rel(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)
	for {
		select {
		case <-ctx.Done():
			_ = w.fsw.Close()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("Watch queue overflowed; events were lost")
				if w.onOverflow != nil {
					w.onOverflow()
				}
				continue
			}
			w.logger.Warn("Watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	p := filepath.Clean(ev.Name)
	if w.filter.Skipped(p) {
		return
	}
	rel, ok := w.rel(p)
	if !ok || rel == "." {
		return
	}
	for _, raw := range w.translate(ctx, ev.Op, p, rel) {
		w.send(ctx, raw)
	}
}

// translate maps one fsnotify op to zero or more RawEvents.
func (w *Watcher) translate(ctx context.Context, op fsnotify.Op, p, rel string) []types.RawEvent {
	now := w.now()
	switch {
	case op.Has(fsnotify.Create):
		info, err := os.Lstat(p)
		if err == nil && info.IsDir() {
			if w.filter.DirExcluded(rel) {
				return nil
			}
			w.claimMove(now)
			if addErr := w.addTree(ctx, p, true); addErr != nil && !errors.Is(addErr, context.Canceled) {
				w.logger.Warn("Cannot watch new directory", zap.String("path", p), zap.Error(addErr))
			}
			return nil
		}
		if !w.filter.Allowed(rel) {
			w.claimMove(now)
			return nil
		}
		if id := w.claimMove(now); id != "" {
			return []types.RawEvent{{Kind: types.MovedTo, Path: p, MoveID: id, ObservedAt: now}}
		}
		return []types.RawEvent{{Kind: types.Created, Path: p, ObservedAt: now}}
	case op.Has(fsnotify.Write):
		if !w.filter.Allowed(rel) {
			return nil
		}
		return []types.RawEvent{{Kind: types.Modified, Path: p, ObservedAt: now}}
	case op.Has(fsnotify.Rename):
		if !w.filter.Allowed(rel) {
			return nil
		}
		_ = w.fsw.Remove(p)
		id := w.newID()
		w.pendingID, w.pendingAt = id, now
		return []types.RawEvent{{Kind: types.MovedFrom, Path: p, MoveID: id, ObservedAt: now}}
	case op.Has(fsnotify.Remove):
		if !w.filter.Allowed(rel) {
			return nil
		}
		return []types.RawEvent{{Kind: types.Deleted, Path: p, ObservedAt: now}}
	}
	return nil
}

// claimMove returns the MoveID of a Rename still inside the pairing window
// and forgets it.
func (w *Watcher) claimMove(now time.Time) string {
	id := w.pendingID
	if id == "" {
		return ""
	}
	w.pendingID = ""
	if now.Sub(w.pendingAt) > w.pairWindow {
		return ""
	}
	return id
}

func (w *Watcher) send(ctx context.Context, ev types.RawEvent) {
	select {
	case w.events <- ev:
	case <-ctx.Done():
	case <-w.quit:
	}
}
