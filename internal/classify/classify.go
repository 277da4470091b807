package classify

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/varalys/fimwatch/internal/baseline"
	"github.com/varalys/fimwatch/internal/config"
	"github.com/varalys/fimwatch/internal/files"
	"github.com/varalys/fimwatch/internal/hasher"
	"github.com/varalys/fimwatch/internal/types"
	"go.uber.org/zap"
)

const (
	DefaultWindow     = 500 * time.Millisecond
	DefaultMaxPending = 1024
)

// Classifier is safe for concurrent use. Callers must serialise events for
// the same path; events for different paths may be classified in parallel.
type Classifier struct {
	cfg        config.AlertConfig
	hasher     *hasher.Hasher
	logger     *zap.Logger
	window     time.Duration
	maxPending int
	exclude    []string
	now        func() time.Time
	newID      func() string

	mu      sync.Mutex
	pending map[string]*move
	seq     uint64
}

type Option func(*Classifier)

// WithWindow sets how long a move half waits for its partner.
func WithWindow(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithMaxPending bounds the number of unmatched move halves.
func WithMaxPending(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.maxPending = n
		}
	}
}

// WithExclude lists absolute paths the monitor itself writes (log files,
// snapshot directory, audit log). Events at or under them are dropped.
func WithExclude(paths ...string) Option {
	return func(c *Classifier) {
		for _, p := range paths {
			if p == "" {
				continue
			}
			if abs, err := filepath.Abs(p); err == nil {
				p = abs
			}
			c.exclude = append(c.exclude, p)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Classifier) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDs replaces the finding id generator.
func WithIDs(fn func() string) Option {
	return func(c *Classifier) {
		if fn != nil {
			c.newID = fn
		}
	}
}

func New(cfg config.AlertConfig, h *hasher.Hasher, opts ...Option) *Classifier {
	if h == nil {
		h = hasher.New()
	}
	c := &Classifier{
		cfg:        cfg,
		hasher:     h,
		logger:     zap.NewNop(),
		window:     DefaultWindow,
		maxPending: DefaultMaxPending,
		now:        time.Now,
		newID:      uuid.NewString,
		pending:    make(map[string]*move),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Window returns the move correlation window.
func (c *Classifier) Window() time.Duration { return c.window }

// target is an event path resolved against a baseline root.
type target struct {
	rel string
	abs string
}

// resolve maps p onto b's root. It fails for paths outside the root, the
// root itself and excluded artifacts.
func (c *Classifier) resolve(p string, b *baseline.Baseline) (target, bool) {
	if p == "" {
		return target{}, false
	}
	root := b.Root()
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(root, filepath.FromSlash(p))
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return target{}, false
	}
	if files.IsUnder(abs, c.exclude) {
		return target{}, false
	}
	return target{rel: filepath.ToSlash(rel), abs: abs}, true
}

func isDir(abs string) bool {
	st, err := os.Lstat(abs)
	return err == nil && st.IsDir()
}

func exists(abs string) bool {
	_, err := os.Lstat(abs)
	return !errors.Is(err, fs.ErrNotExist)
}

// Classify returns zero, one or two findings for ev against b. A nil
// baseline yields nothing.
func (c *Classifier) Classify(ev types.RawEvent, b *baseline.Baseline) []types.Finding {
	if b == nil {
		return nil
	}
	at := ev.ObservedAt
	if at.IsZero() {
		at = c.now()
	}
	switch ev.Kind {
	case types.Created, types.Modified, types.Deleted:
		t, ok := c.resolve(ev.Path, b)
		if !ok || isDir(t.abs) {
			return nil
		}
		return c.classifyPath(ev.Kind, t, b, at, types.SourceWatch)
	case types.MovedFrom:
		if ev.DestPath != "" {
			return c.rename(ev.Path, ev.DestPath, b, at, types.SourceWatch)
		}
		if ev.MoveID == "" {
			return c.lone(types.MovedFrom, ev.Path, b, at, types.SourceWatch)
		}
		return c.correlate(ev, b, at)
	case types.MovedTo:
		if ev.MoveID == "" {
			return c.lone(types.MovedTo, ev.Path, b, at, types.SourceWatch)
		}
		return c.correlate(ev, b, at)
	}
	c.logger.Debug("Ignoring event of unknown kind", zap.String("kind", string(ev.Kind)), zap.String("path", ev.Path))
	return nil
}

func (c *Classifier) classifyPath(kind types.EventKind, t target, b *baseline.Baseline, at time.Time, source string) []types.Finding {
	prev, known := b.Lookup(t.rel)
	switch kind {
	case types.Deleted:
		if !known {
			return c.vanishedUnder(t, b, at, source)
		}
		if !exists(t.abs) {
			return c.one(types.Deleted, t.rel, "", prev.Digest, "", at, source)
		}
		// Replaced in place (editors delete and recreate).
		return c.compare(t, prev, at, source)
	default:
		if known {
			return c.compare(t, prev, at, source)
		}
		return c.created(t, at, source)
	}
}

// compare rehashes a baselined file and reports a change if any.
func (c *Classifier) compare(t target, prev types.BaselineEntry, at time.Time, source string) []types.Finding {
	cur, err := c.hasher.Sum(t.abs)
	switch {
	case hasher.IsVanished(err):
		return c.one(types.Deleted, t.rel, "", prev.Digest, "", at, source)
	case err != nil:
		c.logger.Warn("Failed to hash file; change not evaluated",
			zap.String("path", t.rel), zap.Error(err))
		return nil
	case cur == prev.Digest:
		return nil
	}
	return c.one(types.Modified, t.rel, "", prev.Digest, cur, at, source)
}

// created reports a file absent from the baseline. The digest is empty when
// the file cannot be read; a file that is already gone yields nothing.
func (c *Classifier) created(t target, at time.Time, source string) []types.Finding {
	cur, err := c.hasher.Sum(t.abs)
	if err != nil {
		if hasher.IsVanished(err) {
			return nil
		}
		if errors.Is(err, hasher.ErrNotRegular) {
			return nil
		}
		c.logger.Warn("Failed to hash new file", zap.String("path", t.rel), zap.Error(err))
		cur = ""
	}
	return c.one(types.Created, t.rel, "", "", cur, at, source)
}

// lone handles a move half that will never be paired.
func (c *Classifier) lone(kind types.EventKind, p string, b *baseline.Baseline, at time.Time, source string) []types.Finding {
	t, ok := c.resolve(p, b)
	if !ok {
		return nil
	}
	if kind == types.MovedFrom {
		prev, known := b.Lookup(t.rel)
		if !known {
			return c.vanishedUnder(t, b, at, source)
		}
		return c.one(types.Deleted, t.rel, "", prev.Digest, "", at, source)
	}
	if isDir(t.abs) {
		return nil
	}
	return c.classifyPath(types.Created, t, b, at, source)
}

// rename produces one Renamed finding. When only one side is inside the
// monitored tree the move degrades to a delete or a create.
func (c *Classifier) rename(from, to string, b *baseline.Baseline, at time.Time, source string) []types.Finding {
	src, srcOK := c.resolve(from, b)
	dst, dstOK := c.resolve(to, b)
	switch {
	case !srcOK && !dstOK:
		return nil
	case !dstOK:
		return c.lone(types.MovedFrom, from, b, at, source)
	case !srcOK:
		return c.lone(types.MovedTo, to, b, at, source)
	}
	if isDir(dst.abs) {
		// Files inside a moved directory are reported as created by the
		// watcher; the baselined ones under the old name are gone.
		return c.vanishedUnder(src, b, at, source)
	}
	prev, _ := b.Lookup(src.rel)
	cur, err := c.hasher.Sum(dst.abs)
	if err != nil {
		c.logger.Warn("Failed to hash rename destination", zap.String("path", dst.rel), zap.Error(err))
		cur = ""
	}
	return c.one(types.Renamed, dst.rel, src.rel, prev.Digest, cur, at, source)
}

// vanishedUnder treats t as a removed directory: every baselined file below
// it that no longer exists is reported Deleted. fsnotify reports a single
// event for a directory removed or moved away, not one per file.
func (c *Classifier) vanishedUnder(t target, b *baseline.Baseline, at time.Time, source string) []types.Finding {
	prefix := t.rel + "/"
	paths := b.Paths()
	i := sort.SearchStrings(paths, prefix)
	var out []types.Finding
	for ; i < len(paths) && strings.HasPrefix(paths[i], prefix); i++ {
		rel := paths[i]
		abs := filepath.Join(b.Root(), filepath.FromSlash(rel))
		if exists(abs) || files.IsUnder(abs, c.exclude) {
			continue
		}
		prev, _ := b.Lookup(rel)
		out = append(out, c.one(types.Deleted, rel, "", prev.Digest, "", at, source)...)
	}
	return out
}

func (c *Classifier) one(kind types.EventKind, path, oldPath, prev, cur string, at time.Time, source string) []types.Finding {
	return []types.Finding{{
		ID:             c.newID(),
		Kind:           kind,
		Path:           path,
		OldPath:        oldPath,
		PreviousDigest: prev,
		CurrentDigest:  cur,
		Severity:       c.cfg.SeverityFor(kind),
		ObservedAt:     at,
		Source:         source,
	}}
}
