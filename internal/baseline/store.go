package baseline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/varalys/fimwatch/internal/files"
	"github.com/varalys/fimwatch/internal/hasher"
	"github.com/varalys/fimwatch/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// IDLayout formats snapshot ids. Times are always UTC.
const IDLayout = "20060102T150405.000000000Z"

const (
	filePrefix = "baseline_"
	fileSuffix = ".json"
)

var (
	// ErrSnapshotNotFound is returned when no snapshot matches.
	ErrSnapshotNotFound = errors.New("baseline snapshot not found")
	// ErrCorruptSnapshot marks a snapshot that fails integrity checks.
	ErrCorruptSnapshot = errors.New("baseline snapshot is corrupt")
)

// document is the persisted form of a Baseline.
type document struct {
	ID         string                         `json:"id"`
	Root       string                         `json:"root"`
	CreatedAt  time.Time                      `json:"created_at"`
	EntryCount int                            `json:"entry_count"`
	Skipped    int                            `json:"skipped,omitempty"`
	Checksum   string                         `json:"checksum"`
	Entries    map[string]types.BaselineEntry `json:"entries"`
}

// Summary describes a stored snapshot without its entries.
type Summary struct {
	ID         string    `json:"id"`
	Root       string    `json:"root"`
	CreatedAt  time.Time `json:"created_at"`
	EntryCount int       `json:"entry_count"`
	Path       string    `json:"path"`
}

// Store manages baseline snapshots in a directory.
type Store struct {
	dir     string
	hasher  *hasher.Hasher
	logger  *zap.Logger
	workers int
	walk    files.Options
	now     func() time.Time

	mu   sync.Mutex
	last time.Time
}

type Option func(*Store)

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWorkers bounds how many files are hashed concurrently.
func WithWorkers(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithWalkOptions sets the include/exclude filters used by Create.
func WithWalkOptions(o files.Options) Option {
	return func(s *Store) { s.walk = o }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore returns a store rooted at dir. The snapshot directory itself is
// always excluded from walks.
func NewStore(dir string, h *hasher.Hasher, opts ...Option) *Store {
	if h == nil {
		h = hasher.New()
	}
	s := &Store{
		dir:     dir,
		hasher:  h,
		logger:  zap.NewNop(),
		workers: runtime.NumCPU(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		s.dir = abs
	}
	s.walk.Skip = append(append([]string(nil), s.walk.Skip...), s.dir)
	return s
}

// Dir returns the absolute snapshot directory.
func (s *Store) Dir() string { return s.dir }

// FormatID renders t as a snapshot id.
func FormatID(t time.Time) string { return t.UTC().Format(IDLayout) }

// ParseID parses a snapshot id back into its creation time.
func ParseID(id string) (time.Time, error) {
	return time.Parse(IDLayout, id)
}

// Path returns the snapshot file path for id.
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, filePrefix+id+fileSuffix)
}

// Create hashes every eligible file under root and commits a new snapshot.
// Nothing is written unless the walk and all hashing complete.
func (s *Store) Create(ctx context.Context, root string) (*Baseline, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}

	live, err := s.Scan(ctx, abs)
	if err != nil {
		return nil, fmt.Errorf("baseline aborted: %w", err)
	}

	createdAt := s.nextTime()
	entries := make(map[string]types.BaselineEntry, len(live))
	skipped := 0
	for rel, sum := range live {
		if sum == "" {
			skipped++
			continue
		}
		entries[rel] = types.BaselineEntry{Path: rel, Digest: sum, RecordedAt: createdAt}
	}

	b := newBaseline(FormatID(createdAt), abs, createdAt, entries, skipped)
	if err := s.save(b); err != nil {
		return nil, err
	}
	s.logger.Info("Baseline committed",
		zap.String("snapshot", b.ID()),
		zap.String("root", abs),
		zap.Int("entries", b.Len()),
		zap.Int("skipped", b.Skipped()))
	return b, nil
}

// Scan walks root with the store's filters and hashes every file
// concurrently. The result maps relative paths to digests; files that exist
// but cannot be read map to "". Files that vanish mid-walk are omitted.
// Cancellation is checked between files and aborts the scan.
func (s *Store) Scan(ctx context.Context, root string) (map[string]string, error) {
	var (
		mu   sync.Mutex
		live = make(map[string]string)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	walkErr := files.Walk(gctx, root, s.walk, func(e files.Entry) error {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sum, err := s.hasher.Sum(e.Abs)
			if err != nil {
				if hasher.IsVanished(err) {
					return nil
				}
				s.logger.Warn("Failed to hash file",
					zap.String("path", e.Rel), zap.Error(err))
				sum = ""
			}
			mu.Lock()
			live[e.Rel] = sum
			mu.Unlock()
			return nil
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if walkErr != nil {
		return nil, walkErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return live, nil
}

// nextTime returns a creation time strictly after every id this store has
// issued or that already exists on disk.
func (s *Store) nextTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC().Round(0)
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	for {
		if _, err := os.Stat(s.Path(FormatID(t))); errors.Is(err, os.ErrNotExist) {
			break
		}
		t = t.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *Store) save(b *Baseline) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	doc := document{
		ID:         b.id,
		Root:       b.root,
		CreatedAt:  b.createdAt,
		EntryCount: len(b.entries),
		Skipped:    b.skipped,
		Checksum:   checksum(b.entries),
		Entries:    b.entries,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode baseline: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, filePrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(b.id)); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads and verifies the snapshot with the given id.
func (s *Store) Load(id string) (*Baseline, error) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, ErrSnapshotNotFound)
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %w", id, err)
	}
	return decode(id, data)
}

func decode(id string, data []byte) (*Baseline, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", id, ErrCorruptSnapshot, err)
	}
	if doc.ID != id {
		return nil, fmt.Errorf("%s: %w: id mismatch %q", id, ErrCorruptSnapshot, doc.ID)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]types.BaselineEntry{}
	}
	if doc.EntryCount != len(doc.Entries) {
		return nil, fmt.Errorf("%s: %w: entry_count %d, found %d", id, ErrCorruptSnapshot, doc.EntryCount, len(doc.Entries))
	}
	for p, e := range doc.Entries {
		if e.Path != p || !hasher.Valid(e.Digest) {
			return nil, fmt.Errorf("%s: %w: bad entry %q", id, ErrCorruptSnapshot, p)
		}
	}
	if doc.Checksum != checksum(doc.Entries) {
		return nil, fmt.Errorf("%s: %w: checksum mismatch", id, ErrCorruptSnapshot)
	}
	return newBaseline(doc.ID, doc.Root, doc.CreatedAt, doc.Entries, doc.Skipped), nil
}

// MostRecent loads the newest snapshot.
func (s *Store) MostRecent() (*Baseline, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrSnapshotNotFound
	}
	return s.Load(ids[len(ids)-1])
}

// ids returns snapshot ids in ascending (oldest first) order.
func (s *Store) ids() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if _, err := ParseID(id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	// Fixed-width UTC ids sort chronologically.
	sort.Strings(ids)
	return ids, nil
}

// List returns summaries of readable snapshots, oldest first.
func (s *Store) List() ([]Summary, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		data, err := os.ReadFile(s.Path(id))
		if err != nil {
			continue
		}
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		out = append(out, Summary{
			ID:         id,
			Root:       doc.Root,
			CreatedAt:  doc.CreatedAt,
			EntryCount: doc.EntryCount,
			Path:       s.Path(id),
		})
	}
	return out, nil
}

// Prune deletes all but the newest keep snapshots and returns how many
// were removed.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("prune must keep at least one snapshot, got %d", keep)
	}
	ids, err := s.ids()
	if err != nil {
		return 0, err
	}
	if len(ids) <= keep {
		return 0, nil
	}
	deleted := 0
	for _, id := range ids[:len(ids)-keep] {
		if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return deleted, fmt.Errorf("failed to remove snapshot %s: %w", id, err)
		}
		deleted++
	}
	s.logger.Info("Pruned baseline snapshots", zap.Int("deleted", deleted), zap.Int("kept", keep))
	return deleted, nil
}
