package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/varalys/fimwatch/internal/baseline"
	"github.com/varalys/fimwatch/internal/classify"
	"github.com/varalys/fimwatch/internal/config"
	"github.com/varalys/fimwatch/internal/files"
	"github.com/varalys/fimwatch/internal/hasher"
	"github.com/varalys/fimwatch/internal/ignore"
	"github.com/varalys/fimwatch/internal/types"
)

// Re-export selected internal types as a stable public API surface.
type Finding = types.Finding
type AlertConfig = config.AlertConfig

// ErrNoBaseline is returned by Verify when no snapshot exists yet.
var ErrNoBaseline = errors.New("no baseline snapshot")

// Options selects the monitored tree and where snapshots live.
type Options struct {
	Root        string
	SnapshotDir string // defaults to Root/.fimwatch/baselines
	Workers     int
	Include     []string
	Exclude     []string
	// DefaultExcludes prunes VCS directories and editor temp files.
	DefaultExcludes bool
	// Alert supplies severities; zero means the built-in defaults.
	Alert *AlertConfig
}

// Result is one verification pass against the latest baseline.
type Result struct {
	Snapshot string
	Scanned  int
	Findings []Finding
	Duration time.Duration
}

func (o Options) store() (*baseline.Store, string, error) {
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return nil, "", err
	}
	dir := o.SnapshotDir
	if dir == "" {
		dir = filepath.Join(root, ".fimwatch", "baselines")
	}
	ign, _ := ignore.Load(filepath.Join(root, ignore.FileName))
	s := baseline.NewStore(dir, hasher.New(),
		baseline.WithWorkers(o.Workers),
		baseline.WithWalkOptions(files.Options{
			Include:         o.Include,
			Exclude:         o.Exclude,
			DefaultExcludes: o.DefaultExcludes,
			Ignore:          ign,
		}))
	return s, root, nil
}

// CreateBaseline records a new snapshot of Root and returns its id and
// entry count.
func CreateBaseline(ctx context.Context, o Options) (string, int, error) {
	s, root, err := o.store()
	if err != nil {
		return "", 0, err
	}
	b, err := s.Create(ctx, root)
	if err != nil {
		return "", 0, err
	}
	return b.ID(), b.Len(), nil
}

// Verify compares Root with its most recent snapshot. No alerts are sent
// and the snapshot is left unchanged.
func Verify(ctx context.Context, o Options) (Result, error) {
	s, root, err := o.store()
	if err != nil {
		return Result{}, err
	}
	b, err := s.MostRecent()
	if errors.Is(err, baseline.ErrSnapshotNotFound) {
		return Result{}, ErrNoBaseline
	}
	if err != nil {
		return Result{}, err
	}
	if b.Root() != root {
		return Result{}, fmt.Errorf("baseline %s covers %s, not %s", b.ID(), b.Root(), root)
	}
	cfg := config.DefaultAlertConfig()
	if o.Alert != nil {
		cfg = *o.Alert
	}
	start := time.Now()
	live, err := s.Scan(ctx, root)
	if err != nil {
		return Result{}, err
	}
	cls := classify.New(cfg, hasher.New(), classify.WithExclude(s.Dir()))
	return Result{
		Snapshot: b.ID(),
		Scanned:  len(live),
		Findings: cls.Diff(b, live, time.Now()),
		Duration: time.Since(start),
	}, nil
}
