package files

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	doublestar "github.com/bmatcuk/doublestar/v4"
	"github.com/varalys/fimwatch/internal/ignore"
)

// Options selects which files under a root are monitored.
type Options struct {
	Include         []string // doublestar globs; empty means everything
	Exclude         []string
	DefaultExcludes bool
	Ignore          ignore.Matcher
	// Skip holds absolute paths (files or directories) that are never
	// walked: the monitor's own snapshots and logs.
	Skip []string
}

// Entry is one regular file found by Walk.
type Entry struct {
	Rel  string // slash-separated, relative to the root
	Abs  string
	Info fs.FileInfo
}

// Walk traverses root and invokes handle for each eligible regular file.
// Unreadable directories are skipped. The context is checked before every
// entry; cancellation stops the walk with ctx.Err(). An error from handle
// also stops the walk and is returned.
func Walk(ctx context.Context, root string, opts Options, handle func(Entry) error) error {
	skip := opts.skipSet()
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == root {
				return err
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if skip[filepath.Clean(p)] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if p == root {
				return nil
			}
			if opts.DirExcluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !opts.Allowed(rel) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			// vanished between readdir and stat
			return nil
		}
		return handle(Entry{Rel: rel, Abs: p, Info: info})
	})
}

// Allowed applies globs, the ignore file and default excludes to a relative
// file path. The watch adapter uses it to filter live events the same way
// the baseline walk filters files.
func (o Options) Allowed(rel string) bool {
	rel = filepath.ToSlash(rel)
	if !allowedByGlobs(rel, o.Include, o.Exclude) {
		return false
	}
	if o.Ignore.Match(rel) {
		return false
	}
	if o.DefaultExcludes {
		lower := strings.ToLower(rel)
		if isDefaultFileExcluded(lower) {
			return false
		}
		for _, part := range strings.Split(rel, "/") {
			if isDefaultDirExcluded(part) {
				return false
			}
		}
	}
	return true
}

// DirExcluded reports whether a directory, given relative to the root, is
// pruned from walks and watches.
func (o Options) DirExcluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	if o.DefaultExcludes && isDefaultDirExcluded(path.Base(rel)) {
		return true
	}
	return o.Ignore.Match(rel)
}

// Skipped reports whether an absolute path is, or lies under, one of the
// Skip paths.
func (o Options) Skipped(abs string) bool {
	return IsUnder(abs, o.Skip)
}

// IsUnder reports whether p equals, or lies below, any of roots.
func IsUnder(p string, roots []string) bool {
	p = filepath.Clean(p)
	for _, r := range roots {
		if r == "" {
			continue
		}
		r = filepath.Clean(r)
		if p == r || strings.HasPrefix(p, r+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (o Options) skipSet() map[string]bool {
	out := make(map[string]bool, len(o.Skip))
	for _, s := range o.Skip {
		if s != "" {
			out[filepath.Clean(s)] = true
		}
	}
	return out
}

// ParseGlobs splits a comma-separated glob list. Each glob is also added with
// leading "./" and "**/" stripped so base-name patterns match at any depth.
func ParseGlobs(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
			if t := trimGlobPrefix(p); t != p {
				out = append(out, t)
			}
		}
	}
	return out
}

func allowedByGlobs(rel string, includes, excludes []string) bool {
	if len(includes) > 0 && !matchAnyGlob(rel, includes) {
		return false
	}
	if len(excludes) > 0 && matchAnyGlob(rel, excludes) {
		return false
	}
	return true
}

func matchAnyGlob(pathToMatch string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, pathToMatch); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, filepath.Base(pathToMatch)); ok {
			return true
		}
	}
	return false
}

func trimGlobPrefix(g string) string {
	s := strings.TrimPrefix(g, "./")
	for strings.HasPrefix(s, "**/") {
		s = strings.TrimPrefix(s, "**/")
	}
	return s
}
