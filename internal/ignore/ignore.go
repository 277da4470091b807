// Package ignore implements the .fimignore file: one gitignore-style glob per
// line, '#' comments, a trailing '/' matching a directory and everything in
// it, and patterns without a '/' matching at any depth.
package ignore

import (
	"bufio"
	"os"
	"strings"

	doublestar "github.com/bmatcuk/doublestar/v4"
)

// FileName is the ignore file looked up in the monitored root.
const FileName = ".fimignore"

// Matcher reports whether a slash-separated relative path is ignored.
type Matcher struct {
	patterns []string
}

// Load reads patterns from path. A missing file yields an empty matcher and
// the open error, so callers may ignore the error.
func Load(path string) (Matcher, error) {
	f, err := os.Open(path)
	if err != nil {
		return Matcher{}, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return Matcher{}, err
	}
	return New(lines...), nil
}

// New compiles patterns into a Matcher.
func New(lines ...string) Matcher {
	var m Matcher
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		m.patterns = append(m.patterns, expand(line)...)
	}
	return m
}

func expand(p string) []string {
	p = strings.TrimPrefix(p, "./")
	anchored := strings.HasPrefix(p, "/")
	p = strings.TrimPrefix(p, "/")
	if strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/") + "/**"
	}
	if anchored || strings.Contains(strings.TrimSuffix(p, "/**"), "/") {
		return []string{p}
	}
	return []string{p, "**/" + p}
}

// Match reports whether rel is covered by any pattern.
func (m Matcher) Match(rel string) bool {
	rel = strings.TrimPrefix(strings.ReplaceAll(rel, "\\", "/"), "./")
	for _, p := range m.patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// Empty reports whether the matcher has no patterns.
func (m Matcher) Empty() bool { return len(m.patterns) == 0 }
