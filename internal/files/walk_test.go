package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/varalys/fimwatch/internal/ignore"
)

func mustWrite(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func collect(t *testing.T, root string, opts Options) []string {
	t.Helper()
	var got []string
	err := Walk(context.Background(), root, opts, func(e Entry) error {
		got = append(got, e.Rel)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(got)
	return got
}

func TestWalk_WithIncludeExcludeGlobs(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "a.txt", "hello")
	mustWrite(t, dir, "b.go", "package main\n")
	mustWrite(t, dir, "docs/c.md", "doc")

	got := collect(t, dir, Options{Include: ParseGlobs("**/*.go")})
	if len(got) != 1 || got[0] != "b.go" {
		t.Fatalf("include globs failed, got %v", got)
	}

	got = collect(t, dir, Options{Exclude: ParseGlobs("**/*.md")})
	for _, p := range got {
		if p == "docs/c.md" {
			t.Fatalf("exclude globs failed, saw %s", p)
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected a.txt and b.go, got %v", got)
	}
}

func TestWalk_DefaultExcludesAndIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "etc/passwd", "root:x:0:0")
	mustWrite(t, dir, ".git/HEAD", "ref: refs/heads/main")
	mustWrite(t, dir, "etc/.passwd.swp", "swap")
	mustWrite(t, dir, "cache/blob", "x")
	mustWrite(t, dir, ignore.FileName, "cache/\n")

	ign, _ := ignore.Load(filepath.Join(dir, ignore.FileName))
	got := collect(t, dir, Options{DefaultExcludes: true, Ignore: ign})
	want := []string{ignore.FileName, "etc/passwd"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}

func TestWalk_SkipsArtifacts(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "a.txt", "a")
	mustWrite(t, dir, "baselines/baseline_1.json", "{}")
	mustWrite(t, dir, "fim.log", "log")

	got := collect(t, dir, Options{Skip: []string{
		filepath.Join(dir, "baselines"),
		filepath.Join(dir, "fim.log"),
	}})
	if len(got) != 1 || got[0] != "a.txt" {
		t.Fatalf("expected only a.txt, got %v", got)
	}
}

func TestWalk_Cancelled(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, dir, "a.txt", "a")
	mustWrite(t, dir, "b.txt", "b")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Walk(ctx, dir, Options{}, func(Entry) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWalk_MissingRoot(t *testing.T) {
	err := Walk(context.Background(), filepath.Join(t.TempDir(), "nope"), Options{}, func(Entry) error { return nil })
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestIsUnder(t *testing.T) {
	roots := []string{"/srv/data/baselines", "/srv/data/fim.log"}
	cases := map[string]bool{
		"/srv/data/baselines":              true,
		"/srv/data/baselines/baseline.json": true,
		"/srv/data/baselines2/x":           false,
		"/srv/data/fim.log":                true,
		"/srv/data/fim.log.1":              false,
	}
	for p, want := range cases {
		if got := IsUnder(filepath.FromSlash(p), roots); got != want {
			t.Fatalf("IsUnder(%q)=%v want %v", p, got, want)
		}
	}
}
