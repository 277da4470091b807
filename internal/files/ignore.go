package files

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/varalys/fimwatch/internal/ignore"
)

// AppendIgnore ensures the given pattern is present in the .fimignore file at
// root. It creates the file if missing. Idempotent.
func AppendIgnore(root, pattern string) error {
	pattern = strings.TrimSpace(pattern)
	path := filepath.Join(root, ignore.FileName)
	existing := map[string]bool{}
	if f, err := os.Open(path); err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			existing[strings.TrimSpace(sc.Text())] = true
		}
		_ = f.Close()
	}
	if existing[pattern] {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString(pattern + "\n"); err != nil {
		return err
	}
	return nil
}

// DefaultNoisyIgnores returns editor and swap-file patterns that churn
// constantly and carry no integrity signal.
func DefaultNoisyIgnores() []string {
	return []string{
		"*.swp",
		"*.swx",
		"*~",
		".#*",
		"4913",
	}
}
