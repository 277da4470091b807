package tui

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/varalys/fimwatch/internal/types"
)

// Prefs are the live view settings kept between sessions.
type Prefs struct {
	// FullDigests shows complete digests instead of a 12 character prefix.
	FullDigests bool `json:"full_digests"`
	// SeverityFilter restores the last severity filter; empty shows all.
	SeverityFilter types.Severity `json:"severity_filter,omitempty"`
}

func DefaultPrefs() Prefs {
	return Prefs{}
}

func prefsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "fimwatch", "tui_prefs.json"), nil
}

// LoadPrefs reads the prefs file. A missing or unreadable file yields
// defaults, and an unknown severity filter is dropped.
func LoadPrefs() Prefs {
	path, err := prefsPath()
	if err != nil {
		return DefaultPrefs()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultPrefs()
	}
	var p Prefs
	if err := json.Unmarshal(data, &p); err != nil {
		return DefaultPrefs()
	}
	if sev, ok := types.ParseSeverity(string(p.SeverityFilter)); ok {
		p.SeverityFilter = sev
	} else {
		p.SeverityFilter = ""
	}
	return p
}

func SavePrefs(p Prefs) error {
	path, err := prefsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
