package report

import (
	"encoding/json"
	"io"

	"github.com/varalys/fimwatch/internal/types"
)

// SchemaVersion identifies the layout of the JSON report.
const SchemaVersion = "1"

// Document is the JSON report of one verification run.
type Document struct {
	Tool          string          `json:"tool"`
	Version       string          `json:"version"`
	SchemaVersion string          `json:"schema_version"`
	Root          string          `json:"root,omitempty"`
	Baseline      string          `json:"baseline,omitempty"`
	Scanned       int             `json:"scanned"`
	DurationMS    int64           `json:"duration_ms"`
	Findings      []types.Finding `json:"findings"`
}

// WriteJSON writes findings wrapped in a Document.
func WriteJSON(w io.Writer, root string, findings []types.Finding, opts PrintOptions) error {
	if findings == nil {
		findings = []types.Finding{}
	}
	sortFindings(findings)
	doc := Document{
		Tool:          "fimwatch",
		Version:       Version,
		SchemaVersion: SchemaVersion,
		Root:          root,
		Baseline:      opts.Snapshot,
		Scanned:       opts.Scanned,
		DurationMS:    opts.Duration.Milliseconds(),
		Findings:      findings,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
