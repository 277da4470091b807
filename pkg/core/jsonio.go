package core

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/varalys/fimwatch/internal/types"
)

// MarshalFindings writes findings as an indented JSON array. A nil slice is
// written as [] so consumers never have to special-case null.
func MarshalFindings(w io.Writer, findings []Finding) error {
	if findings == nil {
		findings = []Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(findings)
}

// UnmarshalFindings decodes a JSON array of findings and rejects entries
// with an unknown kind or severity.
func UnmarshalFindings(r io.Reader) ([]Finding, error) {
	var fs []Finding
	if err := json.NewDecoder(r).Decode(&fs); err != nil {
		return nil, err
	}
	for i, f := range fs {
		if !slices.Contains(types.FindingKinds, f.Kind) {
			return nil, fmt.Errorf("finding %d: unknown kind %q", i, f.Kind)
		}
		if f.Severity.Rank() == 0 {
			return nil, fmt.Errorf("finding %d: unknown severity %q", i, f.Severity)
		}
	}
	return fs, nil
}

type resultDoc struct {
	Snapshot   string    `json:"snapshot"`
	Scanned    int       `json:"scanned"`
	DurationMS int64     `json:"duration_ms"`
	Findings   []Finding `json:"findings"`
}

// MarshalResult writes a verification result as one JSON object.
func MarshalResult(w io.Writer, res Result) error {
	doc := resultDoc{
		Snapshot:   res.Snapshot,
		Scanned:    res.Scanned,
		DurationMS: res.Duration.Milliseconds(),
		Findings:   res.Findings,
	}
	if doc.Findings == nil {
		doc.Findings = []Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
