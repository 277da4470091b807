package report

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/varalys/fimwatch/internal/types"
)

// Version is reported as the SARIF driver version.
var Version = "dev"

type sarif struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool       sarifTool      `json:"tool"`
	Results    []sarifResult  `json:"results"`
	Properties map[string]any `json:"properties,omitempty"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string       `json:"id"`
	ShortDescription sarifMessage `json:"shortDescription"`
}

type sarifResult struct {
	RuleID     string         `json:"ruleId"`
	RuleIndex  int            `json:"ruleIndex"`
	Level      string         `json:"level"`
	Message    sarifMessage   `json:"message"`
	Locations  []sarifLoc     `json:"locations"`
	Properties map[string]any `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLoc struct {
	PhysicalLocation sarifPhys `json:"physicalLocation"`
}

type sarifPhys struct {
	ArtifactLocation sarifArt `json:"artifactLocation"`
}

type sarifArt struct {
	URI string `json:"uri"`
}

func sevToLevel(s types.Severity) string {
	switch s {
	case types.SevHigh:
		return "error"
	case types.SevMed:
		return "warning"
	default:
		return "note"
	}
}

func ruleID(k types.EventKind) string { return "fim/" + string(k) }

// WriteSARIF writes findings as SARIF 2.1.0. Each finding kind is a rule;
// stats, when non-empty, land in the run properties.
func WriteSARIF(w io.Writer, findings []types.Finding, stats map[string]any) error {
	kinds := map[types.EventKind]bool{}
	for _, f := range findings {
		kinds[f.Kind] = true
	}
	var ordered []types.EventKind
	for k := range kinds {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	index := make(map[types.EventKind]int, len(ordered))
	rules := make([]sarifRule, 0, len(ordered))
	for i, k := range ordered {
		index[k] = i
		rules = append(rules, sarifRule{
			ID:               ruleID(k),
			ShortDescription: sarifMessage{Text: "File " + string(k) + " since baseline"},
		})
	}

	run := sarifRun{
		Tool:       sarifTool{Driver: sarifDriver{Name: "fimwatch", Version: Version, Rules: rules}},
		Results:    []sarifResult{},
		Properties: stats,
	}
	for _, f := range findings {
		props := map[string]any{"findingId": f.ID, "source": f.Source}
		if f.PreviousDigest != "" {
			props["previousDigest"] = f.PreviousDigest
		}
		if f.CurrentDigest != "" {
			props["currentDigest"] = f.CurrentDigest
		}
		if f.OldPath != "" {
			props["oldPath"] = f.OldPath
		}
		run.Results = append(run.Results, sarifResult{
			RuleID:    ruleID(f.Kind),
			RuleIndex: index[f.Kind],
			Level:     sevToLevel(f.Severity),
			Message:   sarifMessage{Text: "File " + string(f.Kind) + ": " + displayPath(f)},
			Locations: []sarifLoc{{
				PhysicalLocation: sarifPhys{ArtifactLocation: sarifArt{URI: f.Path}},
			}},
			Properties: props,
		})
	}
	doc := sarif{
		Schema:  "https://json.schemastore.org/sarif-2.1.0.json",
		Version: "2.1.0",
		Runs:    []sarifRun{run},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
