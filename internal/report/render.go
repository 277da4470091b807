package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/varalys/fimwatch/internal/types"
)

type PrintOptions struct {
	NoColor  bool
	Duration time.Duration
	Scanned  int
	Snapshot string
}

// sortFindings orders findings by path, then kind, in place.
func sortFindings(findings []types.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Path == findings[j].Path {
			return findings[i].Kind < findings[j].Kind
		}
		return findings[i].Path < findings[j].Path
	})
}

// PrintText writes one line per finding followed by a summary footer.
func PrintText(w io.Writer, findings []types.Finding, opts PrintOptions) {
	sortFindings(findings)
	if len(findings) == 0 {
		fmt.Fprintln(w, "No changes detected ✅")
	} else {
		fmt.Fprintf(w, "Findings: %d\n", len(findings))
		for _, f := range findings {
			sev := string(f.Severity)
			if !opts.NoColor {
				sev = colorSeverity(f.Severity)
			}
			fmt.Fprintf(w, "%-6s %-8s %s  %s\n", sev, f.Kind, displayPath(f), digestChange(f))
		}
	}
	footer(w, findings, opts)
}

// PrintTable renders findings as a bordered table.
func PrintTable(w io.Writer, findings []types.Finding, opts PrintOptions) {
	sortFindings(findings)
	if len(findings) == 0 {
		fmt.Fprintln(w, "No changes detected ✅")
	} else {
		rows := make([][]string, 0, len(findings))
		for _, f := range findings {
			sev := string(f.Severity)
			if !opts.NoColor {
				sev = colorSeverity(f.Severity)
			}
			rows = append(rows, []string{
				sev, string(f.Kind), displayPath(f),
				shortDigest(f.PreviousDigest), shortDigest(f.CurrentDigest), f.Source,
			})
		}
		table := tablewriter.NewWriter(w)
		table.Header("SEVERITY", "KIND", "PATH", "PREVIOUS", "CURRENT", "SOURCE")
		_ = table.Bulk(rows)
		_ = table.Render()
	}
	footer(w, findings, opts)
}

func footer(w io.Writer, findings []types.Finding, opts PrintOptions) {
	if opts.Duration <= 0 && opts.Scanned <= 0 && opts.Snapshot == "" {
		return
	}
	high, med, low := count(findings)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Findings: %d (high: %d, medium: %d, low: %d)\n", len(findings), high, med, low)
	if opts.Snapshot != "" {
		fmt.Fprintf(w, "Baseline: %s\n", opts.Snapshot)
	}
	if opts.Duration > 0 {
		fmt.Fprintf(w, "Reconcile duration: %.2fs\n", opts.Duration.Seconds())
	}
	if opts.Scanned > 0 {
		fmt.Fprintf(w, "Files scanned: %d\n", opts.Scanned)
	}
}

func count(findings []types.Finding) (high, med, low int) {
	for _, f := range findings {
		switch f.Severity {
		case types.SevHigh:
			high++
		case types.SevMed:
			med++
		default:
			low++
		}
	}
	return high, med, low
}

func displayPath(f types.Finding) string {
	if f.OldPath != "" {
		return f.OldPath + " -> " + f.Path
	}
	return f.Path
}

func digestChange(f types.Finding) string {
	switch {
	case f.PreviousDigest != "" && f.CurrentDigest != "":
		return shortDigest(f.PreviousDigest) + " -> " + shortDigest(f.CurrentDigest)
	case f.CurrentDigest != "":
		return shortDigest(f.CurrentDigest)
	case f.PreviousDigest != "":
		return shortDigest(f.PreviousDigest)
	}
	return ""
}

// shortDigest abbreviates a hex digest for display.
func shortDigest(d string) string {
	if d == "" {
		return "-"
	}
	if len(d) <= 12 {
		return d
	}
	return d[:12]
}

func colorSeverity(s types.Severity) string {
	switch s {
	case types.SevHigh:
		return "\x1b[31mhigh\x1b[0m" // red
	case types.SevMed:
		return "\x1b[33mmedium\x1b[0m" // yellow
	default:
		return "\x1b[36m" + strings.ToLower(string(s)) + "\x1b[0m" // cyan
	}
}

// ShouldFail reports whether any finding is at or above the failOn
// severity. An unknown threshold means medium.
func ShouldFail(findings []types.Finding, failOn string) bool {
	th := types.SevMed
	if s, ok := types.ParseSeverity(failOn); ok {
		th = s
	}
	for _, f := range findings {
		if f.Severity.Rank() >= th.Rank() {
			return true
		}
	}
	return false
}
