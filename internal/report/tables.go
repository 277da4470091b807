package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/varalys/fimwatch/internal/audit"
	"github.com/varalys/fimwatch/internal/baseline"
)

const timeLayout = "2006-01-02 15:04:05"

// PrintSnapshots lists stored baselines, newest last.
func PrintSnapshots(w io.Writer, snaps []baseline.Summary) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No baselines stored")
		return
	}
	rows := make([][]string, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, []string{
			s.ID, s.CreatedAt.Local().Format(timeLayout), strconv.Itoa(s.EntryCount), s.Root,
		})
	}
	table := tablewriter.NewWriter(w)
	table.Header("ID", "CREATED", "FILES", "ROOT")
	_ = table.Bulk(rows)
	_ = table.Render()
}

// PrintHistory renders audit records in the order given.
func PrintHistory(w io.Writer, records []audit.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No audit history")
		return
	}
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			r.Timestamp.Local().Format(timeLayout), r.Type, historySubject(r), historyOutcome(r),
		})
	}
	table := tablewriter.NewWriter(w)
	table.Header("TIME", "TYPE", "SUBJECT", "OUTCOME")
	_ = table.Bulk(rows)
	_ = table.Render()
}

func historySubject(r audit.Record) string {
	switch r.Type {
	case audit.TypeFinding:
		if r.Finding == nil {
			return ""
		}
		return fmt.Sprintf("%s %s", r.Finding.Kind, displayPath(*r.Finding))
	case audit.TypeBaseline:
		return fmt.Sprintf("%s (%d files)", r.Snapshot, r.Entries)
	case audit.TypeReconcile:
		return fmt.Sprintf("%s (%d changes)", r.Snapshot, r.Changes)
	}
	return r.Snapshot
}

func historyOutcome(r audit.Record) string {
	switch r.Type {
	case audit.TypeFinding:
		switch {
		case !r.Admitted:
			return "throttled"
		case r.Delivered:
			return "delivered"
		case r.Error != "":
			return "failed: " + r.Error
		}
		return "not delivered"
	case audit.TypeReconcile:
		if d, err := time.ParseDuration(r.Duration); err == nil {
			return fmt.Sprintf("%.2fs", d.Seconds())
		}
	}
	return r.Error
}
