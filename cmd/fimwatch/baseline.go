package fimwatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/varalys/fimwatch/internal/audit"
	"github.com/varalys/fimwatch/internal/hasher"
	"github.com/varalys/fimwatch/internal/report"
	"go.uber.org/zap"
)

var (
	flagPruneKeep   int
	flagShowEntries bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage baseline snapshots",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Record a new baseline of the monitored root",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = s.logger.Sync() }()
			if err := s.requireRoot(); err != nil {
				return err
			}
			start := time.Now()
			b, err := s.store(hasher.New(hasher.WithLogger(s.logger))).Create(cmd.Context(), s.root)
			if err != nil {
				return err
			}
			if err := audit.NewAuditLog(s.auditPath).LogBaseline(b.ID(), b.Root(), b.Len(), time.Since(start)); err != nil {
				s.logger.Warn("Audit write failed", zap.Error(err))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Baseline %s: %d files", b.ID(), b.Len())
			if b.Skipped() > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (%d unreadable, skipped)", b.Skipped())
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored baselines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			snaps, err := s.store(hasher.New()).List()
			if err != nil {
				return err
			}
			report.PrintSnapshots(cmd.OutOrStdout(), snaps)
			return nil
		},
	}

	show := &cobra.Command{
		Use:               "show <id>",
		Short:             "Print a baseline summary, or its entries with --entries",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeSnapshotIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			b, err := s.store(hasher.New()).Load(args[0])
			if err != nil {
				return err
			}
			out := map[string]any{
				"id":          b.ID(),
				"root":        b.Root(),
				"created_at":  b.CreatedAt(),
				"entry_count": b.Len(),
				"skipped":     b.Skipped(),
			}
			if flagShowEntries {
				out["entries"] = b.Entries()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	show.Flags().BoolVar(&flagShowEntries, "entries", false, "include every recorded file and digest")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest baselines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			n, err := s.store(hasher.New()).Prune(flagPruneKeep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d baseline(s)\n", n)
			return nil
		},
	}
	prune.Flags().IntVar(&flagPruneKeep, "keep", 5, "number of newest baselines to keep")

	rootCmd.AddCommand(cmd)
	cmd.AddCommand(create, list, show, prune)
}
