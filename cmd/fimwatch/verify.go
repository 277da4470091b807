package fimwatch

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/varalys/fimwatch/internal/baseline"
	"github.com/varalys/fimwatch/internal/report"
	"golang.org/x/term"
)

var (
	flagVerifyJSON   bool
	flagVerifySARIF  bool
	flagVerifyText   bool
	flagVerifyFailOn string
	flagVerifyAlert  bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare the tree with the latest baseline once and report differences",
		RunE:  runVerify,
	}
	cmd.Flags().BoolVar(&flagVerifyJSON, "json", false, "emit JSON")
	cmd.Flags().BoolVar(&flagVerifySARIF, "sarif", false, "emit SARIF 2.1.0")
	cmd.Flags().BoolVar(&flagVerifyText, "text", false, "plain text instead of a table")
	cmd.Flags().StringVar(&flagVerifyFailOn, "fail-on", "medium", "exit 1 when a finding is at least low|medium|high")
	cmd.Flags().BoolVar(&flagVerifyAlert, "alert", false, "also deliver alerts through the configured notifiers")
	_ = cmd.RegisterFlagCompletionFunc("fail-on", completeSeverities)
	rootCmd.AddCommand(cmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.logger.Sync() }()
	if err := s.requireRoot(); err != nil {
		return err
	}
	mon, err := s.newMonitor(false, !flagVerifyAlert)
	if err != nil {
		return err
	}
	defer mon.Close()

	if _, err := mon.store.MostRecent(); errors.Is(err, baseline.ErrSnapshotNotFound) {
		return fmt.Errorf("no baseline in %s; run `fimwatch baseline create` first", s.snapshotDir)
	}
	if err := mon.coord.Start(cmd.Context()); err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	res, err := mon.coord.Reconcile(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	opts := report.PrintOptions{
		NoColor:  s.noColor || !isTerminal(os.Stdout),
		Duration: res.Duration,
		Scanned:  res.Scanned,
		Snapshot: res.Snapshot,
	}
	switch {
	case flagVerifyJSON:
		err = report.WriteJSON(out, s.root, res.Findings, opts)
	case flagVerifySARIF:
		err = report.WriteSARIF(out, res.Findings, map[string]any{
			"baseline": res.Snapshot,
			"scanned":  res.Scanned,
		})
	case flagVerifyText:
		report.PrintText(out, res.Findings, opts)
	default:
		report.PrintTable(out, res.Findings, opts)
	}
	if err != nil {
		return err
	}
	if report.ShouldFail(res.Findings, flagVerifyFailOn) {
		return &exitError{code: 1}
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
