package fimwatch

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagRoot            string
	flagConfig          string
	flagSnapshotDir     string
	flagAuditLog        string
	flagAlertConfig     string
	flagInclude         string
	flagExclude         string
	flagDefaultExcludes bool
	flagWorkers         int
	flagNoColor         bool
	flagLogLevel        string
	flagLogFile         string

	version = "0.1.0"
)

// rootCmd is the base Cobra command for the fimwatch CLI.
var rootCmd = &cobra.Command{
	Use:           "fimwatch",
	Short:         "Watch a directory tree for unauthorized file changes",
	Long:          "fimwatch records a content baseline of a directory tree, watches it for changes, and alerts on files that were created, modified, deleted or renamed since the baseline.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit code other than the default 2.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Execute runs the fimwatch CLI. It should be called by the main package.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagRoot, "root", "r", "", "directory to monitor (default: current directory)")
	pf.StringVar(&flagConfig, "config", "", "tool config file (default: .fimwatch.yml in the root, then the global config)")
	pf.StringVar(&flagSnapshotDir, "snapshot-dir", "", "where baselines are stored (default: <root>/.fimwatch/baselines)")
	pf.StringVar(&flagAuditLog, "audit-log", "", "JSONL audit log (default: <root>/.fimwatch/fim_audit.jsonl)")
	pf.StringVar(&flagAlertConfig, "alert-config", "", "alert config YAML (default: <root>/.fimwatch/alert_config.yml)")
	pf.StringVar(&flagInclude, "include", "", "comma-separated include globs")
	pf.StringVar(&flagExclude, "exclude", "", "comma-separated exclude globs")
	pf.BoolVar(&flagDefaultExcludes, "default-excludes", true, "skip VCS directories and editor temp files")
	pf.IntVar(&flagWorkers, "workers", 0, "hashing and event workers (0 = NumCPU)")
	pf.BoolVar(&flagNoColor, "no-color", false, "disable colorized output")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error")
	pf.StringVar(&flagLogFile, "log-file", "", "also append logs to this file")
}
