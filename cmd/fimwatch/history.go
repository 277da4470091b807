package fimwatch

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/varalys/fimwatch/internal/audit"
	"github.com/varalys/fimwatch/internal/report"
)

var (
	flagHistoryLimit    int
	flagHistoryFindings bool
	flagHistoryJSON     bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the audit log, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			records, err := audit.NewAuditLog(s.auditPath).LoadHistory()
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if flagHistoryFindings {
				records = audit.Findings(records)
			}
			if flagHistoryLimit > 0 && len(records) > flagHistoryLimit {
				records = records[:flagHistoryLimit]
			}
			if flagHistoryJSON {
				if records == nil {
					records = []audit.Record{}
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			report.PrintHistory(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 20, "show at most this many records (0 = all)")
	cmd.Flags().BoolVar(&flagHistoryFindings, "findings", false, "only finding records")
	cmd.Flags().BoolVar(&flagHistoryJSON, "json", false, "emit JSON")
	rootCmd.AddCommand(cmd)
}
