package fimwatch

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/varalys/fimwatch/internal/types"
)

var (
	flagInjectKind     string
	flagInjectPath     string
	flagInjectOldPath  string
	flagInjectOldHash  string
	flagInjectNewHash  string
	flagInjectSeverity string
	flagInjectDryRun   bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Send a synthetic finding through throttling and alert delivery",
		Long:  "Send a synthetic finding through the same throttle and notifier chain as real findings, to test alert delivery end to end.",
		Example: `  fimwatch inject --event-type modified --file-path /etc/passwd \
    --old-hash 1f3a... --new-hash 9bc2...`,
		RunE: runInject,
	}
	cmd.Flags().StringVar(&flagInjectKind, "event-type", "modified", "created|modified|deleted|renamed (moved)")
	cmd.Flags().StringVar(&flagInjectPath, "file-path", "", "path the finding refers to")
	cmd.Flags().StringVar(&flagInjectOldPath, "old-path", "", "previous path for renamed findings")
	cmd.Flags().StringVar(&flagInjectOldHash, "old-hash", "", "previous content digest")
	cmd.Flags().StringVar(&flagInjectNewHash, "new-hash", "", "current content digest")
	cmd.Flags().StringVar(&flagInjectSeverity, "severity", "", "override the configured severity")
	cmd.Flags().BoolVar(&flagInjectDryRun, "dry-run", false, "log the alert instead of sending it")
	_ = cmd.MarkFlagRequired("file-path")
	_ = cmd.RegisterFlagCompletionFunc("event-type", completeFindingKinds)
	_ = cmd.RegisterFlagCompletionFunc("severity", completeSeverities)
	rootCmd.AddCommand(cmd)
}

func runInject(cmd *cobra.Command, _ []string) error {
	kind, ok := types.ParseEventKind(flagInjectKind)
	if !ok || kind == types.MovedFrom || kind == types.MovedTo {
		return fmt.Errorf("unknown event type %q", flagInjectKind)
	}
	f := types.Finding{
		Kind:           kind,
		Path:           flagInjectPath,
		OldPath:        flagInjectOldPath,
		PreviousDigest: flagInjectOldHash,
		CurrentDigest:  flagInjectNewHash,
	}
	if flagInjectSeverity != "" {
		sev, ok := types.ParseSeverity(flagInjectSeverity)
		if !ok {
			return fmt.Errorf("unknown severity %q", flagInjectSeverity)
		}
		f.Severity = sev
	}

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.logger.Sync() }()
	mon, err := s.newMonitor(false, flagInjectDryRun)
	if err != nil {
		return err
	}
	defer mon.Close()

	o := mon.coord.Inject(cmd.Context(), f)
	out := cmd.OutOrStdout()
	switch {
	case !o.Admitted && o.Err == nil:
		fmt.Fprintf(out, "Finding %s throttled for %s\n", o.Finding.ID, o.Finding.Path)
	case o.Delivered:
		fmt.Fprintf(out, "Alert sent for %s (%s, %s)\n", o.Finding.Path, o.Finding.Kind, o.Finding.Severity)
	default:
		return &exitError{code: 1, msg: fmt.Sprintf("alert delivery failed: %v", o.Err)}
	}
	return nil
}
