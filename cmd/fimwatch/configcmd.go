package fimwatch

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/spf13/cobra"
	"github.com/varalys/fimwatch/internal/config"
	"github.com/varalys/fimwatch/internal/files"
	"github.com/varalys/fimwatch/internal/ignore"
	"gopkg.in/yaml.v3"
)

var (
	cfgOutput            string
	cfgForce             bool
	cfgReconcileInterval string
	cfgWindow            string
	cfgWebhook           string
	cfgNATS              string
	cfgIgnore            string
	cfgIgnoreEditor      bool
)

func init() {
	cfgCmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	rootCmd.AddCommand(cfgCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a .fimwatch.yml and a default alert config",
		RunE:  runConfigInit,
	}
	initCmd.Flags().StringVar(&cfgOutput, "output", "", "output file path (default: <root>/.fimwatch.yml)")
	initCmd.Flags().BoolVar(&cfgForce, "force", false, "overwrite an existing file")
	initCmd.Flags().StringVar(&cfgReconcileInterval, "reconcile-interval", "1h", "periodic reconciliation interval")
	initCmd.Flags().StringVar(&cfgWindow, "correlation-window", "500ms", "how long a rename half waits for its partner")
	initCmd.Flags().StringVar(&cfgWebhook, "webhook", "", "deliver alerts to this webhook URL")
	initCmd.Flags().StringVar(&cfgNATS, "nats", "", "publish alerts to this NATS server URL")
	initCmd.Flags().StringVar(&cfgIgnore, "ignore", "", "comma-separated patterns to append to <root>/.fimignore")
	initCmd.Flags().BoolVar(&cfgIgnoreEditor, "ignore-editor-files", false, "append editor swap and backup patterns to .fimignore")
	cfgCmd.AddCommand(initCmd)

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE:  runConfigShow,
	}
	cfgCmd.AddCommand(showCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	out := cfgOutput
	if out == "" {
		out = filepath.Join(s.root, config.LocalNames[0])
	}
	if _, err := os.Stat(out); err == nil && !cfgForce {
		return fmt.Errorf("%s exists; use --force to overwrite", out)
	}

	fc := config.FileConfig{
		SnapshotDir:       strPtr(s.snapshotDir),
		AuditLog:          strPtr(s.auditPath),
		AlertConfig:       strPtr(s.alertPath),
		Include:           optStrPtr(flagInclude),
		Exclude:           optStrPtr(flagExclude),
		DefaultExcludes:   boolPtr(s.walk.DefaultExcludes),
		Workers:           intPtr(s.workers),
		ReconcileInterval: optStrPtr(cfgReconcileInterval),
		CorrelationWindow: optStrPtr(cfgWindow),
	}
	var nc config.NotifyConfig
	if cfgWebhook != "" {
		nc.Webhook = &config.WebhookConfig{URL: cfgWebhook}
	}
	if cfgNATS != "" {
		nc.NATS = &config.NATSConfig{URL: cfgNATS}
	}
	if nc.Enabled() {
		fc.Notify = &nc
	}
	if err := config.Write(out, fc); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Wrote", out)

	if _, err := os.Stat(s.alertPath); os.IsNotExist(err) {
		if err := config.WriteAlertConfig(s.alertPath, config.DefaultAlertConfig()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Wrote", s.alertPath)
	}

	var patterns []string
	if cfgIgnore != "" {
		patterns = strings.Split(cfgIgnore, ",")
	}
	if cfgIgnoreEditor {
		patterns = append(patterns, files.DefaultNoisyIgnores()...)
	}
	updated := false
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := files.AppendIgnore(s.root, p); err != nil {
			return fmt.Errorf("update %s: %w", ignore.FileName, err)
		}
		updated = true
	}
	if updated {
		fmt.Fprintln(cmd.OutOrStdout(), "Updated", filepath.Join(s.root, ignore.FileName))
	}
	return nil
}

// effective is the merged configuration as printed by config show.
type effective struct {
	Tool  config.FileConfig  `yaml:"tool"`
	Alert config.AlertConfig `yaml:"alert"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	reconcile := ""
	if s.reconcile > 0 {
		reconcile = s.reconcile.String()
	}
	window := ""
	if s.window > 0 {
		window = s.window.String()
	}
	doc := effective{
		Tool: config.FileConfig{
			Root:              strPtr(s.root),
			SnapshotDir:       strPtr(s.snapshotDir),
			AuditLog:          strPtr(s.auditPath),
			AlertConfig:       strPtr(s.alertPath),
			Include:           optStrPtr(strings.Join(s.walk.Include, ",")),
			Exclude:           optStrPtr(strings.Join(s.walk.Exclude, ",")),
			DefaultExcludes:   boolPtr(s.walk.DefaultExcludes),
			Workers:           intPtr(s.workers),
			NoColor:           boolPtr(s.noColor),
			ReconcileInterval: optStrPtr(reconcile),
			CorrelationWindow: optStrPtr(window),
			MetricsAddr:       optStrPtr(s.metricsAddr),
			LogFile:           optStrPtr(s.logFile),
		},
		Alert: config.DefaultAlertConfig(),
	}
	// show must not create the alert config as a side effect
	if b, err := os.ReadFile(s.alertPath); err == nil {
		doc.Alert, _ = config.ParseAlertConfig(b, s.logger)
	}
	if s.notify.Enabled() {
		nc := redactNotify(s.notify)
		doc.Tool.Notify = &nc
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return writeYAML(cmd.OutOrStdout(), buf.String(), !s.noColor && isTerminal(os.Stdout))
}

// redactNotify hides credentials before printing.
func redactNotify(nc config.NotifyConfig) config.NotifyConfig {
	if nc.SMTP != nil {
		c := *nc.SMTP
		if c.Password != "" {
			c.Password = "********"
		}
		nc.SMTP = &c
	}
	if nc.Webhook != nil {
		c := *nc.Webhook
		if c.Token != "" {
			c.Token = "********"
		}
		nc.Webhook = &c
	}
	return nc
}

func writeYAML(w io.Writer, doc string, color bool) error {
	if color {
		if err := quick.Highlight(w, doc, "yaml", "terminal256", "monokai"); err == nil {
			return nil
		}
	}
	_, err := io.WriteString(w, doc)
	return err
}

func strPtr(s string) *string { return &s }
func optStrPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}
func boolPtr(v bool) *bool { return &v }
