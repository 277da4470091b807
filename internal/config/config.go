package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned by LoadLocal and LoadGlobal when no file exists.
var ErrNoConfig = errors.New("no config file")

// LocalNames are the file names LoadLocal searches for, in order.
var LocalNames = []string{".fimwatch.yml", ".fimwatch.yaml", "fimwatch.yml", "fimwatch.yaml"}

// FileConfig is the on-disk YAML configuration shape for fimwatch.
type FileConfig struct {
	Root            *string `yaml:"root"`
	SnapshotDir     *string `yaml:"snapshot_dir"`
	AuditLog        *string `yaml:"audit_log"`
	AlertConfig     *string `yaml:"alert_config"`
	Include         *string `yaml:"include"`
	Exclude         *string `yaml:"exclude"`
	DefaultExcludes *bool   `yaml:"default_excludes"`
	Workers         *int    `yaml:"workers"`
	NoColor         *bool   `yaml:"no_color"`

	// Durations use Go syntax, e.g. "10m" or "500ms".
	ReconcileInterval *string `yaml:"reconcile_interval"`
	CorrelationWindow *string `yaml:"correlation_window"`

	MetricsAddr *string `yaml:"metrics_addr"`
	LogLevel    *string `yaml:"log_level"`
	LogFile     *string `yaml:"log_file"`

	Notify *NotifyConfig `yaml:"notify"`
}

// NotifyConfig selects and configures alert transports. Any combination may
// be enabled; with none, alerts are written to the log.
type NotifyConfig struct {
	SMTP      *SMTPConfig      `yaml:"smtp"`
	Webhook   *WebhookConfig   `yaml:"webhook"`
	NATS      *NATSConfig      `yaml:"nats"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	// Password falls back to $FIMWATCH_SMTP_PASSWORD when empty.
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type WebhookConfig struct {
	URL string `yaml:"url"`
	// Token is sent as a bearer token; falls back to $FIMWATCH_WEBHOOK_TOKEN.
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// RateLimitConfig caps deliveries across all paths.
type RateLimitConfig struct {
	PerMinute float64 `yaml:"per_minute"`
	Burst     int     `yaml:"burst"`
}

// LoadFile reads a YAML config file from the provided path.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadLocal searches for a config file in the monitored root.
// It supports .fimwatch.yml/.yaml and fimwatch.yml/.yaml.
func LoadLocal(root string) (FileConfig, error) {
	var cfg FileConfig
	for _, name := range LocalNames {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}
	return cfg, ErrNoConfig
}

// GlobalPath returns the global config location, or "" when neither
// XDG_CONFIG_HOME nor a home directory is available.
func GlobalPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			base = filepath.Join(home, ".config")
		}
	}
	if base == "" {
		return ""
	}
	return filepath.Join(base, "fimwatch", "config.yml")
}

// LoadGlobal loads the global config file from XDG base directory or ~/.config.
func LoadGlobal() (FileConfig, error) {
	var cfg FileConfig
	p := GlobalPath()
	if p == "" {
		return cfg, ErrNoConfig
	}
	if _, err := os.Stat(p); err == nil {
		return LoadFile(p)
	}
	return cfg, ErrNoConfig
}

// Write marshals cfg to path, creating parent directories.
func Write(path string, cfg FileConfig) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// GetNotify returns the notifier settings, never nil.
func (fc FileConfig) GetNotify() NotifyConfig {
	if fc.Notify == nil {
		return NotifyConfig{}
	}
	return *fc.Notify
}

// Enabled reports whether any transport is configured.
func (nc NotifyConfig) Enabled() bool {
	return nc.SMTP != nil || nc.Webhook != nil || nc.NATS != nil
}

// GetPassword returns the configured password or the environment fallback.
func (sc SMTPConfig) GetPassword() string {
	if sc.Password != "" {
		return sc.Password
	}
	return os.Getenv("FIMWATCH_SMTP_PASSWORD")
}

// GetPort returns the port, defaulting to 587 (submission).
func (sc SMTPConfig) GetPort() int {
	if sc.Port == 0 {
		return 587
	}
	return sc.Port
}

func (wc WebhookConfig) GetToken() string {
	if wc.Token != "" {
		return wc.Token
	}
	return os.Getenv("FIMWATCH_WEBHOOK_TOKEN")
}

// GetSubject returns the NATS subject, defaulting to "fim.alerts".
func (nc NATSConfig) GetSubject() string {
	if nc.Subject == "" {
		return "fim.alerts"
	}
	return nc.Subject
}
