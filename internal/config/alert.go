package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/varalys/fimwatch/internal/types"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultAlertFile is the alert config file name.
const DefaultAlertFile = "alert_config.yml"

// ErrMalformedAlertConfig is returned together with a usable AlertConfig
// when the file could not be parsed or held invalid values.
var ErrMalformedAlertConfig = errors.New("malformed alert config")

// AlertConfig controls severities, throttling and recipients. A loaded value
// is never modified; reloading yields a new one.
type AlertConfig struct {
	ThrottleWindowSeconds int                                `yaml:"throttle_window_seconds"`
	MaxAlertsPerWindow    int                                `yaml:"max_alerts_per_window"`
	SeverityByKind        map[types.EventKind]types.Severity `yaml:"severity_by_kind"`
	Recipients            []string                           `yaml:"recipients"`
}

// rawAlertConfig distinguishes absent keys from zero values.
type rawAlertConfig struct {
	ThrottleWindowSeconds *int              `yaml:"throttle_window_seconds"`
	MaxAlertsPerWindow    *int              `yaml:"max_alerts_per_window"`
	SeverityByKind        map[string]string `yaml:"severity_by_kind"`
	Recipients            []string          `yaml:"recipients"`
}

// DefaultAlertConfig returns the configuration written on first run.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		ThrottleWindowSeconds: 300,
		MaxAlertsPerWindow:    3,
		SeverityByKind: map[types.EventKind]types.Severity{
			types.Created:  types.SevLow,
			types.Modified: types.SevMed,
			types.Deleted:  types.SevHigh,
			types.Renamed:  types.SevMed,
		},
		Recipients: []string{"admin@example.com", "security@example.com"},
	}
}

// Window returns the throttle window as a duration.
func (c AlertConfig) Window() time.Duration {
	return time.Duration(c.ThrottleWindowSeconds) * time.Second
}

// SeverityFor maps a finding kind to its severity; unmapped kinds are medium.
func (c AlertConfig) SeverityFor(k types.EventKind) types.Severity {
	if s, ok := c.SeverityByKind[k]; ok {
		return s
	}
	return types.SevMed
}

// Validate reports the first invalid value.
func (c AlertConfig) Validate() error {
	if c.ThrottleWindowSeconds <= 0 {
		return fmt.Errorf("throttle_window_seconds must be > 0, got %d", c.ThrottleWindowSeconds)
	}
	if c.MaxAlertsPerWindow <= 0 {
		return fmt.Errorf("max_alerts_per_window must be > 0, got %d", c.MaxAlertsPerWindow)
	}
	for k, s := range c.SeverityByKind {
		if _, ok := types.ParseSeverity(string(s)); !ok {
			return fmt.Errorf("severity_by_kind.%s: unknown severity %q", k, s)
		}
	}
	return nil
}

// LoadAlertConfig reads the alert config at path. A missing file is created
// with defaults. A malformed file, or invalid individual values, fall back to
// defaults; in that case the usable config is returned together with an
// error wrapping ErrMalformedAlertConfig.
func LoadAlertConfig(path string, logger *zap.Logger) (AlertConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultAlertConfig()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := WriteAlertConfig(path, def); werr != nil {
			logger.Warn("Failed to write default alert config", zap.String("path", path), zap.Error(werr))
		} else {
			logger.Info("Created default alert config", zap.String("path", path))
		}
		return def, nil
	}
	if err != nil {
		logger.Warn("Failed to read alert config, using defaults", zap.String("path", path), zap.Error(err))
		return def, fmt.Errorf("%w: %v", ErrMalformedAlertConfig, err)
	}
	return ParseAlertConfig(b, logger)
}

// ParseAlertConfig decodes YAML with the same fallback rules as
// LoadAlertConfig.
func ParseAlertConfig(b []byte, logger *zap.Logger) (AlertConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultAlertConfig()
	var raw rawAlertConfig
	if err := yaml.Unmarshal(b, &raw); err != nil {
		logger.Warn("Malformed alert config, using defaults", zap.Error(err))
		return def, fmt.Errorf("%w: %v", ErrMalformedAlertConfig, err)
	}

	cfg := def
	var problems []error
	if v := raw.ThrottleWindowSeconds; v != nil {
		if *v > 0 {
			cfg.ThrottleWindowSeconds = *v
		} else {
			problems = append(problems, fmt.Errorf("throttle_window_seconds must be > 0, got %d", *v))
		}
	}
	if v := raw.MaxAlertsPerWindow; v != nil {
		if *v > 0 {
			cfg.MaxAlertsPerWindow = *v
		} else {
			problems = append(problems, fmt.Errorf("max_alerts_per_window must be > 0, got %d", *v))
		}
	}
	if raw.SeverityByKind != nil {
		m := make(map[types.EventKind]types.Severity, len(def.SeverityByKind))
		for k, s := range def.SeverityByKind {
			m[k] = s
		}
		for k, s := range raw.SeverityByKind {
			kind, ok := types.ParseEventKind(k)
			if !ok {
				problems = append(problems, fmt.Errorf("severity_by_kind: unknown kind %q", k))
				continue
			}
			sev, ok := types.ParseSeverity(s)
			if !ok {
				problems = append(problems, fmt.Errorf("severity_by_kind.%s: unknown severity %q", k, s))
				continue
			}
			m[kind] = sev
		}
		cfg.SeverityByKind = m
	}
	if raw.Recipients != nil {
		cfg.Recipients = append([]string(nil), raw.Recipients...)
	}

	if len(problems) > 0 {
		err := errors.Join(problems...)
		logger.Warn("Invalid alert config values replaced with defaults", zap.Error(err))
		return cfg, fmt.Errorf("%w: %w", ErrMalformedAlertConfig, err)
	}
	return cfg, nil
}

// WriteAlertConfig writes cfg as YAML, creating parent directories.
func WriteAlertConfig(path string, cfg AlertConfig) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode alert config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create alert config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("failed to write alert config: %w", err)
	}
	return nil
}
