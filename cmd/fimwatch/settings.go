package fimwatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/varalys/fimwatch/internal/alert"
	"github.com/varalys/fimwatch/internal/audit"
	"github.com/varalys/fimwatch/internal/baseline"
	"github.com/varalys/fimwatch/internal/classify"
	"github.com/varalys/fimwatch/internal/config"
	"github.com/varalys/fimwatch/internal/engine"
	"github.com/varalys/fimwatch/internal/files"
	"github.com/varalys/fimwatch/internal/hasher"
	"github.com/varalys/fimwatch/internal/ignore"
	"github.com/varalys/fimwatch/internal/logging"
	"github.com/varalys/fimwatch/internal/metrics"
	"github.com/varalys/fimwatch/internal/notify"
	"github.com/varalys/fimwatch/internal/throttle"
	"go.uber.org/zap"
)

// stateDir holds everything fimwatch writes below the root by default.
const stateDir = ".fimwatch"

// settings is the effective configuration after merging CLI flags, the
// local config and the global config.
type settings struct {
	root        string
	snapshotDir string
	auditPath   string
	alertPath   string
	logFile     string
	walk        files.Options
	workers     int
	noColor     bool
	reconcile   time.Duration
	window      time.Duration
	metricsAddr string
	notify      config.NotifyConfig
	logger      *zap.Logger
}

// loadSettings resolves the effective settings. A tool config that exists
// but does not parse is an error.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	root := flagRoot
	var gcfg, lcfg config.FileConfig
	if c, err := config.LoadGlobal(); err == nil {
		gcfg = c
	} else if !errors.Is(err, config.ErrNoConfig) {
		return nil, fmt.Errorf("global config: %w", err)
	}
	if root == "" && gcfg.Root != nil {
		root = *gcfg.Root
	}
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if flagConfig != "" {
		c, err := config.LoadFile(flagConfig)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		lcfg = c
	} else if c, err := config.LoadLocal(abs); err == nil {
		lcfg = c
	} else if !errors.Is(err, config.ErrNoConfig) {
		return nil, fmt.Errorf("local config: %w", err)
	}
	if flagRoot == "" && lcfg.Root != nil && *lcfg.Root != "" {
		if abs, err = filepath.Abs(*lcfg.Root); err != nil {
			return nil, err
		}
	}

	s := &settings{root: abs}
	s.snapshotDir = absOr(pickString(flagSnapshotDir, lcfg.SnapshotDir, gcfg.SnapshotDir), filepath.Join(abs, stateDir, "baselines"))
	s.auditPath = absOr(pickString(flagAuditLog, lcfg.AuditLog, gcfg.AuditLog), filepath.Join(abs, stateDir, audit.DefaultFile))
	s.alertPath = absOr(pickString(flagAlertConfig, lcfg.AlertConfig, gcfg.AlertConfig), filepath.Join(abs, stateDir, config.DefaultAlertFile))
	if lf := pickString(flagLogFile, lcfg.LogFile, gcfg.LogFile); lf != "" {
		s.logFile = absOr(lf, "")
	}
	s.workers = pickInt(flagWorkers, lcfg.Workers, gcfg.Workers)
	s.noColor = pickBool(flagNoColor, cmd.Flags().Changed("no-color"), lcfg.NoColor, gcfg.NoColor)
	s.metricsAddr = pickString(flagMetricsAddr, lcfg.MetricsAddr, gcfg.MetricsAddr)
	if s.reconcile, err = pickDuration(flagReconcileInterval, lcfg.ReconcileInterval, gcfg.ReconcileInterval); err != nil {
		return nil, fmt.Errorf("reconcile_interval: %w", err)
	}
	if s.window, err = pickDuration(0, lcfg.CorrelationWindow, gcfg.CorrelationWindow); err != nil {
		return nil, fmt.Errorf("correlation_window: %w", err)
	}
	if lcfg.Notify != nil {
		s.notify = lcfg.GetNotify()
	} else {
		s.notify = gcfg.GetNotify()
	}

	ign, _ := ignore.Load(filepath.Join(abs, ignore.FileName))
	s.walk = files.Options{
		Include:         files.ParseGlobs(pickString(flagInclude, lcfg.Include, gcfg.Include)),
		Exclude:         files.ParseGlobs(pickString(flagExclude, lcfg.Exclude, gcfg.Exclude)),
		DefaultExcludes: pickBool(flagDefaultExcludes, cmd.Flags().Changed("default-excludes"), lcfg.DefaultExcludes, gcfg.DefaultExcludes),
		Ignore:          ign,
		Skip:            s.artifacts(),
	}

	s.logger, err = logging.New(logging.Options{
		Level: pickString(flagLogLevel, lcfg.LogLevel, gcfg.LogLevel),
		File:  s.logFile,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func absOr(p, def string) string {
	if p == "" {
		return def
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// artifacts are the paths fimwatch itself writes; they are never monitored.
func (s *settings) artifacts() []string {
	out := []string{s.snapshotDir, s.auditPath, s.alertPath}
	if s.logFile != "" {
		out = append(out, s.logFile)
	}
	return out
}

func (s *settings) requireRoot() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("monitored root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("monitored root %s: not a directory", s.root)
	}
	return nil
}

func (s *settings) store(h *hasher.Hasher) *baseline.Store {
	return baseline.NewStore(s.snapshotDir, h,
		baseline.WithLogger(s.logger),
		baseline.WithWorkers(s.workers),
		baseline.WithWalkOptions(s.walk))
}

func (s *settings) alertConfig() config.AlertConfig {
	cfg, err := config.LoadAlertConfig(s.alertPath, s.logger)
	if err != nil {
		s.logger.Warn("Alert config problems; using defaults where needed",
			zap.String("path", s.alertPath), zap.Error(err))
	}
	return cfg
}

// monitor is a fully wired coordinator plus the resources it holds.
type monitor struct {
	coord   *engine.Coordinator
	store   *baseline.Store
	metrics *metrics.Metrics
	audit   *audit.AuditLog
	closeFn func()
}

func (m *monitor) Close() {
	if m.closeFn != nil {
		m.closeFn()
	}
}

// newMonitor wires store, classifier, gate, dispatcher and notifiers. With
// dryRun set alerts are only logged.
func (s *settings) newMonitor(forceRebuild, dryRun bool) (*monitor, error) {
	h := hasher.New(hasher.WithLogger(s.logger))
	store := s.store(h)
	alertCfg := s.alertConfig()

	clsOpts := []classify.Option{
		classify.WithExclude(s.artifacts()...),
		classify.WithLogger(s.logger),
	}
	if s.window > 0 {
		clsOpts = append(clsOpts, classify.WithWindow(s.window))
	}
	cls := classify.New(alertCfg, h, clsOpts...)

	gate, err := throttle.FromConfig(alertCfg)
	if err != nil {
		return nil, err
	}

	var notifier alert.Notifier = notify.NewLog(s.logger)
	closeFn := func() {}
	if !dryRun {
		if notifier, closeFn, err = notify.FromConfig(s.notify, s.logger); err != nil {
			return nil, err
		}
	}
	disp := alert.NewDispatcher(notifier, alertCfg.Recipients, alert.WithLogger(s.logger))

	m := metrics.New()
	auditLog := audit.NewAuditLog(s.auditPath)
	coord, err := engine.New(engine.Config{
		Root:              s.root,
		ForceRebuild:      forceRebuild,
		Alert:             alertCfg,
		Workers:           s.workers,
		ReconcileInterval: s.reconcile,
	}, engine.Deps{
		Store:      store,
		Classifier: cls,
		Gate:       gate,
		Dispatcher: disp,
		Audit:      auditLog,
		Metrics:    m,
		Logger:     s.logger,
	})
	if err != nil {
		closeFn()
		return nil, err
	}
	return &monitor{coord: coord, store: store, metrics: m, audit: auditLog, closeFn: closeFn}, nil
}
