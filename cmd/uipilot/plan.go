package main

import (
	"fmt"
	"time"

	"uipilot/internal/browser"
	"uipilot/internal/config"
	"uipilot/internal/engine"
	"uipilot/internal/flow"
	"uipilot/internal/htmlpage"
	"uipilot/internal/logging"
	"uipilot/internal/metrics"
	"uipilot/internal/store"

	"go.uber.org/zap"
)

// runFlags are the per-run overrides accepted by run and batch.
type runFlags struct {
	driver         string
	headless       bool
	headlessSet    bool
	deadline       time.Duration
	diagnosticsDir string
	startURL       string
}

// plan is a flow file resolved against the app config and flags.
type plan struct {
	file   *flow.File
	driver string
	run    engine.RunConfig
	steps  []flow.Step
}

// resolvePlan merges settings with precedence flags, then flow file, then config.
func resolvePlan(cfg *config.Config, f *flow.File, fl runFlags) (plan, error) {
	bc := browser.Config{
		Headless:          cfg.Browser.Headless,
		Bin:               cfg.Browser.Bin,
		Flags:             cfg.Browser.Flags,
		DebuggerURL:       cfg.Browser.DebuggerURL,
		ViewportWidth:     cfg.Browser.ViewportWidth,
		ViewportHeight:    cfg.Browser.ViewportHeight,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: cfg.GetNavigationTimeout(),
		ReadyQuiet:        cfg.GetReadyQuiet(),
	}
	rs := f.Run
	bc.StartURL = rs.StartURL
	if rs.Headless != nil {
		bc.Headless = *rs.Headless
	}
	if rs.ViewportWidth > 0 {
		bc.ViewportWidth = rs.ViewportWidth
	}
	if rs.ViewportHeight > 0 {
		bc.ViewportHeight = rs.ViewportHeight
	}
	if rs.UserAgent != "" {
		bc.UserAgent = rs.UserAgent
	}

	rc := engine.RunConfig{
		Flow:           f.Name,
		Deadline:       cfg.GetDeadline(),
		DiagnosticsDir: cfg.Run.DiagnosticsDir,
	}
	if rs.Deadline > 0 {
		rc.Deadline = rs.Deadline
	}
	if rs.DiagnosticsDir != "" {
		rc.DiagnosticsDir = rs.DiagnosticsDir
	}

	driver := cfg.Browser.Driver
	if rs.Driver != "" {
		driver = rs.Driver
	}

	// Flags
	if fl.driver != "" {
		driver = fl.driver
	}
	if fl.headlessSet {
		bc.Headless = fl.headless
	}
	if fl.deadline > 0 {
		rc.Deadline = fl.deadline
	}
	if fl.diagnosticsDir != "" {
		rc.DiagnosticsDir = fl.diagnosticsDir
	}
	if fl.startURL != "" {
		bc.StartURL = fl.startURL
	}

	if !validDriver(driver) {
		return plan{}, fmt.Errorf("invalid browser driver: %s (valid: %v)", driver, config.ValidDrivers)
	}
	rc.Browser = bc

	steps := f.StepsWithDefaults(flow.Defaults{
		Timeout:  cfg.GetStepTimeout(),
		Interval: cfg.GetPollInterval(),
		Backoff:  cfg.GetBackoff(),
	})
	return plan{file: f, driver: driver, run: rc, steps: steps}, nil
}

func validDriver(name string) bool {
	for _, d := range config.ValidDrivers {
		if d == name {
			return true
		}
	}
	return false
}

// newDriver returns the browser driver registered under name.
func newDriver(name string, logger *zap.Logger) (browser.Driver, error) {
	switch name {
	case "rod":
		return browser.NewRodDriver(logger), nil
	case "static":
		return htmlpage.NewDriver(nil, logger), nil
	default:
		return nil, fmt.Errorf("invalid browser driver: %s (valid: %v)", name, config.ValidDrivers)
	}
}

// outcomeSinks holds the observers attached to runs of one invocation.
type outcomeSinks struct {
	history *store.Store
	metrics *metrics.Metrics
	path    string
	logger  *zap.Logger
}

// openSinks opens the history ledger and metrics registry enabled in config.
func (a *app) openSinks() (*outcomeSinks, error) {
	s := &outcomeSinks{logger: a.logs.Get(logging.CategoryMetrics)}
	if a.cfg.History.Enabled {
		h, err := store.Open(a.cfg.History.DatabasePath, a.logs.Get(logging.CategoryStore))
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		s.history = h
	}
	if a.cfg.Metrics.Enabled {
		s.metrics = metrics.New()
		s.path = a.cfg.Metrics.Textfile
	}
	return s, nil
}

// options returns the runner options wiring every open sink.
func (s *outcomeSinks) options() []engine.Option {
	var opts []engine.Option
	if s.history != nil {
		opts = append(opts, engine.WithObserver(s.history))
	}
	if s.metrics != nil {
		opts = append(opts, engine.WithObserver(s.metrics))
	}
	return opts
}

// flush writes the metrics textfile, if configured.
func (s *outcomeSinks) flush() {
	if s.metrics == nil || s.path == "" {
		return
	}
	if err := s.metrics.WriteTextfile(s.path); err != nil {
		s.logger.Warn("metrics textfile write failed", zap.String("path", s.path), zap.Error(err))
		return
	}
	s.logger.Debug("metrics textfile written", zap.String("path", s.path))
}

func (s *outcomeSinks) close() {
	s.flush()
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.Warn("run history close failed", zap.Error(err))
		}
	}
}

// newRunner builds a runner for one plan.
func (a *app) newRunner(p plan, sinks *outcomeSinks) (*engine.Runner, error) {
	driver, err := newDriver(p.driver, a.logs.Get(logging.CategorySession))
	if err != nil {
		return nil, err
	}
	controller := browser.NewController(driver, a.logs.Get(logging.CategorySession))
	opts := append([]engine.Option{
		engine.WithLogger(a.logs.Get(logging.CategoryExecutor)),
		engine.WithPollLogger(a.logs.Get(logging.CategoryPoll)),
	}, sinks.options()...)
	return engine.NewRunner(controller, opts...), nil
}
