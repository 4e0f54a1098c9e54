package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is a session life cycle state.
type State int

const (
	StateCreated State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is one browser page context, exclusively owned by one run.
type Session struct {
	ID        string
	Config    Config
	CreatedAt time.Time

	logger *zap.Logger

	mu       sync.Mutex
	state    State
	page     Page
	busy     bool
	closeErr error
}

// Page returns the driver page. It is nil until the session is active.
func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// State returns the current life cycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Acquire marks the session as used by a run. Only one run may hold it.
func (s *Session) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateClosed:
		return ErrSessionClosed
	case s.busy:
		return ErrSessionBusy
	}
	s.busy = true
	return nil
}

// Release ends the current run's hold on the session.
func (s *Session) Release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Close tears the session down. The page is closed exactly once; later calls
// return the first result without touching the driver.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return s.closeErr
	}
	s.state = StateClosed
	s.busy = false

	if s.page != nil {
		if err := s.page.Close(); err != nil {
			s.closeErr = fmt.Errorf("close session %s: %w", s.ID, err)
			s.logger.Warn("session close failed", zap.String("session", s.ID), zap.Error(err))
		}
	}
	s.logger.Debug("session closed", zap.String("session", s.ID),
		zap.Duration("lifetime", time.Since(s.CreatedAt)))
	return s.closeErr
}

// Controller opens sessions through a driver.
type Controller struct {
	driver Driver
	logger *zap.Logger
}

// NewController creates a session controller.
func NewController(driver Driver, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{driver: driver, logger: logger}
}

// Open launches a page and navigates it to cfg.StartURL, waiting for the
// driver's ready condition.
//
// A launch failure wraps ErrLaunch and returns no session. A start page that
// fails to load wraps ErrNavigation; the active session is returned with the
// error so the caller can capture diagnostics, and the caller must Close it.
func (c *Controller) Open(ctx context.Context, cfg Config) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		Config:    cfg,
		CreatedAt: time.Now(),
		logger:    c.logger,
		state:     StateCreated,
	}

	page, err := c.driver.Launch(ctx, cfg)
	if err != nil {
		s.state = StateClosed
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	s.mu.Lock()
	s.page = page
	s.state = StateActive
	s.mu.Unlock()

	c.logger.Info("session opened",
		zap.String("session", s.ID),
		zap.Bool("headless", cfg.Headless),
		zap.Int("viewport_width", cfg.GetViewportWidth()),
		zap.Int("viewport_height", cfg.GetViewportHeight()))

	if cfg.StartURL == "" {
		return s, nil
	}

	navCtx, cancel := context.WithTimeout(ctx, cfg.GetNavigationTimeout())
	defer cancel()
	if err := page.Navigate(navCtx, cfg.StartURL); err != nil {
		c.logger.Warn("start page failed to load",
			zap.String("session", s.ID), zap.String("url", cfg.StartURL), zap.Error(err))
		return s, fmt.Errorf("%w: %s: %w", ErrNavigation, cfg.StartURL, err)
	}
	c.logger.Debug("start page ready", zap.String("session", s.ID), zap.String("url", cfg.StartURL))
	return s, nil
}
