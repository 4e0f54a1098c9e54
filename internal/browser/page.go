// Package browser owns the life cycle of one automation browser session and
// the page abstraction the step executor drives.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrLaunch marks failures to start or connect to the browser.
	ErrLaunch = errors.New("browser launch failed")
	// ErrNavigation marks start-page loads that failed or timed out.
	ErrNavigation = errors.New("navigation failed")
	// ErrNotFound is returned by Page.Find when no element matches.
	ErrNotFound = errors.New("element not found")
	// ErrUnsupported is returned by drivers for operations they cannot perform.
	ErrUnsupported = errors.New("operation not supported by driver")
	// ErrSessionBusy is returned when a second run tries to use an active session.
	ErrSessionBusy = errors.New("session already in use by another run")
	// ErrSessionClosed is returned when acquiring a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// LocatorKind selects how a locator value is interpreted.
type LocatorKind string

const (
	LocatorCSS   LocatorKind = "css"   // CSS selector
	LocatorText  LocatorKind = "text"  // clickable element whose text contains Value
	LocatorXPath LocatorKind = "xpath" // XPath expression
)

// TextTargets are the elements a text locator searches.
const TextTargets = "button, a, [role='button'], [role='link'], [role='tab'], [role='menuitem']"

// Locator is one candidate strategy for finding an element.
type Locator struct {
	Kind  LocatorKind `json:"kind" yaml:"kind"`
	Value string      `json:"value" yaml:"value"`
}

// CSS builds a CSS locator.
func CSS(selector string) Locator { return Locator{Kind: LocatorCSS, Value: selector} }

// Text builds a text-content locator.
func Text(text string) Locator { return Locator{Kind: LocatorText, Value: text} }

// XPath builds an XPath locator.
func XPath(expr string) Locator { return Locator{Kind: LocatorXPath, Value: expr} }

func (l Locator) String() string {
	return fmt.Sprintf("%s=%s", l.Kind, l.Value)
}

// Validate reports malformed locators.
func (l Locator) Validate() error {
	switch l.Kind {
	case LocatorCSS, LocatorText, LocatorXPath:
	default:
		return fmt.Errorf("unknown locator kind %q", l.Kind)
	}
	if strings.TrimSpace(l.Value) == "" {
		return fmt.Errorf("empty %s locator", l.Kind)
	}
	return nil
}

// Element is a resolved page element.
type Element interface {
	Click(ctx context.Context) error
	Type(ctx context.Context, text string) error
}

// Page is the driver-level view of one browser tab.
//
// Find must not block waiting for the element: it resolves against the page
// as it is now and returns ErrNotFound when nothing matches. Waiting belongs
// to the caller's poller.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Find(ctx context.Context, loc Locator) (Element, error)
	URL(ctx context.Context) (string, error)
	Text(ctx context.Context) (string, error)
	Links(ctx context.Context) ([]string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Driver launches a page for a session.
type Driver interface {
	Launch(ctx context.Context, cfg Config) (Page, error)
}

// Config holds session configuration.
type Config struct {
	StartURL          string        `json:"start_url"`
	Headless          bool          `json:"headless"`
	Bin               string        `json:"bin,omitempty"`
	Flags             []string      `json:"flags,omitempty"`
	DebuggerURL       string        `json:"debugger_url,omitempty"`
	ViewportWidth     int           `json:"viewport_width"`
	ViewportHeight    int           `json:"viewport_height"`
	UserAgent         string        `json:"user_agent,omitempty"`
	NavigationTimeout time.Duration `json:"navigation_timeout"`
	ReadyQuiet        time.Duration `json:"ready_quiet"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		NavigationTimeout: 30 * time.Second,
		ReadyQuiet:        500 * time.Millisecond,
	}
}

// GetViewportWidth returns viewport width.
func (c Config) GetViewportWidth() int {
	if c.ViewportWidth == 0 {
		return 1920
	}
	return c.ViewportWidth
}

// GetViewportHeight returns viewport height.
func (c Config) GetViewportHeight() int {
	if c.ViewportHeight == 0 {
		return 1080
	}
	return c.ViewportHeight
}

// GetNavigationTimeout returns the navigation timeout.
func (c Config) GetNavigationTimeout() time.Duration {
	if c.NavigationTimeout <= 0 {
		return 30 * time.Second
	}
	return c.NavigationTimeout
}

// GetReadyQuiet returns the network quiet window that marks a page ready.
func (c Config) GetReadyQuiet() time.Duration {
	if c.ReadyQuiet <= 0 {
		return 500 * time.Millisecond
	}
	return c.ReadyQuiet
}
