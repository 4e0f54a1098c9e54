package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// RodDriver drives Chrome through the DevTools protocol.
type RodDriver struct {
	logger *zap.Logger
}

// NewRodDriver creates a Chrome driver.
func NewRodDriver(logger *zap.Logger) *RodDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodDriver{logger: logger}
}

// Launch connects to cfg.DebuggerURL, or starts a new Chrome when it is empty,
// and opens an incognito page sized to the configured viewport.
func (d *RodDriver) Launch(ctx context.Context, cfg Config) (Page, error) {
	var l *launcher.Launcher
	controlURL := cfg.DebuggerURL
	if controlURL == "" {
		l = d.newLauncher(cfg)
		url, err := l.Launch()
		if err != nil {
			if cfg.Bin == "" || len(cfg.Flags) == 0 {
				return nil, fmt.Errorf("launch chrome: %w", err)
			}
			// Retry once without the extra flags
			fallback := launcher.New().Bin(cfg.Bin).Headless(cfg.Headless)
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return nil, fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			l, url = fallback, alt
		}
		controlURL = url
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	incognito, err := b.Incognito()
	if err != nil {
		d.teardown(b, l)
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		d.teardown(b, l)
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.GetViewportWidth(),
		Height:            cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		d.logger.Warn("failed to set viewport", zap.Error(err))
	}

	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
			d.logger.Warn("failed to set user agent", zap.Error(err))
		}
	}

	return &rodPage{
		browser:   b,
		incognito: incognito,
		page:      page,
		launcher:  l,
		quiet:     cfg.GetReadyQuiet(),
		logger:    d.logger,
	}, nil
}

func (d *RodDriver) newLauncher(cfg Config) *launcher.Launcher {
	l := launcher.New().Headless(cfg.Headless)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	for _, rawFlag := range cfg.Flags {
		flagStr := strings.TrimLeft(rawFlag, "-")
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	l = l.Set("window-size", fmt.Sprintf("%d,%d", cfg.GetViewportWidth(), cfg.GetViewportHeight()))
	return l
}

func (d *RodDriver) teardown(b *rod.Browser, l *launcher.Launcher) {
	if l == nil {
		// Attached to an external browser: leave it running
		return
	}
	_ = b.Close()
	l.Kill()
}

type rodPage struct {
	browser   *rod.Browser
	incognito *rod.Browser
	page      *rod.Page
	launcher  *launcher.Launcher
	quiet     time.Duration
	logger    *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	wait := page.WaitRequestIdle(p.quiet, nil, nil, nil)
	if err := page.Navigate(url); err != nil {
		return err
	}
	if err := page.WaitLoad(); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

func (p *rodPage) Find(ctx context.Context, loc Locator) (Element, error) {
	page := p.page.Context(ctx)

	var (
		has bool
		el  *rod.Element
		err error
	)
	switch loc.Kind {
	case LocatorCSS:
		has, el, err = page.Has(loc.Value)
	case LocatorText:
		has, el, err = page.HasR(TextTargets, regexp.QuoteMeta(loc.Value))
	case LocatorXPath:
		has, el, err = page.HasX(loc.Value)
	default:
		return nil, fmt.Errorf("%w: locator kind %q", ErrUnsupported, loc.Kind)
	}
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, ErrNotFound
	}
	return &rodElement{el: el}, nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Text(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (p *rodPage) Links(ctx context.Context) ([]string, error) {
	res, err := p.page.Context(ctx).Eval(
		`() => Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`)
	if err != nil {
		return nil, err
	}
	arr := res.Value.Arr()
	links := make([]string, 0, len(arr))
	for _, v := range arr {
		links = append(links, v.Str())
	}
	return links, nil
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(true, nil)
}

// Close closes the page, the incognito context, and a browser this driver
// launched. An attached external browser is left running.
func (p *rodPage) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if err := p.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		if p.launcher != nil {
			if err := p.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
			p.launcher.Kill()
			p.launcher.Cleanup()
		} else if err := p.incognito.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close incognito context: %w", err))
		}
		p.closeErr = errors.Join(errs...)
		p.logger.Debug("rod page closed", zap.Bool("owned_browser", p.launcher != nil), zap.Error(p.closeErr))
	})
	return p.closeErr
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Type(ctx context.Context, text string) error {
	return e.el.Context(ctx).Input(text)
}
