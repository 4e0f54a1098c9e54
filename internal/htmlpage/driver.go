// Package htmlpage is a browser.Driver for server-rendered pages. It fetches
// documents over HTTP and resolves locators with goquery, following links and
// submitting forms on click. Pages that need JavaScript need the rod driver.
package htmlpage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"uipilot/internal/browser"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// DefaultUserAgent is sent when the session config names none.
const DefaultUserAgent = "uipilot/0.3 (+static)"

// ErrPageClosed is returned by operations on a closed page.
var ErrPageClosed = errors.New("page closed")

// Driver launches static pages sharing one HTTP client.
type Driver struct {
	client *http.Client
	logger *zap.Logger
}

// NewDriver creates a static driver. A nil client gets one with a 30s timeout.
func NewDriver(client *http.Client, logger *zap.Logger) *Driver {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{client: client, logger: logger}
}

// Launch implements browser.Driver. Nothing is fetched until Navigate.
func (d *Driver) Launch(ctx context.Context, cfg browser.Config) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &Page{
		client:    d.client,
		userAgent: ua,
		logger:    d.logger,
		values:    make(map[*html.Node]string),
	}, nil
}

// Page is a fetched document plus the values typed into its fields.
type Page struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu     sync.Mutex
	doc    *goquery.Document
	url    *url.URL
	values map[*html.Node]string
	closed bool
}

// Navigate implements browser.Page. Relative URLs resolve against the current page.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	target, err := p.resolve(rawURL)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return p.load(req)
}

func (p *Page) resolve(rawURL string) (*url.URL, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPageClosed
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if p.url != nil {
		u = p.url.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url %q", u)
	}
	return u, nil
}

func (p *Page) load(req *http.Request) error {
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: received status code %d", req.Method, req.URL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse HTML: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPageClosed
	}
	p.doc = doc
	p.url = resp.Request.URL
	p.values = make(map[*html.Node]string)
	p.logger.Debug("page loaded", zap.String("method", req.Method), zap.String("url", p.url.String()),
		zap.Int("status", resp.StatusCode))
	return nil
}

// Find implements browser.Page. XPath locators are not supported.
func (p *Page) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPageClosed
	}
	if p.doc == nil {
		return nil, browser.ErrNotFound
	}

	var sel *goquery.Selection
	switch loc.Kind {
	case browser.LocatorCSS:
		sel = p.doc.Find(loc.Value)
	case browser.LocatorText:
		sel = p.doc.Find(browser.TextTargets).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.Contains(normalize(s.Text()), loc.Value)
		})
	default:
		return nil, fmt.Errorf("%w: %s locators", browser.ErrUnsupported, loc.Kind)
	}
	if sel.Length() == 0 {
		return nil, browser.ErrNotFound
	}
	return &element{page: p, sel: sel.First()}, nil
}

// URL implements browser.Page.
func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.url == nil {
		return "", nil
	}
	return p.url.String(), nil
}

// Text implements browser.Page with whitespace collapsed. Script and style
// contents are dropped.
func (p *Page) Text(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return "", nil
	}
	body := p.doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	return normalize(body.Text()), nil
}

// Links implements browser.Page with hrefs resolved to absolute URLs.
func (p *Page) Links(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return nil, nil
	}
	var links []string
	p.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		if p.url != nil {
			u = p.url.ResolveReference(u)
		}
		links = append(links, u.String())
	})
	return links, nil
}

// Screenshot implements browser.Page. Static pages have no rendering.
func (p *Page) Screenshot(context.Context) ([]byte, error) {
	return nil, browser.ErrUnsupported
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.doc = nil
	p.values = nil
	return nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
