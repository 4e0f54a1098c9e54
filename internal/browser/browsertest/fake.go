// Package browsertest provides an in-memory browser.Driver whose elements and
// text appear on a schedule, for exercising the engine without Chrome.
package browsertest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"uipilot/internal/browser"
)

// ElementOption configures a fake element.
type ElementOption func(*Element)

// AfterDelay hides the element until d has passed since the page was created.
func AfterDelay(d time.Duration) ElementOption {
	return func(e *Element) { e.delay = d }
}

// AfterFinds hides the element until the n-th Find call for its locator.
func AfterFinds(n int) ElementOption {
	return func(e *Element) { e.findsNeeded = n }
}

// WithClickError makes every click fail with err.
func WithClickError(err error) ElementOption {
	return func(e *Element) { e.clickErr = err }
}

// OnClick runs fn after each successful click.
func OnClick(fn func()) ElementOption {
	return func(e *Element) { e.onClick = fn }
}

// Element is a fake page element.
type Element struct {
	page        *Page
	loc         browser.Locator
	delay       time.Duration
	findsNeeded int
	clickErr    error
	onClick     func()

	clicks int
	typed  []string
}

// Click implements browser.Element.
func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.mu.Lock()
	if e.clickErr != nil {
		e.page.mu.Unlock()
		return e.clickErr
	}
	e.clicks++
	fn := e.onClick
	e.page.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

// Type implements browser.Element.
func (e *Element) Type(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.typed = append(e.typed, text)
	return nil
}

// Clicks returns how many times the element was clicked.
func (e *Element) Clicks() int {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return e.clicks
}

// Typed returns the text typed into the element.
func (e *Element) Typed() []string {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return append([]string(nil), e.typed...)
}

type timedText struct {
	at    time.Time
	text  string
	links []string
}

// Page is a fake browser.Page.
type Page struct {
	mu        sync.Mutex
	created   time.Time
	url       string
	text      string
	revealed  []timedText
	elements  []*Element
	finds     map[browser.Locator]int
	navs      []string
	closes    int
	shotCalls int

	// NavigateErr, when set, fails every navigation.
	NavigateErr error
	// NavigateDelay blocks each navigation for the duration or until ctx ends.
	NavigateDelay time.Duration
	// Screenshot bytes returned by Screenshot; nil means ErrUnsupported.
	Shot []byte
	// FindErr, when set, is returned by Find for every locator.
	FindErr error
}

// NewPage creates an empty fake page.
func NewPage() *Page {
	return &Page{
		created: time.Now(),
		finds:   make(map[browser.Locator]int),
		Shot:    []byte("\x89PNG fake"),
	}
}

// AddElement registers an element reachable through loc.
func (p *Page) AddElement(loc browser.Locator, opts ...ElementOption) *Element {
	e := &Element{page: p, loc: loc}
	for _, o := range opts {
		o(e)
	}
	p.mu.Lock()
	p.elements = append(p.elements, e)
	p.mu.Unlock()
	return e
}

// SetText sets the visible text.
func (p *Page) SetText(text string) {
	p.mu.Lock()
	p.text = text
	p.mu.Unlock()
}

// RevealAfter appends text and links to the page once d has passed from now.
func (p *Page) RevealAfter(d time.Duration, text string, links ...string) {
	p.mu.Lock()
	p.revealed = append(p.revealed, timedText{at: time.Now().Add(d), text: text, links: links})
	p.mu.Unlock()
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.NavigateDelay > 0 {
		t := time.NewTimer(p.NavigateDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navs = append(p.navs, url)
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.url = url
	return nil
}

// Find implements browser.Page.
func (p *Page) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finds[loc]++
	if p.FindErr != nil {
		return nil, p.FindErr
	}
	for _, e := range p.elements {
		if !matches(e.loc, loc) {
			continue
		}
		if e.delay > 0 && time.Since(p.created) < e.delay {
			continue
		}
		if e.findsNeeded > 0 && p.finds[loc] < e.findsNeeded {
			continue
		}
		return e, nil
	}
	return nil, browser.ErrNotFound
}

func matches(have, want browser.Locator) bool {
	if have.Kind != want.Kind {
		return false
	}
	if want.Kind == browser.LocatorText {
		return strings.Contains(have.Value, want.Value)
	}
	return have.Value == want.Value
}

// URL implements browser.Page.
func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

// Text implements browser.Page.
func (p *Page) Text(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	parts := []string{p.text}
	now := time.Now()
	for _, r := range p.revealed {
		if !now.Before(r.at) {
			parts = append(parts, r.text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Links implements browser.Page.
func (p *Page) Links(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var links []string
	now := time.Now()
	for _, r := range p.revealed {
		if !now.Before(r.at) {
			links = append(links, r.links...)
		}
	}
	return links, nil
}

// Screenshot implements browser.Page.
func (p *Page) Screenshot(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shotCalls++
	if p.Shot == nil {
		return nil, browser.ErrUnsupported
	}
	return p.Shot, nil
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

// Closes reports how many times Close was called.
func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// Finds reports how many times Find ran for loc.
func (p *Page) Finds(loc browser.Locator) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finds[loc]
}

// Navigations returns every URL passed to Navigate.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navs...)
}

// Driver is a fake browser.Driver returning one page.
type Driver struct {
	Page      *Page
	LaunchErr error

	mu       sync.Mutex
	launches int
}

// ErrNoPage is returned when the driver has no page configured.
var ErrNoPage = errors.New("browsertest: driver has no page")

// Launch implements browser.Driver.
func (d *Driver) Launch(ctx context.Context, cfg browser.Config) (browser.Page, error) {
	d.mu.Lock()
	d.launches++
	d.mu.Unlock()
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	if d.Page == nil {
		return nil, ErrNoPage
	}
	return d.Page, nil
}

// Launches reports how many times Launch ran.
func (d *Driver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}
