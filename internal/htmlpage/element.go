package htmlpage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"uipilot/internal/browser"

	"github.com/PuerkitoBio/goquery"
)

type element struct {
	page *Page
	sel  *goquery.Selection
}

// Click follows links and submits forms. Other elements have no static
// behavior and report ErrUnsupported.
func (e *element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case goquery.NodeName(e.sel) == "a":
		href, ok := e.sel.Attr("href")
		if !ok {
			return fmt.Errorf("%w: click on anchor without href", browser.ErrUnsupported)
		}
		return e.page.Navigate(ctx, href)
	case isSubmit(e.sel):
		form := e.sel.Closest("form")
		if form.Length() == 0 {
			return fmt.Errorf("%w: submit button outside a form", browser.ErrUnsupported)
		}
		req, err := e.page.formRequest(ctx, form, e.sel)
		if err != nil {
			return err
		}
		return e.page.load(req)
	default:
		return fmt.Errorf("%w: click on <%s>", browser.ErrUnsupported, goquery.NodeName(e.sel))
	}
}

// Type records text as the field's value for the next form submission.
func (e *element) Type(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch goquery.NodeName(e.sel) {
	case "input", "textarea", "select":
	default:
		return fmt.Errorf("%w: type into <%s>", browser.ErrUnsupported, goquery.NodeName(e.sel))
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if e.page.closed {
		return ErrPageClosed
	}
	e.page.values[e.sel.Get(0)] += text
	return nil
}

func isSubmit(s *goquery.Selection) bool {
	typ := strings.ToLower(s.AttrOr("type", ""))
	switch goquery.NodeName(s) {
	case "button":
		return typ == "" || typ == "submit"
	case "input":
		return typ == "submit" || typ == "image"
	}
	return false
}

// formRequest builds the request a browser would send for form submitted by
// submitter, using typed values over the markup defaults.
func (p *Page) formRequest(ctx context.Context, form, submitter *goquery.Selection) (*http.Request, error) {
	p.mu.Lock()
	values := url.Values{}
	form.Find("input[name], textarea[name], select[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		typ := strings.ToLower(s.AttrOr("type", "text"))
		switch typ {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := s.Attr("checked"); !checked {
				return
			}
			values.Add(name, s.AttrOr("value", "on"))
			return
		}
		if v, typed := p.values[s.Get(0)]; typed {
			values.Add(name, v)
			return
		}
		switch goquery.NodeName(s) {
		case "textarea":
			values.Add(name, s.Text())
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			values.Add(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
		default:
			values.Add(name, s.AttrOr("value", ""))
		}
	})
	if name, ok := submitter.Attr("name"); ok {
		values.Add(name, submitter.AttrOr("value", ""))
	}
	action := form.AttrOr("action", "")
	method := strings.ToUpper(form.AttrOr("method", http.MethodGet))
	p.mu.Unlock()

	target, err := p.resolve(action)
	if err != nil {
		return nil, err
	}

	if method == http.MethodPost {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(values.Encode()))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}
	target.RawQuery = values.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	return req, nil
}
