package engine

import (
	"context"
	"regexp"
	"strings"

	"uipilot/internal/browser"
	"uipilot/internal/poll"
)

// DefaultArtifactPattern matches a deployment URL on vercel.app.
const DefaultArtifactPattern = `https://[^\s"'<>]+\.vercel\.app`

// ArtifactPredicate scans the visible text and then the link targets of page
// for the first match of re. When contains is non-empty the match must
// include one of its entries, case-insensitively. Page errors count as no match.
func ArtifactPredicate(page browser.Page, re *regexp.Regexp, contains []string) poll.Predicate {
	accept := func(candidate string) bool {
		if len(contains) == 0 {
			return true
		}
		lower := strings.ToLower(candidate)
		for _, c := range contains {
			if strings.Contains(lower, strings.ToLower(c)) {
				return true
			}
		}
		return false
	}

	return func(ctx context.Context) (string, bool) {
		if text, err := page.Text(ctx); err == nil {
			for _, m := range re.FindAllString(text, -1) {
				if accept(m) {
					return m, true
				}
			}
		}
		if links, err := page.Links(ctx); err == nil {
			for _, href := range links {
				if m := re.FindString(href); m != "" && accept(m) {
					return m, true
				}
			}
		}
		return "", false
	}
}
