//go:build integration
package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"uipilot/internal/browser"

	"github.com/stretchr/testify/require"
)

func newRodSession(t *testing.T, ctx context.Context, startURL string) *browser.Session {
	t.Helper()
	cfg := browser.DefaultConfig()
	cfg.Headless = true
	cfg.StartURL = startURL
	// Faster timeouts for testing
	cfg.NavigationTimeout = 10 * time.Second
	cfg.ReadyQuiet = 100 * time.Millisecond

	ctrl := browser.NewController(browser.NewRodDriver(nil), nil)
	session, err := ctrl.Open(ctx, cfg)
	require.NoError(t, err, "Failed to open session")
	t.Cleanup(func() {
		if err := session.Close(); err != nil {
			t.Logf("Close error: %v", err)
		}
	})
	return session
}

func TestRodDriver_Navigation_Integration(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `<html><body><h1>Hello World</h1><a href="https://demo.vercel.app">site</a></body></html>`)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session := newRodSession(t, ctx, ts.URL)
	page := session.Page()

	text, err := page.Text(ctx)
	require.NoError(t, err)
	require.Contains(t, text, "Hello World")

	links, err := page.Links(ctx)
	require.NoError(t, err)
	require.Contains(t, links, "https://demo.vercel.app/")

	u, err := page.URL(ctx)
	require.NoError(t, err)
	require.Contains(t, u, ts.URL)

	shot, err := page.Screenshot(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, shot)

	require.NoError(t, page.Navigate(ctx, ts.URL+"/page2"))
	u, err = page.URL(ctx)
	require.NoError(t, err)
	require.Equal(t, ts.URL+"/page2", u)
}

func TestRodDriver_Interaction_Integration(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintln(w, `
			<html>
			<body>
				<button id="btn1" onclick="document.getElementById('out').textContent='clicked'">Import Project</button>
				<input id="inp1" type="text" />
				<p id="out"></p>
			</body>
			</html>
		`)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	page := newRodSession(t, ctx, ts.URL).Page()

	_, err := page.Find(ctx, browser.CSS("#missing"))
	require.ErrorIs(t, err, browser.ErrNotFound)

	btn, err := page.Find(ctx, browser.Text("Import"))
	require.NoError(t, err, "Failed to find button by text")
	require.NoError(t, btn.Click(ctx))

	inp, err := page.Find(ctx, browser.XPath("//input[@id='inp1']"))
	require.NoError(t, err)
	require.NoError(t, inp.Type(ctx, "hello"))

	require.Eventually(t, func() bool {
		text, err := page.Text(ctx)
		return err == nil && strings.Contains(text, "clicked")
	}, 10*time.Second, 100*time.Millisecond, "click handler did not run")
}
