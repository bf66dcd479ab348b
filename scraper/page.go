package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/use-agent/leadscout/models"
)

// authPaths are landing paths that mean the session cookie was not accepted.
var authPaths = []string{"/login", "/uas/login", "/authwall", "/checkpoint", "/sales/login"}

// nextSelectors locate the listing's "next page" control.
var nextSelectors = []string{
	"button.artdeco-pagination__button--next",
	`button[aria-label="Next"]`,
}

// tab is one page inside its own incognito context.
type tab struct {
	scraper   *Scraper
	incognito *rod.Browser
	page      *rod.Page
	router    *rod.HijackRouter
	closeOnce sync.Once
}

// Load navigates to target and waits for the DOM to settle.
//
// Lifecycle:
//
//  1. Navigate             – bound to ctx, so cancel interrupts it
//  2. Wait                 – DOM stable (the hijack router owns the Fetch domain)
//  3. Landing check        – login/authwall redirects and HTTP status
func (t *tab) Load(ctx context.Context, target string) error {
	p := t.page.Context(ctx)
	if err := p.Navigate(target); err != nil {
		return categorizeError(ctx, err, "navigation to listing failed")
	}
	t.settle(p)
	return t.checkLanding(ctx, p)
}

// Next clicks the pagination control and waits for the new listing.
func (t *tab) Next(ctx context.Context) error {
	p := t.page.Context(ctx)

	var next *rod.Element
	for _, sel := range nextSelectors {
		has, el, err := p.Has(sel)
		if err != nil {
			return categorizeError(ctx, err, "looking up next-page control failed")
		}
		if has {
			next = el
			break
		}
	}
	if next == nil {
		return models.NewScrapeError(models.ErrCodeNavigation, "next-page control not found", nil)
	}
	if disabled, _ := next.Attribute("disabled"); disabled != nil {
		return models.NewScrapeError(models.ErrCodeNavigation, "next-page control is disabled", nil)
	}
	if err := next.ScrollIntoView(); err != nil {
		slog.Debug("scrolling to next-page control failed", "error", err)
	}
	if err := next.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return categorizeError(ctx, err, "clicking next-page control failed")
	}
	t.settle(p)
	return t.checkLanding(ctx, p)
}

// Render scrolls the results so lazily rendered cards enter the DOM.
func (t *tab) Render(ctx context.Context) error {
	return scrollResults(ctx, t.page.Context(ctx), t.scraper.scrollSteps)
}

// HTML returns the rendered document.
func (t *tab) HTML() (string, error) {
	html, err := t.page.HTML()
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeNavigation, "failed to extract page HTML", err)
	}
	return html, nil
}

// Close stops request interception, closes the page and disposes the
// incognito context with its cookies. It is safe to call more than once.
func (t *tab) Close() error {
	var err error
	t.closeOnce.Do(func() {
		defer t.scraper.active.Add(-1)
		if t.router != nil {
			_ = t.router.Stop()
		}
		if t.page != nil {
			if perr := t.page.Close(); perr != nil {
				slog.Debug("closing page failed", "error", perr)
			}
		}
		err = t.incognito.Close()
	})
	return err
}

func (t *tab) settle(p *rod.Page) {
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}
}

// checkLanding reads the final URL and the navigation status via the
// performance API, which needs no CDP event listeners.
func (t *tab) checkLanding(ctx context.Context, p *rod.Page) error {
	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	status := 0
	if res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); err == nil {
		status = res.Value.Int()
	}
	if err := ctx.Err(); err != nil {
		return categorizeError(ctx, err, "navigation interrupted")
	}
	return classifyLanding(finalURL, status)
}

// classifyLanding maps where a navigation ended up to a typed error, or nil
// when the listing loaded.
func classifyLanding(finalURL string, status int) error {
	if u, err := url.Parse(finalURL); err == nil {
		path := strings.ToLower(u.Path)
		for _, p := range authPaths {
			if strings.HasPrefix(path, p) {
				return models.NewScrapeError(models.ErrCodeAuthRejected,
					fmt.Sprintf("session rejected, redirected to %s", u.Path), nil)
			}
		}
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return models.NewScrapeError(models.ErrCodeAuthRejected,
			fmt.Sprintf("session rejected with HTTP %d", status), nil)
	case status == http.StatusTooManyRequests:
		return models.NewScrapeError(models.ErrCodeNavigation, "target site is throttling (HTTP 429)", nil)
	case status >= 500:
		return models.NewScrapeError(models.ErrCodeNavigation,
			fmt.Sprintf("target site error (HTTP %d)", status), nil)
	}
	return nil
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors.
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw browser errors into typed ScrapeErrors. Both
// outcomes are retryable unless ctx itself was canceled, which the caller
// checks first.
func categorizeError(ctx context.Context, err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return models.NewScrapeError(models.ErrCodeTimeout, "navigation canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}
