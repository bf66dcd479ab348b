package scraper

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/use-agent/leadscout/config"
	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/navigator"
)

// Scraper owns the browser process and hands out one incognito context per
// job. It is safe for concurrent use.
type Scraper struct {
	browser     *rod.Browser
	browserCfg  config.BrowserConfig
	target      config.TargetConfig
	scrollSteps int
	maxContexts int
	active      atomic.Int32
	startTime   time.Time
}

// NewScraper launches a headless browser. maxContexts is reported in Stats
// and should match the job admission limit.
func NewScraper(browserCfg config.BrowserConfig, target config.TargetConfig, nav config.NavigatorConfig, maxContexts int) (*Scraper, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if browserCfg.DefaultProxy != "" {
		l = l.Proxy(browserCfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to launch browser", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to connect to browser", err)
	}

	return &Scraper{
		browser:     browser,
		browserCfg:  browserCfg,
		target:      target,
		scrollSteps: nav.ScrollSteps,
		maxContexts: maxContexts,
		startTime:   time.Now(),
	}, nil
}

// Open implements navigator.Opener. It creates an incognito browser context
// holding only the given session cookie, and one stealth page inside it.
// Everything is disposed by the returned page's Close.
func (s *Scraper) Open(ctx context.Context, credential string) (navigator.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	incognito, err := s.browser.Incognito()
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to create browser context", err)
	}
	s.active.Add(1)

	t := &tab{scraper: s, incognito: incognito}
	if err := t.init(credential); err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

func (t *tab) init(credential string) error {
	page, err := t.incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to open page", err)
	}
	t.page = page

	// Stealth and resource blocking only apply to navigations after they
	// are installed.
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth", "error", err)
	}
	_ = proto.NetworkSetExtraHTTPHeaders{
		Headers: toHeadersMap(map[string]string{"Accept-Language": "en-US,en;q=0.9"}),
	}.Call(page)

	cfg := t.scraper.target
	err = page.SetCookies([]*proto.NetworkCookieParam{{
		Name:     cfg.CookieName,
		Value:    credential,
		Domain:   cfg.CookieDomain,
		Path:     "/",
		Secure:   true,
		HTTPOnly: true,
	}})
	if err != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to set session cookie", err)
	}

	t.router = setupHijack(page, t.scraper.browserCfg.BlockedResourceTypes)
	return nil
}

// Stats returns a snapshot of browser context usage.
func (s *Scraper) Stats() models.BrowserStats {
	return models.BrowserStats{
		MaxContexts:    s.maxContexts,
		ActiveContexts: int(s.active.Load()),
	}
}

// Close kills the browser process. Call this on graceful shutdown to
// prevent zombie Chrome processes.
func (s *Scraper) Close() {
	slog.Info("scraper shutting down: closing browser", "active_contexts", s.active.Load())
	if err := s.browser.Close(); err != nil {
		slog.Warn("closing browser failed", "error", err)
	}
	slog.Info("scraper shutdown complete", "uptime", time.Since(s.startTime).Round(time.Second))
}
