// Package navigator walks a paginated listing one page at a time under a
// per-user navigation budget, retrying transient page failures.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/use-agent/leadscout/config"
	"github.com/use-agent/leadscout/extractor"
	"github.com/use-agent/leadscout/models"
)

// Page is one scoped browser tab. Implementations release every browser
// resource they hold on Close.
type Page interface {
	// Load navigates to url and waits for the document to settle.
	Load(ctx context.Context, url string) error
	// Next clicks the listing's "next page" control and waits for the DOM.
	Next(ctx context.Context) error
	// Render scrolls the results so lazily loaded cards are in the DOM.
	Render(ctx context.Context) error
	// HTML returns the current document.
	HTML() (string, error)
	Close() error
}

// Opener acquires a Page authenticated with the given session credential.
type Opener interface {
	Open(ctx context.Context, credential string) (Page, error)
}

// ErrStop ends a walk early without error when returned by a Visitor.
var ErrStop = errors.New("navigator: stop")

// WalkRequest names what to walk and as whom.
type WalkRequest struct {
	UserID     string
	Query      string
	Credential string
}

// Visitor receives the walk's results.
type Visitor struct {
	// OnTotal is called with the listing's total result count after the
	// first page loads, before any OnPage call.
	OnTotal func(ctx context.Context, total int) error

	// OnPage is called once per page in increasing order. A retryable error
	// sends the page through the retry path again.
	OnPage func(ctx context.Context, page int, html string) error
}

// Navigator drives an Opener through the pages of a search.
type Navigator struct {
	opener Opener
	pacer  *Pacer
	cfg    config.NavigatorConfig
}

// New creates a Navigator.
func New(opener Opener, pacer *Pacer, cfg config.NavigatorConfig) *Navigator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 25
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Navigator{opener: opener, pacer: pacer, cfg: cfg}
}

// Pages returns how many listing pages hold total results.
func (n *Navigator) Pages(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + n.cfg.PageSize - 1) / n.cfg.PageSize
}

// Walk opens one page for the request and visits every listing page in
// order. The page is closed before Walk returns.
func (n *Navigator) Walk(ctx context.Context, req WalkRequest, v Visitor) error {
	page, err := n.opener.Open(ctx, req.Credential)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			slog.Warn("closing browser page failed", "user_id", req.UserID, "error", cerr)
		}
	}()

	pages := 0
	first := func(ctx context.Context, html string) error {
		total, ok := extractor.ParseTotalResults(html)
		if !ok {
			if n.cfg.MissingTotal != config.MissingTotalComplete {
				return models.NewScrapeError(models.ErrCodeParse,
					"result count not found on the first page", nil)
			}
			slog.Warn("result count missing, treating as empty", "user_id", req.UserID)
			total = 0
		}
		if v.OnTotal != nil {
			if err := v.OnTotal(ctx, total); err != nil {
				return err
			}
		}
		pages = n.Pages(total)
		if pages == 0 || v.OnPage == nil {
			return nil
		}
		return v.OnPage(ctx, 1, html)
	}
	if err := n.step(ctx, page, req, 1, first); err != nil {
		return stopped(err)
	}

	for num := 2; num <= pages; num++ {
		visit := func(ctx context.Context, html string) error {
			if v.OnPage == nil {
				return nil
			}
			return v.OnPage(ctx, num, html)
		}
		if err := n.step(ctx, page, req, num, visit); err != nil {
			return stopped(err)
		}
	}
	return nil
}

func stopped(err error) error {
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

// step fetches page num and hands it to visit, retrying retryable failures
// with backoff. The first attempt for a later page clicks "next"; retries
// and page 1 load the page by URL.
func (n *Navigator) step(ctx context.Context, page Page, req WalkRequest, num int,
	visit func(context.Context, string) error) error {
	var lastErr error
	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying page",
				"user_id", req.UserID, "page", num, "attempt", attempt, "error", lastErr)
			if err := n.pacer.Backoff(ctx, attempt, n.cfg.BackoffBase, n.cfg.BackoffMax); err != nil {
				return err
			}
		}
		if num > 1 || attempt > 0 {
			if err := n.pacer.Wait(ctx, req.UserID); err != nil {
				return err
			}
		}

		err := n.fetch(ctx, page, req.Query, num, attempt)
		var html string
		if err == nil {
			html, err = page.HTML()
			if err != nil {
				err = models.NewScrapeError(models.ErrCodeNavigation, "failed to read page HTML", err)
			}
		}
		if err == nil {
			err = visit(ctx, html)
		}
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !models.IsRetryable(err) {
			return err
		}
		lastErr = err
	}
	return models.NewScrapeError(models.CodeOf(lastErr),
		fmt.Sprintf("page %d failed after %d attempts", num, n.cfg.MaxRetries+1), lastErr)
}

func (n *Navigator) fetch(ctx context.Context, page Page, query string, num, attempt int) error {
	navCtx := ctx
	if n.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, n.cfg.NavigationTimeout)
		defer cancel()
	}

	var err error
	if num > 1 && attempt == 0 {
		err = page.Next(navCtx)
	} else {
		var target string
		target, err = PageURL(query, num)
		if err == nil {
			err = page.Load(navCtx, target)
		}
	}
	if err != nil {
		return err
	}
	return page.Render(navCtx)
}

// PageURL returns query with its page parameter set to num. Page 1 is the
// query itself.
func PageURL(query string, num int) (string, error) {
	if num <= 1 {
		return query, nil
	}
	u, err := url.Parse(query)
	if err != nil {
		return "", models.NewScrapeError(models.ErrCodeInvalidInput, "query is not a valid URL", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(num))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
