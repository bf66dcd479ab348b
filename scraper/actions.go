package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"

	"github.com/use-agent/leadscout/models"
)

// scrollPause lets lazy-loaded cards render between scroll steps.
const scrollPause = 150 * time.Millisecond

// scrollResults scrolls the results container (or the window when the
// container is absent) one viewport at a time, steps times.
func scrollResults(ctx context.Context, p *rod.Page, steps int) error {
	const js = `() => {
		const c = document.querySelector('#search-results-container');
		if (c && c.scrollHeight > c.clientHeight) {
			c.scrollBy(0, c.clientHeight);
			return c.scrollTop + c.clientHeight >= c.scrollHeight;
		}
		window.scrollBy(0, window.innerHeight);
		return window.scrollY + window.innerHeight >= document.body.scrollHeight;
	}`

	for i := 0; i < steps; i++ {
		res, err := p.Eval(js)
		if err != nil {
			if ctx.Err() != nil {
				return categorizeError(ctx, ctx.Err(), "render interrupted")
			}
			return models.NewScrapeError(models.ErrCodeNavigation, fmt.Sprintf("scroll step %d failed", i), err)
		}
		select {
		case <-time.After(scrollPause):
		case <-ctx.Done():
			return categorizeError(ctx, ctx.Err(), "render interrupted")
		}
		if res.Value.Bool() {
			break
		}
	}
	return nil
}
