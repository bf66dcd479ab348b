// Package navigatortest provides an in-memory listing site that implements
// navigator.Opener for tests.
package navigatortest

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/use-agent/leadscout/extractor/extractortest"
	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/navigator"
)

// Site serves synthetic listing pages of Total results, PageSize per page.
// Configure it before the first Open.
type Site struct {
	Total    int // < 0 renders pages without a result count
	PageSize int // default 25

	// Cards overrides the cards shown on a page.
	Cards func(page int) []extractortest.Card

	// AuthRejected makes every navigation end on the login wall.
	AuthRejected bool

	// Failures is the number of transient failures left per page.
	Failures map[int]int

	// Stalls is the number of "next" clicks per page that leave the
	// previous listing in place.
	Stalls map[int]int

	// Broken pages render without any result cards.
	Broken map[int]bool

	// OnNavigate runs before each navigation to page.
	OnNavigate func(page int)

	mu          sync.Mutex
	opened      int
	closed      int
	navigations []string
	credentials []string
}

// Open implements navigator.Opener.
func (s *Site) Open(ctx context.Context, credential string) (navigator.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	s.credentials = append(s.credentials, credential)
	return &page{site: s}, nil
}

// Opened returns how many pages were opened.
func (s *Site) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Closed returns how many pages were closed.
func (s *Site) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Navigations lists navigations in order as "load:N" or "next:N".
func (s *Site) Navigations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigations...)
}

// Credentials lists the credentials pages were opened with.
func (s *Site) Credentials() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.credentials...)
}

func (s *Site) pageSize() int {
	if s.PageSize <= 0 {
		return 25
	}
	return s.PageSize
}

func (s *Site) cards(num int) []extractortest.Card {
	if s.Cards != nil {
		return s.Cards(num)
	}
	size := s.pageSize()
	from := (num - 1) * size
	n := min(size, s.Total-from)
	if n <= 0 {
		return nil
	}
	return extractortest.Range(from, n)
}

func (s *Site) navigate(ctx context.Context, kind string, num int) error {
	if hook := s.OnNavigate; hook != nil {
		hook(num)
	}
	if err := ctx.Err(); err != nil {
		return models.NewScrapeError(models.ErrCodeTimeout, "navigation canceled", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigations = append(s.navigations, fmt.Sprintf("%s:%d", kind, num))
	if s.AuthRejected {
		return models.NewScrapeError(models.ErrCodeAuthRejected, "redirected to login", nil)
	}
	if s.Failures[num] > 0 {
		s.Failures[num]--
		return models.NewScrapeError(models.ErrCodeNavigation, "connection reset", nil)
	}
	return nil
}

type page struct {
	site    *Site
	current int
	closed  bool
}

func (p *page) Load(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	num := 1
	if v := u.Query().Get("page"); v != "" {
		if num, err = strconv.Atoi(v); err != nil {
			return err
		}
	}
	if err := p.site.navigate(ctx, "load", num); err != nil {
		return err
	}
	p.current = num
	return nil
}

func (p *page) Next(ctx context.Context) error {
	num := p.current + 1
	if err := p.site.navigate(ctx, "next", num); err != nil {
		return err
	}
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	if p.site.Stalls[num] > 0 {
		p.site.Stalls[num]--
		return nil
	}
	p.current = num
	return nil
}

func (p *page) Render(ctx context.Context) error {
	return ctx.Err()
}

func (p *page) HTML() (string, error) {
	if p.site.Broken[p.current] {
		return "<html><body><p>Something went wrong.</p></body></html>", nil
	}
	return extractortest.Listing(p.site.Total, p.site.cards(p.current)), nil
}

func (p *page) Close() error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.site.closed++
	}
	return nil
}
