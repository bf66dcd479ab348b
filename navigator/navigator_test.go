package navigator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/use-agent/leadscout/config"
	"github.com/use-agent/leadscout/extractor"
	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/navigator"
	"github.com/use-agent/leadscout/navigator/navigatortest"
)

func testConfig() config.NavigatorConfig {
	return config.NavigatorConfig{
		PageSize:     25,
		MaxRetries:   3,
		BackoffBase:  time.Millisecond,
		BackoffMax:   4 * time.Millisecond,
		MissingTotal: config.MissingTotalFail,
	}
}

type recorder struct {
	total int
	pages []int
	leads int
}

func (r *recorder) visitor() navigator.Visitor {
	return navigator.Visitor{
		OnTotal: func(_ context.Context, total int) error {
			r.total = total
			return nil
		},
		OnPage: func(_ context.Context, num int, html string) error {
			p, err := extractor.ExtractPage(html, "https://www.linkedin.com")
			if err != nil {
				return err
			}
			r.pages = append(r.pages, num)
			r.leads += len(p.Leads)
			return nil
		},
	}
}

func walk(t *testing.T, site *navigatortest.Site, cfg config.NavigatorConfig, v navigator.Visitor) error {
	t.Helper()
	nav := navigator.New(site, navigator.NewPacer(cfg), cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return nav.Walk(ctx, navigator.WalkRequest{
		UserID:     "alice",
		Query:      "https://www.linkedin.com/sales/search/people?query=cto",
		Credential: "cookie",
	}, v)
}

func TestWalkVisitsEveryPage(t *testing.T) {
	site := &navigatortest.Site{Total: 57}
	var r recorder
	require.NoError(t, walk(t, site, testConfig(), r.visitor()))

	require.Equal(t, 57, r.total)
	require.Equal(t, []int{1, 2, 3}, r.pages)
	require.Equal(t, 57, r.leads)
	require.Equal(t, []string{"load:1", "next:2", "next:3"}, site.Navigations())
	require.Equal(t, []string{"cookie"}, site.Credentials())
	require.Equal(t, 1, site.Opened())
	require.Equal(t, 1, site.Closed())
}

func TestWalkAuthRejected(t *testing.T) {
	site := &navigatortest.Site{Total: 57, AuthRejected: true}
	var r recorder
	err := walk(t, site, testConfig(), r.visitor())

	require.Equal(t, models.ErrCodeAuthRejected, models.CodeOf(err))
	require.Empty(t, r.pages)
	require.Len(t, site.Navigations(), 1, "auth failures are not retried")
	require.Equal(t, 1, site.Closed())
}

func TestWalkRetriesTransientFailure(t *testing.T) {
	site := &navigatortest.Site{Total: 57, Failures: map[int]int{2: 2}}
	var r recorder
	require.NoError(t, walk(t, site, testConfig(), r.visitor()))

	require.Equal(t, []int{1, 2, 3}, r.pages)
	require.Equal(t, 57, r.leads)
	require.Equal(t, []string{"load:1", "next:2", "load:2", "load:2", "next:3"}, site.Navigations())
}

func TestWalkGivesUpAfterRetries(t *testing.T) {
	site := &navigatortest.Site{Total: 57, Failures: map[int]int{2: 10}}
	var r recorder
	err := walk(t, site, testConfig(), r.visitor())

	require.Equal(t, models.ErrCodeNavigation, models.CodeOf(err))
	require.Equal(t, []int{1}, r.pages)
	require.Len(t, site.Navigations(), 1+4)
	require.Equal(t, 1, site.Closed())
}

func TestWalkMissingTotal(t *testing.T) {
	site := &navigatortest.Site{Total: -1}
	var r recorder
	err := walk(t, site, testConfig(), r.visitor())
	require.Equal(t, models.ErrCodeParse, models.CodeOf(err))

	cfg := testConfig()
	cfg.MissingTotal = config.MissingTotalComplete
	r = recorder{total: -1}
	require.NoError(t, walk(t, site, cfg, r.visitor()))
	require.Zero(t, r.total)
	require.Empty(t, r.pages)
}

func TestWalkZeroResults(t *testing.T) {
	site := &navigatortest.Site{Total: 0}
	var r recorder
	require.NoError(t, walk(t, site, testConfig(), r.visitor()))
	require.Empty(t, r.pages)
	require.Equal(t, []string{"load:1"}, site.Navigations())
}

func TestWalkRetriesRetryableVisitorError(t *testing.T) {
	site := &navigatortest.Site{Total: 50}
	calls := 0
	v := navigator.Visitor{
		OnPage: func(_ context.Context, num int, _ string) error {
			if num == 2 {
				calls++
				if calls == 1 {
					return models.NewScrapeError(models.ErrCodePaginationStalled, "same listing", nil)
				}
			}
			return nil
		},
	}
	require.NoError(t, walk(t, site, testConfig(), v))
	require.Equal(t, 2, calls)
	require.Equal(t, []string{"load:1", "next:2", "load:2"}, site.Navigations())
}

func TestWalkStop(t *testing.T) {
	site := &navigatortest.Site{Total: 100}
	var seen []int
	v := navigator.Visitor{
		OnPage: func(_ context.Context, num int, _ string) error {
			seen = append(seen, num)
			if num == 2 {
				return navigator.ErrStop
			}
			return nil
		},
	}
	require.NoError(t, walk(t, site, testConfig(), v))
	require.Equal(t, []int{1, 2}, seen)
}

func TestWalkCanceled(t *testing.T) {
	site := &navigatortest.Site{Total: 100}
	cfg := testConfig()
	nav := navigator.New(site, navigator.NewPacer(cfg), cfg)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	v := navigator.Visitor{
		OnPage: func(_ context.Context, num int, _ string) error {
			if num == 2 {
				cancel(models.ErrJobCanceled)
			}
			return nil
		},
	}
	err := nav.Walk(ctx, navigator.WalkRequest{UserID: "alice", Query: "https://www.linkedin.com/sales/search/people"}, v)
	require.Error(t, err)
	require.True(t, errors.Is(context.Cause(ctx), models.ErrJobCanceled))
	require.Equal(t, []string{"load:1", "next:2"}, site.Navigations())
	require.Equal(t, 1, site.Closed())
}

func TestPageURL(t *testing.T) {
	got, err := navigator.PageURL("https://www.linkedin.com/sales/search/people?query=cto&page=1", 3)
	require.NoError(t, err)
	require.Equal(t, "https://www.linkedin.com/sales/search/people?page=3&query=cto", got)

	got, err = navigator.PageURL("https://www.linkedin.com/sales/search/people?query=cto", 1)
	require.NoError(t, err)
	require.Equal(t, "https://www.linkedin.com/sales/search/people?query=cto", got)
}
