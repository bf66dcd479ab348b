package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/use-agent/leadscout/config"
	"github.com/use-agent/leadscout/extractor/extractortest"
	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/navigator"
	"github.com/use-agent/leadscout/navigator/navigatortest"
	"github.com/use-agent/leadscout/store"
	"github.com/use-agent/leadscout/webhook"
)

const testQuery = "https://www.linkedin.com/sales/search/people?query=cto"

type staticCreds map[string]string

func (c staticCreds) Credential(_ context.Context, userID string) (string, error) {
	cred, ok := c[userID]
	if !ok {
		return "", models.NewScrapeError(models.ErrCodeSessionMissing, "no session", nil)
	}
	return cred, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*webhook.Event
	urls   []string
}

func (n *recordingNotifier) DeliverAsync(url, _ string, ev *webhook.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
	n.events = append(n.events, ev)
}

type harness struct {
	m        *Manager
	st       *store.Store
	site     *navigatortest.Site
	notifier *recordingNotifier
}

func testConfig() *config.Config {
	return &config.Config{
		Target: config.TargetConfig{
			BaseURL:      "https://www.linkedin.com",
			AllowedHosts: []string{"www.linkedin.com"},
			PathPrefix:   "/sales/",
		},
		Navigator: config.NavigatorConfig{
			PageSize:               25,
			MaxRetries:             3,
			BackoffBase:            time.Millisecond,
			BackoffMax:             2 * time.Millisecond,
			MaxConsecutiveFailures: 3,
			MissingTotal:           config.MissingTotalFail,
		},
		Jobs: config.JobsConfig{MaxConcurrent: 2},
	}
}

func newHarness(t *testing.T, site *navigatortest.Site, mutate ...func(*config.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, f := range mutate {
		f(cfg)
	}

	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.EnsureUser(context.Background(), "alice", "pro", 0))
	require.NoError(t, st.EnsureUser(context.Background(), "bob", "pro", 0))

	nav := navigator.New(site, navigator.NewPacer(cfg.Navigator), cfg.Navigator)
	notifier := &recordingNotifier{}
	m := NewManager(st, nav, staticCreds{"alice": "alice-cookie", "bob": "bob-cookie"}, notifier, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return &harness{m: m, st: st, site: site, notifier: notifier}
}

func (h *harness) submitAndWait(t *testing.T, user string) *models.ScrapeJob {
	t.Helper()
	job := h.submit(t, user)
	return h.wait(t, user, job.ID)
}

func (h *harness) submit(t *testing.T, user string) *models.ScrapeJob {
	t.Helper()
	job, err := h.m.Submit(context.Background(), SubmitRequest{UserID: user, Query: testQuery, WebhookURL: "https://hooks.example.com/leads"})
	require.NoError(t, err)
	require.Equal(t, models.JobPending, job.Status)
	return job
}

func (h *harness) wait(t *testing.T, user, id string) *models.ScrapeJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.m.Wait(ctx, id))
	job, err := h.m.Status(ctx, user, id)
	require.NoError(t, err)
	return job
}

func (h *harness) leadCount(t *testing.T, f models.LeadFilter) int {
	t.Helper()
	n, err := h.st.CountLeads(context.Background(), f)
	require.NoError(t, err)
	return n
}

func TestJobScrapesEveryPage(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: 57})
	job := h.submitAndWait(t, "alice")

	require.Equal(t, models.JobCompleted, job.Status)
	require.NotNil(t, job.TotalResults)
	require.Equal(t, 57, *job.TotalResults)
	require.Equal(t, 57, job.ScrapedCount)
	require.Nil(t, job.ErrorCode)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	require.Equal(t, 57, h.leadCount(t, models.LeadFilter{UserID: "alice", JobID: job.ID}))
	require.Equal(t, []string{"load:1", "next:2", "next:3"}, h.site.Navigations())
	require.Equal(t, []string{"alice-cookie"}, h.site.Credentials())
	require.Equal(t, h.site.Opened(), h.site.Closed())

	leads, err := h.st.ListLeads(context.Background(), models.LeadFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, "https://www.linkedin.com/sales/lead/ACwAA000000", leads[0].ProfileURL)
	require.Equal(t, "https://www.linkedin.com/sales/lead/ACwAA000056", leads[56].ProfileURL)

	require.Len(t, h.notifier.events, 1)
	require.Equal(t, webhook.EventJobCompleted, h.notifier.events[0].Type)
	require.Equal(t, "https://hooks.example.com/leads", h.notifier.urls[0])
}

func TestJobAuthRejected(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: 57, AuthRejected: true})
	job := h.submitAndWait(t, "alice")

	require.Equal(t, models.JobFailed, job.Status)
	require.Equal(t, models.ErrCodeAuthRejected, *job.ErrorCode)
	require.Zero(t, job.ScrapedCount)
	require.Zero(t, h.leadCount(t, models.LeadFilter{UserID: "alice"}))
	require.Equal(t, 1, h.site.Closed())

	require.Len(t, h.notifier.events, 1)
	require.Equal(t, webhook.EventJobFailed, h.notifier.events[0].Type)
}

func TestJobRetriesTransientPage(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: 57, Failures: map[int]int{2: 1}})
	job := h.submitAndWait(t, "alice")

	require.Equal(t, models.JobCompleted, job.Status)
	require.Equal(t, 57, job.ScrapedCount)
	require.Equal(t, []string{"load:1", "next:2", "load:2", "next:3"}, h.site.Navigations())
}

func TestJobRecoversStalledPagination(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: 57, Stalls: map[int]int{2: 1}})
	job := h.submitAndWait(t, "alice")

	require.Equal(t, models.JobCompleted, job.Status)
	require.Equal(t, 57, job.ScrapedCount)
	require.Equal(t, []string{"load:1", "next:2", "load:2", "next:3"}, h.site.Navigations())
}

func TestJobMissingTotal(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: -1})
	job := h.submitAndWait(t, "alice")
	require.Equal(t, models.JobFailed, job.Status)
	require.Equal(t, models.ErrCodeParse, *job.ErrorCode)

	h = newHarness(t, &navigatortest.Site{Total: -1}, func(c *config.Config) {
		c.Navigator.MissingTotal = config.MissingTotalComplete
	})
	job = h.submitAndWait(t, "alice")
	require.Equal(t, models.JobCompleted, job.Status)
	require.Zero(t, job.ScrapedCount)
	require.Equal(t, 0, *job.TotalResults)
}

func TestJobCapsToTotal(t *testing.T) {
	site := &navigatortest.Site{
		Total: 30,
		Cards: func(page int) []extractortest.Card { return extractortest.Range((page-1)*25, 25) },
	}
	h := newHarness(t, site)
	job := h.submitAndWait(t, "alice")

	require.Equal(t, models.JobCompleted, job.Status)
	require.Equal(t, 30, job.ScrapedCount)
	require.Equal(t, 30, h.leadCount(t, models.LeadFilter{UserID: "alice"}))
}

func TestJobSkipsStructuralPage(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: 75, Broken: map[int]bool{2: true}})
	job := h.submitAndWait(t, "alice")

	require.Equal(t, models.JobCompleted, job.Status)
	require.Equal(t, 50, job.ScrapedCount)
}

func TestJobFailsOnConsecutiveStructuralPages(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: 125, Broken: map[int]bool{2: true, 3: true}}, func(c *config.Config) {
		c.Navigator.MaxConsecutiveFailures = 1
	})
	job := h.submitAndWait(t, "alice")

	require.Equal(t, models.JobFailed, job.Status)
	require.Equal(t, models.ErrCodeStructure, *job.ErrorCode)
	require.Equal(t, 25, job.ScrapedCount, "partial results are kept")
	require.Equal(t, 25, h.leadCount(t, models.LeadFilter{UserID: "alice"}))
	require.Equal(t, []string{"load:1", "next:2", "next:3"}, h.site.Navigations())
}

func TestJobFailsWhenNoCardIsUsable(t *testing.T) {
	site := &navigatortest.Site{
		Total: 75,
		Cards: func(page int) []extractortest.Card {
			cards := extractortest.Range((page-1)*25, 25)
			for i := range cards {
				cards[i].Name = ""
			}
			return cards
		},
	}
	h := newHarness(t, site)
	job := h.submitAndWait(t, "alice")

	require.Equal(t, models.JobFailed, job.Status)
	require.Equal(t, models.ErrCodeStructure, *job.ErrorCode)
	require.Zero(t, job.ScrapedCount)
	require.Equal(t, []string{"load:1", "next:2", "next:3"}, h.site.Navigations())
}

func TestJobRerunIsIdempotent(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: 57})
	first := h.submitAndWait(t, "alice")
	second := h.submitAndWait(t, "alice")

	require.Equal(t, models.JobCompleted, second.Status)
	require.Equal(t, 57, first.ScrapedCount)
	require.Zero(t, second.ScrapedCount)
	require.Equal(t, 57, h.leadCount(t, models.LeadFilter{UserID: "alice"}))
	require.Equal(t, 57, h.leadCount(t, models.LeadFilter{UserID: "alice", JobID: first.ID}))

	// another user owns their own copy
	third := h.submitAndWait(t, "bob")
	require.Equal(t, 57, third.ScrapedCount)
}

// pauseAt blocks the runner just before it navigates to page until release
// is closed, signalling reached once.
func pauseAt(site *navigatortest.Site, page int) (reached chan struct{}, release chan struct{}) {
	reached = make(chan struct{})
	release = make(chan struct{})
	var once sync.Once
	site.OnNavigate = func(p int) {
		if p != page {
			return
		}
		once.Do(func() {
			close(reached)
			<-release
		})
	}
	return reached, release
}

func TestCancelStopsAtPageBoundary(t *testing.T) {
	site := &navigatortest.Site{Total: 100}
	reached, release := pauseAt(site, 2)
	h := newHarness(t, site)

	job := h.submit(t, "alice")
	<-reached
	_, err := h.m.Cancel(context.Background(), "alice", job.ID)
	require.NoError(t, err)
	close(release)

	got := h.wait(t, "alice", job.ID)
	require.Equal(t, models.JobFailed, got.Status)
	require.Equal(t, models.ErrCodeCanceled, *got.ErrorCode)
	require.Equal(t, 25, got.ScrapedCount)
	require.Equal(t, []string{"load:1"}, site.Navigations())
	require.Equal(t, 1, site.Closed())

	_, err = h.m.Cancel(context.Background(), "alice", job.ID)
	require.Equal(t, models.ErrCodeJobTerminal, models.CodeOf(err))
}

func TestCancelPendingJob(t *testing.T) {
	site := &navigatortest.Site{Total: 50}
	reached, release := pauseAt(site, 2)
	h := newHarness(t, site, func(c *config.Config) { c.Jobs.MaxConcurrent = 1 })

	first := h.submit(t, "alice")
	<-reached
	queued := h.submit(t, "alice")

	_, err := h.m.Cancel(context.Background(), "alice", queued.ID)
	require.NoError(t, err)
	got := h.wait(t, "alice", queued.ID)
	require.Equal(t, models.JobFailed, got.Status)
	require.Equal(t, models.ErrCodeCanceled, *got.ErrorCode)
	require.NotNil(t, got.StartedAt)

	close(release)
	done := h.wait(t, "alice", first.ID)
	require.Equal(t, models.JobCompleted, done.Status)
	require.Equal(t, 1, site.Opened(), "the canceled job never opened a browser context")
}

func TestCancelOwnership(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: 10})
	job := h.submitAndWait(t, "alice")

	_, err := h.m.Cancel(context.Background(), "bob", job.ID)
	require.Equal(t, models.ErrCodeNotFound, models.CodeOf(err))
	_, err = h.m.Status(context.Background(), "bob", job.ID)
	require.Equal(t, models.ErrCodeNotFound, models.CodeOf(err))
	_, err = h.m.Cancel(context.Background(), "alice", "missing")
	require.Equal(t, models.ErrCodeNotFound, models.CodeOf(err))
}

func TestSubmitRejectsBadRequests(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: 10})
	ctx := context.Background()

	bad := []string{
		"not a url",
		"http://www.linkedin.com/sales/search/people",
		"https://evil.example.com/sales/search/people",
		"https://www.linkedin.com/search/results/people",
	}
	for _, q := range bad {
		_, err := h.m.Submit(ctx, SubmitRequest{UserID: "alice", Query: q})
		require.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err), q)
	}

	_, err := h.m.Submit(ctx, SubmitRequest{UserID: "alice", Query: testQuery, WebhookURL: "ftp://x"})
	require.Equal(t, models.ErrCodeInvalidInput, models.CodeOf(err))

	_, err = h.m.Submit(ctx, SubmitRequest{UserID: "carol", Query: testQuery})
	require.Equal(t, models.ErrCodeSessionMissing, models.CodeOf(err))

	jobs, err := h.m.List(ctx, "alice", 0)
	require.NoError(t, err)
	require.Empty(t, jobs, "rejected requests create no job")
	require.Zero(t, h.site.Opened())
}

func TestRecover(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: 30})
	ctx := context.Background()

	stale, err := h.st.CreateJob(ctx, "alice", testQuery)
	require.NoError(t, err)
	require.NoError(t, h.st.MarkRunning(ctx, stale.ID))
	queued, err := h.st.CreateJob(ctx, "alice", testQuery)
	require.NoError(t, err)

	require.NoError(t, h.m.Recover(ctx))

	got, err := h.st.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, got.Status)
	require.Equal(t, models.ErrCodeInterrupted, *got.ErrorCode)

	done := h.wait(t, "alice", queued.ID)
	require.Equal(t, models.JobCompleted, done.Status)
	require.Equal(t, 30, done.ScrapedCount)
}

func TestShutdownInterruptsRunningJobs(t *testing.T) {
	site := &navigatortest.Site{Total: 100}
	h := newHarness(t, site)

	shutdownErr := make(chan error, 1)
	var once sync.Once
	site.OnNavigate = func(p int) {
		if p != 2 {
			return
		}
		once.Do(func() {
			go func() { shutdownErr <- h.m.Shutdown(context.Background()) }()
			<-h.m.baseCtx.Done()
		})
	}

	job := h.submit(t, "alice")
	require.NoError(t, <-shutdownErr)

	got, err := h.st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, got.Status)
	require.Equal(t, models.ErrCodeInterrupted, *got.ErrorCode)
	require.Equal(t, 25, got.ScrapedCount)

	_, err = h.m.Submit(context.Background(), SubmitRequest{UserID: "alice", Query: testQuery})
	require.Error(t, err)
}

func TestStartAfterShutdownLeavesJobPending(t *testing.T) {
	h := newHarness(t, &navigatortest.Site{Total: 25})
	ctx := context.Background()

	// A Submit that passed its early closed check before Shutdown ran.
	job, err := h.st.CreateJob(ctx, "alice", testQuery)
	require.NoError(t, err)
	require.NoError(t, h.m.Shutdown(ctx))

	require.False(t, h.m.start(*job, hookTarget{}))
	require.NoError(t, h.m.Wait(ctx, job.ID))

	got, err := h.st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobPending, got.Status)
	require.Empty(t, h.site.Navigations())

	require.ErrorIs(t, h.m.Recover(ctx), models.ErrShutdown)
}

func TestOutcomePrecedence(t *testing.T) {
	authErr := models.NewScrapeError(models.ErrCodeAuthRejected, "login", nil)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(models.ErrJobCanceled)
	status, code, _ := outcome(ctx, authErr)
	require.Equal(t, models.JobFailed, status)
	require.Equal(t, models.ErrCodeCanceled, code)

	ctx, cancel = context.WithCancelCause(context.Background())
	cancel(models.ErrShutdown)
	_, code, _ = outcome(ctx, authErr)
	require.Equal(t, models.ErrCodeInterrupted, code)

	_, code, _ = outcome(context.Background(), authErr)
	require.Equal(t, models.ErrCodeAuthRejected, code)

	_, code, _ = outcome(context.Background(), context.DeadlineExceeded)
	require.Equal(t, models.ErrCodeInternal, code)

	status, code, _ = outcome(context.Background(), nil)
	require.Equal(t, models.JobCompleted, status)
	require.Empty(t, code)
}
