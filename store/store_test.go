package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/use-agent/leadscout/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	var mu sync.Mutex
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func testLeads(from, n int) []models.Lead {
	leads := make([]models.Lead, 0, n)
	for i := from; i < from+n; i++ {
		leads = append(leads, models.Lead{
			ProfileURL: fmt.Sprintf("https://www.linkedin.com/sales/lead/P%03d", i),
			Name:       fmt.Sprintf("Person %d", i),
			Company:    fmt.Sprintf("Company %d", i%3),
			Location:   "Berlin, Germany",
		})
	}
	return leads
}

func runningJob(t *testing.T, s *Store, user string) *models.ScrapeJob {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, user, "free", 2))
	job, err := s.CreateJob(ctx, user, "https://www.linkedin.com/sales/search/people?query=x")
	require.NoError(t, err)
	require.NoError(t, s.MarkRunning(ctx, job.ID))
	return job
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "alice", "free", 5))

	job, err := s.CreateJob(ctx, "alice", "https://www.linkedin.com/sales/search/people?query=a")
	require.NoError(t, err)
	require.Equal(t, models.JobPending, job.Status)

	// pending cannot finish directly
	err = s.FinishJob(ctx, job.ID, models.JobCompleted, "", "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.MarkRunning(ctx, job.ID))
	require.ErrorIs(t, s.MarkRunning(ctx, job.ID), ErrInvalidTransition)

	require.NoError(t, s.SetTotal(ctx, job.ID, 57))
	require.NoError(t, s.FinishJob(ctx, job.ID, models.JobFailed, models.ErrCodeAuthRejected, "login wall"))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, got.Status)
	require.NotNil(t, got.TotalResults)
	require.Equal(t, 57, *got.TotalResults)
	require.Equal(t, models.ErrCodeAuthRejected, *got.ErrorCode)
	require.Equal(t, "login wall", *got.ErrorMessage)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	// terminal is final
	err = s.FinishJob(ctx, job.ID, models.JobCompleted, "", "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.GetJob(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, s.MarkRunning(ctx, "missing"), ErrNotFound)
}

func TestJobsWithStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	running := runningJob(t, s, "alice")
	pending, err := s.CreateJob(ctx, "alice", "https://www.linkedin.com/sales/search/people?query=b")
	require.NoError(t, err)

	got, err := s.JobsWithStatus(ctx, models.JobRunning)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, running.ID, got[0].ID)

	got, err = s.JobsWithStatus(ctx, models.JobPending)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, pending.ID, got[0].ID)

	list, err := s.ListJobs(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, pending.ID, list[0].ID, "newest first")

	list, err = s.ListJobs(ctx, "bob", 0)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestSavePageDeduplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := runningJob(t, s, "alice")

	n, err := s.SavePage(ctx, job.ID, "alice", testLeads(0, 25))
	require.NoError(t, err)
	require.Equal(t, 25, n)

	// half overlap with the previous page
	n, err = s.SavePage(ctx, job.ID, "alice", testLeads(20, 10))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 30, got.ScrapedCount)

	total, err := s.CountLeads(ctx, models.LeadFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Equal(t, 30, total)

	// a second job for the same user adds nothing new
	again := runningJobFor(t, s, "alice")
	n, err = s.SavePage(ctx, again.ID, "alice", testLeads(0, 30))
	require.NoError(t, err)
	require.Zero(t, n)

	// the first capture keeps its job
	leads, err := s.ListLeads(ctx, models.LeadFilter{UserID: "alice", JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, leads, 30)
}

func TestSavePageConcurrentJobsCountEachLeadOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := runningJob(t, s, "alice")
	b := runningJobFor(t, s, "alice")

	// Both jobs walk the same 100 profiles page by page, offset so their
	// pages overlap while running concurrently.
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i, job := range []*models.ScrapeJob{a, b} {
		wg.Add(1)
		go func(jobID string, shift int) {
			defer wg.Done()
			for page := 0; page < 4; page++ {
				from := (page*25 + shift) % 100
				if _, err := s.SavePage(ctx, jobID, "alice", testLeads(from, 25)); err != nil {
					errs <- err
					return
				}
			}
		}(job.ID, i*10)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	gotA, err := s.GetJob(ctx, a.ID)
	require.NoError(t, err)
	gotB, err := s.GetJob(ctx, b.ID)
	require.NoError(t, err)
	total, err := s.CountLeads(ctx, models.LeadFilter{UserID: "alice"})
	require.NoError(t, err)

	require.Equal(t, 110, total)
	require.Equal(t, total, gotA.ScrapedCount+gotB.ScrapedCount)
}

func runningJobFor(t *testing.T, s *Store, user string) *models.ScrapeJob {
	t.Helper()
	ctx := context.Background()
	job, err := s.CreateJob(ctx, user, "https://www.linkedin.com/sales/search/people?query=again")
	require.NoError(t, err)
	require.NoError(t, s.MarkRunning(ctx, job.ID))
	return job
}

func TestSavePageIsolatesUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := runningJob(t, s, "alice")
	b := runningJob(t, s, "bob")

	n, err := s.SavePage(ctx, a.ID, "alice", testLeads(0, 3))
	require.NoError(t, err)
	require.Equal(t, 3, n)

	n, err = s.SavePage(ctx, b.ID, "bob", testLeads(0, 3))
	require.NoError(t, err)
	require.Equal(t, 3, n, "same profiles are new for another user")
}

func TestSavePageRequiresRunningJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := runningJob(t, s, "alice")
	require.NoError(t, s.FinishJob(ctx, job.ID, models.JobCompleted, "", ""))

	_, err := s.SavePage(ctx, job.ID, "alice", testLeads(0, 2))
	require.ErrorIs(t, err, ErrInvalidTransition)

	// rolled back
	n, err := s.CountLeads(ctx, models.LeadFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestListLeadsOrderAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job := runningJob(t, s, "alice")

	_, err := s.SavePage(ctx, job.ID, "alice", testLeads(0, 4))
	require.NoError(t, err)
	_, err = s.SavePage(ctx, job.ID, "alice", testLeads(4, 4))
	require.NoError(t, err)

	leads, err := s.ListLeads(ctx, models.LeadFilter{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, leads, 8)
	for i, l := range leads {
		require.Equal(t, fmt.Sprintf("https://www.linkedin.com/sales/lead/P%03d", i), l.ProfileURL)
	}

	page, err := s.ListLeads(ctx, models.LeadFilter{UserID: "alice", Limit: 3, Offset: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, leads[3].ID, page[0].ID)

	byCompany, err := s.ListLeads(ctx, models.LeadFilter{UserID: "alice", Company: "Company 1"})
	require.NoError(t, err)
	require.Len(t, byCompany, 3) // 1, 4, 7

	n, err := s.CountLeads(ctx, models.LeadFilter{UserID: "alice", Location: "berlin"})
	require.NoError(t, err)
	require.Equal(t, 8, n)

	none, err := s.ListLeads(ctx, models.LeadFilter{UserID: "bob"})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestCreateExportQuota(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "alice", "free", 2))

	newExport := func(id string) *models.Export {
		return &models.Export{ID: id, UserID: "alice", Format: "csv", RecordCount: 1, FilePath: id + ".csv"}
	}

	require.NoError(t, s.CreateExport(ctx, newExport("e1"), "2026-03", nil))
	require.NoError(t, s.CreateExport(ctx, newExport("e2"), "2026-03", nil))
	require.ErrorIs(t, s.CreateExport(ctx, newExport("e3"), "2026-03", nil), ErrQuotaExceeded)

	_, err := s.GetExport(ctx, "alice", "e3")
	require.ErrorIs(t, err, ErrNotFound)

	// a new month resets the counter
	require.NoError(t, s.CreateExport(ctx, newExport("e4"), "2026-04", nil))
	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 1, u.ExportsUsed)
	require.Equal(t, "2026-04", u.QuotaPeriod)

	list, err := s.ListExports(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "e4", list[0].ID)

	require.ErrorIs(t, s.CreateExport(ctx, &models.Export{ID: "x", UserID: "ghost"}, "2026-04", nil), ErrNotFound)
}

func TestCreateExportPublishFailureRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "alice", "pro", 0))

	boom := errors.New("rename failed")
	jobID := "job-1"
	err := s.CreateExport(ctx, &models.Export{ID: "e1", UserID: "alice", JobID: &jobID, Format: "json"}, "2026-03",
		func() error { return boom })
	require.ErrorIs(t, err, boom)

	_, err = s.GetExport(ctx, "alice", "e1")
	require.ErrorIs(t, err, ErrNotFound)
	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, u.ExportsUsed)
}

func TestExportOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "alice", "pro", 0))
	require.NoError(t, s.EnsureUser(ctx, "bob", "pro", 0))

	jobID := "job-1"
	require.NoError(t, s.CreateExport(ctx, &models.Export{ID: "e1", UserID: "alice", JobID: &jobID, Format: "xlsx", RecordCount: 4, FilePath: "/tmp/e1.xlsx"}, "2026-03", nil))

	got, err := s.GetExport(ctx, "alice", "e1")
	require.NoError(t, err)
	require.Equal(t, "xlsx", got.Format)
	require.Equal(t, 4, got.RecordCount)
	require.Equal(t, "job-1", *got.JobID)

	_, err = s.GetExport(ctx, "bob", "e1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSessionCiphertext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, "alice", "free", 5))

	_, err := s.SessionCiphertext(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetSessionCiphertext(ctx, "alice", []byte{1, 2, 3}))
	ct, err := s.SessionCiphertext(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, ct)

	require.NoError(t, s.SetSessionCiphertext(ctx, "alice", nil))
	_, err = s.SessionCiphertext(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.SetSessionCiphertext(ctx, "ghost", []byte{1}), ErrNotFound)

	// refreshing the tier keeps the session
	require.NoError(t, s.SetSessionCiphertext(ctx, "alice", []byte{9}))
	require.NoError(t, s.EnsureUser(ctx, "alice", "pro", 100))
	ct, err = s.SessionCiphertext(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []byte{9}, ct)
	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "pro", u.Tier)
	require.Equal(t, 100, u.ExportQuota)
}
