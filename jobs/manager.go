// Package jobs runs scrape jobs: admission, the page pipeline, cancellation
// and terminal-state bookkeeping.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/leadscout/config"
	"github.com/use-agent/leadscout/models"
	"github.com/use-agent/leadscout/navigator"
	"github.com/use-agent/leadscout/store"
	"github.com/use-agent/leadscout/webhook"
)

// Credentials resolves a user's session credential.
type Credentials interface {
	Credential(ctx context.Context, userID string) (string, error)
}

// Notifier delivers terminal job events.
type Notifier interface {
	DeliverAsync(url, secret string, event *webhook.Event)
}

// SubmitRequest asks for a new scrape job.
type SubmitRequest struct {
	UserID        string
	Query         string
	WebhookURL    string
	WebhookSecret string
}

type hookTarget struct {
	url    string
	secret string
}

type handle struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Manager owns every job started by this process.
type Manager struct {
	store    *store.Store
	nav      *navigator.Navigator
	creds    Credentials
	notifier Notifier
	target   config.TargetConfig

	maxConsecutive int
	sem            chan struct{}

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	mu      sync.Mutex
	closed  bool
	running map[string]*handle
	wg      sync.WaitGroup
}

// NewManager creates a Manager. notifier may be nil.
func NewManager(st *store.Store, nav *navigator.Navigator, creds Credentials, notifier Notifier, cfg *config.Config) *Manager {
	maxConcurrent := cfg.Jobs.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	return &Manager{
		store:          st,
		nav:            nav,
		creds:          creds,
		notifier:       notifier,
		target:         cfg.Target,
		maxConsecutive: cfg.Navigator.MaxConsecutiveFailures,
		sem:            make(chan struct{}, maxConcurrent),
		baseCtx:        baseCtx,
		baseCancel:     baseCancel,
		running:        make(map[string]*handle),
	}
}

// Submit validates the request, records a pending job and schedules it.
// Invalid queries and users without a stored session are rejected before
// any job exists.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*models.ScrapeJob, error) {
	if err := ValidateQuery(req.Query, m.target); err != nil {
		return nil, err
	}
	if req.WebhookURL != "" {
		u, err := url.Parse(req.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "webhook_url must be an absolute http(s) URL", err)
		}
	}
	if _, err := m.creds.Credential(ctx, req.UserID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, models.NewScrapeError(models.ErrCodeInternal, "service is shutting down", models.ErrShutdown)
	}

	job, err := m.store.CreateJob(ctx, req.UserID, req.Query)
	if err != nil {
		return nil, err
	}
	if !m.start(*job, hookTarget{url: req.WebhookURL, secret: req.WebhookSecret}) {
		// Shutdown won the race; the row stays pending for the next Recover.
		slog.Warn("job left pending by shutdown", "job_id", job.ID, "user_id", job.UserID)
		return nil, models.NewScrapeError(models.ErrCodeInternal, "service is shutting down", models.ErrShutdown)
	}
	slog.Info("job submitted", "job_id", job.ID, "user_id", job.UserID)
	return job, nil
}

// Status returns the job if userID owns it.
func (m *Manager) Status(ctx context.Context, userID, id string) (*models.ScrapeJob, error) {
	job, err := m.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && job.UserID != userID) {
		return nil, models.NewScrapeError(models.ErrCodeNotFound, "job not found", nil)
	}
	return job, err
}

// List returns the user's most recent jobs.
func (m *Manager) List(ctx context.Context, userID string, limit int) ([]models.ScrapeJob, error) {
	return m.store.ListJobs(ctx, userID, limit)
}

// Cancel asks a pending or running job to stop. The job observes the
// request at its next suspension point and fails with CANCELED.
func (m *Manager) Cancel(ctx context.Context, userID, id string) (*models.ScrapeJob, error) {
	job, err := m.Status(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, models.NewScrapeError(models.ErrCodeJobTerminal,
			fmt.Sprintf("job is already %s", job.Status), nil)
	}

	m.mu.Lock()
	h := m.running[id]
	m.mu.Unlock()
	if h == nil {
		// Finished between the read and now.
		if job, err = m.Status(ctx, userID, id); err == nil && job.Status.Terminal() {
			return nil, models.NewScrapeError(models.ErrCodeJobTerminal,
				fmt.Sprintf("job is already %s", job.Status), nil)
		}
		return nil, models.NewScrapeError(models.ErrCodeInternal, "job is not owned by this process", err)
	}
	h.cancel(models.ErrJobCanceled)
	slog.Info("job cancel requested", "job_id", id, "user_id", userID)
	return job, nil
}

// Wait blocks until the job has reached a terminal state or ctx is done.
// Jobs not run by this process return immediately.
func (m *Manager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	h := m.running[id]
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recover reconciles jobs left behind by a previous process: running jobs
// fail with INTERRUPTED, pending jobs are scheduled again.
func (m *Manager) Recover(ctx context.Context) error {
	running, err := m.store.JobsWithStatus(ctx, models.JobRunning)
	if err != nil {
		return fmt.Errorf("jobs: list running: %w", err)
	}
	for _, job := range running {
		err := m.store.FinishJob(ctx, job.ID, models.JobFailed, models.ErrCodeInterrupted,
			"interrupted by a service restart; partial results were kept")
		if err != nil {
			return fmt.Errorf("jobs: fail interrupted job %s: %w", job.ID, err)
		}
		slog.Warn("interrupted job failed", "job_id", job.ID, "scraped_count", job.ScrapedCount)
	}

	pending, err := m.store.JobsWithStatus(ctx, models.JobPending)
	if err != nil {
		return fmt.Errorf("jobs: list pending: %w", err)
	}
	for _, job := range pending {
		if !m.start(job, hookTarget{}) {
			return fmt.Errorf("jobs: reschedule %s: %w", job.ID, models.ErrShutdown)
		}
		slog.Info("rescheduled pending job", "job_id", job.ID)
	}
	return nil
}

// Shutdown cancels every job with ErrShutdown and waits for them to record
// their terminal state, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	n := len(m.running)
	m.mu.Unlock()

	slog.Info("stopping jobs", "running", n)
	m.baseCancel(models.ErrShutdown)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start launches the job's goroutine. It reports false once Shutdown has
// begun; the closed check and wg.Add share the lock so Shutdown never
// waits on a group that is still growing.
func (m *Manager) start(job models.ScrapeJob, hook hookTarget) bool {
	ctx, cancel := context.WithCancelCause(m.baseCtx)
	h := &handle{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel(models.ErrShutdown)
		return false
	}
	m.running[job.ID] = h
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer close(h.done)
		defer func() {
			m.mu.Lock()
			delete(m.running, job.ID)
			m.mu.Unlock()
		}()
		defer cancel(nil)

		m.run(ctx, job, hook)
	}()
	return true
}

// run drives one job from pending to a terminal state.
func (m *Manager) run(ctx context.Context, job models.ScrapeJob, hook hookTarget) {
	// Bookkeeping must land even when the job itself was canceled.
	bg := context.WithoutCancel(ctx)

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
	}

	if err := m.store.MarkRunning(bg, job.ID); err != nil {
		slog.Error("job could not start", "job_id", job.ID, "error", err)
		return
	}
	started := time.Now()
	slog.Info("job started", "job_id", job.ID, "user_id", job.UserID)

	var runErr error
	if ctx.Err() == nil {
		runErr = m.execute(ctx, job)
	}

	status, code, msg := outcome(ctx, runErr)
	if err := m.store.FinishJob(bg, job.ID, status, code, msg); err != nil {
		slog.Error("recording job outcome failed", "job_id", job.ID, "error", err)
		return
	}

	final, err := m.store.GetJob(bg, job.ID)
	if err != nil {
		slog.Error("reading finished job failed", "job_id", job.ID, "error", err)
		return
	}
	attrs := []any{
		"job_id", job.ID,
		"user_id", job.UserID,
		"status", status,
		"scraped_count", final.ScrapedCount,
		"duration", time.Since(started).Round(time.Millisecond),
	}
	if status == models.JobFailed {
		slog.Warn("job failed", append(attrs, "code", code, "error", msg)...)
	} else {
		slog.Info("job completed", attrs...)
	}
	m.notify(hook, final)
}

// outcome decides the terminal state. Cancellation beats shutdown, which
// beats the error's own code.
func outcome(ctx context.Context, runErr error) (models.JobStatus, string, string) {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		switch {
		case errors.Is(cause, models.ErrJobCanceled):
			return models.JobFailed, models.ErrCodeCanceled, "canceled by user"
		case errors.Is(cause, models.ErrShutdown):
			return models.JobFailed, models.ErrCodeInterrupted, "interrupted by service shutdown"
		}
	}
	if runErr == nil {
		return models.JobCompleted, "", ""
	}
	var se *models.ScrapeError
	if errors.As(runErr, &se) {
		return models.JobFailed, se.Code, se.Error()
	}
	return models.JobFailed, models.ErrCodeInternal, runErr.Error()
}

func (m *Manager) notify(hook hookTarget, job *models.ScrapeJob) {
	if hook.url == "" || m.notifier == nil {
		return
	}
	ev := &webhook.Event{
		Type:      webhook.EventJobCompleted,
		JobID:     job.ID,
		Timestamp: time.Now().Unix(),
		Data:      models.NewJobStatusResponse(job),
	}
	if job.Status == models.JobFailed {
		ev.Type = webhook.EventJobFailed
	}
	m.notifier.DeliverAsync(hook.url, hook.secret, ev)
}

// ValidateQuery checks that query is an https search URL on an allowed host
// under the configured path prefix.
func ValidateQuery(query string, target config.TargetConfig) error {
	u, err := url.Parse(strings.TrimSpace(query))
	if err != nil || !u.IsAbs() {
		return models.NewScrapeError(models.ErrCodeInvalidInput, "query must be an absolute URL", err)
	}
	if u.Scheme != "https" {
		return models.NewScrapeError(models.ErrCodeInvalidInput, "query must use https", nil)
	}
	host := strings.ToLower(u.Hostname())
	allowed := len(target.AllowedHosts) == 0
	for _, h := range target.AllowedHosts {
		if strings.EqualFold(h, host) {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.NewScrapeError(models.ErrCodeInvalidInput,
			fmt.Sprintf("host %q is not an allowed search host", host), nil)
	}
	if target.PathPrefix != "" && !strings.HasPrefix(u.Path, target.PathPrefix) {
		return models.NewScrapeError(models.ErrCodeInvalidInput,
			fmt.Sprintf("query path must start with %s", target.PathPrefix), nil)
	}
	return nil
}
