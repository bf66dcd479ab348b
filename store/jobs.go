package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/use-agent/leadscout/models"
)

const jobColumns = `id, user_id, query, status, total_results, scraped_count,
	error_code, error_message, created_at, started_at, completed_at`

// CreateJob inserts a pending job.
func (s *Store) CreateJob(ctx context.Context, userID, query string) (*models.ScrapeJob, error) {
	job := &models.ScrapeJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		Query:     query,
		Status:    models.JobPending,
		CreatedAt: fromNanos(nanos(s.now())),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_jobs (id, user_id, query, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.Query, job.Status, nanos(job.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("store: create job: %w", err)
	}
	return job, nil
}

// GetJob returns one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*models.ScrapeJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scrape_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// ListJobs returns the user's jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, userID string, limit int) ([]models.ScrapeJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM scrape_jobs
		WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// JobsWithStatus returns every job currently in status, oldest first.
func (s *Store) JobsWithStatus(ctx context.Context, status models.JobStatus) ([]models.ScrapeJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM scrape_jobs
		WHERE status = ? ORDER BY created_at, id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkRunning moves a job from pending to running.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scrape_jobs SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		models.JobRunning, nanos(s.now()), id, models.JobPending)
	if err != nil {
		return err
	}
	return s.expectTransition(ctx, res, id)
}

// SetTotal records the total result count of a running job.
func (s *Store) SetTotal(ctx context.Context, id string, total int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scrape_jobs SET total_results = ?
		WHERE id = ? AND status = ?`,
		total, id, models.JobRunning)
	if err != nil {
		return err
	}
	return s.expectTransition(ctx, res, id)
}

// FinishJob moves a running job to a terminal status. code and message are
// stored only for failures.
func (s *Store) FinishJob(ctx context.Context, id string, status models.JobStatus, code, message string) error {
	if !models.CanTransition(models.JobRunning, status) {
		return fmt.Errorf("%w: running → %s", ErrInvalidTransition, status)
	}
	var errCode, errMsg any
	if status == models.JobFailed {
		errCode, errMsg = code, message
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE scrape_jobs SET status = ?, error_code = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		status, errCode, errMsg, nanos(s.now()), id, models.JobRunning)
	if err != nil {
		return err
	}
	return s.expectTransition(ctx, res, id)
}

// expectTransition turns a zero-row guarded update into ErrNotFound or
// ErrInvalidTransition.
func (s *Store) expectTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*models.ScrapeJob, error) {
	var (
		job                  models.ScrapeJob
		total                sql.NullInt64
		errCode, errMsg      sql.NullString
		created              int64
		started, completedAt sql.NullInt64
	)
	err := row.Scan(&job.ID, &job.UserID, &job.Query, &job.Status, &total, &job.ScrapedCount,
		&errCode, &errMsg, &created, &started, &completedAt)
	if err != nil {
		return nil, err
	}
	if total.Valid {
		t := int(total.Int64)
		job.TotalResults = &t
	}
	job.ErrorCode = nullString(errCode)
	job.ErrorMessage = nullString(errMsg)
	job.CreatedAt = fromNanos(created)
	job.StartedAt = nullTime(started)
	job.CompletedAt = nullTime(completedAt)
	return &job, nil
}
