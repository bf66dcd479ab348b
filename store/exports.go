package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/use-agent/leadscout/models"
)

const exportColumns = `id, user_id, job_id, format, record_count, file_path, created_at`

// CreateExport charges one export against the user's quota for period
// (YYYY-MM) and records e, in a single transaction. The counter resets when
// period differs from the stored one. A zero quota is unlimited.
//
// publish runs after both writes but before commit; when it fails the
// transaction is rolled back and neither the charge nor the row survive.
func (s *Store) CreateExport(ctx context.Context, e *models.Export, period string, publish func() error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users SET
			exports_used = CASE WHEN quota_period = ? THEN exports_used + 1 ELSE 1 END,
			quota_period = ?
		WHERE id = ? AND (export_quota = 0 OR quota_period <> ? OR exports_used < export_quota)`,
		period, period, e.UserID, period)
	if err != nil {
		return fmt.Errorf("store: charge export quota: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, e.UserID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrQuotaExceeded
	}

	if e.CreatedAt.IsZero() {
		e.CreatedAt = fromNanos(nanos(s.now()))
	}
	var jobID any
	if e.JobID != nil {
		jobID = *e.JobID
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO exports (`+exportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, jobID, e.Format, e.RecordCount, e.FilePath, nanos(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert export: %w", err)
	}

	if publish != nil {
		if err := publish(); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetExport returns the export if it belongs to userID.
func (s *Store) GetExport(ctx context.Context, userID, id string) (*models.Export, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+exportColumns+` FROM exports WHERE id = ? AND user_id = ?`, id, userID)
	e, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ListExports returns the user's exports, newest first.
func (s *Store) ListExports(ctx context.Context, userID string) ([]models.Export, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+exportColumns+` FROM exports
		WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exports := []models.Export{}
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		exports = append(exports, *e)
	}
	return exports, rows.Err()
}

func scanExport(row scanner) (*models.Export, error) {
	var (
		e       models.Export
		jobID   sql.NullString
		created int64
	)
	if err := row.Scan(&e.ID, &e.UserID, &jobID, &e.Format, &e.RecordCount, &e.FilePath, &created); err != nil {
		return nil, err
	}
	e.JobID = nullString(jobID)
	e.CreatedAt = fromNanos(created)
	return &e, nil
}
