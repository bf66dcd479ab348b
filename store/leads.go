package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/use-agent/leadscout/models"
)

const leadColumns = `id, user_id, job_id, profile_url, name, headline, title, company,
	company_id, location, image_url, email, phone, connection_degree, captured_at`

// SavePage persists one page of candidate leads for a running job and
// advances its progress in the same transaction.
//
// Each lead is upserted-if-absent on (user_id, profile_url): a profile the
// user already owns is left unchanged and does not count. The returned
// count is the number of rows actually inserted, which is also the amount
// scraped_count grows by. Leads are captured in slice order.
func (s *Store) SavePage(ctx context.Context, jobID, userID string, leads []models.Lead) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, profile_url) DO NOTHING`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	base := nanos(s.now())
	inserted := 0
	for i, l := range leads {
		res, err := stmt.ExecContext(ctx,
			uuid.NewString(), userID, jobID, l.ProfileURL, l.Name, l.Headline, l.Title, l.Company,
			l.CompanyID, l.Location, l.ImageURL, l.Email, l.Phone, l.ConnectionDegree,
			base+int64(i))
		if err != nil {
			return 0, fmt.Errorf("store: insert lead %q: %w", l.ProfileURL, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE scrape_jobs SET scraped_count = scraped_count + ?
		WHERE id = ? AND user_id = ? AND status = ?`,
		inserted, jobID, userID, models.JobRunning)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("%w: job %s is not running", ErrInvalidTransition, jobID)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ListLeads returns one page of the user's leads in capture order.
func (s *Store) ListLeads(ctx context.Context, f models.LeadFilter) ([]models.Lead, error) {
	where, args := leadWhere(f)
	q := `SELECT ` + leadColumns + ` FROM leads` + where + ` ORDER BY captured_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	return s.queryLeads(ctx, q, args...)
}

// CountLeads returns how many leads match the filter, ignoring paging.
func (s *Store) CountLeads(ctx context.Context, f models.LeadFilter) (int, error) {
	where, args := leadWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`+where, args...).Scan(&n)
	return n, err
}

func leadWhere(f models.LeadFilter) (string, []any) {
	var (
		conds = []string{"user_id = ?"}
		args  = []any{f.UserID}
	)
	if f.JobID != "" {
		conds = append(conds, "job_id = ?")
		args = append(args, f.JobID)
	}
	if f.Company != "" {
		conds = append(conds, "company LIKE ?")
		args = append(args, "%"+f.Company+"%")
	}
	if f.Location != "" {
		conds = append(conds, "location LIKE ?")
		args = append(args, "%"+f.Location+"%")
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) queryLeads(ctx context.Context, q string, args ...any) ([]models.Lead, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []models.Lead{}
	for rows.Next() {
		var (
			l        models.Lead
			captured int64
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.JobID, &l.ProfileURL, &l.Name, &l.Headline,
			&l.Title, &l.Company, &l.CompanyID, &l.Location, &l.ImageURL, &l.Email, &l.Phone,
			&l.ConnectionDegree, &captured); err != nil {
			return nil, err
		}
		l.CapturedAt = fromNanos(captured)
		leads = append(leads, l)
	}
	return leads, rows.Err()
}
