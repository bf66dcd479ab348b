package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/use-agent/leadscout/models"
)

// EnsureUser creates the user or refreshes its tier and quota.
// Usage counters and the stored session are left untouched.
func (s *Store) EnsureUser(ctx context.Context, id, tier string, quota int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, tier, export_quota, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET tier = excluded.tier, export_quota = excluded.export_quota`,
		id, tier, quota, nanos(s.now()))
	return err
}

// GetUser returns the user row.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var (
		u       models.User
		created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tier, export_quota, exports_used, quota_period, created_at
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Tier, &u.ExportQuota, &u.ExportsUsed, &u.QuotaPeriod, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromNanos(created)
	return &u, nil
}

// SetSessionCiphertext stores (or, with nil, clears) the user's encrypted
// session credential.
func (s *Store) SetSessionCiphertext(ctx context.Context, userID string, ciphertext []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET session_ciphertext = ? WHERE id = ?`, ciphertext, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SessionCiphertext returns the user's encrypted session credential, or
// ErrNotFound when none is stored.
func (s *Store) SessionCiphertext(ctx context.Context, userID string) ([]byte, error) {
	var ct []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT session_ciphertext FROM users WHERE id = ?`, userID).Scan(&ct)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(ct) == 0) {
		return nil, ErrNotFound
	}
	return ct, err
}
