package db

import (
	"context"

	"github.com/tadamon-org/backend/internal/model"
)

func (db *Postgres) InsertLoginAttempt(ctx context.Context, attempt model.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (email, ip_address, user_agent, success, failure_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`
	_, err := db.Pool.Exec(ctx, query,
		attempt.Email,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Success,
		attempt.FailureReason,
	)
	return err
}

// InsertPasswordResetRequest records a reset request before any user lookup,
// so the per-email budget counts unknown addresses the same as known ones.
func (db *Postgres) InsertPasswordResetRequest(ctx context.Context, email string) error {
	query := `INSERT INTO password_reset_requests (email, created_at) VALUES (lower($1), NOW())`
	_, err := db.Pool.Exec(ctx, query, email)
	return err
}

// CountRecentResetRequests returns how many password-reset requests were made
// for an email within the lookback window, whether or not the account exists.
// Used by the reset flow's own per-email limiter (3 per hour).
func (db *Postgres) CountRecentResetRequests(ctx context.Context, email, window string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM password_reset_requests
		WHERE email = lower($1) AND created_at > NOW() - $2::interval
	`
	var count int
	err := db.Pool.QueryRow(ctx, query, email, window).Scan(&count)
	return count, err
}
