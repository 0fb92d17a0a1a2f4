package db

import (
	"context"
	"time"
)

func (db *Postgres) InsertPasswordResetToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	query := `
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, NOW())
	`
	_, err := db.Pool.Exec(ctx, query, userID, tokenHash, expiresAt)
	return err
}

// ConsumeResetToken marks an unused, unexpired token as used and returns the
// owning user id. pgx.ErrNoRows means the token is unknown, expired, or
// already consumed; the three cases are deliberately indistinguishable.
func (db *Postgres) ConsumeResetToken(ctx context.Context, tokenHash string) (int64, error) {
	query := `
		UPDATE password_reset_tokens
		SET used_at = NOW()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`
	var userID int64
	err := db.Pool.QueryRow(ctx, query, tokenHash).Scan(&userID)
	if err != nil {
		return 0, err
	}
	return userID, nil
}
