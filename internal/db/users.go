package db

import (
	"context"
	"time"

	"github.com/tadamon-org/backend/internal/model"
)

func (db *Postgres) EnsureAuthSchema(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'volunteer',
			language TEXT NOT NULL DEFAULT 'fr',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			failed_login_attempts INT NOT NULL DEFAULT 0,
			lock_until TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`
		CREATE TABLE IF NOT EXISTS login_attempts (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			success BOOLEAN NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS login_attempts_email_idx ON login_attempts(email, created_at)`,
		`
		CREATE TABLE IF NOT EXISTS password_reset_tokens (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			token_hash TEXT NOT NULL UNIQUE,
			expires_at TIMESTAMPTZ NOT NULL,
			used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS password_reset_tokens_user_id_idx ON password_reset_tokens(user_id)`,
		`
		CREATE TABLE IF NOT EXISTS password_reset_requests (
			id BIGSERIAL PRIMARY KEY,
			email TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
		`,
		`CREATE INDEX IF NOT EXISTS password_reset_requests_email_idx ON password_reset_requests(email, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (db *Postgres) CreateUser(ctx context.Context, email, passwordHash string, role model.Role, language model.Language) (*model.User, error) {
	query := `
		INSERT INTO users (email, password_hash, role, language, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, email, password_hash, role, language, first_name, last_name,
		          failed_login_attempts, lock_until, created_at, updated_at
	`
	return db.scanUser(db.Pool.QueryRow(ctx, query, email, passwordHash, string(role), string(language)))
}

func (db *Postgres) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `
		SELECT id, email, password_hash, role, language, first_name, last_name,
		       failed_login_attempts, lock_until, created_at, updated_at
		FROM users
		WHERE lower(email) = lower($1)
	`
	return db.scanUser(db.Pool.QueryRow(ctx, query, email))
}

func (db *Postgres) GetUserByID(ctx context.Context, userID int64) (*model.User, error) {
	query := `
		SELECT id, email, password_hash, role, language, first_name, last_name,
		       failed_login_attempts, lock_until, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	return db.scanUser(db.Pool.QueryRow(ctx, query, userID))
}

// RecordFailedLogin increments the failed-attempt counter and, when the
// incremented count reaches maxAttempts, sets the lock in the same statement.
// The single atomic UPDATE closes the window where two concurrent failures
// could both observe a pre-lock count. Returns the new count and lock time.
func (db *Postgres) RecordFailedLogin(ctx context.Context, userID int64, maxAttempts int, lockFor time.Duration) (int, *time.Time, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    lock_until = CASE
		        WHEN failed_login_attempts + 1 >= $2 THEN NOW() + make_interval(secs => $3)
		        ELSE lock_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, lock_until
	`
	var count int
	var lockUntil *time.Time
	err := db.Pool.QueryRow(ctx, query, userID, maxAttempts, lockFor.Seconds()).Scan(&count, &lockUntil)
	if err != nil {
		return 0, nil, err
	}
	return count, lockUntil, nil
}

// ResetLoginState clears the failed-attempt counter and any lock after a
// successful password match.
func (db *Postgres) ResetLoginState(ctx context.Context, userID int64) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, lock_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := db.Pool.Exec(ctx, query, userID)
	return err
}

func (db *Postgres) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, failed_login_attempts = 0, lock_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := db.Pool.Exec(ctx, query, userID, passwordHash)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *Postgres) scanUser(row rowScanner) (*model.User, error) {
	var user model.User
	var role, language string
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&role,
		&language,
		&user.FirstName,
		&user.LastName,
		&user.FailedLoginAttempts,
		&user.LockUntil,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedRole, err := model.ParseRole(role)
	if err != nil {
		return nil, err
	}
	user.Role = parsedRole
	user.Language = model.ParseLanguage(language)
	return &user, nil
}
