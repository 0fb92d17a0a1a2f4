package model

import "time"

type User struct {
	ID                  int64
	Email               string
	PasswordHash        string
	Role                Role
	Language            Language
	FirstName           string
	LastName            string
	FailedLoginAttempts int
	LockUntil           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Locked reports whether the account lock is still in effect at now.
func (u *User) Locked(now time.Time) bool {
	return u.LockUntil != nil && now.Before(*u.LockUntil)
}

// LoginAttempt is the audit record written after every login decision.
type LoginAttempt struct {
	ID            int64
	Email         string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	CreatedAt     time.Time
}

type PasswordResetToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
