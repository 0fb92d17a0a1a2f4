package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tadamon-org/backend/internal/config"
	"github.com/tadamon-org/backend/internal/db"
	"github.com/tadamon-org/backend/internal/model"
	"github.com/tadamon-org/backend/internal/password"
	"github.com/tadamon-org/backend/internal/retry"
	"github.com/tadamon-org/backend/internal/token"
)

const (
	resetRequestsPerWindow = 3
	resetRequestWindow     = "1 hour"
	auditTimeout           = 5 * time.Second
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLocked             = errors.New("account locked")
	ErrResetRateLimited   = errors.New("too many reset requests")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrMisconfigured      = errors.New("auth config invalid")
)

// LockedError carries the remaining lock time; errors.Is(err, ErrLocked)
// matches it.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked for %s", e.RetryAfter)
}

func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// WeakPasswordError carries the strength verdict so the handler can return
// localized feedback; errors.Is(err, ErrInvalidInput) matches it.
type WeakPasswordError struct {
	Strength password.Strength
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("password too weak (score %d)", e.Strength.Score)
}

func (e *WeakPasswordError) Is(target error) bool {
	return target == ErrInvalidInput
}

type userStore interface {
	CreateUser(ctx context.Context, email, passwordHash string, role model.Role, language model.Language) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, userID int64) (*model.User, error)
	RecordFailedLogin(ctx context.Context, userID int64, maxAttempts int, lockFor time.Duration) (int, *time.Time, error)
	ResetLoginState(ctx context.Context, userID int64) error
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
	InsertLoginAttempt(ctx context.Context, attempt model.LoginAttempt) error
	InsertPasswordResetRequest(ctx context.Context, email string) error
	CountRecentResetRequests(ctx context.Context, email, window string) (int, error)
	InsertPasswordResetToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, tokenHash string) (int64, error)
}

type AuthService struct {
	store           userStore
	tokens          *token.Service
	passwords       *password.Service
	clock           clockwork.Clock
	maxFailedLogins int
	lockDuration    time.Duration
	resetTokenTTL   time.Duration
}

func NewAuthService(store userStore, tokens *token.Service, passwords *password.Service, cfg config.AuthConfig, clock clockwork.Clock) (*AuthService, error) {
	maxFailed, err := strconv.Atoi(cfg.MaxFailedLogins)
	if err != nil || maxFailed <= 0 {
		return nil, fmt.Errorf("%w: invalid AUTH_MAX_FAILED_LOGINS", ErrMisconfigured)
	}

	lockDuration, err := time.ParseDuration(cfg.LockDuration)
	if err != nil || lockDuration <= 0 {
		return nil, fmt.Errorf("%w: invalid AUTH_LOCK_DURATION", ErrMisconfigured)
	}

	resetTTL, err := time.ParseDuration(cfg.ResetTokenTTL)
	if err != nil || resetTTL <= 0 {
		return nil, fmt.Errorf("%w: invalid AUTH_RESET_TOKEN_TTL", ErrMisconfigured)
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &AuthService{
		store:           store,
		tokens:          tokens,
		passwords:       passwords,
		clock:           clock,
		maxFailedLogins: maxFailed,
		lockDuration:    lockDuration,
		resetTokenTTL:   resetTTL,
	}, nil
}

func (s *AuthService) TokenTTL() time.Duration {
	return s.tokens.TTL()
}

// Login runs the credential pipeline: lockout check, password verify, lock
// bookkeeping, token issue. The lockout check comes first and a locked
// account never has its password evaluated. Reaching the failed-attempt
// ceiling still answers with invalid credentials; the 423 surfaces on the
// next attempt, when the lock check fires.
func (s *AuthService) Login(ctx context.Context, email, plain, ip, userAgent string) (*model.AuthUser, string, error) {
	if email == "" || plain == "" {
		return nil, "", ErrInvalidInput
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if db.IsNoRows(err) {
			s.audit(email, ip, userAgent, false, "unknown_email")
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	now := s.clock.Now()
	if user.Locked(now) {
		s.audit(email, ip, userAgent, false, "locked")
		return nil, "", &LockedError{RetryAfter: user.LockUntil.Sub(now)}
	}

	if !s.passwords.Verify(plain, user.PasswordHash) {
		count, lockUntil, recErr := s.store.RecordFailedLogin(ctx, user.ID, s.maxFailedLogins, s.lockDuration)
		if recErr != nil {
			return nil, "", recErr
		}
		reason := "wrong_password"
		if lockUntil != nil && now.Before(*lockUntil) {
			reason = "lock_triggered"
			log.Printf("[Auth] Account locked after %d failed attempts (user id=%d)", count, user.ID)
		}
		s.audit(email, ip, userAgent, false, reason)
		return nil, "", ErrInvalidCredentials
	}

	if err := s.store.ResetLoginState(ctx, user.ID); err != nil {
		return nil, "", err
	}

	authUser := &model.AuthUser{
		ID:        user.ID,
		Email:     user.Email,
		Role:      user.Role,
		Language:  user.Language,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}

	signed, err := s.tokens.Issue(*authUser, "")
	if err != nil {
		return nil, "", err
	}

	s.audit(email, ip, userAgent, true, "")
	return authUser, signed, nil
}

// RequestPasswordReset issues a reset token unless the per-email budget
// (3 per hour) is exhausted. The budget counts requests, not issued tokens,
// and is charged before the user lookup: an unknown email is throttled the
// same as a known one, so neither the response nor the limiter can be used
// to enumerate accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if email == "" {
		return ErrInvalidInput
	}

	count, err := s.store.CountRecentResetRequests(ctx, email, resetRequestWindow)
	if err != nil {
		return err
	}
	if count >= resetRequestsPerWindow {
		return ErrResetRateLimited
	}

	if err := s.store.InsertPasswordResetRequest(ctx, email); err != nil {
		return err
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if db.IsNoRows(err) {
			return nil
		}
		return err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	resetToken := base64.RawURLEncoding.EncodeToString(raw)

	expiresAt := s.clock.Now().Add(s.resetTokenTTL)
	if err := s.store.InsertPasswordResetToken(ctx, user.ID, hashToken(resetToken), expiresAt); err != nil {
		return err
	}

	// Delivery is the mailer's job; the backend only records issuance.
	log.Printf("[Auth] Password reset token issued (user id=%d, expires %s)", user.ID, expiresAt.Format(time.RFC3339))
	return nil
}

// ConfirmPasswordReset validates strength, consumes the single-use token and
// replaces the password. Strength is enforced here, never on plain login.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, rawToken, newPassword string, lang model.Language) error {
	if rawToken == "" || newPassword == "" {
		return ErrInvalidInput
	}

	strength := s.passwords.ScoreStrength(newPassword, lang)
	if !strength.Valid {
		return &WeakPasswordError{Strength: strength}
	}

	userID, err := s.store.ConsumeResetToken(ctx, hashToken(rawToken))
	if err != nil {
		if db.IsNoRows(err) {
			return ErrInvalidResetToken
		}
		return err
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return err
	}

	return s.store.UpdatePassword(ctx, userID, hash)
}

// EnsureAdmin seeds the admin account at startup when it does not exist yet.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, plain string) error {
	if email == "" || plain == "" {
		return fmt.Errorf("%w: ADMIN_EMAIL/ADMIN_PASSWORD are required", ErrMisconfigured)
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !db.IsNoRows(err) {
		return err
	}

	hash, err := s.passwords.Hash(plain)
	if err != nil {
		return err
	}

	_, err = s.store.CreateUser(ctx, email, hash, model.RoleAdmin, model.LangFrench)
	return err
}

// audit records the attempt off the response path. Transient failures are
// retried with the network preset; a final failure only logs.
func (s *AuthService) audit(email, ip, userAgent string, success bool, reason string) {
	attempt := model.LoginAttempt{
		Email:         email,
		IPAddress:     ip,
		UserAgent:     userAgent,
		Success:       success,
		FailureReason: reason,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()

		_, err := retry.Do(ctx, retry.NetworkOptions(), func() (struct{}, error) {
			return struct{}{}, s.store.InsertLoginAttempt(ctx, attempt)
		})
		if err != nil {
			log.Printf("[Auth] Failed to record login attempt for %s: %v", email, err)
		}
	}()
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
