package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jonboulle/clockwork"
	"github.com/tadamon-org/backend/internal/config"
	"github.com/tadamon-org/backend/internal/model"
)

const (
	issuer        = "tadamon-backend"
	cacheSize     = 2048
	cacheTTL      = 5 * time.Minute
	minSecretSize = 32
)

var (
	ErrNoToken          = errors.New("no token provided")
	ErrSecretMissing    = errors.New("signing secret not configured")
	ErrMalformed        = errors.New("malformed token")
	ErrExpired          = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMisconfigured    = errors.New("token config invalid")
)

type Claims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Language  string `json:"language"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// Result is the structured outcome of Verify. Malformed input is a Result,
// never a panic.
type Result struct {
	Valid  bool
	Claims *Claims
	Err    error
}

type Service struct {
	secret        []byte
	ttl           time.Duration
	refreshWithin time.Duration
	clock         clockwork.Clock
	cache         *expirable.LRU[string, Claims]
}

// New fails when the signing secret is absent or too short; that is a fatal
// startup condition, not something to surface per-request.
func New(cfg config.AuthConfig, clock clockwork.Clock) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("%w: JWT_SECRET is required", ErrSecretMissing)
	}
	if len(cfg.JWTSecret) < minSecretSize {
		return nil, fmt.Errorf("%w: JWT_SECRET must be at least %d bytes", ErrMisconfigured, minSecretSize)
	}

	ttl, err := time.ParseDuration(cfg.TokenTTL)
	if err != nil || ttl <= 0 {
		return nil, fmt.Errorf("%w: invalid JWT_TOKEN_TTL", ErrMisconfigured)
	}

	refreshWithin, err := time.ParseDuration(cfg.RefreshWithin)
	if err != nil || refreshWithin <= 0 {
		return nil, fmt.Errorf("%w: invalid JWT_REFRESH_WITHIN", ErrMisconfigured)
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Service{
		secret:        []byte(cfg.JWTSecret),
		ttl:           ttl,
		refreshWithin: refreshWithin,
		clock:         clock,
		cache:         expirable.NewLRU[string, Claims](cacheSize, nil, cacheTTL),
	}, nil
}

func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Remaining reports how long the claims' expiry is from now on the service
// clock; zero when already expired or when expiry is absent.
func (s *Service) Remaining(claims *Claims) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	remaining := claims.ExpiresAt.Time.Sub(s.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Issue signs a new session token for the user. A fresh session id is
// generated when none is supplied.
func (s *Service) Issue(user model.AuthUser, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := s.clock.Now()
	claims := Claims{
		Email:     user.Email,
		Role:      user.Role.String(),
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Language:  string(user.Language),
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates a token. Hot tokens are served from a bounded
// expirable cache; cached claims are still checked against the clock so a
// token cannot outlive its expiry inside the cache window.
func (s *Service) Verify(tokenStr string) Result {
	if tokenStr == "" {
		return Result{Err: ErrNoToken}
	}

	if claims, ok := s.cache.Get(tokenStr); ok {
		if claims.ExpiresAt != nil && s.clock.Now().Before(claims.ExpiresAt.Time) {
			return Result{Valid: true, Claims: &claims}
		}
		s.cache.Remove(tokenStr)
		return Result{Err: ErrExpired}
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return Result{Err: mapParseError(err)}
	}
	if !parsed.Valid {
		return Result{Err: ErrInvalidSignature}
	}

	s.cache.Add(tokenStr, *claims)
	return Result{Valid: true, Claims: claims}
}

// Refresh re-issues a token only when its expiry falls within the configured
// refresh window. A valid token outside the window is a no-op (returns
// refreshed=false).
func (s *Service) Refresh(tokenStr string) (string, bool, error) {
	res := s.Verify(tokenStr)
	if !res.Valid {
		return "", false, res.Err
	}

	if res.Claims.ExpiresAt == nil {
		return "", false, ErrMalformed
	}
	if res.Claims.ExpiresAt.Time.Sub(s.clock.Now()) > s.refreshWithin {
		return "", false, nil
	}

	user, err := UserFromClaims(res.Claims)
	if err != nil {
		return "", false, err
	}

	fresh, err := s.Issue(*user, res.Claims.SessionID)
	if err != nil {
		return "", false, err
	}
	return fresh, true, nil
}

// UserFromClaims converts verified claims back to the boundary identity,
// re-validating the role so downstream code never sees an open string.
func UserFromClaims(claims *Claims) (*model.AuthUser, error) {
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}

	role, err := model.ParseRole(claims.Role)
	if err != nil {
		return nil, ErrMalformed
	}

	return &model.AuthUser{
		ID:        userID,
		Email:     claims.Email,
		Role:      role,
		Language:  model.ParseLanguage(claims.Language),
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
		SessionID: claims.SessionID,
	}, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrInvalidSignature
	}
}
