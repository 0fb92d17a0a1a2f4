package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/tadamon-org/backend/internal/config"
	"github.com/tadamon-org/backend/internal/csrf"
	"github.com/tadamon-org/backend/internal/model"
	"github.com/tadamon-org/backend/internal/password"
	"github.com/tadamon-org/backend/internal/ratelimit"
	"github.com/tadamon-org/backend/internal/service"
	"github.com/tadamon-org/backend/internal/token"
)

type memStore struct {
	mu    sync.Mutex
	clock clockwork.Clock
	users map[string]*model.User
}

func (m *memStore) CreateUser(_ context.Context, email, hash string, role model.Role, lang model.Language) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user := &model.User{ID: int64(len(m.users) + 1), Email: email, PasswordHash: hash, Role: role, Language: lang}
	m.users[strings.ToLower(email)] = user
	return user, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[strings.ToLower(email)]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (m *memStore) GetUserByID(_ context.Context, userID int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == userID {
			copied := *user
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memStore) RecordFailedLogin(_ context.Context, userID int64, maxAttempts int, lockFor time.Duration) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == userID {
			user.FailedLoginAttempts++
			if user.FailedLoginAttempts >= maxAttempts {
				until := m.clock.Now().Add(lockFor)
				user.LockUntil = &until
			}
			return user.FailedLoginAttempts, user.LockUntil, nil
		}
	}
	return 0, nil, pgx.ErrNoRows
}

func (m *memStore) ResetLoginState(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == userID {
			user.FailedLoginAttempts = 0
			user.LockUntil = nil
		}
	}
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, userID int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == userID {
			user.PasswordHash = hash
		}
	}
	return nil
}

func (m *memStore) InsertLoginAttempt(_ context.Context, _ model.LoginAttempt) error { return nil }

func (m *memStore) InsertPasswordResetRequest(_ context.Context, _ string) error { return nil }

func (m *memStore) CountRecentResetRequests(_ context.Context, _, _ string) (int, error) {
	return 0, nil
}

func (m *memStore) InsertPasswordResetToken(_ context.Context, _ int64, _ string, _ time.Time) error {
	return nil
}

func (m *memStore) ConsumeResetToken(_ context.Context, _ string) (int64, error) {
	return 0, pgx.ErrNoRows
}

type harness struct {
	router *gin.Engine
	store  *memStore
	clock  *clockwork.FakeClock
	tokens *token.Service
}

func newHarness(t *testing.T, rateMax string) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.AuthConfig{
		JWTSecret:        strings.Repeat("s", 32),
		TokenTTL:         "168h",
		RefreshWithin:    "24h",
		BcryptCost:       "4",
		CookieSecure:     "false",
		MaxFailedLogins:  "5",
		LockDuration:     "1h",
		ResetTokenTTL:    "1h",
		StrengthMinScore: "4",
	}

	clock := clockwork.NewFakeClock()
	store := &memStore{clock: clock, users: make(map[string]*model.User)}

	tokens, err := token.New(cfg, clock)
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	passwords, err := password.New(cfg)
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}
	authService, err := service.NewAuthService(store, tokens, passwords, cfg, clock)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	limiter, err := ratelimit.New(config.RateLimitConfig{
		Window:      "15m",
		MaxAttempts: rateMax,
		MaxEntries:  "100",
	}, clock)
	if err != nil {
		t.Fatalf("ratelimit.New: %v", err)
	}

	csrfStore := csrf.NewStore(clock)

	h, err := NewAuthHandler(authService, tokens, csrfStore, limiter, cfg)
	if err != nil {
		t.Fatalf("NewAuthHandler: %v", err)
	}

	hash, err := passwords.Hash("Corniche!2024")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if _, err := store.CreateUser(context.Background(), "sami@tadamon.org", hash, model.RoleEditor, model.LangFrench); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	router := gin.New()
	router.Use(SecurityHeaders())
	router.GET("/healthz", Healthz)
	auth := router.Group("/api/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/logout", h.Logout)
		auth.POST("/refresh", h.Refresh)
		auth.GET("/csrf", h.IssueCSRF)
		auth.POST("/csrf", h.ValidateCSRF)
		auth.POST("/password-reset", h.RequestPasswordReset)
		auth.POST("/password-reset/confirm", h.ConfirmPasswordReset)
		auth.GET("/me", AuthMiddleware(tokens), h.Me)
	}
	router.POST("/api/events/:id/check-in", AuthMiddleware(tokens), RequireRole(model.RoleAdmin, model.RoleEditor), CheckIn)

	return &harness{router: router, store: store, clock: clock, tokens: tokens}
}

// freshCSRF issues a token and returns it with the session cookie.
func (h *harness) freshCSRF(t *testing.T) (string, *http.Cookie) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/csrf", nil)
	h.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("csrf issue status %d", w.Code)
	}

	var body model.CSRFResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("csrf body: %v", err)
	}
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == csrfCookieName {
			return body.CSRFToken, cookie
		}
	}
	t.Fatalf("csrf-session cookie not set")
	return "", nil
}

func (h *harness) login(t *testing.T, email, pass string) *httptest.ResponseRecorder {
	t.Helper()
	csrfToken, cookie := h.freshCSRF(t)

	payload, _ := json.Marshal(model.LoginRequest{Email: email, Password: pass, CSRFToken: csrfToken})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(cookie)
	h.router.ServeHTTP(w, req)
	return w
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range w.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			return cookie
		}
	}
	return nil
}

func TestLoginSuccessSetsCookie(t *testing.T) {
	h := newHarness(t, "5")

	w := h.login(t, "sami@tadamon.org", "Corniche!2024")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	cookie := sessionCookie(w)
	if cookie == nil || cookie.Value == "" || !cookie.HttpOnly {
		t.Fatalf("session cookie missing or not HttpOnly: %+v", cookie)
	}

	var body model.LoginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.User.Email != "sami@tadamon.org" || body.User.Role != model.RoleEditor {
		t.Fatalf("unexpected user: %+v", body.User)
	}
}

func TestLoginWithoutCSRFForbidden(t *testing.T) {
	h := newHarness(t, "5")

	payload, _ := json.Marshal(model.LoginRequest{Email: "sami@tadamon.org", Password: "Corniche!2024"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", w.Code)
	}
}

func TestLoginMissingFields(t *testing.T) {
	h := newHarness(t, "5")

	payload := []byte(`{"email":"","password":""}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestLoginBadCredentialsGenericMessage(t *testing.T) {
	h := newHarness(t, "5")

	for _, email := range []string{"sami@tadamon.org", "ghost@tadamon.org"} {
		w := h.login(t, email, "wrong-password")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status %d, want 401", w.Code)
		}
		var body model.ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &body)
		if body.Error != "invalid email or password" {
			t.Fatalf("message leaks account state: %q", body.Error)
		}
	}
}

func TestLoginRateLimited(t *testing.T) {
	h := newHarness(t, "2")

	h.login(t, "sami@tadamon.org", "wrong")
	h.login(t, "sami@tadamon.org", "wrong")
	w := h.login(t, "sami@tadamon.org", "wrong")

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatalf("Retry-After header missing")
	}
	var body model.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.RetryAfter < 1 {
		t.Fatalf("body retryAfter = %d", body.RetryAfter)
	}
}

func TestLoginLockedAccount(t *testing.T) {
	h := newHarness(t, "50")

	until := h.clock.Now().Add(45 * time.Minute)
	h.store.mu.Lock()
	h.store.users["sami@tadamon.org"].LockUntil = &until
	h.store.mu.Unlock()

	w := h.login(t, "sami@tadamon.org", "Corniche!2024")
	if w.Code != http.StatusLocked {
		t.Fatalf("status %d, want 423", w.Code)
	}
	var body model.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.RetryAfter != 45 {
		t.Fatalf("retryAfter = %d, want 45", body.RetryAfter)
	}
}

func TestCSRFValidateSingleUse(t *testing.T) {
	h := newHarness(t, "5")
	csrfToken, cookie := h.freshCSRF(t)

	validate := func() *httptest.ResponseRecorder {
		payload, _ := json.Marshal(model.CSRFValidateRequest{CSRFToken: csrfToken})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/csrf", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.AddCookie(cookie)
		h.router.ServeHTTP(w, req)
		return w
	}

	if w := validate(); w.Code != http.StatusOK {
		t.Fatalf("first validation status %d", w.Code)
	}
	if w := validate(); w.Code != http.StatusForbidden {
		t.Fatalf("replayed validation status %d, want 403", w.Code)
	}
}

func TestCSRFValidateMissingToken(t *testing.T) {
	h := newHarness(t, "5")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/csrf", bytes.NewReader([]byte(`{"csrfToken":""}`)))
	req.Header.Set("Content-Type", "application/json")
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestLogoutClearsCookie(t *testing.T) {
	h := newHarness(t, "5")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	cookie := sessionCookie(w)
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Fatalf("session cookie not cleared: %+v", cookie)
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	h := newHarness(t, "5")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}
}

func TestRefreshValidSession(t *testing.T) {
	h := newHarness(t, "5")
	login := h.login(t, "sami@tadamon.org", "Corniche!2024")
	cookie := sessionCookie(login)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh", nil)
	req.AddCookie(cookie)
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	// Far from expiry: no new cookie is issued.
	if fresh := sessionCookie(w); fresh != nil {
		t.Fatalf("unexpected cookie re-issue far from expiry")
	}
}

func TestMeRequiresAuth(t *testing.T) {
	h := newHarness(t, "5")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	h.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", w.Code)
	}

	login := h.login(t, "sami@tadamon.org", "Corniche!2024")
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(sessionCookie(login))
	h.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var user model.AuthUser
	json.Unmarshal(w.Body.Bytes(), &user)
	if user.Email != "sami@tadamon.org" {
		t.Fatalf("me returned %+v", user)
	}
}

func TestCheckInStub(t *testing.T) {
	h := newHarness(t, "5")
	login := h.login(t, "sami@tadamon.org", "Corniche!2024")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/events/evt-42/check-in", nil)
	req.AddCookie(sessionCookie(login))
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var body model.CheckInResponse
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Status != "ok" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCheckInForbiddenForVolunteers(t *testing.T) {
	h := newHarness(t, "5")

	user, _ := h.store.GetUserByEmail(context.Background(), "sami@tadamon.org")
	signed, err := h.tokens.Issue(model.AuthUser{
		ID:       user.ID,
		Email:    user.Email,
		Role:     model.RoleVolunteer,
		Language: user.Language,
	}, "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/events/evt-42/check-in", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: signed})
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status %d, want 403", w.Code)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	h := newHarness(t, "5")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	h.router.ServeHTTP(w, req)

	want := map[string]string{
		"X-Frame-Options":        "DENY",
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Fatalf("%s = %q, want %q", header, got, value)
		}
	}
	if w.Header().Get("Permissions-Policy") == "" || w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("missing security headers")
	}
}

func TestPasswordResetConfirmWeak(t *testing.T) {
	h := newHarness(t, "5")

	payload, _ := json.Marshal(model.PasswordResetConfirmRequest{Token: "tok", Password: "abc"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/password-reset/confirm", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	h.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "strength") {
		t.Fatalf("expected strength feedback in body: %s", w.Body.String())
	}
}

func TestPasswordResetUniformResponse(t *testing.T) {
	h := newHarness(t, "5")

	for _, email := range []string{"sami@tadamon.org", "ghost@tadamon.org"} {
		payload, _ := json.Marshal(model.PasswordResetRequest{Email: email})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/password-reset", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		h.router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status %d for %s, want uniform 200", w.Code, email)
		}
	}
}
