package handler

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tadamon-org/backend/internal/config"
	"github.com/tadamon-org/backend/internal/csrf"
	"github.com/tadamon-org/backend/internal/model"
	"github.com/tadamon-org/backend/internal/ratelimit"
	"github.com/tadamon-org/backend/internal/service"
	"github.com/tadamon-org/backend/internal/token"
)

const (
	sessionCookieName = "payload-token"
	csrfCookieName    = "csrf-session"
	csrfCookieMaxAge  = 3600
)

type CookieSettings struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

type AuthHandler struct {
	auth    *service.AuthService
	tokens  *token.Service
	csrf    *csrf.Store
	limiter *ratelimit.Limiter
	cookies CookieSettings
}

func NewAuthHandler(auth *service.AuthService, tokens *token.Service, store *csrf.Store, limiter *ratelimit.Limiter, cfg config.AuthConfig) (*AuthHandler, error) {
	secure, err := parseBool(cfg.CookieSecure, true)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SECURE", service.ErrMisconfigured)
	}

	sameSite, err := parseSameSite(cfg.CookieSameSite)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid AUTH_COOKIE_SAMESITE", service.ErrMisconfigured)
	}

	if sameSite == http.SameSiteNoneMode && !secure {
		return nil, fmt.Errorf("%w: SameSite=None requires Secure cookie", service.ErrMisconfigured)
	}

	return &AuthHandler{
		auth:    auth,
		tokens:  tokens,
		csrf:    store,
		limiter: limiter,
		cookies: CookieSettings{
			Domain:   cfg.CookieDomain,
			Secure:   secure,
			SameSite: sameSite,
		},
	}, nil
}

// Login godoc
// @Summary Login with email and password
// @Description Runs CSRF, rate-limit and lockout checks before verifying
// @Description credentials and setting the session cookie.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.LoginRequest true "Credentials and CSRF token"
// @Success 200 {object} model.LoginResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Failure 423 {object} model.ErrorResponse
// @Failure 429 {object} model.ErrorResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid request"})
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "email and password are required"})
		return
	}

	sessionID, _ := c.Cookie(csrfCookieName)
	if err := h.csrf.Validate(req.CSRFToken, sessionID); err != nil {
		c.JSON(http.StatusForbidden, model.ErrorResponse{Error: "invalid csrf token"})
		return
	}

	key := strings.ToLower(strings.TrimSpace(req.Email)) + ":" + c.ClientIP()
	decision := h.limiter.Check(key)
	if !decision.Allowed {
		seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
		c.Header("Retry-After", fmt.Sprintf("%d", seconds))
		c.JSON(http.StatusTooManyRequests, model.ErrorResponse{
			Error:      "too many login attempts",
			RetryAfter: minutesCeil(decision.RetryAfter),
		})
		return
	}

	user, signed, err := h.auth.Login(c.Request.Context(), req.Email, req.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		h.writeLoginError(c, err)
		return
	}

	h.setSessionCookie(c, signed, int(h.auth.TokenTTL().Seconds()))
	c.JSON(http.StatusOK, model.LoginResponse{
		User:      *user,
		ExpiresIn: int64(h.auth.TokenTTL().Seconds()),
	})
}

// Logout godoc
// @Summary Logout
// @Description Clears the session cookie. Always succeeds.
// @Tags auth
// @Produce json
// @Success 200 {object} model.LogoutResponse
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, model.LogoutResponse{Status: "logged_out"})
}

// Refresh godoc
// @Summary Refresh the session token
// @Description Re-issues the cookie only when expiry is close; otherwise a
// @Description valid session is left untouched.
// @Tags auth
// @Produce json
// @Success 200 {object} model.LoginResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /api/auth/refresh [post]
func (h *AuthHandler) Refresh(c *gin.Context) {
	current, _ := c.Cookie(sessionCookieName)
	fresh, refreshed, err := h.tokens.Refresh(current)
	if err != nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}

	active := current
	if refreshed {
		h.setSessionCookie(c, fresh, int(h.auth.TokenTTL().Seconds()))
		active = fresh
	}

	res := h.tokens.Verify(active)
	if !res.Valid {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}
	user, err := token.UserFromClaims(res.Claims)
	if err != nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}

	c.JSON(http.StatusOK, model.LoginResponse{
		User:      *user,
		ExpiresIn: int64(h.tokens.Remaining(res.Claims).Seconds()),
	})
}

// IssueCSRF godoc
// @Summary Issue a CSRF token
// @Description Sets the csrf-session cookie and returns a single-use token.
// @Tags auth
// @Produce json
// @Success 200 {object} model.CSRFResponse
// @Failure 500 {object} model.ErrorResponse
// @Router /api/auth/csrf [get]
func (h *AuthHandler) IssueCSRF(c *gin.Context) {
	tok, sessionID, err := h.csrf.Issue()
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "internal server error"})
		return
	}

	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(csrfCookieName, sessionID, csrfCookieMaxAge, "/", h.cookies.Domain, h.cookies.Secure, true)
	c.JSON(http.StatusOK, model.CSRFResponse{CSRFToken: tok})
}

// ValidateCSRF godoc
// @Summary Validate and consume a CSRF token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.CSRFValidateRequest true "Token to consume"
// @Success 200 {object} model.LogoutResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Router /api/auth/csrf [post]
func (h *AuthHandler) ValidateCSRF(c *gin.Context) {
	var req model.CSRFValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid request"})
		return
	}

	sessionID, _ := c.Cookie(csrfCookieName)
	switch err := h.csrf.Validate(req.CSRFToken, sessionID); {
	case errors.Is(err, csrf.ErrMissing):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "missing csrf token"})
	case errors.Is(err, csrf.ErrInvalid):
		c.JSON(http.StatusForbidden, model.ErrorResponse{Error: "invalid csrf token"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "internal server error"})
	default:
		c.JSON(http.StatusOK, model.LogoutResponse{Status: "ok"})
	}
}

// RequestPasswordReset godoc
// @Summary Request a password reset
// @Description Answers uniformly whether or not the account exists.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.PasswordResetRequest true "Account email"
// @Success 200 {object} model.LogoutResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 429 {object} model.ErrorResponse
// @Router /api/auth/password-reset [post]
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req model.PasswordResetRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "email is required"})
		return
	}

	err := h.auth.RequestPasswordReset(c.Request.Context(), req.Email)
	switch {
	case errors.Is(err, service.ErrResetRateLimited):
		c.Header("Retry-After", "3600")
		c.JSON(http.StatusTooManyRequests, model.ErrorResponse{
			Error:      "too many reset requests",
			RetryAfter: 60,
		})
	case err != nil:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "internal server error"})
	default:
		c.JSON(http.StatusOK, model.LogoutResponse{Status: "if the account exists, a reset link has been sent"})
	}
}

// ConfirmPasswordReset godoc
// @Summary Confirm a password reset
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.PasswordResetConfirmRequest true "Reset token and new password"
// @Success 200 {object} model.LogoutResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Router /api/auth/password-reset/confirm [post]
func (h *AuthHandler) ConfirmPasswordReset(c *gin.Context) {
	var req model.PasswordResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid request"})
		return
	}

	lang := languageFromHeader(c.GetHeader("Accept-Language"))
	err := h.auth.ConfirmPasswordReset(c.Request.Context(), req.Token, req.Password, lang)

	var weak *service.WeakPasswordError
	switch {
	case errors.As(err, &weak):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "password too weak",
			"strength": weak.Strength,
		})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "token and password are required"})
	case errors.Is(err, service.ErrInvalidResetToken):
		c.JSON(http.StatusForbidden, model.ErrorResponse{Error: "invalid or expired reset token"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "internal server error"})
	default:
		c.JSON(http.StatusOK, model.LogoutResponse{Status: "password updated"})
	}
}

// Me godoc
// @Summary Get the current user
// @Tags auth
// @Produce json
// @Success 200 {object} model.AuthUser
// @Failure 401 {object} model.ErrorResponse
// @Router /api/auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	user := GetAuthUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) writeLoginError(c *gin.Context, err error) {
	var locked *service.LockedError
	switch {
	case errors.As(err, &locked):
		c.JSON(http.StatusLocked, model.ErrorResponse{
			Error:      "account temporarily locked",
			RetryAfter: minutesCeil(locked.RetryAfter),
		})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "email and password are required"})
	case errors.Is(err, service.ErrInvalidCredentials):
		// Deliberately identical for unknown email and wrong password.
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{Error: "invalid email or password"})
	default:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "internal server error"})
	}
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(h.cookies.SameSite)
	c.SetCookie(sessionCookieName, value, maxAge, "/", h.cookies.Domain, h.cookies.Secure, true)
}

func minutesCeil(d time.Duration) int {
	minutes := int(math.Ceil(d.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// languageFromHeader reads only the primary subtag; anything unknown falls
// back to French, the site's default locale.
func languageFromHeader(header string) model.Language {
	primary := header
	if idx := strings.IndexAny(primary, ",;-"); idx >= 0 {
		primary = primary[:idx]
	}
	return model.ParseLanguage(strings.TrimSpace(strings.ToLower(primary)))
}

func parseBool(value string, fallback bool) (bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", value)
	}
}

func parseSameSite(value string) (http.SameSite, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("invalid samesite %q", value)
	}
}
