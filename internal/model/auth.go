package model

type LoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	CSRFToken string `json:"csrfToken"`
}

type LoginResponse struct {
	User      AuthUser `json:"user"`
	ExpiresIn int64    `json:"expiresIn"`
}

type CSRFResponse struct {
	CSRFToken string `json:"csrfToken"`
}

type CSRFValidateRequest struct {
	CSRFToken string `json:"csrfToken"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

type PasswordResetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type LogoutResponse struct {
	Status string `json:"status"`
}

type CheckInResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// AuthUser is the request-scoped identity extracted from a verified session
// token; role and language are already validated members of their closed sets.
type AuthUser struct {
	ID        int64    `json:"id"`
	Email     string   `json:"email"`
	Role      Role     `json:"role"`
	Language  Language `json:"language"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	SessionID string   `json:"-"`
}
