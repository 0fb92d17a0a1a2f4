package config

import "os"

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Postgres  PostgresConfig
}

type ServerConfig struct {
	Port          string
	PublicSiteURL string
}

// AuthConfig carries raw environment values; the services that consume them
// validate and parse (invalid values are a startup failure, not a 500).
type AuthConfig struct {
	JWTSecret        string
	TokenTTL         string
	RefreshWithin    string
	BcryptCost       string
	CookieSecure     string
	CookieSameSite   string
	CookieDomain     string
	AdminEmail       string
	AdminPassword    string
	MaxFailedLogins  string
	LockDuration     string
	ResetTokenTTL    string
	StrengthMinScore string
}

type RateLimitConfig struct {
	Window      string
	MaxAttempts string
	MaxEntries  string
}

type PostgresConfig struct {
	DatabaseURL string
	Host        string
	Port        string
	User        string
	Password    string
	Database    string
	SSLMode     string
}

func Load() Config {
	return Config{
		Server: ServerConfig{
			Port:          getenv("PORT", "8080"),
			PublicSiteURL: getenv("PUBLIC_SITE_URL", "http://localhost:3000"),
		},
		Auth: AuthConfig{
			JWTSecret:        os.Getenv("JWT_SECRET"),
			TokenTTL:         getenv("JWT_TOKEN_TTL", "168h"),
			RefreshWithin:    getenv("JWT_REFRESH_WITHIN", "24h"),
			BcryptCost:       os.Getenv("BCRYPT_COST"),
			CookieSecure:     os.Getenv("AUTH_COOKIE_SECURE"),
			CookieSameSite:   os.Getenv("AUTH_COOKIE_SAMESITE"),
			CookieDomain:     os.Getenv("AUTH_COOKIE_DOMAIN"),
			AdminEmail:       os.Getenv("ADMIN_EMAIL"),
			AdminPassword:    os.Getenv("ADMIN_PASSWORD"),
			MaxFailedLogins:  getenv("AUTH_MAX_FAILED_LOGINS", "5"),
			LockDuration:     getenv("AUTH_LOCK_DURATION", "1h"),
			ResetTokenTTL:    getenv("AUTH_RESET_TOKEN_TTL", "1h"),
			StrengthMinScore: getenv("AUTH_STRENGTH_MIN_SCORE", "4"),
		},
		RateLimit: RateLimitConfig{
			Window:      getenv("LOGIN_RATE_WINDOW", "15m"),
			MaxAttempts: getenv("LOGIN_RATE_MAX", "5"),
			MaxEntries:  getenv("LOGIN_RATE_CACHE_SIZE", "10000"),
		},
		Postgres: PostgresConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
			Host:        getenv("PGHOST", "localhost"),
			Port:        getenv("PGPORT", "5432"),
			User:        os.Getenv("PGUSER"),
			Password:    os.Getenv("PGPASSWORD"),
			Database:    os.Getenv("PGDATABASE"),
			SSLMode:     getenv("PGSSLMODE", "disable"),
		},
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
