package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const minSecretLength = 32

type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"pretty"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	ServerPort              string        `env:"SERVER_PORT" envDefault:"8080"`
	ServerReadHeaderTimeout time.Duration `env:"SERVER_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ServerWriteTimeout      time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	ServerIdleTimeout       time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	RequestTimeout          time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	CORSOrigins             []string      `env:"CORS_ORIGINS" envSeparator:","`
	TrustProxyHeaders       bool          `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`

	KVBackend          string        `env:"KV_BACKEND" envDefault:"redis"`
	RedisURL           string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisRetryAttempts int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RedisRetryInterval time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s"`
	RedisConnTimeout   time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"15s"`
	StoreTimeout       time.Duration `env:"STORE_TIMEOUT" envDefault:"500ms"`

	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"storefront"`
	JWTAudience      string        `env:"JWT_AUDIENCE" envDefault:"storefront-web"`
	JWTAccessTTL     time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	JWTRefreshTTL    time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	LoginMaxFailedAttempts int           `env:"LOGIN_MAX_FAILED_ATTEMPTS" envDefault:"5"`
	LoginLockoutDuration   time.Duration `env:"LOGIN_LOCKOUT_DURATION" envDefault:"15m"`
	BcryptCost             int           `env:"BCRYPT_COST" envDefault:"12"`

	LoginRateLimitMax    int           `env:"LOGIN_RATE_LIMIT_MAX" envDefault:"5"`
	LoginRateLimitWindow time.Duration `env:"LOGIN_RATE_LIMIT_WINDOW" envDefault:"15m"`
	ResetRateLimitMax    int           `env:"RESET_RATE_LIMIT_MAX" envDefault:"3"`
	ResetRateLimitWindow time.Duration `env:"RESET_RATE_LIMIT_WINDOW" envDefault:"1h"`
	GeneralRateLimitRPM  int           `env:"GENERAL_RATE_LIMIT_RPM" envDefault:"300"`
	AuthRateLimitRPM     int           `env:"AUTH_RATE_LIMIT_RPM" envDefault:"60"`

	CookieSecure      *bool  `env:"COOKIE_SECURE"`
	CookieDomain      string `env:"COOKIE_DOMAIN"`
	AccessCookieName  string `env:"ACCESS_COOKIE_NAME" envDefault:"access_token"`
	RefreshCookieName string `env:"REFRESH_COOKIE_NAME" envDefault:"refresh_token"`

	RevokeAllOnRefreshReuse bool `env:"REVOKE_ALL_ON_REFRESH_REUSE" envDefault:"false"`

	PasswordResetTTL time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"30m"`
	PasswordResetURL string        `env:"PASSWORD_RESET_URL" envDefault:"http://localhost:3000/reset-password"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.JWTAccessSecret = strings.TrimSpace(cfg.JWTAccessSecret)
	cfg.JWTRefreshSecret = strings.TrimSpace(cfg.JWTRefreshSecret)
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if len(c.JWTAccessSecret) < minSecretLength {
		return fmt.Errorf("JWT_ACCESS_SECRET must be at least %d characters", minSecretLength)
	}

	if len(c.JWTRefreshSecret) < minSecretLength {
		return fmt.Errorf("JWT_REFRESH_SECRET must be at least %d characters", minSecretLength)
	}

	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("token and session TTLs must be positive")
	}

	if c.JWTAccessTTL >= c.JWTRefreshTTL {
		return fmt.Errorf("JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}

	if c.SessionTTL > c.JWTRefreshTTL {
		return fmt.Errorf("SESSION_TTL cannot exceed JWT_REFRESH_TTL")
	}

	switch c.KVBackend {
	case "redis":
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when KV_BACKEND=redis")
		}
	case "memory":
	default:
		return fmt.Errorf("KV_BACKEND must be redis or memory")
	}

	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.LoginMaxFailedAttempts <= 0 {
		return fmt.Errorf("LOGIN_MAX_FAILED_ATTEMPTS must be positive")
	}

	if c.LoginLockoutDuration <= 0 {
		return fmt.Errorf("LOGIN_LOCKOUT_DURATION must be positive")
	}

	if c.LoginRateLimitMax <= 0 || c.LoginRateLimitWindow <= 0 {
		return fmt.Errorf("LOGIN_RATE_LIMIT_MAX and LOGIN_RATE_LIMIT_WINDOW must be positive")
	}

	if c.ResetRateLimitMax <= 0 || c.ResetRateLimitWindow <= 0 {
		return fmt.Errorf("RESET_RATE_LIMIT_MAX and RESET_RATE_LIMIT_WINDOW must be positive")
	}

	if c.PasswordResetTTL <= 0 {
		return fmt.Errorf("PASSWORD_RESET_TTL must be positive")
	}

	if c.AccessCookieName == "" || c.RefreshCookieName == "" || c.AccessCookieName == c.RefreshCookieName {
		return fmt.Errorf("ACCESS_COOKIE_NAME and REFRESH_COOKIE_NAME must be set and distinct")
	}

	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// SecureCookies defaults to true in production unless COOKIE_SECURE overrides it.
func (c *Config) SecureCookies() bool {
	if c.CookieSecure != nil {
		return *c.CookieSecure
	}
	return c.IsProduction()
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
