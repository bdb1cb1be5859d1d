package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// minVaultKeyBytes is the shortest accepted vault master secret.
const minVaultKeyBytes = 32

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Session      SessionConfig
	RememberMe   RememberMeConfig
	Vault        VaultConfig
	OIDC         OIDCConfig
	Notification NotificationConfig
	Worker       WorkerConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values. An empty Addr selects the in-memory stores.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret                 string
	AccessTokenTTLMinutes     int
	PasswordResetTTLMinutes   int
	BcryptCost                int
	LoginMaxFailures          int
	LoginFailureWindowMinutes int
	LoginPath                 string
}

// SessionConfig controls the short-lived browser session.
type SessionConfig struct {
	CookieName string
	TTL        time.Duration
}

// RememberMeConfig controls persistent login credentials.
type RememberMeConfig struct {
	Lifetime   time.Duration
	CookieName string
	// LegacyCookieNames names each cookie after the hashed issuance time and
	// discovers it by its 64 character name instead of using CookieName.
	LegacyCookieNames bool
}

// VaultConfig holds the secret used to derive per-user item keys.
type VaultConfig struct {
	MasterKey string
}

// OIDCConfig configures optional single sign-on.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// WorkerConfig controls background jobs.
type WorkerConfig struct {
	TokenJanitorInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "vault-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnvAllowEmpty("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:                 getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes:     getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			PasswordResetTTLMinutes:   getEnvAsInt("AUTH_PASSWORD_RESET_TTL_MINUTES", 30),
			BcryptCost:                getEnvAsInt("AUTH_BCRYPT_COST", 12),
			LoginMaxFailures:          getEnvAsInt("AUTH_LOGIN_MAX_FAILURES", 5),
			LoginFailureWindowMinutes: getEnvAsInt("AUTH_LOGIN_FAILURE_WINDOW_MINUTES", 15),
			LoginPath:                 getEnv("AUTH_LOGIN_PATH", "/login"),
		},
		Session: SessionConfig{
			CookieName: getEnv("SESSION_COOKIE_NAME", "vault_session"),
			TTL:        getEnvAsDuration("SESSION_TTL", 2*time.Hour),
		},
		RememberMe: RememberMeConfig{
			Lifetime:          getEnvAsDuration("REMEMBER_ME_LIFETIME", 5*24*time.Hour),
			CookieName:        getEnv("REMEMBER_ME_COOKIE_NAME", "remember_me"),
			LegacyCookieNames: getEnvAsBool("REMEMBER_ME_LEGACY_COOKIES", false),
		},
		Vault: VaultConfig{
			MasterKey: getEnv("VAULT_MASTER_KEY", "dev-vault-master-key-change-me-0123456789"),
		},
		OIDC: OIDCConfig{
			IssuerURL:    os.Getenv("OIDC_ISSUER_URL"),
			ClientID:     os.Getenv("OIDC_CLIENT_ID"),
			ClientSecret: os.Getenv("OIDC_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("OIDC_REDIRECT_URL"),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Worker: WorkerConfig{
			TokenJanitorInterval: getEnvAsDuration("WORKER_TOKEN_JANITOR_INTERVAL", time.Hour),
		},
	}

	if len(cfg.Vault.MasterKey) < minVaultKeyBytes {
		return nil, fmt.Errorf("VAULT_MASTER_KEY must be at least %d bytes", minVaultKeyBytes)
	}
	if cfg.OIDC.IssuerURL != "" && (cfg.OIDC.ClientID == "" || cfg.OIDC.RedirectURL == "") {
		return nil, errors.New("OIDC_CLIENT_ID and OIDC_REDIRECT_URL are required when OIDC_ISSUER_URL is set")
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AccessTokenTTL returns the bearer token lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

// LoginFailureWindow returns the throttle window for failed logins.
func (a AuthConfig) LoginFailureWindow() time.Duration {
	return time.Duration(a.LoginFailureWindowMinutes) * time.Minute
}

// Enabled reports whether single sign-on is configured.
func (o OIDCConfig) Enabled() bool {
	return o.IssuerURL != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvAllowEmpty distinguishes an unset variable from one explicitly set to "".
func getEnvAllowEmpty(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(val)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
