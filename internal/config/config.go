package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App         AppConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	Logger      LoggerConfig
	Auth        AuthConfig
	Entitlement EntitlementConfig
	Cache       CacheConfig
	RateLimit   RateLimitConfig
	Checkout    CheckoutConfig
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
	// ApplicationName is reported to Postgres for every connection.
	ApplicationName string
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	TimeoutMillis int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines admin authentication parameters.
type AuthConfig struct {
	JWTSecret           string
	AdminPasswordHash   string
	AdminPassword       string
	AdminSessionMinutes int
	BcryptCost          int
}

// EntitlementConfig tunes the resolver and the admin switch.
type EntitlementConfig struct {
	StoreTimeoutMillis int
	DefaultSwitch      bool
}

// CacheConfig controls the per-device local cache.
type CacheConfig struct {
	DeviceTTLHours int
	MemoryDevices  int
}

// RateLimitConfig bounds redemption attempts per device.
type RateLimitConfig struct {
	RedeemLimit         int
	RedeemWindowSeconds int
}

// CheckoutConfig authenticates the order-completion collaborator.
type CheckoutConfig struct {
	WebhookSecret string
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

	appName := getEnv("APP_NAME", "growth-entitlements")

	cfg := &Config{
		App: AppConfig{
			Name:                  appName,
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:             os.Getenv("POSTGRES_DSN"),
			MaxConns:        maxConns,
			MinConns:        minConns,
			RunMigrations:   runMigrations,
			ConnMaxIdleSec:  connMaxIdle,
			ConnMaxLifeSec:  connMaxLife,
			ApplicationName: appName,
		},
		Redis: RedisConfig{
			Addr:          os.Getenv("REDIS_ADDR"),
			Password:      os.Getenv("REDIS_PASSWORD"),
			DB:            redisDB,
			TimeoutMillis: getEnvAsInt("REDIS_TIMEOUT_MS", 500),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:           getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AdminPasswordHash:   os.Getenv("AUTH_ADMIN_PASSWORD_HASH"),
			AdminPassword:       os.Getenv("AUTH_ADMIN_PASSWORD"),
			AdminSessionMinutes: getEnvAsInt("AUTH_ADMIN_SESSION_MINUTES", 24*60),
			BcryptCost:          getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Entitlement: EntitlementConfig{
			StoreTimeoutMillis: getEnvAsInt("ENTITLEMENT_STORE_TIMEOUT_MS", 2000),
			DefaultSwitch:      getEnvAsBool("ENTITLEMENT_DEFAULT_SWITCH", true),
		},
		Cache: CacheConfig{
			DeviceTTLHours: getEnvAsInt("CACHE_DEVICE_TTL_HOURS", 720),
			MemoryDevices:  getEnvAsInt("CACHE_MEMORY_DEVICES", 10000),
		},
		RateLimit: RateLimitConfig{
			RedeemLimit:         getEnvAsInt("REDEEM_RATE_LIMIT", 10),
			RedeemWindowSeconds: getEnvAsInt("REDEEM_RATE_WINDOW_SECONDS", 60),
		},
		Checkout: CheckoutConfig{
			WebhookSecret: os.Getenv("CHECKOUT_WEBHOOK_SECRET"),
		},
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

// OperationTimeout bounds dials, reads and writes against Redis.
func (r RedisConfig) OperationTimeout() time.Duration {
	if r.TimeoutMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(r.TimeoutMillis) * time.Millisecond
}

// StoreTimeout bounds a single Entitlement Store call.
func (e EntitlementConfig) StoreTimeout() time.Duration {
	if e.StoreTimeoutMillis <= 0 {
		return 2 * time.Second
	}
	return time.Duration(e.StoreTimeoutMillis) * time.Millisecond
}

// DeviceTTL is how long an idle device cache survives.
func (c CacheConfig) DeviceTTL() time.Duration {
	if c.DeviceTTLHours <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(c.DeviceTTLHours) * time.Hour
}

// RedeemWindow returns the sliding window for redemption attempts.
func (r RateLimitConfig) RedeemWindow() time.Duration {
	if r.RedeemWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(r.RedeemWindowSeconds) * time.Second
}

// AdminSessionTTL returns the admin token lifetime.
func (a AuthConfig) AdminSessionTTL() time.Duration {
	if a.AdminSessionMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.AdminSessionMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
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
