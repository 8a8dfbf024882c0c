package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"settlement-service/internal/pkg/jwt"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	LockLocal = "local"
	LockRedis = "redis"
)

type AppConfig struct {
	// Server
	HTTPAddr       string
	AppEnv         string
	AllowedOrigins []string

	// Storage
	StorageDriver string
	DatabaseURL   string
	DBMaxConns    int

	// Redis
	RedisAddr     string
	RedisPass     string
	RedisDB       int
	RedisPoolSize int

	// Locking
	LockBackend string
	LockTTL     time.Duration

	// JWT
	JWT jwt.Config

	// Topups
	TopupMinAmount     int64
	TopupMaxAmount     int64
	TopupExpiryAfter   time.Duration
	TopupReminderAfter time.Duration
	SchedulerInterval  time.Duration

	// Agent PINs
	PinMaxAttempts   int
	PinLockoutWindow time.Duration

	Timezone string
}

// Load loads environment variables into AppConfig.
func Load() AppConfig {
	return AppConfig{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8000"),
		AppEnv:         getEnv("APP_ENV", "production"),
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", nil),

		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", StoragePostgres)),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		DBMaxConns:    getEnvInt("DB_MAX_CONNS", 20),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:     getEnv("REDIS_PASS", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPoolSize: getEnvInt("REDIS_POOL_SIZE", 10),

		LockBackend: strings.ToLower(getEnv("LOCK_BACKEND", LockRedis)),
		LockTTL:     getEnvDuration("LOCK_TTL", 10*time.Second),

		JWT: jwt.Config{
			PrivPath: getEnv("JWT_PRIVATE_KEY_PATH", "/app/secrets/jwt_private.pem"),
			PubPath:  getEnv("JWT_PUBLIC_KEY_PATH", "/app/secrets/jwt_public.pem"),
			Issuer:   getEnv("JWT_ISSUER", "settlement-service"),
			Audience: getEnv("JWT_AUDIENCE", "settlement-api"),
			TTL:      getEnvDuration("JWT_TTL", 720*time.Hour),
			KID:      getEnv("JWT_KID", "settlement-key"),
		},

		TopupMinAmount:     getEnvInt64("TOPUP_MIN_AMOUNT", 10_000),
		TopupMaxAmount:     getEnvInt64("TOPUP_MAX_AMOUNT", 5_000_000),
		TopupExpiryAfter:   getEnvDuration("TOPUP_EXPIRY_AFTER", 24*time.Hour),
		TopupReminderAfter: getEnvDuration("TOPUP_REMINDER_AFTER", 12*time.Hour),
		SchedulerInterval:  getEnvDuration("SCHEDULER_INTERVAL", time.Hour),

		PinMaxAttempts:   getEnvInt("PIN_MAX_ATTEMPTS", 5),
		PinLockoutWindow: getEnvDuration("PIN_LOCKOUT_WINDOW", 15*time.Minute),

		Timezone: getEnv("TIMEZONE", "Asia/Jakarta"),
	}
}

// Validate reports settings that cannot work together.
func (c AppConfig) Validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.LockBackend != LockLocal && c.LockBackend != LockRedis {
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}
	if c.TopupMinAmount <= 0 || c.TopupMaxAmount < c.TopupMinAmount {
		return fmt.Errorf("invalid topup amount range %d..%d", c.TopupMinAmount, c.TopupMaxAmount)
	}
	if c.TopupReminderAfter >= c.TopupExpiryAfter {
		return fmt.Errorf("TOPUP_REMINDER_AFTER must be shorter than TOPUP_EXPIRY_AFTER")
	}
	if c.PinMaxAttempts <= 0 {
		return fmt.Errorf("PIN_MAX_ATTEMPTS must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves TIMEZONE.
func (c AppConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c AppConfig) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// --- Helper functions ---

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
