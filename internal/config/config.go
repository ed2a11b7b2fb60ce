// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseDriver string // postgres | pgx | memory
	DatabaseURL    string
	LockTimeout    time.Duration

	// Auth
	JWTSecret string
	TokenTTL  time.Duration

	// Claim lifecycle
	ClaimLockDuration     time.Duration
	AutoRejectStaleClaims bool
	FinderRewardPoints    int
	TimeZone              *time.Location

	// Expiry sweeper
	ExpirySweepInterval time.Duration
	ExpirySweepBatch    int

	// Locker signal
	LockerWebhookURL          string
	LockerWebhookAllowPrivate bool
	LockerWebhookTimeout      time.Duration
	SignalQueueSize           int

	// Rate Limit
	RateLimitGeneral int
	RateLimitClaim   int

	// Server
	ServerPort     string
	ServerMaxConns int

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// データベースドライバ
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverMemory   = "memory"
)

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseDriver = strings.ToLower(getEnvString("DATABASE_DRIVER", DriverPostgres))
	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverPgx, DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER: %s", cfg.DatabaseDriver)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.DatabaseDriver != DriverMemory {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	tz := getEnvString("TIME_ZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", tz, err)
	}
	cfg.TimeZone = loc

	// Optional fields with defaults
	cfg.LockTimeout = getEnvDuration("LOCK_TIMEOUT", 5*time.Second)
	cfg.TokenTTL = getEnvDuration("TOKEN_TTL", 7*24*time.Hour)
	cfg.ClaimLockDuration = getEnvDuration("CLAIM_LOCK_DURATION", 48*time.Hour)
	cfg.AutoRejectStaleClaims = getEnvBool("AUTO_REJECT_STALE_CLAIMS", true)
	cfg.FinderRewardPoints = getEnvInt("FINDER_REWARD_POINTS", 100)
	cfg.ExpirySweepInterval = getEnvDuration("EXPIRY_SWEEP_INTERVAL", 10*time.Minute)
	cfg.ExpirySweepBatch = getEnvInt("EXPIRY_SWEEP_BATCH", 100)
	cfg.LockerWebhookURL = getEnvString("LOCKER_WEBHOOK_URL", "")
	cfg.LockerWebhookAllowPrivate = getEnvBool("LOCKER_WEBHOOK_ALLOW_PRIVATE", false)
	cfg.LockerWebhookTimeout = getEnvDuration("LOCKER_WEBHOOK_TIMEOUT", 5*time.Second)
	cfg.SignalQueueSize = getEnvInt("SIGNAL_QUEUE_SIZE", 64)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitClaim = getEnvInt("RATE_LIMIT_CLAIM", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.ServerMaxConns = getEnvInt("SERVER_MAX_CONNS", 512)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if cfg.ClaimLockDuration <= 0 {
		return nil, fmt.Errorf("CLAIM_LOCK_DURATION must be positive: %v", cfg.ClaimLockDuration)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
