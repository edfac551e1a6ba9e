package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// データベースドライバー
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// バックアップの保存先
const (
	BackupFile = "file"
	BackupS3   = "s3"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseDriver string
	DatabaseURL    string

	// Admin
	AdminToken string

	// Providers
	SlipClientID     string
	SlipClientSecret string
	SlipEndpoint     string
	WalletEndpoint   string
	ProviderTimeout  time.Duration

	// Alert
	AlertInterval    time.Duration
	AlertHistorySize int
	// AlertLogRetentionDays は配信ログ（alert_log）の保持日数
	AlertLogRetentionDays int

	// Ledger
	DonationRetention int
	StatsTimezone     string
	StatsLocation     *time.Location

	// Auth
	SessionTTL        time.Duration
	LoginMaxAttempts  int
	LoginLockDuration time.Duration

	// Rental
	RentalSweepInterval  time.Duration
	RentalPurgeGraceDays int

	// Backup
	BackupDriver string
	BackupDir    string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	S3AccessKey  string
	S3SecretKey  string

	// Rate Limit（req/min/IP）
	RateLimitDonate int
	RateLimitLogin  int
	TrustProxy      bool

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseDriver = strings.ToLower(getEnvString("DATABASE_DRIVER", DriverPostgres))
	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported DATABASE_DRIVER: %q", cfg.DatabaseDriver)
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.DatabaseDriver != DriverMemory {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if cfg.AdminToken == "" {
		missing = append(missing, "ADMIN_TOKEN")
	}

	cfg.SlipClientID = os.Getenv("SLIP_CLIENT_ID")
	if cfg.SlipClientID == "" {
		missing = append(missing, "SLIP_CLIENT_ID")
	}

	cfg.SlipClientSecret = os.Getenv("SLIP_CLIENT_SECRET")
	if cfg.SlipClientSecret == "" {
		missing = append(missing, "SLIP_CLIENT_SECRET")
	}

	cfg.BackupDriver = strings.ToLower(getEnvString("BACKUP_DRIVER", BackupFile))
	cfg.S3Bucket = os.Getenv("S3_BUCKET")
	if cfg.BackupDriver == BackupS3 && cfg.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.BackupDriver != BackupFile && cfg.BackupDriver != BackupS3 {
		return nil, fmt.Errorf("unsupported BACKUP_DRIVER: %q", cfg.BackupDriver)
	}

	// Optional fields with defaults
	cfg.SlipEndpoint = getEnvString("SLIP_ENDPOINT", "https://suba.rdcw.co.th/v1/inquiry")
	cfg.WalletEndpoint = getEnvString("WALLET_ENDPOINT", "https://gift.truemoney.com/campaign/vouchers")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 30*time.Second)
	cfg.AlertInterval = getEnvDuration("ALERT_INTERVAL", 6*time.Second)
	cfg.AlertHistorySize = getEnvInt("ALERT_HISTORY_SIZE", 50)
	cfg.AlertLogRetentionDays = getEnvInt("ALERT_LOG_RETENTION_DAYS", 90)
	cfg.DonationRetention = getEnvInt("DONATION_RETENTION", 1000)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 24*time.Hour)
	cfg.LoginMaxAttempts = getEnvInt("LOGIN_MAX_ATTEMPTS", 5)
	cfg.LoginLockDuration = getEnvDuration("LOGIN_LOCK_DURATION", 15*time.Minute)
	cfg.RentalSweepInterval = getEnvDuration("RENTAL_SWEEP_INTERVAL", time.Hour)
	cfg.RentalPurgeGraceDays = getEnvInt("RENTAL_PURGE_GRACE_DAYS", 7)
	cfg.BackupDir = getEnvString("BACKUP_DIR", "./backups")
	cfg.S3Region = getEnvString("S3_REGION", "ap-southeast-1")
	cfg.S3Endpoint = os.Getenv("S3_ENDPOINT")
	cfg.S3AccessKey = os.Getenv("S3_ACCESS_KEY")
	cfg.S3SecretKey = os.Getenv("S3_SECRET_KEY")
	cfg.RateLimitDonate = getEnvInt("RATE_LIMIT_DONATE", 10)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 20)
	cfg.TrustProxy = getEnvBool("TRUST_PROXY", false)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "*")

	cfg.StatsTimezone = getEnvString("STATS_TIMEZONE", "Asia/Bangkok")
	loc, err := time.LoadLocation(cfg.StatsTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid STATS_TIMEZONE %q: %w", cfg.StatsTimezone, err)
	}
	cfg.StatsLocation = loc

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
