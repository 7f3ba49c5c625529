package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// バックエンドの種別。
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// EnvDevelopment は開発環境を示すAPP_ENVの値。
const EnvDevelopment = "development"

// minSessionSecretLength はCookie署名鍵として受け付ける最小バイト数。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Upstream
	UpstreamURL     string
	UpstreamAPIKey  string
	UpstreamTimeout time.Duration

	// Storage
	RecordBackend  string
	SessionBackend string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int

	// Session
	SessionSecret          string
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Request limits
	MaxBodyBytes   int64
	RateLimitLogin int
	RateLimitWrite int

	// Server
	ServerPort        string
	WorkerMetricsPort string
	BaseURL           string
	AppEnv            string
	LogLevel          string

	// Cookie
	CookieSecure bool
	CookieDomain string
}

// IsDevelopment は開発環境で起動しているかを返す。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// UsesPostgres はいずれかのバックエンドがPostgreSQLを使うかを返す。
func (c *Config) UsesPostgres() bool {
	return c.RecordBackend == BackendPostgres || c.SessionBackend == BackendPostgres
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.UpstreamURL = strings.TrimRight(getEnvString("UPSTREAM_URL", ""), "/")
	if cfg.UpstreamURL == "" {
		missing = append(missing, "UPSTREAM_URL")
	}

	cfg.UpstreamAPIKey = getEnvString("UPSTREAM_API_KEY", "")
	if cfg.UpstreamAPIKey == "" {
		missing = append(missing, "UPSTREAM_API_KEY")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = strings.TrimRight(getEnvString("BASE_URL", ""), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.RecordBackend = strings.ToLower(getEnvString("RECORD_BACKEND", BackendREST))
	cfg.SessionBackend = strings.ToLower(getEnvString("SESSION_BACKEND", BackendPostgres))
	cfg.DatabaseURL = getEnvString("DATABASE_URL", "")
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")

	if cfg.UsesPostgres() && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.SessionBackend == BackendRedis && cfg.RedisAddr == "" {
		missing = append(missing, "REDIS_ADDR")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.RecordBackend != BackendREST && cfg.RecordBackend != BackendPostgres {
		return nil, fmt.Errorf("invalid RECORD_BACKEND %q: must be %q or %q", cfg.RecordBackend, BackendREST, BackendPostgres)
	}
	if cfg.SessionBackend != BackendPostgres && cfg.SessionBackend != BackendRedis {
		return nil, fmt.Errorf("invalid SESSION_BACKEND %q: must be %q or %q", cfg.SessionBackend, BackendPostgres, BackendRedis)
	}
	if len(cfg.SessionSecret) < minSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}

	// Optional fields with defaults
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.MaxBodyBytes = getEnvInt64("MAX_BODY_BYTES", 50<<20)
	cfg.RateLimitLogin = getEnvInt("RATE_LIMIT_LOGIN", 10)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 30)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9090")
	cfg.AppEnv = strings.ToLower(getEnvString("APP_ENV", "production"))
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
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

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
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
