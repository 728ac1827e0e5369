package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// LINE Messaging API
	LineChannelSecret      string
	LineChannelAccessToken string

	// Webhook
	WebhookTimeout   time.Duration
	WebhookRateLimit float64
	WebhookRateBurst int

	// 外部API呼び出し
	HTTPTimeout    time.Duration
	ContentMaxSize int64

	// カーリルAPI
	CalilAppKey        string
	CalilPollInterval  time.Duration
	CalilCheckTimeout  time.Duration
	CalilMaxPolls      int
	CalilRateLimit     float64
	CalilCheckCacheTTL time.Duration

	// Redis（蔵書検索結果のキャッシュ。空の場合は無効）
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Worker
	CandidateTTL    time.Duration
	CleanupInterval time.Duration
	MetricsPort     string

	// Logging
	LogLevel string

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.LineChannelSecret = os.Getenv("LINE_CHANNEL_SECRET")
	if cfg.LineChannelSecret == "" {
		missing = append(missing, "LINE_CHANNEL_SECRET")
	}

	cfg.LineChannelAccessToken = os.Getenv("LINE_CHANNEL_ACCESS_TOKEN")
	if cfg.LineChannelAccessToken == "" {
		missing = append(missing, "LINE_CHANNEL_ACCESS_TOKEN")
	}

	cfg.CalilAppKey = os.Getenv("CALIL_APPKEY")
	if cfg.CalilAppKey == "" {
		missing = append(missing, "CALIL_APPKEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", 55*time.Second)
	cfg.WebhookRateLimit = getEnvFloat("WEBHOOK_RATE_LIMIT", 20)
	cfg.WebhookRateBurst = getEnvInt("WEBHOOK_RATE_BURST", 40)
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 10*time.Second)
	cfg.ContentMaxSize = getEnvInt64("CONTENT_MAX_SIZE", 10485760)
	cfg.CalilPollInterval = getEnvDuration("CALIL_POLL_INTERVAL", 2*time.Second)
	cfg.CalilCheckTimeout = getEnvDuration("CALIL_CHECK_TIMEOUT", 40*time.Second)
	cfg.CalilMaxPolls = getEnvInt("CALIL_MAX_POLLS", 15)
	cfg.CalilRateLimit = getEnvFloat("CALIL_RATE_LIMIT", 2)
	cfg.CalilCheckCacheTTL = getEnvDuration("CHECK_CACHE_TTL", 5*time.Minute)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.CandidateTTL = getEnvDuration("CANDIDATE_TTL", 24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
