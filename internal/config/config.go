package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（空の場合はインメモリの変更フィードを使用する）
	RedisAddr string

	// 外部テキスト生成（コンフリクト解決用）。
	// Endpointが空の場合は常にフォールバック（提出された解決案をそのまま適用）になる。
	GenAIEndpoint string
	GenAIAPIKey   string
	GenAITimeout  time.Duration

	// Session
	ChangeLogLimit int           // セッションごとに保持する変更履歴の件数
	SessionIdleTTL time.Duration // 最終アクティビティからこの時間を超えたセッションを回収する
	ReaperInterval time.Duration // アイドルセッション回収の実行間隔

	// Rate Limit（req/min単位）
	RateLimitGeneral int
	RateLimitJoin    int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
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

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.GenAIEndpoint = getEnvString("GENAI_ENDPOINT", "")
	cfg.GenAIAPIKey = getEnvString("GENAI_API_KEY", "")
	cfg.GenAITimeout = getEnvDuration("GENAI_TIMEOUT", 15*time.Second)
	cfg.ChangeLogLimit = getEnvInt("SESSION_CHANGELOG_LIMIT", 50)
	cfg.SessionIdleTTL = getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute)
	cfg.ReaperInterval = getEnvDuration("SESSION_REAPER_INTERVAL", 5*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitJoin = getEnvInt("RATE_LIMIT_JOIN", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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
