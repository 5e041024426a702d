package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port string

	// Persistence
	StoreDriver string // "sqlite" | "postgres" | "redis" | "memory"
	SQLitePath  string
	PostgresURL string
	RedisAddr   string
	RedisDB     int

	// Completion backend
	BackendBaseURL string
	BackendAPIKey  string
	BackendModel   string
	// BackendTimeout bounds one backend call; 0 means no timeout and a hung
	// backend leaves its run in_progress until the watchdog sweeps it.
	BackendTimeout time.Duration

	// Run engine
	HistoryWindow    int           // messages included in the prompt
	CancelDelay      time.Duration // cancelling -> cancelled handshake delay
	RunTimeout       time.Duration // watchdog deadline; 0 disables the watchdog
	WatchdogInterval time.Duration

	// Agent directory
	AgentsFile string

	// Logging
	LogLevel string
}

func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		StoreDriver:      getEnv("WEAVE_STORE_DRIVER", "sqlite"),
		SQLitePath:       getEnv("WEAVE_SQLITE_PATH", "./data/weave.sqlite3"),
		PostgresURL:      getEnv("WEAVE_DATABASE_URL", ""),
		RedisAddr:        getEnv("WEAVE_REDIS_ADDR", "127.0.0.1:6379"),
		RedisDB:          getEnvInt("WEAVE_REDIS_DB", 0),
		BackendBaseURL:   getEnv("WEAVE_BACKEND_BASE_URL", "http://127.0.0.1:11434/v1"),
		BackendAPIKey:    getEnv("WEAVE_BACKEND_API_KEY", ""),
		BackendModel:     getEnv("WEAVE_BACKEND_MODEL", "llama3.1:8b"),
		BackendTimeout:   getEnvDurationMS("WEAVE_BACKEND_TIMEOUT_MS", 0),
		HistoryWindow:    getEnvInt("WEAVE_HISTORY_WINDOW", 20),
		CancelDelay:      getEnvDurationMS("WEAVE_CANCEL_DELAY_MS", 500),
		RunTimeout:       getEnvDurationMS("WEAVE_RUN_TIMEOUT_MS", 0),
		WatchdogInterval: getEnvDurationMS("WEAVE_WATCHDOG_INTERVAL_MS", 30000),
		AgentsFile:       getEnv("WEAVE_AGENTS_FILE", "./config/agents.yaml"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDurationMS(key string, fallbackMS int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMS)) * time.Millisecond
}
