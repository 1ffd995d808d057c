package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr             string
	LogLevel             string
	LogFormat            string
	LogFile              LogFileConfig
	SourceConfigFile     string
	SourceTimeout        time.Duration
	MaxPages             int
	MaxConcurrentSources int
	ParallelPages        bool
	ContentFilter        bool
	CacheTime            time.Duration
	UserAgent            string
	RedisURL             string
	AuthSecret           string
	SourceRateLimitRPS   float64
	SourceRateLimitBurst int
	HTTPRateLimitRPS     float64
	HTTPRateLimitBurst   int
}

// LogFileConfig enables rotated file logging when Path is set.
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8090"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogFile: LogFileConfig{
			Path:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_FILE_MAX_SIZE_MB", 50),
			MaxBackups: getEnvInt("LOG_FILE_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvInt("LOG_FILE_MAX_AGE_DAYS", 14),
		},
		SourceConfigFile:     getEnv("SEARCH_CONFIG_FILE", "config.json"),
		SourceTimeout:        time.Duration(getEnvInt("SEARCH_TIMEOUT_MS", 3000)) * time.Millisecond,
		MaxPages:             getEnvInt("SEARCH_MAX_PAGES", 5),
		MaxConcurrentSources: getEnvInt("SEARCH_MAX_CONCURRENT_SOURCES", 16),
		ParallelPages:        getEnvBool("SEARCH_PARALLEL_PAGES", true),
		ContentFilter:        getEnvBool("SEARCH_CONTENT_FILTER", true),
		CacheTime:            time.Duration(getEnvInt("SEARCH_CACHE_TIME_SECONDS", 7200)) * time.Second,
		UserAgent:            getEnv("SEARCH_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"),
		RedisURL:             getEnv("REDIS_URL", ""),
		AuthSecret:           strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		SourceRateLimitRPS:   getEnvFloat("SEARCH_RATE_LIMIT_RPS", 0),
		SourceRateLimitBurst: getEnvInt("SEARCH_RATE_LIMIT_BURST", 2),
		HTTPRateLimitRPS:     getEnvFloat("HTTP_RATE_LIMIT_RPS", 50),
		HTTPRateLimitBurst:   getEnvInt("HTTP_RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
