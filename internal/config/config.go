// Package config loads the server settings from the environment into a typed
// struct. Load is the only way the rest of the program gets configuration.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Defaults applied when the environment does not override them.
const (
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 5050
	DefaultMaxConcurrent = 3
	MaxConcurrentCeiling = 10
	DefaultLogLevel      = "info"
)

// Config holds all server settings in correct types.
type Config struct {
	Host           string
	Port           int
	DownloadDir    string
	CookieDir      string
	MaxConcurrent  int
	QueueDepth     int
	FFmpegLocation string // optional override, dir or binary path
	LogLevel       string
	LogFile        string
	AllowedOrigins []string // extra CORS origins beyond browser extensions
}

// Load reads the environment, applies defaults, clamps out-of-range values
// and creates the directories the server writes into.
func Load() (*Config, error) {
	cfg := &Config{
		Host:           getEnv("HOST", DefaultHost),
		Port:           getEnvAsInt("PORT", DefaultPort),
		DownloadDir:    getEnv("DOWNLOAD_DIR", defaultDownloadDir()),
		CookieDir:      getEnv("COOKIE_DIR", filepath.Join(os.TempDir(), "clipdesk-cookies")),
		MaxConcurrent:  getEnvAsInt("MAX_CONCURRENT_DOWNLOADS", DefaultMaxConcurrent),
		QueueDepth:     getEnvAsInt("QUEUE_DEPTH", 0),
		FFmpegLocation: getEnv("FFMPEG_LOCATION", ""),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFile:        getEnv("LOG_FILE", ""),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxConcurrent > MaxConcurrentCeiling {
		cfg.MaxConcurrent = MaxConcurrentCeiling
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		cfg.Port = DefaultPort
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.CookieDir, 0700); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func defaultDownloadDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "downloads"
	}
	return filepath.Join(home, "Downloads", "VideoDownloader")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if val, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return val
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
