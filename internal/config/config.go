package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultHost   = "localhost"
	defaultPort   = 0
	defaultDBPath = "higlass.db"

	envHost     = "HIGLASS_HOST"
	envPort     = "HIGLASS_PORT"
	envDBPath   = "HIGLASS_DB_PATH"
	envLogLevel = "HIGLASS_LOG_LEVEL"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Host     string
	Port     int
	DBPath   string
	LogLevel slog.Level
}

// Load reads configuration from environment variables with sensible
// defaults. The default port is zero, which lets the tile server pick a
// free one.
func Load() Config {
	cfg := Config{
		Host:     defaultHost,
		Port:     defaultPort,
		DBPath:   defaultDBPath,
		LogLevel: slog.LevelInfo,
	}

	if v := os.Getenv(envHost); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv(envPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
