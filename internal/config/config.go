package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration loaded from environment variables.
type Config struct {
	ListenAddr   string
	HTTPAddr     string
	DefaultRoom  string
	MaxLineBytes int
	MaxFileBytes int
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		ListenAddr:   envOrDefault("LISTEN_ADDR", ":50001"),
		HTTPAddr:     envOrDefault("HTTP_ADDR", ":8080"),
		DefaultRoom:  envOrDefault("DEFAULT_ROOM", "general"),
		MaxLineBytes: envOrDefaultInt("MAX_LINE_BYTES", 64*1024),
		MaxFileBytes: envOrDefaultInt("MAX_FILE_BYTES", 5*1024*1024),
		IdleTimeout:  envOrDefaultSeconds("IDLE_TIMEOUT", 300),
		WriteTimeout: envOrDefaultSeconds("WRITE_TIMEOUT", 10),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envOrDefaultSeconds(key string, fallback int) time.Duration {
	return time.Duration(envOrDefaultInt(key, fallback)) * time.Second
}
