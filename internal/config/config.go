package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// Storage: DatabaseURL selects PostgreSQL; otherwise SQLite at
	// SQLitePath is used.
	DatabaseURL string
	SQLitePath  string

	// RedisURL, when set, switches rate limit counters to Redis so
	// multiple instances share windows.
	RedisURL string

	// Secrets. Both peppers and the admin key are required in
	// production.
	ClaimTokenPepper string
	APIKeyPepper     string
	AdminKey         string

	// AdminIPAllowlist restricts /admin/stats to these IPs when
	// non-empty.
	AdminIPAllowlist []string

	// CORS origin allow-list.
	AllowedOrigins []string

	// Anonymous (per-IP) rate limit.
	IPRateMax    int
	IPRateWindow time.Duration

	// Per-agent rate limit.
	AgentRateMax    int
	AgentRateWindow time.Duration
}

var defaultOrigins = []string{
	"https://www.cvsyn.com",
	"https://cvsyn.com",
	"https://rin-web-edo.pages.dev",
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		RedisURL:         os.Getenv("REDIS_URL"),
		ClaimTokenPepper: os.Getenv("CLAIM_TOKEN_PEPPER"),
		APIKeyPepper:     os.Getenv("AGENT_API_KEY_PEPPER"),
		AdminKey:         os.Getenv("ADMIN_KEY"),
		AdminIPAllowlist: splitList(os.Getenv("ADMIN_IP_ALLOWLIST")),
		AllowedOrigins:   defaultOrigins,
		IPRateMax:        getEnvInt("RATE_LIMIT_MAX", 20),
		IPRateWindow:     getEnvMillis("RATE_LIMIT_WINDOW_MS", time.Minute),
		AgentRateMax:     getEnvInt("AGENT_RATE_MAX", 30),
		AgentRateWindow:  getEnvMillis("AGENT_RATE_WINDOW_MS", time.Minute),
	}

	if origins := splitList(os.Getenv("ALLOWED_ORIGINS")); len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}

	// A blank pepper would make every stored hash trivially
	// reproducible from a store leak.
	if cfg.Env == "production" {
		if cfg.ClaimTokenPepper == "" {
			panic("CLAIM_TOKEN_PEPPER is required in production")
		}
		if cfg.APIKeyPepper == "" {
			panic("AGENT_API_KEY_PEPPER is required in production")
		}
		if cfg.AdminKey == "" {
			panic("ADMIN_KEY is required in production")
		}
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
