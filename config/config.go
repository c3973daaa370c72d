// Package config loads service configuration from the environment.
package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Env           string        // "development" or "production"
	Port          string        // HTTP listen port
	DBPath        string        // SQLite database path, ":memory:" allowed
	SchedInterval time.Duration // scheduler polling interval
}

// Load reads configuration from environment variables, with a .env file as
// an optional source for local development.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment only")
	}

	cfg := &Config{
		Env:    getEnv("ENV", "development"),
		Port:   getEnv("PORT", "8080"),
		DBPath: getEnv("DB_PATH", "limits.db"),
	}

	intervalStr := getEnv("SCHED_INTERVAL", "30s")
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		log.Printf("invalid SCHED_INTERVAL %q, falling back to 30s", intervalStr)
		interval = 30 * time.Second
	}
	cfg.SchedInterval = interval

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
