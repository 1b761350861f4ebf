package config

import (
	"errors"
	"os"
	"time"
)

type Config struct {
	ServerPort         string
	DatabaseURL        string
	RedisURL           string
	LogLevel           string
	TokenTTL           time.Duration
	TokenRefreshWindow time.Duration
	KeyPairTTL         time.Duration
}

func LoadConfig() (*Config, error) {
	tokenTTL, err := time.ParseDuration(getEnv("TOKEN_TTL", "24h"))
	if err != nil {
		return nil, errors.New("invalid TOKEN_TTL format")
	}
	refreshWindow, err := time.ParseDuration(getEnv("TOKEN_REFRESH_WINDOW", "1h"))
	if err != nil {
		return nil, errors.New("invalid TOKEN_REFRESH_WINDOW format")
	}
	keyPairTTL, err := time.ParseDuration(getEnv("KEYPAIR_TTL", "10m"))
	if err != nil {
		return nil, errors.New("invalid KEYPAIR_TTL format")
	}

	cfg := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		TokenTTL:           tokenTTL,
		TokenRefreshWindow: refreshWindow,
		KeyPairTTL:         keyPairTTL,
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.TokenRefreshWindow >= cfg.TokenTTL {
		return nil, errors.New("TOKEN_REFRESH_WINDOW must be shorter than TOKEN_TTL")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
