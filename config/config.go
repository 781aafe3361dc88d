package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBHost     string `env:"DB_HOST" envDefault:""`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"predictor"`
	DBPassword string `env:"DB_PASSWORD" envDefault:""`
	DBName     string `env:"DB_NAME" envDefault:"predictor"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	ModelServiceURL string `env:"MODEL_SERVICE_URL" envDefault:""`
	ModelTimeout    int    `env:"MODEL_TIMEOUT" envDefault:"5"` // seconds

	RedisAddr    string `env:"REDIS_ADDR" envDefault:""`
	RedisChannel string `env:"REDIS_CHANNEL" envDefault:"ecosim:events"`

	TelegramToken  string `env:"TELEGRAM_TOKEN" envDefault:""`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID" envDefault:"0"`

	RetentionDays int `env:"PREDICTION_RETENTION_DAYS" envDefault:"30"`
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	var cfg Config

	cfg.Port = getEnvWithDefault("PORT", "8080")
	cfg.LogLevel = getEnvWithDefault("LOG_LEVEL", "info")

	cfg.DBHost = os.Getenv("DB_HOST")
	cfg.DBPort = getEnvIntWithDefault("DB_PORT", 5432)
	cfg.DBUser = getEnvWithDefault("DB_USER", "predictor")
	cfg.DBPassword = os.Getenv("DB_PASSWORD")
	cfg.DBName = getEnvWithDefault("DB_NAME", "predictor")
	cfg.DBSSLMode = getEnvWithDefault("DB_SSLMODE", "disable")

	cfg.ModelServiceURL = os.Getenv("MODEL_SERVICE_URL")
	cfg.ModelTimeout = getEnvIntWithDefault("MODEL_TIMEOUT", 5)

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisChannel = getEnvWithDefault("REDIS_CHANNEL", "ecosim:events")

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = getEnvInt64WithDefault("TELEGRAM_CHAT_ID", 0)

	cfg.RetentionDays = getEnvIntWithDefault("PREDICTION_RETENTION_DAYS", 30)

	return &cfg, nil
}

// DatabaseConfigured reports whether a postgres host is set. Without one the
// service runs on the in-memory store.
func (c *Config) DatabaseConfigured() bool {
	return c.DBHost != ""
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64WithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
