package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

type Config struct {
	AppEnv      string
	StorageType string
	DatabaseURL string
	RedisAddr   string
	RedisPrefix string
	HTTPPort    string
	LogLevel    string
	LogBackend  string
	JWTSecret   string

	MessagePageSize     int
	TypingExpiry        time.Duration
	TypingSweepInterval time.Duration
	TypingStaleAfter    time.Duration
}

var AppConfig Config

// LoadConfig fills AppConfig from the environment, reading a .env file first
// when one exists.
func LoadConfig() error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := Config{
		AppEnv:      getEnv("APP_ENV", "dev"),
		StorageType: strings.ToLower(getEnv("STORAGE_DRIVER", StorageSQLite)),
		DatabaseURL: getEnv("DATABASE_URL", "localchat.db"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPrefix: getEnv("REDIS_PREFIX", "localchat:"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		LogBackend:  getEnv("LOG_BACKEND", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),

		MessagePageSize:     getEnvAsInt("MESSAGE_PAGE_SIZE", 50),
		TypingExpiry:        getEnvAsDuration("TYPING_EXPIRY", 3*time.Second),
		TypingSweepInterval: getEnvAsDuration("TYPING_SWEEP_INTERVAL", time.Second),
		TypingStaleAfter:    getEnvAsDuration("TYPING_STALE_AFTER", 5*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}
	switch c.StorageType {
	case StorageSQLite, StorageRedis, StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageType)
	}
	if c.MessagePageSize <= 0 {
		c.MessagePageSize = 50
	}
	return nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if d, err := time.ParseDuration(valueStr); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
