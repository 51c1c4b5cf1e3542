/*
config.go - Environment-driven service configuration

PURPOSE:
  Collects every tunable of the vaccine stock service in one struct.
  Values come from the process environment, optionally seeded from a
  .env file. Command-line flags in cmd/server override a few of them.

KEYS:
  APP_ENV                   deployment name (default: dev)
  HTTP_PORT                 listen port (default: 8080)
  DB_PATH                   SQLite path, ":memory:" allowed (default: vaccine-stock.db)
  LOG_LEVEL / LOG_FORMAT    zap level and "json" | "console"
  CRITICAL_STOCK_THRESHOLD  stock.critical fires below this (default: 10)
  RETRY_MAX_ATTEMPTS        optimistic retry budget per operation (default: 5)
  RETRY_BACKOFF             base backoff between attempts (default: 10ms)
  SWEEP_ENABLED             run the expiry sweeper (default: true)
  SWEEP_INTERVAL            sweeper period (default: 1h)
  REDIS_ADDR                empty disables the Redis stream notifier
  REDIS_PASSWORD / REDIS_DB / REDIS_STREAM
  CORS_ALLOWED_ORIGINS      comma separated (default: *)

SEE ALSO:
  - cmd/server/main.go: Consumes Config
*/
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Logger  LoggerConfig
	Stock   StockConfig
	Sweeper SweeperConfig
	Redis   RedisConfig
}

type ServerConfig struct {
	AppEnv             string
	Port               int
	DBPath             string
	CORSAllowedOrigins []string
}

type LoggerConfig struct {
	Level  string
	Format string
}

type StockConfig struct {
	CriticalThreshold int64
	RetryMaxAttempts  int
	RetryBackoff      time.Duration
}

type SweeperConfig struct {
	Enabled  bool
	Interval time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// Load reads the optional .env file (a missing file is fine) and then
// the environment.
func Load(files ...string) *Config {
	_ = godotenv.Load(files...)
	return LoadEnv()
}

// LoadEnv reads the environment only.
func LoadEnv() *Config {
	return &Config{
		Server: ServerConfig{
			AppEnv:             getEnv("APP_ENV", "dev"),
			Port:               getEnvInt("HTTP_PORT", 8080),
			DBPath:             getEnv("DB_PATH", "vaccine-stock.db"),
			CORSAllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Stock: StockConfig{
			CriticalThreshold: int64(getEnvInt("CRITICAL_STOCK_THRESHOLD", 10)),
			RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 5),
			RetryBackoff:      getEnvDuration("RETRY_BACKOFF", 10*time.Millisecond),
		},
		Sweeper: SweeperConfig{
			Enabled:  getEnvBool("SWEEP_ENABLED", true),
			Interval: getEnvDuration("SWEEP_INTERVAL", time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Stream:   getEnv("REDIS_STREAM", "vaccine-stock.events"),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
