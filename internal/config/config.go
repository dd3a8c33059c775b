package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Iris     IrisConfig
	Bot      BotConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Logging  LoggingConfig
}

type IrisConfig struct {
	BaseURL string
	WSURL   string
}

// BotConfig holds the dispatch defaults applied to command definitions
// that do not override them individually.
type BotConfig struct {
	Prefix            string
	PrefixRequirement string // always | group | never
	CaseSensitive     bool
	Rooms             []string
	Admins            []string
	Allowlist         []string
	CooldownSeconds   int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type PostgresConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type LoggingConfig struct {
	Level string
	File  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Iris: IrisConfig{
			BaseURL: getEnv("IRIS_BASE_URL", "http://localhost:3000"),
			WSURL:   getEnv("IRIS_WS_URL", "ws://localhost:3000/ws"),
		},
		Bot: BotConfig{
			Prefix:            getEnv("BOT_PREFIX", "!"),
			PrefixRequirement: strings.ToLower(getEnv("BOT_PREFIX_REQUIREMENT", "always")),
			CaseSensitive:     getEnvBool("BOT_CASE_SENSITIVE", false),
			Rooms:             parseCommaSeparated(getEnv("KAKAO_ROOMS", "")),
			Admins:            parseCommaSeparated(getEnv("BOT_ADMINS", "")),
			Allowlist:         parseCommaSeparated(getEnv("COMMAND_ALLOWLIST", "")),
			CooldownSeconds:   getEnvInt("COMMAND_COOLDOWN_SECONDS", 0),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Enabled:  getEnvBool("AUDIT_ENABLED", false),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "bot"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "dispatch"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Iris.BaseURL == "" {
		return fmt.Errorf("IRIS_BASE_URL is required")
	}
	if c.Iris.WSURL == "" {
		return fmt.Errorf("IRIS_WS_URL is required")
	}
	switch c.Bot.PrefixRequirement {
	case "always", "group", "never":
	default:
		return fmt.Errorf("BOT_PREFIX_REQUIREMENT must be one of always, group, never")
	}
	if c.Bot.Prefix == "" && c.Bot.PrefixRequirement != "never" {
		return fmt.Errorf("BOT_PREFIX is required unless BOT_PREFIX_REQUIREMENT is never")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseCommaSeparated(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
