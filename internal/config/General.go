package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultConfigPath is the YAML file declaring assets, strategies, roles and parameter overrides.
	VaultConfigPath string

	// KeeperSchedule is the cron expression (with a leading seconds field) of the keeper cycle.
	KeeperSchedule string

	// WebPort serves the HTTP API and /metrics.
	WebPort string
	// GRPCPort serves the gRPC health service.
	GRPCPort string

	// LogLevel and LogFormat configure the global logger ("json" or "console").
	LogLevel  string
	LogFormat string

	// DBDriver is "postgres" or "sqlite".
	DBDriver string
	// DBPath is the SQLite file, used when DBDriver is "sqlite".
	DBPath string

	// PostgreSQL connection, used when DBDriver is "postgres".
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// Variables without a documented default are required.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultConfigPath, err = getEnv("VAULT_CONFIG")
	if err != nil {
		return err
	}
	VaultConfigPath, err = expandHome(VaultConfigPath)
	if err != nil {
		return err
	}

	KeeperSchedule, err = getEnv("KEEPER_SCHEDULE")
	if err != nil {
		return err
	}

	WebPort = getEnvOrDefault("WEB_PORT", "8080")
	GRPCPort = getEnvOrDefault("GRPC_PORT", "9090")
	LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	LogFormat = getEnvOrDefault("LOG_FORMAT", "console")

	if err := LoadDatabaseConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("VaultConfig", VaultConfigPath).
		Str("KeeperSchedule", KeeperSchedule).
		Str("DBDriver", DBDriver).
		Str("WebPort", WebPort).
		Msg("Configuration loaded successfully.")

	return nil
}

// LoadDatabaseConfig reads the variables of the selected database driver only. Maintenance scripts call it
// without the rest of LoadConfig.
func LoadDatabaseConfig() error {
	var err error

	DBDriver, err = getEnv("DB_DRIVER")
	if err != nil {
		return err
	}

	switch DBDriver {
	case "sqlite":
		DBPath, err = getEnv("DB_PATH")
		if err != nil {
			return err
		}
		DBPath, err = expandHome(DBPath)
		return err

	case "postgres":
		DBHost = getEnvOrDefault("DB_HOST", "localhost")
		port, err := getEnvAsUint64("DB_PORT")
		if err != nil {
			return err
		}
		DBPort = int(port)
		DBUser, err = getEnv("DB_USER")
		if err != nil {
			return err
		}
		DBPassword, err = getEnv("DB_PASSWORD")
		if err != nil {
			return err
		}
		DBName, err = getEnv("DB_NAME")
		if err != nil {
			return err
		}
		DBSSLMode = getEnvOrDefault("DB_SSLMODE", "disable")
		return nil

	default:
		return errors.New("environment variable DB_DRIVER must be postgres or sqlite, got: " + DBDriver)
	}
}

// expandHome expands a leading tilde (~) to the user's home directory.
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable, falling back when unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}
