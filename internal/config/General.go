package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Ledger backends accepted by LEDGER_MODE.
const (
	LedgerModeMemory   = "memory"
	LedgerModePostgres = "postgres"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Asset is the denom the asset manager invests on behalf of its pools.
	Asset string
	// Identity is the asset manager's own account on the ledger.
	Identity string

	// LedgerMode selects the ledger and receipt store backend.
	LedgerMode string

	// RebalanceFeeCooldown suppresses the rebalance fee after a successful rebalance. Zero disables it.
	RebalanceFeeCooldown time.Duration

	// KeeperEnabled turns on the scheduled keeper.
	KeeperEnabled bool
	// KeeperSchedule is a robfig/cron spec.
	KeeperSchedule string
	// KeeperAccount collects the fees the keeper earns.
	KeeperAccount string

	// PoolsFile is an optional YAML file of pools registered at start-up.
	PoolsFile string

	LogLevel string
	// LogFile, when set, receives a JSON copy of every log line.
	LogFile string

	DBHost     string
	DBPort     uint64
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// AM_ASSET and AM_IDENTITY are required; everything else has a default.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Asset, err = getEnv("AM_ASSET")
	if err != nil {
		return err
	}

	Identity, err = getEnv("AM_IDENTITY")
	if err != nil {
		return err
	}

	LedgerMode = strings.ToLower(getEnvOrDefault("LEDGER_MODE", LedgerModeMemory))
	if LedgerMode != LedgerModeMemory && LedgerMode != LedgerModePostgres {
		return errors.New("environment variable LEDGER_MODE must be memory or postgres, got: " + LedgerMode)
	}

	RebalanceFeeCooldown, err = getEnvAsDuration("REBALANCE_FEE_COOLDOWN", DefaultRebalanceCooldown)
	if err != nil {
		return err
	}
	if RebalanceFeeCooldown < 0 {
		return errors.New("environment variable REBALANCE_FEE_COOLDOWN must not be negative")
	}

	KeeperEnabled, err = getEnvAsBool("KEEPER_ENABLED", false)
	if err != nil {
		return err
	}
	KeeperSchedule = getEnvOrDefault("KEEPER_SCHEDULE", DefaultKeeperSchedule)
	KeeperAccount = getEnvOrDefault("KEEPER_ACCOUNT", "")
	if KeeperEnabled && KeeperAccount == "" {
		return errors.New("environment variable KEEPER_ACCOUNT is required when KEEPER_ENABLED is true")
	}

	PoolsFile = getEnvOrDefault("POOLS_FILE", "")
	LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	LogFile = getEnvOrDefault("LOG_FILE", "")

	if err := loadDBConfig(); err != nil {
		return err
	}

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("Asset", Asset).
		Str("Identity", Identity).
		Str("LedgerMode", LedgerMode).
		Dur("RebalanceFeeCooldown", RebalanceFeeCooldown).
		Bool("KeeperEnabled", KeeperEnabled).
		Msg("Configuration loaded successfully.")

	return nil
}

func loadDBConfig() error {
	DBHost = getEnvOrDefault("DB_HOST", "localhost")
	DBUser = getEnvOrDefault("DB_USER", "")
	DBPassword = getEnvOrDefault("DB_PASSWORD", "")
	DBName = getEnvOrDefault("DB_NAME", "")
	DBSSLMode = getEnvOrDefault("DB_SSLMODE", "disable")

	var err error
	if _, ok := os.LookupEnv("DB_PORT"); ok {
		DBPort, err = getEnvAsUint64("DB_PORT")
		if err != nil {
			return err
		}
	} else {
		DBPort = 5432
	}

	if LedgerMode == LedgerModePostgres {
		if DBUser == "" {
			return errors.New("environment variable DB_USER is required when LEDGER_MODE is postgres")
		}
		if DBName == "" {
			return errors.New("environment variable DB_NAME is required when LEDGER_MODE is postgres")
		}
	}
	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable, falling back when unset or blank.
func getEnvOrDefault(key, fallback string) string {
	if value, err := getEnv(key); err == nil {
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

// getEnvAsDuration retrieves an environment variable as a time.Duration ("90s", "1h").
func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return fallback, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsBool retrieves an environment variable as a bool.
func getEnvAsBool(key string, fallback bool) (bool, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return fallback, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}
