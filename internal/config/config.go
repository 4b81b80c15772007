// Package config loads service configuration from the environment with
// working local-development defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full configuration shared by every binary.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Logging  LoggingConfig
	Analysis AnalysisConfig
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig controls the PostgreSQL connection pool. It is only
// consulted when the storage driver is "postgres".
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Storage driver names accepted by StorageConfig.Driver.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver     string
	SQLitePath string
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string
}

// AnalysisConfig controls the model comparison procedure.
type AnalysisConfig struct {
	Parallel      bool
	MaxConcurrent int
}

// LoadConfig reads configuration from environment variables, applying
// defaults suitable for local development.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         envString("SERVER_HOST", "0.0.0.0"),
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            envString("DB_HOST", "localhost"),
			Port:            5432,
			User:            envString("DB_USER", "postgres"),
			Password:        envString("DB_PASSWORD", "postgres"),
			Database:        envString("DB_NAME", "metabolism"),
			SSLMode:         envString("DB_SSLMODE", "disable"),
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Driver:     envString("STORAGE_DRIVER", "postgres"),
			SQLitePath: envString("SQLITE_PATH", "metabolism.db"),
		},
		Logging: LoggingConfig{
			Level: envString("LOG_LEVEL", "info"),
		},
		Analysis: AnalysisConfig{
			Parallel:      false,
			MaxConcurrent: 4,
		},
	}

	var err error
	if cfg.Server.Port, err = envInt("SERVER_PORT", cfg.Server.Port); err != nil {
		return nil, err
	}
	if cfg.Server.ReadTimeout, err = envDuration("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout); err != nil {
		return nil, err
	}
	if cfg.Server.WriteTimeout, err = envDuration("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout); err != nil {
		return nil, err
	}
	if cfg.Server.IdleTimeout, err = envDuration("SERVER_IDLE_TIMEOUT", cfg.Server.IdleTimeout); err != nil {
		return nil, err
	}
	if cfg.Database.Port, err = envInt("DB_PORT", cfg.Database.Port); err != nil {
		return nil, err
	}
	if cfg.Database.MaxOpenConns, err = envInt("DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns); err != nil {
		return nil, err
	}
	if cfg.Database.MaxIdleConns, err = envInt("DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns); err != nil {
		return nil, err
	}
	if cfg.Database.ConnMaxLifetime, err = envDuration("DB_CONN_MAX_LIFETIME", cfg.Database.ConnMaxLifetime); err != nil {
		return nil, err
	}
	if cfg.Database.ConnMaxIdleTime, err = envDuration("DB_CONN_MAX_IDLE_TIME", cfg.Database.ConnMaxIdleTime); err != nil {
		return nil, err
	}
	if cfg.Analysis.Parallel, err = envBool("ANALYSIS_PARALLEL", cfg.Analysis.Parallel); err != nil {
		return nil, err
	}
	if cfg.Analysis.MaxConcurrent, err = envInt("ANALYSIS_MAX_CONCURRENT", cfg.Analysis.MaxConcurrent); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field consistency before any service starts.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("sqlite driver requires SQLITE_PATH")
		}
	case StoragePostgres:
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Database == "" {
			return fmt.Errorf("postgres driver requires DB_HOST, DB_USER, and DB_NAME")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("database port %d out of range", c.Database.Port)
		}
	default:
		return fmt.Errorf("unknown storage driver %q (want memory, sqlite, or postgres)", c.Storage.Driver)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.Analysis.MaxConcurrent < 1 {
		return fmt.Errorf("analysis max concurrent must be at least 1")
	}
	return nil
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
