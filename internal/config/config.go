// Package config provides configuration management: application settings
// from environment variables (with .env support) and the strategy/service
// wiring from an INI file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir    string // Base directory for the archive database and backups (always absolute)
	WiringFile string // INI file with security/service/strategy wiring
	LogLevel   string
	Port       int
	DevMode    bool

	// Paper trading account seeded at startup.
	PaperCash            float64
	PaperExcessLiquidity float64

	// Pre-trade account limits. Zero disables the corresponding check.
	MinExcessLiquidity float64
	MaxVolume          float64

	// Cron schedules for the background jobs.
	ReconcileSchedule string
	BackupSchedule    string

	Backup *BackupConfig
}

// BackupConfig holds the S3-compatible archive backup settings.
type BackupConfig struct {
	Enabled   bool
	Bucket    string
	Endpoint  string // Custom endpoint for S3-compatible storage, empty for AWS
	Region    string
	AccessKey string
	SecretKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("TRDK_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		WiringFile:           getEnv("TRDK_WIRING_FILE", "trdk.ini"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		Port:                 getEnvAsInt("TRDK_PORT", 8080),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		PaperCash:            getEnvAsFloat("TRDK_PAPER_CASH", 100000),
		PaperExcessLiquidity: getEnvAsFloat("TRDK_PAPER_EXCESS_LIQUIDITY", 100000),
		MinExcessLiquidity:   getEnvAsFloat("TRDK_MIN_EXCESS_LIQUIDITY", 0),
		MaxVolume:            getEnvAsFloat("TRDK_MAX_VOLUME", 0),
		ReconcileSchedule:    getEnv("TRDK_RECONCILE_SCHEDULE", "0 */15 * * * *"),
		BackupSchedule:       getEnv("TRDK_BACKUP_SCHEDULE", "0 0 * * * *"),
		Backup:               loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("backup enabled but TRDK_BACKUP_BUCKET is empty")
	}
	return nil
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:   getEnvAsBool("TRDK_BACKUP_ENABLED", false),
		Bucket:    getEnv("TRDK_BACKUP_BUCKET", ""),
		Endpoint:  getEnv("TRDK_BACKUP_ENDPOINT", ""),
		Region:    getEnv("TRDK_BACKUP_REGION", "auto"),
		AccessKey: getEnv("TRDK_BACKUP_ACCESS_KEY", ""),
		SecretKey: getEnv("TRDK_BACKUP_SECRET_KEY", ""),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
