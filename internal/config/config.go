package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Storage drivers.
const (
	DriverMongoDB = "mongodb"
	DriverMemory  = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	MongoDB   MongoDBConfig
	Ledger    LedgerConfig
	Scheduler SchedulerConfig
	Sheets    SheetsConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port     string
	LogLevel string
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string
}

// MongoDBConfig holds settings for MongoDB.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// LedgerConfig tunes write retries.
type LedgerConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// SchedulerConfig holds the cron schedules of background jobs. An empty
// AuditExportSchedule disables the export.
type SchedulerConfig struct {
	AuditRetrySchedule  string
	ReconcileSchedule   string
	AuditExportSchedule string
	Timezone            string
}

// SheetsConfig contains configuration required to mirror the audit trail into
// Google Sheets.
type SheetsConfig struct {
	CredentialsPath string
	SpreadsheetID   string
}

// Enabled reports whether the Sheets mirror is configured.
func (s SheetsConfig) Enabled() bool {
	return s.CredentialsPath != "" && s.SpreadsheetID != ""
}

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are fine when configuration comes from the
		// environment directly.
		_ = godotenv.Load()
	}

	maxAttempts, err := getenvInt("LEDGER_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	initial, err := getenvDuration("LEDGER_RETRY_INITIAL_INTERVAL", 20*time.Millisecond)
	if err != nil {
		return nil, err
	}
	maxInterval, err := getenvDuration("LEDGER_RETRY_MAX_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     getenvWithDefault("APP_PORT", "8080"),
			LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
		},
		Storage: StorageConfig{
			Driver: getenvWithDefault("STORAGE_DRIVER", DriverMongoDB),
		},
		MongoDB: MongoDBConfig{
			URI:    os.Getenv("MONGODB_URI"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "flockledger"),
		},
		Ledger: LedgerConfig{
			MaxAttempts:     maxAttempts,
			InitialInterval: initial,
			MaxInterval:     maxInterval,
		},
		Scheduler: SchedulerConfig{
			AuditRetrySchedule:  getenvWithDefault("AUDIT_RETRY_SCHEDULE", "@every 30s"),
			ReconcileSchedule:   getenvWithDefault("RECONCILE_SCHEDULE", "0 3 * * *"),
			AuditExportSchedule: os.Getenv("AUDIT_EXPORT_SCHEDULE"),
			Timezone:            getenvWithDefault("TIMEZONE", "Africa/Conakry"),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_DATABASE_ID"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch c.Storage.Driver {
	case DriverMongoDB:
		if c.MongoDB.URI == "" {
			return errors.New("MONGODB_URI must be provided when STORAGE_DRIVER=mongodb")
		}
		if c.MongoDB.DBName == "" {
			return errors.New("MONGODB_DB_NAME must not be empty")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", DriverMongoDB, DriverMemory, c.Storage.Driver)
	}

	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("LEDGER_MAX_ATTEMPTS must be at least 1, got %d", c.Ledger.MaxAttempts)
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is invalid: %w", c.Scheduler.Timezone, err)
	}

	schedules := map[string]string{
		"AUDIT_RETRY_SCHEDULE":  c.Scheduler.AuditRetrySchedule,
		"RECONCILE_SCHEDULE":    c.Scheduler.ReconcileSchedule,
		"AUDIT_EXPORT_SCHEDULE": c.Scheduler.AuditExportSchedule,
	}
	for key, spec := range schedules {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s %q is invalid: %w", key, spec, err)
		}
	}

	if c.Scheduler.AuditExportSchedule != "" && !c.Sheets.Enabled() {
		return errors.New("AUDIT_EXPORT_SCHEDULE requires GOOGLE_SHEETS_CREDENTIALS_PATH and GOOGLE_SHEET_DATABASE_ID")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return n, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, raw)
	}
	return d, nil
}
