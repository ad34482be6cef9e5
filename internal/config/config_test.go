package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"APP_PORT", "LOG_LEVEL", "STORAGE_DRIVER", "MONGODB_URI", "MONGODB_DB_NAME",
	"LEDGER_MAX_ATTEMPTS", "LEDGER_RETRY_INITIAL_INTERVAL", "LEDGER_RETRY_MAX_INTERVAL",
	"AUDIT_RETRY_SCHEDULE", "RECONCILE_SCHEDULE", "AUDIT_EXPORT_SCHEDULE", "TIMEZONE",
	"GOOGLE_SHEETS_CREDENTIALS_PATH", "GOOGLE_SHEET_DATABASE_ID",
}

// clearEnv blanks every key for the test; empty values fall back to defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func writeEnv(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsForMemoryDriver(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", DriverMemory)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 5, cfg.Ledger.MaxAttempts)
	assert.Equal(t, 20*time.Millisecond, cfg.Ledger.InitialInterval)
	assert.Equal(t, "@every 30s", cfg.Scheduler.AuditRetrySchedule)
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.ReconcileSchedule)
	assert.Empty(t, cfg.Scheduler.AuditExportSchedule)
	assert.False(t, cfg.Sheets.Enabled())
}

func TestLoadFromEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv does not override variables that are already set, even empty.
	for _, k := range []string{"APP_PORT", "MONGODB_URI", "LEDGER_MAX_ATTEMPTS"} {
		require.NoError(t, os.Unsetenv(k))
	}
	t.Cleanup(func() {
		for _, k := range []string{"APP_PORT", "MONGODB_URI", "LEDGER_MAX_ATTEMPTS"} {
			_ = os.Unsetenv(k)
		}
	})

	path := writeEnv(t, "APP_PORT=9090\nMONGODB_URI=mongodb://localhost:27017\nLEDGER_MAX_ATTEMPTS=8\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, DriverMongoDB, cfg.Storage.Driver)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
	assert.Equal(t, "flockledger", cfg.MongoDB.DBName)
	assert.Equal(t, 8, cfg.Ledger.MaxAttempts)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", DriverMemory)
	t.Setenv("LEDGER_MAX_ATTEMPTS", "many")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "LEDGER_MAX_ATTEMPTS")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:  ServerConfig{Port: "8080"},
			Storage: StorageConfig{Driver: DriverMongoDB},
			MongoDB: MongoDBConfig{URI: "mongodb://localhost", DBName: "flockledger"},
			Ledger:  LedgerConfig{MaxAttempts: 3},
			Scheduler: SchedulerConfig{
				AuditRetrySchedule: "@every 30s",
				ReconcileSchedule:  "0 3 * * *",
				Timezone:           "UTC",
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, errMsg: "APP_PORT"},
		{name: "mongo without uri", mutate: func(c *Config) { c.MongoDB.URI = "" }, errMsg: "MONGODB_URI"},
		{name: "memory without uri", mutate: func(c *Config) { c.Storage.Driver = DriverMemory; c.MongoDB.URI = "" }},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }, errMsg: "STORAGE_DRIVER"},
		{name: "zero attempts", mutate: func(c *Config) { c.Ledger.MaxAttempts = 0 }, errMsg: "LEDGER_MAX_ATTEMPTS"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, errMsg: "TIMEZONE"},
		{name: "bad schedule", mutate: func(c *Config) { c.Scheduler.ReconcileSchedule = "every day" }, errMsg: "RECONCILE_SCHEDULE"},
		{name: "export without sheets", mutate: func(c *Config) { c.Scheduler.AuditExportSchedule = "@hourly" }, errMsg: "AUDIT_EXPORT_SCHEDULE"},
		{name: "export with sheets", mutate: func(c *Config) {
			c.Scheduler.AuditExportSchedule = "@hourly"
			c.Sheets = SheetsConfig{CredentialsPath: "creds.json", SpreadsheetID: "sheet"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}

	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
}
