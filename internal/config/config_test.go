package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaunis/xivo-stat/internal/db"
)

// isolateEnv clears every XIVO_STAT_* variable, points the data
// dir at a temp directory and disables the working-directory .env.
func isolateEnv(t *testing.T) string {
	t.Helper()
	for _, k := range []string{
		EnvDBDriver, EnvDSN, EnvLockFile, EnvPeriod, EnvLogLevel,
		EnvLogFormat, EnvQueueLog, EnvMetricsFile, EnvTimezone,
	} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	prev := dotEnvFile
	dotEnvFile = filepath.Join(dir, ".env")
	t.Cleanup(func() { dotEnvFile = prev })
	return dir
}

func writeConfig(t *testing.T, dir string, data any) {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), b, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// writeConfigRaw writes raw string content to config.json.
func writeConfigRaw(t *testing.T, dir string, content string) {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func loadConfigFromFlags(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return Load(fs)
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolateEnv(t)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, db.DriverSQLite, cfg.DBDriver)
	assert.Equal(t, filepath.Join(dir, "stat.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(dir, "xivo-stat.pid"), cfg.LockPath)
	assert.Equal(t, time.Hour, cfg.Granularity)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, DefaultQueueLogPath, cfg.QueueLogPath)
	assert.Equal(t, cfg.DBPath, cfg.DBSource())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.Local, loc)
}

func TestLoad_FileThenEnvThenFlags(t *testing.T) {
	dir := isolateEnv(t)
	writeConfig(t, dir, map[string]string{
		"period":    "30m",
		"log_level": "debug",
		"queue_log": "/srv/queue_log",
		"timezone":  "Europe/Paris",
	})

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.Granularity)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/srv/queue_log", cfg.QueueLogPath)
	assert.Equal(t, "Europe/Paris", cfg.Timezone)

	t.Setenv(EnvPeriod, "15m")
	t.Setenv(EnvLogLevel, "warn")
	cfg, err = Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.Granularity)
	assert.Equal(t, "warn", cfg.LogLevel)

	cfg, err = loadConfigFromFlags(t, "--period", "5m")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Granularity)
	assert.Equal(t, "warn", cfg.LogLevel, "unset flags keep lower layers")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolateEnv(t)
	require.NoError(t, os.WriteFile(dotEnvFile,
		[]byte("XIVO_STAT_METRICS_FILE=/tmp/xivo.prom\n"), 0o600))
	// Setenv registers restoration of the variable that
	// godotenv is about to set.
	t.Setenv(EnvMetricsFile, "")
	require.NoError(t, os.Unsetenv(EnvMetricsFile))

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xivo.prom", cfg.MetricsFile)
	assert.Equal(t, dir, cfg.DataDir)
}

func TestLoad_DotEnvDoesNotOverrideEnv(t *testing.T) {
	isolateEnv(t)
	require.NoError(t, os.WriteFile(dotEnvFile,
		[]byte("XIVO_STAT_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv(EnvLogLevel, "error")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoad_DataDirFlagPicksConfigFile(t *testing.T) {
	isolateEnv(t)
	other := t.TempDir()
	writeConfig(t, other, map[string]string{"log_format": "json"})

	cfg, err := loadConfigFromFlags(t, "--data-dir", other)
	require.NoError(t, err)
	assert.Equal(t, other, cfg.DataDir)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, filepath.Join(other, "stat.db"), cfg.DBPath)
}

func TestLoad_LockFileOverride(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvLockFile, "/run/xivo-stat.pid")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "/run/xivo-stat.pid", cfg.LockPath)
}

func TestLoad_Postgres(t *testing.T) {
	isolateEnv(t)
	t.Setenv(EnvDBDriver, db.DriverPostgres)

	_, err := Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvDSN)

	dsn := "postgres://stat@localhost/asterisk?sslmode=disable"
	t.Setenv(EnvDSN, dsn)
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, dsn, cfg.DBSource())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		file    string
		wantErr string
	}{
		{
			name:    "bad env period",
			env:     map[string]string{EnvPeriod: "hourly"},
			wantErr: "parsing XIVO_STAT_PERIOD",
		},
		{
			name:    "zero period",
			env:     map[string]string{EnvPeriod: "0s"},
			wantErr: "must be positive",
		},
		{
			name:    "unknown driver",
			env:     map[string]string{EnvDBDriver: "mysql"},
			wantErr: `unsupported database driver "mysql"`,
		},
		{
			name:    "unknown log format",
			env:     map[string]string{EnvLogFormat: "xml"},
			wantErr: `unsupported log format "xml"`,
		},
		{
			name:    "unknown time zone",
			env:     map[string]string{EnvTimezone: "Mars/Olympus"},
			wantErr: "loading time zone",
		},
		{
			name:    "corrupt config file",
			file:    "{not json",
			wantErr: "loading config file",
		},
		{
			name:    "bad file period",
			file:    `{"period":"soon"}`,
			wantErr: "parsing period",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolateEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.file != "" {
				writeConfigRaw(t, dir, tt.file)
			}
			_, err := Load(nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
