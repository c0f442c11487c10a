package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/jaunis/xivo-stat/internal/db"
)

// Environment variables read by Load.
const (
	EnvDataDir     = "XIVO_STAT_DATA_DIR"
	EnvDBDriver    = "XIVO_STAT_DB_DRIVER"
	EnvDSN         = "XIVO_STAT_DSN"
	EnvLockFile    = "XIVO_STAT_LOCK_FILE"
	EnvPeriod      = "XIVO_STAT_PERIOD"
	EnvLogLevel    = "XIVO_STAT_LOG_LEVEL"
	EnvLogFormat   = "XIVO_STAT_LOG_FORMAT"
	EnvQueueLog    = "XIVO_STAT_QUEUE_LOG"
	EnvMetricsFile = "XIVO_STAT_METRICS_FILE"
	EnvTimezone    = "XIVO_STAT_TZ"
)

// DefaultQueueLogPath is where Asterisk writes its queue log.
const DefaultQueueLogPath = "/var/log/asterisk/queue_log"

// dotEnvFile is loaded into the environment, if present, before
// anything else is read. Variables already set are kept.
var dotEnvFile = ".env"

// Config holds all application configuration.
type Config struct {
	DataDir      string        `json:"data_dir"`
	DBDriver     string        `json:"db_driver"`
	DBPath       string        `json:"-"`
	DSN          string        `json:"dsn,omitempty"`
	LockPath     string        `json:"lock_file,omitempty"`
	Granularity  time.Duration `json:"-"`
	LogLevel     string        `json:"log_level"`
	LogFormat    string        `json:"log_format"`
	QueueLogPath string        `json:"queue_log"`
	MetricsFile  string        `json:"metrics_file,omitempty"`
	Timezone     string        `json:"timezone,omitempty"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	return Config{
		DataDir:      filepath.Join(home, ".xivo-stat"),
		DBDriver:     db.DriverSQLite,
		Granularity:  time.Hour,
		LogLevel:     "info",
		LogFormat:    "console",
		QueueLogPath: DefaultQueueLogPath,
	}, nil
}

// Load builds a Config by layering: defaults < .env < config file
// < env < flags. The provided FlagSet must already be parsed by
// the caller. Only flags that were explicitly set override the
// lower layers.
func Load(fs *pflag.FlagSet) (Config, error) {
	if err := loadDotEnv(dotEnvFile); err != nil {
		return Config{}, err
	}
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}

	// The data dir decides where config.json lives, so it is
	// resolved before the file is read.
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if fs != nil {
		if f := fs.Lookup("data-dir"); f != nil && f.Changed {
			cfg.DataDir = f.Value.String()
		}
	}

	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	if err := cfg.loadEnv(); err != nil {
		return cfg, err
	}
	if err := applyFlags(&cfg, fs); err != nil {
		return cfg, err
	}

	cfg.DBPath = filepath.Join(cfg.DataDir, "stat.db")
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(cfg.DataDir, "xivo-stat.pid")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		DBDriver    string `json:"db_driver"`
		DSN         string `json:"dsn"`
		LockFile    string `json:"lock_file"`
		Period      string `json:"period"`
		LogLevel    string `json:"log_level"`
		LogFormat   string `json:"log_format"`
		QueueLog    string `json:"queue_log"`
		MetricsFile string `json:"metrics_file"`
		Timezone    string `json:"timezone"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if file.Period != "" {
		d, err := time.ParseDuration(file.Period)
		if err != nil {
			return fmt.Errorf("parsing period: %w", err)
		}
		c.Granularity = d
	}
	setIf(&c.DBDriver, file.DBDriver)
	setIf(&c.DSN, file.DSN)
	setIf(&c.LockPath, file.LockFile)
	setIf(&c.LogLevel, file.LogLevel)
	setIf(&c.LogFormat, file.LogFormat)
	setIf(&c.QueueLogPath, file.QueueLog)
	setIf(&c.MetricsFile, file.MetricsFile)
	setIf(&c.Timezone, file.Timezone)
	return nil
}

func (c *Config) loadEnv() error {
	if v := os.Getenv(EnvPeriod); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", EnvPeriod, err)
		}
		c.Granularity = d
	}
	setIf(&c.DBDriver, os.Getenv(EnvDBDriver))
	setIf(&c.DSN, os.Getenv(EnvDSN))
	setIf(&c.LockPath, os.Getenv(EnvLockFile))
	setIf(&c.LogLevel, os.Getenv(EnvLogLevel))
	setIf(&c.LogFormat, os.Getenv(EnvLogFormat))
	setIf(&c.QueueLogPath, os.Getenv(EnvQueueLog))
	setIf(&c.MetricsFile, os.Getenv(EnvMetricsFile))
	setIf(&c.Timezone, os.Getenv(EnvTimezone))
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// RegisterFlags registers the configuration flags shared by every
// command on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("data-dir", "", "Directory holding the database and config.json")
	fs.String("db-driver", db.DriverSQLite, "Database driver: sqlite3 or postgres")
	fs.String("dsn", "", "PostgreSQL connection string")
	fs.Duration("period", time.Hour, "Statistics period size")
	fs.String("log-level", "info", "Log level")
	fs.String("log-format", "console", "Log format: console or json")
	fs.String("tz", "", "Time zone for --start and --end (default local)")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var err error
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "db-driver":
			cfg.DBDriver = f.Value.String()
		case "dsn":
			cfg.DSN = f.Value.String()
		case "period":
			cfg.Granularity, err = fs.GetDuration("period")
		case "log-level":
			cfg.LogLevel = f.Value.String()
		case "log-format":
			cfg.LogFormat = f.Value.String()
		case "tz":
			cfg.Timezone = f.Value.String()
		}
	})
	return err
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Granularity <= 0 {
		return fmt.Errorf(
			"invalid period %s: must be positive", c.Granularity,
		)
	}
	switch c.DBDriver {
	case db.DriverSQLite:
	case db.DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("%s is required for postgres", EnvDSN)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.DBDriver)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// DBSource returns the path or DSN to open for DBDriver.
func (c *Config) DBSource() string {
	if c.DBDriver == db.DriverPostgres {
		return c.DSN
	}
	return c.DBPath
}

// Location returns the zone CLI datetimes are read in.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone: %w", err)
	}
	return loc, nil
}
