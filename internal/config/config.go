package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"care-reminders/internal/occurrence"
)

const envPrefix = "CARE_"

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config keeps runtime settings for the reminder service.
type Config struct {
	Timezone string         `koanf:"timezone"`
	HTTP     HTTPConfig     `koanf:"http"`
	Store    StoreConfig    `koanf:"store"`
	Schedule ScheduleConfig `koanf:"schedule"`
	Ledger   LedgerConfig   `koanf:"ledger"`
	Push     PushConfig     `koanf:"push"`
	Telegram TelegramConfig `koanf:"telegram"`
	Log      LogConfig      `koanf:"log"`

	// Location is resolved from Timezone by Validate.
	Location *time.Location `koanf:"-"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

type StoreConfig struct {
	Driver        string `koanf:"driver"`
	SQLitePath    string `koanf:"sqlite_path"`
	MongoURI      string `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`
	InQueryLimit  int    `koanf:"in_query_limit"` // max ids per "in" lookup
}

type ScheduleConfig struct {
	UpcomingInterval time.Duration `koanf:"upcoming_interval"`
	MissedInterval   time.Duration `koanf:"missed_interval"`
	DailyAt          string        `koanf:"daily_at"`
	JobTimeout       time.Duration `koanf:"job_timeout"`
}

type LedgerConfig struct {
	ClaimLease time.Duration `koanf:"claim_lease"`
}

type PushConfig struct {
	GatewayURL string        `koanf:"gateway_url"`
	APIKey     string        `koanf:"api_key"`
	BatchSize  int           `koanf:"batch_size"`
	Timeout    time.Duration `koanf:"timeout"`
}

type TelegramConfig struct {
	Token string `koanf:"token"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

// Load merges defaults, the optional YAML file at path, a .env file and
// CARE_* environment variables, in that order. CARE_STORE__DRIVER maps to
// store.driver.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

// Validate checks settings and resolves Location.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.Location = loc

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			c.Store.SQLitePath = "care_reminders.db"
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return fmt.Errorf("store.mongo_uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q (supported: %s, %s)", c.Store.Driver, DriverSQLite, DriverMongo)
	}

	if c.Store.InQueryLimit <= 0 {
		return fmt.Errorf("store.in_query_limit must be positive")
	}
	if c.Schedule.UpcomingInterval <= 0 || c.Schedule.MissedInterval <= 0 {
		return fmt.Errorf("schedule intervals must be positive")
	}
	if _, _, err := occurrence.ParseClock(c.Schedule.DailyAt); err != nil {
		return fmt.Errorf("schedule.daily_at: %w", err)
	}
	if c.Schedule.JobTimeout <= 0 {
		c.Schedule.JobTimeout = 2 * time.Minute
	}
	if c.Ledger.ClaimLease <= 0 {
		return fmt.Errorf("ledger.claim_lease must be positive")
	}
	if c.Push.BatchSize <= 0 {
		return fmt.Errorf("push.batch_size must be positive")
	}
	return nil
}
