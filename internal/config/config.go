package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"MarketIngest/internal/model"
	"MarketIngest/internal/recorder"
)

// DefaultSymbols is the universe ingested when none is configured.
var DefaultSymbols = []string{"AAPL", "MSFT", "GOOG", "AMZN", "META", "TSLA", "JPM", "BAC", "V", "MA"}

// Config holds all application configuration.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	DataSource struct {
		Provider     string `yaml:"provider"`
		AlphaVantage struct {
			BaseURL           string `yaml:"base_url"`
			APIKey            string `yaml:"api_key"`
			RequestsPerMinute int    `yaml:"requests_per_minute"`
		} `yaml:"alpha_vantage"`
		Yahoo struct {
			BaseURL      string `yaml:"base_url"`
			ProbeOnStart bool   `yaml:"probe_on_start"`
		} `yaml:"yahoo"`
		AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	} `yaml:"data_source"`
	Symbols    []string                       `yaml:"symbols"`
	Timeframes map[string]model.TimeframeSpec `yaml:"timeframes"`
	Database   struct {
		Driver       string `yaml:"driver"`
		DSN          string `yaml:"dsn"`
		SQLitePath   string `yaml:"sqlite_path"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		Postgres     struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			DBName   string `yaml:"dbname"`
			SSLMode  string `yaml:"sslmode"`
		} `yaml:"postgres"`
	} `yaml:"database"`
	Blob struct {
		Driver   string `yaml:"driver"`
		Bucket   string `yaml:"bucket"`
		LocalDir string `yaml:"local_dir"`
		Minio    struct {
			Endpoint  string `yaml:"endpoint"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			UseSSL    bool   `yaml:"use_ssl"`
			Region    string `yaml:"region"`
		} `yaml:"minio"`
	} `yaml:"blob"`
	Schedule struct {
		Cron       string `yaml:"cron"`
		RunOnStart bool   `yaml:"run_on_start"`
	} `yaml:"schedule"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
		Commands bool   `yaml:"commands"`
	} `yaml:"telegram"`
	Pipeline struct {
		Timeframes  []string      `yaml:"timeframes"`
		Concurrency int           `yaml:"concurrency"`
		BurstSize   int           `yaml:"burst_size"`
		Cooldown    time.Duration `yaml:"cooldown"`
	} `yaml:"pipeline"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then .env, then environment variable
// overrides, and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("could not load .env")
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("DATA_SOURCE", &c.DataSource.Provider)
	str("ALPHA_VANTAGE_API_KEY", &c.DataSource.AlphaVantage.APIKey)
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = splitList(v)
	}
	if v := os.Getenv("TIMEFRAMES"); v != "" {
		c.Pipeline.Timeframes = splitList(v)
	}

	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_DSN", &c.Database.DSN)
	str("SQLITE_PATH", &c.Database.SQLitePath)
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Database.Postgres.Host = v
		if c.Database.Driver == "" {
			c.Database.Driver = "postgres"
		}
	}
	num("POSTGRES_PORT", &c.Database.Postgres.Port)
	str("POSTGRES_USER", &c.Database.Postgres.User)
	str("POSTGRES_PASSWORD", &c.Database.Postgres.Password)
	str("POSTGRES_DB", &c.Database.Postgres.DBName)

	str("BLOB_DRIVER", &c.Blob.Driver)
	if v := os.Getenv("MINIO_HOST"); v != "" {
		port := os.Getenv("MINIO_PORT")
		if port == "" {
			port = "9000"
		}
		c.Blob.Minio.Endpoint = v + ":" + port
		if c.Blob.Driver == "" {
			c.Blob.Driver = "minio"
		}
	}
	str("MINIO_ENDPOINT", &c.Blob.Minio.Endpoint)
	str("MINIO_ROOT_USER", &c.Blob.Minio.AccessKey)
	str("MINIO_ROOT_PASSWORD", &c.Blob.Minio.SecretKey)

	str("CRON_SCHEDULE", &c.Schedule.Cron)
	if v := os.Getenv("RUN_ON_START"); v != "" {
		c.Schedule.RunOnStart = v == "true"
	}
	str("HTTP_ADDR", &c.HTTP.Addr)
	str("TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)
	str("TELEGRAM_CHAT_ID", &c.Telegram.ChatID)
	str("HTTPS_PROXY", &c.Proxy)
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.DataSource.Provider == "" {
		c.DataSource.Provider = "yahoo"
	}
	if c.DataSource.AlphaVantage.RequestsPerMinute == 0 {
		c.DataSource.AlphaVantage.RequestsPerMinute = 5
	}
	if c.DataSource.AttemptTimeout == 0 {
		c.DataSource.AttemptTimeout = 30 * time.Second
	}
	if len(c.Symbols) == 0 {
		c.Symbols = append([]string(nil), DefaultSymbols...)
	}
	if len(c.Pipeline.Timeframes) == 0 {
		c.Pipeline.Timeframes = []string{"hourly", "daily", "weekly", "monthly"}
	}
	if c.Pipeline.Concurrency == 0 {
		c.Pipeline.Concurrency = 4
	}
	if c.Pipeline.BurstSize == 0 {
		c.Pipeline.BurstSize = 5
	}
	if c.Pipeline.Cooldown == 0 {
		c.Pipeline.Cooldown = 65 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/market_ingest.db"
	}
	pg := &c.Database.Postgres
	if pg.Port == 0 {
		pg.Port = 5432
	}
	if pg.DBName == "" {
		pg.DBName = "postgres"
	}
	if c.Blob.Driver == "" {
		c.Blob.Driver = "local"
	}
	if c.Blob.Bucket == "" {
		c.Blob.Bucket = "stock-data"
	}
	if c.Blob.LocalDir == "" {
		c.Blob.LocalDir = "data/blob"
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "0 0 * * * *"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	switch strings.ToLower(c.DataSource.Provider) {
	case "alphavantage", "alpha_vantage", "yahoo", "synthetic", "mock":
	default:
		return fmt.Errorf("data_source.provider %q is not supported", c.DataSource.Provider)
	}
	for key := range c.Timeframes {
		if _, ok := model.CanonicalKey(key); !ok {
			return fmt.Errorf("timeframes: unknown key %q", key)
		}
	}
	for _, key := range c.Pipeline.Timeframes {
		if _, ok := model.CanonicalKey(key); !ok {
			return fmt.Errorf("pipeline.timeframes: unknown key %q", key)
		}
	}
	switch c.Database.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Database.DSN == "" && c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host or database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.Blob.Driver {
	case "local", "memory":
	case "minio":
		if c.Blob.Minio.Endpoint == "" {
			return fmt.Errorf("blob.minio.endpoint is required")
		}
	default:
		return fmt.Errorf("blob.driver %q is not supported", c.Blob.Driver)
	}
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be positive")
	}
	if c.Pipeline.BurstSize < 1 {
		return fmt.Errorf("pipeline.burst_size must be positive")
	}
	return nil
}

// TimeframeTable returns the canonical timeframe table with configured
// interval/period overrides applied.
func (c *Config) TimeframeTable() map[string]model.TimeframeSpec {
	table := model.DefaultTimeframes()
	for k, override := range c.Timeframes {
		key, ok := model.CanonicalKey(k)
		if !ok {
			continue
		}
		spec := table[key]
		if override.Interval != "" {
			spec.Interval = override.Interval
		}
		if override.Period != "" {
			spec.Period = override.Period
		}
		table[key] = spec
	}
	return table
}

// RecorderOptions maps the database section to recorder options.
func (c *Config) RecorderOptions() recorder.Options {
	opts := recorder.Options{Driver: c.Database.Driver, DSN: c.Database.DSN, MaxOpenConns: c.Database.MaxOpenConns}
	if opts.DSN == "" {
		switch c.Database.Driver {
		case "postgres":
			pg := c.Database.Postgres
			opts.DSN = recorder.PostgresDSN(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName, pg.SSLMode)
		case "sqlite":
			opts.DSN = c.Database.SQLitePath
		}
	}
	return opts
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
