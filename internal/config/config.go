package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Redis    RedisConfig    `yaml:"redis"`
	Fred     FredConfig     `yaml:"fred"`
	Telegram TelegramConfig `yaml:"telegram"`
	Monitor  MonitorRef     `yaml:"monitor"`
	Jobs     JobsConfig     `yaml:"jobs"`
	API      APIConfig      `yaml:"api"`
}

type ServerConfig struct {
	BindAddr string `yaml:"bindAddr"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// FredConfig configures the upstream FRED API client.
type FredConfig struct {
	BaseURL           string `yaml:"baseURL"`
	APIKey            string `yaml:"apiKey"`
	RequestsPerMinute int    `yaml:"requestsPerMinute"`
	Timeout           string `yaml:"timeout"` // e.g. "30s"
	RetryDelay        string `yaml:"retryDelay"`
	BackfillDays      int    `yaml:"backfillDays"` // initial window for series with no stored data
}

type TelegramConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"botToken"`
	ChatID    string `yaml:"chatID"`
	ParseMode string `yaml:"parseMode"`
	Timeout   string `yaml:"timeout"`
}

func (c *FredConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, 30*time.Second)
}

func (c *FredConfig) GetRetryDelay() time.Duration {
	return parseDurationOr(c.RetryDelay, 2*time.Second)
}

func (c *TelegramConfig) GetTimeout() time.Duration {
	return parseDurationOr(c.Timeout, 10*time.Second)
}

// MonitorRef points at the monitor definition document (series, derived
// metrics, alert rules, panel layout). See monitor.go.
type MonitorRef struct {
	ConfigFile string `yaml:"configFile"`
}

type JobsConfig struct {
	FetchInterval    string   `yaml:"fetchInterval"`    // incremental fetch + recompute
	CheckInterval    string   `yaml:"checkInterval"`    // alert evaluation
	BackfillInterval string   `yaml:"backfillInterval"` // periodic deep refetch
	BackfillDays     int      `yaml:"backfillDays"`     // window for the deep refetch
	SummaryHour      int      `yaml:"summaryHour"`      // UTC hour the daily digest fires at
	SummaryTick      string   `yaml:"summaryTick"`
	SnapshotInterval string   `yaml:"snapshotInterval"` // dashboard snapshot refresh
	NotifySeverities []string `yaml:"notifySeverities"` // severities forwarded to the notifier
	AlertChanSize    int      `yaml:"alertChanSize"`
}

type APIConfig struct {
	BearerToken string `yaml:"bearerToken"` // empty leaves mutating routes open
}

func (c *JobsConfig) GetFetchInterval() time.Duration {
	return parseDurationOr(c.FetchInterval, 6*time.Hour)
}

func (c *JobsConfig) GetCheckInterval() time.Duration {
	return parseDurationOr(c.CheckInterval, time.Hour)
}

func (c *JobsConfig) GetBackfillInterval() time.Duration {
	return parseDurationOr(c.BackfillInterval, 168*time.Hour)
}

func (c *JobsConfig) GetSummaryTick() time.Duration {
	return parseDurationOr(c.SummaryTick, 15*time.Minute)
}

func (c *JobsConfig) GetSnapshotInterval() time.Duration {
	return parseDurationOr(c.SnapshotInterval, 10*time.Minute)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Warn().Err(err).Str("value", s).Msg("invalid duration, using default")
		return def
	}
	return d
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()

	cfg := &Config{
		Server: ServerConfig{
			BindAddr: getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "fedmon"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "fedmon"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Fred: FredConfig{
			BaseURL:           getEnv("FRED_BASE_URL", "https://api.stlouisfed.org/fred"),
			APIKey:            getEnv("FRED_API_KEY", ""),
			RequestsPerMinute: getEnvInt("FRED_RATE_LIMIT", 120),
			Timeout:           getEnv("FRED_TIMEOUT", "30s"),
			RetryDelay:        getEnv("FRED_RETRY_DELAY", "2s"),
			BackfillDays:      getEnvInt("FRED_BACKFILL_DAYS", 30),
		},
		Telegram: TelegramConfig{
			Enabled:   getEnvBool("TELEGRAM_ENABLED", false),
			BotToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:    getEnv("TELEGRAM_CHAT_ID", ""),
			ParseMode: getEnv("TELEGRAM_PARSE_MODE", "Markdown"),
			Timeout:   getEnv("TELEGRAM_TIMEOUT", "10s"),
		},
		Monitor: MonitorRef{
			ConfigFile: getEnv("MONITOR_CONFIG_FILE", ""),
		},
		Jobs: JobsConfig{
			FetchInterval:    getEnv("FETCH_INTERVAL", "6h"),
			CheckInterval:    getEnv("CHECK_INTERVAL", "1h"),
			BackfillInterval: getEnv("BACKFILL_INTERVAL", "168h"),
			BackfillDays:     getEnvInt("BACKFILL_DAYS", 14),
			SummaryHour:      getEnvInt("SUMMARY_HOUR", 17),
			SummaryTick:      getEnv("SUMMARY_TICK", "15m"),
			SnapshotInterval: getEnv("SNAPSHOT_INTERVAL", "10m"),
			NotifySeverities: splitList(getEnv("NOTIFY_SEVERITIES", "critical")),
			AlertChanSize:    getEnvInt("ALERT_CHAN_SIZE", 256),
		},
		API: APIConfig{
			BearerToken: getEnv("API_BEARER_TOKEN", ""),
		},
	}

	if *configFile != "" {
		if err := loadFromFile(cfg, *configFile); err != nil {
			log.Err(err)
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Fred.BaseURL == "" {
		cfg.Fred.BaseURL = "https://api.stlouisfed.org/fred"
	}
	if cfg.Fred.RequestsPerMinute <= 0 {
		cfg.Fred.RequestsPerMinute = 120
	}
	if cfg.Fred.Timeout == "" {
		cfg.Fred.Timeout = "30s"
	}
	if cfg.Fred.BackfillDays <= 0 {
		cfg.Fred.BackfillDays = 30
	}
	if cfg.Telegram.ParseMode == "" {
		cfg.Telegram.ParseMode = "Markdown"
	}
	if cfg.Telegram.Timeout == "" {
		cfg.Telegram.Timeout = "10s"
	}
	if cfg.Jobs.FetchInterval == "" {
		cfg.Jobs.FetchInterval = "6h"
	}
	if cfg.Jobs.CheckInterval == "" {
		cfg.Jobs.CheckInterval = "1h"
	}
	if cfg.Jobs.BackfillInterval == "" {
		cfg.Jobs.BackfillInterval = "168h"
	}
	if cfg.Jobs.BackfillDays <= 0 {
		cfg.Jobs.BackfillDays = 14
	}
	if cfg.Jobs.SummaryTick == "" {
		cfg.Jobs.SummaryTick = "15m"
	}
	if cfg.Jobs.SnapshotInterval == "" {
		cfg.Jobs.SnapshotInterval = "10m"
	}
	if len(cfg.Jobs.NotifySeverities) == 0 {
		cfg.Jobs.NotifySeverities = []string{"critical"}
	}
	if cfg.Jobs.AlertChanSize <= 0 {
		cfg.Jobs.AlertChanSize = 256
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
