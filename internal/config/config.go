// Package config loads daemon configuration from a yaml file and
// RISKMANAGER_-prefixed environment variables, applies defaults and
// validates the result before anything else starts.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Jakers471/risk-manager-v34-sub006/internal/rules"
)

// Config is the full daemon configuration.
type Config struct {
	Logging  LoggingConfig      `mapstructure:"logging"`
	Store    StoreConfig        `mapstructure:"store"`
	Accounts []string           `mapstructure:"accounts"`
	Reset    ResetConfig        `mapstructure:"reset"`
	Rules    []rules.Definition `mapstructure:"rules"`
	Ingest   IngestConfig       `mapstructure:"ingest"`
	Redis    RedisConfig        `mapstructure:"redis"`
	Metrics  MetricsConfig      `mapstructure:"metrics"`
}

// LoggingConfig selects level and encoding for the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=badger sqlite postgres memory"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// ResetConfig describes the daily boundary.
type ResetConfig struct {
	Time          string        `mapstructure:"time" validate:"required"`
	Timezone      string        `mapstructure:"timezone" validate:"required"`
	SkipHolidays  bool          `mapstructure:"skip_holidays"`
	HolidayFile   string        `mapstructure:"holiday_file"`
	CheckInterval time.Duration `mapstructure:"check_interval" validate:"omitempty,min=1s"`
}

// IngestConfig enables the event sources.
type IngestConfig struct {
	Websocket WebsocketConfig `mapstructure:"websocket"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
}

// WebsocketConfig points at a push feed.
type WebsocketConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// KafkaConfig points at a topic within a consumer group.
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Group   string   `mapstructure:"group"`
}

// RedisConfig enables publishing enforcement actions to a channel.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// MetricsConfig controls the prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load reads path (or the default locations when path is empty),
// overlays environment variables, applies defaults and validates. A
// missing file is not an error; env and defaults still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("RISKMANAGER")

	paths := []string{path}
	if path == "" {
		paths = []string{"./riskmanager.yaml", "/etc/riskmanager/config.yaml"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		v.SetConfigFile(p)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", p, err)
		}
	}

	loadEnvironment(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvironment maps flat environment variables onto nested keys.
// AutomaticEnv alone does not surface keys absent from the file, so the
// scalar knobs are bound explicitly.
func loadEnvironment(v *viper.Viper) {
	mappings := map[string]string{
		"RISKMANAGER_LOGGING_LEVEL":  "logging.level",
		"RISKMANAGER_LOGGING_FORMAT": "logging.format",

		"RISKMANAGER_STORE_DRIVER": "store.driver",
		"RISKMANAGER_STORE_PATH":   "store.path",
		"RISKMANAGER_STORE_DSN":    "store.dsn",

		"RISKMANAGER_RESET_TIME":     "reset.time",
		"RISKMANAGER_RESET_TIMEZONE": "reset.timezone",

		"RISKMANAGER_INGEST_WEBSOCKET_URL": "ingest.websocket.url",
		"RISKMANAGER_INGEST_KAFKA_BROKERS": "ingest.kafka.brokers",
		"RISKMANAGER_INGEST_KAFKA_TOPIC":   "ingest.kafka.topic",
		"RISKMANAGER_INGEST_KAFKA_GROUP":   "ingest.kafka.group",

		"RISKMANAGER_REDIS_ADDR":     "redis.addr",
		"RISKMANAGER_REDIS_PASSWORD": "redis.password",
		"RISKMANAGER_REDIS_CHANNEL":  "redis.channel",

		"RISKMANAGER_METRICS_LISTEN": "metrics.listen",
	}
	for envVar, key := range mappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(key, value)
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "badger"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data/riskmanager"
	}
	if cfg.Reset.Time == "" {
		cfg.Reset.Time = "17:00"
	}
	if cfg.Reset.Timezone == "" {
		cfg.Reset.Timezone = "America/Chicago"
	}
	if cfg.Reset.CheckInterval == 0 {
		cfg.Reset.CheckInterval = time.Minute
	}
	if cfg.Ingest.Kafka.Group == "" {
		cfg.Ingest.Kafka.Group = "riskmanager"
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "riskmanager.actions"
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9090"
	}
}

// Validate checks tags plus the conditional rules a tag cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if _, err := time.Parse("15:04", c.Reset.Time); err != nil {
		return fmt.Errorf("reset.time %q: want HH:MM", c.Reset.Time)
	}
	if _, err := time.LoadLocation(c.Reset.Timezone); err != nil {
		return fmt.Errorf("reset.timezone %q: %w", c.Reset.Timezone, err)
	}
	if c.Ingest.Websocket.Enabled && c.Ingest.Websocket.URL == "" {
		return fmt.Errorf("ingest.websocket enabled without url")
	}
	if c.Ingest.Kafka.Enabled {
		if len(c.Ingest.Kafka.Brokers) == 0 {
			return fmt.Errorf("ingest.kafka enabled without brokers")
		}
		if c.Ingest.Kafka.Topic == "" {
			return fmt.Errorf("ingest.kafka enabled without topic")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis enabled without addr")
	}
	return nil
}

// ReloadRules re-reads the file at path and returns only the rule
// definitions. Everything else in the running configuration stays as it
// was; rule definitions are the one thing swapped at runtime.
func ReloadRules(path string) ([]rules.Definition, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("reload rules: %w", err)
	}
	return cfg.Rules, nil
}
