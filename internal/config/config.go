// Package config loads the process configuration: documented defaults,
// an optional YAML file, and environment overrides. The loaded Config is
// passed explicitly to component constructors; nothing reads globals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/skywatchhq/skywatch/internal/bus"
	"github.com/skywatchhq/skywatch/internal/storage"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	HTTP      HTTPConfig      `yaml:"http"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Bus       BusConfig       `yaml:"bus"`
	Store     StoreConfig     `yaml:"store"`
	Engine    EngineConfig    `yaml:"engine"`
	Notifier  NotifierConfig  `yaml:"notifier"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // default "info"
	Format string `yaml:"format"` // "json", "console" or "auto"
}

// HTTPConfig configures the API process listener.
type HTTPConfig struct {
	Listen string `yaml:"listen"` // default ":8070"
}

// TelemetryConfig configures the per-process Prometheus listener used by
// the non-API processes.
type TelemetryConfig struct {
	Listen string `yaml:"listen"` // default ":9090"
}

// BusConfig mirrors the bus adapter knobs. Durations are in seconds.
type BusConfig struct {
	URI        string `yaml:"uri"`
	Group      string `yaml:"group"`       // default "skywatch"
	WaitTime   int    `yaml:"wait_time"`   // default 1
	AckTime    int    `yaml:"ack_time"`    // default 20
	MaxRetry   int    `yaml:"max_retry"`   // default 3
	AutoCommit *bool  `yaml:"auto_commit"` // default true
	Async      *bool  `yaml:"async"`       // default true
	Compact    *bool  `yaml:"compact"`     // default true
	Partitions []int  `yaml:"partitions"`
	DropData   bool   `yaml:"drop_data"`
}

// StoreConfig configures the document store clients.
type StoreConfig struct {
	URI           string `yaml:"uri"`
	IndexPrefix   string `yaml:"index_prefix"`   // default "data_"
	IndexStrategy string `yaml:"index_strategy"` // "fixed" or "timed", default "fixed"
	IndexName     string `yaml:"index_name"`     // fixed strategy
	TimeUnit      string `yaml:"time_unit"`      // timed strategy, default "m"
	Timeout       int    `yaml:"timeout"`        // seconds, default 30
	Size          int    `yaml:"size"`           // query result limit, default 10000
	DropData      bool   `yaml:"drop_data"`
}

// EngineConfig configures the threshold engine loops. Intervals are in
// seconds.
type EngineConfig struct {
	CheckAlarmInterval    int    `yaml:"check_alarm_interval"`     // default 60
	CheckAlarmDefInterval int    `yaml:"check_alarm_def_interval"` // default 120
	DefinitionName        string `yaml:"definition_name"`          // optional refresher filter
	DefinitionDimensions  string `yaml:"definition_dimensions"`    // "k1:v1,k2:v2"
}

// NotifierConfig configures the notification deliverers.
type NotifierConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"` // default 25
	SMTPFrom     string `yaml:"smtp_from"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
}

// Default returns the documented defaults. No option is mandatory except
// the bus and store URIs, validated by the components that need them.
func Default() *Config {
	yes := true
	return &Config{
		Logging:   LoggingConfig{Level: "info", Format: "auto"},
		HTTP:      HTTPConfig{Listen: ":8070"},
		Telemetry: TelemetryConfig{Listen: ":9090"},
		Bus: BusConfig{
			Group:      "skywatch",
			WaitTime:   1,
			AckTime:    20,
			MaxRetry:   3,
			AutoCommit: &yes,
			Async:      &yes,
			Compact:    &yes,
		},
		Store: StoreConfig{
			IndexPrefix:   "data_",
			IndexStrategy: storage.StrategyFixed,
			TimeUnit:      storage.UnitMonth,
			Timeout:       30,
			Size:          10000,
		},
		Engine: EngineConfig{
			CheckAlarmInterval:    60,
			CheckAlarmDefInterval: 120,
		},
		Notifier: NotifierConfig{SMTPPort: 25},
	}
}

// Load builds the config from defaults, the optional YAML file at path,
// a .env file if present, and environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		log.Debug().Str("path", path).Msg("Config file loaded")
	}

	// A missing .env is fine; explicit env vars win either way.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg(".env file loaded")
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Logging.Level, "SKYWATCH_LOG_LEVEL")
	setString(&c.Logging.Format, "SKYWATCH_LOG_FORMAT")
	setString(&c.HTTP.Listen, "SKYWATCH_LISTEN")
	setString(&c.Telemetry.Listen, "SKYWATCH_TELEMETRY_LISTEN")
	setString(&c.Bus.URI, "SKYWATCH_BUS_URI")
	setString(&c.Bus.Group, "SKYWATCH_BUS_GROUP")
	setString(&c.Store.URI, "SKYWATCH_STORE_URI")
	setString(&c.Store.IndexPrefix, "SKYWATCH_STORE_INDEX_PREFIX")
	setString(&c.Store.IndexStrategy, "SKYWATCH_STORE_INDEX_STRATEGY")
	setString(&c.Store.IndexName, "SKYWATCH_STORE_INDEX_NAME")
	setString(&c.Store.TimeUnit, "SKYWATCH_STORE_TIME_UNIT")
	setString(&c.Notifier.SMTPHost, "SKYWATCH_SMTP_HOST")
	setString(&c.Notifier.SMTPFrom, "SKYWATCH_SMTP_FROM")
	setString(&c.Notifier.SMTPUser, "SKYWATCH_SMTP_USER")
	setString(&c.Notifier.SMTPPassword, "SKYWATCH_SMTP_PASSWORD")
	setInt(&c.Notifier.SMTPPort, "SKYWATCH_SMTP_PORT")
	setInt(&c.Engine.CheckAlarmInterval, "SKYWATCH_CHECK_ALARM_INTERVAL")
	setInt(&c.Engine.CheckAlarmDefInterval, "SKYWATCH_CHECK_ALARM_DEF_INTERVAL")
}

func setString(target *string, key string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	}
}

func setInt(target *int, key string) {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			log.Warn().Str("key", key).Str("value", value).Msg("Ignoring non-numeric override")
			return
		}
		*target = parsed
	}
}

// BusConfig converts the YAML knobs into the bus adapter's config.
func (c *Config) BusConfig() bus.Config {
	b := c.Bus
	return bus.Config{
		URI:        b.URI,
		Group:      b.Group,
		WaitTime:   time.Duration(b.WaitTime) * time.Second,
		AckTime:    time.Duration(b.AckTime) * time.Second,
		MaxRetry:   b.MaxRetry,
		AutoCommit: boolOr(b.AutoCommit, true),
		Async:      boolOr(b.Async, true),
		Compact:    boolOr(b.Compact, true),
		Partitions: b.Partitions,
		DropData:   b.DropData,
	}
}

// StoreConfig converts the YAML knobs into the store client's config.
func (c *Config) StoreConfig() storage.Config {
	return storage.Config{
		URI:         c.Store.URI,
		IndexPrefix: c.Store.IndexPrefix,
		DropData:    c.Store.DropData,
		Timeout:     time.Duration(c.Store.Timeout) * time.Second,
	}
}

// IndexStrategy instantiates the configured index strategy.
func (c *Config) IndexStrategy() (storage.IndexStrategy, error) {
	return storage.NewStrategy(c.Store.IndexStrategy, storage.StrategyConfig{
		IndexName: c.Store.IndexName,
		TimeUnit:  c.Store.TimeUnit,
	})
}

func boolOr(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}
