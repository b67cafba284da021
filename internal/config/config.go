package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OVERNIGHT_EDGE_WAREHOUSE_DSN.
const EnvPrefix = "OVERNIGHT_EDGE"

// Config represents the complete application configuration
type Config struct {
	Primary   PrimaryConfig   `mapstructure:"primary"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PrimaryConfig selects and configures the primary document store
type PrimaryConfig struct {
	Driver string       `mapstructure:"driver"` // "mongo" or "sqlite"
	Mongo  MongoConfig  `mapstructure:"mongo"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type MongoConfig struct {
	URI               string        `mapstructure:"uri"`
	Database          string        `mapstructure:"database"`
	SignalsCollection string        `mapstructure:"signals_collection"`
	ThemesCollection  string        `mapstructure:"themes_collection"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// WarehouseConfig holds the fallback warehouse connection
type WarehouseConfig struct {
	Driver          string        `mapstructure:"driver"` // "postgres" or "sqlite"
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// ServiceConfig holds request-handling behavior
type ServiceConfig struct {
	Timezone   string `mapstructure:"timezone"`
	PricingURL string `mapstructure:"pricing_url"`
}

// HTTPConfig holds the HTTP listener configuration
type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	BotToken       string            `mapstructure:"bot_token"`
	AlertChatID    string            `mapstructure:"alert_chat_id"`
	ChatTiers      map[string]string `mapstructure:"chat_tiers"`
	MaxRetries     int               `mapstructure:"max_retries"`
	RetryDelayBase time.Duration     `mapstructure:"retry_delay_base"`
}

// MonitorConfig holds store health probing configuration
type MonitorConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ProbeSchedule string        `mapstructure:"probe_schedule"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// AuditConfig holds tool call audit publishing configuration
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	NATSURL string `mapstructure:"nats_url"`
	Subject string `mapstructure:"subject"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch reloads the file on every write and passes each valid result to onChange.
// Invalid edits are reported to onError and otherwise ignored.
func Watch(path string, onChange func(*Config), onError func(error)) error {
	v, err := newViper(path)
	if err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			onError(fmt.Errorf("ignoring change to %s: %w", e.Name, err))
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindSecrets(v); err != nil {
		return nil, err
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindSecrets adds short environment names for credentials, which are usually injected
// by the deployment rather than written to the config file.
func bindSecrets(v *viper.Viper) error {
	bindings := map[string][]string{
		"primary.mongo.uri":  {EnvPrefix + "_MONGO_URI", EnvPrefix + "_PRIMARY_MONGO_URI"},
		"warehouse.dsn":      {EnvPrefix + "_WAREHOUSE_DSN"},
		"telegram.bot_token": {EnvPrefix + "_TELEGRAM_BOT_TOKEN"},
		"audit.nats_url":     {EnvPrefix + "_NATS_URL", EnvPrefix + "_AUDIT_NATS_URL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Primary store defaults
	v.SetDefault("primary.driver", "sqlite")
	v.SetDefault("primary.mongo.database", "gammarips")
	v.SetDefault("primary.mongo.signals_collection", "overnight_signals")
	v.SetDefault("primary.mongo.themes_collection", "market_themes")
	v.SetDefault("primary.mongo.timeout", "10s")
	v.SetDefault("primary.sqlite.path", "./data/primary.db")

	// Warehouse defaults
	v.SetDefault("warehouse.driver", "sqlite")
	v.SetDefault("warehouse.dsn", "./data/warehouse.db")
	v.SetDefault("warehouse.max_open_conns", 10)
	v.SetDefault("warehouse.max_idle_conns", 5)
	v.SetDefault("warehouse.conn_max_lifetime", "30m")
	v.SetDefault("warehouse.auto_migrate", false)

	// Service defaults
	v.SetDefault("service.timezone", "America/New_York")
	v.SetDefault("service.pricing_url", "https://gammarips.com/#pricing")

	// HTTP defaults
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Monitor defaults
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.probe_schedule", "@every 1m")
	v.SetDefault("monitor.probe_timeout", "5s")

	// Audit defaults
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("audit.subject", "overnightedge.tool_calls")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Primary config
	switch c.Primary.Driver {
	case "mongo":
		if c.Primary.Mongo.URI == "" {
			return fmt.Errorf("primary.mongo.uri is required when primary.driver is mongo")
		}
		if c.Primary.Mongo.Database == "" {
			return fmt.Errorf("primary.mongo.database is required when primary.driver is mongo")
		}
		if c.Primary.Mongo.SignalsCollection == "" || c.Primary.Mongo.ThemesCollection == "" {
			return fmt.Errorf("primary.mongo collection names must not be empty")
		}
		if c.Primary.Mongo.Timeout <= 0 {
			return fmt.Errorf("primary.mongo.timeout must be positive")
		}
	case "sqlite":
		if c.Primary.SQLite.Path == "" {
			return fmt.Errorf("primary.sqlite.path is required when primary.driver is sqlite")
		}
	default:
		return fmt.Errorf("primary.driver must be one of: mongo, sqlite")
	}

	// Validate Warehouse config
	if c.Warehouse.Driver != "postgres" && c.Warehouse.Driver != "sqlite" {
		return fmt.Errorf("warehouse.driver must be one of: postgres, sqlite")
	}
	if c.Warehouse.DSN == "" {
		return fmt.Errorf("warehouse.dsn is required")
	}
	if c.Warehouse.MaxOpenConns < 0 || c.Warehouse.MaxIdleConns < 0 {
		return fmt.Errorf("warehouse connection pool sizes must not be negative")
	}

	// Validate Service config
	if _, err := time.LoadLocation(c.Service.Timezone); err != nil || c.Service.Timezone == "" {
		return fmt.Errorf("service.timezone must be a valid IANA time zone")
	}
	if c.Service.PricingURL == "" {
		return fmt.Errorf("service.pricing_url is required")
	}

	// Validate HTTP config
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.ReadTimeout < 0 || c.HTTP.WriteTimeout < 0 {
		return fmt.Errorf("http timeouts must not be negative")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		for chat, tier := range c.Telegram.ChatTiers {
			switch strings.ToUpper(tier) {
			case "FREE", "EDGE", "WAR_ROOM":
			default:
				return fmt.Errorf("telegram.chat_tiers[%s] must be one of: FREE, EDGE, WAR_ROOM", chat)
			}
		}
	}

	// Validate Monitor config
	if c.Monitor.Enabled {
		if _, err := cron.ParseStandard(c.Monitor.ProbeSchedule); err != nil {
			return fmt.Errorf("monitor.probe_schedule is invalid: %w", err)
		}
		if c.Monitor.ProbeTimeout <= 0 {
			return fmt.Errorf("monitor.probe_timeout must be positive")
		}
	}

	// Validate Audit config
	if c.Audit.Enabled {
		if c.Audit.NATSURL == "" {
			return fmt.Errorf("audit.nats_url is required when audit is enabled")
		}
		if c.Audit.Subject == "" {
			return fmt.Errorf("audit.subject is required when audit is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Location returns the configured service time zone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Service.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
