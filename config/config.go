// Package config loads refundd settings from an optional YAML file and
// REFUND_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // clock.timezone must load on hosts without zoneinfo

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/warp/refund-tracker/logging"
	"github.com/warp/refund-tracker/refund"
)

// envPrefix maps "database.path" to REFUND_DATABASE_PATH.
const envPrefix = "REFUND"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Clock    ClockConfig    `mapstructure:"clock"`
	Regime   RegimeConfig   `mapstructure:"regime"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Log      logging.Config `mapstructure:"log"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf(":%d", s.Port) }

type DatabaseConfig struct {
	// Path is a SQLite file path or ":memory:".
	Path string `mapstructure:"path"`
}

type ClockConfig struct {
	// Timezone decides "today" and the dates recorded for notifications and
	// responses.
	Timezone string `mapstructure:"timezone"`
}

type RegimeConfig struct {
	BudgetDays     int `mapstructure:"budget_days"`
	Req1BudgetDays int `mapstructure:"req1_budget_days"`
	Req2BudgetDays int `mapstructure:"req2_budget_days"`
}

// Regime converts the budgets to the engine's type.
func (r RegimeConfig) Regime() refund.Regime {
	return refund.Regime{
		BudgetDays:     r.BudgetDays,
		Req1BudgetDays: r.Req1BudgetDays,
		Req2BudgetDays: r.Req2BudgetDays,
	}
}

type AlertsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	ThresholdDays int           `mapstructure:"threshold_days"`
}

type NotifyConfig struct {
	Driver string      `mapstructure:"driver"` // log | kafka
	Kafka  KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// defaults registers every key, which also lets AutomaticEnv see them.
func defaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("database.path", "refunds.db")
	v.SetDefault("clock.timezone", "America/Mexico_City")
	v.SetDefault("regime.budget_days", refund.DefaultRegime.BudgetDays)
	v.SetDefault("regime.req1_budget_days", refund.DefaultRegime.Req1BudgetDays)
	v.SetDefault("regime.req2_budget_days", refund.DefaultRegime.Req2BudgetDays)
	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.interval", time.Hour)
	v.SetDefault("alerts.threshold_days", refund.DefaultAlertThreshold)
	v.SetDefault("notify.driver", "log")
	v.SetDefault("notify.kafka.brokers", []string{})
	v.SetDefault("notify.kafka.topic", "refund-alerts")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:8000", "http://127.0.0.1:8000"})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	defaults(v)
	return v
}

// Load reads the YAML file at path when path is non-empty, applies REFUND_*
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read config file %q: %w", path, err)
		}
	}
	return decode(v)
}

// LoadFromEnv builds a Config from defaults and REFUND_* variables only.
func LoadFromEnv() (*Config, error) {
	return decode(newViper())
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}
	// Comma-separated env values arrive as a single element.
	cfg.Notify.Kafka.Brokers = splitList(cfg.Notify.Kafka.Brokers)
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := time.LoadLocation(c.Clock.Timezone); err != nil || c.Clock.Timezone == "" {
		errs = append(errs, fmt.Errorf("clock.timezone %q is not a loadable zone", c.Clock.Timezone))
	}
	if err := c.Regime.Regime().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Alerts.Enabled && c.Alerts.Interval <= 0 {
		errs = append(errs, errors.New("alerts.interval must be positive when alerts are enabled"))
	}
	if c.Alerts.ThresholdDays < 0 {
		errs = append(errs, errors.New("alerts.threshold_days must not be negative"))
	}
	switch c.Notify.Driver {
	case "log":
	case "kafka":
		if len(c.Notify.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("notify.kafka.brokers is required for the kafka driver"))
		}
		if c.Notify.Kafka.Topic == "" {
			errs = append(errs, errors.New("notify.kafka.topic is required for the kafka driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("notify.driver %q (use log or kafka)", c.Notify.Driver))
	}
	return errors.Join(errs...)
}

// Watch re-reads path whenever it changes and passes valid configurations to
// onChange. Invalid edits are reported through onError and otherwise ignored.
func Watch(path string, onChange func(*Config), onError func(error)) {
	v := newViper()
	v.SetConfigFile(path)
	_ = v.ReadInConfig()

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		if err := v.ReadInConfig(); err != nil {
			onError(fmt.Errorf("config: reload %s: %w", e.Name, err))
			return
		}
		cfg, err := decode(v)
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
