// Package config loads taskflow service configuration from a YAML file,
// an optional db.properties file and environment overrides, in that order.
package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Policy    PolicyConfig    `yaml:"policy"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Events    EventsConfig    `yaml:"events"`
	Rules     RulesConfig     `yaml:"rules"`
}

type ServerConfig struct {
	TaskPort   string `yaml:"task_port"`
	PolicyPort string `yaml:"policy_port"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StoreConfig struct {
	// Driver is one of memory, postgres, pebble.
	Driver         string `yaml:"driver"`
	DSN            string `yaml:"dsn"`
	PropertiesFile string `yaml:"properties_file"`
	PebbleDir      string `yaml:"pebble_dir"`
	MaxConns       int32  `yaml:"max_conns"`
}

type PolicyConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
	// MaxRetries is capped at 1.
	MaxRetries int `yaml:"max_retries"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type EventsConfig struct {
	KafkaBrokers string `yaml:"kafka_brokers"`
	KafkaTopic   string `yaml:"kafka_topic"`
	FilePath     string `yaml:"file_path"`
}

// RulesConfig holds the policy server's fixed tables. Zero values fall back to defaults.
type RulesConfig struct {
	Rates         map[string]float64 `yaml:"rates"`
	SurchargeBase float64            `yaml:"surcharge_base"`
	SurchargeUnit float64            `yaml:"surcharge_per_unit"`
	FeeBase       float64            `yaml:"fee_base"`
	FeePerUnit    float64            `yaml:"fee_per_unit"`
	MaxUnits      int                `yaml:"max_units"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{TaskPort: "8000", PolicyPort: "8001"},
		Log:    LogConfig{Level: "info", Format: "json"},
		Store:  StoreConfig{Driver: "memory", PebbleDir: "./data/taskflow", MaxConns: 10},
		Policy: PolicyConfig{BaseURL: "http://localhost:8001", TimeoutMS: 5000, MaxRetries: 1},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
		Events: EventsConfig{KafkaTopic: "taskflow.events"},
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "pebble":
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn (or DATABASE_URL / db.properties) is required for postgres")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "pebble" && strings.TrimSpace(c.Store.PebbleDir) == "" {
		return fmt.Errorf("store.pebble_dir is required for pebble")
	}
	if strings.TrimSpace(c.Policy.BaseURL) == "" {
		return fmt.Errorf("policy.base_url is required")
	}
	if c.Policy.TimeoutMS <= 0 {
		return fmt.Errorf("policy.timeout_ms must be positive")
	}
	if c.Policy.MaxRetries < 0 || c.Policy.MaxRetries > 1 {
		return fmt.Errorf("policy.max_retries must be 0 or 1")
	}
	return nil
}
