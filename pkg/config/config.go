package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`
	Proxy struct {
		Endpoints        []string      `yaml:"endpoints"`
		MaxInFlight      int           `yaml:"max_in_flight"`
		CheckoutTimeout  time.Duration `yaml:"checkout_timeout"`
		FailureThreshold int           `yaml:"failure_threshold"`
		SoftCooldown     time.Duration `yaml:"soft_cooldown"`
		SoftCooldownMax  time.Duration `yaml:"soft_cooldown_max"`
		BanCooldown      time.Duration `yaml:"ban_cooldown"`
	} `yaml:"proxy"`
	Rate struct {
		BaselineInterval time.Duration `yaml:"baseline_interval"`
		MaxInterval      time.Duration `yaml:"max_interval"`
		DecayAfter       int           `yaml:"decay_after"`
	} `yaml:"rate"`
	Fetch struct {
		MaxRetries     int           `yaml:"max_retries"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		BaseURL        string        `yaml:"base_url"`
		Adjust         string        `yaml:"adjust"`
		BanStatusCodes []int         `yaml:"ban_status_codes"`
		BanBodyMarkers []string      `yaml:"ban_body_markers"`
	} `yaml:"fetch"`
	Job struct {
		Workers int `yaml:"workers"`
	} `yaml:"job"`
	Schedule struct {
		TriggerAt     string `yaml:"trigger_at"` // HH:MM wall clock
		Timezone      string `yaml:"timezone"`
		Backfill      bool   `yaml:"backfill"`
		BackfillGrace int    `yaml:"backfill_grace_days"`
	} `yaml:"schedule"`
	Universe struct {
		File  string   `yaml:"file"`
		Codes []string `yaml:"codes"`
	} `yaml:"universe"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		Table            string        `yaml:"table"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Events struct {
		Enabled bool     `yaml:"enabled"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"events"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PROXY_ENDPOINTS"); v != "" {
		c.Proxy.Endpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("REQUEST_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Rate.BaselineInterval = d
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("MAX_RETRIES: %w", err)
		} else {
			c.Fetch.MaxRetries = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Brokers = strings.Split(v, ",")
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Proxy.MaxInFlight <= 0 {
		c.Proxy.MaxInFlight = 1
	}
	if c.Proxy.CheckoutTimeout <= 0 {
		c.Proxy.CheckoutTimeout = 30 * time.Second
	}
	if c.Proxy.FailureThreshold <= 0 {
		c.Proxy.FailureThreshold = 3
	}
	if c.Proxy.SoftCooldown <= 0 {
		c.Proxy.SoftCooldown = 30 * time.Second
	}
	if c.Proxy.SoftCooldownMax <= 0 {
		c.Proxy.SoftCooldownMax = 10 * time.Minute
	}
	if c.Proxy.BanCooldown <= 0 {
		c.Proxy.BanCooldown = 30 * time.Minute
	}
	if c.Rate.BaselineInterval <= 0 {
		c.Rate.BaselineInterval = 2 * time.Second
	}
	if c.Rate.MaxInterval <= 0 {
		c.Rate.MaxInterval = time.Minute
	}
	if c.Rate.DecayAfter <= 0 {
		c.Rate.DecayAfter = 10
	}
	if c.Fetch.MaxRetries <= 0 {
		c.Fetch.MaxRetries = 3
	}
	if c.Fetch.RequestTimeout <= 0 {
		c.Fetch.RequestTimeout = 15 * time.Second
	}
	if c.Fetch.Adjust == "" {
		c.Fetch.Adjust = "qfq"
	}
	if len(c.Fetch.BanStatusCodes) == 0 {
		c.Fetch.BanStatusCodes = []int{403, 429}
	}
	if c.Job.Workers <= 0 {
		c.Job.Workers = 8
	}
	if c.Schedule.TriggerAt == "" {
		c.Schedule.TriggerAt = "15:05"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "Asia/Shanghai"
	}
	if c.Schedule.BackfillGrace <= 0 {
		c.Schedule.BackfillGrace = 3
	}
	if c.ClickHouse.Table == "" {
		c.ClickHouse.Table = "daily_bars"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Proxy.Endpoints) == 0 {
		return fmt.Errorf("proxy.endpoints cannot be empty")
	}
	if c.Fetch.BaseURL == "" {
		return fmt.Errorf("fetch.base_url is required")
	}
	switch c.Fetch.Adjust {
	case "qfq", "hfq", "none":
	default:
		return fmt.Errorf("fetch.adjust must be 'qfq', 'hfq' or 'none', got '%s'", c.Fetch.Adjust)
	}
	if _, err := time.Parse("15:04", c.Schedule.TriggerAt); err != nil {
		return fmt.Errorf("schedule.trigger_at must be HH:MM: %w", err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if c.Universe.File == "" && len(c.Universe.Codes) == 0 {
		return fmt.Errorf("universe.file or universe.codes is required")
	}
	return nil
}
