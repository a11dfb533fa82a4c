// Package config loads the service configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/atmx/fof-nav/internal/model"
	"github.com/atmx/fof-nav/internal/service"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		URL        string `yaml:"url"`
		SQLitePath string `yaml:"sqlite_path"` // audit log; empty disables it
	} `yaml:"database"`
	Redis struct {
		URL string        `yaml:"url"`
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
	Schedule struct {
		RecomputeCron string           `yaml:"recompute_cron"`
		LookbackDays  int              `yaml:"lookback_days"`
		Parallel      int              `yaml:"parallel"`
		Funds         []service.Target `yaml:"funds"`
	} `yaml:"schedule"`

	// Funds seeds the in-memory store for development.
	Funds []model.FundConfig `yaml:"funds"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
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

	// Environment variable overrides
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("AUDIT_SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("RECOMPUTE_CRON"); v != "" {
		cfg.Schedule.RecomputeCron = v
	}
	if v := os.Getenv("RECOMPUTE_LOOKBACK_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("RECOMPUTE_LOOKBACK_DAYS: %w", err)
		}
		cfg.Schedule.LookbackDays = n
	}

	// Defaults
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = 30 * time.Second
	}
	if cfg.Schedule.RecomputeCron == "" {
		cfg.Schedule.RecomputeCron = "0 30 2 * * *"
	}
	if cfg.Schedule.LookbackDays == 0 {
		cfg.Schedule.LookbackDays = 7
	}
	if cfg.Schedule.Parallel == 0 {
		cfg.Schedule.Parallel = 4
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server.port must be numeric, got %q", c.Server.Port)
	}
	if c.Schedule.LookbackDays < 0 {
		return fmt.Errorf("schedule.lookback_days must not be negative")
	}
	if c.Schedule.Parallel < 1 {
		return fmt.Errorf("schedule.parallel must be positive")
	}
	if c.Redis.URL != "" && c.Database.URL == "" {
		return fmt.Errorf("redis.url requires database.url")
	}
	for i, t := range c.Schedule.Funds {
		if t.ManagerID == "" || t.FofID == "" {
			return fmt.Errorf("schedule.funds[%d]: manager_id and fof_id are required", i)
		}
	}
	for i, f := range c.Funds {
		if f.ManagerID == "" || f.FofID == "" {
			return fmt.Errorf("funds[%d]: manager_id and fof_id are required", i)
		}
		if f.EstablishedOn.IsZero() {
			return fmt.Errorf("funds[%d] %s: established_on is required", i, f.FofID)
		}
	}
	return nil
}

// Targets returns the funds the scheduler recomputes. Without an explicit
// list every seeded fund is scheduled.
func (c *Config) Targets() []service.Target {
	if len(c.Schedule.Funds) > 0 {
		return c.Schedule.Funds
	}
	targets := make([]service.Target, 0, len(c.Funds))
	for _, f := range c.Funds {
		targets = append(targets, service.Target{ManagerID: f.ManagerID, FofID: f.FofID})
	}
	return targets
}
