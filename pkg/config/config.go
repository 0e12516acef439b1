package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config represents the stake ledger server configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Staking    StakingConfig    `yaml:"staking"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" default:"60s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"30s"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"5432"`
	User     string `yaml:"user" default:"postgres"`
	Password string `yaml:"password"`
	Database string `yaml:"database" default:"stake_ledger"`
	SSLMode  string `yaml:"ssl_mode" default:"disable" validate:"oneof=disable require verify-ca verify-full"`
}

// StorageConfig selects the ledger store backend.
type StorageConfig struct {
	Driver string `yaml:"driver" default:"postgres" validate:"oneof=postgres memory"`
}

// RedisConfig enables the cross-instance sweep lease when Enabled is set.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
}

// StakingConfig holds the reward parameters applied to new stakes.
type StakingConfig struct {
	RewardRate    string        `yaml:"reward_rate" default:"0.30" validate:"required"`
	AccrualPeriod time.Duration `yaml:"accrual_period" default:"24h" validate:"gt=0"`
	Precision     int32         `yaml:"precision" default:"6" validate:"min=0,max=18"`
	MinStake      string        `yaml:"min_stake" default:"0"`
}

// Rate returns RewardRate parsed as a decimal.
func (c StakingConfig) Rate() decimal.Decimal {
	return decimal.RequireFromString(c.RewardRate)
}

// Minimum returns MinStake parsed as a decimal.
func (c StakingConfig) Minimum() decimal.Decimal {
	return decimal.RequireFromString(c.MinStake)
}

// SchedulerConfig controls the background accrual sweep.
type SchedulerConfig struct {
	Enabled        bool          `yaml:"enabled" default:"true"`
	Interval       time.Duration `yaml:"interval" default:"1h" validate:"gt=0"`
	InitialTimeout time.Duration `yaml:"initial_timeout" default:"2m"`
	SweepTimeout   time.Duration `yaml:"sweep_timeout" default:"10m" validate:"gt=0"`
	LockKey        string        `yaml:"lock_key" default:"stake-ledger:sweep"`
	LockTTL        time.Duration `yaml:"lock_ttl" default:"15m" validate:"gt=0"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
	OutputPath string `yaml:"output_path" default:"stdout"`
}

// Load reads the YAML file at path, expands ${VAR} references from the
// environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(raw)
}

// Parse builds a Config from YAML bytes.
func Parse(raw []byte) (*Config, error) {
	cfg := new(Config)
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return err
	}

	rate, err := decimal.NewFromString(cfg.Staking.RewardRate)
	if err != nil {
		return fmt.Errorf("staking.reward_rate: %w", err)
	}
	if rate.IsNegative() {
		return fmt.Errorf("staking.reward_rate must not be negative")
	}
	minStake, err := decimal.NewFromString(cfg.Staking.MinStake)
	if err != nil {
		return fmt.Errorf("staking.min_stake: %w", err)
	}
	if minStake.IsNegative() {
		return fmt.Errorf("staking.min_stake must not be negative")
	}

	if cfg.Storage.Driver == StorageDriverPostgres && cfg.Database.Database == "" {
		return fmt.Errorf("database.database is required for the postgres driver")
	}
	if cfg.Redis.Enabled && cfg.Scheduler.LockKey == "" {
		return fmt.Errorf("scheduler.lock_key is required when redis is enabled")
	}
	return nil
}
