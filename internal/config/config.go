// Package config loads Settlement Layer configuration from a YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the settlement daemon.
type Config struct {
	Chain       ChainConfig    `yaml:"chain"`
	Signer      SignerConfig   `yaml:"signer"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Sweeper     SweeperConfig  `yaml:"sweeper"`
	Roots       RootsConfig    `yaml:"roots"`
	Log         LogConfig      `yaml:"log"`
	MetricsAddr string         `yaml:"metrics_addr"`
}

// ChainConfig configures the Solana RPC connection and program identity.
type ChainConfig struct {
	RPCURL           string        `yaml:"rpc_url"`
	ProgramID        string        `yaml:"program_id"`
	AdminWalletID    string        `yaml:"admin_wallet_id"`
	AdminPublicKey   string        `yaml:"admin_public_key"`
	SubmitTimeout    time.Duration `yaml:"submit_timeout"`
	ConfirmRetries   int           `yaml:"confirm_retries"`
	ConfirmBackoff   time.Duration `yaml:"confirm_backoff"`
	SubmitRatePerSec float64       `yaml:"submit_rate_per_sec"`
}

// SignerConfig configures the custodial signing service client.
type SignerConfig struct {
	BaseURL string        `yaml:"base_url"`
	AppID   string        `yaml:"app_id"`
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the leaderboard cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SweeperConfig configures the outbox reconciliation sweep.
type SweeperConfig struct {
	Schedule   string        `yaml:"schedule"` // cron spec
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
}

// RootsConfig configures the periodic content-root anchoring job.
type RootsConfig struct {
	Schedule string `yaml:"schedule"` // cron spec
	Enabled  bool   `yaml:"enabled"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a configuration with sane defaults for local development.
func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			RPCURL:           "https://api.devnet.solana.com",
			ProgramID:        "DgCkfcZY1GJkLZd5htKob4XDorcpmnP9UP4f6kXo8Up7",
			SubmitTimeout:    30 * time.Second,
			ConfirmRetries:   5,
			ConfirmBackoff:   2 * time.Second,
			SubmitRatePerSec: 10,
		},
		Signer: SignerConfig{
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Sweeper: SweeperConfig{
			Schedule:   "@every 1m",
			StaleAfter: 2 * time.Minute,
			BatchSize:  100,
		},
		Roots: RootsConfig{
			Schedule: "@every 1h",
			Enabled:  true,
		},
		Log:         LogConfig{Level: "info"},
		MetricsAddr: ":9100",
	}
}

// Load reads configuration from path, layering environment overrides on top.
// A missing file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	// .env is optional, used in local development only.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url required")
	}
	if c.Chain.ProgramID == "" {
		return fmt.Errorf("chain.program_id required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn required")
	}
	if c.Signer.BaseURL == "" {
		return fmt.Errorf("signer.base_url required")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.Chain.RPCURL, "SOLANA_RPC_URL")
	setStr(&cfg.Chain.ProgramID, "VOIX_PROGRAM_ID")
	setStr(&cfg.Chain.AdminWalletID, "ADMIN_WALLET_ID")
	setStr(&cfg.Chain.AdminPublicKey, "ADMIN_PUBLIC_KEY")
	setStr(&cfg.Signer.BaseURL, "SIGNER_BASE_URL")
	setStr(&cfg.Signer.AppID, "SIGNER_APP_ID")
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setStr(&cfg.Log.Level, "LOG_LEVEL")
	setStr(&cfg.MetricsAddr, "METRICS_ADDR")
}
