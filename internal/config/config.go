// Package config defines the top-level configuration for the market
// simulation engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETSIM_* environment variables.
type Config struct {
	Tick       TickConfig       `toml:"tick"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Generation GenerationConfig `toml:"generation"`
	Oracle     OracleConfig     `toml:"oracle"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// TickConfig holds the tick budget and the sizes the orchestrator works with.
type TickConfig struct {
	// BudgetMs is the wall-clock budget of one tick in milliseconds.
	BudgetMs int `toml:"budget_ms"`
	// Interval is the pause between ticks in loop and server modes.
	Interval duration `toml:"interval"`
	// LockTTLPadding is added to the budget to form the tick lease TTL.
	LockTTLPadding       duration `toml:"lock_ttl_padding"`
	MinActiveQuestions   int      `toml:"min_active_questions"`
	BootstrapQuestions   int      `toml:"bootstrap_questions"`
	ReplenishQuestions   int      `toml:"replenish_questions"`
	MaxParallelUnits     int      `toml:"max_parallel_units"`
	DecisionBatchSize    int      `toml:"decision_batch_size"`
	BaselineInvestors    int      `toml:"baseline_investors"`
	BaselineInvestAmount float64  `toml:"baseline_invest_amount"`
	MarketLiquiditySeed  float64  `toml:"market_liquidity_seed"`
}

// Budget returns BudgetMs as a time.Duration.
func (t TickConfig) Budget() time.Duration {
	return time.Duration(t.BudgetMs) * time.Millisecond
}

// DatabaseConfig holds PostgreSQL connection parameters. Backend "memory"
// runs the engine against an in-process store for local dry runs.
type DatabaseConfig struct {
	Backend       string `toml:"backend"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`

	// ConnectTimeout bounds each new connection. The pool is sized from
	// pool_max_conns but never below tick.max_parallel_units plus two.
	ConnectTimeout duration `toml:"connect_timeout"`
}

// RedisConfig holds Redis connection parameters. An empty Addr disables
// Redis; the tick lock then falls back to an in-process lock.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	WidgetTTL    duration `toml:"widget_ttl"`
	StreamMaxLen int      `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables tick archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// GenerationConfig holds the language-generation endpoint.
type GenerationConfig struct {
	BaseURL     string   `toml:"base_url"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	Timeout     duration `toml:"timeout"`
	RatePerSec  float64  `toml:"rate_per_sec"`
	Burst       int      `toml:"burst"`
	MaxRetries  int      `toml:"max_retries"`
	Temperature float64  `toml:"temperature"`
}

// OracleConfig holds the commit/reveal oracle endpoint. An empty BaseURL
// turns oracle publication into a silent no-op.
type OracleConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// Enabled reports whether oracle publication is configured.
func (o OracleConfig) Enabled() bool {
	return strings.TrimSpace(o.BaseURL) != ""
}

// LedgerConfig holds the EVM ledger parameters. An empty RPCURL disables
// on-chain mirroring.
type LedgerConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	ChainID          int      `toml:"chain_id"`
	ContractAddress  string   `toml:"contract_address"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
	GasLimit         uint64   `toml:"gas_limit"`
	Timeout          duration `toml:"timeout"`
}

// Enabled reports whether on-chain mirroring is configured.
func (l LedgerConfig) Enabled() bool {
	return strings.TrimSpace(l.RPCURL) != ""
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds the ops HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Tick: TickConfig{
			BudgetMs:             180_000,
			Interval:             duration{time.Minute},
			LockTTLPadding:       duration{30 * time.Second},
			MinActiveQuestions:   10,
			BootstrapQuestions:   5,
			ReplenishQuestions:   3,
			MaxParallelUnits:     8,
			DecisionBatchSize:    12,
			BaselineInvestors:    5,
			BaselineInvestAmount: 100,
			MarketLiquiditySeed:  1000,
		},
		Database: DatabaseConfig{
			Backend:       "postgres",
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,

			ConnectTimeout: duration{10 * time.Second},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			WidgetTTL:    duration{10 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
			Prefix:         "ticks",
		},
		Generation: GenerationConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Timeout:     duration{45 * time.Second},
			RatePerSec:  5,
			Burst:       8,
			MaxRetries:  2,
			Temperature: 0.9,
		},
		Oracle: OracleConfig{
			Timeout: duration{20 * time.Second},
		},
		Ledger: LedgerConfig{
			ChainID:  84532,
			GasLimit: 300_000,
			Timeout:  duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled: false,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"tick_failed", "questions_resolved"},
		},
		Mode:     "tick",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"tick":   true,
	"loop":   true,
	"server": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: tick, loop, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Tick
	if c.Tick.BudgetMs <= int(CriticalReserve/time.Millisecond) {
		errs = append(errs, fmt.Sprintf("tick: budget_ms must exceed the %s critical reserve, got %d", CriticalReserve, c.Tick.BudgetMs))
	}
	if c.Tick.MaxParallelUnits < 1 {
		errs = append(errs, "tick: max_parallel_units must be >= 1")
	}
	if c.Tick.MinActiveQuestions < 1 {
		errs = append(errs, "tick: min_active_questions must be >= 1")
	}
	if c.Tick.BootstrapQuestions < 1 {
		errs = append(errs, "tick: bootstrap_questions must be >= 1")
	}
	if c.Tick.MarketLiquiditySeed <= 0 {
		errs = append(errs, "tick: market_liquidity_seed must be > 0")
	}
	if (c.Mode == "loop" || c.Mode == "server") && c.Tick.Interval.Duration <= 0 {
		errs = append(errs, "tick: interval must be > 0 in loop and server modes")
	}

	// Database
	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("database: unknown backend %q (valid: postgres, memory)", c.Database.Backend))
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when bucket is set")
	}

	// Generation
	if c.Generation.BaseURL == "" {
		errs = append(errs, "generation: base_url must not be empty")
	}
	if c.Generation.Model == "" {
		errs = append(errs, "generation: model must not be empty")
	}
	if c.Generation.RatePerSec <= 0 {
		errs = append(errs, "generation: rate_per_sec must be > 0")
	}

	// Ledger
	if c.Ledger.Enabled() {
		if c.Ledger.ContractAddress == "" {
			errs = append(errs, "ledger: contract_address is required when rpc_url is set")
		}
		if c.Ledger.PrivateKey == "" && c.Ledger.EncryptedKeyPath == "" {
			errs = append(errs, "ledger: either private_key or encrypted_key_path must be set")
		}
		if c.Ledger.EncryptedKeyPath != "" && c.Ledger.KeyPassword == "" {
			errs = append(errs, "ledger: key_password is required when encrypted_key_path is set")
		}
		if c.Ledger.ChainID <= 0 {
			errs = append(errs, "ledger: chain_id must be positive")
		}
	}

	// Server
	if c.Mode == "server" || c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CriticalReserve is the slice of the tick budget withheld for the trading
// and pricing phase. It is fixed and not configurable.
const CriticalReserve = 60 * time.Second
