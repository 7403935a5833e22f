package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETSIM_* environment variable overrides, and
// returns the final Config. A missing file is not an error: the engine can be
// configured purely from the environment, as cron invokers usually do. The
// returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Tick ──
	setInt(&cfg.Tick.BudgetMs, "MARKETSIM_TICK_BUDGET_MS")
	setDuration(&cfg.Tick.Interval, "MARKETSIM_TICK_INTERVAL")
	setInt(&cfg.Tick.MinActiveQuestions, "MARKETSIM_TICK_MIN_ACTIVE_QUESTIONS")
	setInt(&cfg.Tick.MaxParallelUnits, "MARKETSIM_TICK_MAX_PARALLEL_UNITS")
	setInt(&cfg.Tick.DecisionBatchSize, "MARKETSIM_TICK_DECISION_BATCH_SIZE")

	// ── Database ──
	setStr(&cfg.Database.Backend, "MARKETSIM_DATABASE_BACKEND")
	setStr(&cfg.Database.DSN, "MARKETSIM_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "MARKETSIM_DATABASE_HOST")
	setInt(&cfg.Database.Port, "MARKETSIM_DATABASE_PORT")
	setStr(&cfg.Database.Database, "MARKETSIM_DATABASE_NAME")
	setStr(&cfg.Database.User, "MARKETSIM_DATABASE_USER")
	setStr(&cfg.Database.Password, "MARKETSIM_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "MARKETSIM_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "MARKETSIM_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "MARKETSIM_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "MARKETSIM_DATABASE_RUN_MIGRATIONS")
	setDuration(&cfg.Database.ConnectTimeout, "MARKETSIM_DATABASE_CONNECT_TIMEOUT")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARKETSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETSIM_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETSIM_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "MARKETSIM_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MARKETSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETSIM_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETSIM_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETSIM_S3_FORCE_PATH_STYLE")

	// ── Generation ──
	setStr(&cfg.Generation.BaseURL, "MARKETSIM_GENERATION_BASE_URL")
	setStr(&cfg.Generation.APIKey, "MARKETSIM_GENERATION_API_KEY")
	setStr(&cfg.Generation.Model, "MARKETSIM_GENERATION_MODEL")
	setFloat64(&cfg.Generation.RatePerSec, "MARKETSIM_GENERATION_RATE_PER_SEC")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "MARKETSIM_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "MARKETSIM_ORACLE_API_KEY")

	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "MARKETSIM_LEDGER_RPC_URL")
	setInt(&cfg.Ledger.ChainID, "MARKETSIM_LEDGER_CHAIN_ID")
	setStr(&cfg.Ledger.ContractAddress, "MARKETSIM_LEDGER_CONTRACT_ADDRESS")
	setStr(&cfg.Ledger.PrivateKey, "MARKETSIM_LEDGER_PRIVATE_KEY")
	setStr(&cfg.Ledger.EncryptedKeyPath, "MARKETSIM_LEDGER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Ledger.KeyPassword, "MARKETSIM_LEDGER_KEY_PASSWORD")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MARKETSIM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MARKETSIM_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "MARKETSIM_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETSIM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETSIM_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETSIM_MODE")
	setStr(&cfg.LogLevel, "MARKETSIM_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
