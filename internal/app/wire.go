package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/marketsim/internal/blob/s3"
	"github.com/alanyoungcy/marketsim/internal/cache/redis"
	"github.com/alanyoungcy/marketsim/internal/config"
	"github.com/alanyoungcy/marketsim/internal/crypto"
	"github.com/alanyoungcy/marketsim/internal/domain"
	"github.com/alanyoungcy/marketsim/internal/notify"
	"github.com/alanyoungcy/marketsim/internal/platform/generation"
	"github.com/alanyoungcy/marketsim/internal/platform/ledger"
	"github.com/alanyoungcy/marketsim/internal/platform/oracle"
	"github.com/alanyoungcy/marketsim/internal/service"
	"github.com/alanyoungcy/marketsim/internal/store/memory"
	"github.com/alanyoungcy/marketsim/internal/store/postgres"
)

// Dependencies bundles every concrete collaborator the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Stores service.Stores

	// Caches. Without Redis only LockManager is set, to an in-process lock.
	LockManager  domain.LockManager
	PriceCache   domain.PriceCache
	WidgetMirror domain.WidgetMirror
	SignalBus    domain.SignalBus
	RateLimiter  domain.RateLimiter

	// Blob storage
	Archiver domain.Archiver

	// Collaborators. Oracle and Ledger are nil when not configured.
	Generator domain.Generator
	Oracle    domain.OracleClient
	Ledger    domain.Ledger

	// Notifications
	Notifier *notify.Notifier
}

// storesFromMemory exposes every table of db through the store interfaces.
func storesFromMemory(db *memory.DB) service.Stores {
	return service.Stores{
		Questions:     db.Questions(),
		Markets:       db.Markets(),
		Positions:     db.Positions(),
		PoolPositions: db.PoolPositions(),
		Organizations: db.Organizations(),
		Actors:        db.Actors(),
		Balances:      db.Balances(),
		Content:       db.Content(),
		Trades:        db.Trades(),
		Widgets:       db.Widgets(),
		State:         db.State(),
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Persistence ---
	var memDB *memory.DB
	switch cfg.Database.Backend {
	case "memory":
		memDB = memory.New()
		deps.Stores = storesFromMemory(memDB)
		logger.InfoContext(ctx, "wire: using in-memory store")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,

			ParallelUnits:    cfg.Tick.MaxParallelUnits,
			ConnectTimeout:   cfg.Database.ConnectTimeout.Duration,
			StatementTimeout: cfg.Tick.Budget(),
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "wire: applied migrations", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.Stores = service.Stores{
			Questions:     postgres.NewQuestionStore(pool),
			Markets:       postgres.NewMarketStore(pool),
			Positions:     postgres.NewPositionStore(pool),
			PoolPositions: postgres.NewPoolPositionStore(pool),
			Organizations: postgres.NewOrganizationStore(pool),
			Actors:        postgres.NewActorStore(pool),
			Balances:      postgres.NewBalanceStore(pool),
			Content:       postgres.NewContentStore(pool),
			Trades:        postgres.NewTradeStore(pool),
			Widgets:       postgres.NewWidgetStore(pool),
			State:         postgres.NewStateStore(pool),
		}
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.WidgetMirror = redis.NewWidgetMirror(redisClient, cfg.Redis.WidgetTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	} else {
		if memDB == nil {
			// Postgres without Redis: the lease is still process-local.
			memDB = memory.New()
			logger.WarnContext(ctx, "wire: redis not configured, tick lease is process-local")
		}
		deps.LockManager = memDB.Locks()
	}

	// --- S3 tick archive ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewTickArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
	}

	// --- Collaborators ---
	deps.Generator = generation.New(generation.Config{
		BaseURL:     cfg.Generation.BaseURL,
		APIKey:      cfg.Generation.APIKey,
		Model:       cfg.Generation.Model,
		Timeout:     cfg.Generation.Timeout.Duration,
		RatePerSec:  cfg.Generation.RatePerSec,
		Burst:       cfg.Generation.Burst,
		MaxRetries:  cfg.Generation.MaxRetries,
		Temperature: cfg.Generation.Temperature,
	}, logger)

	if cfg.Oracle.Enabled() {
		deps.Oracle = oracle.New(oracle.Config{
			BaseURL: cfg.Oracle.BaseURL,
			APIKey:  cfg.Oracle.APIKey,
			Timeout: cfg.Oracle.Timeout.Duration,
		}, logger)
	}

	if cfg.Ledger.Enabled() {
		pk, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Ledger.PrivateKey,
			EncryptedKeyPath: cfg.Ledger.EncryptedKeyPath,
			KeyPassword:      cfg.Ledger.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: ledger key: %w", err)
		}
		client, err := ledger.Dial(ledger.Config{
			RPCURL:          cfg.Ledger.RPCURL,
			ChainID:         int64(cfg.Ledger.ChainID),
			ContractAddress: cfg.Ledger.ContractAddress,
			GasLimit:        cfg.Ledger.GasLimit,
			Timeout:         cfg.Ledger.Timeout.Duration,
		}, pk, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: ledger: %w", err)
		}
		deps.Ledger = client
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
