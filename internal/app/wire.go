package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/catallaxyz/matchd/internal/blob/s3"
	"github.com/catallaxyz/matchd/internal/breaker"
	"github.com/catallaxyz/matchd/internal/cache/redis"
	"github.com/catallaxyz/matchd/internal/config"
	"github.com/catallaxyz/matchd/internal/domain"
	"github.com/catallaxyz/matchd/internal/engine"
	"github.com/catallaxyz/matchd/internal/notify"
	"github.com/catallaxyz/matchd/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Durable store
	OrderStore domain.OrderStore
	FeeSource  domain.FeeConfigSource
	AuditStore domain.AuditStore

	// Coordination store
	OrderCache  domain.OrderCache
	BookCache   domain.BookCache
	LockManager domain.LockManager
	Queue       domain.SettlementQueue
	CancelStore domain.CancelStore
	Intake      *redis.OrderIntake

	// Circuit breakers, one per external dependency
	CoordBreaker  *breaker.Breaker
	StoreBreaker  *breaker.Breaker
	SettleBreaker *breaker.Breaker

	// Matching
	Engine         *engine.Engine
	DurableMatcher *engine.DurableMatcher

	// Side effects
	Archiver domain.MatchArchiver
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		CoordBreaker:  breaker.New("coordination_store", breaker.CoordinationStoreConfig(), logger),
		StoreBreaker:  breaker.New("relational_store", breaker.RelationalStoreConfig(), logger),
		SettleBreaker: breaker.New("settlement", breaker.SettlementConfig(), logger),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.OrderStore = postgres.NewOrderStore(pool)
	deps.FeeSource = postgres.NewFeeConfigStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
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

	orderCache := redis.NewOrderCache(redisClient)
	deps.OrderCache = orderCache
	deps.BookCache = redis.NewBookCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient, logger)
	deps.Queue = redis.NewSettlementQueue(redisClient)
	deps.CancelStore = redis.NewCancelStore(redisClient, orderCache)
	deps.Intake = redis.NewOrderIntake(redisClient)

	// --- S3 settlement archive (optional) ---
	if cfg.S3.Enabled {
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
		deps.Archiver = s3blob.NewMatchArchiver(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Matching ---
	fees := engine.NewFeeEngine(deps.FeeSource, logger)
	opts := engine.Options{
		Audit:    deps.AuditStore,
		Notifier: deps.Notifier,
		LockTTL:  cfg.Engine.LockTTL.Duration,
	}

	coordBook := engine.NewCoordinationOrderBook(deps.BookCache, deps.OrderCache, deps.CoordBreaker)
	deps.Engine = engine.New(
		coordBook,
		deps.OrderCache,
		deps.CancelStore,
		deps.LockManager,
		deps.Queue,
		fees,
		deps.CoordBreaker,
		logger,
		opts,
	)

	durableBook := engine.NewDurableOrderBook(deps.OrderStore, deps.StoreBreaker)
	deps.DurableMatcher = engine.NewDurableMatcher(
		durableBook,
		deps.OrderStore,
		fees,
		deps.StoreBreaker,
		logger,
		opts,
	)

	return deps, cleanup, nil
}
