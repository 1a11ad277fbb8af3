package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/updownbet/updown/internal/blob/s3"
	"github.com/updownbet/updown/internal/cache/redis"
	"github.com/updownbet/updown/internal/config"
	"github.com/updownbet/updown/internal/domain"
	"github.com/updownbet/updown/internal/notify"
	"github.com/updownbet/updown/internal/oracle"
	"github.com/updownbet/updown/internal/server/handler"
	"github.com/updownbet/updown/internal/store/memory"
	"github.com/updownbet/updown/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the application needs.
// Optional fields are nil when the backing service is disabled; the engine
// and keeper tolerate that.
type Dependencies struct {
	// Stores
	Rounds   domain.RoundStore
	Bets     domain.BetStore
	Treasury domain.Treasury
	Audit    domain.AuditStore

	// Redis
	Prices domain.PriceCache
	Bus    domain.SignalBus
	Locks  domain.LockManager

	// Oracle
	Oracle domain.PriceOracle

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Pingers feed the health endpoint, keyed by dependency name.
	Pingers map[string]handler.Pinger
}

// pingFunc adapts a plain function to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs the concrete dependency implementations from the given
// configuration and returns them with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Pingers: make(map[string]handler.Pinger),
	}

	memoryMode := strings.ToLower(cfg.Mode) == "memory"

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled && !memoryMode {
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
		deps.Rounds = postgres.NewRoundStore(pool)
		deps.Bets = postgres.NewBetStore(pool)
		deps.Treasury = postgres.NewAccountStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Pingers["postgres"] = pgClient
	} else {
		// Balances still need to exist without a database.
		deps.Treasury = memory.NewTreasury()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.Prices = redis.NewPriceCache(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Pingers["redis"] = redisClient
	}

	// --- Oracle ---
	deps.Oracle = oracle.NewHTTPFeed(cfg.Oracle.BaseURL, cfg.Oracle.Timeout.Duration)

	// --- S3 blob storage ---
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
		deps.Pingers["s3"] = pingFunc(s3Client.Health)

		// Archival needs the durable stores to read from.
		if deps.Rounds != nil && deps.Bets != nil {
			deps.Archiver = s3blob.NewRoundArchiver(s3blob.NewWriter(s3Client), deps.Rounds, deps.Bets, deps.Audit)
		} else {
			logger.WarnContext(ctx, "s3 enabled without postgres, archiver disabled")
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
