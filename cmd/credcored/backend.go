package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/credcore/credcore"
	"github.com/credcore/credcore/internal/rate"
	"github.com/credcore/credcore/middleware"
	"github.com/credcore/credcore/store/memstore"
	"github.com/credcore/credcore/store/mongostore"
	"github.com/credcore/credcore/store/pgstore"
	"github.com/credcore/credcore/store/redisstore"
)

// backend is an opened store plus what the server derives from it.
type backend struct {
	repo    credcore.Repository
	sweeper credcore.Sweeper
	flags   middleware.SessionFlags
	counter rate.Counter
	ping    func(context.Context) error
	close   func()
}

// openBackend connects the configured store. sessionTTL bounds how long a
// verified-session flag lives.
func openBackend(ctx context.Context, cfg storeConfig, sessionTTL time.Duration, logger *slog.Logger) (*backend, error) {
	b := &backend{
		ping:  func(context.Context) error { return nil },
		close: func() {},
	}

	switch cfg.Driver {
	case driverRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", cfg.Driver).With("addr", cfg.RedisAddr).Wrap(err)
		}
		b.repo = redisstore.New(client, cfg.RedisPrefix)
		b.flags = middleware.NewRedisSessionFlags(client, cfg.RedisPrefix+":2fa-session:", sessionTTL)
		b.counter = rate.NewRedisCounter(client)
		b.ping = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		b.close = func() { _ = client.Close() }

	case driverPostgres:
		if cfg.AutoMigrate {
			if err := migrateUp(cfg.PostgresURL); err != nil {
				return nil, err
			}
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", cfg.Driver).Wrap(err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", cfg.Driver).Wrap(err)
		}
		b.repo = pgstore.New(pool)
		b.ping = pool.Ping
		b.close = pool.Close

	case driverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", cfg.Driver).Wrap(err)
		}
		disconnect := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			disconnect()
			return nil, oops.Code("STORE_CONNECT_FAILED").With("driver", cfg.Driver).Wrap(err)
		}
		store := mongostore.New(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, oops.Code("STORE_INDEX_FAILED").With("driver", cfg.Driver).Wrap(err)
		}
		b.repo = store
		b.ping = func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) }
		b.close = disconnect

	default:
		logger.Warn("using the in-memory store; data is lost on restart")
		b.repo = memstore.New()
	}

	if b.flags == nil {
		b.flags = middleware.NewMemorySessionFlags(0, sessionTTL)
	}
	if b.counter == nil {
		b.counter = rate.NewMemoryCounter(nil)
	}
	if sw, ok := b.repo.(credcore.Sweeper); ok {
		b.sweeper = sw
	}
	logger.Info("store ready", "driver", cfg.Driver)
	return b, nil
}
