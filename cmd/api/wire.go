package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/geocoder89/accounthub/internal/account"
	"github.com/geocoder89/accounthub/internal/avatar"
	"github.com/geocoder89/accounthub/internal/config"
	"github.com/geocoder89/accounthub/internal/db"
	"github.com/geocoder89/accounthub/internal/http/handlers"
	"github.com/geocoder89/accounthub/internal/http/middlewares"
	"github.com/geocoder89/accounthub/internal/notifications"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/geocoder89/accounthub/internal/redisclient"
	"github.com/geocoder89/accounthub/internal/repo/memory"
	"github.com/geocoder89/accounthub/internal/repo/postgres"
)

func openStore(ctx context.Context, cfg config.Config, prom *observability.Prom, log *slog.Logger) (account.Store, handlers.Pinger, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory user store; data is lost on restart")
		return memory.NewUsersRepo(), nil, func() {}, nil

	case "postgres", "":
		if err := db.Migrate(ctx, cfg.DBURL()); err != nil {
			return nil, nil, nil, err
		}

		pool, err := db.NewPool(ctx, cfg.DBURL())
		if err != nil {
			return nil, nil, nil, err
		}

		return postgres.NewUsersRepo(pool, prom), pool.Ping, pool.Close, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// openLimiter prefers a shared Redis window and falls back to a per-process
// one when REDIS_ADDR is empty.
func openLimiter(ctx context.Context, cfg config.Config, log *slog.Logger) (middlewares.Limiter, handlers.Pinger, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, rate limiting per process")
		return middlewares.NewMemoryLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Window), nil, func() {}, nil
	}

	rdb, err := redisclient.New(ctx, redisclient.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	closeFn := func() { _ = rdb.Close() }

	return middlewares.NewRedisLimiter(rdb, cfg.RateLimit.Limit, cfg.RateLimit.Window), ping, closeFn, nil
}

// openAvatarStore returns the store and, for local storage, the directory
// the router serves at /avatars.
func openAvatarStore(ctx context.Context, cfg config.Config) (avatar.Store, string, error) {
	switch cfg.Avatar.Storage {
	case "s3":
		st, err := avatar.NewS3Store(ctx, avatar.S3Config{
			Bucket:        cfg.S3.Bucket,
			Region:        cfg.S3.Region,
			BaseEndpoint:  cfg.S3.BaseEndpoint,
			AccessKey:     cfg.S3.AccessKey,
			SecretKey:     cfg.S3.SecretKey,
			PublicBaseURL: cfg.S3.PublicURL,
		})
		return st, "", err

	case "local", "":
		st, err := avatar.NewLocalStore(cfg.Avatar.Dir)
		if err != nil {
			return nil, "", err
		}
		return st, st.Dir(), nil

	default:
		return nil, "", fmt.Errorf("unknown AVATAR_STORAGE %q", cfg.Avatar.Storage)
	}
}

func newNotifier(cfg config.Config, log *slog.Logger) notifications.Notifier {
	var inner notifications.Notifier

	switch cfg.Mail.Driver {
	case "smtp":
		inner = notifications.NewSMTPNotifier(notifications.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			User:     cfg.Mail.User,
			Password: cfg.Mail.Password,
		})
	default:
		inner = notifications.NewLogNotifier(log)
	}

	return notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		Timeout:          cfg.Mail.Timeout,
		FailureThreshold: cfg.Mail.FailureThreshold,
		Cooldown:         cfg.Mail.Cooldown,
	}, log)
}
