package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geocoder89/accounthub/internal/account"
	"github.com/geocoder89/accounthub/internal/auth"
	"github.com/geocoder89/accounthub/internal/avatar"
	"github.com/geocoder89/accounthub/internal/config"
	httpx "github.com/geocoder89/accounthub/internal/http"
	"github.com/geocoder89/accounthub/internal/http/handlers"
	"github.com/geocoder89/accounthub/internal/http/middlewares"
	"github.com/geocoder89/accounthub/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const serviceName = "accounthub-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.OTELEndpoint, cfg.Env)
	if err != nil {
		log.Error("tracer init failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracer(sctx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	store, pingDB, closeStore, err := openStore(ctx, cfg, prom, log)
	if err != nil {
		log.Error("store init failed", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	limiter, pingRedis, closeRedis, err := openLimiter(ctx, cfg, log)
	if err != nil {
		log.Error("redis init failed", "addr", cfg.RedisAddr, "err", err)
		os.Exit(1)
	}
	defer closeRedis()

	avatars, avatarsDir, err := openAvatarStore(ctx, cfg)
	if err != nil {
		log.Error("avatar store init failed", "storage", cfg.Avatar.Storage, "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Avatar.TempDir, 0o755); err != nil {
		log.Error("upload dir init failed", "dir", cfg.Avatar.TempDir, "err", err)
		os.Exit(1)
	}

	svc := account.NewService(
		store,
		newNotifier(cfg, log),
		auth.NewManager(cfg.JWTSecret, cfg.JWTTTL),
		avatar.NewImagingProcessor(cfg.Avatar.Size, cfg.Avatar.Size),
		avatars,
		account.Options{BaseURL: cfg.BaseURL, MailFrom: cfg.Mail.From},
		log,
	)

	router := httpx.NewRouter(httpx.Deps{
		Log:         log,
		Env:         cfg.Env,
		ServiceName: serviceName,
		Users: handlers.NewUsersHandler(svc, prom, log, handlers.UsersHandlerOptions{
			TempDir: cfg.Avatar.TempDir,
			Timeout: 5 * time.Second,
		}),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"db":    pingDB,
			"redis": pingRedis,
		}, log),
		Auth:           middlewares.NewAuthMiddleware(svc),
		RateLimiter:    middlewares.NewRateLimiter(limiter, log),
		Prom:           prom,
		Gatherer:       reg,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		AvatarMaxBytes: cfg.Avatar.MaxSize,
		AvatarsDir:     avatarsDir,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreDriver)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("server shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		ctx, cancel := config.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
