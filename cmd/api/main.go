package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	cartcontrollers "github.com/angelmondragon/bookshop-backend/api/controllers/cart"
	"github.com/angelmondragon/bookshop-backend/api/routes"
	"github.com/angelmondragon/bookshop-backend/internal/auth"
	"github.com/angelmondragon/bookshop-backend/internal/cart"
	"github.com/angelmondragon/bookshop-backend/internal/catalog"
	"github.com/angelmondragon/bookshop-backend/internal/cron"
	"github.com/angelmondragon/bookshop-backend/internal/users"
	"github.com/angelmondragon/bookshop-backend/pkg/auth/session"
	"github.com/angelmondragon/bookshop-backend/pkg/config"
	"github.com/angelmondragon/bookshop-backend/pkg/db"
	"github.com/angelmondragon/bookshop-backend/pkg/instance"
	"github.com/angelmondragon/bookshop-backend/pkg/logger"
	"github.com/angelmondragon/bookshop-backend/pkg/metrics"
	"github.com/angelmondragon/bookshop-backend/pkg/migrate"
	"github.com/angelmondragon/bookshop-backend/pkg/redis"
)

const (
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	books := catalog.NewClient(cfg.Catalog,
		catalog.WithMetrics(metrics.NewCatalogMetrics(registry)),
		catalog.WithLogger(logg),
	)

	var locker cart.Locker = cart.NewLocalLocker()
	if cfg.FeatureFlags.DistributedCartLocks {
		locker = cart.NewRedisLocker(redisClient, cfg.Cart.LockTTL, cfg.Cart.LockRetryInterval, logg)
	}
	carts := cart.NewSessions(cart.NewRepository(dbClient.DB()), logg,
		cart.WithLocker(locker),
		cart.WithMetrics(metrics.NewCartMetrics(registry)),
		cart.WithLogger(logg),
	)
	defer carts.CloseAll()

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       users.NewRepository(dbClient.DB()),
		SessionManager: sessionManager,
		Observer:       carts,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
		Logger:         logg,
	})
	if err != nil {
		return err
	}

	reaper, err := cron.NewSessionReaperJob(carts, cfg.Cart.SessionIdleTTL, logg)
	if err != nil {
		return err
	}
	jobs, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(reaper),
		Metrics:  metrics.NewJobMetrics(registry),
		Interval: cfg.Cart.SessionIdleTTL / 2,
	})
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: readHeaderTimeout,
		Handler: routes.NewRouter(cfg, logg, routes.Deps{
			DB:       dbClient,
			Redis:    redisClient,
			Sessions: sessionManager,
			Auth:     authService,
			Catalog:  books,
			Carts:    cartcontrollers.FromSessions(carts),
			Metrics:  registry,
		}),
	}

	logCtx := logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"instance":    instance.ID(),
		"dialect":     dbClient.Dialect(),
		"cart_locker": lockerName(cfg),
	})
	logg.Info(logCtx, "starting api server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := jobs.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logg.Info(logCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func lockerName(cfg *config.Config) string {
	if cfg.FeatureFlags.DistributedCartLocks {
		return "redis"
	}
	return "local"
}
