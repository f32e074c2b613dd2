package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/bookshop-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/bookshop-backend/api/controllers/cart"
	"github.com/angelmondragon/bookshop-backend/api/middleware"
	"github.com/angelmondragon/bookshop-backend/internal/auth"
	"github.com/angelmondragon/bookshop-backend/internal/catalog"
	"github.com/angelmondragon/bookshop-backend/pkg/auth/session"
	"github.com/angelmondragon/bookshop-backend/pkg/config"
	"github.com/angelmondragon/bookshop-backend/pkg/db"
	"github.com/angelmondragon/bookshop-backend/pkg/logger"
	"github.com/angelmondragon/bookshop-backend/pkg/redis"
)

// redisStore is the slice of the Redis client the HTTP layer needs.
type redisStore interface {
	redis.Pinger
	redis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Deps carries everything the router wires into handlers.
type Deps struct {
	DB       db.Pinger
	Redis    redisStore
	Sessions session.AccessSessionChecker
	Auth     auth.Service
	Catalog  catalog.Catalog
	Carts    cartcontrollers.Opener
	Metrics  prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.CORS(cfg.CORS),
		middleware.Logging(logg),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginEmailLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterEmailLimit,
	)

	readyDeps := map[string]controllers.Pinger{}
	if deps.DB != nil {
		readyDeps["db"] = deps.DB
	}
	if deps.Redis != nil {
		readyDeps["redis"] = deps.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readyDeps))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(loginPolicy, deps.Redis, logg)).Post("/login", controllers.AuthLogin(deps.Auth, logg))
		r.With(
			middleware.AuthRateLimit(registerPolicy, deps.Redis, logg),
			middleware.Idempotency(deps.Redis, logg),
		).Post("/register", controllers.AuthRegister(deps.Auth, logg))
		r.Post("/logout", controllers.AuthLogout(deps.Auth, logg))
		r.Post("/refresh", controllers.AuthRefresh(deps.Auth, logg))
	})

	r.Route("/api/v1/catalog", func(r chi.Router) {
		r.Get("/search", controllers.CatalogSearch(deps.Catalog, logg))
		r.Get("/bestsellers", controllers.CatalogBestsellers(deps.Catalog, logg))
		r.Get("/items/{itemId}", controllers.CatalogItem(deps.Catalog, logg))
	})

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.Idempotency(deps.Redis, logg))

		r.Get("/", cartcontrollers.CartFetch(deps.Carts, logg))
		r.Post("/items", cartcontrollers.CartAddItem(deps.Carts, deps.Catalog, logg))
		r.Post("/items/{itemId}/increase", cartcontrollers.CartIncrease(deps.Carts, logg))
		r.Post("/items/{itemId}/decrease", cartcontrollers.CartDecrease(deps.Carts, logg))
	})

	return r
}
