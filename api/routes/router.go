package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/cartrecovery-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/cartrecovery-backend/api/controllers/cart"
	queuecontrollers "github.com/angelmondragon/cartrecovery-backend/api/controllers/queue"
	remindercontrollers "github.com/angelmondragon/cartrecovery-backend/api/controllers/reminders"
	"github.com/angelmondragon/cartrecovery-backend/api/middleware"
	"github.com/angelmondragon/cartrecovery-backend/internal/cart"
	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/pkg/auth"
	"github.com/angelmondragon/cartrecovery-backend/pkg/config"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
)

// RateLimitStore backs the per-caller request budget.
type RateLimitStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Params wires the HTTP surface.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	Carts       cart.Service
	Queue       queuecontrollers.Admin
	Engagement  remindercontrollers.EngagementRecorder
	RateLimiter RateLimitStore
	Checks      map[string]controllers.Pinger
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	apiPolicy := middleware.NewRateLimitPolicy("api", cfg.HTTP.RateLimitWindow, cfg.HTTP.RateLimitMax)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Checks))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Identify(cfg.JWT, logg))
		if p.RateLimiter != nil {
			r.Use(middleware.RateLimit(apiPolicy, p.RateLimiter, logg))
		}

		r.Get("/shared/{token}", cartcontrollers.CartShared(p.Carts, logg))
		r.Post("/reminders/{recordId}/{stage}/events", remindercontrollers.ReminderEngagement(p.Engagement, logg))

		r.Route("/cart", func(r chi.Router) {
			r.Use(middleware.RequireOwner(logg))

			r.Get("/", cartcontrollers.CartCurrent(p.Carts, logg))
			r.With(middleware.RequireUser(logg)).Post("/merge", cartcontrollers.CartMerge(p.Carts, logg))
			r.Patch("/items/{itemId}", cartcontrollers.CartUpdateItem(p.Carts, logg))
			r.Delete("/items/{itemId}", cartcontrollers.CartRemoveItem(p.Carts, logg))

			r.Route("/{cartId}", func(r chi.Router) {
				r.Get("/", cartcontrollers.CartFetch(p.Carts, logg))
				r.Post("/items", cartcontrollers.CartAddItem(p.Carts, logg))
				r.Delete("/items", cartcontrollers.CartClear(p.Carts, logg))
				r.Post("/lock", cartcontrollers.CartLockPrices(p.Carts, logg))
				r.Post("/share", cartcontrollers.CartShare(p.Carts, logg))
				r.Post("/reservations", cartcontrollers.CartReserve(p.Carts, logg))
				r.Delete("/reservations", cartcontrollers.CartRelease(p.Carts, logg))
				r.Post("/abandonment", cartcontrollers.CartTrackAbandonment(p.Carts, logg))
				r.Post("/convert", cartcontrollers.CartConvert(p.Carts, logg))
				r.Get("/quote", cartcontrollers.CartQuote(p.Carts, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Identify(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, auth.RoleOperator))

		r.Get("/ping", controllers.AdminPing())

		r.Route("/queue", func(r chi.Router) {
			thresholds := queue.HealthThresholds{
				MaxActive: cfg.Queue.OverloadedActiveThreshold,
				MaxFailed: cfg.Queue.DegradedFailedThreshold,
			}
			r.Get("/stats", queuecontrollers.QueueStats(p.Queue, logg))
			r.Get("/health", queuecontrollers.QueueHealth(p.Queue, thresholds, logg))
			r.Get("/failed", queuecontrollers.QueueFailed(p.Queue, logg))
			r.Post("/jobs/{jobId}/retry", queuecontrollers.QueueRetry(p.Queue, logg))
			r.Delete("/jobs/{jobId}", queuecontrollers.QueueRemove(p.Queue, logg))
			r.Post("/pause", queuecontrollers.QueuePause(p.Queue, logg))
			r.Post("/resume", queuecontrollers.QueueResume(p.Queue, logg))
			r.Post("/clean", queuecontrollers.QueueClean(p.Queue, cfg.Queue.CompletedGrace, logg))
		})
	})

	return r
}
