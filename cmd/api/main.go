package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"

	"github.com/angelmondragon/cartrecovery-backend/api"
	"github.com/angelmondragon/cartrecovery-backend/api/controllers"
	"github.com/angelmondragon/cartrecovery-backend/api/routes"
	"github.com/angelmondragon/cartrecovery-backend/internal/abandonment"
	"github.com/angelmondragon/cartrecovery-backend/internal/cart"
	"github.com/angelmondragon/cartrecovery-backend/internal/catalog"
	"github.com/angelmondragon/cartrecovery-backend/internal/email"
	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/pkg/config"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db"
	"github.com/angelmondragon/cartrecovery-backend/pkg/idempotency"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/angelmondragon/cartrecovery-backend/pkg/migrate"
	"github.com/angelmondragon/cartrecovery-backend/pkg/pubsub"
	"github.com/angelmondragon/cartrecovery-backend/pkg/redis"
)

const (
	shutdownTimeout  = 20 * time.Second
	reminderClaimTTL = 7 * 24 * time.Hour
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
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	checks := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}

	var emailPublisher *gcppubsub.Publisher
	if strings.EqualFold(cfg.Email.Transport, config.EmailTransportPubSub) {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		emailPublisher = psClient.EmailPublisher()
		checks["pubsub"] = psClient
	}

	cartRepo := cart.NewRepository(dbClient.DB())
	recordRepo := abandonment.NewRepository(dbClient.DB())

	taxRate, err := cfg.Cart.TaxRateDecimal()
	if err != nil {
		logg.Error(ctx, "invalid tax rate", err)
		os.Exit(1)
	}

	cartService, err := cart.NewService(cart.ServiceParams{
		Repo:         cartRepo,
		Tx:           dbClient,
		Catalog:      catalog.NewRepository(dbClient.DB()),
		Records:      recordRepo,
		Logger:       logg,
		TaxRate:      taxRate,
		GuestTTL:     cfg.Cart.GuestTTL,
		MaxLockHours: cfg.Cart.MaxLockHours,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cart service", err)
		os.Exit(1)
	}

	pauseFlag, err := queue.NewRedisPauseFlag(redisClient)
	if err != nil {
		logg.Error(ctx, "failed to create queue pause flag", err)
		os.Exit(1)
	}
	jobQueue, err := queue.New(queue.Params{
		Store:       queue.NewGormStore(dbClient.DB()),
		Pause:       pauseFlag,
		Logger:      logg,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
	})
	if err != nil {
		logg.Error(ctx, "failed to create job queue", err)
		os.Exit(1)
	}

	sender, err := email.NewSender(cfg.Email, emailPublisher, logg)
	if err != nil {
		logg.Error(ctx, "failed to create email sender", err)
		os.Exit(1)
	}
	guard, err := idempotency.NewManager(redisClient, reminderClaimTTL)
	if err != nil {
		logg.Error(ctx, "failed to create reminder guard", err)
		os.Exit(1)
	}
	processor, err := abandonment.NewProcessor(abandonment.ProcessorParams{
		Records:         recordRepo,
		Carts:           cartRepo,
		Links:           cartService,
		Sender:          sender,
		Guard:           guard,
		Limiter:         abandonment.NewLimiter(cfg.Email.RatePerSecond),
		Logger:          logg,
		FromAddress:     cfg.Email.FromAddress,
		RecoveryBaseURL: cfg.Email.RecoveryBaseURL,
		BatchSize:       cfg.Abandonment.EmailBatchSize,
	})
	if err != nil {
		logg.Error(ctx, "failed to create reminder processor", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := api.NewServer(cfg, addr, routes.NewRouter(routes.Params{
		Config:      cfg,
		Logger:      logg,
		Carts:       cartService,
		Queue:       jobQueue,
		Engagement:  processor,
		RateLimiter: redisClient,
		Checks:      checks,
	}))

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(context.Background(), "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "graceful shutdown failed", err)
		}
	}
}
