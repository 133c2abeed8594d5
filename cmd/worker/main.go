package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/cartrecovery-backend/internal/abandonment"
	"github.com/angelmondragon/cartrecovery-backend/internal/cart"
	"github.com/angelmondragon/cartrecovery-backend/internal/catalog"
	"github.com/angelmondragon/cartrecovery-backend/internal/cron"
	"github.com/angelmondragon/cartrecovery-backend/internal/email"
	"github.com/angelmondragon/cartrecovery-backend/internal/jobs"
	"github.com/angelmondragon/cartrecovery-backend/internal/maintenance"
	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/internal/reporting"
	"github.com/angelmondragon/cartrecovery-backend/internal/users"
	"github.com/angelmondragon/cartrecovery-backend/pkg/bigquery"
	"github.com/angelmondragon/cartrecovery-backend/pkg/config"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db"
	"github.com/angelmondragon/cartrecovery-backend/pkg/idempotency"
	"github.com/angelmondragon/cartrecovery-backend/pkg/instance"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/angelmondragon/cartrecovery-backend/pkg/metrics"
	"github.com/angelmondragon/cartrecovery-backend/pkg/migrate"
	"github.com/angelmondragon/cartrecovery-backend/pkg/pubsub"
	"github.com/angelmondragon/cartrecovery-backend/pkg/redis"
)

const (
	lockKeyFormat    = "cron-scheduler:%s"
	reminderClaimTTL = 7 * 24 * time.Hour
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerID := instance.GetID()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"instance": workerID,
	})

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

	checks := map[string]pingFunc{
		"database": dbClient.Ping,
		"redis":    redisClient.Ping,
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
		checks["pubsub"] = psClient.Ping
	}

	var bqClient *bigquery.Client
	if cfg.BigQuery.Enabled {
		bqClient, err = bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap bigquery", err)
			os.Exit(1)
		}
		defer func() {
			if err := bqClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing bigquery", err)
			}
		}()
		checks["bigquery"] = bqClient.Ping
	}

	queueMetrics := metrics.NewQueueMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	pauseFlag, err := queue.NewRedisPauseFlag(redisClient)
	if err != nil {
		logg.Error(ctx, "failed to create queue pause flag", err)
		os.Exit(1)
	}
	jobQueue, err := queue.New(queue.Params{
		Store:       queue.NewGormStore(dbClient.DB()),
		Pause:       pauseFlag,
		Logger:      logg,
		Metrics:     queueMetrics,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
	})
	if err != nil {
		logg.Error(ctx, "failed to create job queue", err)
		os.Exit(1)
	}

	handlers, err := buildHandlers(ctx, cfg, logg, dbClient, redisClient, jobQueue, emailPublisher, bqClient)
	if err != nil {
		logg.Error(ctx, "failed to build job handlers", err)
		os.Exit(1)
	}

	worker, err := queue.NewWorker(queue.WorkerParams{
		Queue:             jobQueue,
		Handlers:          handlers,
		Logger:            logg,
		Metrics:           queueMetrics,
		ID:                workerID,
		Workers:           cfg.Queue.Workers,
		PollInterval:      cfg.Queue.PollInterval,
		JobTimeout:        cfg.Queue.JobTimeout,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	})
	if err != nil {
		logg.Error(ctx, "failed to create queue worker", err)
		os.Exit(1)
	}

	cronStore := cron.NewGormStore(dbClient.DB())
	registry, err := cron.NewRegistry(cronStore, nil)
	if err != nil {
		logg.Error(ctx, "failed to create cron registry", err)
		os.Exit(1)
	}
	if err := cron.RegisterDefaults(ctx, registry, cfg.Abandonment); err != nil {
		logg.Error(ctx, "failed to register recurring jobs", err)
		os.Exit(1)
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockKey(cfg.App.Env)), 0)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}
	cronService, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Store:    cronStore,
		Queue:    jobQueue,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Queue.SchedulerTick,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Logger:      logg,
		Worker:      worker,
		Cron:        cronService,
		Checks:      checks,
		MetricsAddr: ":" + cfg.App.MetricsPort,
	})
	if err != nil {
		logg.Error(ctx, "failed to create worker service", err)
		os.Exit(1)
	}

	logg.Info(ctx, "starting worker")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "worker shutting down gracefully")
}

// buildHandlers assembles the recovery engine behind each job kind.
func buildHandlers(
	ctx context.Context,
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	jobQueue *queue.Queue,
	emailPublisher *gcppubsub.Publisher,
	bqClient *bigquery.Client,
) (map[string]queue.Handler, error) {
	cartRepo := cart.NewRepository(dbClient.DB())
	recordRepo := abandonment.NewRepository(dbClient.DB())

	scheduler, err := abandonment.NewScheduler(abandonment.SchedulerParams{
		Records:     recordRepo,
		Queue:       jobQueue,
		Logger:      logg,
		BackoffBase: cfg.Queue.BackoffBase,
	})
	if err != nil {
		return nil, fmt.Errorf("reminder scheduler: %w", err)
	}

	detector, err := abandonment.NewDetector(abandonment.DetectorParams{
		Carts:         cartRepo,
		Records:       recordRepo,
		Scheduler:     scheduler,
		Contacts:      users.NewRepository(dbClient.DB()),
		Logger:        logg,
		IdleThreshold: cfg.Abandonment.IdleThreshold,
		BatchSize:     cfg.Abandonment.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("abandonment detector: %w", err)
	}

	sender, err := email.NewSender(cfg.Email, emailPublisher, logg)
	if err != nil {
		return nil, fmt.Errorf("email sender: %w", err)
	}
	guard, err := idempotency.NewManager(redisClient, reminderClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("reminder guard: %w", err)
	}
	taxRate, err := cfg.Cart.TaxRateDecimal()
	if err != nil {
		return nil, fmt.Errorf("tax rate: %w", err)
	}
	links, err := cart.NewService(cart.ServiceParams{
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
		return nil, fmt.Errorf("cart service: %w", err)
	}
	processor, err := abandonment.NewProcessor(abandonment.ProcessorParams{
		Records:         recordRepo,
		Carts:           cartRepo,
		Links:           links,
		Sender:          sender,
		Guard:           guard,
		Limiter:         abandonment.NewLimiter(cfg.Email.RatePerSecond),
		Logger:          logg,
		FromAddress:     cfg.Email.FromAddress,
		RecoveryBaseURL: cfg.Email.RecoveryBaseURL,
		BatchSize:       cfg.Abandonment.EmailBatchSize,
		MaxAttempts:     cfg.Queue.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("reminder processor: %w", err)
	}

	cleanup, err := maintenance.NewCleanupJob(maintenance.CleanupJobParams{
		Logger:         logg,
		Records:        recordRepo,
		Carts:          cartRepo,
		Jobs:           jobQueue,
		RetentionDays:  cfg.Abandonment.RetentionDays,
		CompletedGrace: cfg.Queue.CompletedGrace,
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup job: %w", err)
	}

	logSink, err := reporting.NewLogSink(logg)
	if err != nil {
		return nil, fmt.Errorf("report log sink: %w", err)
	}
	sinks := []reporting.Sink{logSink}
	if bqClient != nil {
		bqSink, err := reporting.NewBigQuerySink(ctx, bqClient)
		if err != nil {
			return nil, fmt.Errorf("report bigquery sink: %w", err)
		}
		sinks = append(sinks, bqSink)
	}
	reporter, err := reporting.NewWeeklyReporter(reporting.WeeklyReporterParams{
		Logger:  logg,
		Records: recordRepo,
		Sinks:   sinks,
	})
	if err != nil {
		return nil, fmt.Errorf("weekly reporter: %w", err)
	}

	return jobs.Handlers(jobs.Params{
		Logger:    logg,
		Detector:  detector,
		Processor: processor,
		Cleanup:   cleanup,
		Reporter:  reporter,
	})
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
