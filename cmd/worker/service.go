package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
)

const metricsShutdownTimeout = 5 * time.Second

type runner interface {
	Run(ctx context.Context) error
}

type pingFunc func(context.Context) error

type ServiceParams struct {
	Logger      *logger.Logger
	Worker      runner
	Cron        runner
	Checks      map[string]pingFunc
	MetricsAddr string
	Gatherer    prometheus.Gatherer
}

// Service runs the queue worker pool, the recurring job scheduler and the
// metrics endpoint until one of them fails or the context ends.
type Service struct {
	logg        *logger.Logger
	worker      runner
	cron        runner
	checks      map[string]pingFunc
	metricsAddr string
	gatherer    prometheus.Gatherer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Worker == nil {
		return nil, errors.New("queue worker is required")
	}
	if params.Cron == nil {
		return nil, errors.New("cron service is required")
	}
	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Service{
		logg:        params.Logger,
		worker:      params.Worker,
		cron:        params.Cron,
		checks:      params.Checks,
		metricsAddr: params.MetricsAddr,
		gatherer:    gatherer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := pingDependency(ctx, s.logg, name, s.checks[name]); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn pingFunc) error {
	if fn == nil {
		return nil
	}
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.worker.Run(groupCtx)
	})
	group.Go(func() error {
		return s.cron.Run(groupCtx)
	})
	if s.metricsAddr != "" {
		group.Go(func() error {
			return s.serveMetrics(groupCtx)
		})
	}

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "worker stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return nil
}

func (s *Service) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              s.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return ctx.Err()
	}
}
