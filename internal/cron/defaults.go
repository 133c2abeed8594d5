package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/pkg/config"
)

// DefaultSpecs returns the standing recurring registrations.
func DefaultSpecs(cfg config.AbandonmentConfig) []RecurringSpec {
	return []RecurringSpec{
		{Name: "abandonment-detection", Kind: queue.KindDetectAbandoned, Schedule: cfg.DetectSchedule, Priority: 5},
		{Name: "email-processing", Kind: queue.KindProcessEmailQueue, Schedule: cfg.EmailSchedule, Priority: 5},
		{Name: "record-cleanup", Kind: queue.KindCleanupOldRecords, Schedule: cfg.CleanupSchedule},
		{Name: "weekly-report", Kind: queue.KindWeeklyReport, Schedule: cfg.ReportSchedule},
	}
}

// RegisterDefaults registers every standing registration.
func RegisterDefaults(ctx context.Context, registry *Registry, cfg config.AbandonmentConfig) error {
	for _, spec := range DefaultSpecs(cfg) {
		if _, err := registry.Register(ctx, spec); err != nil {
			return fmt.Errorf("register %s: %w", spec.Name, err)
		}
	}
	return nil
}
