package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/cartrecovery-backend/internal/abandonment"
	"github.com/angelmondragon/cartrecovery-backend/internal/maintenance"
	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/internal/reporting"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
)

type detector interface {
	Run(ctx context.Context) (abandonment.DetectResult, error)
}

type reminderProcessor interface {
	SendReminder(ctx context.Context, payload abandonment.ReminderPayload) (abandonment.Outcome, error)
	ProcessBatch(ctx context.Context) (abandonment.BatchResult, error)
}

type cleaner interface {
	Run(ctx context.Context) (maintenance.CleanupResult, error)
}

type reporter interface {
	Run(ctx context.Context) (reporting.Report, error)
}

// Params carries the components each job kind drives.
type Params struct {
	Logger    *logger.Logger
	Detector  detector
	Processor reminderProcessor
	Cleanup   cleaner
	Reporter  reporter
}

// Handlers returns the handler table for every known job kind.
func Handlers(p Params) (map[string]queue.Handler, error) {
	switch {
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case p.Detector == nil:
		return nil, fmt.Errorf("detector required")
	case p.Processor == nil:
		return nil, fmt.Errorf("processor required")
	case p.Cleanup == nil:
		return nil, fmt.Errorf("cleanup job required")
	case p.Reporter == nil:
		return nil, fmt.Errorf("reporter required")
	}

	return map[string]queue.Handler{
		queue.KindDetectAbandoned: queue.HandlerFunc(func(ctx context.Context, _ *models.QueueJob) error {
			_, err := p.Detector.Run(ctx)
			return err
		}),
		queue.KindSendReminder: queue.HandlerFunc(func(ctx context.Context, job *models.QueueJob) error {
			var payload abandonment.ReminderPayload
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode send-reminder payload")
			}
			outcome, err := p.Processor.SendReminder(ctx, payload)
			if err != nil {
				return err
			}
			p.Logger.Debug(p.Logger.WithFields(ctx, map[string]any{
				"record_id": payload.RecordID.String(),
				"stage":     string(payload.Stage),
				"outcome":   string(outcome),
			}), "reminder job handled")
			return nil
		}),
		queue.KindProcessEmailQueue: queue.HandlerFunc(func(ctx context.Context, _ *models.QueueJob) error {
			_, err := p.Processor.ProcessBatch(ctx)
			return err
		}),
		queue.KindCleanupOldRecords: queue.HandlerFunc(func(ctx context.Context, _ *models.QueueJob) error {
			_, err := p.Cleanup.Run(ctx)
			return err
		}),
		queue.KindWeeklyReport: queue.HandlerFunc(func(ctx context.Context, _ *models.QueueJob) error {
			_, err := p.Reporter.Run(ctx)
			return err
		}),
	}, nil
}
