package abandonment

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	reminderMaxAttempts = 3
	defaultBackoffBase  = 5 * time.Second
)

// SchedulerParams configure the reminder scheduler.
type SchedulerParams struct {
	Records     RecordStore
	Queue       Enqueuer
	Logger      *logger.Logger
	BackoffBase time.Duration
	Now         func() time.Time
}

// Scheduler plans the reminder stages of a campaign and enqueues one
// send-reminder job per stage.
type Scheduler struct {
	records RecordStore
	queue   Enqueuer
	logg    *logger.Logger
	backoff time.Duration
	now     func() time.Time
}

// NewScheduler builds a Scheduler.
func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Records == nil {
		return nil, fmt.Errorf("record store required")
	}
	if params.Queue == nil {
		return nil, fmt.Errorf("queue required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	backoff := params.BackoffBase
	if backoff <= 0 {
		backoff = defaultBackoffBase
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		records: params.Records,
		queue:   params.Queue,
		logg:    params.Logger,
		backoff: backoff,
		now:     now,
	}, nil
}

// Schedule writes the stage plan onto the record and enqueues the unsent
// stages. Stages already sent are left alone and a lost campaign is reopened
// for its unsent stages. Re-scheduling while jobs are still pending yields
// duplicate results instead of new jobs.
func (s *Scheduler) Schedule(ctx context.Context, record *models.AbandonmentRecord) ([]queue.EnqueueResult, error) {
	if record == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "record is required")
	}
	if record.Status == enums.AbandonmentStatusRecovered {
		return nil, nil
	}

	now := s.now().UTC()
	pending := make([]enums.ReminderStage, 0, len(enums.ReminderStages))
	sent := false
	var next *time.Time
	for _, stage := range enums.ReminderStages {
		log := record.Stage(stage)
		if log.SentAt != nil {
			sent = true
			continue
		}
		at := record.IdleAt.UTC().Add(stage.Offset())
		log.ScheduledAt = &at
		log.SkippedReason = ""
		pending = append(pending, stage)
		if next == nil {
			next = &at
		}
	}
	record.NextReminderAt = next
	switch {
	case len(pending) == 0:
		record.Status = enums.AbandonmentStatusLost
	case sent:
		record.Status = enums.AbandonmentStatusReminding
	default:
		record.Status = enums.AbandonmentStatusPending
	}
	if _, err := s.records.SaveProgress(ctx, record); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save reminder plan")
	}

	results := make([]queue.EnqueueResult, 0, len(pending))
	var errs error
	for _, stage := range pending {
		delay := record.Stage(stage).ScheduledAt.Sub(now)
		if delay < 0 {
			delay = 0
		}
		res, err := s.queue.Enqueue(ctx, queue.KindSendReminder, ReminderPayload{
			RecordID: record.ID,
			CartID:   record.CartID,
			Stage:    stage,
		}, queue.Options{
			Priority:    stage.Priority(),
			Delay:       delay,
			DedupKey:    ReminderKey(record.ID, stage),
			MaxAttempts: reminderMaxAttempts,
			BackoffBase: s.backoff,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stage %s: %w", stage, err))
			continue
		}
		results = append(results, res)
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"record_id": record.ID.String(),
		"cart_id":   record.CartID.String(),
		"stages":    len(pending),
	})
	if errs != nil {
		s.logg.Error(logCtx, "abandonment.schedule_failed", errs)
		return results, errs
	}
	s.logg.Info(logCtx, "abandonment.scheduled")
	return results, nil
}
