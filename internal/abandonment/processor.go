package abandonment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/internal/email"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	defaultEmailBatch = 100
	guardScope        = "reminder"
	claimRetryDelay   = 15 * time.Minute
)

// Outcome describes what a delivery attempt did.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRecovered Outcome = "recovered"
	OutcomeNoop      Outcome = "noop"
)

// BatchResult summarises one email batch.
type BatchResult struct {
	Records  int `json:"records"`
	Sent     int `json:"sent"`
	Skipped  int `json:"skipped"`
	Deferred int `json:"deferred"`
	Failed   int `json:"failed"`
}

// ProcessorParams configure the reminder processor.
type ProcessorParams struct {
	Records         RecordStore
	Carts           CartStore
	Links           ShareLinker
	Sender          email.Sender
	Guard           SendGuard
	Limiter         Limiter
	Logger          *logger.Logger
	FromAddress     string
	RecoveryBaseURL string
	BatchSize       int
	MaxAttempts     int
	Now             func() time.Time
}

// Processor delivers reminder emails for due campaign stages.
type Processor struct {
	records     RecordStore
	carts       CartStore
	links       ShareLinker
	sender      email.Sender
	guard       SendGuard
	limiter     Limiter
	logg        *logger.Logger
	from        string
	baseURL     string
	batch       int
	maxAttempts int
	now         func() time.Time
}

// NewLimiter returns a token bucket allowing perSecond sends with a burst of
// one second worth of tokens. A non-positive rate disables throttling.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// NewProcessor builds a Processor.
func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Records == nil {
		return nil, fmt.Errorf("record store required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if params.Links == nil {
		return nil, fmt.Errorf("share linker required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("email sender required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("send guard required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	limiter := params.Limiter
	if limiter == nil {
		limiter = NewLimiter(0)
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultEmailBatch
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = reminderMaxAttempts
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		records:     params.Records,
		carts:       params.Carts,
		links:       params.Links,
		sender:      params.Sender,
		guard:       params.Guard,
		limiter:     limiter,
		logg:        params.Logger,
		from:        params.FromAddress,
		baseURL:     strings.TrimRight(strings.TrimSpace(params.RecoveryBaseURL), "/"),
		batch:       batch,
		maxAttempts: maxAttempts,
		now:         now,
	}, nil
}

// SendReminder handles one send-reminder job. Delivery errors are returned
// so the queue can retry the job.
func (p *Processor) SendReminder(ctx context.Context, payload ReminderPayload) (Outcome, error) {
	if payload.RecordID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "record_id is required")
	}
	if !payload.Stage.IsValid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "unknown reminder stage").
			WithDetails(map[string]any{"stage": payload.Stage})
	}

	record, err := p.records.FindByID(ctx, payload.RecordID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return OutcomeNoop, nil
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load abandonment record")
	}
	return p.deliver(ctx, record, payload.Stage)
}

// ProcessBatch sends the most recent due stage of each due campaign. Earlier
// stages that are also due are skipped as superseded so a late batch never
// sends a burst of reminders. Per-record failures are counted and logged
// without aborting the batch.
func (p *Processor) ProcessBatch(ctx context.Context) (BatchResult, error) {
	var result BatchResult
	now := p.now().UTC()

	records, err := p.records.DueForReminder(ctx, now, p.batch)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due reminders")
	}
	result.Records = len(records)

	var errs error
	for i := range records {
		record := &records[i]
		stage, superseded := dueStage(record, now)
		if stage == "" {
			if err := p.settle(ctx, record); err != nil {
				errs = multierr.Append(errs, err)
			}
			continue
		}
		for _, earlier := range superseded {
			record.Stage(earlier).SkippedReason = SkipSuperseded
			result.Skipped++
		}
		if log := record.Stage(stage); log.Attempts >= p.maxAttempts {
			log.SkippedReason = SkipDeliveryFailed
			result.Skipped++
			if err := p.settle(ctx, record); err != nil {
				errs = multierr.Append(errs, err)
			}
			continue
		}

		outcome, err := p.deliver(ctx, record, stage)
		switch {
		case err != nil:
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("record %s stage %s: %w", record.ID, stage, err))
		case outcome == OutcomeSent:
			result.Sent++
		case outcome == OutcomeSkipped:
			result.Skipped++
		case outcome == OutcomeNoop:
			// another delivery holds the claim; look again later instead of
			// keeping the record at the head of every batch
			if err := p.records.DeferReminder(ctx, record.ID, now.Add(claimRetryDelay)); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("record %s defer: %w", record.ID, err))
				continue
			}
			result.Deferred++
		}
	}

	logCtx := p.logg.WithFields(ctx, map[string]any{
		"records":  result.Records,
		"sent":     result.Sent,
		"skipped":  result.Skipped,
		"deferred": result.Deferred,
		"failed":   result.Failed,
	})
	if errs != nil {
		p.logg.Error(logCtx, "abandonment.batch_partial", errs)
	} else {
		p.logg.Info(logCtx, "abandonment.batch_processed")
	}
	return result, nil
}

// RecordEngagement stamps an open or click on a sent stage. A click implies
// an open. Repeated events keep the first timestamp.
func (p *Processor) RecordEngagement(ctx context.Context, recordID uuid.UUID, stage enums.ReminderStage, event enums.EngagementEvent) (*models.AbandonmentRecord, error) {
	if !stage.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown reminder stage")
	}
	if event != enums.EngagementOpened && event != enums.EngagementClicked {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown engagement event")
	}
	record, err := p.records.FindByID(ctx, recordID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "abandonment record not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load abandonment record")
	}

	log, ok := record.Stages[stage]
	if !ok || log == nil || log.SentAt == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "reminder stage was not sent")
	}
	now := p.now().UTC()
	if log.OpenedAt == nil {
		log.OpenedAt = &now
	}
	if event == enums.EngagementClicked && log.ClickedAt == nil {
		log.ClickedAt = &now
	}
	if err := p.records.UpdateStages(ctx, record.ID, record.Stages); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save engagement")
	}
	return record, nil
}

func (p *Processor) deliver(ctx context.Context, record *models.AbandonmentRecord, stage enums.ReminderStage) (Outcome, error) {
	ctx = p.logg.WithFields(ctx, map[string]any{
		"record_id": record.ID.String(),
		"cart_id":   record.CartID.String(),
		"stage":     string(stage),
	})
	if record.Status == enums.AbandonmentStatusRecovered {
		return OutcomeNoop, nil
	}
	log := record.Stage(stage)
	if log.Settled() {
		return OutcomeNoop, nil
	}

	cart, err := p.carts.FindByID(ctx, record.CartID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p.skip(ctx, record, stage, SkipCartMissing)
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if cart.ConvertedToOrder {
		at := p.now().UTC()
		if cart.ConvertedAt != nil {
			at = *cart.ConvertedAt
		}
		if err := p.records.MarkRecovered(ctx, cart.ID, cart.TotalCents, at); err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark recovered")
		}
		p.logg.Info(ctx, "abandonment.recovered")
		return OutcomeRecovered, nil
	}
	// a job planned for an earlier idle period must not send a replanned stage
	// ahead of time; the batch picks the stage up once it is due
	if log.ScheduledAt != nil && log.ScheduledAt.After(p.now().UTC()) {
		p.logg.Info(p.logg.WithField(ctx, "scheduled_at", log.ScheduledAt.UTC()), "abandonment.reminder_not_due")
		return OutcomeNoop, nil
	}
	switch {
	case cart.ExpiredAt != nil:
		return p.skip(ctx, record, stage, SkipCartExpired)
	case !cart.IsAbandoned:
		return p.skip(ctx, record, stage, SkipCartActive)
	case len(cart.Items) == 0:
		return p.skip(ctx, record, stage, SkipCartEmpty)
	case record.ContactEmail() == "":
		return p.skip(ctx, record, stage, SkipNoContact)
	}

	guardID := record.ID.String() + ":" + string(stage)
	claimed, err := p.guard.Claim(ctx, guardScope, guardID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim reminder send")
	}
	if !claimed {
		p.logg.Info(ctx, "abandonment.reminder_already_claimed")
		return OutcomeNoop, nil
	}

	if sendErr := p.send(ctx, record, cart, stage); sendErr != nil {
		if err := p.guard.Release(ctx, guardScope, guardID); err != nil {
			p.logg.Error(ctx, "abandonment.reminder_release_failed", err)
		}
		log.Attempts++
		log.LastError = sendErr.Error()
		if _, err := p.records.SaveProgress(ctx, record); err != nil {
			sendErr = multierr.Append(sendErr, err)
		}
		p.logg.Error(ctx, "abandonment.reminder_failed", sendErr)
		return "", sendErr
	}

	sentAt := p.now().UTC()
	log.SentAt = &sentAt
	log.Attempts++
	log.LastError = ""
	record.Status = enums.AbandonmentStatusReminding
	if err := p.settle(ctx, record); err != nil {
		return "", err
	}
	p.logg.Info(ctx, "abandonment.reminder_sent")
	return OutcomeSent, nil
}

func (p *Processor) send(ctx context.Context, record *models.AbandonmentRecord, cart *models.Cart, stage enums.ReminderStage) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "email throttle")
	}
	token, err := p.links.CreateShareLink(ctx, cart.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create recovery link")
	}
	msg, err := email.NewReminder(p.from, record.ContactEmail(), email.ReminderData{
		RecordID:       record.ID,
		CartID:         cart.ID,
		Stage:          stage,
		RecoveryURL:    p.baseURL + "/" + token,
		CartValueCents: cart.TotalCents,
		ItemCount:      itemCount(cart.Items),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "build reminder")
	}
	return p.sender.Send(ctx, msg)
}

func (p *Processor) skip(ctx context.Context, record *models.AbandonmentRecord, stage enums.ReminderStage, reason string) (Outcome, error) {
	record.Stage(stage).SkippedReason = reason
	if err := p.settle(ctx, record); err != nil {
		return "", err
	}
	p.logg.Info(p.logg.WithField(ctx, "reason", reason), "abandonment.reminder_skipped")
	return OutcomeSkipped, nil
}

// settle moves the campaign pointer to the next unsettled stage and closes
// the campaign as lost once every stage is settled.
func (p *Processor) settle(ctx context.Context, record *models.AbandonmentRecord) error {
	advance(record)
	if _, err := p.records.SaveProgress(ctx, record); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save reminder progress")
	}
	return nil
}

func advance(record *models.AbandonmentRecord) {
	var next *time.Time
	for _, stage := range enums.ReminderStages {
		log := record.Stage(stage)
		if log.Settled() || log.ScheduledAt == nil {
			continue
		}
		if next == nil || log.ScheduledAt.Before(*next) {
			at := *log.ScheduledAt
			next = &at
		}
	}
	record.NextReminderAt = next
	if next == nil && record.Status != enums.AbandonmentStatusRecovered {
		record.Status = enums.AbandonmentStatusLost
	}
}

// dueStage returns the latest unsettled stage whose time has come, plus the
// earlier unsettled due stages it supersedes.
func dueStage(record *models.AbandonmentRecord, now time.Time) (enums.ReminderStage, []enums.ReminderStage) {
	var due []enums.ReminderStage
	for _, stage := range enums.ReminderStages {
		log := record.Stage(stage)
		if log.Settled() || log.ScheduledAt == nil || log.ScheduledAt.After(now) {
			continue
		}
		due = append(due, stage)
	}
	if len(due) == 0 {
		return "", nil
	}
	return due[len(due)-1], due[:len(due)-1]
}
