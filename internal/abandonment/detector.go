package abandonment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultIdleThreshold = 30 * time.Minute
	defaultDetectBatch   = 500
)

type reminderScheduler interface {
	Schedule(ctx context.Context, record *models.AbandonmentRecord) ([]queue.EnqueueResult, error)
}

// DetectorParams configure the abandonment detector.
type DetectorParams struct {
	Carts         CartStore
	Records       RecordStore
	Scheduler     reminderScheduler
	Contacts      ContactDirectory
	Logger        *logger.Logger
	IdleThreshold time.Duration
	BatchSize     int
	Now           func() time.Time
}

// DetectResult summarises one detection pass.
type DetectResult struct {
	Scanned   int `json:"scanned"`
	Flagged   int `json:"flagged"`
	Stale     int `json:"stale"`
	Scheduled int `json:"scheduled"`
	Failed    int `json:"failed"`
}

// Detector flags idle carts and starts their recovery campaign.
type Detector struct {
	carts     CartStore
	records   RecordStore
	scheduler reminderScheduler
	contacts  ContactDirectory
	logg      *logger.Logger
	idle      time.Duration
	batch     int
	now       func() time.Time
}

// NewDetector builds a Detector. Contacts is optional.
func NewDetector(params DetectorParams) (*Detector, error) {
	if params.Carts == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("record store required")
	}
	if params.Scheduler == nil {
		return nil, fmt.Errorf("scheduler required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	idle := params.IdleThreshold
	if idle <= 0 {
		idle = defaultIdleThreshold
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultDetectBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Detector{
		carts:     params.Carts,
		records:   params.Records,
		scheduler: params.Scheduler,
		contacts:  params.Contacts,
		logg:      params.Logger,
		idle:      idle,
		batch:     batch,
		now:       now,
	}, nil
}

// Run performs one detection pass. Failures on individual carts are
// collected and do not stop the pass.
func (d *Detector) Run(ctx context.Context) (DetectResult, error) {
	var result DetectResult
	cutoff := d.now().UTC().Add(-d.idle)

	carts, err := d.carts.FindIdleCarts(ctx, cutoff, d.batch)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find idle carts")
	}
	result.Scanned = len(carts)

	var errs error
	for i := range carts {
		cart := &carts[i]
		scheduled, flagged, err := d.flag(ctx, cart)
		if err != nil {
			result.Failed++
			errs = multierr.Append(errs, fmt.Errorf("cart %s: %w", cart.ID, err))
			continue
		}
		if !flagged {
			result.Stale++
			continue
		}
		result.Flagged++
		result.Scheduled += scheduled
	}

	logCtx := d.logg.WithFields(ctx, map[string]any{
		"scanned":   result.Scanned,
		"flagged":   result.Flagged,
		"stale":     result.Stale,
		"scheduled": result.Scheduled,
		"failed":    result.Failed,
	})
	if errs != nil {
		d.logg.Error(logCtx, "abandonment.detect_partial", errs)
		return result, errs
	}
	d.logg.Info(logCtx, "abandonment.detected")
	return result, nil
}

// flag marks the cart abandoned and plans its campaign. The flag is written
// first and only holds if the cart is still idle as of the scan, so a shopper
// who returned after the scan keeps an active cart and gets no campaign.
func (d *Detector) flag(ctx context.Context, cart *models.Cart) (int, bool, error) {
	idleAt := cart.LastActivityAt
	flagged, err := d.carts.MarkAbandoned(ctx, cart.ID, idleAt)
	if err != nil {
		return 0, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag cart abandoned")
	}
	if !flagged {
		d.logg.Info(d.logg.WithField(ctx, "cart_id", cart.ID.String()), "abandonment.cart_active_again")
		return 0, false, nil
	}

	record := &models.AbandonmentRecord{
		CartID:         cart.ID,
		CartValueCents: cart.TotalCents,
		ItemCount:      itemCount(cart.Items),
		IdleAt:         idleAt.UTC(),
	}
	if contact, ok := d.lookupContact(ctx, cart); ok {
		record.Email = optional(contact.Email)
		record.Phone = optional(contact.Phone)
	}

	saved, err := d.records.Upsert(ctx, record)
	if err != nil {
		return 0, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert abandonment record")
	}
	results, err := d.scheduler.Schedule(ctx, saved)
	if err != nil {
		return 0, false, err
	}
	scheduled := 0
	for _, res := range results {
		if !res.Duplicate {
			scheduled++
		}
	}
	return scheduled, true, nil
}

// lookupContact consults the directory for registered shoppers. A directory
// failure only costs the contact, the upsert keeps any earlier capture.
func (d *Detector) lookupContact(ctx context.Context, cart *models.Cart) (Contact, bool) {
	if d.contacts == nil || cart.UserID == nil {
		return Contact{}, false
	}
	contact, err := d.contacts.LookupContact(ctx, *cart.UserID)
	if err != nil {
		d.logg.Warn(d.logg.WithFields(ctx, map[string]any{
			"cart_id": cart.ID.String(),
			"error":   err.Error(),
		}), "abandonment.contact_lookup_failed")
		return Contact{}, false
	}
	return contact, true
}

func itemCount(items []models.CartItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
