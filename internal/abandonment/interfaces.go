package abandonment

import (
	"context"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/google/uuid"
)

// CartStore is the slice of cart persistence the recovery engine reads.
type CartStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	FindIdleCarts(ctx context.Context, cutoff time.Time, limit int) ([]models.Cart, error)
	MarkAbandoned(ctx context.Context, id uuid.UUID, idleSince time.Time) (bool, error)
}

// RecordStore persists abandonment records.
type RecordStore interface {
	Upsert(ctx context.Context, record *models.AbandonmentRecord) (*models.AbandonmentRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.AbandonmentRecord, error)
	SaveProgress(ctx context.Context, record *models.AbandonmentRecord) (bool, error)
	UpdateStages(ctx context.Context, id uuid.UUID, stages models.StageLogs) error
	MarkRecovered(ctx context.Context, cartID uuid.UUID, valueCents int64, at time.Time) error
	DueForReminder(ctx context.Context, now time.Time, limit int) ([]models.AbandonmentRecord, error)
	DeferReminder(ctx context.Context, id uuid.UUID, until time.Time) error
}

// Enqueuer submits background jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any, opts queue.Options) (queue.EnqueueResult, error)
}

// ShareLinker issues the token embedded in recovery links.
type ShareLinker interface {
	CreateShareLink(ctx context.Context, cartID uuid.UUID) (string, error)
}

// Contact is what a reminder can be addressed to.
type Contact struct {
	Email string
	Phone string
}

// ContactDirectory resolves contact details of registered shoppers.
type ContactDirectory interface {
	LookupContact(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// SendGuard provides the at-most-once claim around a reminder delivery.
type SendGuard interface {
	Claim(ctx context.Context, scope, id string) (bool, error)
	Release(ctx context.Context, scope, id string) error
}

// Limiter throttles outbound email.
type Limiter interface {
	Wait(ctx context.Context) error
}
