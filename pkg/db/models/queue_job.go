package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
)

// QueueJob is a durable unit of background work. DedupKey is unique among
// jobs that are not yet completed or failed.
type QueueJob struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Kind          string          `gorm:"column:kind;not null;index"`
	Payload       json.RawMessage `gorm:"column:payload;type:jsonb;serializer:json"`
	Priority      int             `gorm:"column:priority;not null;default:0"`
	State         enums.JobState  `gorm:"column:state;not null;index:idx_queue_jobs_claim,priority:1"`
	RunAt         time.Time       `gorm:"column:run_at;not null;index:idx_queue_jobs_claim,priority:2"`
	Attempts      int             `gorm:"column:attempts;not null;default:0"`
	MaxAttempts   int             `gorm:"column:max_attempts;not null;default:3"`
	BackoffBaseMS int64           `gorm:"column:backoff_base_ms;not null;default:5000"`
	DedupKey      *string         `gorm:"column:dedup_key;uniqueIndex:ux_queue_jobs_dedup_pending,where:dedup_key IS NOT NULL AND state <> 'completed' AND state <> 'failed'"`
	LastError     *string         `gorm:"column:last_error"`
	ClaimedBy     *string         `gorm:"column:claimed_by"`
	ClaimedAt     *time.Time      `gorm:"column:claimed_at"`
	CompletedAt   *time.Time      `gorm:"column:completed_at"`
	FailedAt      *time.Time      `gorm:"column:failed_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (j *QueueJob) BeforeCreate(*gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
