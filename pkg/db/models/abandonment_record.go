package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
)

// AbandonmentRecord tracks the recovery campaign for one idle cart.
type AbandonmentRecord struct {
	ID                  uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	CartID              uuid.UUID               `gorm:"column:cart_id;type:uuid;not null;uniqueIndex"`
	Email               *string                 `gorm:"column:email"`
	Phone               *string                 `gorm:"column:phone"`
	CartValueCents      int64                   `gorm:"column:cart_value_cents;not null;default:0"`
	ItemCount           int                     `gorm:"column:item_count;not null;default:0"`
	IdleAt              time.Time               `gorm:"column:idle_at;not null"`
	Status              enums.AbandonmentStatus `gorm:"column:status;not null;default:'pending';index"`
	Stages              StageLogs               `gorm:"column:stages;type:jsonb"`
	NextReminderAt      *time.Time              `gorm:"column:next_reminder_at;index"`
	RecoveredAt         *time.Time              `gorm:"column:recovered_at"`
	RecoveredValueCents int64                   `gorm:"column:recovered_value_cents;not null;default:0"`
	CreatedAt           time.Time               `gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt           time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *AbandonmentRecord) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = enums.AbandonmentStatusPending
	}
	if r.Stages == nil {
		r.Stages = StageLogs{}
	}
	return nil
}

// StageLogs maps a reminder stage to its delivery log.
type StageLogs map[enums.ReminderStage]*StageLog

// Value encodes the logs as a JSON object.
func (s StageLogs) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (s *StageLogs) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = StageLogs{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("StageLogs: unsupported Scan type %T", src)
	}
	out := StageLogs{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("StageLogs: %w", err)
		}
	}
	*s = out
	return nil
}

// StageLog records what happened to one reminder stage.
type StageLog struct {
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	ClickedAt     *time.Time `json:"clicked_at,omitempty"`
	ConvertedAt   *time.Time `json:"converted_at,omitempty"`
	SkippedReason string     `json:"skipped_reason,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Attempts      int        `json:"attempts,omitempty"`
}

// Stage returns the log for stage, creating it when absent.
func (r *AbandonmentRecord) Stage(stage enums.ReminderStage) *StageLog {
	if r.Stages == nil {
		r.Stages = StageLogs{}
	}
	log, ok := r.Stages[stage]
	if !ok || log == nil {
		log = &StageLog{}
		r.Stages[stage] = log
	}
	return log
}

// Settled reports whether the stage no longer needs a delivery.
func (l *StageLog) Settled() bool {
	return l != nil && (l.SentAt != nil || l.SkippedReason != "")
}

// ContactEmail returns the trimmed email or "" when none is on file.
func (r *AbandonmentRecord) ContactEmail() string {
	if r.Email == nil {
		return ""
	}
	return *r.Email
}
