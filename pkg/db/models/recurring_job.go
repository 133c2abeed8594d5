package models

import (
	"encoding/json"
	"time"
)

// RecurringJob is a named registration that the cron service turns into
// queue jobs. Name is the identity: re-registering replaces the row.
type RecurringJob struct {
	Name      string          `gorm:"column:name;primaryKey"`
	Kind      string          `gorm:"column:kind;not null"`
	Schedule  string          `gorm:"column:schedule;not null"`
	Payload   json.RawMessage `gorm:"column:payload;type:jsonb;serializer:json"`
	Priority  int             `gorm:"column:priority;not null;default:0"`
	NextRunAt time.Time       `gorm:"column:next_run_at;not null;index"`
	LastRunAt *time.Time      `gorm:"column:last_run_at"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
