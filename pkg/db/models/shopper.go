package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Shopper holds the contact details of a registered customer. The id is the
// user id carried in access tokens.
type Shopper struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email          string    `gorm:"column:email;not null;uniqueIndex"`
	Phone          *string   `gorm:"column:phone"`
	RemindersOptIn bool      `gorm:"column:reminders_opt_in;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shopper) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
