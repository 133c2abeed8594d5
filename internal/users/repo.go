package users

import (
	"context"
	"errors"
	"strings"

	"github.com/angelmondragon/cartrecovery-backend/internal/abandonment"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository exposes shopper contact persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a shopper repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Save inserts the shopper or refreshes the contact details of an existing one.
func (r *Repository) Save(ctx context.Context, shopper *models.Shopper) error {
	shopper.Email = strings.ToLower(strings.TrimSpace(shopper.Email))
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "phone", "reminders_opt_in", "updated_at"}),
	}).Create(shopper).Error
}

// FindByID loads a shopper by user id.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Shopper, error) {
	var shopper models.Shopper
	if err := r.db.WithContext(ctx).First(&shopper, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &shopper, nil
}

// FindByEmail retrieves the shopper matching the provided email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.Shopper, error) {
	var shopper models.Shopper
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&shopper).Error
	if err != nil {
		return nil, err
	}
	return &shopper, nil
}

// LookupContact resolves where reminders for the user's cart go. Unknown
// shoppers and shoppers who opted out resolve to an empty contact.
func (r *Repository) LookupContact(ctx context.Context, userID uuid.UUID) (abandonment.Contact, error) {
	shopper, err := r.FindByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return abandonment.Contact{}, nil
	}
	if err != nil {
		return abandonment.Contact{}, err
	}
	if !shopper.RemindersOptIn {
		return abandonment.Contact{}, nil
	}
	contact := abandonment.Contact{Email: shopper.Email}
	if shopper.Phone != nil {
		contact.Phone = *shopper.Phone
	}
	return contact, nil
}
