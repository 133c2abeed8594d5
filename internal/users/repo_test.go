package users

import (
	"context"
	"testing"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:users_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Shopper{}))
	return db
}

func TestLookupContact(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	phone := "+15550100"
	shopper := &models.Shopper{ID: uuid.New(), Email: " Ada@Example.com ", Phone: &phone, RemindersOptIn: true}
	require.NoError(t, repo.Save(ctx, shopper))

	contact, err := repo.LookupContact(ctx, shopper.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", contact.Email)
	assert.Equal(t, phone, contact.Phone)

	byEmail, err := repo.FindByEmail(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, shopper.ID, byEmail.ID)

	unknown, err := repo.LookupContact(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, unknown.Email)
}

func TestLookupContactRespectsOptOut(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, repo.Save(ctx, &models.Shopper{ID: id, Email: "grace@example.com", RemindersOptIn: true}))
	require.NoError(t, repo.Save(ctx, &models.Shopper{ID: id, Email: "grace@example.com", RemindersOptIn: false}))

	got, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, got.RemindersOptIn)

	contact, err := repo.LookupContact(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, contact.Email)
}
