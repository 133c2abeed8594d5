package abandonment

import (
	"context"
	"testing"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertRefreshesSnapshotPerCart(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	c := f.seedCart(t, time.Hour, "")
	first := "first@example.com"

	created, err := f.records.Upsert(ctx, &models.AbandonmentRecord{
		CartID:         c.ID,
		Email:          &first,
		CartValueCents: 1000,
		ItemCount:      1,
		IdleAt:         f.now.Add(-time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.AbandonmentStatusPending, created.Status)

	phone := "+15550100"
	updated, err := f.records.Upsert(ctx, &models.AbandonmentRecord{
		CartID:         c.ID,
		Phone:          &phone,
		CartValueCents: 2500,
		ItemCount:      3,
		IdleAt:         f.now,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, first, updated.ContactEmail())
	require.NotNil(t, updated.Phone)
	assert.Equal(t, phone, *updated.Phone)
	assert.Equal(t, int64(2500), updated.CartValueCents)
	assert.Equal(t, 3, updated.ItemCount)
	assert.WithinDuration(t, f.now, updated.IdleAt, time.Second)
}

func TestMarkRecoveredWithoutRecordIsNoop(t *testing.T) {
	f := newRecoveryFixture(t)
	require.NoError(t, f.records.MarkRecovered(context.Background(), uuid.New(), 100, f.now))
}

func TestSaveProgressDoesNotReopenRecoveredRecord(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	record := f.seedRecord(t, time.Hour)
	stale := *record

	require.NoError(t, f.records.MarkRecovered(ctx, record.CartID, 3000, f.now))
	stale.Status = enums.AbandonmentStatusLost
	saved, err := f.records.SaveProgress(ctx, &stale)
	require.NoError(t, err)
	assert.False(t, saved)
	assert.Equal(t, enums.AbandonmentStatusRecovered, f.record(t, record.CartID).Status)
}

func TestDeleteSettledBefore(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	old := f.now.AddDate(0, 0, -100)

	seed := func(status enums.AbandonmentStatus, createdAt time.Time, converted bool) uuid.UUID {
		c := f.seedCart(t, time.Hour, "")
		if converted {
			_, err := f.carts.MarkConverted(ctx, c.ID, createdAt)
			require.NoError(t, err)
		}
		record := &models.AbandonmentRecord{CartID: c.ID, IdleAt: createdAt, Status: status, CreatedAt: createdAt}
		require.NoError(t, f.db.Create(record).Error)
		return record.ID
	}
	lost := seed(enums.AbandonmentStatusLost, old, false)
	recovered := seed(enums.AbandonmentStatusRecovered, old, false)
	convertedOpen := seed(enums.AbandonmentStatusReminding, old, true)
	openOld := seed(enums.AbandonmentStatusReminding, old, false)
	recentLost := seed(enums.AbandonmentStatusLost, f.now, false)

	deleted, err := f.records.DeleteSettledBefore(ctx, f.now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	for id, kept := range map[uuid.UUID]bool{lost: false, recovered: false, convertedOpen: false, openOld: true, recentLost: true} {
		var count int64
		require.NoError(t, f.db.Model(&models.AbandonmentRecord{}).Where("id = ?", id).Count(&count).Error)
		assert.Equal(t, kept, count == 1, id.String())
	}
}

func TestListCreatedBetween(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	for _, offset := range []time.Duration{-10 * 24 * time.Hour, -3 * 24 * time.Hour, -time.Hour} {
		c := f.seedCart(t, time.Hour, "")
		require.NoError(t, f.db.Create(&models.AbandonmentRecord{CartID: c.ID, IdleAt: f.now, CreatedAt: f.now.Add(offset)}).Error)
	}

	records, err := f.records.ListCreatedBetween(ctx, f.now.AddDate(0, 0, -7), f.now)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestDeferReminderOnlyPushesLater(t *testing.T) {
	f := newRecoveryFixture(t)
	ctx := context.Background()
	record := f.seedRecord(t, 2*time.Hour)
	next := f.now.Add(time.Hour)
	record.NextReminderAt = &next
	_, err := f.records.SaveProgress(ctx, record)
	require.NoError(t, err)

	require.NoError(t, f.records.DeferReminder(ctx, record.ID, f.now.Add(15*time.Minute)))
	stored, err := f.records.FindByID(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextReminderAt)
	assert.WithinDuration(t, next, *stored.NextReminderAt, time.Second)

	later := f.now.Add(2 * time.Hour)
	require.NoError(t, f.records.DeferReminder(ctx, record.ID, later))
	stored, err = f.records.FindByID(ctx, record.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.NextReminderAt)
	assert.WithinDuration(t, later, *stored.NextReminderAt, time.Second)
}
