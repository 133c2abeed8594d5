package cart

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

func (f *fixture) markAbandoned(t *testing.T, cartID uuid.UUID) {
	t.Helper()
	flagged, err := f.repo.MarkAbandoned(context.Background(), cartID, f.now)
	require.NoError(t, err)
	require.True(t, flagged)
}

func TestFindIdleCarts(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	product := f.product(t, "widget", 300, 100)

	idle := f.userCart(t, uuid.New())
	_, err := f.svc.AddItem(ctx, idle.ID, product.ID, nil, 1)
	require.NoError(t, err)

	empty := f.userCart(t, uuid.New())

	converted := f.userCart(t, uuid.New())
	_, err = f.svc.AddItem(ctx, converted.ID, product.ID, nil, 1)
	require.NoError(t, err)
	_, err = f.svc.MarkConverted(ctx, converted.ID)
	require.NoError(t, err)

	flagged := f.userCart(t, uuid.New())
	_, err = f.svc.AddItem(ctx, flagged.ID, product.ID, nil, 1)
	require.NoError(t, err)
	f.markAbandoned(t, flagged.ID)
	scheduledAt := f.now.Add(time.Hour)
	require.NoError(t, f.db.Create(&models.AbandonmentRecord{
		CartID:         flagged.ID,
		IdleAt:         f.now,
		Status:         enums.AbandonmentStatusReminding,
		NextReminderAt: &scheduledAt,
	}).Error)

	tracked := f.userCart(t, uuid.New())
	_, err = f.svc.AddItem(ctx, tracked.ID, product.ID, nil, 1)
	require.NoError(t, err)
	f.markAbandoned(t, tracked.ID)

	orphan := f.userCart(t, uuid.New())
	_, err = f.svc.AddItem(ctx, orphan.ID, product.ID, nil, 1)
	require.NoError(t, err)
	f.markAbandoned(t, orphan.ID)
	require.NoError(t, f.db.Create(&models.AbandonmentRecord{
		CartID: tracked.ID,
		IdleAt: f.now,
		Status: enums.AbandonmentStatusPending,
	}).Error)

	f.advance(time.Hour)
	fresh := f.userCart(t, uuid.New())
	_, err = f.svc.AddItem(ctx, fresh.ID, product.ID, nil, 1)
	require.NoError(t, err)

	carts, err := f.repo.FindIdleCarts(ctx, f.now.Add(-30*time.Minute), 10)
	require.NoError(t, err)

	ids := map[uuid.UUID]bool{}
	for _, c := range carts {
		ids[c.ID] = true
	}
	assert.True(t, ids[idle.ID])
	assert.True(t, ids[tracked.ID])
	assert.True(t, ids[orphan.ID])
	assert.False(t, ids[empty.ID])
	assert.False(t, ids[converted.ID])
	assert.False(t, ids[flagged.ID])
	assert.False(t, ids[fresh.ID])
	for _, c := range carts {
		assert.NotEmpty(t, c.Items)
	}
}

func TestExpireGuestCarts(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	product := f.product(t, "scarf", 700, 10)

	guest, err := f.svc.GetOrCreateCart(ctx, SessionOwner("sess-expire"))
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, guest.ID, product.ID, nil, 1)
	require.NoError(t, err)
	_, err = f.svc.ReserveInventory(ctx, guest.ID, 60*24*60)
	require.NoError(t, err)
	user := f.userCart(t, uuid.New())

	expired, err := f.repo.ExpireGuestCarts(ctx, f.now.Add(defaultGuestTTL-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), expired)

	cutoff := f.now.Add(defaultGuestTTL + time.Hour)
	expired, err = f.repo.ExpireGuestCarts(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	closed, err := f.repo.FindByID(ctx, guest.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.ExpiredAt)
	assert.Nil(t, closed.SessionID)
	assert.False(t, closed.Items[0].InventoryReserved)

	stillOpen, err := f.repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stillOpen.ExpiredAt)

	_, err = f.svc.AddItem(ctx, guest.ID, product.ID, nil, 1)
	require.Error(t, err)
}

func TestClearExpiredReservations(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	product := f.product(t, "socks", 200, 10)
	c := f.userCart(t, uuid.New())
	_, err := f.svc.AddItem(ctx, c.ID, product.ID, nil, 2)
	require.NoError(t, err)
	_, err = f.svc.ReserveInventory(ctx, c.ID, 10)
	require.NoError(t, err)

	cleared, err := f.repo.ClearExpiredReservations(ctx, f.now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(0), cleared)

	cleared, err = f.repo.ClearExpiredReservations(ctx, f.now.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	items, err := f.repo.ListItems(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, items[0].InventoryReserved)
	assert.Nil(t, items[0].ReservationExpiry)
}

func TestMarkAbandonedSkipsCartsWithNewerActivity(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	product := f.product(t, "mug", 900, 10)
	c := f.userCart(t, uuid.New())
	_, err := f.svc.AddItem(ctx, c.ID, product.ID, nil, 1)
	require.NoError(t, err)

	flagged, err := f.repo.MarkAbandoned(ctx, c.ID, f.now.Add(-time.Minute))
	require.NoError(t, err)
	assert.False(t, flagged)
	loaded, err := f.repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, loaded.IsAbandoned)

	flagged, err = f.repo.MarkAbandoned(ctx, c.ID, f.now)
	require.NoError(t, err)
	assert.True(t, flagged)

	_, err = f.svc.MarkConverted(ctx, c.ID)
	require.NoError(t, err)
	flagged, err = f.repo.MarkAbandoned(ctx, c.ID, f.now)
	require.NoError(t, err)
	assert.False(t, flagged)
}
