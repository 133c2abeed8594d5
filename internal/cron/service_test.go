package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/pkg/config"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLock struct {
	acquired bool
	held     bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.held || f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error { f.acquired = false; return nil }

type enqueued struct {
	kind string
	opts queue.Options
}

type fakeEnqueuer struct {
	calls []enqueued
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, kind string, _ any, opts queue.Options) (queue.EnqueueResult, error) {
	if f.err != nil {
		return queue.EnqueueResult{}, f.err
	}
	f.calls = append(f.calls, enqueued{kind: kind, opts: opts})
	return queue.EnqueueResult{Job: &models.QueueJob{ID: uuid.New(), Kind: kind}}, nil
}

func newTestService(t *testing.T, store *GormStore, lock Lock, enq Enqueuer, now *time.Time) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test", Level: zerolog.Disabled, Output: io.Discard}),
		Store:  store,
		Queue:  enq,
		Lock:   lock,
		Now:    func() time.Time { return *now },
	})
	require.NoError(t, err)
	return svc
}

func TestServiceDispatchesDueRegistrations(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	registry, err := NewRegistry(store, func() time.Time { return now })
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, RegisterDefaults(ctx, registry, config.AbandonmentConfig{
		DetectSchedule:  "@every 15m",
		EmailSchedule:   "@every 5m",
		CleanupSchedule: "0 3 1 * *",
		ReportSchedule:  "0 6 * * 1",
	}))

	enq := &fakeEnqueuer{}
	svc := newTestService(t, store, &fakeLock{}, enq, &now)

	require.NoError(t, svc.runCycle(ctx))
	assert.Empty(t, enq.calls)

	now = now.Add(5 * time.Minute)
	require.NoError(t, svc.runCycle(ctx))
	require.Len(t, enq.calls, 1)
	assert.Equal(t, queue.KindProcessEmailQueue, enq.calls[0].kind)
	assert.Equal(t, "recurring:email-processing", enq.calls[0].opts.DedupKey)

	now = now.Add(10 * time.Minute)
	require.NoError(t, svc.runCycle(ctx))
	require.Len(t, enq.calls, 3)
	kinds := []string{enq.calls[1].kind, enq.calls[2].kind}
	assert.ElementsMatch(t, []string{queue.KindDetectAbandoned, queue.KindProcessEmailQueue}, kinds)

	registrations, err := store.List(ctx)
	require.NoError(t, err)
	for _, registration := range registrations {
		if registration.Name == "abandonment-detection" {
			require.NotNil(t, registration.LastRunAt)
			assert.True(t, registration.NextRunAt.Equal(now.Add(15*time.Minute)))
		}
	}
}

func TestServiceSkipsWhenLockHeld(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	registry, err := NewRegistry(store, func() time.Time { return now })
	require.NoError(t, err)
	ctx := context.Background()
	_, err = registry.Register(ctx, RecurringSpec{Name: "detect", Kind: queue.KindDetectAbandoned, Schedule: "@every 1m"})
	require.NoError(t, err)

	enq := &fakeEnqueuer{}
	now = now.Add(time.Minute)
	svc := newTestService(t, store, &fakeLock{held: true}, enq, &now)
	require.NoError(t, svc.runCycle(ctx))
	assert.Empty(t, enq.calls)
}

func TestServiceKeepsRegistrationDueWhenEnqueueFails(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	registry, err := NewRegistry(store, func() time.Time { return now })
	require.NoError(t, err)
	ctx := context.Background()
	_, err = registry.Register(ctx, RecurringSpec{Name: "detect", Kind: queue.KindDetectAbandoned, Schedule: "@every 1m"})
	require.NoError(t, err)

	now = now.Add(time.Minute)
	svc := newTestService(t, store, &fakeLock{}, &fakeEnqueuer{err: errors.New("db down")}, &now)
	require.NoError(t, svc.runCycle(ctx))

	due, err := store.Due(ctx, now)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}
