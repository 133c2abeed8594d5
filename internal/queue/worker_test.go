package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	"github.com/angelmondragon/cartrecovery-backend/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, f *queueFixture, handlers map[string]Handler) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerParams{
		Queue:    f.queue,
		Handlers: handlers,
		Logger:   f.logg,
		Metrics:  metrics.NewQueueMetrics(prometheus.NewRegistry()),
		ID:       "worker-test",
		Workers:  2,
	})
	require.NoError(t, err)
	return w
}

func TestProcessNextCompletesJob(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()
	var seen atomic.Int32
	w := newTestWorker(t, f, map[string]Handler{
		KindDetectAbandoned: HandlerFunc(func(ctx context.Context, job *models.QueueJob) error {
			seen.Add(1)
			return nil
		}),
	})
	enq, err := f.queue.Enqueue(ctx, KindDetectAbandoned, map[string]int{"limit": 5}, Options{})
	require.NoError(t, err)

	worked, err := w.ProcessNext(ctx, "slot")
	require.NoError(t, err)
	assert.True(t, worked)
	assert.Equal(t, int32(1), seen.Load())

	stored, err := f.store.Get(ctx, enq.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStateCompleted, stored.State)
	assert.NotNil(t, stored.CompletedAt)

	worked, err = w.ProcessNext(ctx, "slot")
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestProcessNextRetriesHandlerErrorsAndPanics(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()
	w := newTestWorker(t, f, map[string]Handler{
		KindSendReminder: HandlerFunc(func(ctx context.Context, job *models.QueueJob) error {
			return errors.New("transient")
		}),
		KindWeeklyReport: HandlerFunc(func(ctx context.Context, job *models.QueueJob) error {
			panic("boom")
		}),
	})
	failing, err := f.queue.Enqueue(ctx, KindSendReminder, nil, Options{Priority: 2})
	require.NoError(t, err)
	panicking, err := f.queue.Enqueue(ctx, KindWeeklyReport, nil, Options{Priority: 1})
	require.NoError(t, err)

	_, err = w.ProcessNext(ctx, "slot")
	require.NoError(t, err)
	_, err = w.ProcessNext(ctx, "slot")
	require.NoError(t, err)

	for _, id := range []any{failing.Job.ID, panicking.Job.ID} {
		var stored models.QueueJob
		require.NoError(t, f.db.First(&stored, "id = ?", id).Error)
		assert.Equal(t, enums.JobStateDelayed, stored.State)
		require.NotNil(t, stored.LastError)
	}
}

func TestProcessNextFailsUnknownKind(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()
	w := newTestWorker(t, f, map[string]Handler{
		KindDetectAbandoned: HandlerFunc(func(context.Context, *models.QueueJob) error { return nil }),
	})
	enq, err := f.queue.Enqueue(ctx, "mystery", nil, Options{})
	require.NoError(t, err)

	_, err = w.ProcessNext(ctx, "slot")
	require.NoError(t, err)
	stored, err := f.store.Get(ctx, enq.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStateFailed, stored.State)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newQueueFixture(t)
	var ran atomic.Int32
	w := newTestWorker(t, f, map[string]Handler{
		KindDetectAbandoned: HandlerFunc(func(context.Context, *models.QueueJob) error {
			ran.Add(1)
			return nil
		}),
	})
	w.poll = 10 * time.Millisecond
	_, err := f.queue.Enqueue(context.Background(), KindDetectAbandoned, nil, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return ran.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestNewWorkerValidatesParams(t *testing.T) {
	_, err := NewWorker(WorkerParams{})
	require.Error(t, err)
}
