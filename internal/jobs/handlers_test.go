package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/angelmondragon/cartrecovery-backend/internal/abandonment"
	"github.com/angelmondragon/cartrecovery-backend/internal/maintenance"
	"github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/internal/reporting"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubComponents struct {
	detects  int
	batches  int
	cleanups int
	reports  int
	payloads []abandonment.ReminderPayload
	sendErr  error
}

func (s *stubComponents) Run(context.Context) (abandonment.DetectResult, error) {
	s.detects++
	return abandonment.DetectResult{}, nil
}

func (s *stubComponents) SendReminder(_ context.Context, payload abandonment.ReminderPayload) (abandonment.Outcome, error) {
	s.payloads = append(s.payloads, payload)
	return abandonment.OutcomeSent, s.sendErr
}

func (s *stubComponents) ProcessBatch(context.Context) (abandonment.BatchResult, error) {
	s.batches++
	return abandonment.BatchResult{}, nil
}

type stubCleanup struct{ s *stubComponents }

func (c stubCleanup) Run(context.Context) (maintenance.CleanupResult, error) {
	c.s.cleanups++
	return maintenance.CleanupResult{}, nil
}

type stubReporter struct{ s *stubComponents }

func (r stubReporter) Run(context.Context) (reporting.Report, error) {
	r.s.reports++
	return reporting.Report{}, nil
}

func newHandlers(t *testing.T, s *stubComponents) map[string]queue.Handler {
	t.Helper()
	handlers, err := Handlers(Params{
		Logger:    logger.New(logger.Options{ServiceName: "jobs-test", Level: zerolog.Disabled, Output: io.Discard}),
		Detector:  s,
		Processor: s,
		Cleanup:   stubCleanup{s},
		Reporter:  stubReporter{s},
	})
	require.NoError(t, err)
	return handlers
}

func TestHandlersCoverEveryKind(t *testing.T) {
	s := &stubComponents{}
	handlers := newHandlers(t, s)
	for _, kind := range queue.Kinds {
		require.Contains(t, handlers, kind)
	}

	ctx := context.Background()
	job := &models.QueueJob{Payload: json.RawMessage(`{}`)}
	require.NoError(t, handlers[queue.KindDetectAbandoned].Handle(ctx, job))
	require.NoError(t, handlers[queue.KindProcessEmailQueue].Handle(ctx, job))
	require.NoError(t, handlers[queue.KindCleanupOldRecords].Handle(ctx, job))
	require.NoError(t, handlers[queue.KindWeeklyReport].Handle(ctx, job))
	assert.Equal(t, 1, s.detects)
	assert.Equal(t, 1, s.batches)
	assert.Equal(t, 1, s.cleanups)
	assert.Equal(t, 1, s.reports)
}

func TestSendReminderHandlerDecodesPayload(t *testing.T) {
	s := &stubComponents{}
	handlers := newHandlers(t, s)
	want := abandonment.ReminderPayload{RecordID: uuid.New(), CartID: uuid.New(), Stage: enums.ReminderStage24h}
	raw, err := json.Marshal(want)
	require.NoError(t, err)

	require.NoError(t, handlers[queue.KindSendReminder].Handle(context.Background(), &models.QueueJob{Payload: raw}))
	require.Len(t, s.payloads, 1)
	assert.Equal(t, want, s.payloads[0])

	s.sendErr = errors.New("smtp")
	require.Error(t, handlers[queue.KindSendReminder].Handle(context.Background(), &models.QueueJob{Payload: raw}))
}

func TestSendReminderHandlerRejectsBadPayload(t *testing.T) {
	handlers := newHandlers(t, &stubComponents{})
	err := handlers[queue.KindSendReminder].Handle(context.Background(), &models.QueueJob{Payload: json.RawMessage(`[1,2]`)})
	require.Error(t, err)
	assert.False(t, pkgerrors.IsRetryable(err))
}

func TestHandlersRequireComponents(t *testing.T) {
	_, err := Handlers(Params{})
	require.Error(t, err)
}
