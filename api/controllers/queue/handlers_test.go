package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queuesvc "github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
)

type stubAdmin struct {
	stats      queuesvc.Stats
	failed     []models.QueueJob
	err        error
	paused     bool
	retried    uuid.UUID
	removed    uuid.UUID
	grace      time.Duration
	limit      int
	thresholds queuesvc.HealthThresholds
}

func (s *stubAdmin) Stats(context.Context) (queuesvc.Stats, error) { return s.stats, s.err }

func (s *stubAdmin) Health(_ context.Context, thresholds queuesvc.HealthThresholds) (queuesvc.Health, error) {
	s.thresholds = thresholds
	if s.err != nil {
		return queuesvc.Health{}, s.err
	}
	health := queuesvc.Health{Status: queuesvc.HealthOK, Stats: s.stats}
	if s.stats.Failed > thresholds.MaxFailed {
		health.Status = queuesvc.HealthDegraded
		health.Degraded = true
	}
	return health, nil
}

func (s *stubAdmin) Failed(_ context.Context, limit int) ([]models.QueueJob, error) {
	s.limit = limit
	return s.failed, s.err
}

func (s *stubAdmin) Retry(_ context.Context, id uuid.UUID) error {
	s.retried = id
	return s.err
}

func (s *stubAdmin) Remove(_ context.Context, id uuid.UUID) error {
	s.removed = id
	return s.err
}

func (s *stubAdmin) Pause(context.Context) error {
	s.paused = true
	return s.err
}

func (s *stubAdmin) Resume(context.Context) error {
	s.paused = false
	return s.err
}

func (s *stubAdmin) Clean(_ context.Context, grace time.Duration) (int64, error) {
	s.grace = grace
	return 4, s.err
}

func withJobID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("jobId", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestQueueStats(t *testing.T) {
	admin := &stubAdmin{stats: queuesvc.Stats{Waiting: 3, Failed: 1, Paused: true}}
	resp := httptest.NewRecorder()

	QueueStats(admin, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	var envelope struct {
		Data queuesvc.Stats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, int64(3), envelope.Data.Waiting)
	assert.True(t, envelope.Data.Paused)
}

func TestQueueHealthUsesThresholds(t *testing.T) {
	admin := &stubAdmin{stats: queuesvc.Stats{Failed: 60}}
	thresholds := queuesvc.HealthThresholds{MaxActive: 100, MaxFailed: 50}
	resp := httptest.NewRecorder()

	QueueHealth(admin, thresholds, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, thresholds, admin.thresholds)
	var envelope struct {
		Data queuesvc.Health `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, queuesvc.HealthDegraded, envelope.Data.Status)
}

func TestQueueFailedListsJobs(t *testing.T) {
	lastErr := "smtp timeout"
	job := models.QueueJob{ID: uuid.New(), Kind: queuesvc.KindSendReminder, State: enums.JobStateFailed, Attempts: 3, MaxAttempts: 3, LastError: &lastErr}
	admin := &stubAdmin{failed: []models.QueueJob{job}}
	resp := httptest.NewRecorder()

	QueueFailed(admin, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/?limit=10", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 10, admin.limit)
	var envelope struct {
		Data []jobResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, job.ID, envelope.Data[0].ID)
	assert.Equal(t, "failed", envelope.Data[0].State)
	require.NotNil(t, envelope.Data[0].LastError)
	assert.Equal(t, lastErr, *envelope.Data[0].LastError)
}

func TestQueueFailedRejectsBadLimit(t *testing.T) {
	resp := httptest.NewRecorder()
	QueueFailed(&stubAdmin{}, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/?limit=0", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestQueueRetryAndRemove(t *testing.T) {
	admin := &stubAdmin{}
	id := uuid.New()

	resp := httptest.NewRecorder()
	QueueRetry(admin, nil).ServeHTTP(resp, withJobID(httptest.NewRequest(http.MethodPost, "/", nil), id.String()))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, id, admin.retried)

	resp = httptest.NewRecorder()
	QueueRemove(admin, nil).ServeHTTP(resp, withJobID(httptest.NewRequest(http.MethodDelete, "/", nil), id.String()))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, id, admin.removed)
}

func TestQueueRetryNotFound(t *testing.T) {
	admin := &stubAdmin{err: pkgerrors.New(pkgerrors.CodeNotFound, "failed job not found")}
	resp := httptest.NewRecorder()

	QueueRetry(admin, nil).ServeHTTP(resp, withJobID(httptest.NewRequest(http.MethodPost, "/", nil), uuid.NewString()))

	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestQueuePauseResume(t *testing.T) {
	admin := &stubAdmin{}

	resp := httptest.NewRecorder()
	QueuePause(admin, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, admin.paused)

	resp = httptest.NewRecorder()
	QueueResume(admin, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, admin.paused)
}

func TestQueueClean(t *testing.T) {
	admin := &stubAdmin{}

	resp := httptest.NewRecorder()
	QueueClean(admin, 24*time.Hour, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 24*time.Hour, admin.grace)

	resp = httptest.NewRecorder()
	QueueClean(admin, 24*time.Hour, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/?grace=2h", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 2*time.Hour, admin.grace)

	resp = httptest.NewRecorder()
	QueueClean(admin, 24*time.Hour, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/?grace=soon", nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
