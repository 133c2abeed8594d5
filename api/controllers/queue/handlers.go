package queue

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartrecovery-backend/api/responses"
	"github.com/angelmondragon/cartrecovery-backend/api/validators"
	queuesvc "github.com/angelmondragon/cartrecovery-backend/internal/queue"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
)

// Admin is the operator surface of the job queue.
type Admin interface {
	Stats(ctx context.Context) (queuesvc.Stats, error)
	Health(ctx context.Context, thresholds queuesvc.HealthThresholds) (queuesvc.Health, error)
	Failed(ctx context.Context, limit int) ([]models.QueueJob, error)
	Retry(ctx context.Context, id uuid.UUID) error
	Remove(ctx context.Context, id uuid.UUID) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Clean(ctx context.Context, grace time.Duration) (int64, error)
}

type jobResponse struct {
	ID          uuid.UUID  `json:"id"`
	Kind        string     `json:"kind"`
	Priority    int        `json:"priority"`
	State       string     `json:"state"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	DedupKey    *string    `json:"dedup_key,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	RunAt       time.Time  `json:"run_at"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func newJobResponse(job models.QueueJob) jobResponse {
	return jobResponse{
		ID:          job.ID,
		Kind:        job.Kind,
		Priority:    job.Priority,
		State:       string(job.State),
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		DedupKey:    job.DedupKey,
		LastError:   job.LastError,
		RunAt:       job.RunAt,
		FailedAt:    job.FailedAt,
		CreatedAt:   job.CreatedAt,
	}
}

func unavailable(r *http.Request, logg *logger.Logger, w http.ResponseWriter) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "queue unavailable"))
}

// QueueStats reports job counts per state and the pause flag.
func QueueStats(admin Admin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			unavailable(r, logg, w)
			return
		}
		stats, err := admin.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// QueueHealth classifies queue pressure against the configured thresholds.
func QueueHealth(admin Admin, thresholds queuesvc.HealthThresholds, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			unavailable(r, logg, w)
			return
		}
		health, err := admin.Health(r.Context(), thresholds)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, health)
	}
}

// QueueFailed lists retained failed jobs.
func QueueFailed(admin Admin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			unavailable(r, logg, w)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		jobs, err := admin.Failed(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]jobResponse, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, newJobResponse(job))
		}
		responses.WriteSuccess(w, out)
	}
}

// QueueRetry re-queues a failed job.
func QueueRetry(admin Admin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			unavailable(r, logg, w)
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := admin.Retry(r.Context(), jobID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"id": jobID.String(), "status": "requeued"})
	}
}

// QueueRemove deletes a job that is not running.
func QueueRemove(admin Admin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			unavailable(r, logg, w)
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := admin.Remove(r.Context(), jobID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"id": jobID.String(), "status": "removed"})
	}
}

// QueuePause stops workers from claiming new jobs.
func QueuePause(admin Admin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			unavailable(r, logg, w)
			return
		}
		if err := admin.Pause(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"paused": true})
	}
}

// QueueResume lets workers claim jobs again.
func QueueResume(admin Admin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			unavailable(r, logg, w)
			return
		}
		if err := admin.Resume(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"paused": false})
	}
}

// QueueClean prunes completed jobs older than the grace query parameter
// (a Go duration such as "12h"), falling back to defaultGrace.
func QueueClean(admin Admin, defaultGrace time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if admin == nil {
			unavailable(r, logg, w)
			return
		}
		grace, err := validators.ParseQueryDuration(r, "grace", defaultGrace)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		removed, err := admin.Clean(r.Context(), grace)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"removed": removed, "grace": grace.String()})
	}
}
