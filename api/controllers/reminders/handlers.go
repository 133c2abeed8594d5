package reminders

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/cartrecovery-backend/api/responses"
	"github.com/angelmondragon/cartrecovery-backend/api/validators"
	"github.com/angelmondragon/cartrecovery-backend/pkg/db/models"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
)

// EngagementRecorder stores opens and clicks against a sent reminder.
type EngagementRecorder interface {
	RecordEngagement(ctx context.Context, recordID uuid.UUID, stage enums.ReminderStage, event enums.EngagementEvent) (*models.AbandonmentRecord, error)
}

type engagementRequest struct {
	Event string `json:"event" validate:"required,oneof=opened clicked"`
}

type engagementResponse struct {
	RecordID  uuid.UUID  `json:"record_id"`
	Stage     string     `json:"stage"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	OpenedAt  *time.Time `json:"opened_at,omitempty"`
	ClickedAt *time.Time `json:"clicked_at,omitempty"`
}

// ReminderEngagement records that a reminder email was opened or clicked.
func ReminderEngagement(recorder EngagementRecorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if recorder == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "engagement tracking unavailable"))
			return
		}

		recordID, err := validators.ParseUUIDParam(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		stage, err := enums.ParseReminderStage(chi.URLParam(r, "stage"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reminder stage").WithDetails(map[string]any{"field": "stage"}))
			return
		}

		var payload engagementRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		event, err := enums.ParseEngagementEvent(payload.Event)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid engagement event"))
			return
		}

		record, err := recorder.RecordEngagement(r.Context(), recordID, stage, event)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := engagementResponse{RecordID: record.ID, Stage: string(stage)}
		if log, ok := record.Stages[stage]; ok && log != nil {
			out.SentAt = log.SentAt
			out.OpenedAt = log.OpenedAt
			out.ClickedAt = log.ClickedAt
		}
		responses.WriteSuccess(w, out)
	}
}
