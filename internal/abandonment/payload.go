package abandonment

import (
	"fmt"

	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	"github.com/google/uuid"
)

// ReminderPayload is the body of a send-reminder job.
type ReminderPayload struct {
	RecordID uuid.UUID           `json:"record_id"`
	CartID   uuid.UUID           `json:"cart_id"`
	Stage    enums.ReminderStage `json:"stage"`
}

// ReminderKey identifies one stage delivery of one campaign. It doubles as
// the queue dedup key and the send guard id.
func ReminderKey(recordID uuid.UUID, stage enums.ReminderStage) string {
	return fmt.Sprintf("reminder:%s:%s", recordID, stage)
}

// Skip reasons recorded on stage logs.
const (
	SkipNoContact      = "no_contact"
	SkipCartMissing    = "cart_missing"
	SkipCartActive     = "cart_active"
	SkipCartEmpty      = "cart_empty"
	SkipCartExpired    = "cart_expired"
	SkipSuperseded     = "superseded"
	SkipDeliveryFailed = "delivery_failed"
)
