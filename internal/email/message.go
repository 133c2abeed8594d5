package email

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	"github.com/google/uuid"
)

// Message is one outbound reminder email.
type Message struct {
	ID             string       `json:"id"`
	To             string       `json:"to"`
	From           string       `json:"from"`
	Subject        string       `json:"subject"`
	Template       string       `json:"template"`
	IdempotencyKey string       `json:"idempotency_key"`
	Data           ReminderData `json:"data"`
}

// ReminderData feeds the reminder template.
type ReminderData struct {
	RecordID       uuid.UUID           `json:"record_id"`
	CartID         uuid.UUID           `json:"cart_id"`
	Stage          enums.ReminderStage `json:"stage"`
	RecoveryURL    string              `json:"recovery_url"`
	CartValueCents int64               `json:"cart_value_cents"`
	ItemCount      int                 `json:"item_count"`
}

var reminderSubjects = map[enums.ReminderStage]string{
	enums.ReminderStage1h:  "You left something in your cart",
	enums.ReminderStage24h: "Your cart is still waiting for you",
	enums.ReminderStage72h: "Last chance to complete your order",
}

// NewReminder builds the reminder message for one stage.
func NewReminder(from, to string, data ReminderData) (Message, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return Message{}, fmt.Errorf("recipient is required")
	}
	subject, ok := reminderSubjects[data.Stage]
	if !ok {
		return Message{}, fmt.Errorf("unknown reminder stage %q", data.Stage)
	}
	return Message{
		ID:             uuid.NewString(),
		To:             to,
		From:           from,
		Subject:        subject,
		Template:       "cart_reminder_" + string(data.Stage),
		IdempotencyKey: fmt.Sprintf("reminder:%s:%s", data.RecordID, data.Stage),
		Data:           data,
	}, nil
}
