package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/cartrecovery-backend/pkg/config"
	"github.com/angelmondragon/cartrecovery-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResult struct {
	id  string
	err error
}

func (r stubResult) Get(context.Context) (string, error) { return r.id, r.err }

type stubPublisher struct {
	messages []*gcppubsub.Message
	err      error
}

func (p *stubPublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	return stubResult{id: "srv-1", err: p.err}
}

func testReminder(t *testing.T) Message {
	t.Helper()
	msg, err := NewReminder("shop@example.com", "shopper@example.com", ReminderData{
		RecordID:    uuid.New(),
		CartID:      uuid.New(),
		Stage:       enums.ReminderStage24h,
		RecoveryURL: "https://shop.example.com/cart/tok",
	})
	require.NoError(t, err)
	return msg
}

func TestNewReminder(t *testing.T) {
	msg := testReminder(t)
	assert.Equal(t, "cart_reminder_24h", msg.Template)
	assert.Equal(t, "Your cart is still waiting for you", msg.Subject)
	assert.Equal(t, "reminder:"+msg.Data.RecordID.String()+":24h", msg.IdempotencyKey)

	_, err := NewReminder("a", " ", ReminderData{Stage: enums.ReminderStage1h})
	require.Error(t, err)
	_, err = NewReminder("a", "b@example.com", ReminderData{Stage: "5m"})
	require.Error(t, err)
}

func TestPubSubSenderPublishesJSON(t *testing.T) {
	pub := &stubPublisher{}
	sender, err := newPubSubSender(pub, logger.New(logger.Options{Level: zerolog.Disabled}))
	require.NoError(t, err)
	msg := testReminder(t)

	require.NoError(t, sender.Send(context.Background(), msg))
	require.Len(t, pub.messages, 1)
	published := pub.messages[0]
	assert.Equal(t, msg.IdempotencyKey, published.Attributes["idempotency_key"])
	assert.Equal(t, "24h", published.Attributes["stage"])

	var decoded Message
	require.NoError(t, json.Unmarshal(published.Data, &decoded))
	assert.Equal(t, msg.To, decoded.To)
	assert.Equal(t, msg.Data.RecoveryURL, decoded.Data.RecoveryURL)
}

func TestPubSubSenderWrapsPublishFailure(t *testing.T) {
	pub := &stubPublisher{err: errors.New("unavailable")}
	sender, err := newPubSubSender(pub, logger.New(logger.Options{Level: zerolog.Disabled}))
	require.NoError(t, err)

	err = sender.Send(context.Background(), testReminder(t))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.True(t, pkgerrors.IsRetryable(err))
}

func TestLogSenderWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	sender, err := NewLogSender(logger.New(logger.Options{ServiceName: "email-test", Output: &buf}))
	require.NoError(t, err)

	require.NoError(t, sender.Send(context.Background(), testReminder(t)))
	assert.Contains(t, buf.String(), `"event":"email.sent"`)
	assert.Contains(t, buf.String(), "cart_reminder_24h")
}

func TestNewSenderSelectsTransport(t *testing.T) {
	logg := logger.New(logger.Options{Level: zerolog.Disabled})
	sender, err := NewSender(config.EmailConfig{Transport: "log"}, nil, logg)
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, sender)

	_, err = NewSender(config.EmailConfig{Transport: "pubsub"}, nil, logg)
	require.Error(t, err)
	_, err = NewSender(config.EmailConfig{Transport: "smtp"}, nil, logg)
	require.Error(t, err)
}
