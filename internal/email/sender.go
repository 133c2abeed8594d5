package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/cartrecovery-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/cartrecovery-backend/pkg/errors"
	"github.com/angelmondragon/cartrecovery-backend/pkg/logger"
)

const defaultPublishTimeout = 15 * time.Second

// Sender delivers reminder emails.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the structured log instead of delivering them.
type LogSender struct {
	logg *logger.Logger
}

// NewLogSender builds a log-only sender for development.
func NewLogSender(logg *logger.Logger) (*LogSender, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &LogSender{logg: logg}, nil
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"event":        "email.sent",
		"transport":    config.EmailTransportLog,
		"message_id":   msg.ID,
		"template":     msg.Template,
		"record_id":    msg.Data.RecordID.String(),
		"stage":        msg.Data.Stage,
		"recovery_url": msg.Data.RecoveryURL,
	}), "reminder email logged")
	return nil
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// PubSubSender hands messages to the mail relay through a Pub/Sub topic.
type PubSubSender struct {
	publisher publisher
	logg      *logger.Logger
	timeout   time.Duration
}

// NewPubSubSender wraps the email topic publisher.
func NewPubSubSender(pub *gcppubsub.Publisher, logg *logger.Logger) (*PubSubSender, error) {
	if pub == nil {
		return nil, errors.New("email publisher is required")
	}
	return newPubSubSender(&gcpPublisher{Publisher: pub}, logg)
}

func newPubSubSender(pub publisher, logg *logger.Logger) (*PubSubSender, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &PubSubSender{publisher: pub, logg: logg, timeout: defaultPublishTimeout}, nil
}

func (s *PubSubSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode email message")
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	result := s.publisher.Publish(publishCtx, &gcppubsub.Message{
		Data:        body,
		OrderingKey: msg.Data.RecordID.String(),
		Attributes: map[string]string{
			"message_id":      msg.ID,
			"template":        msg.Template,
			"idempotency_key": msg.IdempotencyKey,
			"stage":           string(msg.Data.Stage),
		},
	})
	if result == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "email publisher returned no result")
	}
	serverID, err := result.Get(publishCtx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish email message")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"event":         "email.sent",
		"transport":     config.EmailTransportPubSub,
		"message_id":    msg.ID,
		"pubsub_msg_id": serverID,
		"template":      msg.Template,
		"record_id":     msg.Data.RecordID.String(),
	}), "reminder email published")
	return nil
}

// NewSender picks the transport configured in cfg.
func NewSender(cfg config.EmailConfig, pub *gcppubsub.Publisher, logg *logger.Logger) (Sender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case config.EmailTransportLog, "":
		return NewLogSender(logg)
	case config.EmailTransportPubSub:
		return NewPubSubSender(pub, logg)
	default:
		return nil, fmt.Errorf("unsupported email transport %q", cfg.Transport)
	}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &orderedResult{res: p.Publisher.Publish(ctx, msg), pub: p.Publisher, key: msg.OrderingKey}
}

// orderedResult resumes the ordering key after a failed publish; otherwise
// later reminders for the same record would be rejected by the client.
type orderedResult struct {
	res *gcppubsub.PublishResult
	pub *gcppubsub.Publisher
	key string
}

func (r *orderedResult) Get(ctx context.Context) (string, error) {
	id, err := r.res.Get(ctx)
	if err != nil && r.key != "" {
		r.pub.ResumePublish(r.key)
	}
	return id, err
}
