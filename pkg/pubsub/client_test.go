package pubsub

import (
	"context"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/cartrecovery-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "demo"}

	if got := c.topicResourceName("cart-reminders"); got != "projects/demo/topics/cart-reminders" {
		t.Fatalf("unexpected topic name %s", got)
	}
	full := "projects/other/topics/emails"
	if got := c.topicResourceName(full); got != full {
		t.Fatalf("full resource names should pass through, got %s", got)
	}
	if got := c.topicResourceName("  "); got != "" {
		t.Fatalf("blank topic should resolve empty, got %s", got)
	}
	if got := (&Client{}).topicResourceName("x"); got != "" {
		t.Fatalf("missing project should resolve empty, got %s", got)
	}
}

func TestNewClientRequiresProject(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{EmailTopic: "t"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
}

func TestNilClientGuards(t *testing.T) {
	var c *Client
	if c.EmailPublisher() != nil {
		t.Fatal("nil client should not yield a publisher")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error on nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}

func TestApplyPublishSettings(t *testing.T) {
	settings := gcppubsub.DefaultPublishSettings
	applyPublishSettings(&settings, config.PubSubConfig{PublishDelay: 25 * time.Millisecond, PublishTimeout: 5 * time.Second})
	if settings.DelayThreshold != 25*time.Millisecond || settings.Timeout != 5*time.Second {
		t.Fatalf("unexpected settings %+v", settings)
	}

	untouched := gcppubsub.DefaultPublishSettings
	applyPublishSettings(&untouched, config.PubSubConfig{})
	if untouched.DelayThreshold != gcppubsub.DefaultPublishSettings.DelayThreshold {
		t.Fatalf("zero config should keep defaults, got %+v", untouched)
	}
}
