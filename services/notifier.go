package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Event types emitted by the engine.
const (
	EventNewIssue        = "newIssue"
	EventIssueMerged     = "issueMerged"
	EventConsentRequest  = "issueConsentRequest"
	EventConsentUpdated  = "issueConsentUpdated"
	EventPriorityUpdated = "issuePriorityUpdated"
	EventStatusUpdated   = "issueStatusUpdated"
)

// Event is the envelope published to external subscribers.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Issue     primitive.ObjectID     `json:"issue"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// NewEvent builds an event envelope with a fresh id.
func NewEvent(eventType string, issue primitive.ObjectID, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Issue:     issue,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Notifier delivers engine events. Delivery is best-effort and
// fire-and-forget: implementations log failures and never surface them,
// because a dropped notification must not roll back a data mutation.
type Notifier interface {
	Broadcast(ctx context.Context, event Event)
	NotifyUser(ctx context.Context, user primitive.ObjectID, event Event)
}

// RedisNotifier publishes events as JSON on Redis pub/sub channels: one
// broadcast channel plus a per-user channel for targeted notifications.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "civicwatch:events"
	}
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Broadcast(ctx context.Context, event Event) {
	n.publish(ctx, n.channel, event)
}

func (n *RedisNotifier) NotifyUser(ctx context.Context, user primitive.ObjectID, event Event) {
	n.publish(ctx, n.channel+":user:"+user.Hex(), event)
}

func (n *RedisNotifier) publish(ctx context.Context, channel string, event Event) {
	if n.client == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("notifier: failed to marshal %s event: %v", event.Type, err)
		return
	}
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		log.Printf("notifier: failed to publish %s event: %v", event.Type, err)
	}
}

// NopNotifier discards all events. Used by offline jobs that should not spam
// subscribers while reconciling history.
type NopNotifier struct{}

func (NopNotifier) Broadcast(ctx context.Context, event Event) {}

func (NopNotifier) NotifyUser(ctx context.Context, user primitive.ObjectID, event Event) {}
