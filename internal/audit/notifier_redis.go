package audit

import (
	"context"
	"encoding/json"
	"fmt"

	platformredis "custodia/internal/platform/redis"
)

// DefaultAlertChannel is the pub/sub channel alert payloads are published to.
const DefaultAlertChannel = "custodia:security-alerts"

// RedisNotifier publishes alerts on a Redis pub/sub channel so external
// responders (on-call tooling, SIEM forwarders) can subscribe without polling
// the database.
type RedisNotifier struct {
	client  *platformredis.Client
	channel string
}

// NewRedisNotifier creates a notifier on the given channel. An empty channel
// selects DefaultAlertChannel.
func NewRedisNotifier(client *platformredis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = DefaultAlertChannel
	}
	return &RedisNotifier{client: client, channel: channel}
}

type alertPayload struct {
	ID          string `json:"id"`
	EventID     string `json:"event_id"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Tenant      string `json:"tenant"`
	CreatedAt   string `json:"created_at"`
}

// Publish serializes the alert and fires it at the channel. Delivery is
// best-effort pub/sub; the durable copy already lives in the alert store.
func (n *RedisNotifier) Publish(ctx context.Context, alert *SecurityAlert) error {
	payload, err := json.Marshal(alertPayload{
		ID:          alert.ID.String(),
		EventID:     alert.EventID.String(),
		Type:        alert.Type,
		Severity:    string(alert.Severity),
		Title:       alert.Title,
		Description: alert.Description,
		Tenant:      alert.Tenant,
		CreatedAt:   alert.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
