//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/audit"
	"custodia/pkg/testutil/containers"
)

func TestRedisNotifierPublishRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	rc := containers.NewRedisContainer(t)

	sub := rc.Client.Subscribe(ctx, audit.DefaultAlertChannel)
	defer sub.Close()

	// Wait for the subscription before publishing; pub/sub drops messages
	// with no subscribers.
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	notifier := audit.NewRedisNotifier(rc.Client, "")
	alert := &audit.SecurityAlert{
		ID:        uuid.New(),
		EventID:   uuid.New(),
		Type:      "brute_force_detected",
		Severity:  audit.SeverityCritical,
		Title:     "Critical security event: brute_force_detected",
		Status:    audit.AlertActive,
		Tenant:    "acme",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, notifier.Publish(ctx, alert))

	select {
	case msg := <-sub.Channel():
		var payload map[string]any
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
		assert.Equal(t, alert.ID.String(), payload["id"])
		assert.Equal(t, alert.EventID.String(), payload["event_id"])
		assert.Equal(t, "critical", payload["severity"])
		assert.Equal(t, "acme", payload["tenant"])
	case <-time.After(5 * time.Second):
		t.Fatal("no alert received on the channel")
	}
}
