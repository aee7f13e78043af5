package notification

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/funcscan/flowdesk/pkg/channels/gochannel"
	"github.com/funcscan/flowdesk/pkg/eventbus"
	"github.com/funcscan/flowdesk/pkg/events"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_RelayFromEventBus(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, nil)
	defer func() { _ = bus.Close() }()

	hub := NewHub(nil)
	defer hub.Close()

	require.NoError(t, hub.Relay(bus))
	require.NoError(t, bus.Subscribe(ctx))

	server := httptest.NewServer(hub.Handler())
	defer server.Close()

	stream, err := NewClient(server.URL, nil).Subscribe(ctx, 4)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Connections(4) == 1 }, 5*time.Second, 10*time.Millisecond)

	n := models.Notification{ID: 9, UserID: 4, Message: "Workflow 2:completed", Type: models.NotificationProgression}
	require.NoError(t, bus.Publish(ctx, "4", events.NewNotificationCreated(n)))

	got := receive(t, stream)
	assert.Equal(t, n.Message, got.Message)
	assert.Equal(t, int64(9), got.ID)
}
