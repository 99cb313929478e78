package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/pkg/events"
	"github.com/omnidesk/omnidesk/test/util"
)

func TestNotifyPublisherReachesListener(t *testing.T) {
	db := util.SetupTestDatabase(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	org := "org-" + uuid.NewString()[:8]
	received := make(chan events.Event, 4)
	listener := events.NewNotifyListener(util.GetBaseConnectionString(t), func(_ string, evt events.Event) {
		received <- evt
	})
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop(context.Background())
	require.NoError(t, listener.Subscribe(ctx, events.OrganizationChannel(org)))

	p := events.NewNotifyPublisher(db)
	evt := events.NewEvent(events.EventTypeSessionCreated, org, "sess-1", map[string]any{"state": "bot_owned"})
	require.NoError(t, p.Publish(ctx, evt))

	select {
	case got := <-received:
		assert.Equal(t, evt.EventID, got.EventID)
		assert.Equal(t, events.EventTypeSessionCreated, got.Type)
		assert.Equal(t, "bot_owned", got.Data["state"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for NOTIFY")
	}
}
