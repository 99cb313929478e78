package services

import (
	"context"
	"log/slog"

	"github.com/omnidesk/omnidesk/pkg/clock"
	"github.com/omnidesk/omnidesk/pkg/events"
	"github.com/omnidesk/omnidesk/pkg/metrics"
	"github.com/omnidesk/omnidesk/pkg/store"
)

// Deps holds collaborators shared by the services.
type Deps struct {
	Store   store.Store
	Events  events.Publisher // nil discards events
	Metrics *metrics.Metrics // nil disables metrics
	Clock   clock.Clock      // nil uses defaultClock
}

// defaultClock is shared by every service built without a Clock. Message
// ordering relies on (created_at, seq), so all writers of one store must
// draw timestamps from the same monotonic source.
var defaultClock = clock.NewMonotonic(nil)

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = events.NopPublisher{}
	}
	if d.Clock == nil {
		d.Clock = defaultClock
	}
	return d
}

// publish emits an event after a committed transition. Failures are
// logged and counted, never returned.
func (d Deps) publish(ctx context.Context, eventType, organizationID, sessionID string, data map[string]any) {
	evt := events.NewEvent(eventType, organizationID, sessionID, data)
	if err := d.Events.Publish(ctx, evt); err != nil {
		slog.Warn("Failed to publish event",
			"type", eventType,
			"organization_id", organizationID,
			"session_id", sessionID,
			"error", err)
		d.Metrics.EventPublishFailed(eventType)
	}
}
