// Package events publishes session lifecycle events to external consumers
// (agent dashboards, analytics, notification workers).
//
// Events are fire-and-forget: the core never waits on a consumer and a
// publish failure never rolls back a state change. Each event is routed to
// its organization's channel; backends that support it also copy it to the
// session's channel.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Session lifecycle event types.
const (
	EventTypeSessionCreated     = "session.created"
	EventTypeSessionEscalated   = "session.escalated"
	EventTypeSessionPending     = "session.pending"
	EventTypeSessionHandover    = "session.handover"
	EventTypeSessionTransferred = "session.transferred"
	EventTypeSessionEnded       = "session.ended"
)

// Message event types.
const (
	EventTypeMessageCreated = "message.created"
	EventTypeDeliveryFailed = "delivery.failed"
)

// Event is the JSON envelope shared by every backend.
type Event struct {
	Type           string         `json:"type"`
	EventID        string         `json:"event_id"`
	OrganizationID string         `json:"organization_id"`
	SessionID      string         `json:"session_id,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	Timestamp      string         `json:"timestamp"` // RFC3339Nano
}

// NewEvent stamps a new event with a fresh ID and the current time.
func NewEvent(eventType, organizationID, sessionID string, data map[string]any) Event {
	return Event{
		Type:           eventType,
		EventID:        uuid.New().String(),
		OrganizationID: organizationID,
		SessionID:      sessionID,
		Data:           data,
		Timestamp:      time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// OrganizationChannel returns the channel carrying all events of an organization.
// Format: "org:{organization_id}"
func OrganizationChannel(organizationID string) string {
	return "org:" + organizationID
}

// SessionChannel returns the channel name for a specific session's events.
// Format: "session:{session_id}"
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// channelsFor lists the channels an event is published on.
func channelsFor(evt Event) []string {
	chans := []string{OrganizationChannel(evt.OrganizationID)}
	if evt.SessionID != "" {
		chans = append(chans, SessionChannel(evt.SessionID))
	}
	return chans
}
