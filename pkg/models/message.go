package models

import (
	"maps"
	"time"
)

// Message is one immutable turn of a chat session.
type Message struct {
	ID             string
	OrganizationID string
	SessionID      string
	// Seq is assigned by the store and breaks created_at ties.
	Seq         int64
	SenderType  SenderType
	SenderID    string
	MessageType string
	Content     string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// IsFailed reports whether the message carries metadata.failed=true.
func (m *Message) IsFailed() bool {
	v, ok := m.Metadata[MetaFailed]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	c.Metadata = maps.Clone(m.Metadata)
	return &c
}
