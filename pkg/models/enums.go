package models

// SenderType identifies who authored a message
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderBot      SenderType = "bot"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

// IsValid checks if the sender type is known
func (s SenderType) IsValid() bool {
	switch s {
	case SenderCustomer, SenderBot, SenderAgent, SenderSystem:
		return true
	default:
		return false
	}
}

// SessionType records who opened a chat session
type SessionType string

const (
	SessionTypeCustomerInitiated SessionType = "customer_initiated"
	SessionTypeBot               SessionType = "bot"
	SessionTypeAgentInitiated    SessionType = "agent_initiated"
)

// Priority is the escalation priority of a session
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid checks if the priority is known
func (p Priority) IsValid() bool {
	return p == PriorityNormal || p == PriorityMedium || p == PriorityHigh
}

// Rank orders priorities so they can be compared (higher is more urgent).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Sentiment is the coarse polarity assigned by the keyword classifier
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// AgentStatus is the administrative status of an agent account
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
)

// Availability is the live presence of an agent
type Availability string

const (
	AvailabilityOnline    Availability = "online"
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityOffline   Availability = "offline"
)

// AcceptsChats reports whether an agent with this presence may receive new sessions.
func (a Availability) AcceptsChats() bool {
	return a == AvailabilityOnline || a == AvailabilityAvailable
}

// ResolutionType describes how a session ended
type ResolutionType string

const (
	ResolutionResolved    ResolutionType = "resolved"
	ResolutionUnresolved  ResolutionType = "unresolved"
	ResolutionAbandoned   ResolutionType = "abandoned"
	ResolutionTimeout     ResolutionType = "timeout"
	ResolutionTransferred ResolutionType = "transferred"
	ResolutionSpam        ResolutionType = "spam"
)

// IsValid checks if the resolution type is known
func (r ResolutionType) IsValid() bool {
	switch r {
	case ResolutionResolved,
		ResolutionUnresolved,
		ResolutionAbandoned,
		ResolutionTimeout,
		ResolutionTransferred,
		ResolutionSpam:
		return true
	default:
		return false
	}
}

// IsResolved reports whether ending with this type marks the session resolved.
func (r ResolutionType) IsResolved() bool {
	return r == ResolutionResolved
}

// Message types persisted alongside content.
const (
	MessageTypeText       = "text"
	MessageTypeSystem     = "system"
	MessageTypeBotFailure = "bot_failure"
)

// Well-known message metadata keys.
const (
	MetaSentiment      = "sentiment"
	MetaSentimentScore = "sentiment_score"
	MetaIntent         = "intent"
	MetaFailed         = "failed"
	MetaError          = "error"
	MetaConfidence     = "confidence"
	MetaEvent          = "event"
	MetaChannelMessage = "channel_message_id"
)
