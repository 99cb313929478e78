// Package models contains the domain types shared by the omnidesk services.
package models

import (
	"maps"
	"time"
)

// SessionState is the explicit ownership state of a chat session.
// It is derived from the persisted flags (is_active, is_bot_session, agent_id).
type SessionState string

const (
	StateBotOwned     SessionState = "bot_owned"
	StatePendingHuman SessionState = "pending_human"
	StateAgentOwned   SessionState = "agent_owned"
	StateEnded        SessionState = "ended"
)

// transitions lists the legal state changes. ENDED is terminal.
var transitions = map[SessionState][]SessionState{
	StateBotOwned:     {StatePendingHuman, StateAgentOwned, StateEnded},
	StatePendingHuman: {StatePendingHuman, StateAgentOwned, StateEnded},
	StateAgentOwned:   {StateAgentOwned, StateEnded},
	StateEnded:        {},
}

// CanTransition reports whether a session in state from may move to state to.
func CanTransition(from, to SessionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive reports whether the state is one of the live states.
func (s SessionState) IsActive() bool {
	return s != StateEnded
}

// ChatSession is a conversation between one customer and the organization.
type ChatSession struct {
	ID               string
	OrganizationID   string
	CustomerID       string
	AgentID          *string
	BotPersonalityID *string
	ChannelConfigID  string
	SessionToken     string
	SessionType      SessionType

	IsActive     bool
	IsBotSession bool
	IsResolved   bool

	StartedAt       time.Time
	EndedAt         *time.Time
	LastActivityAt  time.Time
	FirstResponseAt *time.Time
	HandoverAt      *time.Time
	HandoverReason  string

	Priority       Priority
	Intent         string
	Category       string
	Sentiment      Sentiment
	SentimentScore float64

	TotalMessages    int
	CustomerMessages int
	BotMessages      int
	AgentMessages    int

	SatisfactionRating *int
	ResolutionType     ResolutionType
	ResolutionNotes    string
	Metadata           map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// State derives the explicit lifecycle state from the session flags.
func (s *ChatSession) State() SessionState {
	switch {
	case !s.IsActive:
		return StateEnded
	case s.AgentID != nil:
		return StateAgentOwned
	case s.IsBotSession:
		return StateBotOwned
	default:
		return StatePendingHuman
	}
}

// AssignedAgent returns the owning agent id, or "" when none.
func (s *ChatSession) AssignedAgent() string {
	if s.AgentID == nil {
		return ""
	}
	return *s.AgentID
}

// Clone returns a deep copy of the session.
func (s *ChatSession) Clone() *ChatSession {
	c := *s
	c.AgentID = clonePtr(s.AgentID)
	c.BotPersonalityID = clonePtr(s.BotPersonalityID)
	c.EndedAt = clonePtr(s.EndedAt)
	c.FirstResponseAt = clonePtr(s.FirstResponseAt)
	c.HandoverAt = clonePtr(s.HandoverAt)
	c.SatisfactionRating = clonePtr(s.SatisfactionRating)
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}

// CounterDelta is an increment applied to a session's message counters.
type CounterDelta struct {
	Total    int
	Customer int
	Bot      int
	Agent    int
}

// DeltaFor returns the counter increment for one message from sender.
func DeltaFor(sender SenderType) CounterDelta {
	d := CounterDelta{Total: 1}
	switch sender {
	case SenderCustomer:
		d.Customer = 1
	case SenderBot:
		d.Bot = 1
	case SenderAgent:
		d.Agent = 1
	}
	return d
}

// Apply adds the delta to the session counters.
func (d CounterDelta) Apply(s *ChatSession) {
	s.TotalMessages += d.Total
	s.CustomerMessages += d.Customer
	s.BotMessages += d.Bot
	s.AgentMessages += d.Agent
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
