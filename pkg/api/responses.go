package api

import (
	"time"

	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/database"
	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/services"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string                    `json:"status"`
	Version       string                    `json:"version"`
	Database      *database.HealthStatus    `json:"database,omitempty"`
	Configuration config.Stats              `json:"configuration"`
	Warnings      []*services.SystemWarning `json:"warnings,omitempty"`
}

// WebhookResponse is returned by the channel webhook; always HTTP 200.
type WebhookResponse struct {
	Status string `json:"status"` // processed, ignored, failed
	Reason string `json:"reason,omitempty"`
	Result any    `json:"result,omitempty"`
}

// SessionResponse is the API view of a chat session.
type SessionResponse struct {
	ID               string                `json:"id"`
	OrganizationID   string                `json:"organization_id"`
	CustomerID       string                `json:"customer_id"`
	State            models.SessionState   `json:"state"`
	AgentID          *string               `json:"agent_id,omitempty"`
	BotPersonalityID *string               `json:"bot_personality_id,omitempty"`
	SessionToken     string                `json:"session_token"`
	SessionType      models.SessionType    `json:"session_type"`
	IsResolved       bool                  `json:"is_resolved"`
	Priority         models.Priority       `json:"priority"`
	Intent           string                `json:"intent,omitempty"`
	Sentiment        models.Sentiment      `json:"sentiment,omitempty"`
	SentimentScore   float64               `json:"sentiment_score"`
	StartedAt        time.Time             `json:"started_at"`
	EndedAt          *time.Time            `json:"ended_at,omitempty"`
	LastActivityAt   time.Time             `json:"last_activity_at"`
	FirstResponseAt  *time.Time            `json:"first_response_at,omitempty"`
	HandoverAt       *time.Time            `json:"handover_at,omitempty"`
	HandoverReason   string                `json:"handover_reason,omitempty"`
	Counters         SessionCounters       `json:"counters"`
	Rating           *int                  `json:"satisfaction_rating,omitempty"`
	ResolutionType   models.ResolutionType `json:"resolution_type,omitempty"`
	ResolutionNotes  string                `json:"resolution_notes,omitempty"`
	Metadata         map[string]any        `json:"metadata,omitempty"`
}

// SessionCounters are the per-sender message counts of a session.
type SessionCounters struct {
	Total    int `json:"total"`
	Customer int `json:"customer"`
	Bot      int `json:"bot"`
	Agent    int `json:"agent"`
}

// EscalationResponse is returned by POST .../sessions/:id/escalate.
type EscalationResponse struct {
	Session  *SessionResponse `json:"session"`
	AgentID  string           `json:"agent_id,omitempty"`
	Queued   bool             `json:"queued"`
	Attempts int              `json:"attempts"`
}

// MessageResponse is the API view of a message.
type MessageResponse struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	SenderType  models.SenderType `json:"sender_type"`
	SenderID    string            `json:"sender_id,omitempty"`
	MessageType string            `json:"message_type"`
	Content     string            `json:"content"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// AgentReplyResponse is returned by POST .../sessions/:id/replies.
type AgentReplyResponse struct {
	Message   *MessageResponse `json:"message"`
	Delivered bool             `json:"delivered"`
	Warnings  []string         `json:"warnings,omitempty"`
}

func toSessionResponse(s *models.ChatSession) *SessionResponse {
	return &SessionResponse{
		ID:               s.ID,
		OrganizationID:   s.OrganizationID,
		CustomerID:       s.CustomerID,
		State:            s.State(),
		AgentID:          s.AgentID,
		BotPersonalityID: s.BotPersonalityID,
		SessionToken:     s.SessionToken,
		SessionType:      s.SessionType,
		IsResolved:       s.IsResolved,
		Priority:         s.Priority,
		Intent:           s.Intent,
		Sentiment:        s.Sentiment,
		SentimentScore:   s.SentimentScore,
		StartedAt:        s.StartedAt,
		EndedAt:          s.EndedAt,
		LastActivityAt:   s.LastActivityAt,
		FirstResponseAt:  s.FirstResponseAt,
		HandoverAt:       s.HandoverAt,
		HandoverReason:   s.HandoverReason,
		Counters: SessionCounters{
			Total:    s.TotalMessages,
			Customer: s.CustomerMessages,
			Bot:      s.BotMessages,
			Agent:    s.AgentMessages,
		},
		Rating:          s.SatisfactionRating,
		ResolutionType:  s.ResolutionType,
		ResolutionNotes: s.ResolutionNotes,
		Metadata:        s.Metadata,
	}
}

func toMessageResponse(m *models.Message) *MessageResponse {
	return &MessageResponse{
		ID:          m.ID,
		SessionID:   m.SessionID,
		SenderType:  m.SenderType,
		SenderID:    m.SenderID,
		MessageType: m.MessageType,
		Content:     m.Content,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
	}
}
