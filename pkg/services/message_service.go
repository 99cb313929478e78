package services

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/pkg/events"
	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/store"
)

// NewMessage describes a message to append to a session.
type NewMessage struct {
	SenderType  models.SenderType
	SenderID    string
	MessageType string // defaults to models.MessageTypeText
	Content     string
	Metadata    map[string]any
}

// CustomerMessage is an inbound customer message with its classification.
type CustomerMessage struct {
	Text             string
	Sentiment        models.Sentiment
	SentimentScore   float64
	Intent           string
	ChannelMessageID string
}

// BotReply is a responder answer to persist.
type BotReply struct {
	BotID      string
	Text       string
	Confidence float64
	Failed     bool
}

// MessageService appends messages to sessions and keeps the session
// counters in step.
type MessageService struct {
	deps Deps
}

// NewMessageService creates a new MessageService
func NewMessageService(deps Deps) *MessageService {
	return &MessageService{deps: deps.withDefaults()}
}

// RecordCustomerMessage stores an inbound message and copies its
// classification onto the session.
func (s *MessageService) RecordCustomerMessage(ctx context.Context, sessionID string, cm CustomerMessage) (*models.Message, *models.ChatSession, error) {
	if strings.TrimSpace(cm.Text) == "" {
		return nil, nil, NewValidationError("text", "required")
	}
	meta := map[string]any{
		models.MetaSentiment:      string(cm.Sentiment),
		models.MetaSentimentScore: cm.SentimentScore,
	}
	if cm.Intent != "" {
		meta[models.MetaIntent] = cm.Intent
	}
	if cm.ChannelMessageID != "" {
		meta[models.MetaChannelMessage] = cm.ChannelMessageID
	}

	return s.Append(ctx, sessionID, NewMessage{
		SenderType: models.SenderCustomer,
		Content:    cm.Text,
		Metadata:   meta,
	}, func(sess *models.ChatSession, _ time.Time) error {
		if cm.Sentiment != "" {
			sess.Sentiment = cm.Sentiment
			sess.SentimentScore = cm.SentimentScore
		}
		if cm.Intent != "" {
			sess.Intent = cm.Intent
		}
		return nil
	})
}

// RecordBotReply stores a responder answer. Low-confidence answers are
// stored with failed=true so the failed-responses trigger can see them.
func (s *MessageService) RecordBotReply(ctx context.Context, sessionID string, r BotReply) (*models.Message, *models.ChatSession, error) {
	return s.Append(ctx, sessionID, NewMessage{
		SenderType: models.SenderBot,
		SenderID:   r.BotID,
		Content:    r.Text,
		Metadata: map[string]any{
			models.MetaConfidence: r.Confidence,
			models.MetaFailed:     r.Failed,
		},
	}, requireBotOwned)
}

// RecordBotFailure stores a non-delivered failure record for a responder
// error or timeout.
func (s *MessageService) RecordBotFailure(ctx context.Context, sessionID, botID string, cause error) (*models.Message, *models.ChatSession, error) {
	meta := map[string]any{models.MetaFailed: true}
	if cause != nil {
		meta[models.MetaError] = cause.Error()
	}
	return s.Append(ctx, sessionID, NewMessage{
		SenderType:  models.SenderBot,
		SenderID:    botID,
		MessageType: models.MessageTypeBotFailure,
		Metadata:    meta,
	}, requireBotOwned)
}

// RecordAgentReply stores a reply from the assigned agent. The first agent
// reply sets first_response_at.
func (s *MessageService) RecordAgentReply(ctx context.Context, sessionID, agentID, text string) (*models.Message, *models.ChatSession, error) {
	if agentID == "" {
		return nil, nil, NewValidationError("agent_id", "required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil, NewValidationError("text", "required")
	}
	return s.Append(ctx, sessionID, NewMessage{
		SenderType: models.SenderAgent,
		SenderID:   agentID,
		Content:    text,
	}, func(sess *models.ChatSession, now time.Time) error {
		if sess.State() != models.StateAgentOwned {
			return fmt.Errorf("%w: session is %s", ErrInvalidTransition, sess.State())
		}
		if sess.AssignedAgent() != agentID {
			return NewValidationError("agent_id", "session is assigned to another agent")
		}
		if sess.FirstResponseAt == nil {
			sess.FirstResponseAt = &now
		}
		return nil
	})
}

// Append locks the session, runs mutate (may be nil), appends the message
// and saves the session in one transaction.
func (s *MessageService) Append(
	ctx context.Context,
	sessionID string,
	nm NewMessage,
	mutate func(sess *models.ChatSession, now time.Time) error,
) (*models.Message, *models.ChatSession, error) {
	if sessionID == "" {
		return nil, nil, NewValidationError("session_id", "required")
	}
	if !nm.SenderType.IsValid() {
		return nil, nil, NewValidationError("sender_type", fmt.Sprintf("unknown sender %q", nm.SenderType))
	}

	var (
		msg  *models.Message
		sess *models.ChatSession
	)
	err := s.deps.Store.InTx(ctx, func(q store.Queries) error {
		cur, err := q.GetSession(ctx, sessionID, true)
		if err != nil {
			return translate(err, "session "+sessionID)
		}
		if !cur.IsActive {
			return fmt.Errorf("%w: session %s has ended", ErrInvalidTransition, sessionID)
		}
		now := s.deps.Clock.Now()
		if mutate != nil {
			if err := mutate(cur, now); err != nil {
				return err
			}
		}
		m, err := appendMessage(ctx, q, cur, nm, now)
		if err != nil {
			return err
		}
		if err := q.UpdateSession(ctx, cur); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		msg, sess = m, cur
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.deps.publish(ctx, events.EventTypeMessageCreated, sess.OrganizationID, sess.ID, map[string]any{
		"message_id":   msg.ID,
		"sender_type":  string(msg.SenderType),
		"message_type": msg.MessageType,
	})
	return msg, sess, nil
}

// List returns the latest limit messages of a session, oldest first.
// limit <= 0 returns all messages.
func (s *MessageService) List(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	msgs, err := s.deps.Store.ListMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// Since returns messages of a session created at or after since.
func (s *MessageService) Since(ctx context.Context, sessionID string, since time.Time) ([]*models.Message, error) {
	msgs, err := s.deps.Store.MessagesSince(ctx, sessionID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent messages: %w", err)
	}
	return msgs, nil
}

func requireBotOwned(sess *models.ChatSession, _ time.Time) error {
	if sess.State() != models.StateBotOwned {
		return fmt.Errorf("%w: session is %s, bot can no longer reply", ErrInvalidTransition, sess.State())
	}
	return nil
}

// appendMessage persists a message for sess and applies the counter delta.
// The caller holds the session row lock and saves sess afterwards.
func appendMessage(ctx context.Context, q store.Queries, sess *models.ChatSession, nm NewMessage, now time.Time) (*models.Message, error) {
	msgType := nm.MessageType
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	meta := maps.Clone(nm.Metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	m := &models.Message{
		ID:             uuid.New().String(),
		OrganizationID: sess.OrganizationID,
		SessionID:      sess.ID,
		SenderType:     nm.SenderType,
		SenderID:       nm.SenderID,
		MessageType:    msgType,
		Content:        nm.Content,
		Metadata:       meta,
		CreatedAt:      now,
	}
	if err := q.CreateMessage(ctx, m); err != nil {
		return nil, translate(err, "message")
	}
	models.DeltaFor(nm.SenderType).Apply(sess)
	sess.LastActivityAt = now
	sess.UpdatedAt = now
	return m, nil
}
