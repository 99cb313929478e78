// Package inbound runs one customer message through the conversation core:
// customer upsert, session reuse, classification, escalation, bot reply
// and outbound delivery.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/omnidesk/omnidesk/pkg/classifier"
	"github.com/omnidesk/omnidesk/pkg/clock"
	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/delivery"
	"github.com/omnidesk/omnidesk/pkg/escalation"
	"github.com/omnidesk/omnidesk/pkg/events"
	"github.com/omnidesk/omnidesk/pkg/metrics"
	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/responder"
	"github.com/omnidesk/omnidesk/pkg/services"
)

// Channel metadata keys understood by the pipeline.
const (
	MetaIntent                   = "intent"
	MetaChannelConfigID          = "channel_config_id"
	MetaChannelSession           = "channel_session"
	MetaEscalationTimeoutMinutes = "escalation_timeout_minutes"
	MetaMaxFailedResponses       = "max_failed_responses"
)

const (
	defaultHistoryLimit = 20
	warningSource       = "inbound"
)

// RawMessage is an inbound customer message as received from a channel.
type RawMessage struct {
	OrganizationID   string
	From             string
	Name             string
	Text             string
	ChannelMessageID string
	ChannelMetadata  map[string]any
}

// Result reports what Process did. Steps after the customer message was
// stored never fail the call; their problems are listed in Warnings.
type Result struct {
	SessionID      string                    `json:"session_id"`
	MessageID      string                    `json:"message_id"`
	SessionCreated bool                      `json:"session_created"`
	SessionState   models.SessionState       `json:"session_state"`
	AgentID        string                    `json:"agent_id,omitempty"`
	Escalated      bool                      `json:"escalated"`
	Verdict        *models.EscalationVerdict `json:"verdict,omitempty"`
	ResponseSent   bool                      `json:"response_sent"`
	ResponseText   string                    `json:"response_text,omitempty"`
	Warnings       []string                  `json:"warnings,omitempty"`
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Dependencies are the collaborators of a Pipeline.
type Dependencies struct {
	Customers  *services.CustomerService
	Sessions   *services.SessionService
	Messages   *services.MessageService
	Classifier *classifier.Classifier
	Engine     *escalation.Engine
	Responder  responder.Responder             // nil disables bot replies
	Sender     delivery.Sender                 // nil disables outbound delivery
	Warnings   *services.SystemWarningsService // nil-safe
	Events     events.Publisher                // nil discards events
	Metrics    *metrics.Metrics                // nil disables metrics
	Clock      clock.Clock                     // nil uses the system clock
}

// Pipeline processes inbound customer messages.
type Pipeline struct {
	d             Dependencies
	timeout       time.Duration
	minConfidence float64
	historyLimit  int
}

// NewPipeline creates a Pipeline. cfg bounds the responder call; nil uses
// the built-in responder defaults.
func NewPipeline(d Dependencies, cfg *config.ResponderConfig) *Pipeline {
	if cfg == nil {
		cfg = config.DefaultResponderConfig()
	}
	if d.Sender == nil {
		d.Sender = delivery.Disabled{}
	}
	if d.Events == nil {
		d.Events = events.NopPublisher{}
	}
	if d.Clock == nil {
		d.Clock = clock.System
	}
	return &Pipeline{
		d:             d,
		timeout:       cfg.Timeout,
		minConfidence: cfg.MinConfidence,
		historyLimit:  defaultHistoryLimit,
	}
}

// Process runs msg through the pipeline.
//
// Validation, customer upsert, session resolution and storing the customer
// message abort on error. Escalation, the bot reply and delivery degrade
// to warnings on the Result.
func (p *Pipeline) Process(ctx context.Context, msg RawMessage) (*Result, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, services.NewValidationError("text", "required")
	}

	customer, err := p.d.Customers.Upsert(ctx, msg.OrganizationID, msg.From, msg.Name)
	if err != nil {
		return nil, err
	}

	sess, created, err := p.d.Sessions.Create(ctx, customer, services.ChannelContext{
		ChannelConfigID: stringMeta(msg.ChannelMetadata, MetaChannelConfigID),
		Metadata:        sessionMetadata(msg.ChannelMetadata),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	cls := p.d.Classifier.Classify(text)
	intent := stringMeta(msg.ChannelMetadata, MetaIntent)
	if intent == "" {
		intent = p.d.Classifier.IntentOf(text)
	}
	stored, sess, err := p.d.Messages.RecordCustomerMessage(ctx, sess.ID, services.CustomerMessage{
		Text:             text,
		Sentiment:        cls.Sentiment,
		SentimentScore:   cls.Score,
		Intent:           intent,
		ChannelMessageID: msg.ChannelMessageID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store customer message: %w", err)
	}

	res := &Result{
		SessionID:      sess.ID,
		MessageID:      stored.ID,
		SessionCreated: created,
		SessionState:   sess.State(),
		AgentID:        sess.AssignedAgent(),
	}
	log := slog.With("session_id", sess.ID, "organization_id", sess.OrganizationID)

	switch sess.State() {
	case models.StatePendingHuman:
		p.retryAssignment(ctx, customer, sess, res, log)
		return res, nil
	case models.StateAgentOwned:
		log.Debug("Session is agent-owned, skipping bot", "agent_id", sess.AssignedAgent())
		p.d.Metrics.InboundProcessed(metrics.InboundAgentOwned)
		return res, nil
	case models.StateBotOwned:
	default:
		// Ended between resolution and append; nothing more to do.
		return res, nil
	}

	verdict := p.evaluate(ctx, sess, text, intent, msg.ChannelMetadata, res, log)
	res.Verdict = &verdict
	if verdict.ShouldEscalate {
		p.escalate(ctx, customer, sess, verdict, res, log)
		return res, nil
	}

	p.reply(ctx, customer, sess, text, intent, cls.Sentiment, res, log)
	return res, nil
}

func (p *Pipeline) evaluate(
	ctx context.Context,
	sess *models.ChatSession,
	text, intent string,
	meta map[string]any,
	res *Result,
	log *slog.Logger,
) models.EscalationVerdict {
	now := p.d.Clock.Now()
	recent, err := p.d.Messages.Since(ctx, sess.ID, now.Add(-p.d.Engine.FailedWindow()))
	if err != nil {
		log.Warn("Failed to load recent messages for escalation", "error", err)
		res.warn("recent messages unavailable: %v", err)
	}
	return p.d.Engine.Evaluate(escalation.Input{
		Session: sess,
		Message: escalation.Message{Text: text, Intent: intent},
		Context: escalation.Context{
			EscalationTimeoutMinutes: intMeta(meta, MetaEscalationTimeoutMinutes),
			MaxFailedResponses:       intMeta(meta, MetaMaxFailedResponses),
		},
		RecentMessages: recent,
		Now:            now,
	})
}

func (p *Pipeline) escalate(ctx context.Context, customer *models.Customer, sess *models.ChatSession, v models.EscalationVerdict, res *Result, log *slog.Logger) {
	out, err := p.d.Sessions.Escalate(ctx, sess.ID, v)
	if err != nil {
		log.Error("Escalation failed", "triggers", v.TriggerNames(), "error", err)
		res.warn("escalation failed: %v", err)
		return
	}
	res.Escalated = true
	res.SessionState = out.Session.State()
	res.AgentID = out.Session.AssignedAgent()
	p.d.Metrics.InboundProcessed(metrics.InboundEscalated)
	p.notify(ctx, customer, out, res, log)
}

func (p *Pipeline) retryAssignment(ctx context.Context, customer *models.Customer, sess *models.ChatSession, res *Result, log *slog.Logger) {
	out, err := p.d.Sessions.RetryAssignment(ctx, sess.ID)
	if err != nil {
		log.Warn("Retrying assignment of queued session failed", "error", err)
		res.warn("assignment retry failed: %v", err)
		p.d.Metrics.InboundProcessed(metrics.InboundQueued)
		return
	}
	res.SessionState = out.Session.State()
	res.AgentID = out.Session.AssignedAgent()
	p.notify(ctx, customer, out, res, log)
	if out.Agent != nil {
		p.d.Metrics.InboundProcessed(metrics.InboundEscalated)
		return
	}
	p.d.Metrics.InboundProcessed(metrics.InboundQueued)
}

// notify sends the handover or queued notice of an escalation outcome to
// the customer.
func (p *Pipeline) notify(ctx context.Context, customer *models.Customer, out *services.EscalationOutcome, res *Result, log *slog.Logger) {
	if out.Notice == nil {
		return
	}
	res.ResponseText = out.Notice.Content
	res.ResponseSent = p.deliver(ctx, customer, out.Session, out.Notice.Content, res, log)
}

// RetryAssignment offers a queued session to the agents again and tells
// the customer when one takes it. It serves as the sweeper's assigner.
func (p *Pipeline) RetryAssignment(ctx context.Context, sessionID string) (*services.EscalationOutcome, error) {
	out, err := p.d.Sessions.RetryAssignment(ctx, sessionID)
	if err != nil || out.Notice == nil {
		return out, err
	}
	sess := out.Session
	log := slog.With("session_id", sess.ID, "organization_id", sess.OrganizationID)
	customer, err := p.d.Customers.Get(ctx, sess.OrganizationID, sess.CustomerID)
	if err != nil {
		log.Warn("Failed to load customer for assignment notice", "error", err)
		return out, nil
	}
	p.notify(ctx, customer, out, &Result{}, log)
	return out, nil
}

func (p *Pipeline) reply(
	ctx context.Context,
	customer *models.Customer,
	sess *models.ChatSession,
	text, intent string,
	sentiment models.Sentiment,
	res *Result,
	log *slog.Logger,
) {
	if p.d.Responder == nil {
		p.d.Metrics.InboundProcessed(metrics.InboundNoReply)
		return
	}
	botID := ""
	if sess.BotPersonalityID != nil {
		botID = *sess.BotPersonalityID
	}

	req := responder.Request{
		OrganizationID: sess.OrganizationID,
		SessionID:      sess.ID,
		CustomerID:     sess.CustomerID,
		BotID:          botID,
		Message:        text,
		Intent:         intent,
		Sentiment:      string(sentiment),
		History:        p.history(ctx, sess.ID, log),
	}

	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	start := time.Now()
	reply, err := p.d.Responder.Generate(callCtx, req)
	if err != nil {
		p.d.Metrics.ObserveResponder(metrics.ResponderError, time.Since(start))
		p.botFailure(ctx, sess, botID, err, res, log)
		return
	}
	p.d.Warnings.Clear(services.WarningCategoryResponder, warningSource)

	failed := reply.Failed || reply.Confidence < p.minConfidence
	result := metrics.ResponderOK
	if failed {
		result = metrics.ResponderFailed
	}
	p.d.Metrics.ObserveResponder(result, time.Since(start))

	_, _, err = p.d.Messages.RecordBotReply(ctx, sess.ID, services.BotReply{
		BotID:      botID,
		Text:       reply.Text,
		Confidence: reply.Confidence,
		Failed:     failed,
	})
	if err != nil {
		// Usually an operator took the session over while the bot was thinking.
		log.Warn("Failed to store bot reply", "error", err)
		res.warn("bot reply not stored: %v", err)
		return
	}
	if failed {
		log.Info("Bot reply flagged as failed, not delivering",
			"confidence", reply.Confidence,
			"min_confidence", p.minConfidence)
		p.d.Metrics.InboundProcessed(metrics.InboundBotFailure)
		return
	}

	p.d.Metrics.InboundProcessed(metrics.InboundBotReply)
	res.ResponseText = reply.Text
	res.ResponseSent = p.deliver(ctx, customer, sess, reply.Text, res, log)
}

func (p *Pipeline) botFailure(ctx context.Context, sess *models.ChatSession, botID string, cause error, res *Result, log *slog.Logger) {
	log.Warn("Bot responder call failed", "error", cause)
	res.warn("bot responder failed: %v", cause)
	p.d.Warnings.AddWarning(services.WarningCategoryResponder,
		"Bot responder call failed", cause.Error(), warningSource)
	p.d.Metrics.InboundProcessed(metrics.InboundBotFailure)

	if _, _, err := p.d.Messages.RecordBotFailure(ctx, sess.ID, botID, cause); err != nil {
		log.Warn("Failed to record bot failure", "error", err)
		res.warn("bot failure not recorded: %v", err)
	}
}

// history returns the latest turns of the session, oldest first, without
// failure records.
func (p *Pipeline) history(ctx context.Context, sessionID string, log *slog.Logger) []responder.Turn {
	msgs, err := p.d.Messages.List(ctx, sessionID, p.historyLimit)
	if err != nil {
		log.Warn("Failed to load conversation history", "error", err)
		return nil
	}
	turns := make([]responder.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.MessageType == models.MessageTypeBotFailure || m.Content == "" {
			continue
		}
		turns = append(turns, responder.Turn{Role: string(m.SenderType), Content: m.Content})
	}
	return turns
}

// deliver sends text to the customer. Failures are reported, not returned.
func (p *Pipeline) deliver(ctx context.Context, customer *models.Customer, sess *models.ChatSession, text string, res *Result, log *slog.Logger) bool {
	_, err := p.d.Sender.Send(ctx, delivery.OutboundMessage{
		OrganizationID: sess.OrganizationID,
		SessionID:      sess.ID,
		To:             customer.Phone,
		Text:           text,
		Channel:        stringMeta(sess.Metadata, MetaChannelSession),
	})
	if err == nil {
		p.d.Warnings.Clear(services.WarningCategoryDelivery, warningSource)
		return true
	}
	if errors.Is(err, delivery.ErrDisabled) {
		log.Debug("Outbound delivery disabled, reply not sent")
		return false
	}

	log.Warn("Outbound delivery failed", "error", err)
	res.warn("delivery failed: %v", err)
	p.d.Metrics.DeliveryFailed()
	p.d.Warnings.AddWarning(services.WarningCategoryDelivery,
		"Outbound delivery failed", err.Error(), warningSource)
	evt := events.NewEvent(events.EventTypeDeliveryFailed, sess.OrganizationID, sess.ID, map[string]any{
		"error": err.Error(),
	})
	if perr := p.d.Events.Publish(ctx, evt); perr != nil {
		log.Warn("Failed to publish event", "type", evt.Type, "error", perr)
		p.d.Metrics.EventPublishFailed(evt.Type)
	}
	return false
}

// sessionMetadata keeps the channel fields worth remembering on the session.
func sessionMetadata(meta map[string]any) map[string]any {
	out := map[string]any{}
	if v := stringMeta(meta, MetaChannelSession); v != "" {
		out[MetaChannelSession] = v
	}
	return out
}

func stringMeta(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return strings.TrimSpace(s)
}

// intMeta reads a positive integer from channel metadata; JSON numbers
// arrive as float64 or json.Number. Anything else yields 0.
func intMeta(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
