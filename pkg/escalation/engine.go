// Package escalation decides whether an inbound message should move a
// conversation from the bot to a human agent.
package escalation

import (
	"time"

	"github.com/omnidesk/omnidesk/pkg/classifier"
	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/models"
)

// Reasons recorded on a verdict, one per trigger.
const (
	ReasonKeyword         = "Customer requested human assistance"
	ReasonSentiment       = "Negative sentiment detected"
	ReasonTime            = "Session timeout reached"
	ReasonIntent          = "Complex intent detected"
	ReasonFailedResponses = "Multiple failed bot responses"
)

// Message is the inbound text being evaluated.
type Message struct {
	Text string
	// Intent is the classified intent; computed from Text when empty.
	Intent string
}

// Context carries per-call threshold overrides. Zero or negative values
// fall back to the engine defaults.
type Context struct {
	EscalationTimeoutMinutes int
	MaxFailedResponses       int
}

// Input is everything Evaluate looks at.
type Input struct {
	Session *models.ChatSession
	Message Message
	Context Context
	// RecentMessages are the session's latest messages; only failed bot
	// replies inside the failure window are counted.
	RecentMessages []*models.Message
	// Now is the evaluation instant. Zero means time.Now().
	Now time.Time
}

// Engine evaluates the five escalation triggers.
type Engine struct {
	classifier         *classifier.Classifier
	complexIntents     map[string]bool
	sentimentThreshold int
	failedWindow       time.Duration
	defaults           Context
}

// NewEngine creates an Engine using cls for keyword matching and cfg for thresholds.
func NewEngine(cls *classifier.Classifier, cfg *config.EscalationConfig) *Engine {
	if cfg == nil {
		cfg = config.DefaultEscalationConfig()
	}
	e := &Engine{
		classifier:         cls,
		complexIntents:     make(map[string]bool, len(cfg.ComplexIntents)),
		sentimentThreshold: positiveOr(cfg.SentimentHitThreshold, config.DefaultSentimentHitThreshold),
		failedWindow:       cfg.FailedResponseWindow,
		defaults: Context{
			EscalationTimeoutMinutes: positiveOr(cfg.TimeoutMinutes, config.DefaultEscalationTimeoutMinutes),
			MaxFailedResponses:       positiveOr(cfg.MaxFailedResponses, config.DefaultMaxFailedResponses),
		},
	}
	if e.failedWindow <= 0 {
		e.failedWindow = config.DefaultFailedResponseWindow
	}
	for _, intent := range cfg.ComplexIntents {
		e.complexIntents[intent] = true
	}
	return e
}

// Evaluate runs every trigger without short-circuiting and returns the verdict.
// It never mutates the session.
//
// Reason holds the reason of the last trigger that fired, in evaluation
// order keyword, sentiment, time, intent, failed_responses. Reasons holds all of them.
func (e *Engine) Evaluate(in Input) models.EscalationVerdict {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	timeout := positiveOr(in.Context.EscalationTimeoutMinutes, e.defaults.EscalationTimeoutMinutes)
	maxFailed := positiveOr(in.Context.MaxFailedResponses, e.defaults.MaxFailedResponses)

	intent := in.Message.Intent
	if intent == "" {
		intent = e.classifier.IntentOf(in.Message.Text)
	}

	v := models.EscalationVerdict{Priority: models.PriorityNormal}
	fire := func(t models.EscalationTrigger, reason string) {
		v.Triggers = append(v.Triggers, t)
		v.Reasons = append(v.Reasons, reason)
		v.Reason = reason
	}

	if len(e.classifier.EscalationKeywords(in.Message.Text)) > 0 {
		fire(models.TriggerKeyword, ReasonKeyword)
	}
	if e.classifier.NegativeHits(in.Message.Text) >= e.sentimentThreshold {
		fire(models.TriggerSentiment, ReasonSentiment)
	}
	if in.Session != nil && !in.Session.StartedAt.IsZero() &&
		now.Sub(in.Session.StartedAt) >= time.Duration(timeout)*time.Minute {
		fire(models.TriggerTime, ReasonTime)
	}
	if e.complexIntents[intent] {
		fire(models.TriggerIntent, ReasonIntent)
	}
	if e.countFailed(in, now) >= maxFailed {
		fire(models.TriggerFailedResponses, ReasonFailedResponses)
	}

	v.ShouldEscalate = len(v.Triggers) > 0
	switch {
	case v.Has(models.TriggerKeyword) || v.Has(models.TriggerSentiment):
		v.Priority = models.PriorityHigh
	case v.Has(models.TriggerIntent):
		v.Priority = models.PriorityMedium
	}
	return v
}

// FailedWindow returns how far back failed bot replies are counted.
func (e *Engine) FailedWindow() time.Duration {
	return e.failedWindow
}

func (e *Engine) countFailed(in Input, now time.Time) int {
	since := now.Add(-e.failedWindow)
	n := 0
	for _, m := range in.RecentMessages {
		if m == nil || m.SenderType != models.SenderBot || !m.IsFailed() {
			continue
		}
		if in.Session != nil && m.SessionID != "" && m.SessionID != in.Session.ID {
			continue
		}
		if m.CreatedAt.Before(since) {
			continue
		}
		n++
	}
	return n
}

// Manual builds the verdict for an operator-initiated escalation.
func Manual(reason string, priority models.Priority) models.EscalationVerdict {
	if !priority.IsValid() {
		priority = models.PriorityNormal
	}
	if reason == "" {
		reason = "Manual escalation"
	}
	return models.EscalationVerdict{
		Triggers:       []models.EscalationTrigger{models.TriggerManual},
		Reason:         reason,
		Reasons:        []string{reason},
		Priority:       priority,
		ShouldEscalate: true,
	}
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
