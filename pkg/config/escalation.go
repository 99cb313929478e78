package config

import (
	"time"

	"github.com/omnidesk/omnidesk/pkg/models"
)

// Built-in escalation thresholds.
const (
	DefaultEscalationTimeoutMinutes = 30
	DefaultMaxFailedResponses       = 3
	DefaultFailedResponseWindow     = 10 * time.Minute
	DefaultMaxHandoverAttempts      = 3
	DefaultSentimentHitThreshold    = 2
	DefaultQueueSweepInterval       = 30 * time.Second
	DefaultQueueSweepBatch          = 50
)

// EscalationConfig controls when a conversation is escalated to a human
// and how a human is picked.
type EscalationConfig struct {
	// TimeoutMinutes escalates sessions older than this many minutes.
	TimeoutMinutes int `yaml:"timeout_minutes" validate:"min=1"`

	// MaxFailedResponses escalates once this many failed bot replies
	// are seen inside FailedResponseWindow.
	MaxFailedResponses int `yaml:"max_failed_responses" validate:"min=1"`

	// FailedResponseWindow bounds how far back failed bot replies count.
	FailedResponseWindow time.Duration `yaml:"failed_response_window"`

	// SentimentHitThreshold is the number of negative keyword hits that
	// fires the sentiment trigger.
	SentimentHitThreshold int `yaml:"sentiment_hit_threshold" validate:"min=1"`

	// ComplexIntents fire the intent trigger.
	ComplexIntents []string `yaml:"complex_intents"`

	// MaxHandoverAttempts bounds re-matching after a capacity race.
	MaxHandoverAttempts int `yaml:"max_handover_attempts" validate:"min=1"`

	// FallbackToAnyAgent retries matching without routing criteria when
	// the priority-specific criteria find nobody.
	FallbackToAnyAgent *bool `yaml:"fallback_to_any_agent,omitempty"`

	// Routing maps a verdict priority to agent matching criteria.
	Routing map[models.Priority]RoutingRule `yaml:"routing,omitempty"`

	// QueueSweepInterval is how often sessions waiting for a human are
	// offered to agents again. Negative disables the sweeper.
	QueueSweepInterval time.Duration `yaml:"queue_sweep_interval,omitempty"`

	// QueueSweepBatch caps the sessions retried per sweep.
	QueueSweepBatch int `yaml:"queue_sweep_batch,omitempty" validate:"min=0"`
}

// RoutingRule narrows agent matching for a priority.
type RoutingRule struct {
	Department     string   `yaml:"department,omitempty"`
	Specialization string   `yaml:"specialization,omitempty"`
	Languages      []string `yaml:"languages,omitempty"`
}

// ShouldFallback reports whether unconstrained matching is allowed.
func (c *EscalationConfig) ShouldFallback() bool {
	return c.FallbackToAnyAgent == nil || *c.FallbackToAnyAgent
}

// RuleFor returns the routing rule for a priority (zero value when unset).
func (c *EscalationConfig) RuleFor(p models.Priority) RoutingRule {
	if c.Routing == nil {
		return RoutingRule{}
	}
	return c.Routing[p]
}

// DefaultEscalationConfig returns the built-in escalation defaults.
func DefaultEscalationConfig() *EscalationConfig {
	return &EscalationConfig{
		TimeoutMinutes:        DefaultEscalationTimeoutMinutes,
		MaxFailedResponses:    DefaultMaxFailedResponses,
		FailedResponseWindow:  DefaultFailedResponseWindow,
		SentimentHitThreshold: DefaultSentimentHitThreshold,
		ComplexIntents: []string{
			"billing_dispute",
			"legal_inquiry",
			"technical_escalation",
			"complaint",
			"refund_request",
		},
		MaxHandoverAttempts: DefaultMaxHandoverAttempts,
		QueueSweepInterval:  DefaultQueueSweepInterval,
		QueueSweepBatch:     DefaultQueueSweepBatch,
	}
}
