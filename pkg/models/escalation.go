package models

import "slices"

// EscalationTrigger names one of the independent escalation signals
type EscalationTrigger string

const (
	TriggerKeyword         EscalationTrigger = "keyword"
	TriggerSentiment       EscalationTrigger = "sentiment"
	TriggerTime            EscalationTrigger = "time"
	TriggerIntent          EscalationTrigger = "intent"
	TriggerFailedResponses EscalationTrigger = "failed_responses"
	// TriggerManual is recorded for operator-initiated escalations.
	TriggerManual EscalationTrigger = "manual"
)

// EscalationVerdict is the transient outcome of evaluating one message.
type EscalationVerdict struct {
	Triggers []EscalationTrigger `json:"triggers"`
	// Reason is the reason of the last trigger evaluated that fired.
	Reason string `json:"reason"`
	// Reasons lists every fired trigger's reason in evaluation order.
	Reasons        []string `json:"reasons,omitempty"`
	Priority       Priority `json:"priority"`
	ShouldEscalate bool     `json:"should_escalate"`
}

// Has reports whether the verdict includes trigger t.
func (v EscalationVerdict) Has(t EscalationTrigger) bool {
	return slices.Contains(v.Triggers, t)
}

// TriggerNames returns the triggers as plain strings (for logs and metrics).
func (v EscalationVerdict) TriggerNames() []string {
	out := make([]string, len(v.Triggers))
	for i, t := range v.Triggers {
		out[i] = string(t)
	}
	return out
}
