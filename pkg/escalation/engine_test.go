package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/pkg/classifier"
	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/models"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	cfg := config.Default()
	return NewEngine(classifier.FromConfig(cfg), cfg.Escalation)
}

func sessionStarted(ago time.Duration) *models.ChatSession {
	return &models.ChatSession{
		ID:           "s1",
		IsActive:     true,
		IsBotSession: true,
		StartedAt:    now.Add(-ago),
	}
}

func failedBot(sessionID string, ago time.Duration) *models.Message {
	return &models.Message{
		SessionID:  sessionID,
		SenderType: models.SenderBot,
		Metadata:   map[string]any{models.MetaFailed: true},
		CreatedAt:  now.Add(-ago),
	}
}

func TestEvaluate_RefundLegalScenario(t *testing.T) {
	e := newTestEngine()

	v := e.Evaluate(Input{
		Session: sessionStarted(time.Minute),
		Message: Message{Text: "I want a refund, this is a legal issue", Intent: "refund_request"},
		Now:     now,
	})

	assert.True(t, v.ShouldEscalate)
	assert.Equal(t, models.PriorityHigh, v.Priority)
	assert.Equal(t, []models.EscalationTrigger{models.TriggerKeyword, models.TriggerIntent}, v.Triggers)
	assert.Equal(t, ReasonIntent, v.Reason, "reason is the last trigger that fired")
	assert.Equal(t, []string{ReasonKeyword, ReasonIntent}, v.Reasons)
}

func TestEvaluate_TimeoutOnly(t *testing.T) {
	e := newTestEngine()

	v := e.Evaluate(Input{
		Session: sessionStarted(45 * time.Minute),
		Message: Message{Text: "hello again"},
		Context: Context{EscalationTimeoutMinutes: 30},
		Now:     now,
	})

	assert.True(t, v.ShouldEscalate)
	assert.Equal(t, models.PriorityNormal, v.Priority)
	assert.Equal(t, []models.EscalationTrigger{models.TriggerTime}, v.Triggers)
	assert.Equal(t, ReasonTime, v.Reason)
}

func TestEvaluate_KeywordOutranksTime(t *testing.T) {
	e := newTestEngine()

	v := e.Evaluate(Input{
		Session: sessionStarted(2 * time.Hour),
		Message: Message{Text: "let me talk to your manager"},
		Now:     now,
	})

	assert.Equal(t, models.PriorityHigh, v.Priority)
	assert.True(t, v.Has(models.TriggerKeyword))
	assert.True(t, v.Has(models.TriggerTime))
	assert.Equal(t, ReasonTime, v.Reason)
}

func TestEvaluate_Sentiment(t *testing.T) {
	e := newTestEngine()

	v := e.Evaluate(Input{
		Session: sessionStarted(time.Minute),
		Message: Message{Text: "This is terrible, I'm so frustrated"},
		Now:     now,
	})
	assert.Equal(t, []models.EscalationTrigger{models.TriggerSentiment}, v.Triggers)
	assert.Equal(t, models.PriorityHigh, v.Priority)

	single := e.Evaluate(Input{
		Session: sessionStarted(time.Minute),
		Message: Message{Text: "This is terrible"},
		Now:     now,
	})
	assert.False(t, single.ShouldEscalate, "one negative hit is below the threshold")
}

func TestEvaluate_IntentOnly(t *testing.T) {
	e := newTestEngine()

	v := e.Evaluate(Input{
		Session: sessionStarted(time.Minute),
		Message: Message{Text: "question about my plan", Intent: "billing_dispute"},
		Now:     now,
	})
	assert.Equal(t, []models.EscalationTrigger{models.TriggerIntent}, v.Triggers)
	assert.Equal(t, models.PriorityMedium, v.Priority)
	assert.Equal(t, ReasonIntent, v.Reason)
}

func TestEvaluate_IntentDerivedFromText(t *testing.T) {
	e := newTestEngine()

	v := e.Evaluate(Input{
		Session: sessionStarted(time.Minute),
		Message: Message{Text: "I was charged twice this month"},
		Now:     now,
	})
	assert.Equal(t, []models.EscalationTrigger{models.TriggerIntent}, v.Triggers)
}

func TestEvaluate_FailedResponses(t *testing.T) {
	e := newTestEngine()
	s := sessionStarted(5 * time.Minute)

	recent := []*models.Message{
		failedBot("s1", time.Minute),
		failedBot("s1", 2*time.Minute),
		failedBot("s1", 11*time.Minute), // outside window
		failedBot("other", time.Minute), // other session
		{SessionID: "s1", SenderType: models.SenderCustomer, Metadata: map[string]any{models.MetaFailed: true}, CreatedAt: now},
		{SessionID: "s1", SenderType: models.SenderBot, CreatedAt: now},
	}
	v := e.Evaluate(Input{Session: s, Message: Message{Text: "ok"}, RecentMessages: recent, Now: now})
	assert.False(t, v.ShouldEscalate, "only two failures count")

	recent = append(recent, failedBot("s1", 3*time.Minute))
	v = e.Evaluate(Input{Session: s, Message: Message{Text: "ok"}, RecentMessages: recent, Now: now})
	assert.Equal(t, []models.EscalationTrigger{models.TriggerFailedResponses}, v.Triggers)
	assert.Equal(t, models.PriorityNormal, v.Priority)
	assert.Equal(t, ReasonFailedResponses, v.Reason)

	v = e.Evaluate(Input{Session: s, Message: Message{Text: "ok"}, RecentMessages: recent, Context: Context{MaxFailedResponses: 5}, Now: now})
	assert.False(t, v.ShouldEscalate)
}

func TestEvaluate_ContextFallsBackToDefaults(t *testing.T) {
	e := newTestEngine()

	v := e.Evaluate(Input{
		Session: sessionStarted(31 * time.Minute),
		Message: Message{Text: "hi"},
		Context: Context{EscalationTimeoutMinutes: -5, MaxFailedResponses: 0},
		Now:     now,
	})
	assert.Equal(t, []models.EscalationTrigger{models.TriggerTime}, v.Triggers)

	v = e.Evaluate(Input{
		Session: sessionStarted(45 * time.Minute),
		Message: Message{Text: "hi"},
		Context: Context{EscalationTimeoutMinutes: 60},
		Now:     now,
	})
	assert.False(t, v.ShouldEscalate)
}

func TestEvaluate_NoTriggers(t *testing.T) {
	e := newTestEngine()

	v := e.Evaluate(Input{Session: sessionStarted(time.Minute), Message: Message{Text: "what are your opening hours"}, Now: now})
	assert.False(t, v.ShouldEscalate)
	assert.Empty(t, v.Triggers)
	assert.Empty(t, v.Reason)
	assert.Equal(t, models.PriorityNormal, v.Priority)
}

func TestEvaluate_DoesNotMutateSession(t *testing.T) {
	e := newTestEngine()
	s := sessionStarted(3 * time.Hour)
	s.Metadata = map[string]any{"k": "v"}
	before := s.Clone()

	_ = e.Evaluate(Input{Session: s, Message: Message{Text: "refund now, I'm angry and frustrated"}, Now: now})

	assert.Equal(t, before, s)
}

func TestEvaluate_NilSessionAndEmptyInput(t *testing.T) {
	e := newTestEngine()

	require.NotPanics(t, func() {
		v := e.Evaluate(Input{})
		assert.False(t, v.ShouldEscalate)
	})
}

func TestManual(t *testing.T) {
	v := Manual("", "bogus")
	assert.True(t, v.ShouldEscalate)
	assert.Equal(t, models.PriorityNormal, v.Priority)
	assert.Equal(t, []models.EscalationTrigger{models.TriggerManual}, v.Triggers)
	assert.NotEmpty(t, v.Reason)

	v = Manual("VIP customer", models.PriorityHigh)
	assert.Equal(t, "VIP customer", v.Reason)
	assert.Equal(t, models.PriorityHigh, v.Priority)
}
