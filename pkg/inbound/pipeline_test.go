package inbound

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/pkg/classifier"
	"github.com/omnidesk/omnidesk/pkg/clock"
	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/delivery"
	"github.com/omnidesk/omnidesk/pkg/escalation"
	"github.com/omnidesk/omnidesk/pkg/events"
	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/responder"
	"github.com/omnidesk/omnidesk/pkg/services"
	"github.com/omnidesk/omnidesk/pkg/store/memstore"
	"github.com/omnidesk/omnidesk/pkg/store/storetest"
)

const (
	testOrg   = "org-1"
	testPhone = "15551234567"
)

type responderFunc func(ctx context.Context, req responder.Request) (*responder.Reply, error)

type fakeResponder struct {
	mu    sync.Mutex
	calls []responder.Request
	fn    responderFunc
}

func (f *fakeResponder) Generate(ctx context.Context, req responder.Request) (*responder.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSender struct {
	mu   sync.Mutex
	sent []delivery.OutboundMessage
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg delivery.OutboundMessage) (*delivery.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	return &delivery.Receipt{ChannelMessageID: "wamid-1"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) has(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	store     *memstore.Store
	pipeline  *Pipeline
	sessions  *services.SessionService
	messages  *services.MessageService
	responder *fakeResponder
	sender    *fakeSender
	events    *recordingPublisher
	warnings  *services.SystemWarningsService
}

func newHarness(t *testing.T, cfg *config.ResponderConfig) *harness {
	t.Helper()
	ctx := context.Background()
	st := memstore.New()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	clk := clock.NewMonotonic(clock.Func(func() time.Time { return now }))

	h := &harness{
		t:     t,
		ctx:   ctx,
		store: st,
		responder: &fakeResponder{fn: func(context.Context, responder.Request) (*responder.Reply, error) {
			return &responder.Reply{Text: "We are open from 9 to 5.", Confidence: 0.9}, nil
		}},
		sender:   &fakeSender{},
		events:   &recordingPublisher{},
		warnings: services.NewSystemWarningsService(),
	}
	deps := services.Deps{Store: st, Events: h.events, Clock: clk}
	h.sessions = services.NewSessionService(deps, nil, nil)
	h.messages = services.NewMessageService(deps)

	cfgAll := config.Default()
	cls := classifier.FromConfig(cfgAll)
	h.pipeline = NewPipeline(Dependencies{
		Customers:  services.NewCustomerService(deps),
		Sessions:   h.sessions,
		Messages:   h.messages,
		Classifier: cls,
		Engine:     escalation.NewEngine(cls, cfgAll.Escalation),
		Responder:  h.responder,
		Sender:     h.sender,
		Warnings:   h.warnings,
		Events:     h.events,
		Clock:      clk,
	}, cfg)

	require.NoError(t, st.CreateBotPersonality(ctx, &models.BotPersonality{
		ID: "bot-1", OrganizationID: testOrg, Name: "Helper", IsActive: true, IsDefault: true, CreatedAt: now,
	}))
	return h
}

func (h *harness) addAgent(id string) {
	h.t.Helper()
	require.NoError(h.t, h.store.CreateAgent(h.ctx, storetest.NewAgent(testOrg, id, 0, 2)))
}

func (h *harness) process(text string, meta map[string]any) *Result {
	h.t.Helper()
	res, err := h.pipeline.Process(h.ctx, RawMessage{
		OrganizationID:  testOrg,
		From:            testPhone + "@c.us",
		Text:            text,
		ChannelMetadata: meta,
	})
	require.NoError(h.t, err)
	return res
}

func (h *harness) session(id string) *models.ChatSession {
	h.t.Helper()
	s, err := h.store.GetSession(h.ctx, id, false)
	require.NoError(h.t, err)
	return s
}

func (h *harness) failing(err error) {
	h.responder.fn = func(context.Context, responder.Request) (*responder.Reply, error) {
		return nil, err
	}
}

func TestProcess_BotReply(t *testing.T) {
	h := newHarness(t, nil)

	res := h.process("What are your opening hours?", map[string]any{MetaChannelSession: "support-line"})

	assert.True(t, res.SessionCreated)
	assert.Equal(t, models.StateBotOwned, res.SessionState)
	assert.False(t, res.Escalated)
	require.NotNil(t, res.Verdict)
	assert.False(t, res.Verdict.ShouldEscalate)
	assert.True(t, res.ResponseSent)
	assert.Equal(t, "We are open from 9 to 5.", res.ResponseText)
	assert.Empty(t, res.Warnings)

	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, testPhone, h.sender.sent[0].To)
	assert.Equal(t, "support-line", h.sender.sent[0].Channel)

	sess := h.session(res.SessionID)
	assert.Equal(t, 2, sess.TotalMessages)
	assert.Equal(t, 1, sess.CustomerMessages)
	assert.Equal(t, 1, sess.BotMessages)
	assert.Equal(t, config.FallbackIntent, sess.Intent)

	req := h.responder.calls[0]
	assert.Equal(t, "bot-1", req.BotID)
	assert.Equal(t, sess.CustomerID, req.CustomerID)
	require.NotEmpty(t, req.History)
	assert.Equal(t, "What are your opening hours?", req.History[len(req.History)-1].Content)

	again := h.process("Thanks!", nil)
	assert.False(t, again.SessionCreated)
	assert.Equal(t, res.SessionID, again.SessionID)
	assert.Equal(t, 4, h.session(res.SessionID).TotalMessages)
}

func TestProcess_KeywordEscalatesToAgent(t *testing.T) {
	h := newHarness(t, nil)
	h.addAgent("agent-1")

	res := h.process("I want to speak to human now", nil)

	assert.True(t, res.Escalated)
	assert.Equal(t, models.StateAgentOwned, res.SessionState)
	assert.Equal(t, "agent-1", res.AgentID)
	require.NotNil(t, res.Verdict)
	assert.Equal(t, models.PriorityHigh, res.Verdict.Priority)
	assert.True(t, res.Verdict.Has(models.TriggerKeyword))
	assert.Zero(t, h.responder.callCount(), "no bot reply after escalation")
	assert.True(t, h.events.has(events.EventTypeSessionEscalated))
	assert.True(t, h.events.has(events.EventTypeSessionHandover))

	// The customer is told who took over.
	assert.True(t, res.ResponseSent)
	assert.Equal(t, "You are now connected with Agent agent-1.", res.ResponseText)
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, "You are now connected with Agent agent-1.", h.sender.sent[0].Text)
	assert.Equal(t, testPhone, h.sender.sent[0].To)

	// Later messages go to the agent only.
	next := h.process("hello?", nil)
	assert.Equal(t, models.StateAgentOwned, next.SessionState)
	assert.Nil(t, next.Verdict)
	assert.False(t, next.ResponseSent)
	assert.Zero(t, h.responder.callCount())
	assert.Len(t, h.sender.sent, 1)
}

func TestProcess_EscalatesToQueueThenAssignsOnNextMessage(t *testing.T) {
	h := newHarness(t, nil)

	res := h.process("This is terrible and I am so frustrated", nil)
	assert.True(t, res.Escalated)
	assert.Equal(t, models.StatePendingHuman, res.SessionState)
	assert.Empty(t, res.AgentID)
	assert.True(t, res.Verdict.Has(models.TriggerSentiment))
	assert.True(t, h.events.has(events.EventTypeSessionPending))
	assert.True(t, res.ResponseSent)
	require.Len(t, h.sender.sent, 1)
	assert.Contains(t, h.sender.sent[0].Text, "You are in the queue")

	still := h.process("anyone there", nil)
	assert.Equal(t, models.StatePendingHuman, still.SessionState)
	assert.False(t, still.ResponseSent, "the queue notice is sent once")
	assert.Zero(t, h.responder.callCount())

	h.addAgent("agent-7")
	assigned := h.process("hello again", nil)
	assert.Equal(t, models.StateAgentOwned, assigned.SessionState)
	assert.Equal(t, "agent-7", assigned.AgentID)
	assert.True(t, assigned.ResponseSent)
	assert.Zero(t, h.responder.callCount())

	require.Len(t, h.sender.sent, 2)
	assert.Equal(t, "You are now connected with Agent agent-7.", h.sender.sent[1].Text)
}

func TestRetryAssignment_TellsCustomerWhenAnAgentTakesOver(t *testing.T) {
	h := newHarness(t, nil)

	res := h.process("This is terrible and I am so frustrated", nil)
	require.Equal(t, models.StatePendingHuman, res.SessionState)
	require.Len(t, h.sender.sent, 1)

	out, err := h.pipeline.RetryAssignment(h.ctx, res.SessionID)
	require.NoError(t, err)
	assert.True(t, out.Queued)
	assert.Len(t, h.sender.sent, 1, "nothing new while nobody is free")

	h.addAgent("agent-3")
	out, err = h.pipeline.RetryAssignment(h.ctx, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, out.Agent)
	assert.Equal(t, "agent-3", out.Agent.ID)

	require.Len(t, h.sender.sent, 2)
	assert.Equal(t, "You are now connected with Agent agent-3.", h.sender.sent[1].Text)
	assert.Equal(t, testPhone, h.sender.sent[1].To)
}

func TestProcess_ResponderErrorsEscalateAfterThreeFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.failing(errors.New("responder unavailable"))

	var sessionID string
	for i, text := range []string{"hello there", "anyone?", "still waiting"} {
		res := h.process(text, nil)
		sessionID = res.SessionID
		assert.False(t, res.ResponseSent, "message %d", i)
		assert.False(t, res.Escalated, "message %d", i)
		assert.NotEmpty(t, res.Warnings, "message %d", i)
	}

	msgs, err := h.messages.List(h.ctx, sessionID, 0)
	require.NoError(t, err)
	failures := 0
	for _, m := range msgs {
		if m.MessageType == models.MessageTypeBotFailure {
			assert.True(t, m.IsFailed())
			assert.Equal(t, "responder unavailable", m.Metadata[models.MetaError])
			failures++
		}
	}
	assert.Equal(t, 3, failures)

	warnings := h.warnings.GetWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, services.WarningCategoryResponder, warnings[0].Category)

	res := h.process("ping", nil)
	assert.True(t, res.Escalated)
	assert.True(t, res.Verdict.Has(models.TriggerFailedResponses))
	assert.Equal(t, models.PriorityNormal, res.Verdict.Priority)
	assert.Equal(t, models.StatePendingHuman, res.SessionState)
}

func TestProcess_MaxFailedResponsesOverride(t *testing.T) {
	h := newHarness(t, nil)
	h.failing(errors.New("boom"))
	meta := map[string]any{MetaMaxFailedResponses: float64(1)}

	first := h.process("hello there", meta)
	assert.False(t, first.Escalated)

	second := h.process("hello?", meta)
	assert.True(t, second.Escalated)
	assert.True(t, second.Verdict.Has(models.TriggerFailedResponses))
}

func TestProcess_ResponderTimeout(t *testing.T) {
	h := newHarness(t, &config.ResponderConfig{Timeout: 50 * time.Millisecond, MinConfidence: 0.3})
	h.responder.fn = func(ctx context.Context, _ responder.Request) (*responder.Reply, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	start := time.Now()
	res := h.process("hello there", nil)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.ResponseSent)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "deadline exceeded")

	sess := h.session(res.SessionID)
	assert.Equal(t, 1, sess.BotMessages, "failure record counted as a bot message")
}

func TestProcess_LowConfidenceReplyStoredNotDelivered(t *testing.T) {
	h := newHarness(t, nil)
	h.responder.fn = func(context.Context, responder.Request) (*responder.Reply, error) {
		return &responder.Reply{Text: "Maybe?", Confidence: 0.1}, nil
	}

	res := h.process("hello there", nil)
	assert.False(t, res.ResponseSent)
	assert.Empty(t, h.sender.sent)

	msgs, err := h.messages.List(h.ctx, res.SessionID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderBot, msgs[1].SenderType)
	assert.True(t, msgs[1].IsFailed())
	assert.Equal(t, "Maybe?", msgs[1].Content)
}

func TestProcess_DeliveryFailureIsWarning(t *testing.T) {
	h := newHarness(t, nil)
	h.sender.err = errors.New("WAHA returned HTTP 502")

	res := h.process("hello there", nil)
	assert.False(t, res.ResponseSent)
	assert.Equal(t, "We are open from 9 to 5.", res.ResponseText)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "HTTP 502")
	assert.True(t, h.events.has(events.EventTypeDeliveryFailed))

	warnings := h.warnings.GetWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, services.WarningCategoryDelivery, warnings[0].Category)

	h.sender.err = nil
	ok := h.process("hello again", nil)
	assert.True(t, ok.ResponseSent)
	assert.Empty(t, h.warnings.GetWarnings(), "successful delivery clears the warning")
}

func TestProcess_IntentOverrideFromChannel(t *testing.T) {
	h := newHarness(t, nil)

	res := h.process("hello there", map[string]any{MetaIntent: "legal_inquiry"})
	assert.True(t, res.Escalated)
	assert.True(t, res.Verdict.Has(models.TriggerIntent))
	assert.Equal(t, models.PriorityMedium, res.Verdict.Priority)
	assert.Equal(t, "legal_inquiry", h.session(res.SessionID).Intent)
}

func TestProcess_NoResponderConfigured(t *testing.T) {
	h := newHarness(t, nil)
	h.pipeline.d.Responder = nil

	res := h.process("hello there", nil)
	assert.False(t, res.ResponseSent)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, h.session(res.SessionID).TotalMessages)
}

func TestProcess_Validation(t *testing.T) {
	h := newHarness(t, nil)

	cases := []RawMessage{
		{OrganizationID: testOrg, From: testPhone, Text: "   "},
		{OrganizationID: testOrg, From: "", Text: "hi"},
		{OrganizationID: "", From: testPhone, Text: "hi"},
	}
	for _, msg := range cases {
		_, err := h.pipeline.Process(h.ctx, msg)
		assert.True(t, services.IsValidationError(err), "message %+v", msg)
		assert.True(t, errors.Is(err, services.ErrInvalidInput))
	}
	assert.Zero(t, h.responder.callCount())
}

func TestSendAgentReply(t *testing.T) {
	h := newHarness(t, nil)
	h.addAgent("agent-1")
	res := h.process("let me talk to a manager", nil)
	require.Equal(t, models.StateAgentOwned, res.SessionState)

	out, err := h.pipeline.SendAgentReply(h.ctx, testOrg, res.SessionID, "agent-1", "Hi, I'm Ana. How can I help?")
	require.NoError(t, err)
	assert.True(t, out.Delivered)
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, "Hi, I'm Ana. How can I help?", h.sender.sent[0].Text)
	assert.NotNil(t, out.Session.FirstResponseAt)

	_, err = h.pipeline.SendAgentReply(h.ctx, testOrg, res.SessionID, "agent-2", "hijack")
	assert.True(t, services.IsValidationError(err))

	_, err = h.pipeline.SendAgentReply(h.ctx, "org-other", res.SessionID, "agent-1", "hi")
	assert.True(t, errors.Is(err, services.ErrNotFound))
}

func TestIntMeta(t *testing.T) {
	meta := map[string]any{"a": 3, "b": float64(4), "c": "5", "d": "x", "e": true}
	assert.Equal(t, 3, intMeta(meta, "a"))
	assert.Equal(t, 4, intMeta(meta, "b"))
	assert.Equal(t, 5, intMeta(meta, "c"))
	assert.Zero(t, intMeta(meta, "d"))
	assert.Zero(t, intMeta(meta, "e"))
	assert.Zero(t, intMeta(nil, "a"))
}
