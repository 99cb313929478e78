package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/pkg/clock"
	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/events"
	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/store/memstore"
	"github.com/omnidesk/omnidesk/pkg/store/storetest"
)

const testOrg = "org-1"

// recordingPublisher keeps published events for assertions.
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

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	t         *testing.T
	ctx       context.Context
	store     *memstore.Store
	events    *recordingPublisher
	deps      Deps
	customers *CustomerService
	sessions  *SessionService
	messages  *MessageService

	mu  sync.Mutex
	now time.Time
}

func newTestEnv(t *testing.T, cfg *config.EscalationConfig) *testEnv {
	t.Helper()
	env := &testEnv{
		t:      t,
		ctx:    context.Background(),
		store:  memstore.New(),
		events: &recordingPublisher{},
		now:    time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	env.deps = Deps{
		Store:  env.store,
		Events: env.events,
		Clock:  clock.NewMonotonic(clock.Func(env.clockNow)),
	}
	env.customers = NewCustomerService(env.deps)
	env.sessions = NewSessionService(env.deps, nil, cfg)
	env.messages = NewMessageService(env.deps)
	return env
}

func (e *testEnv) clockNow() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func (e *testEnv) addBot() *models.BotPersonality {
	e.t.Helper()
	b := &models.BotPersonality{
		ID:             "bot-1",
		OrganizationID: testOrg,
		Name:           "Helper",
		IsActive:       true,
		IsDefault:      true,
		CreatedAt:      e.clockNow(),
	}
	require.NoError(e.t, e.store.CreateBotPersonality(e.ctx, b))
	return b
}

func (e *testEnv) addAgent(id string, current, max int, mutate ...func(*models.Agent)) *models.Agent {
	e.t.Helper()
	a := storetest.NewAgent(testOrg, id, current, max)
	for _, m := range mutate {
		m(a)
	}
	require.NoError(e.t, e.store.CreateAgent(e.ctx, a))
	return a
}

func (e *testEnv) agent(id string) *models.Agent {
	e.t.Helper()
	a, err := e.store.GetAgent(e.ctx, id)
	require.NoError(e.t, err)
	return a
}

func (e *testEnv) customer(phone string) *models.Customer {
	e.t.Helper()
	c, err := e.customers.Upsert(e.ctx, testOrg, phone, "")
	require.NoError(e.t, err)
	return c
}

// botSession creates a bot-owned session for a fresh customer.
func (e *testEnv) botSession(phone string) *models.ChatSession {
	e.t.Helper()
	if _, err := e.store.DefaultBotPersonality(e.ctx, testOrg); err != nil {
		e.addBot()
	}
	sess, created, err := e.sessions.Create(e.ctx, e.customer(phone), ChannelContext{ChannelConfigID: "waha-default"})
	require.NoError(e.t, err)
	require.True(e.t, created)
	require.Equal(e.t, models.StateBotOwned, sess.State())
	return sess
}

func (e *testEnv) session(id string) *models.ChatSession {
	e.t.Helper()
	sess, err := e.store.GetSession(e.ctx, id, false)
	require.NoError(e.t, err)
	return sess
}

func keywordVerdict() models.EscalationVerdict {
	return models.EscalationVerdict{
		ShouldEscalate: true,
		Triggers:       []models.EscalationTrigger{models.TriggerKeyword},
		Reason:         "Customer requested human assistance",
		Reasons:        []string{"Customer requested human assistance"},
		Priority:       models.PriorityHigh,
	}
}

func boolPtr(b bool) *bool { return &b }
