// Package storetest holds behaviour tests shared by every store.Store implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/store"
)

// Factory returns a fresh, empty store for one test.
type Factory func(t *testing.T) store.Store

var base = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// Run executes the shared suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("UpsertCustomerIsIdempotent", func(t *testing.T) { testUpsertCustomer(t, newStore(t)) })
	t.Run("ActiveSessionUniqueness", func(t *testing.T) { testActiveSessionUniqueness(t, newStore(t)) })
	t.Run("SessionRoundTrip", func(t *testing.T) { testSessionRoundTrip(t, newStore(t)) })
	t.Run("MessageOrdering", func(t *testing.T) { testMessageOrdering(t, newStore(t)) })
	t.Run("AgentSlots", func(t *testing.T) { testAgentSlots(t, newStore(t)) })
	t.Run("ConcurrentReservations", func(t *testing.T) { testConcurrentReservations(t, newStore(t)) })
	t.Run("ListAvailableAgents", func(t *testing.T) { testListAvailableAgents(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
	t.Run("DefaultBotPersonality", func(t *testing.T) { testDefaultBot(t, newStore(t)) })
	t.Run("ListPendingSessions", func(t *testing.T) { testPendingSessions(t, newStore(t)) })
	t.Run("ListIdleSessions", func(t *testing.T) { testIdleSessions(t, newStore(t)) })
}

// NewCustomer builds a customer for org with phone.
func NewCustomer(org, phone string) *models.Customer {
	return &models.Customer{
		ID:             uuid.NewString(),
		OrganizationID: org,
		Phone:          phone,
		Status:         models.CustomerStatusActive,
		FirstContactAt: base,
		LastContactAt:  base,
		Metadata:       map[string]any{},
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

// NewSession builds an active bot-owned customer-initiated session.
func NewSession(c *models.Customer) *models.ChatSession {
	return &models.ChatSession{
		ID:              uuid.NewString(),
		OrganizationID:  c.OrganizationID,
		CustomerID:      c.ID,
		ChannelConfigID: "waha-default",
		SessionToken:    uuid.NewString(),
		SessionType:     models.SessionTypeCustomerInitiated,
		IsActive:        true,
		IsBotSession:    true,
		StartedAt:       base,
		LastActivityAt:  base,
		Priority:        models.PriorityNormal,
		Sentiment:       models.SentimentNeutral,
		SentimentScore:  0.5,
		Metadata:        map[string]any{},
		CreatedAt:       base,
		UpdatedAt:       base,
	}
}

// NewAgent builds an active, online agent.
func NewAgent(org, id string, current, max int) *models.Agent {
	return &models.Agent{
		ID:                 id,
		OrganizationID:     org,
		Name:               "Agent " + id,
		Status:             models.AgentStatusActive,
		Availability:       models.AvailabilityOnline,
		Languages:          []string{"en"},
		MaxConcurrentChats: max,
		CurrentActiveChats: current,
		CreatedAt:          base,
		UpdatedAt:          base,
	}
}

func seedSession(t *testing.T, s store.Store, org, phone string) (*models.Customer, *models.ChatSession) {
	t.Helper()
	ctx := context.Background()
	c, err := s.UpsertCustomer(ctx, NewCustomer(org, phone))
	require.NoError(t, err)
	sess := NewSession(c)
	require.NoError(t, s.CreateSession(ctx, sess))
	return c, sess
}

func testUpsertCustomer(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, err := s.UpsertCustomer(ctx, NewCustomer("org-1", "+15550001"))
	require.NoError(t, err)

	again := NewCustomer("org-1", "+15550001")
	again.LastContactAt = base.Add(time.Hour)
	second, err := s.UpsertCustomer(ctx, again)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.LastContactAt.Equal(base.Add(time.Hour)))
	assert.True(t, second.FirstContactAt.Equal(base))

	other, err := s.UpsertCustomer(ctx, NewCustomer("org-2", "+15550001"))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "phone is scoped by organization")

	got, err := s.GetCustomer(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "+15550001", got.Phone)

	_, err = s.GetCustomer(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testActiveSessionUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, sess := seedSession(t, s, "org-1", "+15550002")

	dup := NewSession(c)
	err := s.CreateSession(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict))

	found, err := s.FindActiveSession(ctx, "org-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, found.ID)

	// Ending the first session frees the slot.
	ended := base.Add(time.Minute)
	found.IsActive = false
	found.EndedAt = &ended
	found.ResolutionType = models.ResolutionResolved
	require.NoError(t, s.UpdateSession(ctx, found))

	_, err = s.FindActiveSession(ctx, "org-1", c.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
	require.NoError(t, s.CreateSession(ctx, dup))

	// Agent-initiated sessions are not constrained.
	agentSession := NewSession(c)
	agentSession.SessionType = models.SessionTypeAgentInitiated
	require.NoError(t, s.CreateSession(ctx, agentSession))
}

func testSessionRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, sess := seedSession(t, s, "org-1", "+15550003")
	require.NoError(t, s.CreateAgent(ctx, NewAgent("org-1", "agent-1", 1, 5)))

	agentID := "agent-1"
	handover := base.Add(2 * time.Minute)
	rating := 4
	sess.AgentID = &agentID
	sess.IsBotSession = false
	sess.HandoverAt = &handover
	sess.HandoverReason = "Customer requested human assistance"
	sess.Priority = models.PriorityHigh
	sess.Intent = "refund_request"
	sess.Sentiment = models.SentimentNegative
	sess.SentimentScore = 0.3
	sess.TotalMessages = 3
	sess.CustomerMessages = 2
	sess.BotMessages = 1
	sess.SatisfactionRating = &rating
	sess.Metadata = map[string]any{"escalation_triggers": []any{"keyword"}}
	sess.LastActivityAt = handover
	require.NoError(t, s.UpdateSession(ctx, sess))

	got, err := s.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.StateAgentOwned, got.State())
	assert.Equal(t, "agent-1", got.AssignedAgent())
	assert.True(t, got.HandoverAt.Equal(handover))
	assert.Equal(t, sess.HandoverReason, got.HandoverReason)
	assert.Equal(t, models.PriorityHigh, got.Priority)
	assert.Equal(t, "refund_request", got.Intent)
	assert.InDelta(t, 0.3, got.SentimentScore, 1e-9)
	assert.Equal(t, 3, got.TotalMessages)
	assert.Equal(t, 2, got.CustomerMessages)
	assert.Equal(t, 1, got.BotMessages)
	require.NotNil(t, got.SatisfactionRating)
	assert.Equal(t, 4, *got.SatisfactionRating)
	assert.Equal(t, []any{"keyword"}, got.Metadata["escalation_triggers"])

	_, err = s.GetSession(ctx, uuid.NewString(), true)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	missing := NewSession(NewCustomer("org-1", "+15559999"))
	assert.True(t, errors.Is(s.UpdateSession(ctx, missing), store.ErrNotFound))
}

func testMessageOrdering(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, sess := seedSession(t, s, "org-1", "+15550004")

	// Three messages inside the same millisecond, plus two sharing an instant.
	at := base.Add(time.Second)
	times := []time.Time{at, at.Add(time.Microsecond), at.Add(2 * time.Microsecond), at.Add(2 * time.Microsecond)}
	var ids []string
	for i, ts := range times {
		m := &models.Message{
			ID:             uuid.NewString(),
			OrganizationID: "org-1",
			SessionID:      sess.ID,
			SenderType:     models.SenderCustomer,
			MessageType:    models.MessageTypeText,
			Content:        fmt.Sprintf("M%d", i+1),
			Metadata:       map[string]any{models.MetaIntent: "support"},
			CreatedAt:      ts,
		}
		require.NoError(t, s.CreateMessage(ctx, m))
		assert.Positive(t, m.Seq)
		ids = append(ids, m.ID)
	}

	msgs, err := s.ListMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	for i, m := range msgs {
		assert.Equal(t, ids[i], m.ID)
		assert.Equal(t, fmt.Sprintf("M%d", i+1), m.Content)
	}
	assert.Equal(t, "support", msgs[0].Metadata[models.MetaIntent])

	last2, err := s.ListMessages(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	assert.Equal(t, ids[2], last2[0].ID)
	assert.Equal(t, ids[3], last2[1].ID)

	since, err := s.MessagesSince(ctx, sess.ID, at.Add(time.Microsecond))
	require.NoError(t, err)
	assert.Len(t, since, 3)

	err = s.CreateMessage(ctx, &models.Message{
		ID: uuid.NewString(), OrganizationID: "org-1", SessionID: uuid.NewString(),
		SenderType: models.SenderBot, MessageType: models.MessageTypeText, CreatedAt: at,
	})
	assert.Error(t, err, "message for unknown session")
}

func testAgentSlots(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("org-1", "a1", 1, 2)))

	ok, err := s.TryReserveAgentSlot(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryReserveAgentSlot(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, ok, "agent is at capacity")

	a, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, a.CurrentActiveChats)

	require.NoError(t, s.ReleaseAgentSlot(ctx, "a1"))
	require.NoError(t, s.ReleaseAgentSlot(ctx, "a1"))
	require.NoError(t, s.ReleaseAgentSlot(ctx, "a1"))
	a, err = s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, a.CurrentActiveChats, "release never goes below zero")

	_, err = s.TryReserveAgentSlot(ctx, "missing")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testConcurrentReservations(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateAgent(ctx, NewAgent("org-1", "busy", 0, 3)))

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryReserveAgentSlot(ctx, "busy")
			if assert.NoError(t, err) && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, granted)
	a, err := s.GetAgent(ctx, "busy")
	require.NoError(t, err)
	assert.Equal(t, 3, a.CurrentActiveChats)
}

func testListAvailableAgents(t *testing.T, s store.Store) {
	ctx := context.Background()
	offline := NewAgent("org-1", "offline", 0, 5)
	offline.Availability = models.AvailabilityOffline
	inactive := NewAgent("org-1", "inactive", 0, 5)
	inactive.Status = models.AgentStatusInactive
	available := NewAgent("org-1", "b-available", 0, 5)
	available.Availability = models.AvailabilityAvailable
	available.Specialization = []string{"billing"}
	available.Skills = []string{"refunds"}

	for _, a := range []*models.Agent{
		NewAgent("org-1", "a-online", 2, 5),
		available,
		NewAgent("org-1", "full", 4, 4),
		offline,
		inactive,
		NewAgent("org-2", "other-org", 0, 5),
	} {
		require.NoError(t, s.CreateAgent(ctx, a))
	}

	agents, err := s.ListAvailableAgents(ctx, "org-1")
	require.NoError(t, err)
	var ids []string
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a-online", "b-available"}, ids)
	assert.Equal(t, []string{"billing"}, agents[1].Specialization)
	assert.Equal(t, []string{"refunds"}, agents[1].Skills)
	assert.Equal(t, []string{"en"}, agents[1].Languages)
}

func testTxRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	c, sess := seedSession(t, s, "org-1", "+15550005")
	require.NoError(t, s.CreateAgent(ctx, NewAgent("org-1", "a1", 0, 2)))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q store.Queries) error {
		locked, err := q.GetSession(ctx, sess.ID, true)
		if err != nil {
			return err
		}
		locked.TotalMessages = 99
		if err := q.UpdateSession(ctx, locked); err != nil {
			return err
		}
		if _, err := q.TryReserveAgentSlot(ctx, "a1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TotalMessages)
	a, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, a.CurrentActiveChats)

	err = s.InTx(ctx, func(q store.Queries) error {
		if err := q.LockCustomer(ctx, c.ID); err != nil {
			return err
		}
		locked, err := q.GetSession(ctx, sess.ID, true)
		if err != nil {
			return err
		}
		locked.TotalMessages = 1
		return q.UpdateSession(ctx, locked)
	})
	require.NoError(t, err)
	got, err = s.GetSession(ctx, sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalMessages)
}

func testDefaultBot(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.DefaultBotPersonality(ctx, "org-1")
	assert.True(t, errors.Is(err, store.ErrNotFound))

	require.NoError(t, s.CreateBotPersonality(ctx, &models.BotPersonality{
		ID: uuid.NewString(), OrganizationID: "org-1", Name: "old", IsActive: true, CreatedAt: base,
	}))
	require.NoError(t, s.CreateBotPersonality(ctx, &models.BotPersonality{
		ID: uuid.NewString(), OrganizationID: "org-1", Name: "inactive", IsActive: false, IsDefault: true, CreatedAt: base,
	}))
	require.NoError(t, s.CreateBotPersonality(ctx, &models.BotPersonality{
		ID: uuid.NewString(), OrganizationID: "org-1", Name: "default", IsActive: true, IsDefault: true, CreatedAt: base.Add(time.Hour),
	}))

	b, err := s.DefaultBotPersonality(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, "default", b.Name)
}

func testPendingSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedPending := func(org, phone string, startedAt time.Time) *models.ChatSession {
		c, err := s.UpsertCustomer(ctx, NewCustomer(org, phone))
		require.NoError(t, err)
		sess := NewSession(c)
		sess.IsBotSession = false
		sess.StartedAt = startedAt
		require.NoError(t, s.CreateSession(ctx, sess))
		return sess
	}

	seedSession(t, s, "org-1", "+15550100") // bot-owned
	later := seedPending("org-1", "+15550101", base.Add(2*time.Minute))
	earlier := seedPending("org-2", "+15550102", base.Add(time.Minute))

	require.NoError(t, s.CreateAgent(ctx, NewAgent("org-1", "agent-p", 0, 2)))
	owned := seedPending("org-1", "+15550103", base)
	agentID := "agent-p"
	owned.AgentID = &agentID
	require.NoError(t, s.UpdateSession(ctx, owned))

	ended := seedPending("org-1", "+15550104", base)
	ended.IsActive = false
	require.NoError(t, s.UpdateSession(ctx, ended))

	// Newer but more urgent sessions go first, even when the batch is small.
	urgent := seedPending("org-1", "+15550105", base.Add(4*time.Minute))
	urgent.Priority = models.PriorityHigh
	require.NoError(t, s.UpdateSession(ctx, urgent))
	medium := seedPending("org-2", "+15550106", base.Add(3*time.Minute))
	medium.Priority = models.PriorityMedium
	require.NoError(t, s.UpdateSession(ctx, medium))

	pending, err := s.ListPendingSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 4)
	assert.Equal(t, urgent.ID, pending[0].ID)
	assert.Equal(t, medium.ID, pending[1].ID)
	assert.Equal(t, earlier.ID, pending[2].ID)
	assert.Equal(t, later.ID, pending[3].ID)

	capped, err := s.ListPendingSessions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, urgent.ID, capped[0].ID)
}

func testIdleSessions(t *testing.T, s store.Store) {
	ctx := context.Background()
	seed := func(phone string, lastActivity time.Time) *models.ChatSession {
		_, sess := seedSession(t, s, "org-1", phone)
		sess.LastActivityAt = lastActivity
		require.NoError(t, s.UpdateSession(ctx, sess))
		return sess
	}

	oldest := seed("+15550200", base.Add(-3*time.Hour))
	older := seed("+15550201", base.Add(-2*time.Hour))
	seed("+15550202", base) // recent

	closed := seed("+15550203", base.Add(-5*time.Hour))
	closed.IsActive = false
	require.NoError(t, s.UpdateSession(ctx, closed))

	idle, err := s.ListIdleSessions(ctx, base.Add(-time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, idle, 2)
	assert.Equal(t, oldest.ID, idle[0].ID)
	assert.Equal(t, older.ID, idle[1].ID)

	capped, err := s.ListIdleSessions(ctx, base.Add(-time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, capped, 1)
	assert.Equal(t, oldest.ID, capped[0].ID)
}
