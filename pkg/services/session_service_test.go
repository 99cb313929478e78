package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/events"
	"github.com/omnidesk/omnidesk/pkg/models"
)

func TestCreate(t *testing.T) {
	t.Run("bot-owned when a bot personality exists, reused afterwards", func(t *testing.T) {
		env := newTestEnv(t, nil)
		bot := env.addBot()
		c := env.customer("+15550100")

		sess, created, err := env.sessions.Create(env.ctx, c, ChannelContext{ChannelConfigID: "waha-default"})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, models.StateBotOwned, sess.State())
		require.NotNil(t, sess.BotPersonalityID)
		assert.Equal(t, bot.ID, *sess.BotPersonalityID)
		assert.NotEmpty(t, sess.SessionToken)
		assert.Equal(t, models.SessionTypeCustomerInitiated, sess.SessionType)

		again, created, err := env.sessions.Create(env.ctx, c, ChannelContext{ChannelConfigID: "waha-default"})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, sess.ID, again.ID)

		assert.Equal(t, []string{events.EventTypeSessionCreated}, env.events.types())
	})

	t.Run("pending human without a bot", func(t *testing.T) {
		env := newTestEnv(t, nil)
		sess, created, err := env.sessions.Create(env.ctx, env.customer("+15550101"), ChannelContext{})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, models.StatePendingHuman, sess.State())
		assert.Nil(t, sess.BotPersonalityID)
	})

	t.Run("agent-initiated sessions do not reuse", func(t *testing.T) {
		env := newTestEnv(t, nil)
		first := env.botSession("+15550102")
		c, err := env.customers.Get(env.ctx, testOrg, first.CustomerID)
		require.NoError(t, err)

		outbound, created, err := env.sessions.Create(env.ctx, c, ChannelContext{SessionType: models.SessionTypeAgentInitiated})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, outbound.ID)
	})

	t.Run("a new session after the previous one ended", func(t *testing.T) {
		env := newTestEnv(t, nil)
		first := env.botSession("+15550103")
		_, err := env.sessions.End(env.ctx, first.ID, models.ResolutionResolved, "")
		require.NoError(t, err)

		c, err := env.customers.Get(env.ctx, testOrg, first.CustomerID)
		require.NoError(t, err)
		second, created, err := env.sessions.Create(env.ctx, c, ChannelContext{})
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("validation", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, _, err := env.sessions.Create(env.ctx, nil, ChannelContext{})
		assert.True(t, IsValidationError(err))
	})
}

func TestCreateConcurrentFirstMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addBot()
	c := env.customer("+15550110")

	const workers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]bool{}
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, isNew, err := env.sessions.Create(env.ctx, c, ChannelContext{})
			assert.NoError(t, err)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[sess.ID] = true
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)
}

func TestHandover(t *testing.T) {
	t.Run("assigns and reserves capacity", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.addAgent("agent-1", 0, 2)
		sess := env.botSession("+15550200")

		got, err := env.sessions.Handover(env.ctx, sess.ID, "agent-1", "VIP customer")
		require.NoError(t, err)
		assert.Equal(t, models.StateAgentOwned, got.State())
		assert.Equal(t, "agent-1", got.AssignedAgent())
		assert.False(t, got.IsBotSession)
		require.NotNil(t, got.HandoverAt)
		assert.Equal(t, "VIP customer", got.HandoverReason)
		assert.Equal(t, 1, got.TotalMessages, "system message is counted")
		assert.Equal(t, got.LastActivityAt, *got.HandoverAt)

		assert.Equal(t, 1, env.agent("agent-1").CurrentActiveChats)

		msgs, err := env.messages.List(env.ctx, sess.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, models.SenderSystem, msgs[0].SenderType)
		assert.Contains(t, msgs[0].Content, "Agent agent-1")
		assert.Contains(t, env.events.types(), events.EventTypeSessionHandover)
	})

	t.Run("full agent leaves the session unchanged", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.addAgent("agent-1", 1, 1)
		sess := env.botSession("+15550201")

		_, err := env.sessions.Handover(env.ctx, sess.ID, "agent-1", "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCapacityExceeded))

		after := env.session(sess.ID)
		assert.Equal(t, models.StateBotOwned, after.State())
		assert.Equal(t, 0, after.TotalMessages)
		assert.Equal(t, 1, env.agent("agent-1").CurrentActiveChats)
	})

	t.Run("errors", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.addAgent("agent-1", 0, 5)
		env.addAgent("agent-off", 0, 5, func(a *models.Agent) { a.Status = models.AgentStatusInactive })
		require.NoError(t, env.store.CreateAgent(env.ctx, &models.Agent{
			ID: "agent-elsewhere", OrganizationID: "org-2", Status: models.AgentStatusActive,
			Availability: models.AvailabilityOnline, MaxConcurrentChats: 5,
		}))
		sess := env.botSession("+15550202")

		_, err := env.sessions.Handover(env.ctx, sess.ID, "nobody", "")
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = env.sessions.Handover(env.ctx, sess.ID, "agent-elsewhere", "")
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = env.sessions.Handover(env.ctx, sess.ID, "agent-off", "")
		assert.True(t, IsValidationError(err))

		_, err = env.sessions.Handover(env.ctx, "missing", "agent-1", "")
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = env.sessions.Handover(env.ctx, sess.ID, "agent-1", "")
		require.NoError(t, err)
		_, err = env.sessions.Handover(env.ctx, sess.ID, "agent-1", "")
		assert.True(t, errors.Is(err, ErrInvalidTransition), "agent-owned sessions cannot be handed over again")
		assert.Equal(t, 1, env.agent("agent-1").CurrentActiveChats)
	})
}

func TestEscalate(t *testing.T) {
	t.Run("no-op verdict", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.addAgent("agent-1", 0, 5)
		sess := env.botSession("+15550300")

		out, err := env.sessions.Escalate(env.ctx, sess.ID, models.EscalationVerdict{})
		require.NoError(t, err)
		assert.Nil(t, out.Agent)
		assert.False(t, out.Queued)
		assert.Equal(t, models.StateBotOwned, out.Session.State())
		assert.Equal(t, 0, env.agent("agent-1").CurrentActiveChats)
	})

	t.Run("assigns least loaded agent and records the verdict", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.addAgent("agent-1", 2, 5)
		env.addAgent("agent-2", 1, 5)
		sess := env.botSession("+15550301")

		out, err := env.sessions.Escalate(env.ctx, sess.ID, keywordVerdict())
		require.NoError(t, err)
		require.NotNil(t, out.Agent)
		assert.Equal(t, "agent-2", out.Agent.ID)
		assert.Equal(t, 1, out.Attempts)
		assert.Equal(t, models.StateAgentOwned, out.Session.State())
		assert.Equal(t, models.PriorityHigh, out.Session.Priority)
		assert.Equal(t, "Customer requested human assistance", out.Session.HandoverReason)
		assert.Equal(t, []string{"keyword"}, out.Session.Metadata[metaEscalationTriggers])
		assert.Equal(t, 2, env.agent("agent-2").CurrentActiveChats)
		require.NotNil(t, out.Notice)
		assert.Equal(t, "You are now connected with Agent agent-2.", out.Notice.Content)
		assert.Equal(t, models.SenderSystem, out.Notice.SenderType)

		assert.Equal(t, []string{
			events.EventTypeSessionCreated,
			events.EventTypeSessionEscalated,
			events.EventTypeSessionHandover,
		}, env.events.types())
	})

	t.Run("queues when nobody is available, then retries", func(t *testing.T) {
		env := newTestEnv(t, nil)
		sess := env.botSession("+15550302")

		out, err := env.sessions.Escalate(env.ctx, sess.ID, keywordVerdict())
		require.NoError(t, err)
		assert.True(t, out.Queued)
		assert.Nil(t, out.Agent)
		assert.Equal(t, models.StatePendingHuman, out.Session.State())
		assert.Equal(t, models.PriorityHigh, out.Session.Priority)
		assert.Contains(t, env.events.types(), events.EventTypeSessionPending)

		msgs, err := env.messages.List(env.ctx, sess.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, queuedMessage, msgs[0].Content)
		require.NotNil(t, out.Notice)
		assert.Equal(t, msgs[0].ID, out.Notice.ID)

		// Retrying while still empty stays quiet.
		again, err := env.sessions.RetryAssignment(env.ctx, sess.ID)
		require.NoError(t, err)
		assert.True(t, again.Queued)
		assert.Nil(t, again.Notice)
		msgs, err = env.messages.List(env.ctx, sess.ID, 0)
		require.NoError(t, err)
		assert.Len(t, msgs, 1)

		env.addAgent("agent-1", 0, 1)
		assigned, err := env.sessions.RetryAssignment(env.ctx, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, assigned.Agent)
		assert.Equal(t, models.StateAgentOwned, assigned.Session.State())
		assert.Equal(t, "Customer requested human assistance", assigned.Session.HandoverReason)
		require.NotNil(t, assigned.Notice)
		assert.Equal(t, "You are now connected with Agent agent-1.", assigned.Notice.Content)
	})

	t.Run("retry on a non-pending session is a no-op", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.addAgent("agent-1", 0, 1)
		sess := env.botSession("+15550303")

		out, err := env.sessions.RetryAssignment(env.ctx, sess.ID)
		require.NoError(t, err)
		assert.Nil(t, out.Agent)
		assert.Equal(t, models.StateBotOwned, out.Session.State())
	})

	t.Run("ended sessions cannot be escalated", func(t *testing.T) {
		env := newTestEnv(t, nil)
		sess := env.botSession("+15550304")
		_, err := env.sessions.End(env.ctx, sess.ID, models.ResolutionAbandoned, "")
		require.NoError(t, err)

		_, err = env.sessions.Escalate(env.ctx, sess.ID, keywordVerdict())
		assert.True(t, errors.Is(err, ErrInvalidTransition))
	})
}

func TestEscalateRouting(t *testing.T) {
	routing := func(fallback bool) *config.EscalationConfig {
		cfg := config.DefaultEscalationConfig()
		cfg.FallbackToAnyAgent = boolPtr(fallback)
		cfg.Routing = map[models.Priority]config.RoutingRule{
			models.PriorityHigh: {Department: "escalations"},
		}
		return cfg
	}

	t.Run("priority routes to its department", func(t *testing.T) {
		env := newTestEnv(t, routing(true))
		env.addAgent("agent-1", 0, 5)
		env.addAgent("agent-9", 3, 5, func(a *models.Agent) { a.Department = "escalations" })
		sess := env.botSession("+15550400")

		out, err := env.sessions.Escalate(env.ctx, sess.ID, keywordVerdict())
		require.NoError(t, err)
		require.NotNil(t, out.Agent)
		assert.Equal(t, "agent-9", out.Agent.ID)
	})

	t.Run("falls back to any agent", func(t *testing.T) {
		env := newTestEnv(t, routing(true))
		env.addAgent("agent-1", 0, 5)
		sess := env.botSession("+15550401")

		out, err := env.sessions.Escalate(env.ctx, sess.ID, keywordVerdict())
		require.NoError(t, err)
		require.NotNil(t, out.Agent)
		assert.Equal(t, "agent-1", out.Agent.ID)
	})

	t.Run("queues when fallback is disabled", func(t *testing.T) {
		env := newTestEnv(t, routing(false))
		env.addAgent("agent-1", 0, 5)
		sess := env.botSession("+15550402")

		out, err := env.sessions.Escalate(env.ctx, sess.ID, keywordVerdict())
		require.NoError(t, err)
		assert.True(t, out.Queued)
		assert.Equal(t, 0, env.agent("agent-1").CurrentActiveChats)
	})
}

// staleLister returns a fixed snapshot, the way a matcher read can race
// with another replica filling the agent up.
type staleLister struct {
	agents []*models.Agent
}

func (l staleLister) ListAvailableAgents(context.Context, string) ([]*models.Agent, error) {
	return l.agents, nil
}

func TestEscalateCapacityRace(t *testing.T) {
	t.Run("losing a reservation re-matches the next agent", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.addAgent("agent-a", 1, 1) // already full in the store
		env.addAgent("agent-b", 2, 5)
		snapshot := []*models.Agent{
			agentWith("agent-a", 0, 1, nil),
			agentWith("agent-b", 2, 5, nil),
		}
		svc := NewSessionService(env.deps, NewAgentMatcher(staleLister{snapshot}), nil)
		sess := env.botSession("+15550500")

		out, err := svc.Escalate(env.ctx, sess.ID, keywordVerdict())
		require.NoError(t, err)
		require.NotNil(t, out.Agent)
		assert.Equal(t, "agent-b", out.Agent.ID)
		assert.Equal(t, 2, out.Attempts)
		assert.Equal(t, 1, env.agent("agent-a").CurrentActiveChats)
		assert.Equal(t, 3, env.agent("agent-b").CurrentActiveChats)
	})

	t.Run("gives up after max attempts and queues", func(t *testing.T) {
		env := newTestEnv(t, nil)
		var snapshot []*models.Agent
		for _, id := range []string{"agent-a", "agent-b", "agent-c", "agent-d"} {
			env.addAgent(id, 1, 1)
			snapshot = append(snapshot, agentWith(id, 0, 1, nil))
		}
		svc := NewSessionService(env.deps, NewAgentMatcher(staleLister{snapshot}), nil)
		sess := env.botSession("+15550501")

		out, err := svc.Escalate(env.ctx, sess.ID, keywordVerdict())
		require.NoError(t, err)
		assert.True(t, out.Queued)
		assert.Equal(t, config.DefaultMaxHandoverAttempts, out.Attempts)
		assert.Equal(t, models.StatePendingHuman, env.session(sess.ID).State())
	})
}

func TestConcurrentEscalationsNeverOverbook(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addAgent("agent-1", 0, 2)

	const sessions = 6
	ids := make([]string, sessions)
	for i := range ids {
		ids[i] = env.botSession("+1555060" + string(rune('0'+i))).ID
	}

	var wg sync.WaitGroup
	outcomes := make([]*EscalationOutcome, sessions)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			out, err := env.sessions.Escalate(env.ctx, id, keywordVerdict())
			assert.NoError(t, err)
			outcomes[i] = out
		}(i, id)
	}
	wg.Wait()

	assigned, queued := 0, 0
	for _, out := range outcomes {
		require.NotNil(t, out)
		if out.Agent != nil {
			assigned++
		}
		if out.Queued {
			queued++
		}
	}
	assert.Equal(t, 2, assigned)
	assert.Equal(t, sessions-2, queued)
	assert.Equal(t, 2, env.agent("agent-1").CurrentActiveChats)
}

func TestEnd(t *testing.T) {
	t.Run("releases the agent slot and is idempotent", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.addAgent("agent-1", 0, 2)
		sess := env.botSession("+15550700")
		_, err := env.sessions.Handover(env.ctx, sess.ID, "agent-1", "")
		require.NoError(t, err)
		require.Equal(t, 1, env.agent("agent-1").CurrentActiveChats)

		env.advance(5 * time.Minute)
		ended, err := env.sessions.End(env.ctx, sess.ID, models.ResolutionResolved, "refund issued")
		require.NoError(t, err)
		assert.Equal(t, models.StateEnded, ended.State())
		assert.True(t, ended.IsResolved)
		require.NotNil(t, ended.EndedAt)
		assert.Equal(t, "refund issued", ended.ResolutionNotes)
		assert.Equal(t, 0, env.agent("agent-1").CurrentActiveChats)

		again, err := env.sessions.End(env.ctx, sess.ID, models.ResolutionSpam, "")
		require.NoError(t, err)
		assert.Equal(t, models.ResolutionResolved, again.ResolutionType)
		assert.Equal(t, 0, env.agent("agent-1").CurrentActiveChats)

		count := 0
		for _, typ := range env.events.types() {
			if typ == events.EventTypeSessionEnded {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("defaults and validation", func(t *testing.T) {
		env := newTestEnv(t, nil)
		sess := env.botSession("+15550701")

		_, err := env.sessions.End(env.ctx, sess.ID, "exploded", "")
		assert.True(t, IsValidationError(err))

		ended, err := env.sessions.End(env.ctx, sess.ID, "", "")
		require.NoError(t, err)
		assert.Equal(t, models.ResolutionResolved, ended.ResolutionType)

		_, err = env.sessions.End(env.ctx, "missing", "", "")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestOwnershipChangesFollowTransitionTable(t *testing.T) {
	// setup puts a fresh session into state from. agent-0 owns it when
	// from is agent_owned; agent-1 is free for every operation.
	setup := func(t *testing.T, from models.SessionState) (*testEnv, *models.ChatSession) {
		env := newTestEnv(t, nil)
		sess := env.botSession("+15550950")
		switch from {
		case models.StatePendingHuman:
			out, err := env.sessions.Escalate(env.ctx, sess.ID, keywordVerdict())
			require.NoError(t, err)
			require.True(t, out.Queued)
		case models.StateAgentOwned:
			env.addAgent("agent-0", 0, 5)
			_, err := env.sessions.Handover(env.ctx, sess.ID, "agent-0", "")
			require.NoError(t, err)
		case models.StateEnded:
			_, err := env.sessions.End(env.ctx, sess.ID, models.ResolutionAbandoned, "")
			require.NoError(t, err)
		}
		require.Equal(t, from, env.session(sess.ID).State())
		env.addAgent("agent-1", 0, 5)
		return env, sess
	}

	ops := []struct {
		name    string
		allowed func(from models.SessionState) bool
		run     func(env *testEnv, id string) error
	}{
		{
			name:    "escalate",
			allowed: func(from models.SessionState) bool { return models.CanTransition(from, models.StatePendingHuman) },
			run: func(env *testEnv, id string) error {
				_, err := env.sessions.Escalate(env.ctx, id, keywordVerdict())
				return err
			},
		},
		{
			name: "handover",
			allowed: func(from models.SessionState) bool {
				return from != models.StateAgentOwned && models.CanTransition(from, models.StateAgentOwned)
			},
			run: func(env *testEnv, id string) error {
				_, err := env.sessions.Handover(env.ctx, id, "agent-1", "")
				return err
			},
		},
		{
			name: "transfer",
			allowed: func(from models.SessionState) bool {
				return from == models.StateAgentOwned && models.CanTransition(from, models.StateAgentOwned)
			},
			run: func(env *testEnv, id string) error {
				_, err := env.sessions.Transfer(env.ctx, id, "agent-1", "")
				return err
			},
		},
	}

	states := []models.SessionState{
		models.StateBotOwned, models.StatePendingHuman, models.StateAgentOwned, models.StateEnded,
	}
	for _, op := range ops {
		for _, from := range states {
			t.Run(op.name+" from "+string(from), func(t *testing.T) {
				env, sess := setup(t, from)
				err := op.run(env, sess.ID)
				if op.allowed(from) {
					require.NoError(t, err)
					assert.Equal(t, models.StateAgentOwned, env.session(sess.ID).State())
					return
				}
				assert.True(t, errors.Is(err, ErrInvalidTransition), "got %v", err)
				assert.Equal(t, from, env.session(sess.ID).State())
				assert.Equal(t, 0, env.agent("agent-1").CurrentActiveChats)
			})
		}
	}
}

func TestTransfer(t *testing.T) {
	setup := func(t *testing.T) (*testEnv, *models.ChatSession) {
		env := newTestEnv(t, nil)
		env.addAgent("agent-1", 0, 2)
		env.addAgent("agent-2", 0, 1)
		sess := env.botSession("+15550800")
		_, err := env.sessions.Handover(env.ctx, sess.ID, "agent-1", "")
		require.NoError(t, err)
		return env, sess
	}

	t.Run("moves capacity between agents", func(t *testing.T) {
		env, sess := setup(t)

		got, err := env.sessions.Transfer(env.ctx, sess.ID, "agent-2", "needs billing")
		require.NoError(t, err)
		assert.Equal(t, "agent-2", got.AssignedAgent())
		assert.Equal(t, "needs billing", got.HandoverReason)
		assert.Equal(t, "agent-1", got.Metadata[metaTransferredFrom])
		assert.Equal(t, 0, env.agent("agent-1").CurrentActiveChats)
		assert.Equal(t, 1, env.agent("agent-2").CurrentActiveChats)
		assert.Contains(t, env.events.types(), events.EventTypeSessionTransferred)
	})

	t.Run("full target leaves everything unchanged", func(t *testing.T) {
		env, sess := setup(t)
		other := env.botSession("+15550801")
		_, err := env.sessions.Handover(env.ctx, other.ID, "agent-2", "")
		require.NoError(t, err)

		_, err = env.sessions.Transfer(env.ctx, sess.ID, "agent-2", "")
		assert.True(t, errors.Is(err, ErrCapacityExceeded))
		assert.Equal(t, "agent-1", env.session(sess.ID).AssignedAgent())
		assert.Equal(t, 1, env.agent("agent-1").CurrentActiveChats)
	})

	t.Run("invalid requests", func(t *testing.T) {
		env, sess := setup(t)

		_, err := env.sessions.Transfer(env.ctx, sess.ID, "agent-1", "")
		assert.True(t, IsValidationError(err))

		bot := env.botSession("+15550802")
		_, err = env.sessions.Transfer(env.ctx, bot.ID, "agent-2", "")
		assert.True(t, errors.Is(err, ErrInvalidTransition))

		_, err = env.sessions.Transfer(env.ctx, sess.ID, "ghost", "")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestRate(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.botSession("+15550900")

	_, err := env.sessions.Rate(env.ctx, sess.ID, 5)
	assert.True(t, errors.Is(err, ErrInvalidTransition), "active sessions cannot be rated")

	_, err = env.sessions.End(env.ctx, sess.ID, models.ResolutionResolved, "")
	require.NoError(t, err)

	_, err = env.sessions.Rate(env.ctx, sess.ID, 6)
	assert.True(t, IsValidationError(err))

	rated, err := env.sessions.Rate(env.ctx, sess.ID, 4)
	require.NoError(t, err)
	require.NotNil(t, rated.SatisfactionRating)
	assert.Equal(t, 4, *rated.SatisfactionRating)
}

func TestGetIsScopedByOrganization(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.botSession("+15550901")

	got, err := env.sessions.Get(env.ctx, testOrg, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	_, err = env.sessions.Get(env.ctx, "org-2", sess.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}
