package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/store/storetest"
)

func agentWith(id string, current, max int, mutate func(*models.Agent)) *models.Agent {
	a := storetest.NewAgent(testOrg, id, current, max)
	if mutate != nil {
		mutate(a)
	}
	return a
}

func TestSelectAgent(t *testing.T) {
	billing := func(a *models.Agent) {
		a.Department = "billing"
		a.Specialization = []string{"refunds"}
		a.Languages = []string{"en", "es"}
	}
	support := func(a *models.Agent) {
		a.Department = "support"
		a.Skills = []string{"refunds"}
	}
	pool := []*models.Agent{
		agentWith("agent-c", 1, 5, nil),
		agentWith("agent-b", 1, 5, billing),
		agentWith("agent-a", 2, 5, support),
		agentWith("agent-busy", 0, 5, func(a *models.Agent) { a.Availability = models.AvailabilityBusy }),
		agentWith("agent-off", 0, 5, func(a *models.Agent) { a.Status = models.AgentStatusInactive }),
		agentWith("agent-full", 3, 3, nil),
		{ID: "agent-other-org", OrganizationID: "org-2", Status: models.AgentStatusActive, Availability: models.AvailabilityOnline, MaxConcurrentChats: 5},
	}

	tests := []struct {
		name     string
		criteria Criteria
		want     string
	}{
		{name: "least loaded wins, ties by id", criteria: Criteria{}, want: "agent-b"},
		{name: "department", criteria: Criteria{Department: "support"}, want: "agent-a"},
		{name: "specialization matches specialization list", criteria: Criteria{Specialization: "refunds", Department: "billing"}, want: "agent-b"},
		{name: "specialization matches skills", criteria: Criteria{Specialization: "refunds", Department: "support"}, want: "agent-a"},
		{name: "all languages required", criteria: Criteria{Languages: []string{"en", "es"}}, want: "agent-b"},
		{name: "unknown language", criteria: Criteria{Languages: []string{"fr"}}, want: ""},
		{name: "exclusions", criteria: Criteria{ExcludeAgentIDs: []string{"agent-b"}}, want: "agent-c"},
		{name: "nobody left", criteria: Criteria{ExcludeAgentIDs: []string{"agent-a", "agent-b", "agent-c"}}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectAgent(pool, testOrg, tt.criteria)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestSelectAgentIgnoresRating(t *testing.T) {
	star := func(a *models.Agent) { a.Rating = 5 }
	low := func(a *models.Agent) { a.Rating = 1.5 }

	tied := []*models.Agent{agentWith("agent-z", 1, 5, star), agentWith("agent-m", 1, 5, low)}
	got := SelectAgent(tied, testOrg, Criteria{})
	require.NotNil(t, got)
	assert.Equal(t, "agent-m", got.ID, "equal load falls back to id, not rating")

	busier := []*models.Agent{agentWith("agent-a", 2, 5, star), agentWith("agent-b", 0, 5, low)}
	got = SelectAgent(busier, testOrg, Criteria{})
	require.NotNil(t, got)
	assert.Equal(t, "agent-b", got.ID)
}

func TestCriteriaIsZero(t *testing.T) {
	assert.True(t, Criteria{}.IsZero())
	assert.True(t, Criteria{ExcludeAgentIDs: []string{"x"}}.IsZero())
	assert.False(t, Criteria{Languages: []string{"en"}}.IsZero())
}

func TestFindAvailableUsesStore(t *testing.T) {
	env := newTestEnv(t, nil)
	env.addAgent("agent-1", 2, 3)
	env.addAgent("agent-2", 0, 3)

	m := NewAgentMatcher(env.store)
	a, err := m.FindAvailable(env.ctx, testOrg, Criteria{})
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "agent-2", a.ID)

	none, err := m.FindAvailable(env.ctx, "org-empty", Criteria{})
	require.NoError(t, err)
	assert.Nil(t, none, "no available agent is not an error")
}

type failingLister struct{}

func (failingLister) ListAvailableAgents(context.Context, string) ([]*models.Agent, error) {
	return nil, errors.New("connection reset")
}

func TestFindAvailablePropagatesStoreErrors(t *testing.T) {
	_, err := NewAgentMatcher(failingLister{}).FindAvailable(context.Background(), testOrg, Criteria{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
