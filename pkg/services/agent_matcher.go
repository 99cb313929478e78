package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/omnidesk/omnidesk/pkg/models"
)

// Criteria narrows agent matching. Empty fields match any agent.
type Criteria struct {
	Department      string
	Specialization  string   // matched against specialization and skills
	Languages       []string // every language must be spoken
	ExcludeAgentIDs []string
}

// IsZero reports whether c places no constraint besides exclusions.
func (c Criteria) IsZero() bool {
	return c.Department == "" && c.Specialization == "" && len(c.Languages) == 0
}

// AgentLister is the store subset the matcher reads.
type AgentLister interface {
	ListAvailableAgents(ctx context.Context, organizationID string) ([]*models.Agent, error)
}

// AgentMatcher picks the least-loaded eligible agent for a session.
type AgentMatcher struct {
	agents AgentLister
}

// NewAgentMatcher creates a new AgentMatcher
func NewAgentMatcher(agents AgentLister) *AgentMatcher {
	return &AgentMatcher{agents: agents}
}

// FindAvailable returns the best agent for criteria, or nil when nobody is
// available. No available agent is not an error.
func (m *AgentMatcher) FindAvailable(ctx context.Context, organizationID string, c Criteria) (*models.Agent, error) {
	agents, err := m.agents.ListAvailableAgents(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return SelectAgent(agents, organizationID, c), nil
}

// SelectAgent applies the matching rules to candidates: eligible agents of
// the organization that satisfy c, lowest current load first, ties broken
// by ascending id.
func SelectAgent(candidates []*models.Agent, organizationID string, c Criteria) *models.Agent {
	var best *models.Agent
	for _, a := range candidates {
		if a.OrganizationID != organizationID || !a.IsEligible() || !c.matches(a) {
			continue
		}
		if best == nil ||
			a.CurrentActiveChats < best.CurrentActiveChats ||
			(a.CurrentActiveChats == best.CurrentActiveChats && a.ID < best.ID) {
			best = a
		}
	}
	return best
}

func (c Criteria) matches(a *models.Agent) bool {
	if slices.Contains(c.ExcludeAgentIDs, a.ID) {
		return false
	}
	if c.Department != "" && a.Department != c.Department {
		return false
	}
	if c.Specialization != "" &&
		!slices.Contains(a.Specialization, c.Specialization) &&
		!slices.Contains(a.Skills, c.Specialization) {
		return false
	}
	for _, lang := range c.Languages {
		if !slices.Contains(a.Languages, lang) {
			return false
		}
	}
	return true
}
