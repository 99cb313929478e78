package models

import (
	"slices"
	"time"
)

// Agent is an organization-scoped human operator.
type Agent struct {
	ID                 string
	OrganizationID     string
	Name               string
	Status             AgentStatus
	Availability       Availability
	Department         string
	Specialization     []string
	Languages          []string
	Skills             []string
	MaxConcurrentChats int
	CurrentActiveChats int
	Rating             float64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasCapacity reports whether the agent can take one more session.
func (a *Agent) HasCapacity() bool {
	return a.CurrentActiveChats < a.MaxConcurrentChats
}

// IsEligible reports whether the agent is active, present, and below capacity.
func (a *Agent) IsEligible() bool {
	return a.Status == AgentStatusActive && a.Availability.AcceptsChats() && a.HasCapacity()
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	c.Specialization = slices.Clone(a.Specialization)
	c.Languages = slices.Clone(a.Languages)
	c.Skills = slices.Clone(a.Skills)
	return &c
}
