package models

import (
	"maps"
	"time"
)

// Customer statuses.
const (
	CustomerStatusActive  = "active"
	CustomerStatusBlocked = "blocked"
)

// Customer is an external chat participant, keyed by (organization, phone).
type Customer struct {
	ID             string
	OrganizationID string
	Phone          string
	Name           string
	Status         string
	FirstContactAt time.Time
	LastContactAt  time.Time
	Metadata       map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy of the customer.
func (c *Customer) Clone() *Customer {
	cp := *c
	cp.Metadata = maps.Clone(c.Metadata)
	return &cp
}

// BotPersonality is an organization's configured automated responder.
type BotPersonality struct {
	ID             string
	OrganizationID string
	Name           string
	IsActive       bool
	IsDefault      bool
	CreatedAt      time.Time
}
