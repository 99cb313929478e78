// Package store defines the persistence boundary for customers, sessions,
// messages, agents and bot personalities.
//
// Two implementations exist: postgres (row locks and conditional updates)
// and memstore (a single mutex with copy-on-write transactions).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/omnidesk/omnidesk/pkg/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write violates a uniqueness constraint,
	// e.g. a second active customer-initiated session for the same customer.
	ErrConflict = errors.New("record conflict")
)

// Queries is the set of operations available both inside and outside a transaction.
// Returned records are copies; mutating them does not affect stored state.
type Queries interface {
	// UpsertCustomer inserts the customer or, when (organization_id, phone)
	// already exists, bumps last_contact_at. The stored row is returned.
	UpsertCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error)
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	// LockCustomer takes a row lock on the customer for the rest of the transaction.
	LockCustomer(ctx context.Context, id string) error

	// FindActiveSession returns the active customer-initiated session of a customer.
	FindActiveSession(ctx context.Context, organizationID, customerID string) (*models.ChatSession, error)
	// GetSession loads a session; forUpdate locks the row until the transaction ends.
	GetSession(ctx context.Context, id string, forUpdate bool) (*models.ChatSession, error)
	CreateSession(ctx context.Context, s *models.ChatSession) error
	// UpdateSession writes every mutable field of s.
	UpdateSession(ctx context.Context, s *models.ChatSession) error
	// ListPendingSessions returns active sessions waiting for a human agent,
	// highest priority first and oldest first within a priority. A positive
	// limit caps the result.
	ListPendingSessions(ctx context.Context, limit int) ([]*models.ChatSession, error)
	// ListIdleSessions returns active sessions whose last activity is before
	// cutoff, least recently active first. A positive limit caps the result.
	ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.ChatSession, error)

	// CreateMessage inserts m and sets m.Seq.
	CreateMessage(ctx context.Context, m *models.Message) error
	// ListMessages returns messages ordered by (created_at, seq). A positive
	// limit keeps only the latest limit messages, still in ascending order.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
	// MessagesSince returns messages created at or after since, ascending.
	MessagesSince(ctx context.Context, sessionID string, since time.Time) ([]*models.Message, error)

	CreateAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	// ListAvailableAgents returns active, online/available agents of the
	// organization that still have capacity.
	ListAvailableAgents(ctx context.Context, organizationID string) ([]*models.Agent, error)
	// TryReserveAgentSlot atomically increments current_active_chats when it
	// is below max_concurrent_chats. It reports whether a slot was taken.
	TryReserveAgentSlot(ctx context.Context, agentID string) (bool, error)
	// ReleaseAgentSlot decrements current_active_chats, never below zero.
	ReleaseAgentSlot(ctx context.Context, agentID string) error

	CreateBotPersonality(ctx context.Context, b *models.BotPersonality) error
	// DefaultBotPersonality returns the organization's active bot, preferring
	// the one flagged default.
	DefaultBotPersonality(ctx context.Context, organizationID string) (*models.BotPersonality, error)
}

// Store is a Queries implementation that can also run transactions.
type Store interface {
	Queries

	// InTx runs fn inside a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(q Queries) error) error

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
}
