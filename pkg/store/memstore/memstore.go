// Package memstore is an in-process store.Store used by tests and by
// single-node development setups.
//
// All operations are serialized by one mutex. Records are copy-on-write:
// every write stores a fresh copy, so a transaction works on a shallow copy
// of the indexes and is committed by swapping it in.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/store"
)

type phoneKey struct {
	org   string
	phone string
}

type state struct {
	customers       map[string]*models.Customer
	customerByPhone map[phoneKey]string
	sessions        map[string]*models.ChatSession
	messages        map[string][]*models.Message
	agents          map[string]*models.Agent
	bots            map[string]*models.BotPersonality
	seq             int64
}

func newState() *state {
	return &state{
		customers:       make(map[string]*models.Customer),
		customerByPhone: make(map[phoneKey]string),
		sessions:        make(map[string]*models.ChatSession),
		messages:        make(map[string][]*models.Message),
		agents:          make(map[string]*models.Agent),
		bots:            make(map[string]*models.BotPersonality),
	}
}

func (s *state) fork() *state {
	f := &state{
		customers:       maps.Clone(s.customers),
		customerByPhone: maps.Clone(s.customerByPhone),
		sessions:        maps.Clone(s.sessions),
		messages:        make(map[string][]*models.Message, len(s.messages)),
		agents:          maps.Clone(s.agents),
		bots:            maps.Clone(s.bots),
		seq:             s.seq,
	}
	for k, v := range s.messages {
		// Clip so appends in the fork never write into the parent's array.
		f.messages[k] = slices.Clip(v)
	}
	return f
}

// Store is a mutex-guarded in-memory store.Store.
type Store struct {
	mu sync.Mutex
	st *state
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against a private fork of the data and commits it when fn
// succeeds. fn must only use the Queries it is given; calling back into the
// Store from inside fn deadlocks.
func (s *Store) InTx(ctx context.Context, fn func(q store.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := &queries{st: s.st.fork()}
	if err := fn(work); err != nil {
		return err
	}
	s.st = work.st
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) do(fn func(q *queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&queries{st: s.st})
}

func (s *Store) UpsertCustomer(ctx context.Context, c *models.Customer) (out *models.Customer, err error) {
	err = s.do(func(q *queries) error {
		out, err = q.UpsertCustomer(ctx, c)
		return err
	})
	return out, err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (out *models.Customer, err error) {
	err = s.do(func(q *queries) error {
		out, err = q.GetCustomer(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) LockCustomer(ctx context.Context, id string) error {
	return s.do(func(q *queries) error { return q.LockCustomer(ctx, id) })
}

func (s *Store) FindActiveSession(ctx context.Context, organizationID, customerID string) (out *models.ChatSession, err error) {
	err = s.do(func(q *queries) error {
		out, err = q.FindActiveSession(ctx, organizationID, customerID)
		return err
	})
	return out, err
}

func (s *Store) GetSession(ctx context.Context, id string, forUpdate bool) (out *models.ChatSession, err error) {
	err = s.do(func(q *queries) error {
		out, err = q.GetSession(ctx, id, forUpdate)
		return err
	})
	return out, err
}

func (s *Store) CreateSession(ctx context.Context, cs *models.ChatSession) error {
	return s.do(func(q *queries) error { return q.CreateSession(ctx, cs) })
}

func (s *Store) UpdateSession(ctx context.Context, cs *models.ChatSession) error {
	return s.do(func(q *queries) error { return q.UpdateSession(ctx, cs) })
}

func (s *Store) ListPendingSessions(ctx context.Context, limit int) (out []*models.ChatSession, err error) {
	err = s.do(func(q *queries) error {
		out, err = q.ListPendingSessions(ctx, limit)
		return err
	})
	return out, err
}

func (s *Store) ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) (out []*models.ChatSession, err error) {
	err = s.do(func(q *queries) error {
		out, err = q.ListIdleSessions(ctx, cutoff, limit)
		return err
	})
	return out, err
}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	return s.do(func(q *queries) error { return q.CreateMessage(ctx, m) })
}

func (s *Store) ListMessages(ctx context.Context, sessionID string, limit int) (out []*models.Message, err error) {
	err = s.do(func(q *queries) error {
		out, err = q.ListMessages(ctx, sessionID, limit)
		return err
	})
	return out, err
}

func (s *Store) MessagesSince(ctx context.Context, sessionID string, since time.Time) (out []*models.Message, err error) {
	err = s.do(func(q *queries) error {
		out, err = q.MessagesSince(ctx, sessionID, since)
		return err
	})
	return out, err
}

func (s *Store) CreateAgent(ctx context.Context, a *models.Agent) error {
	return s.do(func(q *queries) error { return q.CreateAgent(ctx, a) })
}

func (s *Store) GetAgent(ctx context.Context, id string) (out *models.Agent, err error) {
	err = s.do(func(q *queries) error {
		out, err = q.GetAgent(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) ListAvailableAgents(ctx context.Context, organizationID string) (out []*models.Agent, err error) {
	err = s.do(func(q *queries) error {
		out, err = q.ListAvailableAgents(ctx, organizationID)
		return err
	})
	return out, err
}

func (s *Store) TryReserveAgentSlot(ctx context.Context, agentID string) (ok bool, err error) {
	err = s.do(func(q *queries) error {
		ok, err = q.TryReserveAgentSlot(ctx, agentID)
		return err
	})
	return ok, err
}

func (s *Store) ReleaseAgentSlot(ctx context.Context, agentID string) error {
	return s.do(func(q *queries) error { return q.ReleaseAgentSlot(ctx, agentID) })
}

func (s *Store) CreateBotPersonality(ctx context.Context, b *models.BotPersonality) error {
	return s.do(func(q *queries) error { return q.CreateBotPersonality(ctx, b) })
}

func (s *Store) DefaultBotPersonality(ctx context.Context, organizationID string) (out *models.BotPersonality, err error) {
	err = s.do(func(q *queries) error {
		out, err = q.DefaultBotPersonality(ctx, organizationID)
		return err
	})
	return out, err
}

// queries implements store.Queries over a state the caller has locked.
type queries struct {
	st *state
}

func (q *queries) UpsertCustomer(_ context.Context, c *models.Customer) (*models.Customer, error) {
	key := phoneKey{org: c.OrganizationID, phone: c.Phone}
	if id, ok := q.st.customerByPhone[key]; ok {
		existing := q.st.customers[id].Clone()
		existing.LastContactAt = c.LastContactAt
		existing.UpdatedAt = c.UpdatedAt
		q.st.customers[id] = existing
		return existing.Clone(), nil
	}
	if _, ok := q.st.customers[c.ID]; ok {
		return nil, fmt.Errorf("customer %s: %w", c.ID, store.ErrConflict)
	}
	stored := c.Clone()
	q.st.customers[c.ID] = stored
	q.st.customerByPhone[key] = c.ID
	return stored.Clone(), nil
}

func (q *queries) GetCustomer(_ context.Context, id string) (*models.Customer, error) {
	c, ok := q.st.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return c.Clone(), nil
}

func (q *queries) LockCustomer(_ context.Context, id string) error {
	if _, ok := q.st.customers[id]; !ok {
		return fmt.Errorf("customer %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (q *queries) FindActiveSession(_ context.Context, organizationID, customerID string) (*models.ChatSession, error) {
	for _, s := range q.st.sessions {
		if isActiveCustomerSession(s, organizationID, customerID) {
			return s.Clone(), nil
		}
	}
	return nil, fmt.Errorf("active session for customer %s: %w", customerID, store.ErrNotFound)
}

func (q *queries) GetSession(_ context.Context, id string, _ bool) (*models.ChatSession, error) {
	s, ok := q.st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return s.Clone(), nil
}

func (q *queries) CreateSession(_ context.Context, s *models.ChatSession) error {
	if _, ok := q.st.sessions[s.ID]; ok {
		return fmt.Errorf("session %s: %w", s.ID, store.ErrConflict)
	}
	if err := q.checkActiveUnique(s); err != nil {
		return err
	}
	q.st.sessions[s.ID] = s.Clone()
	return nil
}

func (q *queries) UpdateSession(_ context.Context, s *models.ChatSession) error {
	if _, ok := q.st.sessions[s.ID]; !ok {
		return fmt.Errorf("session %s: %w", s.ID, store.ErrNotFound)
	}
	if err := q.checkActiveUnique(s); err != nil {
		return err
	}
	q.st.sessions[s.ID] = s.Clone()
	return nil
}

func (q *queries) ListPendingSessions(_ context.Context, limit int) ([]*models.ChatSession, error) {
	var out []*models.ChatSession
	for _, s := range q.st.sessions {
		if s.State() == models.StatePendingHuman {
			out = append(out, s.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.ChatSession) int {
		if c := cmp.Compare(b.Priority.Rank(), a.Priority.Rank()); c != 0 {
			return c
		}
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *queries) ListIdleSessions(_ context.Context, cutoff time.Time, limit int) ([]*models.ChatSession, error) {
	var out []*models.ChatSession
	for _, s := range q.st.sessions {
		if s.IsActive && s.LastActivityAt.Before(cutoff) {
			out = append(out, s.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.ChatSession) int {
		if c := a.LastActivityAt.Compare(b.LastActivityAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// checkActiveUnique mirrors the partial unique index on
// chat_sessions(organization_id, customer_id) for active customer-initiated sessions.
func (q *queries) checkActiveUnique(s *models.ChatSession) error {
	if !s.IsActive || s.SessionType != models.SessionTypeCustomerInitiated {
		return nil
	}
	for id, other := range q.st.sessions {
		if id != s.ID && isActiveCustomerSession(other, s.OrganizationID, s.CustomerID) {
			return fmt.Errorf("customer %s already has active session %s: %w", s.CustomerID, id, store.ErrConflict)
		}
	}
	return nil
}

func isActiveCustomerSession(s *models.ChatSession, organizationID, customerID string) bool {
	return s.IsActive &&
		s.SessionType == models.SessionTypeCustomerInitiated &&
		s.OrganizationID == organizationID &&
		s.CustomerID == customerID
}

func (q *queries) CreateMessage(_ context.Context, m *models.Message) error {
	if _, ok := q.st.sessions[m.SessionID]; !ok {
		return fmt.Errorf("session %s: %w", m.SessionID, store.ErrNotFound)
	}
	q.st.seq++
	m.Seq = q.st.seq
	q.st.messages[m.SessionID] = append(q.st.messages[m.SessionID], m.Clone())
	return nil
}

func (q *queries) ListMessages(_ context.Context, sessionID string, limit int) ([]*models.Message, error) {
	msgs := q.sorted(sessionID)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (q *queries) MessagesSince(_ context.Context, sessionID string, since time.Time) ([]*models.Message, error) {
	var out []*models.Message
	for _, m := range q.sorted(sessionID) {
		if !m.CreatedAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (q *queries) sorted(sessionID string) []*models.Message {
	src := q.st.messages[sessionID]
	out := make([]*models.Message, len(src))
	for i, m := range src {
		out[i] = m.Clone()
	}
	slices.SortStableFunc(out, func(a, b *models.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	return out
}

func (q *queries) CreateAgent(_ context.Context, a *models.Agent) error {
	if _, ok := q.st.agents[a.ID]; ok {
		return fmt.Errorf("agent %s: %w", a.ID, store.ErrConflict)
	}
	q.st.agents[a.ID] = a.Clone()
	return nil
}

func (q *queries) GetAgent(_ context.Context, id string) (*models.Agent, error) {
	a, ok := q.st.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, store.ErrNotFound)
	}
	return a.Clone(), nil
}

func (q *queries) ListAvailableAgents(_ context.Context, organizationID string) ([]*models.Agent, error) {
	var out []*models.Agent
	for _, a := range q.st.agents {
		if a.OrganizationID == organizationID && a.IsEligible() {
			out = append(out, a.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Agent) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (q *queries) TryReserveAgentSlot(_ context.Context, agentID string) (bool, error) {
	a, ok := q.st.agents[agentID]
	if !ok {
		return false, fmt.Errorf("agent %s: %w", agentID, store.ErrNotFound)
	}
	if !a.HasCapacity() {
		return false, nil
	}
	next := a.Clone()
	next.CurrentActiveChats++
	q.st.agents[agentID] = next
	return true, nil
}

func (q *queries) ReleaseAgentSlot(_ context.Context, agentID string) error {
	a, ok := q.st.agents[agentID]
	if !ok {
		return fmt.Errorf("agent %s: %w", agentID, store.ErrNotFound)
	}
	if a.CurrentActiveChats == 0 {
		return nil
	}
	next := a.Clone()
	next.CurrentActiveChats--
	q.st.agents[agentID] = next
	return nil
}

func (q *queries) CreateBotPersonality(_ context.Context, b *models.BotPersonality) error {
	if _, ok := q.st.bots[b.ID]; ok {
		return fmt.Errorf("bot personality %s: %w", b.ID, store.ErrConflict)
	}
	cp := *b
	q.st.bots[b.ID] = &cp
	return nil
}

func (q *queries) DefaultBotPersonality(_ context.Context, organizationID string) (*models.BotPersonality, error) {
	var best *models.BotPersonality
	for _, b := range q.st.bots {
		if b.OrganizationID != organizationID || !b.IsActive {
			continue
		}
		if best == nil || betterBot(b, best) {
			best = b
		}
	}
	if best == nil {
		return nil, fmt.Errorf("bot personality for organization %s: %w", organizationID, store.ErrNotFound)
	}
	cp := *best
	return &cp, nil
}

// betterBot orders default first, then oldest, then id.
func betterBot(a, b *models.BotPersonality) bool {
	if a.IsDefault != b.IsDefault {
		return a.IsDefault
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
