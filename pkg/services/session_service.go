package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/omnidesk/omnidesk/pkg/config"
	"github.com/omnidesk/omnidesk/pkg/events"
	"github.com/omnidesk/omnidesk/pkg/metrics"
	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/store"
)

// Customer-facing system messages.
const (
	handoverMessage = "You are now connected with %s."
	queuedMessage   = "All of our agents are busy right now. You are in the queue and will be connected shortly."
	transferMessage = "Your conversation has been transferred to %s."
)

// Session metadata keys written by escalation.
const (
	metaEscalationTriggers = "escalation_triggers"
	metaEscalationReasons  = "escalation_reasons"
	metaEscalatedAt        = "escalated_at"
	metaTransferredFrom    = "transferred_from"
)

// ChannelContext describes where a new session comes from.
type ChannelContext struct {
	ChannelConfigID string
	SessionType     models.SessionType // defaults to customer_initiated
	Metadata        map[string]any
}

// EscalationOutcome reports what Escalate or RetryAssignment did.
type EscalationOutcome struct {
	Session  *models.ChatSession
	Agent    *models.Agent // nil unless a handover happened
	Queued   bool          // parked in PENDING_HUMAN
	Attempts int           // reservation attempts made

	// Notice is the system message this call added for the customer
	// (handover or queued). Nil when the session was left as it was.
	Notice *models.Message
}

// SessionService manages the chat session lifecycle:
// BOT_OWNED -> PENDING_HUMAN -> AGENT_OWNED -> ENDED.
type SessionService struct {
	deps    Deps
	matcher *AgentMatcher
	cfg     *config.EscalationConfig
}

// NewSessionService creates a new SessionService. A nil matcher matches
// against deps.Store; a nil cfg uses the built-in escalation defaults.
func NewSessionService(deps Deps, matcher *AgentMatcher, cfg *config.EscalationConfig) *SessionService {
	deps = deps.withDefaults()
	if matcher == nil {
		matcher = NewAgentMatcher(deps.Store)
	}
	if cfg == nil {
		cfg = config.DefaultEscalationConfig()
	}
	return &SessionService{deps: deps, matcher: matcher, cfg: cfg}
}

// Get returns a session scoped to organizationID.
func (s *SessionService) Get(ctx context.Context, organizationID, id string) (*models.ChatSession, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.OrganizationID != organizationID {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, nil
}

// Create returns the customer's active customer-initiated session, or
// creates one. created reports whether a new session was inserted.
// New sessions are bot-owned when the organization has an active bot
// personality, pending a human otherwise.
func (s *SessionService) Create(ctx context.Context, customer *models.Customer, ch ChannelContext) (*models.ChatSession, bool, error) {
	if customer == nil || customer.ID == "" {
		return nil, false, NewValidationError("customer", "required")
	}
	sessionType := ch.SessionType
	if sessionType == "" {
		sessionType = models.SessionTypeCustomerInitiated
	}

	var (
		sess    *models.ChatSession
		created bool
	)
	err := s.deps.Store.InTx(ctx, func(q store.Queries) error {
		// Serialises concurrent first messages of the same customer.
		if err := q.LockCustomer(ctx, customer.ID); err != nil {
			return translate(err, "customer "+customer.ID)
		}

		if sessionType == models.SessionTypeCustomerInitiated {
			existing, err := q.FindActiveSession(ctx, customer.OrganizationID, customer.ID)
			if err == nil {
				sess = existing
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("failed to look up active session: %w", err)
			}
		}

		now := s.deps.Clock.Now()
		meta := maps.Clone(ch.Metadata)
		if meta == nil {
			meta = map[string]any{}
		}
		ns := &models.ChatSession{
			ID:              uuid.New().String(),
			OrganizationID:  customer.OrganizationID,
			CustomerID:      customer.ID,
			ChannelConfigID: ch.ChannelConfigID,
			SessionToken:    shortuuid.New(),
			SessionType:     sessionType,
			IsActive:        true,
			StartedAt:       now,
			LastActivityAt:  now,
			Priority:        models.PriorityNormal,
			Sentiment:       models.SentimentNeutral,
			SentimentScore:  0.5,
			Metadata:        meta,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		bot, err := q.DefaultBotPersonality(ctx, customer.OrganizationID)
		switch {
		case err == nil:
			ns.IsBotSession = true
			ns.BotPersonalityID = &bot.ID
		case errors.Is(err, store.ErrNotFound):
			// No bot configured: the session waits for a human.
		default:
			return fmt.Errorf("failed to look up bot personality: %w", err)
		}

		if err := q.CreateSession(ctx, ns); err != nil {
			return translate(err, "session")
		}
		sess, created = ns, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		slog.Info("Chat session created",
			"session_id", sess.ID,
			"organization_id", sess.OrganizationID,
			"customer_id", sess.CustomerID,
			"state", sess.State())
		s.deps.Metrics.SessionCreated(string(sess.State()))
		s.deps.publish(ctx, events.EventTypeSessionCreated, sess.OrganizationID, sess.ID, map[string]any{
			"customer_id": sess.CustomerID,
			"state":       string(sess.State()),
		})
	}
	return sess, created, nil
}

// Handover assigns a bot-owned or queued session to agentID.
// The agent's capacity is reserved atomically; when the agent is full the
// session is left unchanged and ErrCapacityExceeded is returned.
func (s *SessionService) Handover(ctx context.Context, sessionID, agentID, reason string) (*models.ChatSession, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if agentID == "" {
		return nil, NewValidationError("agent_id", "required")
	}
	if reason == "" {
		reason = "Manual handover"
	}
	agent, err := s.deps.Store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, translate(err, "agent "+agentID)
	}
	sess, _, err := s.handover(ctx, sessionID, agent, reason, nil)
	return sess, err
}

// Escalate applies a verdict: records priority and reason, then hands the
// session to the best available agent, or parks it in PENDING_HUMAN when
// nobody can take it. A verdict with ShouldEscalate=false is a no-op.
func (s *SessionService) Escalate(ctx context.Context, sessionID string, v models.EscalationVerdict) (*EscalationOutcome, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !v.ShouldEscalate {
		return &EscalationOutcome{Session: sess}, nil
	}
	if err := checkTransition(sess.State(), models.StatePendingHuman); err != nil {
		return nil, err
	}
	if !v.Priority.IsValid() {
		v.Priority = models.PriorityNormal
	}

	slog.Info("Escalating session",
		"session_id", sess.ID,
		"organization_id", sess.OrganizationID,
		"triggers", v.TriggerNames(),
		"priority", v.Priority,
		"reason", v.Reason)
	s.deps.Metrics.Escalated(v.TriggerNames(), string(v.Priority))
	s.deps.publish(ctx, events.EventTypeSessionEscalated, sess.OrganizationID, sess.ID, map[string]any{
		"triggers": v.TriggerNames(),
		"reason":   v.Reason,
		"reasons":  v.Reasons,
		"priority": string(v.Priority),
	})

	return s.assign(ctx, sess, v)
}

// RetryAssignment tries again to hand a queued session to an agent, using
// the priority and reason recorded when it was escalated. Sessions that
// are not pending are returned unchanged.
func (s *SessionService) RetryAssignment(ctx context.Context, sessionID string) (*EscalationOutcome, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State() != models.StatePendingHuman {
		return &EscalationOutcome{Session: sess}, nil
	}
	return s.assign(ctx, sess, models.EscalationVerdict{
		ShouldEscalate: true,
		Priority:       sess.Priority,
		Reason:         sess.HandoverReason,
	})
}

// assign runs the match-and-reserve loop. Losing a capacity race excludes
// that agent and re-matches, up to MaxHandoverAttempts reservations.
func (s *SessionService) assign(ctx context.Context, sess *models.ChatSession, v models.EscalationVerdict) (*EscalationOutcome, error) {
	rule := s.cfg.RuleFor(v.Priority)
	criteria := Criteria{
		Department:     rule.Department,
		Specialization: rule.Specialization,
		Languages:      rule.Languages,
	}
	fallback := s.cfg.ShouldFallback() && !criteria.IsZero()
	maxAttempts := s.cfg.MaxHandoverAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultMaxHandoverAttempts
	}

	var excluded []string
	attempts := 0
	for attempts < maxAttempts {
		c := criteria
		c.ExcludeAgentIDs = excluded
		agent, err := s.matcher.FindAvailable(ctx, sess.OrganizationID, c)
		if err != nil {
			return nil, err
		}
		if agent == nil {
			if fallback {
				slog.Debug("No agent matches routing rule, falling back to any agent",
					"session_id", sess.ID, "priority", v.Priority)
				fallback = false
				criteria = Criteria{}
				continue
			}
			break
		}

		attempts++
		updated, notice, err := s.handover(ctx, sess.ID, agent, v.Reason, &v)
		switch {
		case err == nil:
			return &EscalationOutcome{Session: updated, Agent: agent, Attempts: attempts, Notice: notice}, nil
		case errors.Is(err, ErrCapacityExceeded):
			slog.Info("Agent filled up before handover, re-matching",
				"session_id", sess.ID, "agent_id", agent.ID, "attempt", attempts)
			excluded = append(excluded, agent.ID)
		case errors.Is(err, ErrInvalidTransition):
			// Another request assigned or ended the session first.
			cur, lerr := s.load(ctx, sess.ID)
			if lerr != nil {
				return nil, lerr
			}
			return &EscalationOutcome{Session: cur, Attempts: attempts}, nil
		default:
			return nil, err
		}
	}

	parked, notice, err := s.park(ctx, sess.ID, v)
	if err != nil {
		return nil, err
	}
	return &EscalationOutcome{
		Session:  parked,
		Queued:   parked.State() == models.StatePendingHuman,
		Attempts: attempts,
		Notice:   notice,
	}, nil
}

// checkTransition returns ErrInvalidTransition unless from may move to to.
func checkTransition(from, to models.SessionState) error {
	if !models.CanTransition(from, to) {
		return transitionError(string(from), string(to))
	}
	return nil
}

// handover moves a bot-owned or pending session to agent in one
// transaction. verdict, when set, is recorded on the session too. It
// returns the handover system message along with the session.
func (s *SessionService) handover(ctx context.Context, sessionID string, agent *models.Agent, reason string, verdict *models.EscalationVerdict) (*models.ChatSession, *models.Message, error) {
	var (
		out    *models.ChatSession
		notice *models.Message
	)
	err := s.deps.Store.InTx(ctx, func(q store.Queries) error {
		sess, err := q.GetSession(ctx, sessionID, true)
		if err != nil {
			return translate(err, "session "+sessionID)
		}
		if agent.OrganizationID != sess.OrganizationID {
			return fmt.Errorf("agent %s: %w", agent.ID, ErrNotFound)
		}
		st := sess.State()
		if st == models.StateAgentOwned {
			// Moving an owned session between agents is a Transfer.
			return transitionError(string(st), string(models.StateAgentOwned))
		}
		if err := checkTransition(st, models.StateAgentOwned); err != nil {
			return err
		}
		if agent.Status != models.AgentStatusActive {
			return NewValidationError("agent_id", "agent is not active")
		}

		ok, err := q.TryReserveAgentSlot(ctx, agent.ID)
		if err != nil {
			return translate(err, "agent "+agent.ID)
		}
		if !ok {
			return fmt.Errorf("agent %s: %w", agent.ID, ErrCapacityExceeded)
		}

		now := s.deps.Clock.Now()
		if verdict != nil {
			applyVerdict(sess, *verdict, now)
		}
		agentID := agent.ID
		sess.AgentID = &agentID
		sess.IsBotSession = false
		sess.HandoverAt = &now
		sess.HandoverReason = reason

		m, err := appendMessage(ctx, q, sess, NewMessage{
			SenderType:  models.SenderSystem,
			MessageType: models.MessageTypeSystem,
			Content:     fmt.Sprintf(handoverMessage, displayName(agent)),
			Metadata:    map[string]any{models.MetaEvent: "handover", "agent_id": agent.ID},
		}, now)
		if err != nil {
			return err
		}
		if err := q.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		out, notice = sess, m
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCapacityExceeded) {
			s.deps.Metrics.Handover(metrics.HandoverCapacityExceeded)
		}
		return nil, nil, err
	}

	slog.Info("Session handed over",
		"session_id", out.ID,
		"organization_id", out.OrganizationID,
		"agent_id", agent.ID,
		"reason", reason)
	s.deps.Metrics.Handover(metrics.HandoverAssigned)
	s.deps.publish(ctx, events.EventTypeSessionHandover, out.OrganizationID, out.ID, map[string]any{
		"agent_id": agent.ID,
		"reason":   reason,
		"priority": string(out.Priority),
	})
	return out, notice, nil
}

// park records the verdict and leaves the session waiting for a human.
// Only the BOT_OWNED -> PENDING_HUMAN move tells the customer and emits
// session.pending; a retry on an already queued session stays quiet.
func (s *SessionService) park(ctx context.Context, sessionID string, v models.EscalationVerdict) (*models.ChatSession, *models.Message, error) {
	var (
		out      *models.ChatSession
		notice   *models.Message
		newQueue bool
	)
	err := s.deps.Store.InTx(ctx, func(q store.Queries) error {
		sess, err := q.GetSession(ctx, sessionID, true)
		if err != nil {
			return translate(err, "session "+sessionID)
		}
		st := sess.State()
		if st == models.StateAgentOwned {
			// Assigned by a concurrent request; nothing to park.
			out = sess
			return nil
		}
		if err := checkTransition(st, models.StatePendingHuman); err != nil {
			return err
		}

		now := s.deps.Clock.Now()
		newQueue = st == models.StateBotOwned
		applyVerdict(sess, v, now)
		sess.IsBotSession = false
		if newQueue {
			notice, err = appendMessage(ctx, q, sess, NewMessage{
				SenderType:  models.SenderSystem,
				MessageType: models.MessageTypeSystem,
				Content:     queuedMessage,
				Metadata:    map[string]any{models.MetaEvent: "queued"},
			}, now)
			if err != nil {
				return err
			}
		} else {
			sess.LastActivityAt = now
			sess.UpdatedAt = now
		}
		if err := q.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if newQueue {
		slog.Warn("No agent available, session queued",
			"session_id", out.ID,
			"organization_id", out.OrganizationID,
			"priority", out.Priority,
			"reason", out.HandoverReason)
		s.deps.Metrics.Handover(metrics.HandoverQueued)
		s.deps.publish(ctx, events.EventTypeSessionPending, out.OrganizationID, out.ID, map[string]any{
			"priority": string(out.Priority),
			"reason":   out.HandoverReason,
		})
	}
	return out, notice, nil
}

// End closes an active session and frees the agent's slot. Ending an
// already ended session returns it unchanged.
func (s *SessionService) End(ctx context.Context, sessionID string, resolution models.ResolutionType, notes string) (*models.ChatSession, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if resolution == "" {
		resolution = models.ResolutionResolved
	}
	if !resolution.IsValid() {
		return nil, NewValidationError("resolution_type", fmt.Sprintf("unknown resolution %q", resolution))
	}
	out, _, err := s.end(ctx, sessionID, resolution, notes, nil)
	return out, err
}

// EndIfIdle ends the session with resolution timeout when it has had no
// activity since cutoff. The check runs under the session lock, so a
// message racing the close keeps the session open. It reports whether the
// session was ended by this call.
func (s *SessionService) EndIfIdle(ctx context.Context, sessionID string, cutoff time.Time) (bool, error) {
	if sessionID == "" {
		return false, NewValidationError("session_id", "required")
	}
	_, ended, err := s.end(ctx, sessionID, models.ResolutionTimeout, "Closed after inactivity",
		func(sess *models.ChatSession) bool {
			return sess.LastActivityAt.Before(cutoff)
		})
	return ended, err
}

// end runs the ENDED transition. A non-nil guard is checked on the locked
// row; when it returns false the session is left untouched.
func (s *SessionService) end(ctx context.Context, sessionID string, resolution models.ResolutionType, notes string, guard func(*models.ChatSession) bool) (*models.ChatSession, bool, error) {
	var (
		out     *models.ChatSession
		agentID string
		ended   bool
	)
	err := s.deps.Store.InTx(ctx, func(q store.Queries) error {
		sess, err := q.GetSession(ctx, sessionID, true)
		if err != nil {
			return translate(err, "session "+sessionID)
		}
		if !sess.IsActive || (guard != nil && !guard(sess)) {
			out = sess
			return nil
		}
		if err := checkTransition(sess.State(), models.StateEnded); err != nil {
			return err
		}
		if sess.State() == models.StateAgentOwned {
			agentID = sess.AssignedAgent()
			if err := q.ReleaseAgentSlot(ctx, agentID); err != nil {
				return translate(err, "agent "+agentID)
			}
		}

		now := s.deps.Clock.Now()
		sess.IsActive = false
		sess.EndedAt = &now
		sess.IsResolved = resolution.IsResolved()
		sess.ResolutionType = resolution
		sess.ResolutionNotes = notes
		sess.LastActivityAt = now
		sess.UpdatedAt = now
		if err := q.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		out, ended = sess, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if ended {
		slog.Info("Session ended",
			"session_id", out.ID,
			"organization_id", out.OrganizationID,
			"resolution_type", resolution,
			"agent_id", agentID)
		s.deps.Metrics.SessionEnded(string(resolution))
		s.deps.publish(ctx, events.EventTypeSessionEnded, out.OrganizationID, out.ID, map[string]any{
			"resolution_type": string(resolution),
			"agent_id":        agentID,
		})
	}
	return out, ended, nil
}

// Transfer moves an agent-owned session to another agent. The target's
// slot is reserved before the current agent's slot is released.
func (s *SessionService) Transfer(ctx context.Context, sessionID, toAgentID, reason string) (*models.ChatSession, error) {
	if sessionID == "" {
		return nil, NewValidationError("session_id", "required")
	}
	if toAgentID == "" {
		return nil, NewValidationError("agent_id", "required")
	}
	target, err := s.deps.Store.GetAgent(ctx, toAgentID)
	if err != nil {
		return nil, translate(err, "agent "+toAgentID)
	}

	var (
		out       *models.ChatSession
		fromAgent string
	)
	err = s.deps.Store.InTx(ctx, func(q store.Queries) error {
		sess, err := q.GetSession(ctx, sessionID, true)
		if err != nil {
			return translate(err, "session "+sessionID)
		}
		st := sess.State()
		if st != models.StateAgentOwned {
			// Assigning a bot-owned or queued session is a handover.
			return transitionError(string(st), string(models.StateAgentOwned))
		}
		if err := checkTransition(st, models.StateAgentOwned); err != nil {
			return err
		}
		if target.OrganizationID != sess.OrganizationID {
			return fmt.Errorf("agent %s: %w", toAgentID, ErrNotFound)
		}
		fromAgent = sess.AssignedAgent()
		if fromAgent == toAgentID {
			return NewValidationError("agent_id", "session is already assigned to this agent")
		}
		if target.Status != models.AgentStatusActive {
			return NewValidationError("agent_id", "agent is not active")
		}

		ok, err := q.TryReserveAgentSlot(ctx, toAgentID)
		if err != nil {
			return translate(err, "agent "+toAgentID)
		}
		if !ok {
			return fmt.Errorf("agent %s: %w", toAgentID, ErrCapacityExceeded)
		}
		if err := q.ReleaseAgentSlot(ctx, fromAgent); err != nil {
			return translate(err, "agent "+fromAgent)
		}

		now := s.deps.Clock.Now()
		sess.AgentID = &toAgentID
		if reason != "" {
			sess.HandoverReason = reason
		}
		if sess.Metadata == nil {
			sess.Metadata = map[string]any{}
		}
		sess.Metadata[metaTransferredFrom] = fromAgent

		if _, err := appendMessage(ctx, q, sess, NewMessage{
			SenderType:  models.SenderSystem,
			MessageType: models.MessageTypeSystem,
			Content:     fmt.Sprintf(transferMessage, displayName(target)),
			Metadata:    map[string]any{models.MetaEvent: "transfer", "agent_id": toAgentID, "from_agent_id": fromAgent},
		}, now); err != nil {
			return err
		}
		if err := q.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Session transferred",
		"session_id", out.ID,
		"organization_id", out.OrganizationID,
		"from_agent_id", fromAgent,
		"to_agent_id", toAgentID)
	s.deps.publish(ctx, events.EventTypeSessionTransferred, out.OrganizationID, out.ID, map[string]any{
		"from_agent_id": fromAgent,
		"to_agent_id":   toAgentID,
		"reason":        reason,
	})
	return out, nil
}

// Rate stores the customer's satisfaction rating (1-5) on an ended session.
func (s *SessionService) Rate(ctx context.Context, sessionID string, rating int) (*models.ChatSession, error) {
	if rating < 1 || rating > 5 {
		return nil, NewValidationError("rating", "must be between 1 and 5")
	}
	var out *models.ChatSession
	err := s.deps.Store.InTx(ctx, func(q store.Queries) error {
		sess, err := q.GetSession(ctx, sessionID, true)
		if err != nil {
			return translate(err, "session "+sessionID)
		}
		if sess.IsActive {
			return fmt.Errorf("%w: only ended sessions can be rated", ErrInvalidTransition)
		}
		sess.SatisfactionRating = &rating
		sess.UpdatedAt = s.deps.Clock.Now()
		if err := q.UpdateSession(ctx, sess); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SessionService) load(ctx context.Context, id string) (*models.ChatSession, error) {
	if id == "" {
		return nil, NewValidationError("session_id", "required")
	}
	sess, err := s.deps.Store.GetSession(ctx, id, false)
	if err != nil {
		return nil, translate(err, "session "+id)
	}
	return sess, nil
}

// applyVerdict records an escalation on the session. Priority only ever
// rises.
func applyVerdict(sess *models.ChatSession, v models.EscalationVerdict, now time.Time) {
	if v.Priority.Rank() > sess.Priority.Rank() || !sess.Priority.IsValid() {
		sess.Priority = v.Priority
	}
	if v.Reason != "" {
		sess.HandoverReason = v.Reason
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]any{}
	}
	if len(v.Triggers) > 0 {
		sess.Metadata[metaEscalationTriggers] = v.TriggerNames()
		sess.Metadata[metaEscalationReasons] = v.Reasons
		sess.Metadata[metaEscalatedAt] = now.Format(time.RFC3339Nano)
	}
}

func displayName(a *models.Agent) string {
	if a.Name != "" {
		return a.Name
	}
	return "an agent"
}
