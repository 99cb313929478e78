package postgres

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/store"
)

var sessionColumns = []string{
	"id", "organization_id", "customer_id", "agent_id", "bot_personality_id",
	"channel_config_id", "session_token", "session_type",
	"is_active", "is_bot_session", "is_resolved",
	"started_at", "ended_at", "last_activity_at", "first_response_at", "handover_at", "handover_reason",
	"priority", "intent", "category", "sentiment", "sentiment_score",
	"total_messages", "customer_messages", "bot_messages", "agent_messages",
	"satisfaction_rating", "resolution_type", "resolution_notes", "metadata",
	"created_at", "updated_at",
}

// priorityRankDesc orders high before medium before normal. It matches the
// expression of chat_sessions_pending_idx.
const priorityRankDesc = "(CASE priority WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END) DESC"

func scanSession(row rowScanner) (*models.ChatSession, error) {
	var (
		s                                                models.ChatSession
		agentID, botID                                   stdsql.NullString
		endedAt, firstResponseAt, handoverAt             stdsql.NullTime
		rating                                           stdsql.NullInt64
		sessionType, priority, sentiment, resolutionType string
		meta                                             []byte
	)
	if err := row.Scan(
		&s.ID, &s.OrganizationID, &s.CustomerID, &agentID, &botID,
		&s.ChannelConfigID, &s.SessionToken, &sessionType,
		&s.IsActive, &s.IsBotSession, &s.IsResolved,
		&s.StartedAt, &endedAt, &s.LastActivityAt, &firstResponseAt, &handoverAt, &s.HandoverReason,
		&priority, &s.Intent, &s.Category, &sentiment, &s.SentimentScore,
		&s.TotalMessages, &s.CustomerMessages, &s.BotMessages, &s.AgentMessages,
		&rating, &resolutionType, &s.ResolutionNotes, &meta,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.SessionType = models.SessionType(sessionType)
	s.Priority = models.Priority(priority)
	s.Sentiment = models.Sentiment(sentiment)
	s.ResolutionType = models.ResolutionType(resolutionType)
	if agentID.Valid {
		s.AgentID = &agentID.String
	}
	if botID.Valid {
		s.BotPersonalityID = &botID.String
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	if firstResponseAt.Valid {
		s.FirstResponseAt = &firstResponseAt.Time
	}
	if handoverAt.Valid {
		s.HandoverAt = &handoverAt.Time
	}
	if rating.Valid {
		r := int(rating.Int64)
		s.SatisfactionRating = &r
	}
	var err error
	if s.Metadata, err = unmarshalMap(meta); err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *queries) FindActiveSession(ctx context.Context, organizationID, customerID string) (*models.ChatSession, error) {
	sel := psql.Select(sessionColumns...).
		From(psql.Table(tableSessions)).
		Where(entsql.And(
			entsql.EQ("organization_id", organizationID),
			entsql.EQ("customer_id", customerID),
			entsql.EQ("is_active", true),
			entsql.EQ("session_type", string(models.SessionTypeCustomerInitiated)),
		))
	s, err := scanSession(q.queryRow(ctx, sel))
	if err != nil {
		return nil, notFound(err, "active session for customer", customerID)
	}
	return s, nil
}

func (q *queries) GetSession(ctx context.Context, id string, forUpdate bool) (*models.ChatSession, error) {
	sel := psql.Select(sessionColumns...).
		From(psql.Table(tableSessions)).
		Where(entsql.EQ("id", id))
	if forUpdate {
		sel = sel.ForUpdate()
	}
	s, err := scanSession(q.queryRow(ctx, sel))
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return s, nil
}

func (q *queries) CreateSession(ctx context.Context, s *models.ChatSession) error {
	meta, err := marshalMap(s.Metadata)
	if err != nil {
		return err
	}
	ins := psql.Insert(tableSessions).
		Columns(sessionColumns...).
		Values(
			s.ID, s.OrganizationID, s.CustomerID, s.AgentID, s.BotPersonalityID,
			s.ChannelConfigID, s.SessionToken, string(s.SessionType),
			s.IsActive, s.IsBotSession, s.IsResolved,
			s.StartedAt, s.EndedAt, s.LastActivityAt, s.FirstResponseAt, s.HandoverAt, s.HandoverReason,
			string(s.Priority), s.Intent, s.Category, string(s.Sentiment), s.SentimentScore,
			s.TotalMessages, s.CustomerMessages, s.BotMessages, s.AgentMessages,
			s.SatisfactionRating, string(s.ResolutionType), s.ResolutionNotes, meta,
			s.CreatedAt, s.UpdatedAt,
		)
	if _, err := q.exec(ctx, ins); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (q *queries) UpdateSession(ctx context.Context, s *models.ChatSession) error {
	meta, err := marshalMap(s.Metadata)
	if err != nil {
		return err
	}
	upd := psql.Update(tableSessions).
		Set("agent_id", s.AgentID).
		Set("bot_personality_id", s.BotPersonalityID).
		Set("is_active", s.IsActive).
		Set("is_bot_session", s.IsBotSession).
		Set("is_resolved", s.IsResolved).
		Set("ended_at", s.EndedAt).
		Set("last_activity_at", s.LastActivityAt).
		Set("first_response_at", s.FirstResponseAt).
		Set("handover_at", s.HandoverAt).
		Set("handover_reason", s.HandoverReason).
		Set("priority", string(s.Priority)).
		Set("intent", s.Intent).
		Set("category", s.Category).
		Set("sentiment", string(s.Sentiment)).
		Set("sentiment_score", s.SentimentScore).
		Set("total_messages", s.TotalMessages).
		Set("customer_messages", s.CustomerMessages).
		Set("bot_messages", s.BotMessages).
		Set("agent_messages", s.AgentMessages).
		Set("satisfaction_rating", s.SatisfactionRating).
		Set("resolution_type", string(s.ResolutionType)).
		Set("resolution_notes", s.ResolutionNotes).
		Set("metadata", meta).
		Set("updated_at", s.UpdatedAt).
		Where(entsql.EQ("id", s.ID))

	res, err := q.exec(ctx, upd)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", s.ID, store.ErrNotFound)
	}
	return nil
}

func (q *queries) ListPendingSessions(ctx context.Context, limit int) ([]*models.ChatSession, error) {
	sel := psql.Select(sessionColumns...).
		From(psql.Table(tableSessions)).
		Where(entsql.And(
			entsql.EQ("is_active", true),
			entsql.EQ("is_bot_session", false),
			entsql.IsNull("agent_id"),
		)).
		OrderExpr(entsql.Expr(priorityRankDesc)).
		OrderBy("started_at", "id")
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	out, err := q.listSessions(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending sessions: %w", err)
	}
	return out, nil
}

func (q *queries) ListIdleSessions(ctx context.Context, cutoff time.Time, limit int) ([]*models.ChatSession, error) {
	sel := psql.Select(sessionColumns...).
		From(psql.Table(tableSessions)).
		Where(entsql.And(
			entsql.EQ("is_active", true),
			entsql.LT("last_activity_at", cutoff),
		)).
		OrderBy("last_activity_at", "id")
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	out, err := q.listSessions(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list idle sessions: %w", err)
	}
	return out, nil
}

func (q *queries) listSessions(ctx context.Context, sel *entsql.Selector) ([]*models.ChatSession, error) {
	rows, err := q.query(ctx, sel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ChatSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
