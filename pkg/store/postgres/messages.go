package postgres

import (
	"context"
	"fmt"
	"slices"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/omnidesk/omnidesk/pkg/models"
)

var messageColumns = []string{
	"id", "seq", "organization_id", "session_id", "sender_type", "sender_id",
	"message_type", "content", "metadata", "created_at",
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m          models.Message
		senderType string
		meta       []byte
	)
	if err := row.Scan(
		&m.ID, &m.Seq, &m.OrganizationID, &m.SessionID, &senderType, &m.SenderID,
		&m.MessageType, &m.Content, &meta, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	m.SenderType = models.SenderType(senderType)
	var err error
	if m.Metadata, err = unmarshalMap(meta); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMessage inserts m and sets m.Seq from the BIGSERIAL column.
func (q *queries) CreateMessage(ctx context.Context, m *models.Message) error {
	meta, err := marshalMap(m.Metadata)
	if err != nil {
		return err
	}
	ins := psql.Insert(tableMessages).
		Columns("id", "organization_id", "session_id", "sender_type", "sender_id",
			"message_type", "content", "metadata", "created_at").
		Values(m.ID, m.OrganizationID, m.SessionID, string(m.SenderType), m.SenderID,
			m.MessageType, m.Content, meta, m.CreatedAt).
		Returning("seq")

	if err := q.queryRow(ctx, ins).Scan(&m.Seq); err != nil {
		return fmt.Errorf("failed to create message: %w", mapError(err))
	}
	return nil
}

func (q *queries) ListMessages(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	sel := psql.Select(messageColumns...).
		From(psql.Table(tableMessages)).
		Where(entsql.EQ("session_id", sessionID))
	if limit <= 0 {
		return q.listMessages(ctx, sel.OrderBy("created_at", "seq"))
	}

	// Take the newest limit rows, then restore ascending order.
	msgs, err := q.listMessages(ctx, sel.OrderBy(entsql.Desc("created_at"), entsql.Desc("seq")).Limit(limit))
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

func (q *queries) MessagesSince(ctx context.Context, sessionID string, since time.Time) ([]*models.Message, error) {
	sel := psql.Select(messageColumns...).
		From(psql.Table(tableMessages)).
		Where(entsql.And(
			entsql.EQ("session_id", sessionID),
			entsql.GTE("created_at", since),
		)).
		OrderBy("created_at", "seq")
	return q.listMessages(ctx, sel)
}

func (q *queries) listMessages(ctx context.Context, sel *entsql.Selector) ([]*models.Message, error) {
	rows, err := q.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}
