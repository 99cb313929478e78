package postgres

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/omnidesk/omnidesk/pkg/models"
	"github.com/omnidesk/omnidesk/pkg/store"
)

var agentColumns = []string{
	"id", "organization_id", "name", "status", "availability_status", "department",
	"specialization", "languages", "skills",
	"max_concurrent_chats", "current_active_chats", "rating", "created_at", "updated_at",
}

func scanAgent(row rowScanner) (*models.Agent, error) {
	var (
		a                             models.Agent
		status, availability          string
		specialization, langs, skills []byte
	)
	if err := row.Scan(
		&a.ID, &a.OrganizationID, &a.Name, &status, &availability, &a.Department,
		&specialization, &langs, &skills,
		&a.MaxConcurrentChats, &a.CurrentActiveChats, &a.Rating, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = models.AgentStatus(status)
	a.Availability = models.Availability(availability)
	var err error
	if a.Specialization, err = unmarshalList(specialization); err != nil {
		return nil, err
	}
	if a.Languages, err = unmarshalList(langs); err != nil {
		return nil, err
	}
	if a.Skills, err = unmarshalList(skills); err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *queries) CreateAgent(ctx context.Context, a *models.Agent) error {
	spec, err := marshalList(a.Specialization)
	if err != nil {
		return err
	}
	langs, err := marshalList(a.Languages)
	if err != nil {
		return err
	}
	skills, err := marshalList(a.Skills)
	if err != nil {
		return err
	}
	ins := psql.Insert(tableAgents).
		Columns(agentColumns...).
		Values(a.ID, a.OrganizationID, a.Name, string(a.Status), string(a.Availability), a.Department,
			spec, langs, skills,
			a.MaxConcurrentChats, a.CurrentActiveChats, a.Rating, a.CreatedAt, a.UpdatedAt)
	if _, err := q.exec(ctx, ins); err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

func (q *queries) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	sel := psql.Select(agentColumns...).
		From(psql.Table(tableAgents)).
		Where(entsql.EQ("id", id))
	a, err := scanAgent(q.queryRow(ctx, sel))
	if err != nil {
		return nil, notFound(err, "agent", id)
	}
	return a, nil
}

func (q *queries) ListAvailableAgents(ctx context.Context, organizationID string) ([]*models.Agent, error) {
	sel := psql.Select(agentColumns...).
		From(psql.Table(tableAgents)).
		Where(entsql.And(
			entsql.EQ("organization_id", organizationID),
			entsql.EQ("status", string(models.AgentStatusActive)),
			entsql.In("availability_status", string(models.AvailabilityOnline), string(models.AvailabilityAvailable)),
			entsql.ColumnsLT("current_active_chats", "max_concurrent_chats"),
		)).
		OrderBy("id")

	rows, err := q.query(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agents: %w", err)
	}
	return out, nil
}

// TryReserveAgentSlot increments current_active_chats only while it is below
// max_concurrent_chats. The check and the increment are one statement, so two
// concurrent reservations can never overbook the agent.
func (q *queries) TryReserveAgentSlot(ctx context.Context, agentID string) (bool, error) {
	upd := psql.Update(tableAgents).
		Add("current_active_chats", 1).
		Where(entsql.And(
			entsql.EQ("id", agentID),
			entsql.ColumnsLT("current_active_chats", "max_concurrent_chats"),
		))
	return q.adjustSlot(ctx, agentID, upd)
}

// ReleaseAgentSlot decrements current_active_chats, never below zero.
func (q *queries) ReleaseAgentSlot(ctx context.Context, agentID string) error {
	upd := psql.Update(tableAgents).
		Add("current_active_chats", -1).
		Where(entsql.And(
			entsql.EQ("id", agentID),
			entsql.GT("current_active_chats", 0),
		))
	_, err := q.adjustSlot(ctx, agentID, upd)
	return err
}

// adjustSlot runs a conditional counter update and distinguishes
// "condition not met" from "agent missing".
func (q *queries) adjustSlot(ctx context.Context, agentID string, upd *entsql.UpdateBuilder) (bool, error) {
	res, err := q.exec(ctx, upd)
	if err != nil {
		return false, fmt.Errorf("failed to update agent %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	ok, err := q.exists(ctx, tableAgents, agentID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("agent %s: %w", agentID, store.ErrNotFound)
	}
	return false, nil
}
