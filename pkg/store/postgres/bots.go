package postgres

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/omnidesk/omnidesk/pkg/models"
)

var botColumns = []string{"id", "organization_id", "name", "is_active", "is_default", "created_at"}

func (q *queries) CreateBotPersonality(ctx context.Context, b *models.BotPersonality) error {
	ins := psql.Insert(tableBots).
		Columns(botColumns...).
		Values(b.ID, b.OrganizationID, b.Name, b.IsActive, b.IsDefault, b.CreatedAt)
	if _, err := q.exec(ctx, ins); err != nil {
		return fmt.Errorf("failed to create bot personality: %w", err)
	}
	return nil
}

// DefaultBotPersonality prefers the default bot, then the oldest active one.
func (q *queries) DefaultBotPersonality(ctx context.Context, organizationID string) (*models.BotPersonality, error) {
	sel := psql.Select(botColumns...).
		From(psql.Table(tableBots)).
		Where(entsql.And(
			entsql.EQ("organization_id", organizationID),
			entsql.EQ("is_active", true),
		)).
		OrderBy(entsql.Desc("is_default"), "created_at", "id").
		Limit(1)

	var b models.BotPersonality
	err := q.queryRow(ctx, sel).Scan(&b.ID, &b.OrganizationID, &b.Name, &b.IsActive, &b.IsDefault, &b.CreatedAt)
	if err != nil {
		return nil, notFound(err, "bot personality for organization", organizationID)
	}
	return &b, nil
}
