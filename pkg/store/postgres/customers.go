package postgres

import (
	"context"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/omnidesk/omnidesk/pkg/models"
)

var customerColumns = []string{
	"id", "organization_id", "phone", "name", "status",
	"first_contact_at", "last_contact_at", "metadata", "created_at", "updated_at",
}

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var (
		c    models.Customer
		meta []byte
	)
	if err := row.Scan(
		&c.ID, &c.OrganizationID, &c.Phone, &c.Name, &c.Status,
		&c.FirstContactAt, &c.LastContactAt, &meta, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if c.Metadata, err = unmarshalMap(meta); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCustomer inserts the customer; on (organization_id, phone) conflict
// only last_contact_at and updated_at move forward.
func (q *queries) UpsertCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error) {
	meta, err := marshalMap(c.Metadata)
	if err != nil {
		return nil, err
	}
	ins := psql.Insert(tableCustomers).
		Columns(customerColumns...).
		Values(c.ID, c.OrganizationID, c.Phone, c.Name, c.Status,
			c.FirstContactAt, c.LastContactAt, meta, c.CreatedAt, c.UpdatedAt).
		OnConflict(
			entsql.ConflictColumns("organization_id", "phone"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				u.SetExcluded("last_contact_at")
				u.SetExcluded("updated_at")
			}),
		).
		Returning(customerColumns...)

	stored, err := scanCustomer(q.queryRow(ctx, ins))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert customer: %w", mapError(err))
	}
	return stored, nil
}

func (q *queries) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	sel := psql.Select(customerColumns...).
		From(psql.Table(tableCustomers)).
		Where(entsql.EQ("id", id))
	c, err := scanCustomer(q.queryRow(ctx, sel))
	if err != nil {
		return nil, notFound(err, "customer", id)
	}
	return c, nil
}

func (q *queries) LockCustomer(ctx context.Context, id string) error {
	sel := psql.Select("id").
		From(psql.Table(tableCustomers)).
		Where(entsql.EQ("id", id)).
		ForUpdate()
	var locked string
	if err := q.queryRow(ctx, sel).Scan(&locked); err != nil {
		return notFound(err, "customer", id)
	}
	return nil
}
