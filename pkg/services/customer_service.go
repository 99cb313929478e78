package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/omnidesk/omnidesk/pkg/models"
)

// CustomerService resolves channel identities to customers.
type CustomerService struct {
	deps Deps
}

// NewCustomerService creates a new CustomerService
func NewCustomerService(deps Deps) *CustomerService {
	return &CustomerService{deps: deps.withDefaults()}
}

// NormalizePhone strips channel decorations ("@c.us", spaces, dashes and
// brackets) from a sender address, keeping a leading '+'.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Upsert returns the customer for (organizationID, phone), creating it on
// first contact and refreshing last_contact_at otherwise.
func (s *CustomerService) Upsert(ctx context.Context, organizationID, phone, name string) (*models.Customer, error) {
	if organizationID == "" {
		return nil, NewValidationError("organization_id", "required")
	}
	phone = NormalizePhone(phone)
	if strings.TrimLeft(phone, "+") == "" {
		return nil, NewValidationError("from", "must contain a phone number")
	}

	now := s.deps.Clock.Now()
	c, err := s.deps.Store.UpsertCustomer(ctx, &models.Customer{
		ID:             uuid.New().String(),
		OrganizationID: organizationID,
		Phone:          phone,
		Name:           name,
		Status:         models.CustomerStatusActive,
		FirstContactAt: now,
		LastContactAt:  now,
		Metadata:       map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert customer: %w", err)
	}
	return c, nil
}

// Get returns a customer scoped to organizationID.
func (s *CustomerService) Get(ctx context.Context, organizationID, id string) (*models.Customer, error) {
	c, err := s.deps.Store.GetCustomer(ctx, id)
	if err != nil {
		return nil, translate(err, "customer "+id)
	}
	if c.OrganizationID != organizationID {
		return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	return c, nil
}
