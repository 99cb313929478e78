// Package database provides database clients for integration tests.
package database

import (
	"testing"

	"github.com/omnidesk/omnidesk/pkg/database"
	"github.com/omnidesk/omnidesk/test/util"
)

// NewTestClient creates a test database client on a fresh, migrated schema.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: uses a shared PostgreSQL testcontainer.
// Cleanup (schema drop and connection close) is handled by util.SetupTestDatabase.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	return database.NewClientFromDB(util.SetupTestDatabase(t))
}
