// Package database provides database client helpers for integration tests.
package database

import (
	"testing"

	"github.com/warden-dev/warden/pkg/database"
	"github.com/warden-dev/warden/test/util"
)

// NewTestClient creates a test database client.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
// The schema and connections are automatically cleaned up when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()

	// Per-test schema with migrations applied; cleanup is handled
	// by SetupTestDatabase.
	db := util.SetupTestDatabase(t)

	return database.NewClientFromDB(db)
}
