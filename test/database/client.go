package database

import (
	"testing"

	"github.com/codeready-toolchain/broadcaster/pkg/database"
	"github.com/codeready-toolchain/broadcaster/test/util"
)

// NewTestClient creates a test database client backed by an isolated
// schema with migrations applied. The underlying container/schema is
// cleaned up automatically when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	db := util.SetupTestDatabase(t)
	client := database.NewClientFromDB(db)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}
