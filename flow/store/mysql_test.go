package store

import (
	"context"
	"os"
	"testing"
)

// mysqlStore opens the MySQL store when TEST_MYSQL_DSN is set, skipping
// the test otherwise.
//
// Example: TEST_MYSQL_DSN="user:pass@tcp(localhost:3306)/flowgraph_test?parseTime=true"
func mysqlStore(t *testing.T) *MySQLStore {
	t.Helper()
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL tests: TEST_MYSQL_DSN not set")
	}
	s, err := NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore failed: %v", err)
	}
	return s
}

func TestMySQLStore(t *testing.T) {
	s := mysqlStore(t)
	defer s.Close()

	// Start from a clean slate in the shared test database.
	ctx := context.Background()
	for _, runID := range []string{"run-0", "run-1", "run-2", "iso"} {
		if err := s.DeleteSnapshot(ctx, runID); err != nil {
			t.Fatalf("cleanup failed: %v", err)
		}
	}

	storeContract(t, s)
}
