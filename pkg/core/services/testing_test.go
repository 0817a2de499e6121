package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/wadjakorntonsri/aeo-tracker/pkg/adapters/repository/sqlite"
)

var testDBCounter int

// newTestRepo opens a uniquely named shared in-memory database so tests
// never see each other's rows.
func newTestRepo(t *testing.T) *sqlite.SQLiteRepository {
	t.Helper()
	testDBCounter++
	dsn := fmt.Sprintf("file:svc_test_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), testDBCounter)
	repo, err := sqlite.NewSQLiteRepository(dsn)
	if err != nil {
		t.Fatalf("Failed to init db: %v", err)
	}
	return repo
}

// fixedClock returns a deterministic now() for services under test.
func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
