package archive

import (
	"context"
	"testing"

	"github.com/chernistry/tavily/internal/config"
	"github.com/chernistry/tavily/internal/model"
)

func TestNewRequiresDriverAndDSN(t *testing.T) {
	if _, err := New(config.ArchiveConfig{}); err == nil {
		t.Fatal("expected an error when driver/dsn are both empty")
	}
	if _, err := New(config.ArchiveConfig{Driver: "postgres"}); err == nil {
		t.Fatal("expected an error when dsn is empty")
	}
}

func TestArchiveOnNilReceiverIsNoop(t *testing.T) {
	var a *PostgresArchiver
	if err := a.Archive(context.Background(), model.URLRecord{URL: "http://example.com"}); err != nil {
		t.Fatalf("expected nil-receiver Archive to be a no-op, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("expected nil-receiver Close to be a no-op, got %v", err)
	}
}

func TestShouldAttemptCreateDatabaseRequiresPostgresDriver(t *testing.T) {
	if shouldAttemptCreateDatabase("sqlite3", errDoesNotExist{}) {
		t.Fatal("expected false for a non-postgres driver")
	}
	if !shouldAttemptCreateDatabase("postgres", errDoesNotExist{}) {
		t.Fatal("expected true for a postgres driver with a does-not-exist error")
	}
}

type errDoesNotExist struct{}

func (errDoesNotExist) Error() string { return "database \"x\" does not exist" }
