// Package testutil provides shared test helpers for setting up annotation
// stores and tree services.
package testutil

import (
	"os"
	"testing"

	"github.com/starford/ansuz/internal/objectstore"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/tree"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ansuz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestPayloads creates a temporary content-addressed payload store.
func TestPayloads(t *testing.T) *storage.FS {
	t.Helper()
	fs, err := storage.NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

// TestTree wires a tree service over temporary stores and an in-memory
// target store. Callers register targets on the returned Mem before writing.
func TestTree(t *testing.T) (*tree.Service, *objectstore.Mem) {
	t.Helper()
	targets := objectstore.NewMem()
	svc := tree.NewService(TestDB(t), TestPayloads(t), targets, nil)
	return svc, targets
}
