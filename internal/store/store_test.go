package store

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/note"
)

func testDB(t *testing.T) (*DB, string) {
	t.Helper()
	dbFile, err := os.CreateTemp("", "ansuz-store-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dbFile.Name()
}

func entryAt(target, parent string, sec int) note.Entry {
	at := time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
	return note.NewEntry("ns", target, "payload-"+target, parent, "replica-a", at)
}

func TestReplicaIDPersists(t *testing.T) {
	db, path := testDB(t)
	id := db.ReplicaID()
	if id == "" {
		t.Fatal("replica id not generated on first open")
	}
	db.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.ReplicaID() != id {
		t.Errorf("replica id changed across reopen: %s vs %s", reopened.ReplicaID(), id)
	}
}

func TestCommitEntryAdvancesHead(t *testing.T) {
	db, _ := testDB(t)

	first := entryAt("t1", "", 0)
	if err := db.CommitEntry(first, ""); err != nil {
		t.Fatal(err)
	}

	head, ok, err := db.Head("ns", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || head.ID != first.ID {
		t.Fatalf("head = (%v, %v), want %s", head.ID, ok, first.ID)
	}

	second := entryAt("t1", first.ID, 1)
	if err := db.CommitEntry(second, first.ID); err != nil {
		t.Fatal(err)
	}
	head, _, err = db.Head("ns", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if head.ID != second.ID {
		t.Errorf("head = %s, want %s", head.ID, second.ID)
	}
	if head.Parent() != first.ID {
		t.Errorf("head parent = %s, want %s", head.Parent(), first.ID)
	}
}

func TestCommitEntryStaleParent(t *testing.T) {
	db, _ := testDB(t)

	first := entryAt("t1", "", 0)
	if err := db.CommitEntry(first, ""); err != nil {
		t.Fatal(err)
	}

	// Expecting no head while one exists.
	racer := entryAt("t1", "", 1)
	if err := db.CommitEntry(racer, ""); !errors.Is(err, apperr.ErrStaleParent) {
		t.Errorf("commit against stale head = %v, want ErrStaleParent", err)
	}

	// Expecting an id that is no longer the head.
	second := entryAt("t1", first.ID, 1)
	if err := db.CommitEntry(second, first.ID); err != nil {
		t.Fatal(err)
	}
	late := entryAt("t1", first.ID, 2)
	if err := db.CommitEntry(late, first.ID); !errors.Is(err, apperr.ErrStaleParent) {
		t.Errorf("commit with moved head = %v, want ErrStaleParent", err)
	}

	// The failed commits must not have left entries or moved the head.
	head, _, err := db.Head("ns", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if head.ID != second.ID {
		t.Errorf("head = %s after failed commits, want %s", head.ID, second.ID)
	}
	if ok, _ := db.HasEntry(late.ID); ok {
		t.Error("rejected entry was persisted")
	}
}

func TestInsertEntriesDoesNotMoveHead(t *testing.T) {
	db, _ := testDB(t)

	first := entryAt("t1", "", 0)
	if err := db.CommitEntry(first, ""); err != nil {
		t.Fatal(err)
	}

	stray := entryAt("t1", first.ID, 1)
	if err := db.InsertEntries([]note.Entry{stray}); err != nil {
		t.Fatal(err)
	}
	// Inserting again is a no-op.
	if err := db.InsertEntries([]note.Entry{stray, first}); err != nil {
		t.Fatal(err)
	}

	head, _, err := db.Head("ns", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if head.ID != first.ID {
		t.Errorf("InsertEntries moved head to %s", head.ID)
	}
	if ok, _ := db.HasEntry(stray.ID); !ok {
		t.Error("inserted entry not found")
	}
}

func TestGetEntryNotFound(t *testing.T) {
	db, _ := testDB(t)
	if _, err := db.GetEntry("missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetEntry missing = %v, want ErrNotFound", err)
	}
}

func TestEntryRoundtripPreservesID(t *testing.T) {
	db, _ := testDB(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	e := note.NewEntry("ns", "t1", "payload-1", "", "replica-a", at)
	if err := db.CommitEntry(e, ""); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetEntry(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	reHashed := note.NewEntry(got.Namespace, got.TargetID, got.PayloadID, got.Parent(), got.Origin, got.CreatedAt)
	if reHashed.ID != e.ID {
		t.Errorf("entry no longer hashes to its id after a store roundtrip: %s vs %s", reHashed.ID, e.ID)
	}
}

func TestHeadsOrderedByTarget(t *testing.T) {
	db, _ := testDB(t)

	for _, target := range []string{"b", "a", "c"} {
		e := entryAt(target, "", 0)
		if err := db.CommitEntry(e, ""); err != nil {
			t.Fatal(err)
		}
	}

	refs, err := db.Heads("ns")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 3 {
		t.Fatalf("got %d heads, want 3", len(refs))
	}
	for i, want := range []string{"a", "b", "c"} {
		if refs[i].Target != want {
			t.Errorf("heads[%d].Target = %s, want %s", i, refs[i].Target, want)
		}
	}

	if refs, err := db.Heads("empty-ns"); err != nil || len(refs) != 0 {
		t.Errorf("Heads on empty namespace = (%v, %v)", refs, err)
	}
}

func TestRemoteTips(t *testing.T) {
	db, _ := testDB(t)

	tip, err := db.RemoteTip("origin", "ns", "t1")
	if err != nil || tip != "" {
		t.Fatalf("unsynced tip = (%q, %v), want empty", tip, err)
	}

	if err := db.SetRemoteTip("origin", "ns", "t1", "e1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetRemoteTip("origin", "ns", "t1", "e2"); err != nil {
		t.Fatal(err)
	}
	tip, err = db.RemoteTip("origin", "ns", "t1")
	if err != nil || tip != "e2" {
		t.Errorf("tip = (%q, %v), want e2", tip, err)
	}

	// Tips are scoped per remote.
	tip, err = db.RemoteTip("backup", "ns", "t1")
	if err != nil || tip != "" {
		t.Errorf("other remote's tip = (%q, %v), want empty", tip, err)
	}
}

func TestModifiedTargets(t *testing.T) {
	db, _ := testDB(t)

	first := entryAt("t1", "", 0)
	if err := db.CommitEntry(first, ""); err != nil {
		t.Fatal(err)
	}
	other := entryAt("t2", "", 0)
	if err := db.CommitEntry(other, ""); err != nil {
		t.Fatal(err)
	}

	// No tips recorded: every target is a push candidate.
	targets, err := db.ModifiedTargets("origin", "ns")
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d modified targets, want 2", len(targets))
	}

	// Recording the tip for t1 removes it from the candidates.
	if err := db.SetRemoteTip("origin", "ns", "t1", first.ID); err != nil {
		t.Fatal(err)
	}
	targets, err = db.ModifiedTargets("origin", "ns")
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 1 || targets[0] != "t2" {
		t.Errorf("modified targets = %v, want [t2]", targets)
	}

	// A local write past the recorded tip brings t1 back.
	second := entryAt("t1", first.ID, 1)
	if err := db.CommitEntry(second, first.ID); err != nil {
		t.Fatal(err)
	}
	targets, err = db.ModifiedTargets("origin", "ns")
	if err != nil {
		t.Fatal(err)
	}
	if len(targets) != 2 {
		t.Errorf("modified targets after write = %v, want both", targets)
	}
}
