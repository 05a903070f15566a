package importer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/reviews"
	"github.com/starford/ansuz/internal/testutil"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testComments() []reviews.Comment {
	return []reviews.Comment{
		{Author: "alice", CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), Body: "looks good"},
		{Author: "bob", CreatedAt: time.Date(2026, 3, 1, 13, 30, 0, 0, time.UTC), Body: "one nit:\nrename this"},
	}
}

func TestImportEmpty(t *testing.T) {
	trees, targets := testutil.TestTree(t)
	targets.Add("t1")
	im := New(trees)

	if _, err := im.Import(context.Background(), "ns", "t1", nil); !errors.Is(err, apperr.ErrEmptyImport) {
		t.Errorf("Import with no comments = %v, want ErrEmptyImport", err)
	}
	head, err := trees.Head(context.Background(), "ns", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if head != nil {
		t.Error("empty import created an entry")
	}
}

func TestImportFormatsComments(t *testing.T) {
	trees, targets := testutil.TestTree(t)
	targets.Add("t1")
	im := New(trees)

	e, err := im.Import(context.Background(), "ns", "t1", testComments())
	if err != nil {
		t.Fatal(err)
	}

	p, err := trees.Payloads().Get(e.PayloadID)
	if err != nil {
		t.Fatal(err)
	}
	want := "alice\n2026-03-01T12:00:00Z\n\nlooks good" +
		"\n---\n" +
		"bob\n2026-03-01T13:30:00Z\n\none nit:\nrename this"
	if string(p.Content) != want {
		t.Errorf("formatted payload = %q, want %q", p.Content, want)
	}
	if p.Author != "import" {
		t.Errorf("payload author = %q, want import", p.Author)
	}
	// The payload timestamp is the latest comment timestamp, keeping the
	// content address stable across replicas importing the same set.
	if !p.CreatedAt.Equal(time.Date(2026, 3, 1, 13, 30, 0, 0, time.UTC)) {
		t.Errorf("payload timestamp = %v", p.CreatedAt)
	}
}

func TestImportAppendsToChain(t *testing.T) {
	trees, targets := testutil.TestTree(t)
	targets.Add("t1")
	im := New(trees)
	ctx := context.Background()

	e1, err := im.Import(ctx, "ns", "t1", testComments())
	if err != nil {
		t.Fatal(err)
	}
	e2, err := im.Import(ctx, "ns", "t1", testComments())
	if err != nil {
		t.Fatal(err)
	}

	// Identical comment sets dedupe to one payload but still append.
	if e1.PayloadID != e2.PayloadID {
		t.Errorf("identical imports produced different payloads")
	}
	if e2.Parent() != e1.ID {
		t.Errorf("second import parent = %s, want %s", e2.Parent(), e1.ID)
	}
}

func TestImportUnknownTarget(t *testing.T) {
	trees, _ := testutil.TestTree(t)
	im := New(trees)

	if _, err := im.Import(context.Background(), "ns", "nowhere", testComments()); !errors.Is(err, apperr.ErrUnknownTarget) {
		t.Errorf("Import to unknown target = %v, want ErrUnknownTarget", err)
	}
}

func TestParseDropName(t *testing.T) {
	cases := []struct {
		name      string
		namespace string
		target    string
		ok        bool
	}{
		{"review__abc123.json", "review", "abc123", true},
		{"review__a__b.json", "review", "a__b", true},
		{"plain.json", "", "", false},
		{"__abc.json", "", "", false},
		{"review__.json", "", "", false},
	}
	for _, c := range cases {
		namespace, target, ok := parseDropName(c.name)
		if namespace != c.namespace || target != c.target || ok != c.ok {
			t.Errorf("parseDropName(%q) = (%q, %q, %v), want (%q, %q, %v)",
				c.name, namespace, target, ok, c.namespace, c.target, c.ok)
		}
	}
}

func TestProcessFile(t *testing.T) {
	trees, targets := testutil.TestTree(t)
	targets.Add("abc123")
	im := New(trees)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "review__abc123.json")
	data, err := json.Marshal(testComments())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	im.processFile(ctx, path, discard)

	head, err := trees.Head(ctx, "review", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if head == nil {
		t.Fatal("drop file was not imported")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("drop file not removed after import")
	}
}

func TestProcessFileBadPayload(t *testing.T) {
	trees, targets := testutil.TestTree(t)
	targets.Add("abc123")
	im := New(trees)

	dir := t.TempDir()
	path := filepath.Join(dir, "review__abc123.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	im.processFile(context.Background(), path, discard)

	// A malformed file is left in place for inspection.
	if _, err := os.Stat(path); err != nil {
		t.Errorf("malformed drop file was removed: %v", err)
	}
}
