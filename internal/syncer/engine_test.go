package syncer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/merge"
	"github.com/starford/ansuz/internal/note"
	"github.com/starford/ansuz/internal/objectstore"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/syncer"
	"github.com/starford/ansuz/internal/testutil"
	"github.com/starford/ansuz/internal/tree"
	"github.com/starford/ansuz/internal/wire"
)

// replica bundles one full local stack so tests can run two of them side by
// side and sync between them.
type replica struct {
	db       *store.DB
	payloads *storage.FS
	targets  *objectstore.Mem
	trees    *tree.Service
	resolver *merge.Resolver
	engine   *syncer.Engine
}

func newReplica(t *testing.T) *replica {
	t.Helper()
	r := &replica{
		db:       testutil.TestDB(t),
		payloads: testutil.TestPayloads(t),
		targets:  objectstore.NewMem(),
	}
	r.targets.Add("t1")
	r.trees = tree.NewService(r.db, r.payloads, r.targets, nil)
	r.resolver = merge.NewResolver(r.db, r.payloads, r.targets)
	r.engine = syncer.NewEngine(r.trees, r.resolver, nil, nil)
	return r
}

func (r *replica) append(t *testing.T, namespace, target, content string) note.Entry {
	t.Helper()
	id, err := r.payloads.Put(note.Payload{
		Namespace: namespace,
		Author:    "alice",
		CreatedAt: time.Now().UTC(),
		Content:   []byte(content),
	})
	if err != nil {
		t.Fatal(err)
	}
	e, err := r.trees.Append(context.Background(), namespace, target, id)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func (r *replica) headID(t *testing.T, namespace, target string) string {
	t.Helper()
	head, err := r.trees.Head(context.Background(), namespace, target)
	if err != nil {
		t.Fatal(err)
	}
	if head == nil {
		return ""
	}
	return head.ID
}

func (r *replica) headContent(t *testing.T, namespace, target string) string {
	t.Helper()
	head, err := r.trees.Head(context.Background(), namespace, target)
	if err != nil {
		t.Fatal(err)
	}
	if head == nil {
		t.Fatal("no head")
	}
	p, err := r.payloads.Get(head.PayloadID)
	if err != nil {
		t.Fatal(err)
	}
	return string(p.Content)
}

// memRemote adapts a replica into the Remote interface, applying the same
// compare-and-set semantics the peer HTTP endpoint implements.
type memRemote struct {
	name string
	r    *replica
}

func (m *memRemote) Name() string { return m.name }

func (m *memRemote) Heads(_ context.Context, namespace string) ([]wire.Head, error) {
	refs, err := m.r.db.Heads(namespace)
	if err != nil {
		return nil, err
	}
	heads := make([]wire.Head, len(refs))
	for i, ref := range refs {
		heads[i] = wire.Head{Target: ref.Target, EntryID: ref.EntryID}
	}
	return heads, nil
}

func (m *memRemote) Entry(_ context.Context, id string) (wire.Entry, error) {
	e, err := m.r.db.GetEntry(id)
	if err != nil {
		return wire.Entry{}, err
	}
	return wire.FromEntry(e), nil
}

func (m *memRemote) Payload(_ context.Context, id string) (wire.Payload, error) {
	p, err := m.r.payloads.Get(id)
	if err != nil {
		return wire.Payload{}, err
	}
	return wire.FromPayload(p), nil
}

func (m *memRemote) UpdateHead(_ context.Context, namespace, target string, req wire.PushRequest) error {
	for _, wp := range req.Payloads {
		p, err := wire.ToPayload(wp, "")
		if err != nil {
			return err
		}
		if _, err := m.r.payloads.Put(p); err != nil {
			return err
		}
	}
	entries := make([]note.Entry, 0, len(req.Entries))
	for _, we := range req.Entries {
		e, err := wire.ToEntry(we)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	if err := m.r.db.InsertEntries(entries); err != nil {
		return err
	}
	head, err := wire.ToEntry(req.Head)
	if err != nil {
		return err
	}

	kl := m.r.trees.KeyLock(namespace, target)
	kl.Lock()
	defer kl.Unlock()

	current, ok, err := m.r.db.Head(namespace, target)
	if err != nil {
		return err
	}
	currentID := ""
	if ok {
		currentID = current.ID
	}
	if currentID == head.ID {
		return nil
	}
	if currentID != req.OldEntryID {
		descends, derr := m.r.resolver.Descends(head.ID, currentID)
		if derr != nil || !descends {
			return apperr.ErrPushRejected
		}
	}
	return m.r.db.CommitEntry(head, currentID)
}

func TestFetchAdoptsUnknownTarget(t *testing.T) {
	ctx := context.Background()
	a := newReplica(t)
	b := newReplica(t)

	e1 := a.append(t, "ns", "t1", "first")
	e2 := a.append(t, "ns", "t1", "second")

	if err := b.engine.Fetch(ctx, &memRemote{"a", a}, "ns"); err != nil {
		t.Fatal(err)
	}

	if got := b.headID(t, "ns", "t1"); got != e2.ID {
		t.Errorf("adopted head = %s, want %s", got, e2.ID)
	}
	if got := b.headContent(t, "ns", "t1"); got != "second" {
		t.Errorf("adopted content = %q", got)
	}
	// The whole chain came across.
	if ok, _ := b.db.HasEntry(e1.ID); !ok {
		t.Error("ancestor entry missing after adoption")
	}

	// Fetching again changes nothing.
	if err := b.engine.Fetch(ctx, &memRemote{"a", a}, "ns"); err != nil {
		t.Fatal(err)
	}
	if got := b.headID(t, "ns", "t1"); got != e2.ID {
		t.Errorf("idempotent fetch moved head to %s", got)
	}
}

func TestFetchFastForward(t *testing.T) {
	ctx := context.Background()
	a := newReplica(t)
	b := newReplica(t)

	a.append(t, "ns", "t1", "base")
	if err := b.engine.Fetch(ctx, &memRemote{"a", a}, "ns"); err != nil {
		t.Fatal(err)
	}

	tip := a.append(t, "ns", "t1", "newer")
	if err := b.engine.Fetch(ctx, &memRemote{"a", a}, "ns"); err != nil {
		t.Fatal(err)
	}

	if got := b.headID(t, "ns", "t1"); got != tip.ID {
		t.Errorf("fast-forward head = %s, want %s", got, tip.ID)
	}
}

func TestFetchMergesDivergence(t *testing.T) {
	ctx := context.Background()
	a := newReplica(t)
	b := newReplica(t)

	a.append(t, "ns", "t1", "base")
	if err := b.engine.Fetch(ctx, &memRemote{"a", a}, "ns"); err != nil {
		t.Fatal(err)
	}

	// Both sides write independently; a's entry carries the earlier
	// timestamp, so its content sorts first in the merge.
	a.append(t, "ns", "t1", "hello")
	b.append(t, "ns", "t1", "world")

	if err := b.engine.Fetch(ctx, &memRemote{"a", a}, "ns"); err != nil {
		t.Fatal(err)
	}

	head, err := b.trees.Head(ctx, "ns", "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !head.IsMerge() {
		t.Fatalf("head after divergent fetch is not a merge entry: %+v", head)
	}
	if got := b.headContent(t, "ns", "t1"); got != "hello\n---\nworld" {
		t.Errorf("merged content = %q, want %q", got, "hello\n---\nworld")
	}

	// The other side converges to the identical merge entry via fast-forward.
	if err := a.engine.Fetch(ctx, &memRemote{"b", b}, "ns"); err != nil {
		t.Fatal(err)
	}
	if a.headID(t, "ns", "t1") != b.headID(t, "ns", "t1") {
		t.Errorf("replicas did not converge: %s vs %s",
			a.headID(t, "ns", "t1"), b.headID(t, "ns", "t1"))
	}
}

func TestPushTransfersChain(t *testing.T) {
	ctx := context.Background()
	a := newReplica(t)
	b := newReplica(t)

	e1 := a.append(t, "ns", "t1", "first")
	e2 := a.append(t, "ns", "t1", "second")

	if err := a.engine.Push(ctx, &memRemote{"b", b}, "ns"); err != nil {
		t.Fatal(err)
	}
	if got := b.headID(t, "ns", "t1"); got != e2.ID {
		t.Errorf("pushed head = %s, want %s", got, e2.ID)
	}
	if ok, _ := b.db.HasEntry(e1.ID); !ok {
		t.Error("pushed chain is missing the ancestor entry")
	}

	// The recorded tip makes a second push a no-op; only new entries travel.
	e3 := a.append(t, "ns", "t1", "third")
	if err := a.engine.Push(ctx, &memRemote{"b", b}, "ns"); err != nil {
		t.Fatal(err)
	}
	if got := b.headID(t, "ns", "t1"); got != e3.ID {
		t.Errorf("incremental push head = %s, want %s", got, e3.ID)
	}

	// Nothing modified: push finds no candidates and succeeds.
	if err := a.engine.Push(ctx, &memRemote{"b", b}, "ns"); err != nil {
		t.Fatal(err)
	}
}

func TestPushRejectedThenMergeAndRetry(t *testing.T) {
	ctx := context.Background()
	a := newReplica(t)
	b := newReplica(t)

	a.append(t, "ns", "t1", "base")
	if err := a.engine.Push(ctx, &memRemote{"b", b}, "ns"); err != nil {
		t.Fatal(err)
	}

	// Divergence: b moves on its own, then a tries to push its own new work.
	b.append(t, "ns", "t1", "hello")
	a.append(t, "ns", "t1", "world")

	err := a.engine.Push(ctx, &memRemote{"b", b}, "ns")
	if !errors.Is(err, apperr.ErrPushRejected) {
		t.Fatalf("push over divergent remote = %v, want ErrPushRejected", err)
	}

	// The documented recovery: fetch (merging), then push the merge.
	if err := a.engine.Fetch(ctx, &memRemote{"b", b}, "ns"); err != nil {
		t.Fatal(err)
	}
	if err := a.engine.Push(ctx, &memRemote{"b", b}, "ns"); err != nil {
		t.Fatal(err)
	}

	if a.headID(t, "ns", "t1") != b.headID(t, "ns", "t1") {
		t.Errorf("replicas did not converge after merge and retry")
	}
	if got := b.headContent(t, "ns", "t1"); got != "hello\n---\nworld" {
		t.Errorf("converged content = %q, want %q", got, "hello\n---\nworld")
	}
}

func TestFetchFromEmptyRemote(t *testing.T) {
	ctx := context.Background()
	a := newReplica(t)
	b := newReplica(t)

	if err := b.engine.Fetch(ctx, &memRemote{"a", a}, "ns"); err != nil {
		t.Fatal(err)
	}
	if got := b.headID(t, "ns", "t1"); got != "" {
		t.Errorf("fetch from empty remote created head %s", got)
	}
}

// failingRemote drops every call, standing in for an unreachable peer.
type failingRemote struct{}

func (failingRemote) Name() string { return "down" }
func (failingRemote) Heads(context.Context, string) ([]wire.Head, error) {
	return nil, errors.New("connection refused")
}
func (failingRemote) Entry(context.Context, string) (wire.Entry, error) {
	return wire.Entry{}, errors.New("connection refused")
}
func (failingRemote) Payload(context.Context, string) (wire.Payload, error) {
	return wire.Payload{}, errors.New("connection refused")
}
func (failingRemote) UpdateHead(context.Context, string, string, wire.PushRequest) error {
	return errors.New("connection refused")
}

func TestFetchFailureWrapped(t *testing.T) {
	a := newReplica(t)
	err := a.engine.Fetch(context.Background(), failingRemote{}, "ns")
	if !errors.Is(err, apperr.ErrFetchFailed) {
		t.Errorf("fetch from dead remote = %v, want ErrFetchFailed", err)
	}
}

func TestPushFailureWrapped(t *testing.T) {
	a := newReplica(t)
	a.append(t, "ns", "t1", "first")

	err := a.engine.Push(context.Background(), failingRemote{}, "ns")
	if !errors.Is(err, apperr.ErrPushFailed) {
		t.Errorf("push to dead remote = %v, want ErrPushFailed", err)
	}
	// The tip must not have been recorded for the failed push.
	tip, terr := a.db.RemoteTip("down", "ns", "t1")
	if terr != nil || tip != "" {
		t.Errorf("tip after failed push = (%q, %v), want empty", tip, terr)
	}
}
