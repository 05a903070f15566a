// Package merge reconciles two divergent append chains for the same
// (namespace, target) pair into a single deterministic head.
//
// The resolution rule is ordered concatenation: the payload contents of the
// entries unique to each side since the common ancestor are joined with a
// fixed delimiter, ordered by (created_at, origin) ascending. The rule is
// commutative over the set of divergent entries, so merging A-into-B and
// B-into-A produce byte-identical payloads. Because the merge entry's fields
// are all derived from the two heads, both directions also mint the same
// entry id.
package merge

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/note"
	"github.com/starford/ansuz/internal/objectstore"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/store"
)

// Delimiter separates concatenated note contents in a merge payload.
const Delimiter = "\n---\n"

// MergeAuthor is the author recorded on resolver-created payloads.
const MergeAuthor = "merge"

// Action describes what the resolver decided.
type Action int

const (
	// ActionNone: the remote head is already contained in the local chain.
	ActionNone Action = iota
	// ActionFastForward: the remote head strictly descends from the local
	// head; adopt it without creating anything.
	ActionFastForward
	// ActionMerge: the chains diverged; Head and Payload describe the new
	// merge entry to commit.
	ActionMerge
)

// Result is the resolver's decision for one target.
type Result struct {
	Action  Action
	Head    note.Entry
	Payload *note.Payload // merge payload; non-nil only for ActionMerge
}

// Resolver computes merge results against locally-known entries. All entries
// reachable from both heads must already be ingested into the store before
// Resolve is called.
type Resolver struct {
	db       *store.DB
	payloads *storage.FS
	targets  objectstore.Store
}

// NewResolver creates a resolver over the given stores.
func NewResolver(db *store.DB, payloads *storage.FS, targets objectstore.Store) *Resolver {
	return &Resolver{db: db, payloads: payloads, targets: targets}
}

// Resolve reconciles a local and a remote head for the same target.
// Equal heads are the caller's no-op case and are reported as ActionNone.
//
// Fails with apperr.ErrUnknownTarget when the target object is absent from
// the object store; the conflicting heads surface to the caller unmerged.
func (r *Resolver) Resolve(ctx context.Context, local, remote note.Entry) (Result, error) {
	if local.Namespace != remote.Namespace || local.TargetID != remote.TargetID {
		return Result{}, fmt.Errorf("merge: heads refer to different keys: %s/%s vs %s/%s",
			local.Namespace, local.TargetID, remote.Namespace, remote.TargetID)
	}
	if ok, err := r.targets.Exists(ctx, local.TargetID); err != nil {
		return Result{}, fmt.Errorf("merge: resolve target: %w", err)
	} else if !ok {
		return Result{}, fmt.Errorf("merge: target %s: %w", local.TargetID, apperr.ErrUnknownTarget)
	}

	if local.ID == remote.ID {
		return Result{Action: ActionNone, Head: local}, nil
	}

	localAnc, err := r.ancestorSet(local.ID)
	if err != nil {
		return Result{}, err
	}
	if _, ok := localAnc[remote.ID]; ok {
		// Remote head is an ancestor of ours; nothing to adopt.
		return Result{Action: ActionNone, Head: local}, nil
	}
	remoteAnc, err := r.ancestorSet(remote.ID)
	if err != nil {
		return Result{}, err
	}
	if _, ok := remoteAnc[local.ID]; ok {
		return Result{Action: ActionFastForward, Head: remote}, nil
	}

	// Diverged: the divergent set is the symmetric difference of the two
	// ancestor closures. An empty intersection (independent origination)
	// is legal and merges the full chains.
	divergent, err := r.divergentEntries(localAnc, remoteAnc)
	if err != nil {
		return Result{}, err
	}

	payload, err := r.mergePayload(local.Namespace, divergent)
	if err != nil {
		return Result{}, err
	}

	parents := [2]string{local.ID, remote.ID}
	if parents[1] < parents[0] {
		parents[0], parents[1] = parents[1], parents[0]
	}
	origin := local.Origin
	if remote.Origin < origin {
		origin = remote.Origin
	}
	createdAt := local.CreatedAt
	if remote.CreatedAt.After(createdAt) {
		createdAt = remote.CreatedAt
	}

	head := note.NewMergeEntry(local.Namespace, local.TargetID, payload.ID(), parents, origin, createdAt)
	return Result{Action: ActionMerge, Head: head, Payload: payload}, nil
}

// Descends reports whether ancestorID lies in headID's ancestor closure
// (head included). The peer push handler uses this to prove a pushed head
// fast-forwards the one it currently holds.
func (r *Resolver) Descends(headID, ancestorID string) (bool, error) {
	anc, err := r.ancestorSet(headID)
	if err != nil {
		return false, err
	}
	_, ok := anc[ancestorID]
	return ok, nil
}

// ancestorSet returns every entry id reachable from id, id included.
// Merge entries contribute both parents. Chains are finite and acyclic by
// invariant, so the walk terminates.
func (r *Resolver) ancestorSet(id string) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}

		e, err := r.db.GetEntry(cur)
		if err != nil {
			return nil, err
		}
		queue = append(queue, e.Parents...)
	}
	return seen, nil
}

// divergentEntries loads the entries unique to either side and sorts them
// by (created_at, origin) ascending, the deterministic tie-break that makes
// the merge independent of which replica initiates it.
func (r *Resolver) divergentEntries(localAnc, remoteAnc map[string]struct{}) ([]note.Entry, error) {
	var ids []string
	for id := range localAnc {
		if _, ok := remoteAnc[id]; !ok {
			ids = append(ids, id)
		}
	}
	for id := range remoteAnc {
		if _, ok := localAnc[id]; !ok {
			ids = append(ids, id)
		}
	}

	entries := make([]note.Entry, 0, len(ids))
	for _, id := range ids {
		e, err := r.db.GetEntry(id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		if entries[i].Origin != entries[j].Origin {
			return entries[i].Origin < entries[j].Origin
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

// mergePayload concatenates the divergent contents in sorted order. The
// payload timestamp is the latest divergent timestamp, so both replicas
// derive the same content address.
func (r *Resolver) mergePayload(namespace string, divergent []note.Entry) (*note.Payload, error) {
	contents := make([][]byte, 0, len(divergent))
	var latest time.Time
	for _, e := range divergent {
		p, err := r.payloads.Get(e.PayloadID)
		if err != nil {
			return nil, err
		}
		contents = append(contents, p.Content)
		if e.CreatedAt.After(latest) {
			latest = e.CreatedAt
		}
	}

	return &note.Payload{
		Namespace: namespace,
		Author:    MergeAuthor,
		CreatedAt: latest.UTC(),
		Content:   bytes.Join(contents, []byte(Delimiter)),
	}, nil
}
