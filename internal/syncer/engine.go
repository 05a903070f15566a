// Package syncer exchanges namespace trees with remote replicas and drives
// the merge resolver when the two sides disagree on a target's head.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/merge"
	"github.com/starford/ansuz/internal/metrics"
	"github.com/starford/ansuz/internal/note"
	"github.com/starford/ansuz/internal/tree"
	"github.com/starford/ansuz/internal/wire"
)

// Remote is the transport to one peer replica. Implementations own retry
// and backoff for transient failures; any error reaching the engine is
// terminal for the current sync attempt.
type Remote interface {
	// Name identifies the remote in local state (tips) and logs.
	Name() string
	// Heads lists the remote's current (target, head entry id) pairs.
	Heads(ctx context.Context, namespace string) ([]wire.Head, error)
	// Entry fetches a single entry by id.
	Entry(ctx context.Context, id string) (wire.Entry, error)
	// Payload fetches a single payload by id.
	Payload(ctx context.Context, id string) (wire.Payload, error)
	// UpdateHead compare-and-sets the remote head for one target,
	// uploading any entries and payloads the remote may be missing.
	// Returns apperr.ErrPushRejected on a non-fast-forward.
	UpdateHead(ctx context.Context, namespace, target string, req wire.PushRequest) error
}

// Engine runs fetch and push for (remote, namespace) pairs. Operations on
// the same pair are serialized; different pairs proceed concurrently.
type Engine struct {
	trees    *tree.Service
	resolver *merge.Resolver
	metrics  *metrics.Collector
	logger   *slog.Logger

	pairMu sync.Mutex
	pairs  map[string]*sync.Mutex
}

// NewEngine creates a sync engine over the local tree service.
func NewEngine(trees *tree.Service, resolver *merge.Resolver, collector *metrics.Collector, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		trees:    trees,
		resolver: resolver,
		metrics:  collector,
		logger:   logger,
		pairs:    make(map[string]*sync.Mutex),
	}
}

func (en *Engine) pairLock(remote, namespace string) *sync.Mutex {
	en.pairMu.Lock()
	defer en.pairMu.Unlock()
	key := remote + "\x00" + namespace
	l, ok := en.pairs[key]
	if !ok {
		l = &sync.Mutex{}
		en.pairs[key] = l
	}
	return l
}

// Fetch reconciles every target the remote knows about in the namespace.
// Unknown targets are adopted, equal heads are no-ops, strict descendants
// fast-forward, and true divergence goes through the resolver. Each target
// is all-or-nothing; a transport failure aborts the attempt with
// apperr.ErrFetchFailed and leaves the local tree untouched mid-target.
func (en *Engine) Fetch(ctx context.Context, remote Remote, namespace string) error {
	l := en.pairLock(remote.Name(), namespace)
	l.Lock()
	defer l.Unlock()

	heads, err := remote.Heads(ctx, namespace)
	if err != nil {
		en.metrics.RecordSync(remote.Name(), "fetch", "failed")
		return fmt.Errorf("syncer: list remote heads: %v: %w", err, apperr.ErrFetchFailed)
	}

	for _, h := range heads {
		if err := en.fetchTarget(ctx, remote, namespace, h); err != nil {
			en.metrics.RecordSync(remote.Name(), "fetch", "failed")
			return err
		}
	}

	en.metrics.RecordSync(remote.Name(), "fetch", "ok")
	en.logger.Debug("syncer: fetch complete",
		slog.String("remote", remote.Name()),
		slog.String("namespace", namespace),
		slog.Int("targets", len(heads)))
	return nil
}

func (en *Engine) fetchTarget(ctx context.Context, remote Remote, namespace string, h wire.Head) error {
	db := en.trees.DB()

	// Transfer the remote chain first. Objects are immutable and heads are
	// untouched until the commit below, so a failure here leaves the tree
	// unchanged.
	remoteHead, err := en.downloadChain(ctx, remote, h.EntryID)
	if err != nil {
		return err
	}

	kl := en.trees.KeyLock(namespace, h.Target)
	kl.Lock()
	defer kl.Unlock()

	local, ok, err := db.Head(namespace, h.Target)
	if err != nil {
		return err
	}

	switch {
	case !ok:
		// Nothing local to reconcile against; adopt the remote head.
		if err := db.CommitEntry(remoteHead, ""); err != nil {
			return err
		}
		en.trees.Notify("adopted", namespace, h.Target)

	case local.ID == remoteHead.ID:
		// Unchanged since the last exchange.

	default:
		res, err := en.resolver.Resolve(ctx, local, remoteHead)
		if err != nil {
			return err
		}
		switch res.Action {
		case merge.ActionNone:
			en.metrics.RecordResolution(namespace, "none")

		case merge.ActionFastForward:
			if err := db.CommitEntry(res.Head, local.ID); err != nil {
				return err
			}
			en.trees.Notify("adopted", namespace, h.Target)
			en.metrics.RecordResolution(namespace, "fast_forward")

		case merge.ActionMerge:
			if _, err := en.trees.Payloads().Put(*res.Payload); err != nil {
				return err
			}
			if err := db.CommitEntry(res.Head, local.ID); err != nil {
				return err
			}
			en.trees.Notify("merged", namespace, h.Target)
			en.metrics.RecordResolution(namespace, "merge")
			en.logger.Info("syncer: merged divergent heads",
				slog.String("remote", remote.Name()),
				slog.String("namespace", namespace),
				slog.String("target", h.Target),
				slog.String("entry", res.Head.ID))
		}
	}

	return db.SetRemoteTip(remote.Name(), namespace, h.Target, h.EntryID)
}

// downloadChain pulls the entry named by id plus every ancestor not yet
// known locally, along with their payloads, and ingests them. Returns the
// head entry in domain form.
func (en *Engine) downloadChain(ctx context.Context, remote Remote, id string) (note.Entry, error) {
	db := en.trees.DB()
	payloads := en.trees.Payloads()

	var head note.Entry
	var pending []note.Entry
	queue := []string{id}
	seen := make(map[string]struct{})

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}

		if known, err := db.HasEntry(cur); err != nil {
			return note.Entry{}, err
		} else if known {
			if cur == id {
				return db.GetEntry(cur)
			}
			continue
		}

		we, err := remote.Entry(ctx, cur)
		if err != nil {
			return note.Entry{}, fmt.Errorf("syncer: fetch entry %s: %v: %w", cur, err, apperr.ErrFetchFailed)
		}
		e, err := wire.ToEntry(we)
		if err != nil {
			return note.Entry{}, fmt.Errorf("syncer: %v: %w", err, apperr.ErrFetchFailed)
		}

		if ok, err := payloads.Has(e.PayloadID); err != nil {
			return note.Entry{}, err
		} else if !ok {
			wp, err := remote.Payload(ctx, e.PayloadID)
			if err != nil {
				return note.Entry{}, fmt.Errorf("syncer: fetch payload %s: %v: %w", e.PayloadID, err, apperr.ErrFetchFailed)
			}
			p, err := wire.ToPayload(wp, e.PayloadID)
			if err != nil {
				return note.Entry{}, fmt.Errorf("syncer: %v: %w", err, apperr.ErrFetchFailed)
			}
			if _, err := payloads.Put(p); err != nil {
				return note.Entry{}, err
			}
		}

		pending = append(pending, e)
		if cur == id {
			head = e
		}
		queue = append(queue, e.Parents...)
	}

	if err := db.InsertEntries(pending); err != nil {
		return note.Entry{}, err
	}
	return head, nil
}

// Push uploads every target whose local head moved past the recorded remote
// tip. The update is a compare-and-set against that tip; if the remote has
// moved in a non-fast-forward way the attempt fails with
// apperr.ErrPushRejected and the caller should Fetch (merging) and retry.
func (en *Engine) Push(ctx context.Context, remote Remote, namespace string) error {
	l := en.pairLock(remote.Name(), namespace)
	l.Lock()
	defer l.Unlock()

	db := en.trees.DB()
	targets, err := db.ModifiedTargets(remote.Name(), namespace)
	if err != nil {
		return err
	}

	for _, target := range targets {
		if err := en.pushTarget(ctx, remote, namespace, target); err != nil {
			status := "failed"
			if errors.Is(err, apperr.ErrPushRejected) {
				status = "rejected"
			}
			en.metrics.RecordSync(remote.Name(), "push", status)
			return err
		}
	}

	en.metrics.RecordSync(remote.Name(), "push", "ok")
	en.logger.Debug("syncer: push complete",
		slog.String("remote", remote.Name()),
		slog.String("namespace", namespace),
		slog.Int("targets", len(targets)))
	return nil
}

func (en *Engine) pushTarget(ctx context.Context, remote Remote, namespace, target string) error {
	db := en.trees.DB()

	head, ok, err := db.Head(namespace, target)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	tip, err := db.RemoteTip(remote.Name(), namespace, target)
	if err != nil {
		return err
	}
	if tip == head.ID {
		return nil
	}

	entries, payloads, err := en.chainSince(head, tip)
	if err != nil {
		return err
	}

	req := wire.PushRequest{
		OldEntryID: tip,
		Head:       wire.FromEntry(head),
		Entries:    entries,
		Payloads:   payloads,
	}
	if err := remote.UpdateHead(ctx, namespace, target, req); err != nil {
		if errors.Is(err, apperr.ErrPushRejected) {
			return fmt.Errorf("syncer: push %s/%s: %w", namespace, target, apperr.ErrPushRejected)
		}
		return fmt.Errorf("syncer: push %s/%s: %v: %w", namespace, target, err, apperr.ErrPushFailed)
	}

	return db.SetRemoteTip(remote.Name(), namespace, target, head.ID)
}

// chainSince collects head's ancestor closure, stopping at the subgraph
// below stopID (the last entry the remote is known to hold), together with
// the payloads those entries reference.
func (en *Engine) chainSince(head note.Entry, stopID string) ([]wire.Entry, []wire.Payload, error) {
	db := en.trees.DB()
	store := en.trees.Payloads()

	var entries []wire.Entry
	var payloads []wire.Payload
	sentPayloads := make(map[string]struct{})
	seen := make(map[string]struct{})
	queue := []string{head.ID}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == stopID {
			continue
		}
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}

		e, err := db.GetEntry(cur)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, wire.FromEntry(e))

		if _, ok := sentPayloads[e.PayloadID]; !ok {
			sentPayloads[e.PayloadID] = struct{}{}
			p, err := store.Get(e.PayloadID)
			if err != nil {
				return nil, nil, err
			}
			payloads = append(payloads, wire.FromPayload(p))
		}
		queue = append(queue, e.Parents...)
	}
	return entries, payloads, nil
}
