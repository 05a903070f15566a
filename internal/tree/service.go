// Package tree implements the annotation namespace tree: the mutable
// per-(namespace, target) head over the immutable append chain.
package tree

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/note"
	"github.com/starford/ansuz/internal/objectstore"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/store"
)

// EventCallback is invoked after a successful head change.
// kind is one of "appended", "merged", "adopted".
type EventCallback func(kind, namespace, target string)

// Service serializes head mutations per (namespace, target) key and
// enforces referential integrity against the target object store.
type Service struct {
	db       *store.DB
	payloads *storage.FS
	targets  objectstore.Store
	cb       EventCallback

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewService creates a tree service. cb may be nil.
func NewService(db *store.DB, payloads *storage.FS, targets objectstore.Store, cb EventCallback) *Service {
	return &Service{
		db:       db,
		payloads: payloads,
		targets:  targets,
		cb:       cb,
		locks:    make(map[string]*sync.Mutex),
	}
}

// keyLock returns the mutex guarding one (namespace, target) pair.
// Different keys proceed concurrently; the same key is single-writer.
func (s *Service) keyLock(namespace, target string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	key := namespace + "\x00" + target
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// KeyLock exposes the per-key mutex to the sync engine, which must hold it
// while reconciling a remote head against the local one.
func (s *Service) KeyLock(namespace, target string) *sync.Mutex {
	return s.keyLock(namespace, target)
}

// Notify publishes a head-change event on behalf of the sync engine.
func (s *Service) Notify(kind, namespace, target string) {
	if s.cb != nil {
		s.cb(kind, namespace, target)
	}
}

// DB exposes the underlying store for read-side collaborators (sync engine,
// peer API).
func (s *Service) DB() *store.DB {
	return s.db
}

// Payloads exposes the payload object store.
func (s *Service) Payloads() *storage.FS {
	return s.payloads
}

// ReplicaID returns the id stamped as origin on locally-created entries.
func (s *Service) ReplicaID() string {
	return s.db.ReplicaID()
}

// Set creates a new head entry for (namespace, target) pointing at an
// already-stored payload. parentEntryID is a compare-and-swap guard: it must
// name the current head, or be empty when the target has no head yet;
// otherwise the write fails with apperr.ErrStaleParent and nothing changes.
//
// Fails with apperr.ErrUnknownTarget when the target is not present in the
// object store.
func (s *Service) Set(ctx context.Context, namespace, target, payloadID, parentEntryID string) (note.Entry, error) {
	if err := s.checkTarget(ctx, target); err != nil {
		return note.Entry{}, err
	}
	if ok, err := s.payloads.Has(payloadID); err != nil {
		return note.Entry{}, err
	} else if !ok {
		return note.Entry{}, fmt.Errorf("tree: payload %s: %w", payloadID, apperr.ErrNotFound)
	}

	l := s.keyLock(namespace, target)
	l.Lock()
	defer l.Unlock()

	e := note.NewEntry(namespace, target, payloadID, parentEntryID, s.db.ReplicaID(), time.Now().UTC())
	if err := s.db.CommitEntry(e, parentEntryID); err != nil {
		return note.Entry{}, err
	}
	if s.cb != nil {
		s.cb("appended", namespace, target)
	}
	return e, nil
}

// Append is Set with the current head as parent. On a fresh target it
// creates the first entry.
func (s *Service) Append(ctx context.Context, namespace, target, payloadID string) (note.Entry, error) {
	head, ok, err := s.db.Head(namespace, target)
	if err != nil {
		return note.Entry{}, err
	}
	parent := ""
	if ok {
		parent = head.ID
	}
	return s.Set(ctx, namespace, target, payloadID, parent)
}

// Head returns the current head entry, or nil when the target carries no
// note in the namespace.
func (s *Service) Head(_ context.Context, namespace, target string) (*note.Entry, error) {
	e, ok, err := s.db.Head(namespace, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// checkTarget verifies referential integrity against the object store.
func (s *Service) checkTarget(ctx context.Context, target string) error {
	ok, err := s.targets.Exists(ctx, target)
	if err != nil {
		return fmt.Errorf("tree: resolve target: %w", err)
	}
	if !ok {
		return fmt.Errorf("tree: target %s: %w", target, apperr.ErrUnknownTarget)
	}
	return nil
}
