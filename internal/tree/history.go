package tree

import (
	"github.com/starford/ansuz/internal/note"
	"github.com/starford/ansuz/internal/store"
)

// HistoryIter walks an append chain newest-first by following parent links.
// Merge entries are traversed along their first parent, the same way each
// chain was walked before the merge. The iterator is lazy: entries load one
// at a time, and calling History again restarts the walk.
//
// Usage mirrors sql.Rows:
//
//	it := svc.History(ns, target)
//	for it.Next() {
//		e := it.Entry()
//	}
//	if err := it.Err(); err != nil { ... }
type HistoryIter struct {
	db   *store.DB
	next string
	cur  note.Entry
	err  error
}

// History starts a walk at the current head of (namespace, target).
// A target with no head yields an empty iteration.
func (s *Service) History(namespace, target string) *HistoryIter {
	it := &HistoryIter{db: s.db}
	head, ok, err := s.db.Head(namespace, target)
	if err != nil {
		it.err = err
		return it
	}
	if ok {
		it.next = head.ID
	}
	return it
}

// Next advances to the next (older) entry. It returns false at the end of
// the chain or on error; check Err afterwards.
func (it *HistoryIter) Next() bool {
	if it.err != nil || it.next == "" {
		return false
	}
	e, err := it.db.GetEntry(it.next)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = e
	if len(e.Parents) > 0 {
		it.next = e.Parents[0]
	} else {
		it.next = ""
	}
	return true
}

// Entry returns the entry loaded by the last successful Next.
func (it *HistoryIter) Entry() note.Entry {
	return it.cur
}

// Err returns the first error encountered during the walk.
func (it *HistoryIter) Err() error {
	return it.err
}
