package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/note"
)

// HeadRef pairs a target with its current head entry id.
type HeadRef struct {
	Target  string
	EntryID string
}

func scanEntry(row interface{ Scan(...any) error }) (note.Entry, error) {
	var e note.Entry
	var parent1, parent2, createdAt string
	err := row.Scan(&e.ID, &e.Namespace, &e.TargetID, &e.PayloadID, &parent1, &parent2, &e.Origin, &createdAt)
	if err != nil {
		return note.Entry{}, err
	}
	if parent1 != "" {
		e.Parents = append(e.Parents, parent1)
	}
	if parent2 != "" {
		e.Parents = append(e.Parents, parent2)
	}
	e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return note.Entry{}, fmt.Errorf("store: parse entry created_at: %w", err)
	}
	return e, nil
}

func entryColumns(e note.Entry) (parent1, parent2, createdAt string) {
	if len(e.Parents) > 0 {
		parent1 = e.Parents[0]
	}
	if len(e.Parents) > 1 {
		parent2 = e.Parents[1]
	}
	return parent1, parent2, e.CreatedAt.UTC().Format(time.RFC3339Nano)
}

// GetEntry loads an entry by id. Returns apperr.ErrNotFound when absent.
func (db *DB) GetEntry(id string) (note.Entry, error) {
	row := db.conn.QueryRow(
		`SELECT id, namespace, target, payload_id, parent1, parent2, origin, created_at
		 FROM entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return note.Entry{}, fmt.Errorf("store: entry %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return note.Entry{}, fmt.Errorf("store: get entry: %w", err)
	}
	return e, nil
}

// HasEntry reports whether an entry id is known locally.
func (db *DB) HasEntry(id string) (bool, error) {
	var one int
	err := db.conn.QueryRow(`SELECT 1 FROM entries WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: has entry: %w", err)
	}
	return true, nil
}

// Head returns the current head entry for (namespace, target), or ok=false
// when the target carries no note in that namespace.
func (db *DB) Head(namespace, target string) (note.Entry, bool, error) {
	row := db.conn.QueryRow(
		`SELECT e.id, e.namespace, e.target, e.payload_id, e.parent1, e.parent2, e.origin, e.created_at
		 FROM heads h JOIN entries e ON e.id = h.entry_id
		 WHERE h.namespace = ? AND h.target = ?`, namespace, target)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return note.Entry{}, false, nil
	}
	if err != nil {
		return note.Entry{}, false, fmt.Errorf("store: head: %w", err)
	}
	return e, true, nil
}

// Heads lists every (target, head entry id) pair in a namespace, ordered by
// target for stable peer responses.
func (db *DB) Heads(namespace string) ([]HeadRef, error) {
	rows, err := db.conn.Query(
		`SELECT target, entry_id FROM heads WHERE namespace = ? ORDER BY target`, namespace)
	if err != nil {
		return nil, fmt.Errorf("store: heads: %w", err)
	}
	defer rows.Close()

	var out []HeadRef
	for rows.Next() {
		var h HeadRef
		if err := rows.Scan(&h.Target, &h.EntryID); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// InsertEntries stores already-validated entries without touching any head.
// Known ids are ignored. The sync engine ingests remote chains this way
// before deciding how the head moves; unreferenced entries never show up in
// a history walk, so this does not count as a tree mutation.
func (db *DB) InsertEntries(entries []note.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO entries (id, namespace, target, payload_id, parent1, parent2, origin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		parent1, parent2, createdAt := entryColumns(e)
		if _, err := stmt.Exec(e.ID, e.Namespace, e.TargetID, e.PayloadID, parent1, parent2, e.Origin, createdAt); err != nil {
			return fmt.Errorf("store: insert entry: %w", err)
		}
	}
	return tx.Commit()
}

// CommitEntry atomically inserts an entry and advances the head for its
// (namespace, target) pair, but only if the current head still equals
// expectedHead (empty for "no head yet"). A moved head fails with
// apperr.ErrStaleParent and leaves the tree untouched.
func (db *DB) CommitEntry(head note.Entry, expectedHead string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var current string
	err = tx.QueryRow(`SELECT entry_id FROM heads WHERE namespace = ? AND target = ?`,
		head.Namespace, head.TargetID).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("store: read head: %w", err)
	}
	if current != expectedHead {
		return fmt.Errorf("store: head is %q, expected %q: %w", current, expectedHead, apperr.ErrStaleParent)
	}

	parent1, parent2, createdAt := entryColumns(head)
	_, err = tx.Exec(
		`INSERT OR IGNORE INTO entries (id, namespace, target, payload_id, parent1, parent2, origin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		head.ID, head.Namespace, head.TargetID, head.PayloadID, parent1, parent2, head.Origin, createdAt)
	if err != nil {
		return fmt.Errorf("store: insert entry: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO heads (namespace, target, entry_id) VALUES (?, ?, ?)
		 ON CONFLICT(namespace, target) DO UPDATE SET entry_id = excluded.entry_id`,
		head.Namespace, head.TargetID, head.ID)
	if err != nil {
		return fmt.Errorf("store: upsert head: %w", err)
	}

	return tx.Commit()
}
