package store

import (
	"database/sql"
	"fmt"
)

// RemoteTip returns the last entry id known to be the remote's head for
// (remote, namespace, target), or empty when the target has never synced.
func (db *DB) RemoteTip(remote, namespace, target string) (string, error) {
	var id string
	err := db.conn.QueryRow(
		`SELECT entry_id FROM remote_tips WHERE remote = ? AND namespace = ? AND target = ?`,
		remote, namespace, target).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: remote tip: %w", err)
	}
	return id, nil
}

// SetRemoteTip records the entry id the remote is known to hold as head
// after a successful fetch or push of that target.
func (db *DB) SetRemoteTip(remote, namespace, target, entryID string) error {
	_, err := db.conn.Exec(
		`INSERT INTO remote_tips (remote, namespace, target, entry_id) VALUES (?, ?, ?, ?)
		 ON CONFLICT(remote, namespace, target) DO UPDATE SET entry_id = excluded.entry_id`,
		remote, namespace, target, entryID)
	if err != nil {
		return fmt.Errorf("store: set remote tip: %w", err)
	}
	return nil
}

// ModifiedTargets lists targets in a namespace whose local head differs
// from the recorded tip for the given remote (including targets the remote
// has never seen). These are the push candidates.
func (db *DB) ModifiedTargets(remote, namespace string) ([]string, error) {
	rows, err := db.conn.Query(
		`SELECT h.target FROM heads h
		 LEFT JOIN remote_tips t
		   ON t.remote = ? AND t.namespace = h.namespace AND t.target = h.target
		 WHERE h.namespace = ? AND (t.entry_id IS NULL OR t.entry_id != h.entry_id)
		 ORDER BY h.target`,
		remote, namespace)
	if err != nil {
		return nil, fmt.Errorf("store: modified targets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
