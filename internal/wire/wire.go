// Package wire defines the JSON DTOs exchanged between replicas during
// synchronization. Identifiers travel with the objects and are re-derived
// on receipt, so a peer cannot inject an entry or payload under a forged id.
package wire

import (
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/note"
)

// Head pairs a target with its current head entry id.
type Head struct {
	Target  string `json:"target"`
	EntryID string `json:"entry_id"`
}

// Entry is the transport form of note.Entry.
type Entry struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	TargetID  string    `json:"target_id"`
	PayloadID string    `json:"payload_id"`
	Parents   []string  `json:"parents,omitempty"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// Payload is the transport form of note.Payload. Content is base64 in JSON.
type Payload struct {
	Namespace string    `json:"namespace"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Content   []byte    `json:"content"`
}

// PushRequest carries one target's head update: the expected previous head
// (compare-and-set guard) and every entry/payload the receiver may be missing.
type PushRequest struct {
	OldEntryID string    `json:"old_entry_id"`
	Head       Entry     `json:"head"`
	Entries    []Entry   `json:"entries,omitempty"`
	Payloads   []Payload `json:"payloads,omitempty"`
}

// FromEntry converts a domain entry to its wire form.
func FromEntry(e note.Entry) Entry {
	return Entry{
		ID:        e.ID,
		Namespace: e.Namespace,
		TargetID:  e.TargetID,
		PayloadID: e.PayloadID,
		Parents:   e.Parents,
		Origin:    e.Origin,
		CreatedAt: e.CreatedAt,
	}
}

// ToEntry converts a received entry back to the domain type, verifying that
// the advertised id matches the entry's content.
func ToEntry(w Entry) (note.Entry, error) {
	var e note.Entry
	switch len(w.Parents) {
	case 0:
		e = note.NewEntry(w.Namespace, w.TargetID, w.PayloadID, "", w.Origin, w.CreatedAt)
	case 1:
		e = note.NewEntry(w.Namespace, w.TargetID, w.PayloadID, w.Parents[0], w.Origin, w.CreatedAt)
	case 2:
		e = note.NewMergeEntry(w.Namespace, w.TargetID, w.PayloadID, [2]string{w.Parents[0], w.Parents[1]}, w.Origin, w.CreatedAt)
	default:
		return note.Entry{}, fmt.Errorf("wire: entry %s has %d parents", w.ID, len(w.Parents))
	}
	if e.ID != w.ID {
		return note.Entry{}, fmt.Errorf("wire: entry id mismatch: advertised %s, derived %s", w.ID, e.ID)
	}
	return e, nil
}

// FromPayload converts a domain payload to its wire form.
func FromPayload(p note.Payload) Payload {
	return Payload{
		Namespace: p.Namespace,
		Author:    p.Author,
		CreatedAt: p.CreatedAt,
		Content:   p.Content,
	}
}

// ToPayload converts a received payload back to the domain type and checks
// it against the id it was requested under.
func ToPayload(w Payload, wantID string) (note.Payload, error) {
	p := note.Payload{
		Namespace: w.Namespace,
		Author:    w.Author,
		CreatedAt: w.CreatedAt,
		Content:   w.Content,
	}
	if wantID != "" && p.ID() != wantID {
		return note.Payload{}, fmt.Errorf("wire: payload id mismatch: requested %s, derived %s", wantID, p.ID())
	}
	return p, nil
}
