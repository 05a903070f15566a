// Package note defines the immutable data model of the annotation store:
// content-addressed payloads and the append-chain entries that point at them.
package note

import (
	"time"

	"github.com/starford/ansuz/internal/checksum"
)

// Payload is an immutable note body plus authorship metadata. It is
// content-addressed over all four fields, so two textually identical notes
// written at different times remain distinct objects.
type Payload struct {
	Namespace string    `json:"namespace"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Content   []byte    `json:"content"`
}

// ID returns the payload's content address. Timestamps are normalised to
// UTC RFC 3339 (nanoseconds) before hashing so the id is independent of the
// wall-clock zone the payload was created in.
func (p Payload) ID() string {
	return checksum.SumFields(
		[]byte(p.Namespace),
		[]byte(p.Author),
		[]byte(p.CreatedAt.UTC().Format(time.RFC3339Nano)),
		p.Content,
	)
}

// Entry is one link in the append chain for a (namespace, target) pair.
// Ordinary entries have at most one parent; merge entries have exactly two.
// Entries are immutable and identified by a hash of their fields.
type Entry struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	TargetID  string    `json:"target_id"`
	PayloadID string    `json:"payload_id"`
	Parents   []string  `json:"parents,omitempty"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEntry builds an ordinary (single-parent) entry and computes its id.
// parent may be empty for the first entry on a target.
func NewEntry(namespace, targetID, payloadID, parent, origin string, createdAt time.Time) Entry {
	e := Entry{
		Namespace: namespace,
		TargetID:  targetID,
		PayloadID: payloadID,
		Origin:    origin,
		CreatedAt: createdAt,
	}
	if parent != "" {
		e.Parents = []string{parent}
	}
	e.ID = e.computeID()
	return e
}

// NewMergeEntry builds a two-parent merge entry. Parents must already be
// sorted by the caller; the resolver sorts them by id so that both replicas
// derive the same entry for the same divergence.
func NewMergeEntry(namespace, targetID, payloadID string, parents [2]string, origin string, createdAt time.Time) Entry {
	e := Entry{
		Namespace: namespace,
		TargetID:  targetID,
		PayloadID: payloadID,
		Parents:   []string{parents[0], parents[1]},
		Origin:    origin,
		CreatedAt: createdAt,
	}
	e.ID = e.computeID()
	return e
}

func (e Entry) computeID() string {
	fields := [][]byte{
		[]byte(e.Namespace),
		[]byte(e.TargetID),
		[]byte(e.PayloadID),
		[]byte(e.Origin),
		[]byte(e.CreatedAt.UTC().Format(time.RFC3339Nano)),
	}
	for _, p := range e.Parents {
		fields = append(fields, []byte(p))
	}
	return checksum.SumFields(fields...)
}

// IsMerge reports whether the entry joins two divergent chains.
func (e Entry) IsMerge() bool {
	return len(e.Parents) == 2
}

// Parent returns the single parent of an ordinary entry, or empty.
func (e Entry) Parent() string {
	if len(e.Parents) == 1 {
		return e.Parents[0]
	}
	return ""
}
