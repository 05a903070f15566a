package api

import (
	"time"

	"github.com/starford/ansuz/internal/note"
)

// SetNoteRequest is the body of POST /namespaces/{ns}/notes/{target}.
type SetNoteRequest struct {
	Author  string `json:"author"`
	Content string `json:"content"`
}

// EntryView is an entry as returned by head and history responses.
type EntryView struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Target    string    `json:"target"`
	PayloadID string    `json:"payload_id"`
	Parents   []string  `json:"parents"`
	Origin    string    `json:"origin"`
	Merge     bool      `json:"merge"`
	CreatedAt time.Time `json:"created_at"`
}

// NoteDetail is the head entry enriched with its payload.
type NoteDetail struct {
	Entry     EntryView `json:"entry"`
	Author    string    `json:"author"`
	WrittenAt time.Time `json:"written_at"`
	Content   string    `json:"content"`
}

// ImportRequest is the body of POST .../import. Comments must arrive
// oldest-first; they are forwarded to the importer unsorted.
type ImportRequest struct {
	Comments []ImportComment `json:"comments"`
}

// ImportComment mirrors reviews.Comment on the wire.
type ImportComment struct {
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
	Body      string    `json:"body"`
}

func entryView(e note.Entry) EntryView {
	parents := e.Parents
	if parents == nil {
		parents = []string{}
	}
	return EntryView{
		ID:        e.ID,
		Namespace: e.Namespace,
		Target:    e.TargetID,
		PayloadID: e.PayloadID,
		Parents:   parents,
		Origin:    e.Origin,
		Merge:     e.IsMerge(),
		CreatedAt: e.CreatedAt,
	}
}
