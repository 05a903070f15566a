package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/merge"
	"github.com/starford/ansuz/internal/note"
	"github.com/starford/ansuz/internal/tree"
	"github.com/starford/ansuz/internal/wire"
)

// PeerHandler serves the endpoints other replicas sync against: head
// listings, entry/payload lookups, and the compare-and-set head update
// that backs push.
type PeerHandler struct {
	trees    *tree.Service
	resolver *merge.Resolver
}

// NewPeerHandler creates the peer-facing handler.
func NewPeerHandler(trees *tree.Service, resolver *merge.Resolver) *PeerHandler {
	return &PeerHandler{trees: trees, resolver: resolver}
}

// Heads handles GET /api/peer/{namespace}/heads.
func (h *PeerHandler) Heads(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	refs, err := h.trees.DB().Heads(namespace)
	if err != nil {
		slog.Error("peer heads failed", slog.String("namespace", namespace), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	heads := make([]wire.Head, len(refs))
	for i, ref := range refs {
		heads[i] = wire.Head{Target: ref.Target, EntryID: ref.EntryID}
	}
	writeJSON(w, http.StatusOK, map[string]any{"heads": heads})
}

// Entry handles GET /api/peer/entries/{id}.
func (h *PeerHandler) Entry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := h.trees.DB().GetEntry(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("peer entry failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, wire.FromEntry(e))
}

// Payload handles GET /api/peer/payloads/{id}.
func (h *PeerHandler) Payload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := h.trees.Payloads().Get(id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("peer payload failed", slog.String("id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, wire.FromPayload(p))
}

// UpdateHead handles PUT /api/peer/{namespace}/heads/{target}.
//
// The pushing replica asserts the head it last saw (old_entry_id). The
// update is accepted when our head is unchanged from that, or when it is an
// ancestor of the pushed head (the push already contains our entries).
// Anything else is a non-fast-forward: 409, and the pusher must fetch,
// merge, and retry. Entries and payloads are ingested before the head
// check; they are immutable and invisible until a head references them.
func (h *PeerHandler) UpdateHead(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 50<<20)
	namespace := chi.URLParam(r, "namespace")
	target := chi.URLParam(r, "target")

	var req wire.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	head, err := h.ingest(req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if head.Namespace != namespace || head.TargetID != target {
		writeJSON(w, http.StatusBadRequest, errorBody("head does not match URL"))
		return
	}

	kl := h.trees.KeyLock(namespace, target)
	kl.Lock()
	defer kl.Unlock()

	db := h.trees.DB()
	current, ok, err := db.Head(namespace, target)
	if err != nil {
		slog.Error("peer update head failed", slog.String("target", target), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	currentID := ""
	if ok {
		currentID = current.ID
	}
	if currentID == head.ID {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if currentID != req.OldEntryID {
		// The pusher is behind; only accept if our head is already part of
		// the pushed history (a fast-forward from our point of view).
		descends, derr := h.resolver.Descends(head.ID, currentID)
		if derr != nil || !descends {
			writeJSON(w, http.StatusConflict, errorBody("non-fast-forward"))
			return
		}
	}

	if err := db.CommitEntry(head, currentID); err != nil {
		if errors.Is(err, apperr.ErrStaleParent) {
			writeJSON(w, http.StatusConflict, errorBody("non-fast-forward"))
		} else {
			slog.Error("peer commit head failed", slog.String("target", target), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	h.trees.Notify("adopted", namespace, target)
	w.WriteHeader(http.StatusNoContent)
}

// ingest verifies and stores the pushed payloads and entries, returning the
// decoded head.
func (h *PeerHandler) ingest(req wire.PushRequest) (note.Entry, error) {
	for _, wp := range req.Payloads {
		p, err := wire.ToPayload(wp, "")
		if err != nil {
			return note.Entry{}, err
		}
		if _, err := h.trees.Payloads().Put(p); err != nil {
			return note.Entry{}, err
		}
	}

	entries := make([]note.Entry, 0, len(req.Entries))
	for _, we := range req.Entries {
		e, err := wire.ToEntry(we)
		if err != nil {
			return note.Entry{}, err
		}
		entries = append(entries, e)
	}
	if err := h.trees.DB().InsertEntries(entries); err != nil {
		return note.Entry{}, err
	}

	head, err := wire.ToEntry(req.Head)
	if err != nil {
		return note.Entry{}, err
	}
	return head, nil
}
