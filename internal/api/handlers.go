package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/importer"
	"github.com/starford/ansuz/internal/note"
	"github.com/starford/ansuz/internal/reviews"
	"github.com/starford/ansuz/internal/syncer"
	"github.com/starford/ansuz/internal/tree"
)

// Handler holds API route handlers.
type Handler struct {
	trees    *tree.Service
	importer *importer.Importer
	engine   *syncer.Engine
	remotes  map[string]syncer.Remote
	peer     *PeerHandler
}

// NewHandler creates a Handler. remotes maps configured remote names to
// their transports.
func NewHandler(trees *tree.Service, imp *importer.Importer, engine *syncer.Engine, remotes map[string]syncer.Remote, peer *PeerHandler) *Handler {
	return &Handler{trees: trees, importer: imp, engine: engine, remotes: remotes, peer: peer}
}

// GetHead handles GET /api/namespaces/{namespace}/notes/{target}.
func (h *Handler) GetHead(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	target := chi.URLParam(r, "target")

	head, err := h.trees.Head(r.Context(), namespace, target)
	if err != nil {
		slog.Error("get head failed", slog.String("target", target), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	if head == nil {
		writeJSON(w, http.StatusNotFound, errorBody("no note for target"))
		return
	}

	detail, err := h.noteDetail(*head)
	if err != nil {
		slog.Error("load payload failed", slog.String("target", target), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// GetHistory handles GET /api/namespaces/{namespace}/notes/{target}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	target := chi.URLParam(r, "target")

	entries := []EntryView{}
	it := h.trees.History(namespace, target)
	for it.Next() {
		entries = append(entries, entryView(it.Entry()))
	}
	if err := it.Err(); err != nil {
		slog.Error("history failed", slog.String("target", target), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// SetNote handles POST /api/namespaces/{namespace}/notes/{target}.
//
// Without an If-Match header the note is appended on top of the current
// head. With If-Match the write is a compare-and-set against that entry id
// (If-Match: "" asserts the target has no note yet); a moved head yields
// 409 and the caller should re-read the head and retry.
func (h *Handler) SetNote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	namespace := chi.URLParam(r, "namespace")
	target := chi.URLParam(r, "target")

	var req SetNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" || req.Author == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("author and content are required"))
		return
	}

	payload := note.Payload{
		Namespace: namespace,
		Author:    req.Author,
		CreatedAt: time.Now().UTC(),
		Content:   []byte(req.Content),
	}
	payloadID, err := h.trees.Payloads().Put(payload)
	if err != nil {
		slog.Error("store payload failed", slog.String("target", target), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	var entry note.Entry
	if ifMatch, present := matchHeader(r); present {
		entry, err = h.trees.Set(r.Context(), namespace, target, payloadID, ifMatch)
	} else {
		entry, err = h.trees.Append(r.Context(), namespace, target, payloadID)
	}
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrUnknownTarget):
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("unknown target"))
		case errors.Is(err, apperr.ErrStaleParent):
			writeJSON(w, http.StatusConflict, errorBody("head has moved"))
		default:
			slog.Error("set note failed", slog.String("target", target), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, entryView(entry))
}

// ImportComments handles POST /api/namespaces/{namespace}/notes/{target}/import.
func (h *Handler) ImportComments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	namespace := chi.URLParam(r, "namespace")
	target := chi.URLParam(r, "target")

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	comments := make([]reviews.Comment, len(req.Comments))
	for i, c := range req.Comments {
		comments[i] = reviews.Comment{Author: c.Author, CreatedAt: c.CreatedAt, Body: c.Body}
	}

	entry, err := h.importer.Import(r.Context(), namespace, target, comments)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrEmptyImport):
			writeJSON(w, http.StatusBadRequest, errorBody("no comments to import"))
		case errors.Is(err, apperr.ErrUnknownTarget):
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("unknown target"))
		default:
			slog.Error("import failed", slog.String("target", target), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, entryView(entry))
}

// remote resolves a configured remote by name.
func (h *Handler) remote(name string) (syncer.Remote, error) {
	remote, ok := h.remotes[name]
	if !ok {
		return nil, fmt.Errorf("api: remote %s: %w", name, apperr.ErrUnknownRemote)
	}
	return remote, nil
}

// Fetch handles POST /api/sync/{remote}/{namespace}/fetch.
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	remote, err := h.remote(chi.URLParam(r, "remote"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("unknown remote"))
		return
	}
	namespace := chi.URLParam(r, "namespace")

	if err := h.engine.Fetch(r.Context(), remote, namespace); err != nil {
		switch {
		case errors.Is(err, apperr.ErrUnknownTarget):
			writeJSON(w, http.StatusUnprocessableEntity, errorBody("unknown target"))
		case errors.Is(err, apperr.ErrFetchFailed):
			writeJSON(w, http.StatusBadGateway, errorBody("fetch failed"))
		default:
			slog.Error("fetch failed", slog.String("remote", remote.Name()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Push handles POST /api/sync/{remote}/{namespace}/push.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	remote, err := h.remote(chi.URLParam(r, "remote"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorBody("unknown remote"))
		return
	}
	namespace := chi.URLParam(r, "namespace")

	if err := h.engine.Push(r.Context(), remote, namespace); err != nil {
		switch {
		case errors.Is(err, apperr.ErrPushRejected):
			writeJSON(w, http.StatusConflict, errorBody("push rejected: fetch and retry"))
		case errors.Is(err, apperr.ErrPushFailed):
			writeJSON(w, http.StatusBadGateway, errorBody("push failed"))
		default:
			slog.Error("push failed", slog.String("remote", remote.Name()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// noteDetail joins a head entry with its payload.
func (h *Handler) noteDetail(e note.Entry) (NoteDetail, error) {
	p, err := h.trees.Payloads().Get(e.PayloadID)
	if err != nil {
		return NoteDetail{}, err
	}
	return NoteDetail{
		Entry:     entryView(e),
		Author:    p.Author,
		WrittenAt: p.CreatedAt,
		Content:   string(p.Content),
	}, nil
}

// matchHeader reads If-Match, reporting whether it was present at all.
// Surrounding quotes are stripped (standard ETag format); a present-but-
// empty value asserts "no head yet".
func matchHeader(r *http.Request) (string, bool) {
	vals, present := r.Header["If-Match"]
	if !present || len(vals) == 0 {
		return "", false
	}
	return strings.Trim(vals[0], `"`), true
}
