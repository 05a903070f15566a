// Package apperr defines the sentinel errors shared across the annotation store.
package apperr

import "errors"

var (
	// ErrNotFound is returned when a payload or entry id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrUnknownTarget is returned when the annotated target object is
	// absent from the object store.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrStaleParent is returned when a write names a parent entry that is
	// no longer the current head (optimistic concurrency violation).
	ErrStaleParent = errors.New("stale parent")

	// ErrPushRejected is returned when the remote head has moved and is not
	// an ancestor of the entry being pushed (non-fast-forward).
	ErrPushRejected = errors.New("push rejected")

	// ErrFetchFailed and ErrPushFailed are terminal transport outcomes;
	// the local tree is left untouched.
	ErrFetchFailed = errors.New("fetch failed")
	ErrPushFailed  = errors.New("push failed")

	// ErrEmptyImport is returned when an import carries no comments.
	ErrEmptyImport = errors.New("empty import")

	// ErrUnknownRemote is returned when a sync names an unconfigured remote.
	ErrUnknownRemote = errors.New("unknown remote")
)
