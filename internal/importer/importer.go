// Package importer maps review-comment tuples into note payloads and
// appends them to the annotation tree.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/merge"
	"github.com/starford/ansuz/internal/note"
	"github.com/starford/ansuz/internal/reviews"
	"github.com/starford/ansuz/internal/tree"
)

// appendRetries bounds the retry loop around ErrStaleParent: a concurrent
// local append between our head read and commit just means re-reading the
// head and trying again.
const appendRetries = 3

// Importer aggregates comment batches into single note entries.
type Importer struct {
	trees *tree.Service
}

// New creates an importer over the local tree service.
func New(trees *tree.Service) *Importer {
	return &Importer{trees: trees}
}

// Import formats comments (already ordered oldest-first by the platform;
// they are not re-sorted here) into one canonical payload and appends it as
// a single entry for (namespace, target).
//
// Fails with apperr.ErrEmptyImport when comments is empty; no entry is
// created.
func (im *Importer) Import(ctx context.Context, namespace, target string, comments []reviews.Comment) (note.Entry, error) {
	if len(comments) == 0 {
		return note.Entry{}, fmt.Errorf("importer: %s/%s: %w", namespace, target, apperr.ErrEmptyImport)
	}

	payload := note.Payload{
		Namespace: namespace,
		Author:    "import",
		CreatedAt: latestTimestamp(comments),
		Content:   formatComments(comments),
	}
	payloadID, err := im.trees.Payloads().Put(payload)
	if err != nil {
		return note.Entry{}, err
	}

	var lastErr error
	for i := 0; i < appendRetries; i++ {
		e, err := im.trees.Append(ctx, namespace, target, payloadID)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, apperr.ErrStaleParent) {
			return note.Entry{}, err
		}
		lastErr = err
	}
	return note.Entry{}, fmt.Errorf("importer: append kept losing the head race: %w", lastErr)
}

// formatComments renders each comment as a canonical block (author line,
// RFC 3339 timestamp line, blank line, body), joined with the merge
// delimiter so imported notes and merge payloads read alike.
func formatComments(comments []reviews.Comment) []byte {
	blocks := make([][]byte, 0, len(comments))
	for _, c := range comments {
		var b bytes.Buffer
		b.WriteString(c.Author)
		b.WriteByte('\n')
		b.WriteString(c.CreatedAt.UTC().Format(time.RFC3339))
		b.WriteString("\n\n")
		b.WriteString(c.Body)
		blocks = append(blocks, b.Bytes())
	}
	return bytes.Join(blocks, []byte(merge.Delimiter))
}

// latestTimestamp keeps the payload's content address deterministic across
// replicas importing the same comment set.
func latestTimestamp(comments []reviews.Comment) time.Time {
	latest := comments[0].CreatedAt
	for _, c := range comments[1:] {
		if c.CreatedAt.After(latest) {
			latest = c.CreatedAt
		}
	}
	return latest.UTC()
}
