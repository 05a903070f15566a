package objectstore

import (
	"context"
	"fmt"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Git resolves target ids against the object database of a local git
// repository, so notes can only attach to commits (or trees/blobs) that
// actually exist.
type Git struct {
	repo *git.Repository
}

// OpenGit opens the repository at path (plain or bare).
func OpenGit(path string) (*Git, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("objectstore: open git repo %s: %w", path, err)
	}
	return &Git{repo: repo}, nil
}

// Exists reports whether targetID names an object in the repository.
// A malformed id is not an error, just an unknown target.
func (g *Git) Exists(_ context.Context, targetID string) (bool, error) {
	if !plumbing.IsHash(targetID) {
		return false, nil
	}
	err := g.repo.Storer.HasEncodedObject(plumbing.NewHash(targetID))
	if err == plumbing.ErrObjectNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("objectstore: lookup %s: %w", targetID, err)
	}
	return true, nil
}
