// Package source defines the repository data source the tracker polls.
package source

import (
	"context"
	"errors"

	"github.com/jwalitptl/repo-tracker/internal/model"
)

// ErrNotFound is returned when the repository does not exist or is not
// visible to the configured credentials.
var ErrNotFound = errors.New("repository not found")

// ResourceStatus is the result of VerifyResource.
type ResourceStatus struct {
	Exists        bool
	IsPrivate     bool
	IsArchived    bool
	FullName      string
	DefaultBranch string
}

type Source interface {
	FetchSnapshot(ctx context.Context, owner, name string) (*model.Snapshot, error)
	// VerifyResource reports Exists=false instead of returning ErrNotFound.
	VerifyResource(ctx context.Context, owner, name string) (*ResourceStatus, error)
}
