// Package storage persists reduction results for the metacluster system.
//
// A reduction run produces one types.Tree. Backends store every cluster of
// the tree together with the run's metadata so that a tree can be reloaded,
// inspected or compared with later runs. Implementations live in the jsonl,
// sqlite and postgres subpackages.
package storage

import (
	"context"

	"github.com/scrypster/metacluster/pkg/types"
)

// TreeStore saves and loads reduction trees keyed by run ID.
type TreeStore interface {
	// SaveTree stores the tree under runID, replacing any previous tree
	// saved with the same ID.
	SaveTree(ctx context.Context, runID string, tree *types.Tree) error

	// LoadTree returns the tree saved under runID.
	// Returns ErrNotFound if no such run exists.
	LoadTree(ctx context.Context, runID string) (*types.Tree, error)

	// DeleteRun removes the run and its clusters.
	// Returns ErrNotFound if no such run exists.
	DeleteRun(ctx context.Context, runID string) error

	// ListRuns returns the stored runs, most recent first.
	ListRuns(ctx context.Context) ([]RunInfo, error)

	// Close releases the store's resources.
	Close() error
}
