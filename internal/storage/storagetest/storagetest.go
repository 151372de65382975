// Package storagetest holds a behavioural test suite shared by every
// storage.TreeStore implementation.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/metacluster/internal/storage"
	"github.com/scrypster/metacluster/pkg/types"
)

// SampleTree returns a two-level tree: three leaves under one parent plus a
// synthetic Other root holding the fourth leaf.
func SampleTree() *types.Tree {
	parent := "p-billing"
	other := "p-other"
	clusters := []*types.Cluster{
		{ID: "leaf-1", Name: "Refunds", Description: "Users asking for refunds", MemberIDs: []string{"c1", "c2"}, ChildIDs: []string{}, ParentID: &parent, Centroid: []float32{1, 0, 0.5}},
		{ID: "leaf-2", Name: "Invoices", Description: "Invoice questions", MemberIDs: []string{"c3"}, ChildIDs: []string{}, ParentID: &parent, Centroid: []float32{0.9, 0.1, 0.5}},
		{ID: "leaf-3", Name: "Card declines", Description: "Payment failures", MemberIDs: []string{"c4"}, ChildIDs: []string{}, ParentID: &parent},
		{ID: "leaf-4", Name: "Poetry", Description: "Writing poems", MemberIDs: []string{"c5"}, ChildIDs: []string{}, ParentID: &other},
		{ID: parent, Name: "Billing", Description: "Billing and payments", MemberIDs: []string{"c1", "c2", "c3", "c4"}, ChildIDs: []string{"leaf-1", "leaf-2", "leaf-3"}, Level: 1, Centroid: []float32{0.95, 0.05, 0.5}},
		{ID: other, Name: "Other", Description: "Clusters that did not fit any proposed group", MemberIDs: []string{"c5"}, ChildIDs: []string{"leaf-4"}, Level: 1, Synthetic: true},
	}
	tree := types.NewTree(clusters)
	tree.Rounds = 1
	tree.Degraded = true
	tree.DegradedReason = types.DegradedMaxRounds
	return tree
}

// Run exercises a TreeStore created by newStore. Each subtest gets a fresh
// store; newStore should register its own cleanup.
func Run(t *testing.T, newStore func(t *testing.T) storage.TreeStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("save and load", func(t *testing.T) {
		s := newStore(t)
		want := SampleTree()
		require.NoError(t, s.SaveTree(ctx, "run-1", want))

		got, err := s.LoadTree(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, want.RootIDs, got.RootIDs)
		assert.Equal(t, want.Rounds, got.Rounds)
		assert.True(t, got.Degraded)
		assert.Equal(t, types.DegradedMaxRounds, got.DegradedReason)
		require.Len(t, got.Clusters, len(want.Clusters))

		for _, w := range want.Clusters {
			g, ok := got.Get(w.ID)
			require.True(t, ok, "cluster %s missing", w.ID)
			assert.Equal(t, w.Name, g.Name)
			assert.Equal(t, w.Description, g.Description)
			assert.Equal(t, w.Level, g.Level)
			assert.Equal(t, w.Synthetic, g.Synthetic)
			assert.Equal(t, w.MemberIDs, g.MemberIDs)
			assert.Equal(t, w.ChildIDs, g.ChildIDs)
			assert.Equal(t, w.ParentID, g.ParentID)
			assert.InDeltaSlice(t, w.Centroid, g.Centroid, 1e-6)
		}
	})

	t.Run("missing run", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadTree(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("save replaces", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveTree(ctx, "run-1", SampleTree()))

		smaller := types.NewTree([]*types.Cluster{
			{ID: "only", Name: "Only", MemberIDs: []string{"c1"}, ChildIDs: []string{}},
		})
		require.NoError(t, s.SaveTree(ctx, "run-1", smaller))

		got, err := s.LoadTree(ctx, "run-1")
		require.NoError(t, err)
		require.Len(t, got.Clusters, 1)
		assert.Equal(t, []string{"only"}, got.RootIDs)
		assert.False(t, got.Degraded)
	})

	t.Run("delete run", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.SaveTree(ctx, "run-1", SampleTree()))
		require.NoError(t, s.DeleteRun(ctx, "run-1"))

		_, err := s.LoadTree(ctx, "run-1")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, s.DeleteRun(ctx, "run-1"), storage.ErrNotFound)
	})

	t.Run("invalid input", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.SaveTree(ctx, "", SampleTree()), storage.ErrInvalidInput)
		assert.ErrorIs(t, s.SaveTree(ctx, "run", nil), storage.ErrInvalidInput)
	})

	t.Run("list runs", func(t *testing.T) {
		s := newStore(t)
		runs, err := s.ListRuns(ctx)
		require.NoError(t, err)
		assert.Empty(t, runs)

		require.NoError(t, s.SaveTree(ctx, "older", SampleTree()))
		time.Sleep(5 * time.Millisecond)
		require.NoError(t, s.SaveTree(ctx, "newer", SampleTree()))

		runs, err = s.ListRuns(ctx)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "newer", runs[0].ID)
		assert.Equal(t, "older", runs[1].ID)
		assert.Equal(t, 2, runs[0].RootCount)
		assert.Equal(t, 6, runs[0].ClusterCount)
		assert.Equal(t, 1, runs[0].Rounds)
		assert.True(t, runs[0].Degraded)
	})
}
