package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEmbedder struct {
	mock.Mock
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	var vecs [][]float32
	if v := args.Get(0); v != nil {
		vecs = v.([][]float32)
	}
	return vecs, args.Error(1)
}

func (m *mockEmbedder) GetModel() string { return "mock-embedding" }

func unitVectors(n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, dim)
		out[i][i%dim] = 1
	}
	return out
}

func TestReducer_EmbedsLeavesWithoutCentroids(t *testing.T) {
	emb := &mockEmbedder{}
	emb.On("Embed", mock.Anything, mock.MatchedBy(func(texts []string) bool {
		return len(texts) == 12
	})).Return(unitVectors(12, 4), nil).Once()

	r := newTestReducer(t, newScriptedGenerator(), testConfig(), Options{Embedder: emb})
	tree, err := r.Reduce(context.Background(), makeBase(12), 3, 5)
	require.NoError(t, err)

	// Parents inherit weighted centroids, so only the leaves are embedded.
	emb.AssertExpectations(t)
	for _, c := range tree.Clusters {
		if c.IsLeaf() {
			assert.Empty(t, c.Centroid, "leaf %s keeps its input centroid", c.Name)
			continue
		}
		assert.Len(t, c.Centroid, 4, "cluster %s", c.Name)
	}
}

func TestReducer_EmbeddingsDoNotTouchInput(t *testing.T) {
	emb := &mockEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return(unitVectors(5, 4), nil).Once()

	base := makeBase(6)
	base[0].Centroid = []float32{0, 0, 0, 1}
	r := newTestReducer(t, newScriptedGenerator(), testConfig(), Options{Embedder: emb})
	tree, err := r.Reduce(context.Background(), base, 2, 5)
	require.NoError(t, err)

	emb.AssertCalled(t, "Embed", mock.Anything, mock.MatchedBy(func(texts []string) bool {
		return len(texts) == 5
	}))
	for i, b := range base {
		leaf, ok := tree.Get(b.ID)
		require.True(t, ok)
		if i == 0 {
			assert.Equal(t, []float32{0, 0, 0, 1}, leaf.Centroid)
		} else {
			assert.Empty(t, leaf.Centroid)
			assert.Empty(t, b.Centroid)
		}
	}
}

func TestReducer_EmbeddingFailureIsNotFatal(t *testing.T) {
	emb := &mockEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return(nil, errors.New("embedding service down"))

	r := newTestReducer(t, newScriptedGenerator(), testConfig(), Options{Embedder: emb})
	tree, err := r.Reduce(context.Background(), makeBase(12), 3, 5)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(tree.RootIDs), 3)
	for _, c := range tree.Leaves() {
		assert.Empty(t, c.Centroid)
	}
	emb.AssertCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestReducer_EmbeddingLengthMismatchIgnored(t *testing.T) {
	emb := &mockEmbedder{}
	emb.On("Embed", mock.Anything, mock.Anything).Return(unitVectors(2, 4), nil)

	r := newTestReducer(t, newScriptedGenerator(), testConfig(), Options{Embedder: emb})
	tree, err := r.Reduce(context.Background(), makeBase(6), 6, 1)
	require.NoError(t, err)
	for _, c := range tree.Leaves() {
		assert.Empty(t, c.Centroid)
	}
}
