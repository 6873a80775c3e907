package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	first, err := e.Embed(context.Background(), "binary search trees store ordered keys")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Embed(context.Background(), "binary search trees store ordered keys")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestHashEmbedder_UnitNorm(t *testing.T) {
	e := NewHashEmbedder(64)
	vec, err := e.Embed(context.Background(), "hash tables map keys to buckets")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestHashEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	e := NewHashEmbedder(16)
	vec, err := e.Embed(context.Background(), "")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Equal(t, 0.0, v)
	}
}

func TestHashEmbedder_SimilarTextsCloserThanUnrelated(t *testing.T) {
	e := NewHashEmbedder(256)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "binary search trees keep keys in sorted order for fast lookup")
	b, _ := e.Embed(ctx, "a binary search tree stores sorted keys and supports fast lookup")
	c, _ := e.Embed(ctx, "the lisbon weather is mild in spring with occasional rain showers")

	assert.Greater(t, Cosine(a, b), Cosine(a, c))
}

func TestCosine_EdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine([]float64{1, 0}, []float64{0}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 1}))
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float64{1, 0}, []float64{-1, 0}), 1e-9)
}

func TestService_CachesByContent(t *testing.T) {
	counter := &countingEmbedder{inner: NewHashEmbedder(16)}
	s := NewService(counter, 10)
	ctx := context.Background()

	_, err := s.Embed(ctx, "same text")
	require.NoError(t, err)
	_, err = s.Embed(ctx, "same text")
	require.NoError(t, err)

	assert.Equal(t, 1, counter.calls)
	assert.Equal(t, 1, s.CacheLen())
}

func TestService_EvictsLeastRecent(t *testing.T) {
	counter := &countingEmbedder{inner: NewHashEmbedder(16)}
	s := NewService(counter, 2)
	ctx := context.Background()

	_, _ = s.Embed(ctx, "one")
	_, _ = s.Embed(ctx, "two")
	_, _ = s.Embed(ctx, "three")
	assert.Equal(t, 2, s.CacheLen())

	// "one" was evicted and must be recomputed.
	before := counter.calls
	_, _ = s.Embed(ctx, "one")
	assert.Equal(t, before+1, counter.calls)
}

func TestService_PropagatesEmbedderError(t *testing.T) {
	s := NewService(&failingEmbedder{}, 10)
	_, err := s.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.Equal(t, 0, s.CacheLen())
}

func TestSimilarityMatrix_DiagonalAndSymmetry(t *testing.T) {
	e := NewHashEmbedder(64)
	ctx := context.Background()
	var vectors [][]float64
	for _, text := range []string{
		"hash tables map keys to buckets",
		"binary trees branch left and right",
		"hash tables resolve collisions with chaining",
	} {
		v, err := e.Embed(ctx, text)
		require.NoError(t, err)
		vectors = append(vectors, v)
	}

	matrix := SimilarityMatrix(vectors)
	require.Len(t, matrix, 3)
	for i := 0; i < 3; i++ {
		assert.Equal(t, 1.0, matrix[i][i])
		for j := 0; j < 3; j++ {
			assert.InDelta(t, matrix[j][i], matrix[i][j], 1e-9, fmt.Sprintf("(%d,%d)", i, j))
		}
	}
}

func TestUniqueness(t *testing.T) {
	identical := [][]float64{{1, 0}, {1, 0}, {1, 0}}
	matrix := SimilarityMatrix(identical)
	assert.InDelta(t, 0.0, Uniqueness(matrix, 0), 1e-9)

	orthogonal := [][]float64{{1, 0}, {0, 1}}
	matrix = SimilarityMatrix(orthogonal)
	assert.InDelta(t, 1.0, Uniqueness(matrix, 0), 1e-9)

	single := SimilarityMatrix([][]float64{{1, 0}})
	assert.Equal(t, 1.0, Uniqueness(single, 0))
}

type countingEmbedder struct {
	inner Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, errors.New("embedder down")
}
