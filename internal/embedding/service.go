// Package embedding produces fixed-length vectors for strings and caches them
// by content hash. The default embedder is a deterministic local feature
// hasher so scoring stays pure; a remote embedder can be plugged in through
// the Embedder interface.
package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"

	"github.com/neurastack/gateway/internal/textutil"
)

// DefaultDimensions is the vector length produced by the local embedder.
const DefaultDimensions = 256

// Embedder converts a string into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// HashEmbedder is a deterministic local embedder: each content word is hashed
// into a bucket and the resulting histogram is L2-normalized. Identical inputs
// always produce identical vectors.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a local embedder with the given dimensionality.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Embed hashes the content words into a normalized histogram vector.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, e.dims)
	for _, word := range textutil.ContentWords(text) {
		sum := sha256.Sum256([]byte(word))
		bucket := binary.BigEndian.Uint32(sum[:4]) % uint32(e.dims)
		// Sign bit from the hash keeps buckets from only accumulating.
		if sum[4]&1 == 0 {
			vec[bucket]++
		} else {
			vec[bucket]--
		}
	}
	normalize(vec)
	return vec, nil
}

func normalize(vec []float64) {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
}

// Service wraps an Embedder with a bounded LRU cache keyed by content hash.
type Service struct {
	embedder Embedder
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recent
}

type cacheEntry struct {
	key string
	vec []float64
}

// NewService creates an embedding service with an LRU of the given capacity.
func NewService(embedder Embedder, capacity int) *Service {
	if capacity <= 0 {
		capacity = 2048
	}
	return &Service{
		embedder: embedder,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Embed returns the vector for text, from cache when available.
func (s *Service) Embed(ctx context.Context, text string) ([]float64, error) {
	key := contentHash(text)

	s.mu.Lock()
	if el, ok := s.entries[key]; ok {
		s.order.MoveToFront(el)
		vec := el.Value.(*cacheEntry).vec
		s.mu.Unlock()
		return vec, nil
	}
	s.mu.Unlock()

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.order.MoveToFront(el)
		return el.Value.(*cacheEntry).vec, nil
	}
	el := s.order.PushFront(&cacheEntry{key: key, vec: vec})
	s.entries[key] = el
	for s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*cacheEntry).key)
	}
	return vec, nil
}

// CacheLen returns the number of cached vectors.
func (s *Service) CacheLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Cosine computes cosine similarity between two vectors of equal length.
// Mismatched or zero vectors yield 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SimilarityMatrix computes the pairwise cosine matrix for a set of vectors.
func SimilarityMatrix(vectors [][]float64) [][]float64 {
	n := len(vectors)
	matrix := make([][]float64, n)
	for i := 0; i < n; i++ {
		matrix[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			if i == j {
				matrix[i][j] = 1
				continue
			}
			matrix[i][j] = Cosine(vectors[i], vectors[j])
		}
	}
	return matrix
}

// Uniqueness returns 1 minus the mean similarity of vector i to the others.
// A single vector is maximally unique.
func Uniqueness(matrix [][]float64, i int) float64 {
	if len(matrix) <= 1 {
		return 1
	}
	var total float64
	for j := range matrix[i] {
		if j == i {
			continue
		}
		total += matrix[i][j]
	}
	mean := total / float64(len(matrix)-1)
	u := 1 - mean
	if u < 0 {
		return 0
	}
	if u > 1 {
		return 1
	}
	return u
}
