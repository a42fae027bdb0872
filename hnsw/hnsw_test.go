package hnsw

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruvector/rvf/metric"
)

// sliceSource is an in-memory arena for tests.
type sliceSource struct {
	vectors [][]float32
}

func (s *sliceSource) Len() int { return len(s.vectors) }

func (s *sliceSource) ID(ordinal uint32) (string, error) {
	if int(ordinal) >= len(s.vectors) {
		return "", fmt.Errorf("ordinal %d out of range", ordinal)
	}
	return fmt.Sprintf("v%d", ordinal), nil
}

func (s *sliceSource) DistanceToQuery(q []float32, ordinal uint32) (float32, error) {
	return metric.SquaredL2(q, s.vectors[ordinal])
}

func (s *sliceSource) DistanceBetween(a, b uint32) (float32, error) {
	return metric.SquaredL2(s.vectors[a], s.vectors[b])
}

func randomVectors(n, dim int, seed int64) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		vectors[i] = v
	}
	return vectors
}

func TestBuildAndSelfSearch(t *testing.T) {
	source := &sliceSource{vectors: randomVectors(200, 16, 1)}
	idx := New(source)

	require.NoError(t, idx.BuildFromSource())
	assert.Equal(t, 200, idx.Len())
	assert.True(t, idx.Status().Complete())

	// Every stored vector must find itself at distance 0.
	for i := 0; i < 200; i += 17 {
		results, err := idx.Search(source.vectors[i], 1, 0)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, uint32(i), results[0].Ordinal)
		assert.Zero(t, results[0].Distance)
	}
}

func TestSearchRecall(t *testing.T) {
	const (
		n   = 1000
		dim = 64
		k   = 10
	)

	vectors := randomVectors(n, dim, 2)
	source := &sliceSource{vectors: vectors}
	idx := New(source)
	require.NoError(t, idx.BuildFromSource())

	queries := randomVectors(20, dim, 3)
	var hits, total int

	for _, q := range queries {
		want := bruteForceKNN(vectors, q, k)

		results, err := idx.Search(q, k, 400)
		require.NoError(t, err)
		require.Len(t, results, k)

		got := make(map[uint32]bool, k)
		for _, r := range results {
			got[r.Ordinal] = true
		}
		for _, w := range want {
			if got[w] {
				hits++
			}
		}
		total += k
	}

	recall := float64(hits) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.9, "recall %f too low", recall)
}

func bruteForceKNN(vectors [][]float32, q []float32, k int) []uint32 {
	type pair struct {
		ordinal uint32
		dist    float32
	}
	pairs := make([]pair, len(vectors))
	for i, v := range vectors {
		d, _ := metric.SquaredL2(q, v)
		pairs[i] = pair{ordinal: uint32(i), dist: d}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })

	out := make([]uint32, k)
	for i := 0; i < k; i++ {
		out[i] = pairs[i].ordinal
	}
	return out
}

func TestSearchResultsSorted(t *testing.T) {
	source := &sliceSource{vectors: randomVectors(100, 8, 4)}
	idx := New(source)
	require.NoError(t, idx.BuildFromSource())

	results, err := idx.Search(source.vectors[0], 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 10)

	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := New(&sliceSource{})

	results, err := idx.Search([]float32{1, 2}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIncrementalInsert(t *testing.T) {
	source := &sliceSource{}
	idx := New(source)

	for i := 0; i < 50; i++ {
		source.vectors = append(source.vectors, randomVectors(1, 8, int64(i))[0])
		require.NoError(t, idx.Insert(uint32(i)))
	}
	assert.Equal(t, 50, idx.Len())

	results, err := idx.Search(source.vectors[25], 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(25), results[0].Ordinal)
}

func TestStatusProgress(t *testing.T) {
	idx := New(&sliceSource{})
	s := idx.Status()
	assert.True(t, s.Complete())
	assert.Equal(t, 1.0, s.Fraction)
}

func TestMarshalRoundTrip(t *testing.T) {
	source := &sliceSource{vectors: randomVectors(150, 12, 5)}
	idx := New(source)
	require.NoError(t, idx.BuildFromSource())

	blob, err := idx.MarshalBinary()
	require.NoError(t, err)

	restored := New(source)
	require.NoError(t, restored.UnmarshalBinary(blob))
	assert.Equal(t, idx.Len(), restored.Len())
	assert.True(t, restored.Status().Complete())

	// The restored graph answers searches identically.
	for i := 0; i < 150; i += 29 {
		a, err := idx.Search(source.vectors[i], 5, 0)
		require.NoError(t, err)
		b, err := restored.Search(source.vectors[i], 5, 0)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	source := &sliceSource{vectors: randomVectors(300, 16, 7)}

	build := func() []byte {
		idx := New(source)
		require.NoError(t, idx.BuildFromSource())
		blob, err := idx.MarshalBinary()
		require.NoError(t, err)
		return blob
	}

	// The level generator is seeded and the snapshot is ordinal-ordered,
	// so two builds over the same arena encode to identical bytes.
	assert.Equal(t, build(), build())
}

func TestSelfRecallLargeSet(t *testing.T) {
	const (
		n   = 1000
		dim = 128
	)

	source := &sliceSource{vectors: randomVectors(n, dim, 8)}
	idx := New(source)
	require.NoError(t, idx.BuildFromSource())

	// Every query is a stored vector; it must come back as the nearest
	// neighbour at the default efSearch.
	var hits int
	for i := 0; i < n; i++ {
		results, err := idx.Search(source.vectors[i], 1, 0)
		require.NoError(t, err)
		require.Len(t, results, 1)
		if results[0].Ordinal == uint32(i) {
			hits++
		}
	}

	recall := float64(hits) / float64(n)
	assert.GreaterOrEqual(t, recall, 0.99, "self recall %f too low", recall)
}

func TestUnmarshalGarbage(t *testing.T) {
	idx := New(&sliceSource{})
	require.Error(t, idx.UnmarshalBinary([]byte("not a graph")))
}

func TestOptionsClamped(t *testing.T) {
	idx := New(&sliceSource{}, func(o *Options) {
		o.M = 1
		o.EFConstruction = 0
		o.EFSearch = -1
	})

	opts := idx.Options()
	assert.GreaterOrEqual(t, opts.M, 2)
	assert.GreaterOrEqual(t, opts.EFConstruction, opts.M)
	assert.Greater(t, opts.EFSearch, 0)
}
