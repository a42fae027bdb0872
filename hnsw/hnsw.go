// Package hnsw implements a Hierarchical Navigable Small World graph over
// the vectors of a VEC segment.
//
// The graph stores arena ordinals, never vector copies: the VEC segment
// stays authoritative and the index can be discarded and rebuilt from it
// at any time. Quantized vectors are dequantized transiently per distance
// computation.
//
// The index offers progressive availability: while BuildFromSource is
// running, searches are answered from the portion of the graph built so
// far, trading recall for earlier readiness. Status reports the build
// fraction so callers can decide to wait or accept reduced recall.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
)

// Source provides distance computations against an append-only vector
// arena. Implementations dequantize stored vectors only for the duration
// of a single call.
type Source interface {
	// Len returns the number of vectors in the arena.
	Len() int

	// ID returns the external id of the vector at the given ordinal.
	ID(ordinal uint32) (string, error)

	// DistanceToQuery returns the distance between the query vector and
	// the vector at the given ordinal.
	DistanceToQuery(q []float32, ordinal uint32) (float32, error)

	// DistanceBetween returns the distance between two stored vectors.
	DistanceBetween(a, b uint32) (float32, error)
}

// Options are the construction parameters of the graph.
type Options struct {
	// M is the number of connections established per element and layer.
	// The range 12-48 suits most embedding workloads; higher M helps
	// high-dimensional data at the cost of memory and build time.
	M int

	// EFConstruction is the candidate list size during insertion. Larger
	// values improve graph quality at the cost of build time.
	EFConstruction int

	// EFSearch is the default candidate list size during search when the
	// caller passes efSearch <= 0.
	EFSearch int

	// Heuristic selects the diversity-aware neighbour pruning from the
	// HNSW paper instead of plain nearest-M selection.
	Heuristic bool

	// Seed seeds the level generator. Two builds over the same arena with
	// the same options and insertion order produce identical graphs, and
	// therefore identical MarshalBinary output.
	Seed int64
}

// DefaultOptions mirror the commonly used efConstruction/efSearch pairing.
// They are defaults to tune, not contractual numbers.
var DefaultOptions = Options{
	M:              16,
	EFConstruction: 200,
	EFSearch:       100,
	Heuristic:      true,
	Seed:           100,
}

// Result is one search hit.
type Result struct {
	Ordinal  uint32
	ID       string
	Distance float32
}

// Status describes the build progress of the index.
type Status struct {
	Built    int
	Total    int
	Fraction float64
}

// Complete reports whether every arena vector has been inserted.
func (s Status) Complete() bool {
	return s.Total == 0 || s.Built >= s.Total
}

type node struct {
	connections [][]uint32
	layer       int
}

func (n *node) connectionsAt(level int) []uint32 {
	if level >= len(n.connections) {
		return nil
	}
	return n.connections[level]
}

// Index is the multi-layer proximity graph.
type Index struct {
	source Source
	opts   Options

	mmax  int     // max connections per element per layer
	mmax0 int     // max for layer 0
	ml    float64 // normalization factor for level generation

	mu       sync.RWMutex
	nodes    map[uint32]*node
	ep       uint32
	epSet    bool
	maxLevel int

	built atomic.Int64
	total atomic.Int64

	rng *rand.Rand
}

// New creates an empty index over the given source.
func New(source Source, optFns ...func(o *Options)) *Index {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.M < 2 {
		// M == 1 would make the level normalization divide by zero.
		opts.M = 2
	}
	if opts.EFConstruction < opts.M {
		opts.EFConstruction = opts.M
	}
	if opts.EFSearch <= 0 {
		opts.EFSearch = DefaultOptions.EFSearch
	}

	return &Index{
		source: source,
		opts:   opts,
		mmax:   opts.M,
		mmax0:  2 * opts.M,
		ml:     1 / math.Log(float64(opts.M)),
		nodes:  make(map[uint32]*node),
		rng:    rand.New(rand.NewSource(opts.Seed)), //nolint:gosec
	}
}

// Options returns the construction parameters the index was built with.
func (h *Index) Options() Options {
	return h.opts
}

// Len returns the number of inserted vectors.
func (h *Index) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Status returns the current build fraction. It is safe to call
// concurrently with BuildFromSource.
func (h *Index) Status() Status {
	built := int(h.built.Load())
	total := int(h.total.Load())

	s := Status{Built: built, Total: total, Fraction: 1}
	if total > 0 {
		s.Fraction = float64(built) / float64(total)
	}

	return s
}

// BuildFromSource inserts every arena vector from ordinal 0 upward.
// Searches issued while the build runs see the layers built so far.
func (h *Index) BuildFromSource() error {
	n := h.source.Len()
	h.total.Store(int64(n))
	h.built.Store(0)

	for i := 0; i < n; i++ {
		if err := h.Insert(uint32(i)); err != nil {
			return fmt.Errorf("hnsw build at ordinal %d: %w", i, err)
		}
	}

	return nil
}

// Insert adds the vector at the given arena ordinal to the graph.
func (h *Index) Insert(ordinal uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.total.Load() < int64(len(h.nodes)+1) {
		h.total.Store(int64(len(h.nodes) + 1))
	}

	layer := int(math.Floor(-math.Log(h.rng.Float64()) * h.ml))

	nd := &node{
		layer:       layer,
		connections: make([][]uint32, layer+1),
	}

	if !h.epSet {
		h.nodes[ordinal] = nd
		h.ep = ordinal
		h.epSet = true
		h.maxLevel = layer
		h.built.Add(1)
		return nil
	}

	currObj := h.ep
	currDist, err := h.source.DistanceBetween(currObj, ordinal)
	if err != nil {
		return err
	}

	// Greedy descent through the layers above the new node's top layer.
	for level := h.maxLevel; level > layer; level-- {
		changed := true
		for changed {
			changed = false
			for _, neighbour := range h.nodes[currObj].connectionsAt(level) {
				d, err := h.source.DistanceBetween(neighbour, ordinal)
				if err != nil {
					return err
				}
				if d < currDist {
					currObj, currDist = neighbour, d
					changed = true
				}
			}
		}
	}

	// Connect at every level from min(layer, maxLevel) down to 0.
	for level := min(layer, h.maxLevel); level >= 0; level-- {
		top := &priorityQueue{}
		err := h.searchLayerOrdinal(ordinal, &queueItem{Ordinal: currObj, Distance: currDist}, top, h.opts.EFConstruction, level)
		if err != nil {
			return err
		}

		if h.opts.Heuristic {
			if err := h.selectNeighboursHeuristic(top, h.opts.M); err != nil {
				return err
			}
		} else {
			selectNeighboursSimple(top, h.opts.M)
		}

		nd.connections[level] = make([]uint32, top.Len())
		for i := top.Len() - 1; i >= 0; i-- {
			candidate, _ := heap.Pop(top).(*queueItem)
			nd.connections[level][i] = candidate.Ordinal
		}
	}

	h.nodes[ordinal] = nd

	// Link back from the neighbours, making the new node visible.
	for level := min(layer, h.maxLevel); level >= 0; level-- {
		for _, neighbour := range nd.connections[level] {
			if err := h.link(neighbour, ordinal, level); err != nil {
				return err
			}
		}
	}

	if layer > h.maxLevel {
		h.ep = ordinal
		h.maxLevel = layer
	}

	h.built.Add(1)

	return nil
}

// link adds an edge and prunes the neighbour list when it exceeds the
// level's degree bound.
func (h *Index) link(from, to uint32, level int) error {
	maxConnections := h.mmax
	if level == 0 {
		maxConnections = h.mmax0
	}

	nd := h.nodes[from]
	if level >= len(nd.connections) {
		return nil
	}
	nd.connections[level] = append(nd.connections[level], to)

	if len(nd.connections[level]) <= maxConnections {
		return nil
	}

	top := &priorityQueue{}
	heap.Init(top)

	for _, ordinal := range nd.connections[level] {
		d, err := h.source.DistanceBetween(from, ordinal)
		if err != nil {
			return err
		}
		heap.Push(top, &queueItem{Ordinal: ordinal, Distance: d})
	}

	if h.opts.Heuristic {
		if err := h.selectNeighboursHeuristic(top, maxConnections); err != nil {
			return err
		}
	} else {
		selectNeighboursSimple(top, maxConnections)
	}

	nd.connections[level] = make([]uint32, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(top).(*queueItem)
		nd.connections[level][i] = item.Ordinal
	}

	return nil
}

// Search performs a k-nearest-neighbour search. efSearch <= 0 uses the
// configured default. A partially built index answers from the graph
// built so far.
func (h *Index) Search(q []float32, k, efSearch int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if efSearch <= 0 {
		efSearch = h.opts.EFSearch
	}
	if efSearch < k {
		efSearch = k
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.epSet {
		return nil, nil
	}

	currObj := h.ep
	currDist, err := h.source.DistanceToQuery(q, currObj)
	if err != nil {
		return nil, err
	}

	// Greedy descent to layer 1.
	for level := h.maxLevel; level > 0; level-- {
		changed := true
		for changed {
			changed = false
			for _, neighbour := range h.nodes[currObj].connectionsAt(level) {
				d, err := h.source.DistanceToQuery(q, neighbour)
				if err != nil {
					return nil, err
				}
				if d < currDist {
					currObj, currDist = neighbour, d
					changed = true
				}
			}
		}
	}

	top := &priorityQueue{}
	err = h.searchLayerQuery(q, &queueItem{Ordinal: currObj, Distance: currDist}, top, efSearch, 0)
	if err != nil {
		return nil, err
	}

	for top.Len() > k {
		heap.Pop(top)
	}

	results := make([]Result, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		item, _ := heap.Pop(top).(*queueItem)
		id, err := h.source.ID(item.Ordinal)
		if err != nil {
			return nil, err
		}
		results[i] = Result{Ordinal: item.Ordinal, ID: id, Distance: item.Distance}
	}

	return results, nil
}

func (h *Index) searchLayerQuery(q []float32, ep *queueItem, top *priorityQueue, ef, level int) error {
	return h.searchLayer(ep, top, ef, level, func(ordinal uint32) (float32, error) {
		return h.source.DistanceToQuery(q, ordinal)
	})
}

// searchLayerOrdinal is the insert-time variant keyed on a stored vector.
func (h *Index) searchLayerOrdinal(target uint32, ep *queueItem, top *priorityQueue, ef, level int) error {
	return h.searchLayer(ep, top, ef, level, func(ordinal uint32) (float32, error) {
		return h.source.DistanceBetween(target, ordinal)
	})
}

func (h *Index) searchLayer(ep *queueItem, top *priorityQueue, ef, level int, dist func(uint32) (float32, error)) error {
	var visited bitset.BitSet
	visited.Set(uint(ep.Ordinal))

	candidates := &priorityQueue{Order: false}
	heap.Init(candidates)
	heap.Push(candidates, &queueItem{Ordinal: ep.Ordinal, Distance: ep.Distance})

	top.Order = true // max-heap keeps the worst of the best on top
	heap.Init(top)
	heap.Push(top, &queueItem{Ordinal: ep.Ordinal, Distance: ep.Distance})

	for candidates.Len() > 0 {
		lowerBound := top.Top().Distance

		candidate, _ := heap.Pop(candidates).(*queueItem)
		if candidate.Distance > lowerBound {
			break
		}

		nd, ok := h.nodes[candidate.Ordinal]
		if !ok {
			continue
		}

		for _, neighbour := range nd.connectionsAt(level) {
			if visited.Test(uint(neighbour)) {
				continue
			}
			visited.Set(uint(neighbour))

			d, err := dist(neighbour)
			if err != nil {
				return err
			}

			if top.Len() < ef {
				heap.Push(top, &queueItem{Ordinal: neighbour, Distance: d})
				heap.Push(candidates, &queueItem{Ordinal: neighbour, Distance: d})
			} else if top.Top().Distance > d {
				heap.Pop(top)
				heap.Push(top, &queueItem{Ordinal: neighbour, Distance: d})
				heap.Push(candidates, &queueItem{Ordinal: neighbour, Distance: d})
			}
		}
	}

	return nil
}

// selectNeighboursSimple keeps the M nearest candidates.
func selectNeighboursSimple(top *priorityQueue, m int) {
	for top.Len() > m {
		heap.Pop(top)
	}
}

// selectNeighboursHeuristic keeps up to M candidates favouring diversity:
// a candidate is skipped when it is closer to an already kept neighbour
// than to the base vector.
func (h *Index) selectNeighboursHeuristic(top *priorityQueue, m int) error {
	if top.Len() <= m {
		return nil
	}

	closestFirst := &priorityQueue{Order: false}
	heap.Init(closestFirst)
	for top.Len() > 0 {
		item, _ := heap.Pop(top).(*queueItem)
		heap.Push(closestFirst, item)
	}

	kept := make([]*queueItem, 0, m)
	var spare []*queueItem

	for closestFirst.Len() > 0 && len(kept) < m {
		item, _ := heap.Pop(closestFirst).(*queueItem)

		keep := true
		for _, existing := range kept {
			d, err := h.source.DistanceBetween(existing.Ordinal, item.Ordinal)
			if err != nil {
				return err
			}
			if d < item.Distance {
				keep = false
				break
			}
		}

		if keep {
			kept = append(kept, item)
		} else {
			spare = append(spare, item)
		}
	}

	for _, item := range spare {
		if len(kept) >= m {
			break
		}
		kept = append(kept, item)
	}

	for _, item := range kept {
		heap.Push(top, item)
	}

	return nil
}
