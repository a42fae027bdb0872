package hnsw

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
)

// nodeSnapshot is one graph node in the persistent form.
type nodeSnapshot struct {
	Ordinal     uint32
	Layer       int
	Connections [][]uint32
}

// graphSnapshot is the gob-encoded persistent form of the graph. The
// vectors themselves are not part of it; the VEC segment stays the
// authoritative store and the snapshot only captures connectivity.
// Nodes are ordered by ordinal so that identical graphs encode to
// identical bytes.
type graphSnapshot struct {
	Nodes    []nodeSnapshot
	EP       uint32
	EPSet    bool
	MaxLevel int
}

// MarshalBinary encodes the graph structure for storage in an INDEX
// segment. A stale or missing snapshot is harmless: the index is fully
// rebuildable from the VEC segment.
func (h *Index) MarshalBinary() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snap := graphSnapshot{
		Nodes:    make([]nodeSnapshot, 0, len(h.nodes)),
		EP:       h.ep,
		EPSet:    h.epSet,
		MaxLevel: h.maxLevel,
	}
	for ordinal, nd := range h.nodes {
		snap.Nodes = append(snap.Nodes, nodeSnapshot{
			Ordinal:     ordinal,
			Layer:       nd.layer,
			Connections: nd.connections,
		})
	}
	sort.Slice(snap.Nodes, func(i, j int) bool {
		return snap.Nodes[i].Ordinal < snap.Nodes[j].Ordinal
	})

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snap); err != nil {
		return nil, fmt.Errorf("encode hnsw graph: %w", err)
	}

	return buf.Bytes(), nil
}

// UnmarshalBinary restores a graph structure previously produced by
// MarshalBinary. The caller must ensure the source still matches; a
// snapshot covering fewer vectors than the arena simply leaves the index
// partially built.
func (h *Index) UnmarshalBinary(data []byte) error {
	var snap graphSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return fmt.Errorf("decode hnsw graph: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.nodes = make(map[uint32]*node, len(snap.Nodes))
	for _, ns := range snap.Nodes {
		h.nodes[ns.Ordinal] = &node{
			connections: ns.Connections,
			layer:       ns.Layer,
		}
	}
	h.ep = snap.EP
	h.epSet = snap.EPSet
	h.maxLevel = snap.MaxLevel

	h.built.Store(int64(len(h.nodes)))
	if int64(h.source.Len()) > h.total.Load() {
		h.total.Store(int64(h.source.Len()))
	}
	if h.built.Load() > h.total.Load() {
		h.total.Store(h.built.Load())
	}

	return nil
}
