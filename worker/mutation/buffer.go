// Package mutation buffers vertex/edge add/remove requests produced during a
// superstep's compute phase and applies them atomically, in a deterministic
// order, once compute threads are no longer active (spec.md §4.3).
package mutation

import (
	"sync"

	"github.com/dreamware-labs/bspworker/worker/partition"
)

// ChangeSet accumulates the pending changes for a single vertex id.
// Concurrent partition workers may contribute to the same ChangeSet; all
// mutating methods are safe for concurrent use.
type ChangeSet struct {
	mu sync.Mutex

	AddedVertices      []*partition.Vertex
	RemoveVertexCount  int
	AddedEdges         []partition.Edge
	RemovedEdgeTargets []partition.ID
}

// Buffer is a concurrent mapping vertex-id -> ChangeSet. It must be drained
// exactly once between supersteps (spec.md §3).
type Buffer struct {
	mu      sync.Mutex
	entries map[partition.ID]*ChangeSet
}

// New creates an empty mutation buffer.
func New() *Buffer {
	return &Buffer{entries: make(map[partition.ID]*ChangeSet)}
}

func (b *Buffer) entryFor(id partition.ID) *ChangeSet {
	b.mu.Lock()
	cs, ok := b.entries[id]
	if !ok {
		cs = new(ChangeSet)
		b.entries[id] = cs
	}
	b.mu.Unlock()
	return cs
}

// AddVertex records an add-vertex request for id.
func (b *Buffer) AddVertex(id partition.ID, v *partition.Vertex) {
	cs := b.entryFor(id)
	cs.mu.Lock()
	cs.AddedVertices = append(cs.AddedVertices, v)
	cs.mu.Unlock()
}

// RemoveVertex records a remove-vertex request for id.
func (b *Buffer) RemoveVertex(id partition.ID) {
	cs := b.entryFor(id)
	cs.mu.Lock()
	cs.RemoveVertexCount++
	cs.mu.Unlock()
}

// AddEdge records an add-edge request originating from vertex id.
func (b *Buffer) AddEdge(id partition.ID, e partition.Edge) {
	cs := b.entryFor(id)
	cs.mu.Lock()
	cs.AddedEdges = append(cs.AddedEdges, e)
	cs.mu.Unlock()
}

// RemoveEdge records a remove-edge request targeting dst, originating from
// vertex id.
func (b *Buffer) RemoveEdge(id partition.ID, dst partition.ID) {
	cs := b.entryFor(id)
	cs.mu.Lock()
	cs.RemovedEdgeTargets = append(cs.RemovedEdgeTargets, dst)
	cs.mu.Unlock()
}

// Drain atomically detaches the buffer's contents, leaving it empty, and
// returns a plain (no longer concurrently mutated) snapshot for the
// resolver to walk.
func (b *Buffer) Drain() map[partition.ID]*ChangeSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	drained := b.entries
	b.entries = make(map[partition.ID]*ChangeSet)
	return drained
}
