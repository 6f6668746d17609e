// Package msgstore accumulates per-vertex incoming messages for the next
// superstep. It backs bspgraph/message.Queue so the compute engine can read
// messages through the same interface regardless of whether a combiner is
// configured, while giving the worker runtime a single store spanning every
// vertex rather than one queue object per vertex pair.
package msgstore

import (
	"sync"

	"github.com/dreamware-labs/bspworker/bspgraph/message"
	"github.com/dreamware-labs/bspworker/worker/partition"
)

// Combiner reduces two messages destined for the same vertex into one. It
// must be commutative and associative. The store keeps a vertex's first
// message as is and folds each later one into it; no identity value is used.
type Combiner func(a, b message.Message) message.Message

// Store accumulates messages for the next superstep, keyed by vertex id.
// Adds are safe for concurrent use by multiple partition workers targeting
// the same or different vertices; locking is sharded across vertex ids to
// bound contention (spec.md §5: "per-vertex lock for the append/combine
// path").
type Store struct {
	combiner Combiner
	shards   []*shard
	mask     uint32
}

type shard struct {
	mu   sync.Mutex
	msgs map[partition.ID][]message.Message
}

// New creates a message store with the given shard count (rounded up to the
// next power of two) and an optional combiner. A nil combiner keeps an
// append-only sequence per vertex.
func New(shardCount int, combiner Combiner) *Store {
	n := nextPow2(shardCount)
	s := &Store{
		combiner: combiner,
		shards:   make([]*shard, n),
		mask:     uint32(n - 1),
	}
	for i := range s.shards {
		s.shards[i] = &shard{msgs: make(map[partition.ID][]message.Message)}
	}
	return s
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (s *Store) shardFor(id partition.ID) *shard {
	return s.shards[fnv32(string(id))&s.mask]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// AddMessage adds msg for vertex id. If a combiner is configured the store
// keeps at most one message per vertex, reducing msg into the existing
// value; otherwise msg is appended to that vertex's sequence.
func (s *Store) AddMessage(id partition.ID, msg message.Message) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if s.combiner == nil {
		sh.msgs[id] = append(sh.msgs[id], msg)
		return
	}
	existing, ok := sh.msgs[id]
	if !ok || len(existing) == 0 {
		sh.msgs[id] = []message.Message{msg}
		return
	}
	sh.msgs[id][0] = s.combiner(existing[0], msg)
}

// Messages returns the messages queued for vertex id, in FIFO order for a
// non-combined store, or the single combined message otherwise. The
// returned slice is a snapshot safe for the caller to range over without
// further synchronization.
func (s *Store) Messages(id partition.ID) []message.Message {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	msgs := sh.msgs[id]
	if len(msgs) == 0 {
		return nil
	}
	out := make([]message.Message, len(msgs))
	copy(out, msgs)
	return out
}

// HasMessages reports whether any messages are queued for vertex id.
func (s *Store) HasMessages(id partition.ID) bool {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return len(sh.msgs[id]) > 0
}

// DestinationVertices returns every vertex id that currently has at least
// one queued message.
func (s *Store) DestinationVertices() []partition.ID {
	var out []partition.ID
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, msgs := range sh.msgs {
			if len(msgs) > 0 {
				out = append(out, id)
			}
		}
		sh.mu.Unlock()
	}
	return out
}

// ClearVertex discards the queued messages for a single vertex id.
func (s *Store) ClearVertex(id partition.ID) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	delete(sh.msgs, id)
	sh.mu.Unlock()
}

// Clear discards every queued message across all vertices. Used by swap to
// reset the store that is about to become the next-superstep inbox.
func (s *Store) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.msgs = make(map[partition.ID][]message.Message)
		sh.mu.Unlock()
	}
}
