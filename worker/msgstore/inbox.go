package msgstore

import (
	"github.com/dreamware-labs/bspworker/bspgraph/message"
	"github.com/dreamware-labs/bspworker/worker/partition"
)

// Inbox double-buffers two Stores the way bspgraph.Graph double-buffers its
// per-vertex queues: messages sent during superstep s land in the "next"
// buffer, while compute for superstep s drains the "current" buffer. Swap
// rolls next into current and clears what was current (spec.md §4.2).
type Inbox struct {
	shardCount int
	combiner   Combiner
	buffers    [2]*Store
}

// NewInbox creates an Inbox with two Stores sharing the same shard count and
// combiner.
func NewInbox(shardCount int, combiner Combiner) *Inbox {
	return &Inbox{
		shardCount: shardCount,
		combiner:   combiner,
		buffers:    [2]*Store{New(shardCount, combiner), New(shardCount, combiner)},
	}
}

// Current returns the Store compute should read from for the given
// superstep parity.
func (ib *Inbox) Current(superstep int) *Store { return ib.buffers[superstep%2] }

// Next returns the Store new messages should be written to for the given
// superstep parity.
func (ib *Inbox) Next(superstep int) *Store { return ib.buffers[(superstep+1)%2] }

// Swap clears the buffer that was current for superstep so it can serve as
// the next buffer going forward; the buffer that was "next" becomes the new
// current automatically since Current/Next are computed from parity.
func (ib *Inbox) Swap(superstep int) {
	ib.Current(superstep).Clear()
}

// QueueFactory adapts the inbox to bspgraph's message.QueueFactory, binding
// a handle for the given vertex id to one of the two buffers.
func (ib *Inbox) QueueFactory(buffer int) message.QueueFactory {
	return func(vertexID string) message.Queue {
		return &vertexQueue{store: ib.buffers[buffer], id: partition.NewID([]byte(vertexID))}
	}
}

// vertexQueue implements message.Queue over a single vertex's slot in a
// shared Store, so bspgraph.Graph can drive the worker's combiner-aware
// message store through its existing per-vertex queue contract.
type vertexQueue struct {
	store *Store
	id    partition.ID

	iterMsgs []message.Message
	iterPos  int
}

func (q *vertexQueue) Enqueue(msg message.Message) error {
	q.store.AddMessage(q.id, msg)
	return nil
}

func (q *vertexQueue) PendingMessages() bool { return q.store.HasMessages(q.id) }

func (q *vertexQueue) DiscardMessages() error {
	q.store.ClearVertex(q.id)
	return nil
}

func (q *vertexQueue) Messages() message.Iterator {
	return &vertexQueue{store: q.store, id: q.id, iterMsgs: q.store.Messages(q.id)}
}

func (q *vertexQueue) Next() bool {
	if q.iterPos >= len(q.iterMsgs) {
		return false
	}
	q.iterPos++
	return true
}

func (q *vertexQueue) Message() message.Message {
	if q.iterPos == 0 || q.iterPos > len(q.iterMsgs) {
		return nil
	}
	return q.iterMsgs[q.iterPos-1]
}

func (q *vertexQueue) Error() error { return nil }

func (q *vertexQueue) Close() error { return nil }
