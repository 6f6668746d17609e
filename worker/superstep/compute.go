package superstep

import (
	"github.com/dreamware-labs/bspworker/bspgraph/message"
	"github.com/dreamware-labs/bspworker/worker/partition"
)

// ComputeFunc is the user-supplied vertex program, invoked once per active
// vertex per superstep. Generalizes bspgraph.ComputeFunc
// (Chapter08/bspgraph/interfaces.go) from a single-process Graph/Vertex
// pair to the worker runtime's partition-owned Vertex and a VertexContext
// that routes sends/mutations/aggregates through the worker's dispatcher
// instead of an in-process channel.
type ComputeFunc func(ctx *VertexContext, v *partition.Vertex, msgs message.Iterator) error

// sliceIterator adapts a plain message slice to message.Iterator, the same
// role msgstore's unexported vertexQueue plays internally.
type sliceIterator struct {
	msgs []message.Message
	pos  int
}

func newSliceIterator(msgs []message.Message) *sliceIterator {
	return &sliceIterator{msgs: msgs}
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.msgs) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Message() message.Message {
	if it.pos == 0 || it.pos > len(it.msgs) {
		return nil
	}
	return it.msgs[it.pos-1]
}

func (it *sliceIterator) Error() error { return nil }
