package superstep

import (
	"context"

	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/bspgraph/message"
	"github.com/dreamware-labs/bspworker/worker/partition"
	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

// MessageCodec converts between a vertex program's message.Message values
// and the raw bytes the RPC layer moves between workers. Generalizes the
// MESSAGE_VALUE_CLASS configuration key spec.md §6 describes.
type MessageCodec interface {
	Encode(message.Message) (rpcpb.RawMessage, error)
	Decode(rpcpb.RawMessage) (message.Message, error)
}

// VertexContext is the handle a ComputeFunc uses to affect the rest of the
// superstep: sending messages, requesting mutations, and folding into
// aggregators. Generalizes bspgraph.Graph's role as the argument passed to
// bspgraph.ComputeFunc (Chapter08/bspgraph/graph.go's SendMessage,
// BroadcastToNeighbors) to a context that routes through the worker's
// partition store, dispatcher and mutation buffer instead of an in-process
// vertex map.
type VertexContext struct {
	ctrl      *Controller
	superstep int
}

// Superstep returns the superstep number compute is currently running.
func (vc *VertexContext) Superstep() int { return vc.superstep }

// SendMessage queues msg for delivery to dst at the start of the next
// superstep, routing it to the local inbox or to the owning worker via the
// dispatcher depending on where dst currently lives.
func (vc *VertexContext) SendMessage(dst partition.ID, msg message.Message) error {
	ctx := vc.ctrl.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	return vc.ctrl.routeMessage(ctx, dst, msg)
}

// BroadcastToNeighbors sends msg to every outgoing neighbor of v.
func (vc *VertexContext) BroadcastToNeighbors(v *partition.Vertex, msg message.Message) error {
	for _, e := range v.Edges {
		if err := vc.SendMessage(e.Target, msg); err != nil {
			return err
		}
	}
	return nil
}

// AddVertex records a request to add or overwrite the vertex with id,
// applied during APPLY_MUTATIONS.
func (vc *VertexContext) AddVertex(id partition.ID, v *partition.Vertex) {
	vc.ctrl.cfg.Mutations.AddVertex(id, v)
}

// RemoveVertex records a request to delete the vertex with id.
func (vc *VertexContext) RemoveVertex(id partition.ID) {
	vc.ctrl.cfg.Mutations.RemoveVertex(id)
}

// AddEdge records a request to add an edge originating at src.
func (vc *VertexContext) AddEdge(src partition.ID, e partition.Edge) {
	vc.ctrl.cfg.Mutations.AddEdge(src, e)
}

// RemoveEdge records a request to remove the edge from src to dst.
func (vc *VertexContext) RemoveEdge(src, dst partition.ID) {
	vc.ctrl.cfg.Mutations.RemoveEdge(src, dst)
}

// Aggregate folds val into the named aggregator. A no-op if name was never
// registered.
func (vc *VertexContext) Aggregate(name string, val interface{}) {
	if aggr := vc.ctrl.cfg.Aggregators.Aggregator(name); aggr != nil {
		aggr.Aggregate(val)
	}
}

// AggregatedValue returns the named aggregator's live value, or nil if name
// was never registered. The value includes whatever has been folded into it
// so far in the current superstep; Transient aggregators restart from their
// zero value at SETUP, so their previous superstep's finalized value is not
// kept.
func (vc *VertexContext) AggregatedValue(name string) interface{} {
	if aggr := vc.ctrl.cfg.Aggregators.Aggregator(name); aggr != nil {
		return aggr.Get()
	}
	return nil
}

// routeMessage decides whether dst belongs to a partition resident on this
// worker. If so the message is appended directly to the inbox's next
// buffer; otherwise it is handed to the dispatcher, encoded via Codec, for
// delivery to whichever worker currently owns dst's partition.
func (c *Controller) routeMessage(ctx context.Context, dst partition.ID, msg message.Message) error {
	if c.cfg.Range == nil {
		c.cfg.Inbox.Next(c.superstep).AddMessage(dst, msg)
		return nil
	}

	partID, err := c.cfg.Range.PartitionForID(dst)
	if err != nil {
		return xerrors.Errorf("routing message to %q: %w", dst.String(), err)
	}

	if c.cfg.Partitions.Has(uint32(partID)) {
		c.cfg.Inbox.Next(c.superstep).AddMessage(dst, msg)
		return nil
	}

	if c.cfg.Dispatch == nil || c.cfg.Codec == nil {
		return xerrors.Errorf("message for %q belongs to a remote partition but no dispatcher/codec is configured", dst.String())
	}

	raw, err := c.cfg.Codec.Encode(msg)
	if err != nil {
		return xerrors.Errorf("encoding message to %q: %w", dst.String(), err)
	}
	return c.cfg.Dispatch.EnqueueMessage(ctx, uint32(partID), dst, raw)
}
