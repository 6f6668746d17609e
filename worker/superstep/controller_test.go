package superstep

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	gc "gopkg.in/check.v1"

	"github.com/dreamware-labs/bspworker/bspgraph/message"
	"github.com/dreamware-labs/bspworker/worker/aggregator"
	"github.com/dreamware-labs/bspworker/worker/metrics"
	"github.com/dreamware-labs/bspworker/worker/msgstore"
	"github.com/dreamware-labs/bspworker/worker/mutation"
	"github.com/dreamware-labs/bspworker/worker/partition"
	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(ControllerTestSuite))

type ControllerTestSuite struct{}

var idA = partition.NewID([]byte("a"))
var idB = partition.NewID([]byte("b"))

// pingPongCompute sends one message from a to b on superstep 0 and halts a
// immediately; b halts the first superstep it receives a message.
func pingPongCompute(vc *VertexContext, v *partition.Vertex, msgs message.Iterator) error {
	if v.ID == idA {
		if vc.Superstep() == 0 {
			if err := vc.BroadcastToNeighbors(v, rpcpb.RawMessage("ping")); err != nil {
				return err
			}
		}
		v.Halted = true
		return nil
	}

	received := false
	for msgs.Next() {
		received = true
	}
	if received {
		v.Halted = true
	}
	return nil
}

func newSingleProcessController(c *gc.C) *Controller {
	store := partition.NewResidentStore()
	p := partition.NewPartition(0)
	p.Put(&partition.Vertex{ID: idA, Edges: []partition.Edge{{Target: idB}}})
	p.Put(&partition.Vertex{ID: idB})
	c.Assert(store.Add(p), gc.IsNil)

	cfg := ControllerConfig{
		WorkerID:    0,
		Parallelism: 2,
		Partitions:  store,
		Inbox:       msgstore.NewInbox(4, nil),
		Mutations:   mutation.New(),
		Resolver:    &mutation.Resolver{},
		Aggregators: aggregator.New(),
		Compute:     pingPongCompute,
	}
	ctrl, err := NewController(cfg)
	c.Assert(err, gc.IsNil)
	return ctrl
}

func (s *ControllerTestSuite) TestConvergesAfterMessageDelivery(c *gc.C) {
	ctrl := newSingleProcessController(c)
	defer ctrl.Close()
	ctx := context.Background()

	active, pending, err := ctrl.RunSuperstep(ctx)
	c.Assert(err, gc.IsNil)
	c.Assert(active, gc.Equals, 2)
	c.Assert(pending, gc.Equals, true)
	c.Assert(ctrl.Superstep(), gc.Equals, 1)

	active, pending, err = ctrl.RunSuperstep(ctx)
	c.Assert(err, gc.IsNil)
	c.Assert(active, gc.Equals, 1)
	c.Assert(pending, gc.Equals, false)
	c.Assert(ctrl.Superstep(), gc.Equals, 2)

	active, pending, err = ctrl.RunSuperstep(ctx)
	c.Assert(err, gc.IsNil)
	c.Assert(active, gc.Equals, 0)
	c.Assert(pending, gc.Equals, false)
	c.Assert(ctrl.State(), gc.Equals, StateTerminate)
}

func (s *ControllerTestSuite) TestStateChangedHookObservesEveryPhase(c *gc.C) {
	store := partition.NewResidentStore()
	p := partition.NewPartition(0)
	p.Put(&partition.Vertex{ID: idA})
	c.Assert(store.Add(p), gc.IsNil)

	var seen []State
	cfg := ControllerConfig{
		Parallelism: 1,
		Partitions:  store,
		Inbox:       msgstore.NewInbox(4, nil),
		Mutations:   mutation.New(),
		Resolver:    &mutation.Resolver{},
		Aggregators: aggregator.New(),
		Compute: func(vc *VertexContext, v *partition.Vertex, msgs message.Iterator) error {
			v.Halted = true
			return nil
		},
		StateChanged: func(st State) { seen = append(seen, st) },
	}
	ctrl, err := NewController(cfg)
	c.Assert(err, gc.IsNil)
	defer ctrl.Close()

	_, _, err = ctrl.RunSuperstep(context.Background())
	c.Assert(err, gc.IsNil)
	_, _, err = ctrl.RunSuperstep(context.Background())
	c.Assert(err, gc.IsNil)

	c.Assert(seen[0], gc.Equals, StateSetup)
	c.Assert(seen[len(seen)-1], gc.Equals, StateTerminate)
}

func (s *ControllerTestSuite) TestMutationAppliedAfterBarrier(c *gc.C) {
	store := partition.NewResidentStore()
	p := partition.NewPartition(0)
	p.Put(&partition.Vertex{ID: idA})
	c.Assert(store.Add(p), gc.IsNil)

	cfg := ControllerConfig{
		Parallelism: 1,
		Partitions:  store,
		Inbox:       msgstore.NewInbox(4, nil),
		Mutations:   mutation.New(),
		Resolver:    &mutation.Resolver{},
		Aggregators: aggregator.New(),
		Compute: func(vc *VertexContext, v *partition.Vertex, msgs message.Iterator) error {
			vc.AddEdge(idA, partition.Edge{Target: idB})
			v.Halted = true
			return nil
		},
	}
	ctrl, err := NewController(cfg)
	c.Assert(err, gc.IsNil)
	defer ctrl.Close()

	_, _, err = ctrl.RunSuperstep(context.Background())
	c.Assert(err, gc.IsNil)

	part, err := store.Get(0)
	c.Assert(err, gc.IsNil)
	v, ok := part.Get(idA)
	c.Assert(ok, gc.Equals, true)
	c.Assert(v.Edges, gc.HasLen, 1)
	c.Assert(v.Edges[0].Target, gc.Equals, idB)
}

func (s *ControllerTestSuite) TestMetricsRecordedAfterSuperstep(c *gc.C) {
	store := partition.NewResidentStore()
	p := partition.NewPartition(0)
	p.Put(&partition.Vertex{ID: idA, Edges: []partition.Edge{{Target: idB}}})
	p.Put(&partition.Vertex{ID: idB})
	c.Assert(store.Add(p), gc.IsNil)

	m := metrics.New(9)
	cfg := ControllerConfig{
		Parallelism: 2,
		Partitions:  store,
		Inbox:       msgstore.NewInbox(4, nil),
		Mutations:   mutation.New(),
		Resolver:    &mutation.Resolver{},
		Aggregators: aggregator.New(),
		Compute:     pingPongCompute,
		Metrics:     m,
	}
	ctrl, err := NewController(cfg)
	c.Assert(err, gc.IsNil)
	defer ctrl.Close()

	_, _, err = ctrl.RunSuperstep(context.Background())
	c.Assert(err, gc.IsNil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	c.Assert(strings.Contains(body, `bspworker_active_vertices{worker_id="9"} 2`), gc.Equals, true)
	c.Assert(strings.Contains(body, "bspworker_superstep_duration_seconds_count"), gc.Equals, true)
}
