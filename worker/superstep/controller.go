// Package superstep drives a single worker through the per-superstep state
// machine spec.md §4.6 names: SETUP, INPUT_SPLITS, VERTEX_EXCHANGE, COMPUTE,
// FLUSH_REQUESTS, BARRIER, the concurrent APPLY_MUTATIONS/ROLL_MESSAGES/
// FINALIZE_AGGREGATORS trio, then NEXT_SUPERSTEP or TERMINATE. Controller
// generalizes the teacher's worker_job_coordinator.go/master_job_coordinator.go
// wg.Add/wg.Wait rendezvous and bspgraph.Graph's startWorkers/stepWorker pool
// to operate directly over worker/partition.Store and worker/msgstore.Inbox
// rather than bspgraph.Graph's single-process vertex map.
package superstep

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/worker/aggregator"
	"github.com/dreamware-labs/bspworker/worker/coordination"
	"github.com/dreamware-labs/bspworker/worker/errkind"
	"github.com/dreamware-labs/bspworker/worker/mutation"
	"github.com/dreamware-labs/bspworker/worker/partition"
	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

// workItem is one vertex queued for the COMPUTE phase's worker pool.
type workItem struct {
	partitionID uint32
	vertex      *partition.Vertex
}

// Controller runs the superstep state machine for a single worker. Create
// one per job with NewController and call RunSuperstep repeatedly until it
// reports StateTerminate.
type Controller struct {
	cfg       ControllerConfig
	superstep int
	state     State
	stateMu   sync.Mutex

	runCtx context.Context

	wg              sync.WaitGroup
	workCh          chan workItem
	errCh           chan error
	stepCompletedCh chan struct{}
	activeInStep    int64
	pendingInStep   int64
}

// NewController validates cfg and starts the COMPUTE-phase worker pool.
// Callers must call Close when done.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("superstep.NewController: %w", err)
	}
	c := &Controller{cfg: cfg}
	c.startWorkers(cfg.Parallelism)
	return c, nil
}

// Superstep returns the superstep number the next call to RunSuperstep will
// execute.
func (c *Controller) Superstep() int { return c.superstep }

// State returns the state the controller is currently in, or most recently
// completed between calls to RunSuperstep.
func (c *Controller) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	hook := c.cfg.StateChanged
	c.stateMu.Unlock()
	if hook != nil {
		hook(s)
	}
}

// Close stops the COMPUTE worker pool. The controller must not be used
// afterwards.
func (c *Controller) Close() error {
	close(c.workCh)
	c.wg.Wait()
	return nil
}

func (c *Controller) startWorkers(n int) {
	c.workCh = make(chan workItem)
	c.errCh = make(chan error, 1)
	c.stepCompletedCh = make(chan struct{})

	c.wg.Add(n)
	for i := 0; i < n; i++ {
		go c.stepWorker()
	}
}

// stepWorker mirrors bspgraph.Graph.stepWorker: it polls workCh for vertices
// and runs the configured ComputeFunc for any that are active or have
// pending messages, reactivating halted vertices that received one.
func (c *Controller) stepWorker() {
	for item := range c.workCh {
		msgs := c.cfg.Inbox.Current(c.superstep).Messages(item.vertex.ID)
		if !item.vertex.Halted || len(msgs) > 0 {
			atomic.AddInt64(&c.activeInStep, 1)
			item.vertex.Halted = false
			vc := &VertexContext{ctrl: c, superstep: c.superstep}
			if err := c.cfg.Compute(vc, item.vertex, newSliceIterator(msgs)); err != nil {
				tryEmitError(c.errCh, errkind.Wrap(errkind.UserCompute,
					xerrors.Errorf("compute for vertex %q: %w", item.vertex.ID.String(), err)))
			}
		}
		if atomic.AddInt64(&c.pendingInStep, -1) == 0 {
			c.stepCompletedCh <- struct{}{}
		}
	}
	c.wg.Done()
}

func tryEmitError(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
}

// RunSuperstep drives the controller through one full superstep and
// advances its internal counter. It returns the number of vertices that
// were active during COMPUTE and whether any messages are queued for the
// next superstep; both are zero/false exactly when the job has converged
// and the caller should stop calling RunSuperstep.
func (c *Controller) RunSuperstep(ctx context.Context) (active int, hasPendingMessages bool, err error) {
	start := time.Now()
	defer func() {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ObserveSuperstep(time.Since(start))
		}
	}()

	c.runCtx = ctx
	c.setState(StateSetup)
	c.cfg.Aggregators.ResetTransient()
	if c.cfg.Dispatch != nil {
		c.cfg.Dispatch.InvalidateOwnership()
	}

	// INPUT_SPLITS and VERTEX_EXCHANGE only matter while an input reader is
	// still assigning splits or the master is rebalancing partition
	// ownership; neither component exists yet, so both phases are no-ops
	// that exist to keep State's sequence matching spec.md §4.6.
	c.setState(StateInputSplits)
	c.setState(StateVertexExchange)

	c.setState(StateCompute)
	active, err = c.runCompute()
	if err != nil {
		return 0, false, err
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveVertices.Set(float64(active))
	}

	c.setState(StateFlushRequests)
	if c.cfg.Dispatch != nil {
		if err := c.cfg.Dispatch.Flush(ctx); err != nil {
			return 0, false, errkind.Wrap(errkind.IO, xerrors.Errorf("flushing dispatcher: %w", err))
		}
	}
	if c.cfg.Sender != nil {
		for _, addr := range c.cfg.PeerAddrs {
			if err := c.cfg.Sender.WaitAllRequests(addr); err != nil {
				return 0, false, errkind.Wrap(errkind.IO, xerrors.Errorf("waiting for requests to %q: %w", addr, err))
			}
		}
	}

	c.setState(StateBarrier)
	if c.cfg.Coordination != nil {
		if err := c.awaitBarrier(ctx); err != nil {
			return 0, false, errkind.Wrap(errkind.CoordinationLost, err)
		}
	}

	if err := c.runPostBarrierPhases(ctx); err != nil {
		return 0, false, err
	}

	nextStore := c.cfg.Inbox.Next(c.superstep)
	hasPendingMessages = len(nextStore.DestinationVertices()) > 0

	if active == 0 && !hasPendingMessages {
		c.setState(StateTerminate)
		return active, hasPendingMessages, nil
	}

	c.setState(StateNextSuperstep)

	// Checkpoint before the roll: Write saves inbox.Next(c.superstep), which
	// Swap turns into the current buffer of the following superstep.
	if c.cfg.CheckpointFrequency > 0 && c.cfg.Checkpoint != nil && (c.superstep+1)%c.cfg.CheckpointFrequency == 0 {
		if err := c.cfg.Checkpoint.Write(c.superstep, c.cfg.Partitions, c.cfg.Inbox, c.cfg.Aggregators); err != nil {
			return active, hasPendingMessages, errkind.Wrap(errkind.IO, xerrors.Errorf("checkpointing superstep %d: %w", c.superstep, err))
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.CheckpointWrites.Inc()
		}
	}

	c.cfg.Inbox.Swap(c.superstep)
	c.superstep++

	return active, hasPendingMessages, nil
}

// runCompute enumerates every vertex across every resident partition,
// dispatches them to the worker pool, and waits for the pool to finish;
// mirrors bspgraph.Graph.step.
func (c *Controller) runCompute() (int, error) {
	var items []workItem
	c.cfg.Partitions.Iterate(func(pid uint32) bool {
		p, getErr := c.cfg.Partitions.Get(pid)
		if getErr != nil {
			return true
		}
		p.Iterate(func(v *partition.Vertex) bool {
			items = append(items, workItem{partitionID: pid, vertex: v})
			return true
		})
		return true
	})

	if len(items) == 0 {
		return 0, nil
	}

	atomic.StoreInt64(&c.activeInStep, 0)
	atomic.StoreInt64(&c.pendingInStep, int64(len(items)))

	for _, item := range items {
		c.workCh <- item
	}
	<-c.stepCompletedCh

	var err error
	select {
	case err = <-c.errCh:
	default:
	}
	return int(atomic.LoadInt64(&c.activeInStep)), err
}

// awaitBarrier implements the barrier rendezvous over the coordination
// service: every worker announces arrival with an ephemeral node, the
// designated leader waits for every peer's arrival node and then publishes
// a release node, and every non-leader waits for that release node.
// Generalizes the teacher's masterStepBarrier.WaitForWorkers/NotifyWorkers
// and workerStepBarrier.Wait/Notify (Chapter12/dbspgraph/barrier.go) from a
// fixed master/worker topology to a flat peer rendezvous over an opaque
// key-value store.
func (c *Controller) awaitBarrier(ctx context.Context) error {
	prefix := fmt.Sprintf("%s/%d", c.cfg.BarrierPathPrefix, c.superstep)
	arrivalPath := fmt.Sprintf("%s/arrived/%d", prefix, c.cfg.WorkerID)
	releasePath := prefix + "/release"

	if err := c.cfg.Coordination.CreateEphemeral(ctx, arrivalPath, nil); err != nil {
		return xerrors.Errorf("announcing barrier arrival: %w", err)
	}

	if !c.cfg.BarrierLeader {
		return c.waitForNode(ctx, releasePath)
	}

	for _, peerID := range c.cfg.PeerWorkerIDs {
		peerPath := fmt.Sprintf("%s/arrived/%d", prefix, peerID)
		if err := c.waitForNode(ctx, peerPath); err != nil {
			return xerrors.Errorf("waiting for worker %d to reach the barrier: %w", peerID, err)
		}
	}
	if err := c.cfg.Coordination.CreatePersistent(ctx, releasePath, nil); err != nil {
		return xerrors.Errorf("releasing barrier: %w", err)
	}
	return nil
}

// waitForNode blocks until path exists, checking once before falling back
// to a watch so a node created before the watch was established is not
// missed.
func (c *Controller) waitForNode(ctx context.Context, path string) error {
	if _, err := c.cfg.Coordination.Read(ctx, path); err == nil {
		return nil
	}
	ch, err := c.cfg.Coordination.Watch(ctx, path)
	if err != nil {
		return xerrors.Errorf("watching %q: %w", path, err)
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return xerrors.Errorf("watch on %q closed before the node appeared", path)
			}
			if ev.Type == coordination.EventCreated {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runPostBarrierPhases runs APPLY_MUTATIONS, ROLL_MESSAGES and
// FINALIZE_AGGREGATORS concurrently, mirroring the teacher's wg.Add(3)/
// wg.Wait() fan-out in master_job_coordinator.go/worker_job_coordinator.go,
// and joins on the first error any of the three report.
func (c *Controller) runPostBarrierPhases(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		c.setState(StateApplyMutations)
		errs <- c.applyMutations()
	}()
	go func() {
		defer wg.Done()
		c.setState(StateRollMessages)
		errs <- c.rollMessages()
	}()
	go func() {
		defer wg.Done()
		c.setState(StateFinalizeAggregators)
		errs <- c.finalizeAggregators(ctx)
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// applyMutations drains the mutation buffer and resolves each vertex's
// changes against whichever resident partition owns it. Changes addressed
// to a non-resident partition are dropped with a warning.
//
// TODO: forward changes for non-resident partitions to their owning worker
// via rpcpb.SendPartitionMutationsPayload instead of dropping them.
func (c *Controller) applyMutations() error {
	drained := c.cfg.Mutations.Drain()
	if c.cfg.Resolver.CreateVertexOnMessages {
		// A vertex that only received messages has no changeset of its own;
		// give it an empty one so the resolver walks its id too.
		for _, id := range c.cfg.Inbox.Next(c.superstep).DestinationVertices() {
			if _, ok := drained[id]; !ok {
				drained[id] = &mutation.ChangeSet{}
			}
		}
	}
	if len(drained) == 0 {
		return nil
	}

	byPartition := make(map[uint32]map[partition.ID]*mutation.ChangeSet)
	for id, cs := range drained {
		pid, err := c.partitionFor(id)
		if err != nil {
			c.cfg.Logger.WithError(err).WithField("vertex_id", id.String()).
				Warn("dropping mutation for a vertex whose partition could not be resolved")
			continue
		}
		if !c.cfg.Partitions.Has(pid) {
			c.cfg.Logger.WithField("vertex_id", id.String()).WithField("partition_id", pid).
				Warn("dropping mutation addressed to a non-resident partition")
			continue
		}
		group, ok := byPartition[pid]
		if !ok {
			group = make(map[partition.ID]*mutation.ChangeSet)
			byPartition[pid] = group
		}
		group[id] = cs
	}

	for pid, group := range byPartition {
		p, err := c.cfg.Partitions.Get(pid)
		if err != nil {
			return xerrors.Errorf("applying mutations: %w", err)
		}
		next := c.cfg.Inbox.Next(c.superstep)
		c.cfg.Resolver.Apply(p, group, next.HasMessages)
	}
	return nil
}

// partitionFor resolves which partition id a vertex id belongs to. Without
// a Range configured every destination is assumed to belong to this
// worker's sole resident partition, whichever one already holds it.
func (c *Controller) partitionFor(id partition.ID) (uint32, error) {
	if c.cfg.Range == nil {
		var found uint32
		ok := false
		c.cfg.Partitions.Iterate(func(pid uint32) bool {
			p, err := c.cfg.Partitions.Get(pid)
			if err == nil && p.Has(id) {
				found, ok = pid, true
				return false
			}
			return true
		})
		if !ok {
			return 0, xerrors.Errorf("vertex %q does not belong to any resident partition", id.String())
		}
		return found, nil
	}
	pid, err := c.cfg.Range.PartitionForID(id)
	return uint32(pid), err
}

// rollMessages is a placeholder for the ROLL_MESSAGES phase: the message
// store's per-vertex sharded locking already lets concurrent RPC handlers
// append to the next buffer safely, so there is nothing further to merge
// here once APPLY_MUTATIONS and the RPC layer have both quiesced.
func (c *Controller) rollMessages() error { return nil }

// finalizeAggregators broadcasts this worker's per-aggregator deltas to
// every peer so each worker's aggregator registry converges to the same
// values before the next superstep starts. Generalizes the teacher's
// mergeWorkerAggregatorDeltas/setAggregatorValues master-side fold
// (aggregator.MergeDeltas/SerializeValues) into a worker-to-worker
// broadcast: incoming deltas are merged by the RPC server's registered
// handler for rpcpb.TypeSendAggregatorsToWorker, not here.
func (c *Controller) finalizeAggregators(ctx context.Context) error {
	if c.cfg.Sender == nil || len(c.cfg.PeerAddrs) == 0 {
		return nil
	}

	deltas, err := aggregator.SerializeValues(c.cfg.Aggregators, c.cfg.Serializer, true)
	if err != nil {
		return xerrors.Errorf("serializing aggregator deltas: %w", err)
	}
	if len(deltas) == 0 {
		return nil
	}

	records := make([]rpcpb.AggregatorRecord, 0, len(deltas))
	for name, val := range deltas {
		records = append(records, rpcpb.AggregatorRecord{Name: name, Class: val.TypeUrl, Value: val.Value})
	}
	payload := rpcpb.SendAggregatorsToWorkerPayload{Aggregators: records}

	for _, addr := range c.cfg.PeerAddrs {
		if _, err := c.cfg.Sender.SendWritableRequest(ctx, addr, rpcpb.TypeSendAggregatorsToWorker, payload.Encode()); err != nil {
			return xerrors.Errorf("broadcasting aggregator deltas to %q: %w", addr, err)
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RequestsSent.Inc()
		}
	}
	return nil
}
