package runtime

import (
	"context"
	"net"
	"net/http"

	"github.com/golang/protobuf/ptypes/any"
	"github.com/juju/clock"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"

	"github.com/dreamware-labs/bspworker/bspgraph/message"
	"github.com/dreamware-labs/bspworker/worker/aggregator"
	"github.com/dreamware-labs/bspworker/worker/checkpoint"
	"github.com/dreamware-labs/bspworker/worker/coordination"
	"github.com/dreamware-labs/bspworker/worker/coordination/grpcservice"
	"github.com/dreamware-labs/bspworker/worker/coordination/localservice"
	"github.com/dreamware-labs/bspworker/worker/dispatch"
	"github.com/dreamware-labs/bspworker/worker/metrics"
	"github.com/dreamware-labs/bspworker/worker/msgstore"
	"github.com/dreamware-labs/bspworker/worker/mutation"
	"github.com/dreamware-labs/bspworker/worker/partition"
	"github.com/dreamware-labs/bspworker/worker/rpc"
	"github.com/dreamware-labs/bspworker/worker/rpcpb"
	"github.com/dreamware-labs/bspworker/worker/superstep"
)

// rawCodec treats every message as an opaque byte slice, satisfying both
// superstep.MessageCodec and checkpoint.MessageCodec, the same rawCodec
// shape worker/checkpoint's own tests use. A deployment with a concrete
// MESSAGE_VALUE_CLASS would supply its own codec instead.
type rawCodec struct{}

func (rawCodec) Encode(m message.Message) (rpcpb.RawMessage, error) {
	raw, ok := m.(rpcpb.RawMessage)
	if !ok {
		return nil, xerrors.Errorf("rawCodec: cannot encode message of type %T", m)
	}
	return raw, nil
}

func (rawCodec) Decode(raw rpcpb.RawMessage) (message.Message, error) {
	return raw, nil
}

// Node wires together every worker/ component behind a single RPC-reachable
// worker process: partition store, message inbox, mutation buffer/resolver,
// aggregator registry, dispatcher, RPC client/server, coordination client,
// optional checkpointing and metrics, and the superstep controller that
// drives them all through one job.
type Node struct {
	cfg Config

	partitions partition.Store
	inbox      *msgstore.Inbox
	mutations  *mutation.Buffer
	aggs       *aggregator.Service
	serializer aggregator.Serializer

	coordClient coordination.Service
	coordConn   *grpc.ClientConn

	rpcClient *rpc.Client
	rpcServer *rpc.Server

	metrics *metrics.Metrics

	ckptWriter *checkpoint.Writer
	ckptReader *checkpoint.Reader

	ctrl *superstep.Controller
}

// NewNode validates cfg and assembles a Node. The returned Node's RPC and
// metrics servers are not yet listening; call Run to start them and drive
// the job to completion.
func NewNode(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("runtime.NewNode: %w", err)
	}

	n := &Node{
		cfg:        cfg,
		mutations:  mutation.New(),
		aggs:       aggregator.New(),
		serializer: aggregator.DefaultSerializer{},
		inbox:      msgstore.NewInbox(cfg.MsgStoreShards, nil),
	}

	store, err := partition.NewStore(partition.StoreConfig{
		ResidentCap: cfg.ResidentPartitionCap,
		Dir:         cfg.PartitionDir,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, xerrors.Errorf("runtime.NewNode: building partition store: %w", err)
	}
	n.partitions = store

	if err := n.aggs.RegisterRequestCountAggregator(); err != nil {
		return nil, xerrors.Errorf("runtime.NewNode: %w", err)
	}

	if cfg.MetricsListenAddress != "" {
		n.metrics = metrics.New(cfg.WorkerID)
	}

	if err := n.dialCoordination(); err != nil {
		return nil, err
	}

	if err := n.buildRPC(); err != nil {
		return nil, err
	}

	if cfg.CheckpointDir != "" {
		ckptCfg := checkpoint.Config{Dir: cfg.CheckpointDir, Codec: rawCodec{}, Serializer: n.serializer, Logger: cfg.Logger}
		n.ckptWriter, err = checkpoint.NewWriter(ckptCfg)
		if err != nil {
			return nil, xerrors.Errorf("runtime.NewNode: %w", err)
		}
		n.ckptReader, err = checkpoint.NewReader(ckptCfg)
		if err != nil {
			return nil, xerrors.Errorf("runtime.NewNode: %w", err)
		}
	}

	dispatchProc := dispatch.NewProcessor(n.rpcClient, n.locatePartition, cfg.DispatchBatchSoftSizeBytes)

	ctrl, err := superstep.NewController(superstep.ControllerConfig{
		WorkerID:               cfg.WorkerID,
		Parallelism:            cfg.Parallelism,
		Partitions:             n.partitions,
		Inbox:                  n.inbox,
		Mutations:              n.mutations,
		Resolver:               &mutation.Resolver{CreateVertexOnMessages: cfg.CreateVertexOnMessages, Logger: cfg.Logger},
		Aggregators:            n.aggs,
		Serializer:             n.serializer,
		Codec:                  rawCodec{},
		Dispatch:               dispatchProc,
		Sender:                 n.rpcClient,
		PeerAddrs:              cfg.PeerAddrs,
		Coordination:           n.coordClient,
		BarrierPathPrefix:      cfg.BarrierPathPrefix,
		BarrierLeader:          cfg.BarrierLeader,
		PeerWorkerIDs:          cfg.PeerWorkerIDs,
		Compute:                cfg.Compute,
		CreateVertexOnMessages: cfg.CreateVertexOnMessages,
		CheckpointFrequency:    cfg.CheckpointFrequency,
		Checkpoint:             n.ckptWriter,
		Metrics:                n.metrics,
		Logger:                 cfg.Logger,
	})
	if err != nil {
		return nil, xerrors.Errorf("runtime.NewNode: %w", err)
	}
	n.ctrl = ctrl

	return n, nil
}

func (n *Node) dialCoordination() error {
	if n.cfg.CoordinationEndpoint == "" {
		n.coordClient = localservice.New()
		return nil
	}
	conn, err := grpc.Dial(n.cfg.CoordinationEndpoint, grpc.WithInsecure())
	if err != nil {
		return xerrors.Errorf("runtime.NewNode: dialing coordination service %q: %w", n.cfg.CoordinationEndpoint, err)
	}
	n.coordConn = conn
	n.coordClient = grpcservice.NewClient(conn)
	return nil
}

func (n *Node) buildRPC() error {
	dialer := rpc.NewRetryingDialer(context.Background(), clock.WallClock, n.cfg.MaxDialAttempts, func(format string, args ...interface{}) {
		n.cfg.Logger.Debugf(format, args...)
	})

	clientCfg := rpc.ClientConfig{
		SourceWorkerID:        n.cfg.WorkerID,
		MaxOutstandingPerPeer: n.cfg.MaxOutstandingPerPeer,
		MaxDialAttempts:       n.cfg.MaxDialAttempts,
		Tracer:                n.cfg.Tracer,
		Logger:                n.cfg.Logger,
	}
	if err := clientCfg.Validate(); err != nil {
		return xerrors.Errorf("runtime.NewNode: %w", err)
	}
	n.rpcClient = rpc.NewClient(clientCfg, dialer.Dial)

	serverCfg := rpc.ServerConfig{
		ListenAddress: n.cfg.ListenAddress,
		Handlers:      n.handlers(),
		Logger:        n.cfg.Logger,
	}
	if err := serverCfg.Validate(); err != nil {
		return xerrors.Errorf("runtime.NewNode: %w", err)
	}
	n.rpcServer = rpc.NewServer(serverCfg)
	return nil
}

// handlers builds the RPC server's request-type dispatch table, one entry
// per rpcpb.Type superstep.RPCTypes enumerates.
func (n *Node) handlers() map[rpcpb.Type]rpc.Handler {
	return map[rpcpb.Type]rpc.Handler{
		rpcpb.TypeSendVertex:              n.handleSendVertex,
		rpcpb.TypeSendWorkerMessages:       n.handleSendWorkerMessages,
		rpcpb.TypeSendPartitionMutations:   n.handleSendPartitionMutations,
		rpcpb.TypeSendAggregatorsToWorker:  n.handleSendAggregators,
		rpcpb.TypeFlush:                    n.handleFlush,
	}
}

func recordToVertex(rec rpcpb.VertexRecord) *partition.Vertex {
	v := &partition.Vertex{ID: rec.ID, Value: rec.Value, Halted: rec.Halted}
	for _, e := range rec.Edges {
		v.Edges = append(v.Edges, partition.Edge{Target: e.Target, Value: e.Value})
	}
	return v
}

func (n *Node) handleSendVertex(_ rpcpb.Header, payload []byte) error {
	p, err := rpcpb.DecodeSendVertexPayload(payload)
	if err != nil {
		return err
	}
	if !n.partitions.Has(p.PartitionID) {
		if err := n.partitions.Add(partition.NewPartition(p.PartitionID)); err != nil {
			return err
		}
	}
	part, err := n.partitions.Get(p.PartitionID)
	if err != nil {
		return err
	}
	for _, rec := range p.Vertices {
		part.Put(recordToVertex(rec))
	}
	return nil
}

func (n *Node) handleSendWorkerMessages(_ rpcpb.Header, payload []byte) error {
	p, err := rpcpb.DecodeSendWorkerMessagesPayload(payload)
	if err != nil {
		return err
	}
	next := n.inbox.Next(n.ctrl.Superstep())
	for _, part := range p.Partitions {
		for _, vm := range part.Vertices {
			for _, msg := range vm.Messages {
				next.AddMessage(vm.VertexID, msg)
			}
		}
	}
	return nil
}

func (n *Node) handleSendPartitionMutations(_ rpcpb.Header, payload []byte) error {
	p, err := rpcpb.DecodeSendPartitionMutationsPayload(payload)
	if err != nil {
		return err
	}
	for _, cs := range p.Changes {
		for _, rec := range cs.AddedVertices {
			n.mutations.AddVertex(rec.ID, recordToVertex(rec))
		}
		for i := uint32(0); i < cs.RemoveVertexCount; i++ {
			n.mutations.RemoveVertex(cs.VertexID)
		}
		for _, e := range cs.AddedEdges {
			n.mutations.AddEdge(cs.VertexID, partition.Edge{Target: e.Target, Value: e.Value})
		}
		for _, target := range cs.RemovedEdgeTargets {
			n.mutations.RemoveEdge(cs.VertexID, target)
		}
	}
	return nil
}

func (n *Node) handleSendAggregators(_ rpcpb.Header, payload []byte) error {
	p, err := rpcpb.DecodeSendAggregatorsToWorkerPayload(payload)
	if err != nil {
		return err
	}
	deltas := make(map[string]*any.Any, len(p.Aggregators))
	for _, rec := range p.Aggregators {
		deltas[rec.Name] = &any.Any{TypeUrl: rec.Class, Value: rec.Value}
	}
	if n.metrics != nil {
		n.metrics.RequestsReceived.Inc()
	}
	return aggregator.MergeDeltas(n.aggs, deltas, n.serializer)
}

func (n *Node) handleFlush(rpcpb.Header, []byte) error { return nil }

// locatePartition is the dispatch.Locator used while no master rebalances
// partition ownership across the job: every partition not resident locally
// is assumed to belong to the peer at the matching index in PeerAddrs, which
// only holds for a single statically-partitioned job. A deployment that
// rebalances ownership between supersteps would replace this with a lookup
// against the coordination service's published partition-owner nodes.
func (n *Node) locatePartition(partitionID uint32) (string, error) {
	if n.partitions.Has(partitionID) {
		return n.cfg.ListenAddress, nil
	}
	if len(n.cfg.PeerAddrs) == 0 {
		return "", xerrors.Errorf("no peers configured to own partition %d", partitionID)
	}
	return n.cfg.PeerAddrs[int(partitionID)%len(n.cfg.PeerAddrs)], nil
}

// Restore loads the latest on-disk checkpoint, if any, before Run starts the
// job. It is a no-op when checkpointing is disabled or no checkpoint exists
// yet.
func (n *Node) Restore() error {
	if n.ckptReader == nil {
		return nil
	}
	superstepNum, found, err := n.ckptReader.Latest()
	if err != nil {
		return xerrors.Errorf("runtime.Node.Restore: %w", err)
	}
	if !found {
		return nil
	}
	snap, err := n.ckptReader.Read(superstepNum)
	if err != nil {
		return xerrors.Errorf("runtime.Node.Restore: %w", err)
	}
	return n.ckptReader.Restore(snap, n.partitions, n.inbox, n.aggs)
}

// Run serves the RPC server and, if configured, the metrics endpoint, then
// drives supersteps to completion. It blocks until the job converges, ctx is
// cancelled, or an unrecoverable error occurs.
func (n *Node) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 2)
	go func() {
		if err := n.rpcServer.ListenAndServe(); err != nil {
			serveErrCh <- xerrors.Errorf("rpc server: %w", err)
		}
	}()

	var metricsLn net.Listener
	if n.metrics != nil {
		ln, err := net.Listen("tcp", n.cfg.MetricsListenAddress)
		if err != nil {
			return xerrors.Errorf("runtime.Node.Run: metrics listener: %w", err)
		}
		metricsLn = ln
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", n.metrics.Handler())
			if err := http.Serve(ln, mux); err != nil {
				select {
				case serveErrCh <- xerrors.Errorf("metrics server: %w", err):
				default:
				}
			}
		}()
	}

	defer func() {
		_ = n.rpcServer.Stop()
		_ = n.rpcClient.Close()
		if metricsLn != nil {
			_ = metricsLn.Close()
		}
		if n.coordConn != nil {
			_ = n.coordConn.Close()
		}
		_ = n.partitions.Close()
		n.ctrl.Close()
	}()

	for {
		select {
		case err := <-serveErrCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		active, pending, err := n.ctrl.RunSuperstep(ctx)
		if err != nil {
			return xerrors.Errorf("running superstep %d: %w", n.ctrl.Superstep(), err)
		}
		if active == 0 && !pending {
			return nil
		}
	}
}
