package superstep

import (
	"io/ioutil"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/worker/aggregator"
	"github.com/dreamware-labs/bspworker/worker/coordination"
	"github.com/dreamware-labs/bspworker/worker/dispatch"
	"github.com/dreamware-labs/bspworker/worker/metrics"
	"github.com/dreamware-labs/bspworker/worker/msgstore"
	"github.com/dreamware-labs/bspworker/worker/mutation"
	"github.com/dreamware-labs/bspworker/worker/partition"
	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	return l
}

// Sender is the subset of rpc.Client the controller needs to flush batched
// requests and block for acknowledgement at the barrier.
type Sender interface {
	dispatch.Sender
	WaitAllRequests(destAddr string) error
}

// CheckpointWriter persists worker state; satisfied by checkpoint.Writer.
// Kept as an interface here so controller tests can stub it out.
type CheckpointWriter interface {
	Write(superstep int, partitions partition.Store, inbox *msgstore.Inbox, aggregators *aggregator.Service) error
}

// ControllerConfig configures a Controller. Mirrors the teacher's
// MasterConfig/WorkerConfig Validate shape (Chapter12/dbspgraph/config.go):
// multierror-aggregated required fields, defaulted optional ones.
type ControllerConfig struct {
	// WorkerID is this worker's source id, stamped on outgoing RPC frames
	// and used as the local partition-owner identity.
	WorkerID uint32

	// Parallelism is the fixed thread pool size (T in spec.md §5) used to
	// dispatch COMPUTE work items across partitions.
	Parallelism int

	// Partitions is this worker's partition store.
	Partitions partition.Store

	// Inbox double-buffers incoming vertex messages across the superstep
	// boundary (spec.md §4.2).
	Inbox *msgstore.Inbox

	// Mutations buffers add/remove vertex/edge requests produced during
	// COMPUTE; Resolver applies them during APPLY_MUTATIONS.
	Mutations *mutation.Buffer
	Resolver  *mutation.Resolver

	// Aggregators is the worker-local aggregator registry.
	Aggregators *aggregator.Service

	// Serializer encodes aggregator deltas/values for the peer-to-peer
	// exchange FinalizeAggregators performs. Defaults to
	// aggregator.DefaultSerializer.
	Serializer aggregator.Serializer

	// Range resolves which partition a vertex id belongs to, used to decide
	// whether a send/mutation target is locally resident. Nil means every
	// destination is treated as local (single-process mode).
	Range *partition.Range

	// Codec encodes/decodes messages for RPC transfer; required whenever
	// Dispatch is non-nil.
	Codec MessageCodec

	// Dispatch batches and flushes outgoing messages/mutations to peers.
	Dispatch *dispatch.Processor

	// Sender performs the actual RPC send/wait; normally an *rpc.Client.
	Sender Sender

	// PeerAddrs lists every other worker's RPC address, used to wait for
	// request quiescence at the barrier and to broadcast aggregator deltas.
	PeerAddrs []string

	// Coordination is the external barrier/coordination service.
	Coordination coordination.Service

	// BarrierPathPrefix namespaces this job's barrier nodes within the
	// coordination service, e.g. "/bspworker/job-42/barrier".
	BarrierPathPrefix string

	// BarrierLeader designates this worker as the one that waits for every
	// peer's arrival node and publishes the release node. Exactly one
	// worker in a job must set this.
	BarrierLeader bool

	// PeerWorkerIDs lists every other worker's id, used by the barrier
	// leader to know whose arrival nodes to wait for.
	PeerWorkerIDs []uint32

	// Compute is the user-supplied vertex program.
	Compute ComputeFunc

	// CreateVertexOnMessages mirrors RESOLVER_CREATE_VERTEX_ON_MESSAGES.
	CreateVertexOnMessages bool

	// CheckpointFrequency, if > 0, checkpoints every that many supersteps,
	// once APPLY_MUTATIONS and the other post-barrier phases have completed
	// and before the inbox rolls over. Zero disables checkpointing.
	CheckpointFrequency int
	Checkpoint          CheckpointWriter

	// StateChanged, if set, is invoked synchronously on every state
	// transition; master-observer callbacks (spec.md §6's Watch endpoint)
	// hang off this hook.
	StateChanged func(State)

	// Metrics, if set, is updated with superstep timing, active vertex
	// counts and checkpoint writes as RunSuperstep progresses.
	Metrics *metrics.Metrics

	Logger *logrus.Entry
}

// Validate patches defaults and aggregates configuration errors.
func (cfg *ControllerConfig) Validate() error {
	var err error
	if cfg.Partitions == nil {
		err = multierror.Append(err, xerrors.New("superstep.ControllerConfig: Partitions store is required"))
	}
	if cfg.Inbox == nil {
		err = multierror.Append(err, xerrors.New("superstep.ControllerConfig: Inbox is required"))
	}
	if cfg.Mutations == nil {
		err = multierror.Append(err, xerrors.New("superstep.ControllerConfig: Mutations buffer is required"))
	}
	if cfg.Resolver == nil {
		err = multierror.Append(err, xerrors.New("superstep.ControllerConfig: Resolver is required"))
	}
	if cfg.Aggregators == nil {
		err = multierror.Append(err, xerrors.New("superstep.ControllerConfig: Aggregators service is required"))
	}
	if cfg.Compute == nil {
		err = multierror.Append(err, xerrors.New("superstep.ControllerConfig: Compute function is required"))
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(discardLogger())
	}
	if cfg.Serializer == nil {
		cfg.Serializer = aggregator.DefaultSerializer{}
	}
	return err
}

// RPCTypes lists the request types a controller's RPC
// server must register handlers for; kept here so cmd/bspworker can build
// the rpc.ServerConfig.Handlers map against the same enumeration the
// dispatcher writes (spec.md §4.5's request-type list).
var RPCTypes = []rpcpb.Type{
	rpcpb.TypeSendVertex,
	rpcpb.TypeSendWorkerMessages,
	rpcpb.TypeSendPartitionMutations,
	rpcpb.TypeSendAggregatorsToWorker,
	rpcpb.TypeFlush,
}
