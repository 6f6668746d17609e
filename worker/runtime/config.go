// Package runtime assembles the worker/ packages into a single runnable
// worker node: partition store, message store, mutation buffer/resolver,
// aggregator service, RPC client/server, coordination client, checkpoint
// writer/reader, metrics, and the superstep controller driving them. It is
// the wiring site cmd/bspworker builds against, kept separate from main.go
// so the assembly logic is testable without a CLI, mirroring the teacher's
// linksrus pagerank service package sitting behind its main.go.
package runtime

import (
	"io/ioutil"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/worker/superstep"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	return l
}

// Config configures a worker Node end to end.
type Config struct {
	// WorkerID identifies this worker among its peers.
	WorkerID uint32

	// ListenAddress is the address this worker's RPC server binds.
	ListenAddress string

	// PeerAddrs/PeerWorkerIDs list every other worker in the job, in the
	// same order: PeerAddrs[i] is the RPC address of PeerWorkerIDs[i].
	PeerAddrs     []string
	PeerWorkerIDs []uint32

	// BarrierLeader designates this worker as the barrier rendezvous leader;
	// exactly one worker in a job must set this.
	BarrierLeader bool

	// BarrierPathPrefix namespaces this job's barrier nodes within the
	// coordination service.
	BarrierPathPrefix string

	// CoordinationEndpoint is a grpcservice.Server address to dial for the
	// external coordination backend. Empty selects an in-process
	// localservice.Service, suitable only for single-process jobs.
	CoordinationEndpoint string

	// Parallelism is the COMPUTE worker pool size.
	Parallelism int

	// ResidentPartitionCap, Dir select a disk-backed partition store when
	// positive; see partition.StoreConfig.
	ResidentPartitionCap int
	PartitionDir         string

	// MsgStoreShards is the message store's shard count.
	MsgStoreShards int

	// MaxOutstandingPerPeer bounds the RPC client's per-destination
	// in-flight request window.
	MaxOutstandingPerPeer int

	// MaxDialAttempts bounds the retrying dialer's attempts per connect.
	MaxDialAttempts int

	// DispatchBatchSoftSizeBytes triggers an early flush of the outgoing
	// message dispatcher once a destination's batch crosses this size.
	DispatchBatchSoftSizeBytes int

	// CreateVertexOnMessages mirrors RESOLVER_CREATE_VERTEX_ON_MESSAGES.
	CreateVertexOnMessages bool

	// CheckpointDir enables checkpointing when non-empty.
	CheckpointDir       string
	CheckpointFrequency int

	// MetricsListenAddress, if non-empty, serves /metrics for this worker.
	MetricsListenAddress string

	// Tracer, if set, wraps every outbound RPC request in a span.
	Tracer opentracing.Tracer

	// Compute is the vertex program this worker runs; user vertex programs
	// are not loaded dynamically by this runtime, so callers build a Node
	// with whichever ComputeFunc their deployment needs.
	Compute superstep.ComputeFunc

	Logger *logrus.Entry
}

// Validate aggregates configuration errors and patches defaults.
func (cfg *Config) Validate() error {
	var err error
	if cfg.ListenAddress == "" {
		err = multierror.Append(err, xerrors.New("runtime.Config: ListenAddress is required"))
	}
	if cfg.Compute == nil {
		err = multierror.Append(err, xerrors.New("runtime.Config: Compute is required"))
	}
	if len(cfg.PeerAddrs) != len(cfg.PeerWorkerIDs) {
		err = multierror.Append(err, xerrors.New("runtime.Config: PeerAddrs and PeerWorkerIDs must have the same length"))
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if cfg.MsgStoreShards <= 0 {
		cfg.MsgStoreShards = 16
	}
	if cfg.MaxOutstandingPerPeer <= 0 {
		cfg.MaxOutstandingPerPeer = 32
	}
	if cfg.MaxDialAttempts <= 0 {
		cfg.MaxDialAttempts = 8
	}
	if cfg.BarrierPathPrefix == "" {
		cfg.BarrierPathPrefix = "/bspworker/barrier"
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(discardLogger())
	}
	return err
}
