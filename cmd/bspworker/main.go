// Command bspworker runs a single worker node of a distributed
// bulk-synchronous-parallel graph-processing job. Styled after the teacher's
// Chapter13/prom_http and Chapter09/pincert main.go files: a urfave/cli app,
// a logrus JSON logger tagged with app/sha/host, a pprof listener, and a
// signal-driven graceful shutdown.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	wruntime "github.com/dreamware-labs/bspworker/worker/runtime"
	"github.com/dreamware-labs/bspworker/worker/tracing"
	"github.com/dreamware-labs/bspworker/worker/wcc"
)

var (
	appName = "bspworker"
	appSha  = "populated-at-link-time"
	logger  *logrus.Entry
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	rootLogger.SetFormatter(new(logrus.JSONFormatter))
	logger = rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := makeApp().Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSha
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "worker-id", EnvVar: "WORKER_ID", Usage: "This worker's id, unique among its peers"},
		cli.StringFlag{Name: "listen-address", EnvVar: "LISTEN_ADDRESS", Usage: "The address this worker's RPC server binds"},
		cli.StringSliceFlag{Name: "peer-addr", EnvVar: "PEER_ADDRS", Usage: "A peer worker's RPC address; repeat in the same order as --peer-worker-id"},
		cli.IntSliceFlag{Name: "peer-worker-id", EnvVar: "PEER_WORKER_IDS", Usage: "A peer worker's id, matched by position to --peer-addr"},
		cli.BoolFlag{Name: "barrier-leader", EnvVar: "BARRIER_LEADER", Usage: "Designate this worker as the barrier rendezvous leader; exactly one worker per job must set this"},
		cli.StringFlag{Name: "barrier-path-prefix", EnvVar: "BARRIER_PATH_PREFIX", Value: "/bspworker/barrier", Usage: "Namespace for this job's barrier nodes within the coordination service"},
		cli.StringFlag{Name: "coordination-endpoint", EnvVar: "COORDINATION_ENDPOINT", Usage: "gRPC address of the external coordination service; empty selects an in-process, single-worker-only service"},
		cli.IntFlag{Name: "parallelism", EnvVar: "PARALLELISM", Value: runtime.NumCPU(), Usage: "The COMPUTE worker pool size"},
		cli.IntFlag{Name: "resident-partition-cap", EnvVar: "RESIDENT_PARTITION_CAP", Usage: "Maximum partitions kept in memory; 0 keeps every partition resident"},
		cli.StringFlag{Name: "partition-dir", EnvVar: "PARTITION_DIR", Usage: "Directory spilled partitions are written to; required when --resident-partition-cap > 0"},
		cli.IntFlag{Name: "msg-store-shards", EnvVar: "MSG_STORE_SHARDS", Value: 16, Usage: "Shard count for the per-superstep message store"},
		cli.IntFlag{Name: "max-outstanding-per-peer", EnvVar: "MAX_OUTSTANDING_PER_PEER", Value: 32, Usage: "Bound on un-acknowledged RPC requests per destination worker"},
		cli.IntFlag{Name: "max-dial-attempts", EnvVar: "MAX_DIAL_ATTEMPTS", Value: 8, Usage: "Bound on the retrying dialer's attempts per connect"},
		cli.IntFlag{Name: "dispatch-batch-soft-size-bytes", EnvVar: "DISPATCH_BATCH_SOFT_SIZE_BYTES", Value: 1 << 20, Usage: "Outgoing message batches flush early once they cross this size"},
		cli.BoolFlag{Name: "create-vertex-on-messages", EnvVar: "CREATE_VERTEX_ON_MESSAGES", Usage: "Synthesize a vertex that receives messages but has no pending add-vertex request"},
		cli.StringFlag{Name: "checkpoint-dir", EnvVar: "CHECKPOINT_DIR", Usage: "Directory checkpoints are written to and restored from; empty disables checkpointing"},
		cli.IntFlag{Name: "checkpoint-frequency", EnvVar: "CHECKPOINT_FREQUENCY", Usage: "Checkpoint every this many supersteps; 0 disables checkpointing even with --checkpoint-dir set"},
		cli.StringFlag{Name: "metrics-listen-address", EnvVar: "METRICS_LISTEN_ADDRESS", Usage: "Address to serve /metrics on; empty disables the metrics endpoint"},
		cli.BoolFlag{Name: "tracing-enabled", EnvVar: "TRACING_ENABLED", Usage: "Wrap outbound RPC requests in Jaeger spans, configured from the standard JAEGER_* envvars"},
		cli.IntFlag{Name: "pprof-port", EnvVar: "PPROF_PORT", Value: 6060, Usage: "Port for exposing pprof endpoints"},
	}
	app.Action = runMain
	return app
}

func runMain(appCtx *cli.Context) error {
	cfg, err := configFromFlags(appCtx)
	if err != nil {
		return err
	}

	node, err := wruntime.NewNode(cfg)
	if err != nil {
		return xerrors.Errorf("building worker node: %w", err)
	}
	if err := node.Restore(); err != nil {
		return xerrors.Errorf("restoring from checkpoint: %w", err)
	}

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	var wg sync.WaitGroup

	pprofListener, err := net.Listen("tcp", fmt.Sprintf(":%d", appCtx.Int("pprof-port")))
	if err != nil {
		return err
	}
	defer func() { _ = pprofListener.Close() }()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.WithField("port", appCtx.Int("pprof-port")).Info("listening for pprof requests")
		srv := new(http.Server)
		_ = srv.Serve(pprofListener)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := node.Run(ctx); err != nil && err != context.Canceled {
			logger.WithField("err", err).Error("worker node exited with error")
		}
		cancelFn()
	}()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGHUP)
		select {
		case s := <-sigCh:
			logger.WithField("signal", s.String()).Info("shutting down due to signal")
			_ = pprofListener.Close()
			cancelFn()
		case <-ctx.Done():
		}
	}()

	wg.Wait()
	_ = tracing.Pool.Close()
	return nil
}

func configFromFlags(appCtx *cli.Context) (wruntime.Config, error) {
	peerAddrs := appCtx.StringSlice("peer-addr")
	peerIDs := appCtx.IntSlice("peer-worker-id")
	peerWorkerIDs := make([]uint32, len(peerIDs))
	for i, id := range peerIDs {
		peerWorkerIDs[i] = uint32(id)
	}

	cfg := wruntime.Config{
		WorkerID:                   uint32(appCtx.Int("worker-id")),
		ListenAddress:              appCtx.String("listen-address"),
		PeerAddrs:                  peerAddrs,
		PeerWorkerIDs:              peerWorkerIDs,
		BarrierLeader:              appCtx.Bool("barrier-leader"),
		BarrierPathPrefix:          appCtx.String("barrier-path-prefix"),
		CoordinationEndpoint:       appCtx.String("coordination-endpoint"),
		Parallelism:                appCtx.Int("parallelism"),
		ResidentPartitionCap:       appCtx.Int("resident-partition-cap"),
		PartitionDir:               appCtx.String("partition-dir"),
		MsgStoreShards:             appCtx.Int("msg-store-shards"),
		MaxOutstandingPerPeer:      appCtx.Int("max-outstanding-per-peer"),
		MaxDialAttempts:            appCtx.Int("max-dial-attempts"),
		DispatchBatchSoftSizeBytes: appCtx.Int("dispatch-batch-soft-size-bytes"),
		CreateVertexOnMessages:     appCtx.Bool("create-vertex-on-messages"),
		CheckpointDir:              appCtx.String("checkpoint-dir"),
		CheckpointFrequency:        appCtx.Int("checkpoint-frequency"),
		MetricsListenAddress:       appCtx.String("metrics-listen-address"),
		Compute:                    wcc.ComputeFunc,
		Logger:                     logger,
	}

	if appCtx.Bool("tracing-enabled") {
		tracer, err := tracing.GetTracer(appName)
		if err != nil {
			return wruntime.Config{}, xerrors.Errorf("building tracer: %w", err)
		}
		cfg.Tracer = tracer
	}

	return cfg, nil
}
