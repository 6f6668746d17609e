// Package dispatch batches vertex-id-addressed outgoing messages by
// destination worker address and flushes them to the RPC layer once a batch
// grows past a soft size threshold, per spec.md §4.5's last paragraph. A
// flushed request carries a single PartitionMessages entry labelled with the
// partition id of the batch's first message; messages for other partitions
// owned by the same worker travel in that same entry.
package dispatch

import (
	"context"
	"sync"

	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/worker/partition"
	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

// Sender is the subset of rpc.Client the dispatcher needs; kept as a
// narrow interface so it can be mocked without depending on net.Conn.
type Sender interface {
	SendWritableRequest(ctx context.Context, destAddr string, t rpcpb.Type, payload []byte) (uint64, error)
}

// Locator resolves which worker address currently owns a partition id.
type Locator func(partitionID uint32) (workerAddr string, err error)

type pendingMessages struct {
	partitionID uint32
	byVertex    map[partition.ID][]rpcpb.RawMessage
	size        int
}

// Processor accumulates outgoing messages per destination worker address and
// flushes them as send-worker-messages requests once an address's batch
// reaches BatchSoftSizeBytes, or on an explicit Flush call.
type Processor struct {
	sender             Sender
	locate             Locator
	batchSoftSizeBytes int

	mu      sync.Mutex
	byAddr  map[string]*pendingMessages
	partOwn map[uint32]string // partition id -> destination address, cached from the last Locate call
}

// NewProcessor creates a Processor. batchSoftSizeBytes <= 0 disables
// size-triggered flushing; callers must flush explicitly.
func NewProcessor(sender Sender, locate Locator, batchSoftSizeBytes int) *Processor {
	return &Processor{
		sender:             sender,
		locate:             locate,
		batchSoftSizeBytes: batchSoftSizeBytes,
		byAddr:             make(map[string]*pendingMessages),
		partOwn:            make(map[uint32]string),
	}
}

// EnqueueMessage adds one message addressed to vertexID, which belongs to
// partitionID, to the outgoing batch for whichever worker currently owns
// that partition. If that worker's batch crosses the soft size threshold, it
// is flushed immediately.
func (p *Processor) EnqueueMessage(ctx context.Context, partitionID uint32, vertexID partition.ID, msg rpcpb.RawMessage) error {
	addr, err := p.addrFor(partitionID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	pm, ok := p.byAddr[addr]
	if !ok {
		pm = &pendingMessages{partitionID: partitionID, byVertex: make(map[partition.ID][]rpcpb.RawMessage)}
		p.byAddr[addr] = pm
	}
	pm.byVertex[vertexID] = append(pm.byVertex[vertexID], msg)
	pm.size += len(msg)
	shouldFlush := p.batchSoftSizeBytes > 0 && pm.size >= p.batchSoftSizeBytes
	p.mu.Unlock()

	if shouldFlush {
		return p.flushAddr(ctx, addr)
	}
	return nil
}

func (p *Processor) addrFor(partitionID uint32) (string, error) {
	p.mu.Lock()
	addr, ok := p.partOwn[partitionID]
	p.mu.Unlock()
	if ok {
		return addr, nil
	}

	addr, err := p.locate(partitionID)
	if err != nil {
		return "", xerrors.Errorf("locating owner of partition %d: %w", partitionID, err)
	}
	p.mu.Lock()
	p.partOwn[partitionID] = addr
	p.mu.Unlock()
	return addr, nil
}

// Flush sends every outstanding batch regardless of size.
func (p *Processor) Flush(ctx context.Context) error {
	p.mu.Lock()
	addrs := make([]string, 0, len(p.byAddr))
	for addr := range p.byAddr {
		addrs = append(addrs, addr)
	}
	p.mu.Unlock()

	for _, addr := range addrs {
		if err := p.flushAddr(ctx, addr); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) flushAddr(ctx context.Context, addr string) error {
	p.mu.Lock()
	pm, ok := p.byAddr[addr]
	if ok {
		delete(p.byAddr, addr)
	}
	p.mu.Unlock()
	if !ok || len(pm.byVertex) == 0 {
		return nil
	}

	vertices := make([]rpcpb.VertexMessages, 0, len(pm.byVertex))
	for id, msgs := range pm.byVertex {
		vertices = append(vertices, rpcpb.VertexMessages{VertexID: id, Messages: msgs})
	}
	payload := rpcpb.SendWorkerMessagesPayload{
		Partitions: []rpcpb.PartitionMessages{{PartitionID: pm.partitionID, Vertices: vertices}},
	}

	_, err := p.sender.SendWritableRequest(ctx, addr, rpcpb.TypeSendWorkerMessages, payload.Encode())
	if err != nil {
		return xerrors.Errorf("flushing batch to %q: %w", addr, err)
	}
	return nil
}

// InvalidateOwnership drops any cached partition-owner binding, forcing the
// next EnqueueMessage for that partition to re-resolve via Locator. The
// superstep controller calls this at the start of every superstep, since
// PartitionOwner bindings may change between supersteps.
func (p *Processor) InvalidateOwnership() {
	p.mu.Lock()
	p.partOwn = make(map[uint32]string)
	p.mu.Unlock()
}
