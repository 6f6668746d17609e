package rpc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

// DialFunc dials a peer worker's RPC server address.
type DialFunc func(network, address string) (net.Conn, error)

// pendingRequest tracks one in-flight request awaiting an ack or error
// frame from the peer.
type pendingRequest struct {
	done chan error
}

// peerConn owns one TCP connection to a destination worker plus the
// bookkeeping spec.md §4.5 requires for that destination: a bounded
// outstanding-request window (backpressure), FIFO send ordering (a single
// send goroutine draining a channel, mirroring the teacher's
// remoteWorkerStream.HandleSendRecv split), and the pending-ack table
// waitAllRequests drains.
type peerConn struct {
	conn net.Conn

	sendCh      chan []byte
	outstanding chan struct{} // buffered to MaxOutstandingPerPeer; a send acquires a slot, an ack/error releases it

	mu      sync.Mutex
	pending map[uint64]*pendingRequest
	wg      sync.WaitGroup // one count per unresolved request, for WaitAllRequests

	closeOnce sync.Once
	closed    chan struct{}
}

func newPeerConn(conn net.Conn, windowSize int) *peerConn {
	pc := &peerConn{
		conn:        conn,
		sendCh:      make(chan []byte, windowSize),
		outstanding: make(chan struct{}, windowSize),
		pending:     make(map[uint64]*pendingRequest),
		closed:      make(chan struct{}),
	}
	go pc.sendLoop()
	go pc.recvLoop()
	return pc
}

func (pc *peerConn) sendLoop() {
	for {
		select {
		case frame := <-pc.sendCh:
			if err := writeFrame(pc.conn, frame); err != nil {
				pc.abort(err)
				return
			}
		case <-pc.closed:
			return
		}
	}
}

func (pc *peerConn) recvLoop() {
	for {
		body, err := readFrame(pc.conn)
		if err != nil {
			pc.abort(err)
			return
		}
		h, _, err := rpcpb.DecodeHeader(body)
		if err != nil {
			pc.abort(err)
			return
		}
		pc.resolve(h.RequestID, replyError(h))
	}
}

func replyError(h rpcpb.Header) error {
	if h.Type == rpcpb.TypeError {
		return xerrors.Errorf("peer reported a handler error for request %d", h.RequestID)
	}
	return nil
}

func (pc *peerConn) resolve(requestID uint64, err error) {
	pc.mu.Lock()
	p, ok := pc.pending[requestID]
	if ok {
		delete(pc.pending, requestID)
	}
	pc.mu.Unlock()
	if !ok {
		return
	}
	p.done <- err
	<-pc.outstanding // release the window slot this request held
	pc.wg.Done()
}

func (pc *peerConn) abort(err error) {
	pc.closeOnce.Do(func() {
		close(pc.closed)
		pc.conn.Close()
		pc.mu.Lock()
		for id, p := range pc.pending {
			p.done <- xerrors.Errorf("connection aborted: %w", err)
			delete(pc.pending, id)
			pc.wg.Done()
		}
		pc.mu.Unlock()
	})
}

// send blocks until a window slot is free, registers the pending request,
// and enqueues the frame for the send goroutine.
func (pc *peerConn) send(ctx context.Context, requestID uint64, frame []byte) (*pendingRequest, error) {
	select {
	case pc.outstanding <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-pc.closed:
		return nil, xerrors.Errorf("rpc: connection closed")
	}

	p := &pendingRequest{done: make(chan error, 1)}
	pc.mu.Lock()
	pc.pending[requestID] = p
	pc.mu.Unlock()
	pc.wg.Add(1)

	select {
	case pc.sendCh <- frame:
	case <-pc.closed:
		return nil, xerrors.Errorf("rpc: connection closed")
	}
	return p, nil
}

// waitAll blocks until every request registered via send has been resolved
// (acknowledged or failed).
func (pc *peerConn) waitAll() error {
	pc.wg.Wait()
	return nil
}

// Client dispatches requests to peer workers, maintaining one peerConn per
// destination address.
type Client struct {
	cfg  ClientConfig
	dial DialFunc

	nextRequestID uint64

	mu    sync.Mutex
	peers map[string]*peerConn
}

// NewClient creates a Client. dial is typically a RetryingDialer's Dial
// method.
func NewClient(cfg ClientConfig, dial DialFunc) *Client {
	return &Client{cfg: cfg, dial: dial, peers: make(map[string]*peerConn)}
}

func (c *Client) peerFor(addr string) (*peerConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pc, ok := c.peers[addr]; ok {
		return pc, nil
	}
	conn, err := c.dial("tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("dialing %q: %w", addr, err)
	}
	pc := newPeerConn(conn, c.cfg.MaxOutstandingPerPeer)
	c.peers[addr] = pc
	return pc, nil
}

// SendWritableRequest enqueues a request to destAddr and returns once it has
// been accepted into the send window; it does not wait for the peer to
// acknowledge it. Use WaitAllRequests for that.
func (c *Client) SendWritableRequest(ctx context.Context, destAddr string, t rpcpb.Type, payload []byte) (uint64, error) {
	var span opentracing.Span
	if c.cfg.Tracer != nil {
		span = c.cfg.Tracer.StartSpan("rpc.send." + t.String())
		defer span.Finish()
	}

	pc, err := c.peerFor(destAddr)
	if err != nil {
		return 0, err
	}

	reqID := atomic.AddUint64(&c.nextRequestID, 1)
	frame := rpcpb.EncodeFrame(rpcpb.Header{
		Type:           t,
		RequestID:      reqID,
		SourceWorkerID: c.cfg.SourceWorkerID,
	}, payload)

	if _, err := pc.send(ctx, reqID, frame); err != nil {
		return 0, err
	}
	return reqID, nil
}

// WaitAllRequests blocks until every request previously sent to destAddr has
// been acknowledged (or has failed).
func (c *Client) WaitAllRequests(destAddr string) error {
	c.mu.Lock()
	pc, ok := c.peers[destAddr]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return pc.waitAll()
}

// Close shuts down every peer connection the client has opened.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pc := range c.peers {
		pc.abort(xerrors.Errorf("client closed"))
	}
	return nil
}
