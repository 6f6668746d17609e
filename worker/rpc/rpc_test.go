package rpc

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gc "gopkg.in/check.v1"

	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(RPCTestSuite))

type RPCTestSuite struct{}

func startTestServer(c *gc.C, handlers map[rpcpb.Type]Handler) (*Server, string) {
	cfg := ServerConfig{ListenAddress: "127.0.0.1:0", Handlers: handlers}
	c.Assert(cfg.Validate(), gc.IsNil)

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	c.Assert(err, gc.IsNil)
	cfg.ListenAddress = ln.Addr().String()
	ln.Close()

	srv := NewServer(cfg)
	go srv.ListenAndServe()
	time.Sleep(20 * time.Millisecond) // let the listener bind
	return srv, cfg.ListenAddress
}

func (s *RPCTestSuite) TestFlushRoundTrip(c *gc.C) {
	var applied int32
	handlers := map[rpcpb.Type]Handler{
		rpcpb.TypeFlush: func(h rpcpb.Header, payload []byte) error {
			atomic.AddInt32(&applied, 1)
			return nil
		},
	}
	srv, addr := startTestServer(c, handlers)
	defer srv.Stop()

	cfg := ClientConfig{SourceWorkerID: 1, MaxOutstandingPerPeer: 4}
	c.Assert(cfg.Validate(), gc.IsNil)
	client := NewClient(cfg, net.Dial)
	defer client.Close()

	_, err := client.SendWritableRequest(context.Background(), addr, rpcpb.TypeFlush, nil)
	c.Assert(err, gc.IsNil)
	c.Assert(client.WaitAllRequests(addr), gc.IsNil)
	c.Assert(atomic.LoadInt32(&applied), gc.Equals, int32(1))
}

func (s *RPCTestSuite) TestDedupAppliesOnce(c *gc.C) {
	var applied int32
	handlers := map[rpcpb.Type]Handler{
		rpcpb.TypeFlush: func(h rpcpb.Header, payload []byte) error {
			atomic.AddInt32(&applied, 1)
			return nil
		},
	}
	srv, addr := startTestServer(c, handlers)
	defer srv.Stop()

	conn, err := net.Dial("tcp", addr)
	c.Assert(err, gc.IsNil)
	defer conn.Close()

	frame := rpcpb.EncodeFrame(rpcpb.Header{Type: rpcpb.TypeFlush, RequestID: 7, SourceWorkerID: 1}, nil)
	_, err = conn.Write(frame)
	c.Assert(err, gc.IsNil)
	_, err = conn.Write(frame) // duplicate: same (sourceWorkerID, requestID)
	c.Assert(err, gc.IsNil)

	var acks int
	buf := make([]byte, 64)
	deadline := time.Now().Add(time.Second)
	for acks < 2 && time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, _ := conn.Read(buf)
		if n > 0 {
			acks++
		}
	}
	c.Assert(acks, gc.Equals, 2) // both acked...
	c.Assert(atomic.LoadInt32(&applied), gc.Equals, int32(1)) // ...but applied once
}

func (s *RPCTestSuite) TestBackpressureBlocksUntilAck(c *gc.C) {
	release := make(chan struct{})
	var inHandler int32
	handlers := map[rpcpb.Type]Handler{
		rpcpb.TypeFlush: func(h rpcpb.Header, payload []byte) error {
			atomic.AddInt32(&inHandler, 1)
			<-release
			return nil
		},
	}
	srv, addr := startTestServer(c, handlers)
	defer srv.Stop()

	cfg := ClientConfig{SourceWorkerID: 1, MaxOutstandingPerPeer: 1}
	c.Assert(cfg.Validate(), gc.IsNil)
	client := NewClient(cfg, net.Dial)
	defer client.Close()

	ctx := context.Background()
	_, err := client.SendWritableRequest(ctx, addr, rpcpb.TypeFlush, nil)
	c.Assert(err, gc.IsNil)

	// The second send should block until the handler completes, since the
	// window size is 1.
	var secondDone int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = client.SendWritableRequest(ctx, addr, rpcpb.TypeFlush, nil)
		atomic.StoreInt32(&secondDone, 1)
	}()

	time.Sleep(50 * time.Millisecond)
	c.Assert(atomic.LoadInt32(&secondDone), gc.Equals, int32(0))

	close(release)
	wg.Wait()
	c.Assert(atomic.LoadInt32(&secondDone), gc.Equals, int32(1))
}
