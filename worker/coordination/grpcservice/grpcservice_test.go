package grpcservice

import (
	"context"
	"net"
	"testing"
	"time"

	gc "gopkg.in/check.v1"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dreamware-labs/bspworker/worker/coordination"
	"github.com/dreamware-labs/bspworker/worker/coordination/localservice"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(GrpcServiceTestSuite))

type GrpcServiceTestSuite struct {
	backend *localservice.Service

	listener *bufconn.Listener
	grpcSrv  *grpc.Server

	cliConn *grpc.ClientConn
	cli     *Client
}

func (s *GrpcServiceTestSuite) SetUpTest(c *gc.C) {
	s.backend = localservice.New()

	s.listener = bufconn.Listen(1024 * 1024)
	s.grpcSrv = grpc.NewServer()
	s.grpcSrv.RegisterService(&ServiceDesc, &Server{Backend: s.backend})
	go func() { _ = s.grpcSrv.Serve(s.listener) }()

	var err error
	s.cliConn, err = grpc.Dial(
		"bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return s.listener.Dial() }),
		grpc.WithInsecure(),
	)
	c.Assert(err, gc.IsNil)
	s.cli = NewClient(s.cliConn)
}

func (s *GrpcServiceTestSuite) TearDownTest(c *gc.C) {
	_ = s.cliConn.Close()
	s.grpcSrv.Stop()
	_ = s.listener.Close()
}

func (s *GrpcServiceTestSuite) TestCreateReadDelete(c *gc.C) {
	ctx := context.Background()

	c.Assert(s.cli.CreatePersistent(ctx, "/barrier/0", []byte("hello")), gc.IsNil)

	val, err := s.cli.Read(ctx, "/barrier/0")
	c.Assert(err, gc.IsNil)
	c.Assert(string(val), gc.Equals, "hello")

	c.Assert(s.cli.Delete(ctx, "/barrier/0"), gc.IsNil)
	_, err = s.cli.Read(ctx, "/barrier/0")
	c.Assert(err, gc.ErrorMatches, ".*")
}

func (s *GrpcServiceTestSuite) TestWatchStreamsEvents(c *gc.C) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.cli.Watch(ctx, "/split/1")
	c.Assert(err, gc.IsNil)

	c.Assert(s.cli.CreateEphemeral(context.Background(), "/split/1", []byte("owned")), gc.IsNil)

	select {
	case ev := <-ch:
		c.Assert(ev.Type, gc.Equals, coordination.EventCreated)
		c.Assert(string(ev.Value), gc.Equals, "owned")
	case <-time.After(2 * time.Second):
		c.Fatal("timed out waiting for streamed create event")
	}
}
