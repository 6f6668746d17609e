// Package grpcservice exposes coordination.Service over gRPC. It hand-rolls
// a grpc.ServiceDesc around the bare *any.Any envelope instead of depending
// on protoc-generated stubs: every request/reply is a binutil-encoded blob
// carried as Any.Value, the same envelope worker/aggregator uses to move
// values between peers. Grounded on the teacher's JobQueue service wiring
// in dbspgraph/stream.go, generalized from a fixed bidi-stream to a small
// unary/server-stream RPC surface matching coordination.Service's shape.
package grpcservice

import (
	"context"
	"io"

	"github.com/golang/protobuf/ptypes/any"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"

	"github.com/dreamware-labs/bspworker/worker/binutil"
	"github.com/dreamware-labs/bspworker/worker/coordination"
)

const serviceName = "bspworker.coordination.Coordination"

const (
	typeURLCreateRequest = "type.googleapis.com/bspworker.coordination.CreateRequest"
	typeURLPathRequest   = "type.googleapis.com/bspworker.coordination.PathRequest"
	typeURLValueReply    = "type.googleapis.com/bspworker.coordination.ValueReply"
	typeURLEmptyReply    = "type.googleapis.com/bspworker.coordination.EmptyReply"
	typeURLEvent         = "type.googleapis.com/bspworker.coordination.Event"
)

func encodeCreateRequest(path string, value []byte) *any.Any {
	buf := binutil.PutString(nil, path)
	buf = binutil.PutBytes(buf, value)
	return &any.Any{TypeUrl: typeURLCreateRequest, Value: buf}
}

func decodeCreateRequest(a *any.Any) (path string, value []byte, err error) {
	r := binutil.NewReader(a.GetValue())
	path = r.String()
	value = r.Bytes()
	if r.Err() != nil {
		return "", nil, xerrors.Errorf("decoding create request: %w", r.Err())
	}
	return path, append([]byte(nil), value...), nil
}

func encodePathRequest(path string) *any.Any {
	return &any.Any{TypeUrl: typeURLPathRequest, Value: binutil.PutString(nil, path)}
}

func decodePathRequest(a *any.Any) (string, error) {
	r := binutil.NewReader(a.GetValue())
	path := r.String()
	if r.Err() != nil {
		return "", xerrors.Errorf("decoding path request: %w", r.Err())
	}
	return path, nil
}

func encodeValueReply(value []byte) *any.Any {
	return &any.Any{TypeUrl: typeURLValueReply, Value: binutil.PutBytes(nil, value)}
}

func decodeValueReply(a *any.Any) ([]byte, error) {
	r := binutil.NewReader(a.GetValue())
	value := r.Bytes()
	if r.Err() != nil {
		return nil, xerrors.Errorf("decoding value reply: %w", r.Err())
	}
	return append([]byte(nil), value...), nil
}

func emptyReply() *any.Any { return &any.Any{TypeUrl: typeURLEmptyReply} }

func encodeEvent(ev coordination.Event) *any.Any {
	buf := []byte{byte(ev.Type)}
	buf = binutil.PutString(buf, ev.Path)
	buf = binutil.PutBytes(buf, ev.Value)
	return &any.Any{TypeUrl: typeURLEvent, Value: buf}
}

func decodeEvent(a *any.Any) (coordination.Event, error) {
	v := a.GetValue()
	if len(v) < 1 {
		return coordination.Event{}, binutil.ErrTruncated
	}
	r := binutil.NewReader(v[1:])
	path := r.String()
	value := r.Bytes()
	if r.Err() != nil {
		return coordination.Event{}, xerrors.Errorf("decoding event: %w", r.Err())
	}
	return coordination.Event{
		Type:  coordination.EventType(v[0]),
		Path:  path,
		Value: append([]byte(nil), value...),
	}, nil
}

// Server adapts a coordination.Service to the hand-rolled gRPC surface.
type Server struct {
	Backend coordination.Service
}

func (s *Server) createEphemeral(ctx context.Context, req *any.Any) (*any.Any, error) {
	path, value, err := decodeCreateRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.Backend.CreateEphemeral(ctx, path, value); err != nil {
		return nil, err
	}
	return emptyReply(), nil
}

func (s *Server) createPersistent(ctx context.Context, req *any.Any) (*any.Any, error) {
	path, value, err := decodeCreateRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.Backend.CreatePersistent(ctx, path, value); err != nil {
		return nil, err
	}
	return emptyReply(), nil
}

func (s *Server) read(ctx context.Context, req *any.Any) (*any.Any, error) {
	path, err := decodePathRequest(req)
	if err != nil {
		return nil, err
	}
	value, err := s.Backend.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return encodeValueReply(value), nil
}

func (s *Server) delete(ctx context.Context, req *any.Any) (*any.Any, error) {
	path, err := decodePathRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.Backend.Delete(ctx, path); err != nil {
		return nil, err
	}
	return emptyReply(), nil
}

func (s *Server) watch(req *any.Any, stream grpc.ServerStream) error {
	path, err := decodePathRequest(req)
	if err != nil {
		return err
	}
	ctx := stream.Context()
	ch, err := s.Backend.Watch(ctx, path)
	if err != nil {
		return err
	}
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(encodeEvent(ev)); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func unaryHandler(fn func(*Server, context.Context, *any.Any) (*any.Any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(any.Any)
			if err := dec(req); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return fn(s, ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(s, ctx, req.(*any.Any))
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// ServiceDesc is registered against a *grpc.Server to serve a Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		func() grpc.MethodDesc {
			m := unaryHandler((*Server).createEphemeral)
			m.MethodName = "CreateEphemeral"
			return m
		}(),
		func() grpc.MethodDesc {
			m := unaryHandler((*Server).createPersistent)
			m.MethodName = "CreatePersistent"
			return m
		}(),
		func() grpc.MethodDesc {
			m := unaryHandler((*Server).read)
			m.MethodName = "Read"
			return m
		}(),
		func() grpc.MethodDesc {
			m := unaryHandler((*Server).delete)
			m.MethodName = "Delete"
			return m
		}(),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: "Watch",
			Handler: func(srv interface{}, stream grpc.ServerStream) error {
				req := new(any.Any)
				if err := stream.RecvMsg(req); err != nil {
					return err
				}
				return srv.(*Server).watch(req, stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "bspworker/coordination.proto",
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// Client implements coordination.Service against a Server reached over a
// *grpc.ClientConn, using grpc.ClientConn.Invoke/NewStream directly since
// there is no protoc-generated client stub to call through.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an established connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) unary(ctx context.Context, method string, req *any.Any) (*any.Any, error) {
	reply := new(any.Any)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// CreateEphemeral implements coordination.Service.
func (c *Client) CreateEphemeral(ctx context.Context, path string, value []byte) error {
	_, err := c.unary(ctx, "CreateEphemeral", encodeCreateRequest(path, value))
	return err
}

// CreatePersistent implements coordination.Service.
func (c *Client) CreatePersistent(ctx context.Context, path string, value []byte) error {
	_, err := c.unary(ctx, "CreatePersistent", encodeCreateRequest(path, value))
	return err
}

// Read implements coordination.Service.
func (c *Client) Read(ctx context.Context, path string) ([]byte, error) {
	reply, err := c.unary(ctx, "Read", encodePathRequest(path))
	if err != nil {
		return nil, err
	}
	return decodeValueReply(reply)
}

// Delete implements coordination.Service.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.unary(ctx, "Delete", encodePathRequest(path))
	return err
}

// Watch implements coordination.Service, translating the server-streaming
// RPC into a channel. The channel is closed when ctx is done or the stream
// ends.
func (c *Client) Watch(ctx context.Context, path string) (<-chan coordination.Event, error) {
	desc := &grpc.StreamDesc{StreamName: "Watch", ServerStreams: true}
	stream, err := c.conn.NewStream(ctx, desc, fullMethod("Watch"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(encodePathRequest(path)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	out := make(chan coordination.Event, 16)
	go func() {
		defer close(out)
		for {
			msg := new(any.Any)
			if err := stream.RecvMsg(msg); err != nil {
				if err != io.EOF {
					return
				}
				return
			}
			ev, err := decodeEvent(msg)
			if err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
