package rpc

import (
	"net"
	"sync"

	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

// dedupKey identifies a request for the at-most-once application check:
// the same (source worker, request id) pair arriving twice is applied once.
type dedupKey struct {
	sourceWorkerID uint32
	requestID      uint64
}

// Server accepts connections from peer workers and dispatches arriving
// frames to the handler registered for their type.
type Server struct {
	cfg ServerConfig

	listener net.Listener

	mu     sync.Mutex
	seen   map[dedupKey]struct{}
	connWg sync.WaitGroup

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewServer creates a Server from cfg, which must already be validated.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		cfg:    cfg,
		seen:   make(map[dedupKey]struct{}),
		stopCh: make(chan struct{}),
	}
}

// ListenAndServe binds the configured address and serves connections until
// Stop is called. It blocks until the listener closes.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return xerrors.Errorf("rpc server: listen %q: %w", s.cfg.ListenAddress, err)
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
				return xerrors.Errorf("rpc server: accept: %w", err)
			}
		}
		s.connWg.Add(1)
		go s.serveConn(conn)
	}
}

// Stop closes the listener and waits for in-flight connections to drain.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			err = s.listener.Close()
		}
	})
	s.connWg.Wait()
	return err
}

// serveConn mirrors the teacher's remoteWorkerStream split: a dedicated
// recv loop reading frames off the wire and dispatching them to handlers,
// and a dedicated send loop (via sendCh) that serializes the ack/error
// frames written back, so concurrent handler completions never race on the
// same net.Conn's Write.
func (s *Server) serveConn(conn net.Conn) {
	defer s.connWg.Done()
	defer conn.Close()

	sendCh := make(chan []byte, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for frame := range sendCh {
			if err := writeFrame(conn, frame); err != nil {
				return
			}
		}
	}()
	defer func() {
		close(sendCh)
		<-done
	}()

	// Handlers run synchronously, one frame at a time, in the order they
	// were read off this connection: spec.md §5 guarantees FIFO delivery
	// of one worker's requests to a single peer, and concurrency across
	// peers comes from each connection having its own serveConn goroutine,
	// not from fanning out within one connection's frame stream.
	for {
		body, err := readFrame(conn)
		if err != nil {
			break
		}
		h, payload, err := rpcpb.DecodeHeader(body)
		if err != nil {
			s.cfg.Logger.WithError(err).Warn("rpc server: malformed frame, closing connection")
			break
		}

		s.handle(h, payload, sendCh)
	}
}

func (s *Server) handle(h rpcpb.Header, payload []byte, sendCh chan<- []byte) {
	key := dedupKey{sourceWorkerID: h.SourceWorkerID, requestID: h.RequestID}
	// claim reserves the key before the handler runs, so a duplicate frame
	// arriving while the first copy is still being applied is recognized
	// immediately rather than racing to apply twice.
	if !s.claim(key) {
		sendCh <- rpcpb.EncodeFrame(rpcpb.Header{Type: rpcpb.TypeAck, RequestID: h.RequestID}, nil)
		return
	}

	handler, ok := s.cfg.Handlers[h.Type]
	if !ok {
		s.cfg.Logger.WithField("type", h.Type.String()).Warn("rpc server: no handler registered for request type")
		s.forget(key)
		sendCh <- rpcpb.EncodeFrame(rpcpb.Header{Type: rpcpb.TypeError, RequestID: h.RequestID}, nil)
		return
	}

	if err := handler(h, payload); err != nil {
		s.cfg.Logger.WithError(err).WithField("type", h.Type.String()).Warn("rpc server: handler returned an error")
		s.forget(key)
		sendCh <- rpcpb.EncodeFrame(rpcpb.Header{Type: rpcpb.TypeError, RequestID: h.RequestID}, nil)
		return
	}

	sendCh <- rpcpb.EncodeFrame(rpcpb.Header{Type: rpcpb.TypeAck, RequestID: h.RequestID}, nil)
}

// claim atomically reserves key, reporting whether this caller is the
// first to do so.
func (s *Server) claim(key dedupKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *Server) forget(key dedupKey) {
	s.mu.Lock()
	delete(s.seen, key)
	s.mu.Unlock()
}
