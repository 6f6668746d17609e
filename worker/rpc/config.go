// Package rpc implements the framed, connection-oriented transport between
// workers described in spec.md §4.5: a client that enqueues requests behind
// a per-destination outstanding-request window and a server that dispatches
// arriving frames to per-type handlers with at-most-once semantics.
package rpc

import (
	"io/ioutil"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/opentracing/opentracing-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/dreamware-labs/bspworker/worker/rpcpb"
)

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(ioutil.Discard)
	return l
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// SourceWorkerID is stamped on every frame this client sends.
	SourceWorkerID uint32

	// MaxOutstandingPerPeer bounds the number of un-acknowledged requests a
	// single destination may have in flight before Send blocks.
	MaxOutstandingPerPeer int

	// MaxDialAttempts bounds the retrying dialer's attempts per connect.
	MaxDialAttempts int

	// Clock drives the retrying dialer's backoff sleeps; defaults to the
	// wall clock.
	Clock clock.Clock

	// Tracer, if set, wraps every outbound request in a span.
	Tracer opentracing.Tracer

	Logger *logrus.Entry
}

// Validate checks cfg and fills in defaults.
func (cfg *ClientConfig) Validate() error {
	var err error
	if cfg.MaxOutstandingPerPeer <= 0 {
		err = multierror.Append(err, xerrors.Errorf("max outstanding requests per peer must be positive"))
	}
	if cfg.MaxDialAttempts <= 0 {
		cfg.MaxDialAttempts = 8
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(discardLogger())
	}
	return err
}

// Handler processes one decoded request frame against the worker's server
// data (partition store, message store, mutation buffer, aggregator
// service). Handlers must be safe for concurrent invocation on disjoint
// keys and synchronize internally on whatever key they touch.
type Handler func(h rpcpb.Header, payload []byte) error

// ServerConfig configures a Server.
type ServerConfig struct {
	ListenAddress string
	Handlers      map[rpcpb.Type]Handler
	// AcceptTimeout defaults to one second in Validate. Server does not
	// read it: Accept blocks until Stop closes the listener.
	AcceptTimeout time.Duration
	Logger        *logrus.Entry
}

// Validate checks cfg and fills in defaults.
func (cfg *ServerConfig) Validate() error {
	var err error
	if cfg.ListenAddress == "" {
		err = multierror.Append(err, xerrors.Errorf("listen address not specified"))
	}
	if len(cfg.Handlers) == 0 {
		err = multierror.Append(err, xerrors.Errorf("no request handlers registered"))
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(discardLogger())
	}
	return err
}
