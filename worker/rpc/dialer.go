package rpc

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/juju/clock"
	"golang.org/x/xerrors"
)

// ErrMaxRetriesExceeded is returned by RetryingDialer when a connection is
// not possible after the configured number of attempts.
var ErrMaxRetriesExceeded = xerrors.New("max number of dial retries exceeded")

const (
	maxJitter  = 1000 * time.Millisecond
	maxBackoff = 32 * time.Second
)

// RetryingDialer wraps net.Dial with the same exponential back-off retry
// loop the per-request network-error handling in spec.md §4.7 calls for.
type RetryingDialer struct {
	ctx         context.Context
	clk         clock.Clock
	maxAttempts int
	logger      func(format string, args ...interface{})
}

// NewRetryingDialer returns a dialer that retries with exponential back-off
// up to maxAttempts times or until ctx is cancelled.
func NewRetryingDialer(ctx context.Context, clk clock.Clock, maxAttempts int, logger func(string, ...interface{})) *RetryingDialer {
	if maxAttempts > 31 {
		panic("maxAttempts cannot exceed 31")
	}
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &RetryingDialer{ctx: ctx, clk: clk, maxAttempts: maxAttempts, logger: logger}
}

// Dial connects to address, retrying on failure.
func (d *RetryingDialer) Dial(network, address string) (conn net.Conn, err error) {
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if conn, err = net.Dial(network, address); err == nil {
			return conn, nil
		}

		d.logger("dial %q: attempt %d failed; retrying after %s", address, attempt, expBackoff(attempt))
		select {
		case <-d.clk.After(expBackoff(attempt)):
		case <-d.ctx.Done():
			return nil, d.ctx.Err()
		}
	}
	return nil, ErrMaxRetriesExceeded
}

// expBackoff returns min(2^(attempt+1) ms + jitter, maxBackoff), with jitter
// below maxJitter.
func expBackoff(attempt int) time.Duration {
	jitter := time.Millisecond * time.Duration(rand.Int63n(maxJitter.Nanoseconds()/1e6))
	backOff := time.Duration(2<<uint64(attempt))*time.Millisecond + jitter
	if backOff < maxBackoff {
		return backOff
	}
	return maxBackoff
}
