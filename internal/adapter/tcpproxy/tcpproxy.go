// Package tcpproxy implements the raw TCP byte-pump proxy (§4.I): once
// the acceptor classifies a connection as non-HTTP and routes it to a
// tcp_proxy route, this package dials the configured target and pumps
// bytes in both directions until either side closes.
package tcpproxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/veloxgate/veloxgate/internal/logger"
	"github.com/veloxgate/veloxgate/pkg/pool"
)

// DefaultBufferSize is the per-direction copy buffer size when a route
// doesn't override it.
const DefaultBufferSize = 8 * 1024

// Target is the dial destination for one tcp_proxy route. IdleTimeout and
// TotalTimeout are both 0 (disabled) unless the route's configuration
// opts in, preserving the original's unbounded pump by default.
type Target struct {
	Host         string
	Port         int
	BufferSize   int
	IdleTimeout  time.Duration
	TotalTimeout time.Duration
}

// Proxy dials Target and pumps bytes between it and whatever connection
// the acceptor hands it. One Proxy instance is shared across all
// connections matching a given route; it carries no per-connection
// state beyond the buffer pool.
type Proxy struct {
	target Target
	dialer net.Dialer
	log    *logger.StyledLogger

	bufPool *pool.Pool[*[]byte]
}

// New builds a Proxy for target. A zero BufferSize falls back to
// DefaultBufferSize.
func New(target Target, log *logger.StyledLogger) *Proxy {
	bufSize := target.BufferSize
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	return &Proxy{
		target: target,
		log:    log,
		bufPool: pool.NewLitePool(func() *[]byte {
			b := make([]byte, bufSize)
			return &b
		}),
	}
}

// Handle dials the target and pumps bytes bidirectionally between it and
// client until one side closes, ctx is cancelled, or a configured
// idle/total timeout elapses. It blocks until the pump finishes; the
// caller owns closing client on return.
func (p *Proxy) Handle(ctx context.Context, client net.Conn) error {
	addr := net.JoinHostPort(p.target.Host, fmt.Sprintf("%d", p.target.Port))

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	upstream, err := p.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("tcpproxy: dial %s: %w", addr, err)
	}
	defer upstream.Close()

	var totalDeadline <-chan time.Time
	if p.target.TotalTimeout > 0 {
		timer := time.NewTimer(p.target.TotalTimeout)
		defer timer.Stop()
		totalDeadline = timer.C
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-totalDeadline:
		case <-done:
			return
		}
		_ = client.Close()
		_ = upstream.Close()
	}()
	defer close(done)

	var wg sync.WaitGroup
	wg.Add(2)

	var clientToUpstreamErr, upstreamToClientErr error

	go func() {
		defer wg.Done()
		clientToUpstreamErr = p.pump(upstream, client)
		// Half-close: tell upstream we're done sending once the client
		// side is drained, so it can flush any final response.
		if tc, ok := upstream.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()

	go func() {
		defer wg.Done()
		upstreamToClientErr = p.pump(client, upstream)
		if tc, ok := client.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()

	wg.Wait()

	if clientToUpstreamErr != nil {
		return clientToUpstreamErr
	}
	return upstreamToClientErr
}

// pump copies from src to dst using a pooled buffer until src returns
// EOF or either side errors. EOF is not propagated as an error — it's
// the normal end of one direction of a half-duplex close. When
// IdleTimeout is set, src's read deadline is pushed out before every
// read, so a connection with no traffic in either direction for that
// long is torn down.
func (p *Proxy) pump(dst io.Writer, src io.Reader) error {
	bufPtr := p.bufPool.Get()
	defer p.bufPool.Put(bufPtr)
	buf := *bufPtr

	srcConn, hasDeadline := src.(net.Conn)
	hasDeadline = hasDeadline && p.target.IdleTimeout > 0

	for {
		if hasDeadline {
			_ = srcConn.SetReadDeadline(time.Now().Add(p.target.IdleTimeout))
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
