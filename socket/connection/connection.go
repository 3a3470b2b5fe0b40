/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package connection implements the per-peer Connection state machine shared by
// every receiver and sender shell: it owns one peer's lifetime, drives bytes
// through an adaptor.Receiver/adaptor.Sender, and reports itself to a
// connmgr.Manager for the duration of that lifetime.
package connection

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sabouaram/endpoint/logging"
	libsck "github.com/sabouaram/endpoint/socket"
	"github.com/sabouaram/endpoint/socket/codec"
	"github.com/sabouaram/endpoint/socket/connmgr"
)

// CloseReason tags why a Connection's lifetime ended, for FuncError/logging
// observers that want more than a single error value.
type CloseReason struct {
	UserRequested bool
	Timeout       bool
	Err           error
}

// Connection is a single peer's session: it knows its own name in the
// Connections Manager, exposes the per-connection metadata map, and can be told
// to close early.
type Connection interface {
	Name() string
	ParentName() string
	Context() codec.Context
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	IsConnected() bool
	Done() <-chan struct{}
	Close() error
}

// feeder is whatever the protocol.Factory built for this connection: either an
// adaptor.Receiver or an adaptor.Sender, both of which expose the same Feed
// signature the Connection's read loop needs.
type feeder interface {
	Feed(ctx context.Context, ctxMap codec.Context, data []byte) error
	Connect(ctx codec.Context) error
	Disconnect(ctx codec.Context, cause error)
}

// readResult is one outcome of the background reader goroutine: either bytes
// read, a terminal error, or both (a short read immediately followed by EOF).
type readResult struct {
	data []byte
	err  error
}

// Stream is a Connection backed by a single net.Conn (TCP, Unix stream, or a
// TLS-wrapped variant of either): one read-loop goroutine per connection, the
// direct Go analogue of the distilled specification's per-connection protocol
// instance.
type Stream struct {
	name       string
	parentName string
	conn       net.Conn
	ctx        codec.Context
	feed       feeder
	mgr        *connmgr.Manager
	log        logging.Logger

	bufSize int
	onInfo  libsck.FuncInfo
	onError libsck.FuncError

	allowedSenders []string
	aliases        map[string]string
	isServer       bool

	// pauseThreshold bounds how many bytes may be read ahead of Feed actually
	// draining them; 0 disables backpressure entirely. unprocessed is the live
	// byte count currently read but not yet released by a finished Feed call.
	pauseThreshold int64
	unprocessed    atomic.Int64

	pauseMu sync.Mutex
	pauseCh chan struct{}

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	rootCtx    context.Context
	cancelRoot context.CancelFunc
}

// StreamOptions configures a new Stream connection.
type StreamOptions struct {
	Name    string
	// ParentName identifies the listener/dialer endpoint that owns this peer
	// in the Connections Manager; defaults to Name when empty.
	ParentName string
	Conn       net.Conn
	Context    codec.Context
	Feeder     feeder
	Manager    *connmgr.Manager
	Logger     logging.Logger
	BufferSize int
	OnInfo     libsck.FuncInfo
	OnError    libsck.FuncError

	// AllowedSenders restricts which peers may complete the handshake: each
	// entry is either an exact host (matched against the peer's address
	// without its port) or a CIDR block. A nil/empty list allows every peer.
	AllowedSenders []string
	// Aliases maps a peer host to a human-readable name stored in the
	// connection's Context under the "alias" key.
	Aliases map[string]string
	// IsServer marks this Stream as the accept side of the connection (as
	// opposed to the dial side), recorded in the Context under "server"/
	// "client".
	IsServer bool
	// PauseThreshold is the number of unprocessed bytes the read loop will
	// read ahead of Feed finishing before it pauses; 0 disables pausing.
	PauseThreshold int
}

// NewStream constructs a Stream connection but does not start its read loop;
// call Serve to do that.
func NewStream(opt StreamOptions) *Stream {
	bufSize := opt.BufferSize
	if bufSize <= 0 {
		bufSize = libsck.DefaultBufferSize
	}
	parent := opt.ParentName
	if parent == "" {
		parent = opt.Name
	}
	rootCtx, cancel := context.WithCancel(context.Background())
	return &Stream{
		name:           opt.Name,
		parentName:     parent,
		conn:           opt.Conn,
		ctx:            opt.Context,
		feed:           opt.Feeder,
		mgr:            opt.Manager,
		log:            opt.Logger,
		bufSize:        bufSize,
		onInfo:         opt.OnInfo,
		onError:        opt.OnError,
		allowedSenders: opt.AllowedSenders,
		aliases:        opt.Aliases,
		isServer:       opt.IsServer,
		pauseThreshold: int64(opt.PauseThreshold),
		pauseCh:        make(chan struct{}),
		done:           make(chan struct{}),
		rootCtx:        rootCtx,
		cancelRoot:     cancel,
	}
}

func (s *Stream) Name() string           { return s.name }
func (s *Stream) ParentName() string     { return s.parentName }
func (s *Stream) Context() codec.Context { return s.ctx }
func (s *Stream) RemoteAddr() net.Addr   { return s.conn.RemoteAddr() }
func (s *Stream) LocalAddr() net.Addr    { return s.conn.LocalAddr() }
func (s *Stream) Done() <-chan struct{}  { return s.done }

func (s *Stream) IsConnected() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *Stream) info(state libsck.ConnState) {
	if s.onInfo != nil {
		s.onInfo(state, s.LocalAddr(), s.RemoteAddr())
	}
}

// authorize rejects a peer whose remote address matches none of
// AllowedSenders, when that list is non-empty.
func (s *Stream) authorize() error {
	if len(s.allowedSenders) == 0 {
		return nil
	}
	host := addrHost(s.conn.RemoteAddr())
	if senderAllowed(host, s.allowedSenders) {
		return nil
	}
	if s.log != nil {
		s.log.Warn("rejecting unauthorized peer", "peer", s.conn.RemoteAddr().String())
	}
	return libsck.ErrUnauthorizedPeer.Error()
}

// buildContext fills ctx with the peer addressing keys the codec/Action read,
// branching on the transport kind the way the distilled specification's
// context() constructor does: a Unix-domain stream exposes its file
// descriptor, a named-pipe transport (unsupported by any transport this
// module currently builds, kept for API parity) would expose a handle, and
// every IP-based stream exposes host/port plus any TLS session detail.
func (s *Stream) buildContext() {
	if s.ctx == nil {
		return
	}

	local := s.LocalAddr()
	remote := s.RemoteAddr()

	s.ctx.Store("own", local.String())
	s.ctx.Store("peer", remote.String())
	if s.isServer {
		s.ctx.Store("server", local.String())
	} else {
		s.ctx.Store("client", local.String())
	}

	switch remote.Network() {
	case "unix", "unixgram":
		s.ctx.Store("addr", remote.String())
		if uc, ok := s.conn.(*net.UnixConn); ok {
			if f, err := uc.File(); err == nil {
				s.ctx.Store("fd", int(f.Fd()))
				_ = f.Close()
			}
		}
	case "pipe":
		s.ctx.Store("handle", remote.String())
		if alias, ok := s.aliases[addrHost(remote)]; ok {
			s.ctx.Store("alias", alias)
		}
	default:
		host, port, err := net.SplitHostPort(remote.String())
		if err != nil {
			s.ctx.Store("addr", remote.String())
			host = remote.String()
		} else {
			s.ctx.Store("host", host)
			s.ctx.Store("port", port)
		}
		if alias, ok := s.aliases[host]; ok {
			s.ctx.Store("alias", alias)
		}
	}

	if tc, ok := s.conn.(*tls.Conn); ok {
		state := tc.ConnectionState()
		s.ctx.Store("cipher", tls.CipherSuiteName(state.CipherSuite))
		if len(state.PeerCertificates) > 0 {
			s.ctx.Store("peercert", state.PeerCertificates[0].Subject.String())
		}
	}
}

// Serve registers the connection with the Connections Manager, runs OnConnect,
// and blocks reading until the peer disconnects, the root context is canceled,
// or an unfiltered transport error occurs.
func (s *Stream) Serve() error {
	s.info(libsck.ConnectionNew)

	if err := s.authorize(); err != nil {
		if s.onError != nil {
			s.onError(err)
		}
		s.abort()
		return err
	}

	s.buildContext()

	if s.mgr != nil {
		if err := s.mgr.Add(peer{stream: s}); err != nil {
			s.abort()
			return err
		}
	}

	if err := s.feed.Connect(s.ctx); err != nil {
		s.teardown(err)
		return err
	}

	reads := make(chan readResult, 1)
	go s.readLoop(reads)

	var cause error

loop:
	for {
		select {
		case r := <-reads:
			if len(r.data) > 0 {
				if ferr := s.feed.Feed(s.rootCtx, s.ctx, r.data); ferr != nil {
					s.release(len(r.data))
					cause = ferr
					if s.onError != nil {
						s.onError(ferr)
					}
					break loop
				}
				s.release(len(r.data))
			}
			if r.err != nil {
				if filtered := libsck.ErrorFilter(r.err); filtered != nil {
					cause = filtered
					if s.onError != nil {
						s.onError(filtered)
					}
				}
				break loop
			}
		case <-s.rootCtx.Done():
			cause = s.rootCtx.Err()
			break loop
		}
	}

	s.info(libsck.ConnectionCloseRead)
	s.teardown(cause)
	return cause
}

// readLoop runs on its own goroutine so the main Serve loop can dispatch Feed
// calls while the next chunk is already being read off the wire, bounded by
// pauseThreshold: once unprocessed reaches it, the next Read is held back
// until release (called as each Feed call returns) drops it back down.
func (s *Stream) readLoop(out chan<- readResult) {
	buf := make([]byte, s.bufSize)
	for {
		s.waitForCapacity()

		s.info(libsck.ConnectionRead)
		n, err := s.conn.Read(buf)

		var res readResult
		if n > 0 {
			res.data = append([]byte(nil), buf[:n]...)
			s.unprocessed.Add(int64(n))
		}
		res.err = err

		select {
		case out <- res:
		case <-s.rootCtx.Done():
			return
		}

		if err != nil {
			return
		}
	}
}

// waitForCapacity blocks the reader goroutine while unprocessed has reached
// pauseThreshold, i.e. pause_reading; it returns once release (resume_reading)
// brings the backlog back under the limit, or the connection is closing.
func (s *Stream) waitForCapacity() {
	if s.pauseThreshold <= 0 {
		return
	}
	for s.unprocessed.Load() >= s.pauseThreshold {
		s.pauseMu.Lock()
		ch := s.pauseCh
		s.pauseMu.Unlock()
		select {
		case <-ch:
		case <-s.rootCtx.Done():
			return
		}
	}
}

// release accounts for n bytes having finished Feed processing and, once the
// backlog drops back under pauseThreshold, wakes the reader goroutine.
func (s *Stream) release(n int) {
	if n == 0 {
		return
	}
	remaining := s.unprocessed.Add(-int64(n))
	if s.pauseThreshold <= 0 || remaining >= s.pauseThreshold {
		return
	}
	s.pauseMu.Lock()
	old := s.pauseCh
	s.pauseCh = make(chan struct{})
	s.pauseMu.Unlock()
	close(old)
}

// Write sends bytes to the peer, reporting the write transition for observers.
func (s *Stream) Write(p []byte) (int, error) {
	s.info(libsck.ConnectionWrite)
	return s.conn.Write(p)
}

// abort tears down a connection that never completed setup (rejected by
// authorize, or failed registration): unlike teardown it never invokes the
// feeder's Disconnect, since Connect was never called either.
func (s *Stream) abort() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelRoot()
	_ = s.conn.Close()
	s.info(libsck.ConnectionClose)
	close(s.done)
}

func (s *Stream) teardown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancelRoot()
	s.feed.Disconnect(s.ctx, cause)
	_ = s.conn.Close()
	if s.mgr != nil {
		s.mgr.Remove(s.name)
		_ = s.mgr.Decrement(s.parentName)
	}
	s.info(libsck.ConnectionClose)
	close(s.done)
}

// Close tears down the connection immediately, as if the peer had disconnected.
func (s *Stream) Close() error {
	s.cancelRoot()
	s.info(libsck.ConnectionCloseWrite)
	err := s.conn.Close()
	s.teardown(nil)
	return err
}

// addrHost strips the port off a net.Addr's string form, returning the bare
// host (or the original string when it carries no port, e.g. a Unix path).
func addrHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// senderAllowed reports whether host matches one of allowed, each of which is
// either an exact host string or a CIDR block.
func senderAllowed(host string, allowed []string) bool {
	ip := net.ParseIP(host)
	for _, a := range allowed {
		if a == host {
			return true
		}
		if ip == nil {
			continue
		}
		if _, cidr, err := net.ParseCIDR(a); err == nil && cidr.Contains(ip) {
			return true
		}
	}
	return false
}
