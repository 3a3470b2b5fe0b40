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

// Package protocol turns a validated socket/config endpoint into the concrete
// net package primitive it names: a net.Listener or net.PacketConn for a
// Server, a dialed net.Conn for a Client, with TLS wrapping and Unix socket
// file permissions applied the same way for every transport family. It also
// implements the Protocol Factory itself: the per-endpoint builder that turns
// accepted/demultiplexed peers into socket/connection.Connections wired to an
// Action or Requester, and tracks them through a connmgr.Manager.
package protocol

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sync"

	libctx "github.com/sabouaram/endpoint/context"
	"github.com/sabouaram/endpoint/logging"
	libptc "github.com/sabouaram/endpoint/network/protocol"
	libsck "github.com/sabouaram/endpoint/socket"
	"github.com/sabouaram/endpoint/socket/adaptor"
	"github.com/sabouaram/endpoint/socket/codec"
	sckcfg "github.com/sabouaram/endpoint/socket/config"
	"github.com/sabouaram/endpoint/socket/connection"
	"github.com/sabouaram/endpoint/socket/connmgr"
	"github.com/sabouaram/endpoint/socket/transport"
)

// ListenServer opens the transport a Server configuration names: a
// net.Listener for stream families (tcp*, unix), or a net.PacketConn for
// datagram families (udp*, unixgram). Exactly one of the two return values is
// non-nil.
func ListenServer(cfg sckcfg.Server) (net.Listener, net.PacketConn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	network := cfg.Network

	if network.IsDatagram() {
		pc, err := net.ListenPacket(network.String(), cfg.Address)
		if err != nil {
			return nil, nil, err
		}
		if network == libptc.NetworkUnixGram {
			if err = applyUnixPerm(cfg.Address, cfg); err != nil {
				_ = pc.Close()
				return nil, nil, err
			}
		}
		return nil, pc, nil
	}

	ln, err := net.Listen(network.String(), cfg.Address)
	if err != nil {
		return nil, nil, err
	}

	if network == libptc.NetworkUnix {
		if err = applyUnixPerm(cfg.Address, cfg); err != nil {
			_ = ln.Close()
			return nil, nil, err
		}
	}

	if enabled, tc := cfg.TLS.GetTLS(); enabled {
		conf := tc.TLS("")
		if conf == nil {
			_ = ln.Close()
			return nil, nil, fmt.Errorf("socket/protocol: TLS enabled but no usable certificate material")
		}
		ln = tls.NewListener(ln, conf)
	}

	return ln, nil, nil
}

// DialClient dials the transport a Client configuration names. net.Dial
// returns a fully connected net.Conn for every family this module supports,
// datagram families included, so a client never needs the demultiplexing
// machinery a shared server listener does.
func DialClient(ctx context.Context, cfg sckcfg.Client) (net.Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, cfg.Network.String(), cfg.Address)
	if err != nil {
		return nil, err
	}

	if enabled, tc, serverName := cfg.TLS.GetTLS(); enabled {
		conf := tc.TLS(serverName)
		if conf == nil {
			_ = conn.Close()
			return nil, fmt.Errorf("socket/protocol: TLS enabled but no usable certificate material")
		}
		tlsConn := tls.Client(conn, conf)
		if err = tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	return conn, nil
}

// applyUnixPerm chmods (and optionally chgrp via GroupPerm) the socket file
// the kernel just created at addr, matching the distilled specification's
// requirement that a Unix socket's file mode come from a Perm, not the
// process umask.
func applyUnixPerm(addr string, cfg sckcfg.Server) error {
	if cfg.PermFile == 0 {
		return nil
	}
	if err := os.Chmod(addr, cfg.PermFile.FileMode()); err != nil {
		return err
	}
	if cfg.GroupPerm >= 0 {
		if err := os.Chown(addr, -1, int(cfg.GroupPerm)); err != nil {
			return err
		}
	}
	return nil
}

// starter is implemented by an Action/Preaction/Requester that needs to do
// work before it can accept its first Message, e.g. dialing out to a
// downstream system. Factory.Start type-asserts for it the same way
// adaptor.ErrorResponder is type-asserted: it is an optional capability, not
// part of the Action/Requester interface itself.
type starter interface {
	Start(ctx context.Context) error
}

// stoppable is implemented by an Action/Preaction/Requester that owns a
// resource Factory.Close must release, e.g. socket/action/filestore's
// BufferedFileStorage.
type stoppable interface {
	Close() error
}

// FactoryOptions configures a Protocol Factory: one receiver endpoint's
// listen/transport configuration, its codec, exactly one of Action or
// Requester, and the Connections Manager it reports every built Connection
// to.
type FactoryOptions struct {
	// FullName is this endpoint's identity: the Connections Manager parent
	// key every Connection this Factory builds is registered under, and the
	// value Factory.IsOwner compares a Connection's ParentName against.
	FullName string
	// PeerPrefix is the transport tag used when building each peer's unique
	// name ("{peer_prefix}_{own}_{peer}", see socket.PeerName) — distinct
	// from FullName, which identifies the endpoint rather than the peer.
	// Defaults to Config.Network's string form when empty.
	PeerPrefix string
	Config     sckcfg.Server

	// CodecFactory builds a fresh Codec for each new peer; stateful codecs
	// must never be shared across connections.
	CodecFactory codec.Factory

	// Exactly one of Action or Requester must be set: Action builds a
	// receiver-side Connection (adaptor.Receiver), Requester a sender-side
	// one (adaptor.Sender). Preaction, when set alongside Action, runs
	// fire-and-forget ahead of Action.OnMessage on every Message, mirroring
	// the recording preaction socket/action/recorder implements.
	Action    adaptor.Action
	Preaction adaptor.Action
	Requester adaptor.Requester

	Manager *connmgr.Manager
	Logger  logging.Logger

	BufferSize     int
	PauseThreshold int
	AllowedSenders []string
	Aliases        map[string]string
	OnInfo         libsck.FuncInfo
	OnError        libsck.FuncError
}

// preactionAction composes a fire-and-forget Preaction ahead of the main
// Action, the same wrapping socket/action/recorder.Recorder does explicitly
// for its one caller, generalized here so any Preaction/Action pair can be
// wired into a Factory.
type preactionAction struct {
	pre  adaptor.Action
	main adaptor.Action
}

func (c *preactionAction) OnConnect(ctx codec.Context) error {
	_ = c.pre.OnConnect(ctx)
	return c.main.OnConnect(ctx)
}

func (c *preactionAction) OnMessage(ctx context.Context, msg codec.Message) error {
	go func() { _ = c.pre.OnMessage(ctx, msg) }()
	return c.main.OnMessage(ctx, msg)
}

func (c *preactionAction) OnDisconnect(ctx codec.Context, cause error) {
	c.pre.OnDisconnect(ctx, cause)
	c.main.OnDisconnect(ctx, cause)
}

// Factory is the Protocol Factory: it owns a listener or shared packet
// transport, builds a Connection per peer wired to this endpoint's Action or
// Requester, and tracks every Connection it builds through a connmgr.Manager
// keyed by FullName.
type Factory struct {
	opt    FactoryOptions
	action adaptor.Action
	mgr    *connmgr.Manager

	mu      sync.Mutex
	started bool
	closed  bool
	ln      net.Listener
	pc      net.PacketConn

	demux *transport.Demux

	peersMu sync.Mutex
	peers   map[string]*connection.Datagram
}

// NewFactory validates opt and returns a Factory ready for Start; it opens no
// socket and starts no goroutine.
func NewFactory(opt FactoryOptions) (*Factory, error) {
	if opt.FullName == "" {
		return nil, fmt.Errorf("socket/protocol: FullName is required")
	}
	if opt.CodecFactory == nil {
		return nil, fmt.Errorf("socket/protocol: CodecFactory is required")
	}
	if (opt.Action == nil) == (opt.Requester == nil) {
		return nil, fmt.Errorf("socket/protocol: exactly one of Action or Requester is required")
	}
	if opt.Preaction != nil && opt.Action == nil {
		return nil, fmt.Errorf("socket/protocol: Preaction requires Action")
	}
	if err := opt.Config.Validate(); err != nil {
		return nil, err
	}
	if opt.PeerPrefix == "" {
		opt.PeerPrefix = opt.Config.Network.String()
	}

	mgr := opt.Manager
	if mgr == nil {
		mgr = connmgr.New()
	}

	action := opt.Action
	if action != nil && opt.Preaction != nil {
		action = &preactionAction{pre: opt.Preaction, main: action}
	}

	return &Factory{
		opt:    opt,
		action: action,
		mgr:    mgr,
		peers:  make(map[string]*connection.Datagram),
	}, nil
}

// Manager returns the Connections Manager every Connection this Factory
// builds is registered with.
func (f *Factory) Manager() *connmgr.Manager { return f.mgr }

// ListenAddr returns the address of the transport Start opened (listener or
// shared packet connection), or "" before Start or after Close.
func (f *Factory) ListenAddr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ln != nil {
		return f.ln.Addr().String()
	}
	if f.pc != nil {
		return f.pc.LocalAddr().String()
	}
	return ""
}

// components lists the original (unwrapped) Action/Preaction/Requester, for
// the lifecycle hooks Start and Close that must reach every one of them
// individually rather than through preactionAction's composition.
func (f *Factory) components() []any {
	out := make([]any, 0, 3)
	if f.opt.Action != nil {
		out = append(out, f.opt.Action)
	}
	if f.opt.Preaction != nil {
		out = append(out, f.opt.Preaction)
	}
	if f.opt.Requester != nil {
		out = append(out, f.opt.Requester)
	}
	return out
}

// Start starts every component that implements starter, concurrently, then
// opens the configured transport and begins accepting/demultiplexing peers.
// Calling Start twice returns socket.ErrAlreadyInState.
func (f *Factory) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return libsck.ErrAlreadyInState.Error()
	}
	f.started = true
	f.mu.Unlock()

	comps := f.components()
	errs := make([]error, len(comps))
	var wg sync.WaitGroup
	for i, c := range comps {
		s, ok := c.(starter)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(i int, s starter) {
			defer wg.Done()
			errs[i] = s.Start(ctx)
		}(i, s)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	ln, pc, err := ListenServer(f.opt.Config)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.ln, f.pc = ln, pc
	f.mu.Unlock()

	if pc != nil {
		f.demux = transport.NewDemux()
		go f.acceptDatagrams(pc)
	} else {
		go f.acceptStreams(ln)
	}
	return nil
}

// newFeeder builds the adaptor (Receiver or Sender, whichever this Factory is
// configured with) wrapping w, the connection's write-back capability.
func (f *Factory) newFeeder(w adaptor.Writer) feeder {
	c := f.opt.CodecFactory()
	if f.action != nil {
		return adaptor.NewReceiver(c, f.action, w, f.opt.Logger)
	}
	return adaptor.NewSender(c, f.opt.Requester, w, f.opt.Logger)
}

// feeder is connection.Stream/Datagram's unexported Feeder contract; Receiver
// and Sender both implement it structurally, so naming it again here (rather
// than importing the unexported type) is enough to build one and hand it to
// connection.StreamOptions.Feeder/DatagramOptions.Feeder.
type feeder interface {
	Feed(ctx context.Context, ctxMap codec.Context, data []byte) error
	Connect(ctx codec.Context) error
	Disconnect(ctx codec.Context, cause error)
}

// acceptStreams runs the accept loop for a stream-family listener, one Serve
// goroutine per accepted connection, until ln is closed.
func (f *Factory) acceptStreams(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go f.serveStream(conn)
	}
}

// serveStream is the stream-family __call__: it builds a fresh Connection
// around an accepted net.Conn, with its own copy of the per-connection
// Context, and blocks running its Serve loop until the peer disconnects.
func (f *Factory) serveStream(conn net.Conn) {
	ctx := libctx.New[string](context.Background())
	name := libsck.PeerName(f.opt.PeerPrefix, conn.LocalAddr().String(), conn.RemoteAddr().String())

	stream := connection.NewStream(connection.StreamOptions{
		Name:           name,
		ParentName:     f.opt.FullName,
		Conn:           conn,
		Context:        ctx,
		Feeder:         f.newFeeder(conn),
		Manager:        f.mgr,
		Logger:         f.opt.Logger,
		BufferSize:     f.opt.BufferSize,
		OnInfo:         f.opt.OnInfo,
		OnError:        f.opt.OnError,
		AllowedSenders: f.opt.AllowedSenders,
		Aliases:        f.opt.Aliases,
		IsServer:       true,
		PauseThreshold: f.opt.PauseThreshold,
	})
	_ = stream.Serve()
}

// acceptDatagrams is the Datagram factory's shared read loop: one goroutine
// reads every datagram off the shared net.PacketConn and demultiplexes it by
// source address, the Go expression of datagram_received(data, addr).
func (f *Factory) acceptDatagrams(pc net.PacketConn) {
	buf := make([]byte, f.bufSize())
	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			f.onTransportLost(err)
			return
		}
		data := append([]byte(nil), buf[:n]...)

		if deliver, ok := f.demux.Lookup(addr); ok {
			deliver(data)
			continue
		}
		f.newDatagramPeer(pc, addr, data)
	}
}

func (f *Factory) bufSize() int {
	if f.opt.BufferSize > 0 {
		return f.opt.BufferSize
	}
	return libsck.DefaultBufferSize
}

// newDatagramPeer is the datagram factory's __call__: synthesize a peer name,
// wrap the shared transport in a per-peer writer fixed to addr, build the
// Connection, register it with the Demux, then deliver the datagram that
// brought it into being.
func (f *Factory) newDatagramPeer(pc net.PacketConn, addr net.Addr, first []byte) {
	w := transport.NewPeerWriter(pc, addr)
	ctx := libctx.New[string](context.Background())
	name := libsck.PeerName(f.opt.PeerPrefix, pc.LocalAddr().String(), addr.String())

	dgram, err := connection.NewDatagram(connection.DatagramOptions{
		Name:           name,
		ParentName:     f.opt.FullName,
		Writer:         w,
		Context:        ctx,
		Feeder:         f.newFeeder(w),
		Manager:        f.mgr,
		Logger:         f.opt.Logger,
		OnInfo:         f.opt.OnInfo,
		OnError:        f.opt.OnError,
		OnClose:        func() { f.forgetDatagramPeer(addr) },
		AllowedSenders: f.opt.AllowedSenders,
		Aliases:        f.opt.Aliases,
		IsServer:       true,
	})
	if err != nil {
		return
	}

	f.demux.Register(addr, dgram.Deliver)
	f.peersMu.Lock()
	f.peers[addr.String()] = dgram
	f.peersMu.Unlock()

	dgram.Deliver(first)
}

func (f *Factory) forgetDatagramPeer(addr net.Addr) {
	f.demux.Unregister(addr)
	f.peersMu.Lock()
	delete(f.peers, addr.String())
	f.peersMu.Unlock()
}

// onTransportLost is connection_lost on the shared transport: every peer this
// Factory still owns is torn down, since none of them can be written to or
// read from anymore.
func (f *Factory) onTransportLost(cause error) {
	f.peersMu.Lock()
	peers := make([]*connection.Datagram, 0, len(f.peers))
	for _, d := range f.peers {
		peers = append(peers, d)
	}
	f.peersMu.Unlock()

	for _, d := range peers {
		_ = d.Close()
	}
	if cause != nil && libsck.ErrorFilter(cause) != nil && f.opt.OnError != nil {
		f.opt.OnError(cause)
	}
}

// IsOwner reports whether conn was built by this Factory.
func (f *Factory) IsOwner(conn connection.Connection) bool {
	return conn.ParentName() == f.opt.FullName
}

// WaitNumConnected blocks until exactly n peers are concurrently live under
// this Factory's FullName, or ctx is done.
func (f *Factory) WaitNumConnected(ctx context.Context, n int64) error {
	return f.mgr.WaitNumConnections(ctx, f.opt.FullName, n)
}

// WaitNumHasConnected blocks until at least n peers have ever connected under
// this Factory's FullName, or ctx is done.
func (f *Factory) WaitNumHasConnected(ctx context.Context, n int64) error {
	return f.mgr.WaitNumHasConnected(ctx, f.opt.FullName, n)
}

// WaitAllClosed is WaitNumConnected(ctx, 0).
func (f *Factory) WaitAllClosed(ctx context.Context) error {
	return f.WaitNumConnected(ctx, 0)
}

// Close stops accepting new peers, waits for every Connection this Factory
// owns to close on its own, closes every component that implements stoppable
// concurrently, then clears this Factory's slot in the Connections Manager's
// Counters. Calling Close twice returns socket.ErrAlreadyInState.
func (f *Factory) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return libsck.ErrAlreadyInState.Error()
	}
	f.closed = true
	ln, pc := f.ln, f.pc
	f.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}

	_ = f.mgr.WaitNumConnections(context.Background(), f.opt.FullName, 0)

	comps := f.components()
	var wg sync.WaitGroup
	for _, c := range comps {
		s, ok := c.(stoppable)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(s stoppable) {
			defer wg.Done()
			_ = s.Close()
		}(s)
	}
	wg.Wait()

	f.mgr.ClearServer(f.opt.FullName)
	return nil
}
