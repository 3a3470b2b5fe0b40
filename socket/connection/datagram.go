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

package connection

import (
	"context"
	"net"
	"sync"

	"github.com/sabouaram/endpoint/logging"
	libsck "github.com/sabouaram/endpoint/socket"
	"github.com/sabouaram/endpoint/socket/codec"
	"github.com/sabouaram/endpoint/socket/connmgr"
	"github.com/sabouaram/endpoint/socket/transport"
)

// Datagram is a Connection representing one peer demultiplexed out of a shared
// UDP or unixgram listener. Unlike Stream it owns no read loop of its own: the
// listener's single read-loop goroutine calls Deliver for every datagram it
// receives from this peer's address.
type Datagram struct {
	name       string
	parentName string
	writer     *transport.PeerWriter
	ctx        codec.Context
	feed       feeder
	mgr        *connmgr.Manager
	log        logging.Logger

	onInfo  libsck.FuncInfo
	onError libsck.FuncError

	allowedSenders []string
	aliases        map[string]string
	isServer       bool

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	rootCtx    context.Context
	cancelRoot context.CancelFunc

	onClose func()
}

// DatagramOptions configures a new Datagram connection.
type DatagramOptions struct {
	Name    string
	// ParentName identifies the listener that owns this peer in the
	// Connections Manager; defaults to Name when empty.
	ParentName string
	Writer     *transport.PeerWriter
	Context    codec.Context
	Feeder     feeder
	Manager    *connmgr.Manager
	Logger     logging.Logger
	OnInfo     libsck.FuncInfo
	OnError    libsck.FuncError
	// OnClose is invoked after teardown, typically to Unregister the peer from
	// the listener's Demux.
	OnClose func()

	// AllowedSenders restricts which peers may be admitted: each entry is
	// either an exact host or a CIDR block. A nil/empty list allows every peer.
	AllowedSenders []string
	// Aliases maps a peer host to a human-readable name stored in the
	// connection's Context under the "alias" key.
	Aliases map[string]string
	// IsServer marks this Datagram as the listening side of the exchange.
	IsServer bool
}

// NewDatagram constructs a Datagram connection and, unlike Stream, immediately
// registers it with the Connections Manager and runs Connect — there is no
// separate Serve loop to own, since the shared listener drives delivery.
func NewDatagram(opt DatagramOptions) (*Datagram, error) {
	parent := opt.ParentName
	if parent == "" {
		parent = opt.Name
	}
	rootCtx, cancel := context.WithCancel(context.Background())
	d := &Datagram{
		name:           opt.Name,
		parentName:     parent,
		writer:         opt.Writer,
		ctx:            opt.Context,
		feed:           opt.Feeder,
		mgr:            opt.Manager,
		log:            opt.Logger,
		onInfo:         opt.OnInfo,
		onError:        opt.OnError,
		onClose:        opt.OnClose,
		allowedSenders: opt.AllowedSenders,
		aliases:        opt.Aliases,
		isServer:       opt.IsServer,
		done:           make(chan struct{}),
		rootCtx:        rootCtx,
		cancelRoot:     cancel,
	}

	d.info(libsck.ConnectionNew)

	if err := d.authorize(); err != nil {
		if d.onError != nil {
			d.onError(err)
		}
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		cancel()
		close(d.done)
		return nil, err
	}

	d.buildContext()

	if d.mgr != nil {
		if err := d.mgr.Add(peer{stream: nil, datagram: d}); err != nil {
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			cancel()
			close(d.done)
			return nil, err
		}
	}

	if err := d.feed.Connect(d.ctx); err != nil {
		d.teardown(err)
		return nil, err
	}

	return d, nil
}

// authorize rejects a peer whose remote address matches none of
// AllowedSenders, when that list is non-empty.
func (d *Datagram) authorize() error {
	if len(d.allowedSenders) == 0 {
		return nil
	}
	host := addrHost(d.writer.RemoteAddr())
	if senderAllowed(host, d.allowedSenders) {
		return nil
	}
	if d.log != nil {
		d.log.Warn("rejecting unauthorized peer", "peer", d.writer.RemoteAddr().String())
	}
	return libsck.ErrUnauthorizedPeer.Error()
}

// buildContext fills ctx with the peer addressing keys the codec/Action read;
// there is no fd/handle branch: an address that splits into host and port is
// stored as host/port, any other (e.g. a unixgram path) as addr.
func (d *Datagram) buildContext() {
	if d.ctx == nil {
		return
	}

	local := d.LocalAddr()
	remote := d.RemoteAddr()

	d.ctx.Store("own", local.String())
	d.ctx.Store("peer", remote.String())
	if d.isServer {
		d.ctx.Store("server", local.String())
	} else {
		d.ctx.Store("client", local.String())
	}

	host, port, err := net.SplitHostPort(remote.String())
	if err != nil {
		d.ctx.Store("addr", remote.String())
		host = remote.String()
	} else {
		d.ctx.Store("host", host)
		d.ctx.Store("port", port)
	}
	if alias, ok := d.aliases[host]; ok {
		d.ctx.Store("alias", alias)
	}
}

func (d *Datagram) Name() string           { return d.name }
func (d *Datagram) ParentName() string     { return d.parentName }
func (d *Datagram) Context() codec.Context { return d.ctx }
func (d *Datagram) RemoteAddr() net.Addr   { return d.writer.RemoteAddr() }
func (d *Datagram) LocalAddr() net.Addr    { return d.writer.LocalAddr() }
func (d *Datagram) Done() <-chan struct{}  { return d.done }

func (d *Datagram) IsConnected() bool {
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

func (d *Datagram) info(state libsck.ConnState) {
	if d.onInfo != nil {
		d.onInfo(state, d.LocalAddr(), d.RemoteAddr())
	}
}

// Deliver hands one datagram payload to this peer's adaptor. It is called by
// the listener's shared read-loop goroutine, never concurrently for the same
// peer (the listener serializes delivery per source address).
func (d *Datagram) Deliver(data []byte) {
	d.info(libsck.ConnectionRead)
	if err := d.feed.Feed(d.rootCtx, d.ctx, data); err != nil && d.onError != nil {
		d.onError(err)
	}
}

// Write sends a datagram back to this peer.
func (d *Datagram) Write(p []byte) (int, error) {
	d.info(libsck.ConnectionWrite)
	return d.writer.Write(p)
}

func (d *Datagram) teardown(cause error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.feed.Disconnect(d.ctx, cause)
	if d.mgr != nil {
		d.mgr.Remove(d.name)
		_ = d.mgr.Decrement(d.parentName)
	}
	if d.onClose != nil {
		d.onClose()
	}
	d.info(libsck.ConnectionClose)
	close(d.done)
}

// Close tears down the peer's bookkeeping; it never closes the shared listener.
func (d *Datagram) Close() error {
	d.cancelRoot()
	d.teardown(nil)
	return nil
}

// peer adapts either connection kind to connmgr.Peer.
type peer struct {
	stream   *Stream
	datagram *Datagram
}

func (p peer) Name() string {
	if p.stream != nil {
		return p.stream.Name()
	}
	return p.datagram.Name()
}

func (p peer) ParentName() string {
	if p.stream != nil {
		return p.stream.ParentName()
	}
	return p.datagram.ParentName()
}

func (p peer) Close() error {
	if p.stream != nil {
		return p.stream.Close()
	}
	return p.datagram.Close()
}
