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

// Package transport provides the per-peer datagram writer: a UDP or unixgram
// listener is a single shared net.PacketConn, but each peer's Connection needs
// something that looks like a plain net.Conn (a bare Write sends to "the"
// remote address). PeerWriter is that adapter.
package transport

import (
	"net"
	"sync"
)

// PeerWriter makes one demultiplexed datagram peer look like a connected
// net.Conn to the rest of the Connection state machine: Write always targets
// the same remote address, over a net.PacketConn shared with every other peer
// on the same listener.
type PeerWriter struct {
	mu     sync.Mutex
	packet net.PacketConn
	remote net.Addr
	local  net.Addr
}

// NewPeerWriter wraps a shared listener and a single peer address.
func NewPeerWriter(packet net.PacketConn, remote net.Addr) *PeerWriter {
	return &PeerWriter{packet: packet, remote: remote, local: packet.LocalAddr()}
}

// Write sends p as a single datagram to this peer's remote address. Datagram
// transports have no partial writes: either the whole packet is accepted by the
// kernel or an error is returned.
func (p *PeerWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.packet.WriteTo(b, p.remote)
}

// RemoteAddr returns the peer's address.
func (p *PeerWriter) RemoteAddr() net.Addr { return p.remote }

// LocalAddr returns the shared listener's local address.
func (p *PeerWriter) LocalAddr() net.Addr { return p.local }

// Demux dispatches datagrams read off a shared net.PacketConn to the
// per-peer callback registered for their source address; it creates nothing
// itself, so the caller registers a new peer when Lookup misses. It is the Go
// expression of the distilled specification's UDP "accept-on-first-datagram"
// demultiplexing rule (see socket/protocol).
type Demux struct {
	mu    sync.Mutex
	peers map[string]func([]byte)
}

// NewDemux returns an empty Demux.
func NewDemux() *Demux {
	return &Demux{peers: make(map[string]func([]byte))}
}

// Register associates a peer address with the callback that should receive its
// datagrams. Re-registering the same address replaces the previous callback.
func (d *Demux) Register(addr net.Addr, deliver func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[addr.String()] = deliver
}

// Unregister removes a peer address, e.g. once its Connection has closed.
func (d *Demux) Unregister(addr net.Addr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, addr.String())
}

// Lookup returns the callback registered for addr, if any.
func (d *Demux) Lookup(addr net.Addr) (func([]byte), bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.peers[addr.String()]
	return f, ok
}
