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

// Package socket defines the shared shape of every receiver (server) and sender
// (client) endpoint: the connection lifecycle states, the reader/writer contract
// handlers see, and the small set of registration callbacks every shell exposes.
package socket

import (
	"context"
	"net"
	"strings"
	"time"
)

// DefaultBufferSize is the read buffer size used by stream connections when the
// caller does not configure one explicitly.
const DefaultBufferSize = 32 * 1024

// EOL is the newline byte used as the line delimiter.
const EOL = '\n'

// ConnState enumerates the phases a single connection goes through, in the order
// they normally occur, for the benefit of FuncInfo observers.
type ConnState uint8

const (
	ConnectionDial ConnState = iota
	ConnectionNew
	ConnectionRead
	ConnectionCloseRead
	ConnectionHandler
	ConnectionWrite
	ConnectionCloseWrite
	ConnectionClose
)

var connStateNames = map[ConnState]string{
	ConnectionDial:       "Dial Connection",
	ConnectionNew:        "New Connection",
	ConnectionRead:       "Read Incoming Stream",
	ConnectionCloseRead:  "Close Incoming Stream",
	ConnectionHandler:    "Run HandlerFunc",
	ConnectionWrite:      "Write Outgoing Steam",
	ConnectionCloseWrite: "Close Outgoing Stream",
	ConnectionClose:      "Close Connection",
}

// String renders the state for logs; an out-of-range value renders as
// "unknown connection state" rather than panicking.
func (s ConnState) String() string {
	if n, ok := connStateNames[s]; ok {
		return n
	}
	return "unknown connection state"
}

// ErrorFilter drops the one error net.Conn reliably returns on a deliberate local
// Close: "use of closed network connection". Any error that wraps more context
// around that message (a network op, remote address, ...) is still a real error
// worth reporting, so only an exact match is filtered.
func ErrorFilter(err error) error {
	if err == nil {
		return nil
	}
	if err.Error() == "use of closed network connection" {
		return nil
	}
	return err
}

// Reader is the read half of a connection exposed to a HandlerFunc.
type Reader interface {
	Read(p []byte) (n int, err error)
}

// Writer is the write half of a connection exposed to a HandlerFunc.
type Writer interface {
	Write(p []byte) (n int, err error)
}

// Context exposes the per-connection state a HandlerFunc may need beyond raw
// bytes: liveness, addressing, and the cancellation signal driving a graceful
// shutdown.
type Context interface {
	IsConnected() bool
	RemoteHost() string
	LocalHost() string
	Done() <-chan struct{}
	Err() error
	Close() error
	Reader
	Writer
}

// HandlerFunc processes one connection for its entire lifetime. It is called
// once per connection, on its own goroutine, and returning ends the
// connection.
type HandlerFunc func(ctx Context)

// FuncError receives a non-nil, non-filtered connection or transport error.
type FuncError func(err error)

// FuncInfo receives a lifecycle state transition, with the local/remote address
// pair known at the time of the transition.
type FuncInfo func(state ConnState, local, remote net.Addr)

// UpdateConn lets a caller customize a freshly accepted/dialed net.Conn, e.g. to
// set deadlines or socket options, before it is handed to the connection state
// machine.
type UpdateConn func(conn net.Conn)

// Response reads a single reply off a client connection, invoked by Client.Once.
type Response func(r Reader)

// Server is a receiver shell: it accepts connections on one or more registered
// addresses and drives them through a HandlerFunc.
type Server interface {
	RegisterServer(address string) error
	RegisterFuncError(f FuncError)
	RegisterFuncInfo(f FuncInfo)
	RegisterFuncInfoServer(f FuncInfo)
	Listen(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Close() error
	OpenConnections() int64
	IsRunning() bool
	// Listener exposes the primary bound net.Listener (nil for datagram
	// transports, which have no listener) and the address it ended up bound
	// to, which matters when the configured address used port 0.
	Listener() (net.Listener, string, error)
}

// Client is a sender shell: it dials a single remote address and exchanges data
// through the returned connection.
type Client interface {
	RegisterFuncError(f FuncError)
	Connect(ctx context.Context) error
	Close() error
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Once(ctx context.Context, request []byte, response Response) error
}

// peerPrefix returns the lowercased protocol name that starts every
// Connections Manager key built by PeerName and ParentName.
func peerPrefix(protocolName string) string {
	return strings.ToLower(protocolName)
}

// PeerName builds the canonical Connections Manager key for a connection.
func PeerName(protocolName, own, peer string) string {
	return peerPrefix(protocolName) + "_" + own + "_" + peer
}

// ParentName builds the canonical Connections Manager key for the endpoint
// (listener or client) that owns a connection — the axis the Connections
// Manager's Counters are keyed by, distinct from any one peer's own name.
func ParentName(protocolName, own string) string {
	return peerPrefix(protocolName) + "_" + own
}

// now returns the current time; it is unexported, so only this package can
// call it.
func now() time.Time { return time.Now() }
