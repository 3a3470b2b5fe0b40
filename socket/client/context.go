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

package client

import (
	"net"
	"sync"

	libsck "github.com/sabouaram/endpoint/socket"
	"github.com/sabouaram/endpoint/socket/connmgr"
)

// connCtx adapts the client's single dialed net.Conn to socket.Context,
// registering itself with the Connections Manager for the connection's
// lifetime the same way the receiver shell's per-peer context does.
type connCtx struct {
	conn   net.Conn
	mgr    *connmgr.Manager
	name   string
	parent string
	onInfo libsck.FuncInfo

	mu      sync.Mutex
	closed  bool
	lastErr error
	done    chan struct{}
}

func newConnContext(conn net.Conn, mgr *connmgr.Manager, parent, name string, onInfo libsck.FuncInfo) *connCtx {
	c := &connCtx{conn: conn, mgr: mgr, name: name, parent: parent, onInfo: onInfo, done: make(chan struct{})}
	c.report(libsck.ConnectionNew)
	_ = mgr.Add(connPeer{c})
	return c
}

func (c *connCtx) report(state libsck.ConnState) {
	if c.onInfo != nil {
		c.onInfo(state, c.conn.LocalAddr(), c.conn.RemoteAddr())
	}
}

func (c *connCtx) Read(p []byte) (int, error) {
	c.report(libsck.ConnectionRead)
	n, err := c.conn.Read(p)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
	}
	return n, err
}

func (c *connCtx) Write(p []byte) (int, error) {
	c.report(libsck.ConnectionWrite)
	return c.conn.Write(p)
}

func (c *connCtx) IsConnected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *connCtx) RemoteHost() string    { return c.conn.RemoteAddr().String() }
func (c *connCtx) LocalHost() string     { return c.conn.LocalAddr().String() }
func (c *connCtx) Done() <-chan struct{} { return c.done }

func (c *connCtx) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *connCtx) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.conn.Close()
	c.mgr.Remove(c.name)
	_ = c.mgr.Decrement(c.parent)
	c.report(libsck.ConnectionClose)
	close(c.done)
	return err
}

type connPeer struct{ c *connCtx }

func (p connPeer) Name() string       { return p.c.name }
func (p connPeer) ParentName() string { return p.c.parent }
func (p connPeer) Close() error       { return p.c.Close() }
