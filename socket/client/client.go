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

// Package client implements the sender shell: a socket.Client built from a
// validated socket/config.Client, dialing its single peer on Connect and
// registering that peer with a Connections Manager for the connection's
// lifetime the same way the receiver shell does.
package client

import (
	"context"
	"fmt"
	"sync"

	libsck "github.com/sabouaram/endpoint/socket"
	sckcfg "github.com/sabouaram/endpoint/socket/config"
	"github.com/sabouaram/endpoint/socket/connmgr"
	sckptc "github.com/sabouaram/endpoint/socket/protocol"
)

type client struct {
	cfg sckcfg.Client
	hdl libsck.HandlerFunc

	onError libsck.FuncError
	mgr     *connmgr.Manager

	mu   sync.Mutex
	ctx  *connCtx
	name string
}

// New validates cfg and returns a Client that has not dialed yet; Connect does
// that. handler, when non-nil, is run on its own goroutine once Connect
// succeeds, for callers that want to process unsolicited incoming data the
// way a Server's HandlerFunc does.
func New(cfg sckcfg.Client, handler libsck.HandlerFunc) (libsck.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &client{cfg: cfg, hdl: handler, mgr: connmgr.New()}, nil
}

func (c *client) RegisterFuncError(f libsck.FuncError) { c.onError = f }

// Connect dials the configured peer and, if a handler was registered, starts
// it on a background goroutine.
func (c *client) Connect(ctx context.Context) error {
	conn, err := sckptc.DialClient(ctx, c.cfg)
	if err != nil {
		return err
	}

	own := conn.LocalAddr().String()
	parent := libsck.ParentName(c.cfg.Network.String(), own)
	name := libsck.PeerName(c.cfg.Network.String(), own, conn.RemoteAddr().String())
	cc := newConnContext(conn, c.mgr, parent, name, nil)

	c.mu.Lock()
	c.ctx = cc
	c.name = name
	c.mu.Unlock()

	if c.hdl != nil {
		go c.hdl(cc)
	}
	return nil
}

func (c *client) current() (*connCtx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return nil, fmt.Errorf("socket/client: not connected")
	}
	return c.ctx, nil
}

func (c *client) Write(p []byte) (int, error) {
	cc, err := c.current()
	if err != nil {
		return 0, err
	}
	return cc.Write(p)
}

func (c *client) Read(p []byte) (int, error) {
	cc, err := c.current()
	if err != nil {
		return 0, err
	}
	return cc.Read(p)
}

// Once writes request and hands the connection's Reader half to response for a
// single synchronous round trip.
func (c *client) Once(ctx context.Context, request []byte, response libsck.Response) error {
	cc, err := c.current()
	if err != nil {
		return err
	}
	if _, err = cc.Write(request); err != nil {
		return err
	}
	if response != nil {
		response(cc)
	}
	return nil
}

func (c *client) Close() error {
	c.mu.Lock()
	cc := c.ctx
	c.mu.Unlock()
	if cc == nil {
		return nil
	}
	return cc.Close()
}
