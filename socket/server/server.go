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

// Package server implements the receiver shell: a socket.Server built from a
// validated socket/config.Server, driving every accepted (or demultiplexed)
// peer through a caller-supplied socket.HandlerFunc, with the Connections
// Manager and lifecycle Waiter from the rest of this module wired in for
// bookkeeping.
package server

import (
	"context"
	"net"
	"sync"

	libsck "github.com/sabouaram/endpoint/socket"
	sckcfg "github.com/sabouaram/endpoint/socket/config"
	"github.com/sabouaram/endpoint/socket/connmgr"
	"github.com/sabouaram/endpoint/socket/lifecycle"
	sckptc "github.com/sabouaram/endpoint/socket/protocol"
	"github.com/sabouaram/endpoint/socket/transport"
)

type server struct {
	mu  sync.Mutex
	cfg sckcfg.Server
	upd libsck.UpdateConn
	hdl libsck.HandlerFunc

	onError      libsck.FuncError
	onInfo       libsck.FuncInfo
	onInfoServer libsck.FuncInfo

	extraAddrs []string

	waiter *lifecycle.Waiter
	mgr    *connmgr.Manager

	listeners []net.Listener
	packets   []net.PacketConn
	primary   net.Listener
	primAddr  string

	cancel context.CancelFunc
}

// New builds a Server from a validated configuration. It does not bind any
// socket yet; Listen does that. upd, when non-nil, is invoked on every
// accepted net.Conn before the handler runs, e.g. to set deadlines.
func New(upd libsck.UpdateConn, handler libsck.HandlerFunc, cfg sckcfg.Server) (libsck.Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &server{
		cfg:    cfg,
		upd:    upd,
		hdl:    handler,
		waiter: lifecycle.New(),
		mgr:    connmgr.New(),
	}, nil
}

func (s *server) RegisterServer(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraAddrs = append(s.extraAddrs, address)
	return nil
}

func (s *server) RegisterFuncError(f libsck.FuncError)       { s.onError = f }
func (s *server) RegisterFuncInfo(f libsck.FuncInfo)         { s.onInfo = f }
func (s *server) RegisterFuncInfoServer(f libsck.FuncInfo)   { s.onInfoServer = f }

func (s *server) report(state libsck.ConnState, local, remote net.Addr) {
	if s.onInfo != nil {
		s.onInfo(state, local, remote)
	}
}

func (s *server) fail(err error) {
	if err == nil {
		return
	}
	if filtered := libsck.ErrorFilter(err); filtered != nil && s.onError != nil {
		s.onError(filtered)
	}
}

// Listen binds every registered address and serves until ctx is canceled or
// Shutdown/Close is called.
func (s *server) Listen(ctx context.Context) error {
	if err := s.waiter.Enter(lifecycle.Starting); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	addrs := append([]string{s.cfg.Address}, s.extraAddrs...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(addrs))

	for i, addr := range addrs {
		cfg := s.cfg
		cfg.Address = addr
		ln, pc, err := sckptc.ListenServer(cfg)
		if err != nil {
			cancel()
			_ = s.waiter.Enter(lifecycle.Stopped)
			return err
		}

		s.mu.Lock()
		if i == 0 {
			s.primary = ln
			if ln != nil {
				s.primAddr = ln.Addr().String()
			} else if pc != nil {
				s.primAddr = pc.LocalAddr().String()
			}
		}
		if ln != nil {
			s.listeners = append(s.listeners, ln)
		}
		if pc != nil {
			s.packets = append(s.packets, pc)
		}
		s.mu.Unlock()

		wg.Add(1)
		go func(ln net.Listener, pc net.PacketConn) {
			defer wg.Done()
			var err error
			if ln != nil {
				err = s.serveStream(runCtx, ln)
			} else {
				err = s.serveDatagram(runCtx, pc)
			}
			if err != nil {
				errs <- err
			}
		}(ln, pc)
	}

	_ = s.waiter.Enter(lifecycle.Started)

	wg.Wait()
	_ = s.waiter.Enter(lifecycle.Stopped)

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func (s *server) serveStream(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.fail(err)
			return nil
		}

		if s.upd != nil {
			s.upd(conn)
		}

		own := conn.LocalAddr().String()
		parent := libsck.ParentName(s.cfg.Network.String(), own)
		name := libsck.PeerName(s.cfg.Network.String(), own, conn.RemoteAddr().String())
		cc := newConnContext(conn, s.mgr, parent, name, s.onInfo)

		go func() {
			defer cc.Close()
			s.hdl(cc)
		}()
	}
}

func (s *server) serveDatagram(ctx context.Context, pc net.PacketConn) error {
	demux := transport.NewDemux()
	buf := make([]byte, libsck.DefaultBufferSize)

	for {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.fail(err)
			return nil
		}
		if n == 0 {
			continue
		}
		payload := append([]byte(nil), buf[:n]...)

		deliver, ok := demux.Lookup(addr)
		if !ok {
			writer := transport.NewPeerWriter(pc, addr)
			own := pc.LocalAddr().String()
			parent := libsck.ParentName(s.cfg.Network.String(), own)
			name := libsck.PeerName(s.cfg.Network.String(), own, addr.String())
			dc := newDatagramContext(writer, s.mgr, parent, name, s.onInfo, func() { demux.Unregister(addr) })
			demux.Register(addr, dc.push)
			deliver = dc.push

			go func() {
				defer dc.Close()
				s.hdl(dc)
			}()
		}
		deliver(payload)
	}
}

// Shutdown stops accepting new peers and waits (bounded by ctx) for every
// open connection's Connections Manager entry to drain.
func (s *server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.closeListeners()
	return s.mgr.WaitForEmpty(ctx)
}

// Close stops the server immediately without waiting for peers to drain.
func (s *server) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.closeListeners()
	return s.mgr.CloseAll()
}

func (s *server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	for _, pc := range s.packets {
		_ = pc.Close()
	}
}

func (s *server) OpenConnections() int64 { return int64(s.mgr.Len()) }

func (s *server) IsRunning() bool { return s.waiter.IsRunning() }

func (s *server) Listener() (net.Listener, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.primary, s.primAddr, nil
}
