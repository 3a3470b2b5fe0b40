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

// Package connmgr implements the process-wide Connections Manager: it tracks
// every live peer connection by its unique peer name, rejects duplicates, and
// gates per-endpoint ("parent") and global connection counts through
// socket/counters. The registry axis (unique peer name) and the Counters axis
// (parent/endpoint name) are deliberately distinct: many peers can share one
// parent, so a per-peer counter would always read 1.
package connmgr

import (
	"context"
	"sync"

	liberr "github.com/sabouaram/endpoint/errors"
	libpool "github.com/sabouaram/endpoint/errors/pool"
	libsck "github.com/sabouaram/endpoint/socket"
	"github.com/sabouaram/endpoint/socket/counters"
)

// Peer is anything the manager can track the lifetime of; Connection (in
// socket/connection) implements it. ParentName identifies the endpoint
// (listener or client) that owns this peer, not the peer itself — it is the
// axis the Manager's Counters are keyed by.
type Peer interface {
	Name() string
	ParentName() string
	Close() error
}

// Manager tracks live connections by peer name and exposes the Counters used
// to gate per-endpoint/global concurrency.
//
// A Manager is an explicit value rather than a package-level singleton: each
// Receiver/Sender shell is constructed with one (or constructs its own default),
// which keeps tests hermetic and lets a single process host more than one
// independent endpoint.
type Manager struct {
	mu    sync.RWMutex
	peers map[string]Peer

	Counters *counters.Store
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		peers:    make(map[string]Peer),
		Counters: counters.New(),
	}
}

// Add registers a new peer connection under its Name(). A peer already
// registered under that name returns ErrDuplicatePeer and does not replace the
// existing entry. When a bound set on the ParentName counter (SetMax or
// SetMaxIncrements) is reached, Add returns ErrCounterBounds and does not
// register the peer. On success, the peer's ParentName counter (current
// concurrent count, and the running total ever connected) and the manager-wide
// total are all incremented.
func (m *Manager) Add(p Peer) liberr.Error {
	m.mu.Lock()
	name := p.Name()
	if _, ok := m.peers[name]; ok {
		m.mu.Unlock()
		return libsck.ErrDuplicatePeer.Error()
	}
	if err := m.Counters.Increment(p.ParentName()); err != nil {
		m.mu.Unlock()
		return err
	}
	m.peers[name] = p
	m.mu.Unlock()

	_ = m.Counters.Increment(totalKey)

	return nil
}

// Remove deregisters a peer from the registry, so Get/iteration stop seeing
// it immediately. Unlike the old combined Remove, it does not touch the
// parent's connection counter: that counter is only released once the
// connection's adaptor has actually finished draining, via Decrement. This
// split matters for wait_num_connections — a connection mid-teardown must
// stop being "live" for lookup purposes before its slot is actually freed.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, name)
}

// Decrement releases one connection's slot in parent's Counters. Call it once
// teardown has finished draining the connection's adaptor — never before, or
// num_connections(parent) would undercount while the old connection is still
// doing work.
func (m *Manager) Decrement(parent string) liberr.Error {
	err := m.Counters.Decrement(parent)
	_ = m.Counters.Decrement(totalKey)
	return err
}

// Get returns the peer registered under name, if any.
func (m *Manager) Get(name string) (Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[name]
	return p, ok
}

// Len returns the number of currently tracked peers.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// NumConnections returns how many peers are currently live under parent.
func (m *Manager) NumConnections(parent string) int64 {
	return m.Counters.Value(parent)
}

// WaitNumConnections blocks until exactly n peers are concurrently live under
// parent, or ctx is done.
func (m *Manager) WaitNumConnections(ctx context.Context, parent string, n int64) error {
	return m.Counters.WaitFor(ctx, parent, n)
}

// WaitNumHasConnected blocks until at least n peers have ever connected under
// parent (a running total that Decrement never lowers), or ctx is done.
func (m *Manager) WaitNumHasConnected(ctx context.Context, parent string, n int64) error {
	return m.Counters.WaitForTotalIncrements(ctx, parent, n)
}

// TrackMessage records that parent has handed one more Message to its
// Action/Requester for processing, pending a call to MessageProcessed.
func (m *Manager) TrackMessage(parent string) {
	_ = m.Counters.Increment(pendingKey(parent))
}

// MessageProcessed records that one Message previously tracked for parent has
// reached Message.Processed() exactly once.
func (m *Manager) MessageProcessed(parent string) {
	_ = m.Counters.Decrement(pendingKey(parent))
}

// WaitAllMessagesProcessed blocks until every Message handed to parent's
// Action/Requester has been processed, or ctx is done.
func (m *Manager) WaitAllMessagesProcessed(ctx context.Context, parent string) error {
	return m.Counters.WaitFor(ctx, pendingKey(parent), 0)
}

// ClearServer discards every Counters slot owned by parent (current count,
// total-ever-connected, and pending-messages). Call it once an endpoint is
// fully shut down and nothing will ever wait on its counters again.
func (m *Manager) ClearServer(parent string) {
	m.Counters.Reset(parent)
	m.Counters.Reset(pendingKey(parent))
}

// CloseAll removes every tracked peer from the registry and closes it; the
// parent counter slot is released by the peer's own Close, which for every
// connection type in this module calls Decrement once its teardown is done.
// Close errors from different peers are
// independent failures, so they are collected into a single Pool rather than
// discarding all but the first.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	peers := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.peers = make(map[string]Peer)
	m.mu.Unlock()

	errs := libpool.New()
	for _, p := range peers {
		errs.Add(p.Close())
	}
	return errs.Error()
}

// WaitForEmpty blocks until no peers remain tracked, or ctx is done. Used during
// graceful shutdown to wait for in-flight connections to drain.
func (m *Manager) WaitForEmpty(ctx context.Context) error {
	return m.Counters.WaitFor(ctx, totalKey, 0)
}

// totalKey is the counters.Store name used for the manager-wide connection
// count, distinct from any parent name since parent names always carry a
// protocol prefix (see socket.ParentName).
const totalKey = "\x00total"

// pendingKey names the counters.Store slot tracking parent's messages that
// have been handed to its Action/Requester but not yet Processed().
func pendingKey(parent string) string {
	return parent + "\x00pending"
}
