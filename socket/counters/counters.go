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

// Package counters implements named, bounded counters that can be awaited: a
// goroutine can block until a counter reaches a specific value, or until it has
// been incremented a certain number of times in total, without polling. The
// Connections Manager (socket/connmgr) builds its per-name connection counts on
// top of this package.
package counters

import (
	"context"
	"sync"

	liberr "github.com/sabouaram/endpoint/errors"
	libsck "github.com/sabouaram/endpoint/socket"
)

// counter is one named counter: its current value, how many times it has ever
// been incremented, and the waiters blocked on either of those numbers.
type counter struct {
	mu  sync.Mutex
	num int64
	inc int64

	max    *int64
	maxInc *int64

	waitNum map[int64][]chan struct{}
	waitInc map[int64][]chan struct{}
}

func newCounter() *counter {
	return &counter{
		waitNum: make(map[int64][]chan struct{}),
		waitInc: make(map[int64][]chan struct{}),
	}
}

// wakeExact wakes only the waiters installed for exactly value. Every counter
// mutation moves num by exactly one step, so a waiter for n is guaranteed to
// see num==n at some mutation even if it later moves past n again.
func (c *counter) wakeExact(waiters map[int64][]chan struct{}, value int64) {
	chans, ok := waiters[value]
	if !ok {
		return
	}
	for _, ch := range chans {
		close(ch)
	}
	delete(waiters, value)
}

// wakeAtLeast wakes every waiter installed for a target at or below value, for
// the total-increments axis, where "wait_for_total_increments(k,n)" means "at
// least n increments have happened", not "exactly n".
func (c *counter) wakeAtLeast(waiters map[int64][]chan struct{}, value int64) {
	for target, chans := range waiters {
		if target > value {
			continue
		}
		for _, ch := range chans {
			close(ch)
		}
		delete(waiters, target)
	}
}

// Store is a named collection of counters, created lazily on first use.
type Store struct {
	mu       sync.Mutex
	counters map[string]*counter
}

// New returns an empty Store.
func New() *Store {
	return &Store{counters: make(map[string]*counter)}
}

func (s *Store) get(name string) *counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		c = newCounter()
		s.counters[name] = c
	}
	return c
}

// SetMax bounds the value a counter may reach; Increment beyond it returns
// ErrCounterBounds. A nil/zero max means unbounded.
func (s *Store) SetMax(name string, max int64) {
	c := s.get(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if max <= 0 {
		c.max = nil
		return
	}
	c.max = &max
}

// SetMaxIncrements bounds the total number of increments a counter may ever
// receive across its lifetime (used by the Connections Manager to cap total
// connections served, not just concurrent ones).
func (s *Store) SetMaxIncrements(name string, max int64) {
	c := s.get(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxInc = &max
}

// Increment raises the named counter by one, waking any waiter whose target
// value has now been reached.
func (s *Store) Increment(name string) liberr.Error {
	c := s.get(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.max != nil && c.num+1 > *c.max {
		return libsck.ErrCounterBounds.Error()
	}
	if c.maxInc != nil && c.inc+1 > *c.maxInc {
		return libsck.ErrCounterBounds.Error()
	}

	c.num++
	c.inc++

	c.wakeExact(c.waitNum, c.num)
	c.wakeAtLeast(c.waitInc, c.inc)

	return nil
}

// Decrement lowers the named counter by one. Decrementing below zero returns
// ErrCounterUnderflow and leaves the counter unchanged.
func (s *Store) Decrement(name string) liberr.Error {
	c := s.get(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.num == 0 {
		return libsck.ErrCounterUnderflow.Error()
	}

	c.num--
	c.wakeExact(c.waitNum, c.num)

	return nil
}

// Value returns the counter's current value (0 if it has never been touched).
func (s *Store) Value(name string) int64 {
	c := s.get(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.num
}

// TotalIncrements returns how many times the counter has ever been incremented.
func (s *Store) TotalIncrements(name string) int64 {
	c := s.get(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inc
}

// WaitFor blocks until the named counter's value is exactly target (it may
// already be), or until ctx is done.
func (s *Store) WaitFor(ctx context.Context, name string, target int64) error {
	return wait(ctx, s.get(name), target, false)
}

// WaitForTotalIncrements blocks until the named counter has received at least
// target total increments, or until ctx is done.
func (s *Store) WaitForTotalIncrements(ctx context.Context, name string, target int64) error {
	return wait(ctx, s.get(name), target, true)
}

func wait(ctx context.Context, c *counter, target int64, total bool) error {
	c.mu.Lock()
	var current int64
	var waiters map[int64][]chan struct{}
	if total {
		current = c.inc
	} else {
		current = c.num
	}
	if total {
		waiters = c.waitInc
	} else {
		waiters = c.waitNum
	}

	// wait_for(k,n) blocks until num becomes exactly n; only
	// wait_for_total_increments treats its target as a floor ("at least n
	// increments").
	reached := current == target
	if total {
		reached = current >= target
	}
	if reached {
		c.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	waiters[target] = append(waiters[target], ch)
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset removes a counter entirely, as if it had never been touched. Used when
// a name (e.g. a peer connection slot) is permanently discarded.
func (s *Store) Reset(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, name)
}
