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

// Package lifecycle implements the four-state start/stop gate ("StatusWaiter")
// shared by every receiver and sender shell: NotStarted, Starting, Started,
// Stopped. Any number of goroutines can wait for a state to be reached; a
// wait for the current state returns at once, while a wait for a state that
// was entered and has since been left blocks until it is entered again.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"

	liberr "github.com/sabouaram/endpoint/errors"
	libsck "github.com/sabouaram/endpoint/socket"
)

// State is one of the four phases a receiver/sender shell goes through.
type State int32

const (
	NotStarted State = iota
	Starting
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Waiter gates transitions between the four lifecycle states and lets any
// number of goroutines block until a given state is reached.
type Waiter struct {
	mu      sync.Mutex
	state   atomic.Int32
	reached map[State]chan struct{}
}

// New returns a Waiter in the NotStarted state.
func New() *Waiter {
	w := &Waiter{reached: make(map[State]chan struct{}, 4)}
	for _, s := range []State{NotStarted, Starting, Started, Stopped} {
		w.reached[s] = make(chan struct{})
	}
	close(w.reached[NotStarted])
	return w
}

// Current returns the current state.
func (w *Waiter) Current() State {
	return State(w.state.Load())
}

// Enter transitions to the given state, waking every goroutine currently
// blocked in Wait for it. Re-entering a state that is already current returns
// ErrAlreadyInState.
func (w *Waiter) Enter(state State) liberr.Error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if State(w.state.Load()) == state {
		return libsck.ErrAlreadyInState.Error()
	}

	w.state.Store(int32(state))

	old := w.reached[state]
	w.reached[state] = make(chan struct{})
	close(old)

	return nil
}

// Wait blocks until the given state is reached (possibly already true) or ctx
// is done, whichever happens first.
func (w *Waiter) Wait(ctx context.Context, state State) error {
	w.mu.Lock()
	if State(w.state.Load()) == state {
		w.mu.Unlock()
		return nil
	}
	ch := w.reached[state]
	w.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitStarted blocks until the Started state is reached.
func (w *Waiter) WaitStarted(ctx context.Context) error {
	return w.Wait(ctx, Started)
}

// WaitHasStarted blocks until the shell has left NotStarted, i.e. Start has at
// least been called, without requiring it to have fully completed.
func (w *Waiter) WaitHasStarted(ctx context.Context) error {
	for {
		if w.Current() != NotStarted {
			return nil
		}
		w.mu.Lock()
		ch := w.reached[Starting]
		w.mu.Unlock()
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitStopped blocks until the Stopped state is reached.
func (w *Waiter) WaitStopped(ctx context.Context) error {
	return w.Wait(ctx, Stopped)
}

// IsRunning reports whether the shell is between Starting (inclusive) and
// Stopped (exclusive).
func (w *Waiter) IsRunning() bool {
	s := w.Current()
	return s == Starting || s == Started
}
