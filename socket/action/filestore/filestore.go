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

// Package filestore implements the Buffered File Storage Action: an
// adaptor.Action that appends every Message it sees to a Managed File, a
// single writer goroutine per target path that owns the file handle and
// drains a bounded queue so a slow disk never blocks the Connection that fed
// the message in.
package filestore

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	libperm "github.com/sabouaram/endpoint/file/perm"
	"github.com/sabouaram/endpoint/ioutils/mapCloser"
	"github.com/sabouaram/endpoint/logging"
	libsck "github.com/sabouaram/endpoint/socket"
	"github.com/sabouaram/endpoint/socket/codec"
)

// Attr renders a Message (or a wrapping envelope, as the recorder preaction
// does) into the bytes a managedFile appends to its file, separator excluded.
type Attr func(msg codec.Message) ([]byte, error)

// Options configures one Managed File.
type Options struct {
	// Path is the target file, or a template for it (see renderPath in
	// action.go — a BufferedFileStorage with a templated Path resolves a
	// concrete Path per Message and acquires one Managed File per resolved
	// path). A Path with no {placeholder} is created if missing and appended
	// to otherwise, exactly as before.
	Path string
	// Mode is the file's permission bits, applied at creation time.
	Mode libperm.Perm
	// Buffering is the Managed File's queue depth: how many Messages may be
	// pending a write before a new Message is rejected with ErrBackpressure.
	Buffering int
	// Timeout bounds how long Close waits for the queue to drain.
	Timeout time.Duration
	// Separator is appended after every record (e.g. '\n').
	Separator byte
	// Attr renders a Message to the bytes actually written; nil uses
	// Message.Encoded() unchanged.
	Attr Attr
}

// managedFile owns one open file handle and the single goroutine that writes
// to it, so concurrent Connections appending to the same path never interleave
// partial writes.
type managedFile struct {
	path      string
	separator byte
	attr      Attr
	timeout   time.Duration

	queue       chan codec.Message
	taskStarted chan struct{}
	taskDone    chan struct{}
	outstanding atomic.Int64

	closer mapCloser.Closer
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	log logging.Logger
}

func newManagedFile(opt Options, log logging.Logger) (*managedFile, error) {
	mode := opt.Mode
	if mode == 0 {
		mode = libperm.Perm(0o644)
	}

	if dir := filepath.Dir(opt.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("filestore: mkdir %q: %w", dir, err)
		}
	}

	f, err := os.OpenFile(opt.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, mode.FileMode())
	if err != nil {
		return nil, fmt.Errorf("filestore: open %q: %w", opt.Path, err)
	}

	buffering := opt.Buffering
	if buffering <= 0 {
		buffering = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	closer := mapCloser.New(ctx)
	closer.Add(f)

	mf := &managedFile{
		path:        opt.Path,
		separator:   opt.Separator,
		attr:        opt.Attr,
		timeout:     opt.Timeout,
		queue:       make(chan codec.Message, buffering),
		taskStarted: make(chan struct{}),
		taskDone:    make(chan struct{}),
		closer:      closer,
		cancel:      cancel,
		log:         log,
	}

	go mf.run(f)
	<-mf.taskStarted

	return mf, nil
}

// run is the single writer goroutine: it owns w exclusively, batching every
// message already queued behind the one it just woke up for into a single
// write+flush, then marking each as Processed only once that flush succeeds.
func (m *managedFile) run(f *os.File) {
	w := bufio.NewWriter(f)
	close(m.taskStarted)
	defer close(m.taskDone)

	for first := range m.queue {
		batch := []codec.Message{first}
	drain:
		for {
			select {
			case msg, ok := <-m.queue:
				if !ok {
					break drain
				}
				batch = append(batch, msg)
			default:
				break drain
			}
		}
		m.writeBatch(w, batch)
	}

	_ = w.Flush()
}

// writeBatch renders and writes every message in batch, flushes once, and
// only then calls Processed on each — the Managed File, not the adaptor, owns
// this call since "processed" here means "durably written", which happens
// well after the Action handed the message off.
func (m *managedFile) writeBatch(w *bufio.Writer, batch []codec.Message) {
	for _, msg := range batch {
		var (
			data []byte
			err  error
		)
		if m.attr != nil {
			data, err = m.attr(msg)
		} else {
			data = msg.Encoded()
		}
		if err == nil {
			_, err = w.Write(data)
		}
		if err == nil && m.separator != 0 {
			err = w.WriteByte(m.separator)
		}
		if err != nil && m.log != nil {
			m.log.Error("filestore: write record", "path", m.path, "error", err)
		}
	}

	if err := w.Flush(); err != nil && m.log != nil {
		m.log.Error("filestore: flush", "path", m.path, "error", err)
	}

	for _, msg := range batch {
		msg.Processed()
		m.outstanding.Add(-1)
	}
}

// append enqueues msg for writing, returning libsck.ErrBackpressure without
// blocking when the queue is full.
func (m *managedFile) append(msg codec.Message) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return libsck.ErrConnectionClosed.Error()
	}
	m.mu.Unlock()

	select {
	case m.queue <- msg:
		m.outstanding.Add(1)
		return nil
	default:
		return libsck.ErrBackpressure.Error()
	}
}

// waitWritesDone blocks until the queue is empty and no batch is mid-flight,
// until ctx is done, or until the writer goroutine has exited — racing
// against the task this way means a dying writer never leaves a caller
// blocked forever.
func (m *managedFile) waitWritesDone(ctx context.Context) error {
	for {
		if m.outstanding.Load() == 0 && len(m.queue) == 0 {
			return nil
		}
		select {
		case <-m.taskDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// close drains the queue (bounded by m.timeout) and releases the file handle.
func (m *managedFile) close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	deadline := m.timeout
	if deadline <= 0 {
		deadline = 5 * time.Second
	}

	ctx, cancelTimeout := context.WithTimeout(context.Background(), deadline)
	if err := m.waitWritesDone(ctx); err != nil && m.log != nil {
		m.log.Warn("filestore: close timed out with records still queued", "path", m.path)
	}
	cancelTimeout()

	close(m.queue)
	<-m.taskDone
	m.cancel()
	return m.closer.Close()
}

// CloseAll closes every live Managed File process-wide and polls for up to 2
// seconds for the registry to drain, matching ManagedFile.close_all(); a
// BufferedFileStorage.Close() delegates here rather than releasing only its
// own reference, since the distilled design has Action.close() hand off to
// the class-level close_all.
func CloseAll() {
	defaultRegistry.closeAll()
}

// NumFiles reports how many Managed Files are currently open process-wide.
func NumFiles() int {
	return defaultRegistry.numFiles()
}
