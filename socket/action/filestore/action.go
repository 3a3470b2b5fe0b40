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

package filestore

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/sabouaram/endpoint/logging"
	"github.com/sabouaram/endpoint/socket/codec"
)

// BufferedFileStorage is an adaptor.Action that appends every Message it
// receives to a Managed File, sharing the file (and its single writer
// goroutine) with every other Connection configured with the same resolved
// path via the process-wide registry. opt.Path may be a literal path or a
// template (see renderPath); a templated path resolves to a possibly
// different Managed File per Message.
type BufferedFileStorage struct {
	opt          Options
	log          logging.Logger
	pathTemplate string

	mu      sync.Mutex
	files   map[string]*managedFile
	written map[string]struct{}
}

// New builds a BufferedFileStorage for opt.Path. A literal (non-templated)
// Path is acquired eagerly, preserving the previous behavior of New failing
// immediately if the file cannot be opened; a templated Path is resolved
// lazily, once per distinct value it renders to, as Messages arrive.
func New(opt Options, log logging.Logger) (*BufferedFileStorage, error) {
	a := &BufferedFileStorage{
		opt:          opt,
		log:          log,
		pathTemplate: opt.Path,
		files:        make(map[string]*managedFile),
		written:      make(map[string]struct{}),
	}

	if !strings.Contains(opt.Path, "{") {
		mf, err := defaultRegistry.acquire(opt, log)
		if err != nil {
			return nil, err
		}
		a.files[opt.Path] = mf
	}

	return a, nil
}

func (a *BufferedFileStorage) OnConnect(_ codec.Context) error { return nil }

// OnMessage computes msg's full path from the template, resolves (or opens)
// the Managed File for that path, enqueues msg, and remembers the path as
// having an outstanding write. It returns socket.ErrBackpressure immediately
// rather than blocking the caller's Connection read loop when the target
// Managed File's queue is full.
func (a *BufferedFileStorage) OnMessage(_ context.Context, msg codec.Message) error {
	path, err := renderPath(a.pathTemplate, msg)
	if err != nil {
		return err
	}

	mf, err := a.fileFor(path)
	if err != nil {
		return err
	}

	if err = mf.append(msg); err != nil {
		return err
	}

	a.mu.Lock()
	a.written[path] = struct{}{}
	a.mu.Unlock()
	return nil
}

func (a *BufferedFileStorage) fileFor(path string) (*managedFile, error) {
	a.mu.Lock()
	if mf, ok := a.files[path]; ok {
		a.mu.Unlock()
		return mf, nil
	}
	a.mu.Unlock()

	opt := a.opt
	opt.Path = path
	mf, err := defaultRegistry.acquire(opt, a.log)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.files[path] = mf
	a.mu.Unlock()
	return mf, nil
}

func (a *BufferedFileStorage) OnDisconnect(_ codec.Context, _ error) {}

// FilesWithOutstandingWrites returns every resolved path this Action has
// enqueued a write to since the last WaitComplete.
func (a *BufferedFileStorage) FilesWithOutstandingWrites() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.written))
	for p := range a.written {
		out = append(out, p)
	}
	return out
}

// WaitComplete waits for every remembered path's Managed File to finish
// draining its queue, then clears the remembered set — even if a wait
// returned an error, so a stuck path never wedges every future call.
func (a *BufferedFileStorage) WaitComplete(ctx context.Context) error {
	a.mu.Lock()
	paths := make([]string, 0, len(a.written))
	for p := range a.written {
		paths = append(paths, p)
	}
	a.mu.Unlock()

	var firstErr error
	for _, p := range paths {
		a.mu.Lock()
		mf := a.files[p]
		a.mu.Unlock()
		if mf == nil {
			continue
		}
		if err := mf.waitWritesDone(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.mu.Lock()
	a.written = make(map[string]struct{})
	a.mu.Unlock()

	return firstErr
}

// Close delegates to CloseAll, matching the design's
// Action.close() -> ManagedFile.close_all() contract: it closes every live
// Managed File process-wide, not just the ones this Action opened.
func (a *BufferedFileStorage) Close() error {
	CloseAll()
	return nil
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_.]+)\}`)

// renderPath expands {key} placeholders in tmpl using msg's UID, RequestID,
// and Context values (peer, host, port, alias, server, client, own); a
// literal path with no placeholders is returned unchanged.
func renderPath(tmpl string, msg codec.Message) (string, error) {
	if !strings.Contains(tmpl, "{") {
		return tmpl, nil
	}

	var missing error
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := match[1 : len(match)-1]
		val, ok := lookupPlaceholder(key, msg)
		if !ok {
			missing = fmt.Errorf("filestore: path template: no value for %q", key)
			return match
		}
		return val
	})
	if missing != nil {
		return "", missing
	}
	return out, nil
}

func lookupPlaceholder(key string, msg codec.Message) (string, bool) {
	switch key {
	case "uid":
		return msg.UID()
	case "request_id":
		return msg.RequestID()
	}
	if c := msg.Context(); c != nil {
		if v, ok := c.Load(key); ok {
			if s, ok := v.(string); ok {
				return s, true
			}
			return fmt.Sprint(v), true
		}
	}
	return "", false
}
