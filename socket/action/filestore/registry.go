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
	"sync"
	"time"

	"github.com/sabouaram/endpoint/logging"
)

// openFiles is the process-wide registry of Managed Files, keyed by path. It
// guarantees at most one managedFile (and therefore at most one open *os.File
// and one writer goroutine) exists per path at a time, the same "one owner per
// key" guarantee ioutils/mapCloser gives per context: every managedFile it
// hands out carries its own mapCloser.Closer for that single file handle, and
// this registry is simply the map that ensures only one such Closer is ever
// created for a given path. There is no per-reference release: every
// BufferedFileStorage sharing a path shares the same managedFile for as long
// as it lives, and only CloseAll (a BufferedFileStorage.Close() call
// delegates to it) ever evicts an entry — matching the distilled design's
// Action.close() -> ManagedFile.close_all() contract.
type openFiles struct {
	mu   sync.Mutex
	refs map[string]*managedFile
}

func newOpenFiles() *openFiles {
	return &openFiles{refs: make(map[string]*managedFile)}
}

// acquire returns the managedFile for opt.Path, creating and registering it
// if this is the first caller for that path.
func (o *openFiles) acquire(opt Options, log logging.Logger) (*managedFile, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if mf, ok := o.refs[opt.Path]; ok {
		return mf, nil
	}

	mf, err := newManagedFile(opt, log)
	if err != nil {
		return nil, err
	}
	o.refs[opt.Path] = mf
	return mf, nil
}

// numFiles reports how many Managed Files are currently registered.
func (o *openFiles) numFiles() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.refs)
}

// closeAll force-closes every currently registered Managed File, evicting the
// registry up front, then polls for up to 2 seconds in case a concurrent
// acquire raced in a new entry meanwhile.
func (o *openFiles) closeAll() {
	o.mu.Lock()
	refs := o.refs
	o.refs = make(map[string]*managedFile)
	o.mu.Unlock()

	for path, mf := range refs {
		path, mf := path, mf
		go func() {
			if err := mf.close(); err != nil && mf.log != nil {
				mf.log.Warn("filestore: close_all: error closing file", "path", path, "error", err)
			}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for o.numFiles() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

var defaultRegistry = newOpenFiles()
