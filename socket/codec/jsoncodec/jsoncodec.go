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

// Package jsoncodec is the reference Codec implementation: newline-delimited
// JSON objects, used by this module's worked examples and integration tests. It
// is not meant to be the only codec a real deployment uses — it exists to
// exercise socket/codec end to end.
package jsoncodec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sabouaram/endpoint/socket/codec"
)

// Codec decodes newline-delimited JSON objects and encodes values back to
// compact JSON followed by a trailing '\n'. It keeps no state between calls,
// so a single value could be shared across connections; callers still get a
// fresh one per
// connection via New, matching codec.Factory's contract.
type Codec struct{}

// New satisfies codec.Factory.
func New() codec.Codec {
	return &Codec{}
}

// Decode splits buf on '\n' and JSON-unmarshals each complete line.
func (c *Codec) Decode(buf []byte, ctx codec.Context) ([]codec.Message, int, error) {
	var (
		messages []codec.Message
		consumed int
	)

	for {
		idx := bytes.IndexByte(buf[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := buf[consumed : consumed+idx]
		consumed += idx + 1

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var decoded any
		if err := json.Unmarshal(line, &decoded); err != nil {
			return messages, consumed, fmt.Errorf("jsoncodec: %w", err)
		}

		messages = append(messages, &message{
			raw:     append([]byte(nil), line...),
			decoded: decoded,
			ctx:     ctx,
			at:      time.Now(),
			uid:     uuid.NewString(),
		})
	}

	return messages, consumed, nil
}

// Encode marshals data to compact JSON with a trailing newline delimiter.
func (c *Codec) Encode(data any, _ codec.Context) ([]byte, error) {
	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("jsoncodec: %w", err)
	}
	return append(out, '\n'), nil
}

type message struct {
	raw       []byte
	decoded   any
	ctx       codec.Context
	at        time.Time
	uid       string
	processed bool
}

func (m *message) Encoded() []byte       { return m.raw }
func (m *message) Decoded() any          { return m.decoded }
func (m *message) Context() codec.Context { return m.ctx }
func (m *message) ReceivedAt() time.Time { return m.at }

func (m *message) RequestID() (string, bool) {
	obj, ok := m.decoded.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := obj["request_id"].(string)
	return id, ok
}

func (m *message) UID() (string, bool) { return m.uid, true }

func (m *message) Filter() bool { return true }

func (m *message) Processed() { m.processed = true }

func (m *message) PFormat() string {
	return fmt.Sprintf("jsoncodec.message{uid=%s, len=%d}", m.uid, len(m.raw))
}
