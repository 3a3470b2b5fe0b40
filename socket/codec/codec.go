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

// Package codec defines the pluggable wire codec contract and the Message
// Object it produces: the unit every Action, Requester, and Managed File
// ultimately operates on.
package codec

import (
	"time"

	libctx "github.com/sabouaram/endpoint/context"
)

// Context is the per-connection metadata map every Message carries: peer
// addressing, protocol name, and any transport-specific keys (fd, cipher,
// peercert, ...) the Connection chooses to expose to the codec and Action.
type Context = libctx.Config[string]

// Message is one decoded (or about to be encoded) unit of application data,
// carrying enough metadata for correlation (RequestID/UID), filtering, and
// buffered-file persistence without the Action needing to know the wire format.
type Message interface {
	// Encoded returns the raw bytes this message was decoded from, or that
	// Encode produced.
	Encoded() []byte
	// Decoded returns the codec-specific decoded value (e.g. a map[string]any
	// for JSON, a struct for a typed codec).
	Decoded() any
	// Context carries per-connection metadata (peer, host, port, protocol...)
	// the codec or action may want to read or enrich.
	Context() Context
	// ReceivedAt is when the underlying bytes were read off the wire.
	ReceivedAt() time.Time
	// RequestID identifies the request this message answers/initiates, for
	// sender-side correlation. ok is false when the codec has no notion of one.
	RequestID() (id string, ok bool)
	// UID is a codec-assigned unique identifier for this message, used as the
	// Managed File record key when one is needed.
	UID() (uid string, ok bool)
	// Filter reports whether this message should be handed to the Action at
	// all (false = silently dropped, e.g. a heartbeat/keepalive frame).
	Filter() bool
	// Processed marks the message as having been handled, for codecs that
	// track delivery (e.g. to ack a correlated request).
	Processed()
	// PFormat renders the message for structured logging.
	PFormat() string
}

// Codec turns a connection's raw byte stream into Messages and back. Decode is
// called repeatedly as bytes arrive; it must consume only as many bytes from buf
// as belong to the messages it returns, leaving the remainder in buf for the
// next call (the classic streaming-parser contract).
type Codec interface {
	// Decode extracts zero or more complete Messages from buf, returning the
	// number of bytes consumed. A nil/empty return with consumed < len(buf) is
	// not an error: it means more bytes are needed to complete the next
	// message.
	Decode(buf []byte, ctx Context) (messages []Message, consumed int, err error)
	// Encode renders data (a value produced by the Action/Requester) back into
	// wire bytes.
	Encode(data any, ctx Context) ([]byte, error)
}

// Factory builds a fresh Codec for a new connection; stateful codecs (ones that
// track partial frames or correlation ids) must not be shared across
// connections, so the Protocol Factory calls this once per accepted/dialed peer.
type Factory func() Codec
