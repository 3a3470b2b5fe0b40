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

// Package recorder implements the recording preaction: an adaptor.Action that
// wraps another Action, persisting every Message that passes through as a
// framed JSON envelope before handing it on, so a deployment can replay or
// audit traffic independently of whatever the wrapped Action does with it.
package recorder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sabouaram/endpoint/logging"
	"github.com/sabouaram/endpoint/socket/action/filestore"
	"github.com/sabouaram/endpoint/socket/codec"
)

// envelope is the persisted record shape: which side originated the message,
// when it was recorded, who the peer was, and the message's decoded payload.
type envelope struct {
	SentByServer bool      `json:"sent_by_server"`
	Timestamp    time.Time `json:"timestamp"`
	Sender       string    `json:"sender"`
	Data         any       `json:"data"`
}

// Inner is the Action (or Requester, adapted by the caller) the recorder
// delegates to after persisting a copy of the message.
type Inner interface {
	OnConnect(ctx codec.Context) error
	OnMessage(ctx context.Context, msg codec.Message) error
	OnDisconnect(ctx codec.Context, cause error)
}

// Recorder wraps Inner, persisting every Message via a Buffered File Storage
// Action before delegating to Inner.OnMessage.
type Recorder struct {
	inner        Inner
	store        *filestore.BufferedFileStorage
	sentByServer bool
}

// New builds a Recorder that appends one JSON-encoded envelope per line to
// opt.Path (opt.Separator/opt.Attr are overridden: the recorder always frames
// with '\n' and always renders the envelope, never the raw message).
// sentByServer marks every record this Recorder persists as server- or
// client-originated, matching which shell (receiver or sender) it is wired
// into.
func New(inner Inner, sentByServer bool, opt filestore.Options, log logging.Logger) (*Recorder, error) {
	opt.Separator = '\n'
	opt.Attr = encodeEnvelope(sentByServer)

	store, err := filestore.New(opt, log)
	if err != nil {
		return nil, err
	}
	return &Recorder{inner: inner, store: store, sentByServer: sentByServer}, nil
}

func encodeEnvelope(sentByServer bool) filestore.Attr {
	return func(msg codec.Message) ([]byte, error) {
		sender := ""
		if ctx := msg.Context(); ctx != nil {
			if v, ok := ctx.Load("peer"); ok {
				if s, ok := v.(string); ok {
					sender = s
				}
			}
		}
		env := envelope{
			SentByServer: sentByServer,
			Timestamp:    msg.ReceivedAt(),
			Sender:       sender,
			Data:         msg.Decoded(),
		}
		return json.Marshal(env)
	}
}

func (r *Recorder) OnConnect(ctx codec.Context) error { return r.inner.OnConnect(ctx) }

// OnMessage persists msg, then delegates to Inner regardless of whether
// persistence succeeded: a full record queue (ErrBackpressure) must not stall
// message delivery to the real Action.
func (r *Recorder) OnMessage(ctx context.Context, msg codec.Message) error {
	_ = r.store.OnMessage(ctx, msg)
	return r.inner.OnMessage(ctx, msg)
}

func (r *Recorder) OnDisconnect(ctx codec.Context, cause error) {
	r.inner.OnDisconnect(ctx, cause)
}

// Close closes the underlying store, which closes every live Managed File in
// the process (filestore.CloseAll), not only the one this Recorder writes to.
func (r *Recorder) Close() error { return r.store.Close() }
