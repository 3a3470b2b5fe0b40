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

// Package adaptor sits between a Connection and the application: it feeds raw
// bytes through a Codec and dispatches the resulting Messages either to an
// Action (receiver side, one-way) or to a Requester (sender side, which
// correlates replies with pending requests).
package adaptor

import (
	"context"
	"sync"

	"github.com/sabouaram/endpoint/logging"
	libsck "github.com/sabouaram/endpoint/socket"
	"github.com/sabouaram/endpoint/socket/codec"
)

// Writer is the minimal write-back capability an adaptor needs: delivering an
// error response or an outgoing encoded request. connection.Stream/Datagram
// and socket.Context both satisfy it.
type Writer interface {
	Write(p []byte) (n int, err error)
}

// Action consumes Messages produced on the receiver side. OnMessage is called
// once per decoded Message, in the order it was decoded; OnConnect/OnDisconnect
// bracket the peer's lifetime. An Action owns calling Message.Processed() once
// its handling of that Message has truly completed — the adaptor itself never
// calls it, since for a buffered-file-backed Action (socket/action/filestore)
// "completed" means "durably written", which can happen well after OnMessage
// returns.
type Action interface {
	OnConnect(ctx codec.Context) error
	OnMessage(ctx context.Context, msg codec.Message) error
	OnDisconnect(ctx codec.Context, cause error)
}

// Requester consumes Messages produced on the sender side and correlates them
// with requests previously sent through Sender.EncodeSend. Like Action, it
// owns calling Message.Processed() itself.
type Requester interface {
	OnConnect(ctx codec.Context) error
	OnResponse(ctx context.Context, msg codec.Message) error
	OnDisconnect(ctx codec.Context, cause error)
}

// ErrorResponder is implemented by an Action or Requester that wants decode
// and handler errors turned into a reply written back to the peer instead of
// silently dropped (or, as before this type existed, propagated up to tear
// the connection down). Returning ok=false means "nothing to send back";
// response is only encoded and written when ok is true.
type ErrorResponder interface {
	OnDecodeError(ctx codec.Context, raw []byte, err error) (response any, ok bool)
	OnHandlerError(ctx codec.Context, msg codec.Message, err error) (response any, ok bool)
}

// Receiver adapts a stream of raw bytes into decoded Messages dispatched to an
// Action, accumulating partial frames across calls to Feed the same way the
// underlying Codec requires.
type Receiver struct {
	codec  codec.Codec
	action Action
	writer Writer
	log    logging.Logger
	buf    []byte
}

// NewReceiver builds a Receiver around one connection's Codec and Action. w is
// used to write back any response OnDecodeError/OnHandlerError produces; it
// may be nil, in which case such responses are silently dropped.
func NewReceiver(c codec.Codec, a Action, w Writer, log logging.Logger) *Receiver {
	return &Receiver{codec: c, action: a, writer: w, log: log}
}

// Feed appends newly read bytes and dispatches every complete Message the
// Codec can extract from the accumulated buffer. A decode or handler error no
// longer tears the connection down: it is logged and, when the Action
// implements ErrorResponder, turned into a written-back reply; either way Feed
// returns nil so the Connection keeps reading.
func (r *Receiver) Feed(ctx context.Context, ctxMap codec.Context, data []byte) error {
	r.buf = append(r.buf, data...)

	messages, consumed, err := r.codec.Decode(r.buf, ctxMap)
	if consumed > 0 {
		r.buf = append([]byte(nil), r.buf[consumed:]...)
	}
	if err != nil {
		r.onDecodeError(ctxMap, err)
		return nil
	}

	for _, m := range messages {
		if !m.Filter() {
			continue
		}
		if err = r.action.OnMessage(ctx, m); err != nil {
			r.onHandlerError(ctxMap, m, err)
		}
	}

	return nil
}

// onDecodeError is the receiver-side response_on_decode_error hook.
func (r *Receiver) onDecodeError(ctx codec.Context, err error) {
	if r.log != nil {
		r.log.Error("decode error", "error", err)
	}
	er, ok := r.action.(ErrorResponder)
	if !ok {
		return
	}
	resp, handled := er.OnDecodeError(ctx, r.buf, err)
	if !handled {
		return
	}
	r.writeResponse(ctx, resp)
}

// onHandlerError is the receiver-side response_on_exception hook.
func (r *Receiver) onHandlerError(ctx codec.Context, msg codec.Message, err error) {
	if r.log != nil {
		r.log.Error("action error", "error", err)
	}
	er, ok := r.action.(ErrorResponder)
	if !ok {
		return
	}
	resp, handled := er.OnHandlerError(ctx, msg, err)
	if !handled {
		return
	}
	r.writeResponse(ctx, resp)
}

func (r *Receiver) writeResponse(ctx codec.Context, resp any) {
	if resp == nil || r.writer == nil {
		return
	}
	out, err := r.codec.Encode(resp, ctx)
	if err != nil {
		if r.log != nil {
			r.log.Error("error-response encode error", "error", err)
		}
		return
	}
	if _, err = r.writer.Write(out); err != nil && r.log != nil {
		r.log.Error("error-response write error", "error", err)
	}
}

// Connect/Disconnect forward the connection lifecycle to the Action.
func (r *Receiver) Connect(ctx codec.Context) error           { return r.action.OnConnect(ctx) }
func (r *Receiver) Disconnect(ctx codec.Context, cause error) { r.action.OnDisconnect(ctx, cause) }

// Sender is the symmetric adaptor for the client side: it encodes outgoing
// data through the Codec and dispatches decoded responses to the Requester,
// correlating each one against any pending EncodeSend call whose request it
// answers.
type Sender struct {
	codec     codec.Codec
	requester Requester
	writer    Writer
	log       logging.Logger
	buf       []byte

	mu      sync.Mutex
	closed  bool
	pending map[string]chan codec.Message

	// notify queues decoded responses that carried no RequestID matching a
	// pending EncodeSend call — unsolicited server-initiated messages. Best
	// effort: a full queue drops the newly arriving message rather than
	// blocking Feed.
	notify chan codec.Message
}

// NewSender builds a Sender around one connection's Codec and Requester. w is
// used both to write outgoing EncodeSend requests and any OnDecodeError/
// OnHandlerError response; it may be nil, in which case EncodeSend fails with
// socket.ErrTransport and error responses are dropped.
func NewSender(c codec.Codec, r Requester, w Writer, log logging.Logger) *Sender {
	return &Sender{
		codec:     c,
		requester: r,
		writer:    w,
		log:       log,
		pending:   make(map[string]chan codec.Message),
		notify:    make(chan codec.Message, 64),
	}
}

// Encode renders data to wire bytes via the Codec.
func (s *Sender) Encode(data any, ctx codec.Context) ([]byte, error) {
	return s.codec.Encode(data, ctx)
}

// EncodeSend encodes data, writes it to the peer, and returns a channel that
// receives the correlated response Message once Feed decodes one whose
// RequestID matches requestID. The channel is closed without a value if the
// Sender is disconnected before a response arrives.
func (s *Sender) EncodeSend(requestID string, data any, ctx codec.Context) (<-chan codec.Message, error) {
	out, err := s.codec.Encode(data, ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan codec.Message, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, libsck.ErrConnectionClosed.Error()
	}
	s.pending[requestID] = ch
	s.mu.Unlock()

	if s.writer == nil {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
		close(ch)
		return ch, libsck.ErrTransport.Error()
	}

	if _, err = s.writer.Write(out); err != nil {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
		close(ch)
		return ch, err
	}

	return ch, nil
}

// Notifications returns the channel of response Messages that arrived without
// a matching pending EncodeSend correlation.
func (s *Sender) Notifications() <-chan codec.Message { return s.notify }

// Feed appends newly read response bytes and dispatches every complete
// Message: one with a RequestID matching a pending EncodeSend call is
// delivered to that call's channel; everything else goes to the Requester and
// the notifications queue.
func (s *Sender) Feed(ctx context.Context, ctxMap codec.Context, data []byte) error {
	s.buf = append(s.buf, data...)

	messages, consumed, err := s.codec.Decode(s.buf, ctxMap)
	if consumed > 0 {
		s.buf = append([]byte(nil), s.buf[consumed:]...)
	}
	if err != nil {
		s.onDecodeError(ctxMap, err)
		return nil
	}

	for _, m := range messages {
		if !m.Filter() {
			continue
		}
		if id, ok := m.RequestID(); ok && s.deliver(id, m) {
			continue
		}
		if err = s.requester.OnResponse(ctx, m); err != nil {
			s.onHandlerError(ctxMap, m, err)
			continue
		}
		s.queueNotification(m)
	}

	return nil
}

// deliver hands m to the pending EncodeSend call waiting on requestID, if
// any, reporting whether one was found.
func (s *Sender) deliver(requestID string, m codec.Message) bool {
	s.mu.Lock()
	ch, ok := s.pending[requestID]
	if ok {
		delete(s.pending, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- m
	close(ch)
	return true
}

func (s *Sender) queueNotification(m codec.Message) {
	select {
	case s.notify <- m:
	default:
		if s.log != nil {
			s.log.Warn("dropping notification: queue full")
		}
	}
}

func (s *Sender) onDecodeError(ctx codec.Context, err error) {
	if s.log != nil {
		s.log.Error("decode error", "error", err)
	}
	er, ok := s.requester.(ErrorResponder)
	if !ok {
		return
	}
	resp, handled := er.OnDecodeError(ctx, s.buf, err)
	if !handled {
		return
	}
	s.writeResponse(ctx, resp)
}

func (s *Sender) onHandlerError(ctx codec.Context, msg codec.Message, err error) {
	if s.log != nil {
		s.log.Error("requester error", "error", err)
	}
	er, ok := s.requester.(ErrorResponder)
	if !ok {
		return
	}
	resp, handled := er.OnHandlerError(ctx, msg, err)
	if !handled {
		return
	}
	s.writeResponse(ctx, resp)
}

func (s *Sender) writeResponse(ctx codec.Context, resp any) {
	if resp == nil || s.writer == nil {
		return
	}
	out, err := s.codec.Encode(resp, ctx)
	if err != nil {
		if s.log != nil {
			s.log.Error("error-response encode error", "error", err)
		}
		return
	}
	if _, err = s.writer.Write(out); err != nil && s.log != nil {
		s.log.Error("error-response write error", "error", err)
	}
}

func (s *Sender) Connect(ctx codec.Context) error { return s.requester.OnConnect(ctx) }

// Disconnect cancels every pending EncodeSend call (closing its channel
// without a value) before forwarding the lifecycle event to the Requester.
func (s *Sender) Disconnect(ctx codec.Context, cause error) {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = make(map[string]chan codec.Message)
	s.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}

	s.requester.OnDisconnect(ctx, cause)
}
