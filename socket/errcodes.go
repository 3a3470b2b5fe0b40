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

package socket

import "github.com/sabouaram/endpoint/errors"

// Error codes shared by every package under socket/. Each is a sentinel
// errors.CodeError in the same style as the rest of this module's packages;
// wrap it with .Error(parents...) to attach context before returning it.
const (
	ErrUnauthorizedPeer errors.CodeError = iota + errors.MinPkgSocket
	ErrDuplicatePeer
	ErrCounterBounds
	ErrCounterUnderflow
	ErrAlreadyInState
	ErrDecode
	ErrHandler
	ErrBackpressure
	ErrConnectionClosed
	ErrTransport
)

func init() {
	errors.RegisterIdFctMessage(ErrUnauthorizedPeer, getErrMessage)
}

func getErrMessage(code errors.CodeError) string {
	switch code {
	case ErrUnauthorizedPeer:
		return "peer is not authorized to connect"
	case ErrDuplicatePeer:
		return "peer is already registered"
	case ErrCounterBounds:
		return "counter value out of bounds"
	case ErrCounterUnderflow:
		return "counter cannot be decremented below zero"
	case ErrAlreadyInState:
		return "already in requested lifecycle state"
	case ErrDecode:
		return "cannot decode message"
	case ErrHandler:
		return "handler returned an error"
	case ErrBackpressure:
		return "write would block: receiver is backpressured"
	case ErrConnectionClosed:
		return "connection is closed"
	case ErrTransport:
		return "transport error"
	}
	return ""
}
