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

package protocol_test

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	libptc "github.com/sabouaram/endpoint/network/protocol"
	"github.com/sabouaram/endpoint/socket/codec"
	sckcfg "github.com/sabouaram/endpoint/socket/config"
	"github.com/sabouaram/endpoint/socket/protocol"
)

// fakeFactoryMessage is the minimal codec.Message a lineCodec needs.
type fakeFactoryMessage struct {
	raw []byte
}

func (m *fakeFactoryMessage) Encoded() []byte           { return m.raw }
func (m *fakeFactoryMessage) Decoded() any               { return string(m.raw) }
func (m *fakeFactoryMessage) Context() codec.Context     { return nil }
func (m *fakeFactoryMessage) ReceivedAt() time.Time      { return time.Time{} }
func (m *fakeFactoryMessage) RequestID() (string, bool)  { return "", false }
func (m *fakeFactoryMessage) UID() (string, bool)        { return "", false }
func (m *fakeFactoryMessage) Filter() bool               { return true }
func (m *fakeFactoryMessage) Processed()                 {}
func (m *fakeFactoryMessage) PFormat() string            { return string(m.raw) }

// lineCodec splits buf on '\n', one Message per complete line.
type lineCodec struct{}

func (lineCodec) Decode(buf []byte, _ codec.Context) ([]codec.Message, int, error) {
	var msgs []codec.Message
	consumed := 0
	for {
		idx := bytes.IndexByte(buf[consumed:], '\n')
		if idx < 0 {
			break
		}
		line := buf[consumed : consumed+idx]
		consumed += idx + 1
		msgs = append(msgs, &fakeFactoryMessage{raw: append([]byte(nil), line...)})
	}
	return msgs, consumed, nil
}

func (lineCodec) Encode(data any, _ codec.Context) ([]byte, error) {
	s, _ := data.(string)
	return append([]byte(s), '\n'), nil
}

// recordingAction is an adaptor.Action test double recording every call;
// started/closed/startErr are only meaningful when embedded in
// lifecycleAction, which adds the starter/stoppable methods.
type recordingAction struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	messages     [][]byte

	started  bool
	closed   bool
	startErr error
}

func (a *recordingAction) OnConnect(codec.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected++
	return nil
}

func (a *recordingAction) OnMessage(_ context.Context, msg codec.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages = append(a.messages, msg.Encoded())
	msg.Processed()
	return nil
}

func (a *recordingAction) OnDisconnect(codec.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnected++
}

func (a *recordingAction) snapshot() (connected, disconnected int, messages []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.messages))
	for i, m := range a.messages {
		out[i] = string(m)
	}
	return a.connected, a.disconnected, out
}

// lifecycleAction additionally implements starter/stoppable; kept distinct
// from recordingAction so a plain Action (no Start/Close) is also exercised.
type lifecycleAction struct {
	recordingAction
}

func (a *lifecycleAction) Start(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	return a.startErr
}

func (a *lifecycleAction) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

var _ = Describe("Factory", func() {
	It("rejects a config with both Action and Requester set", func() {
		_, err := protocol.NewFactory(protocol.FactoryOptions{
			FullName:     "dup",
			CodecFactory: func() codec.Codec { return lineCodec{} },
			Config:       sckcfg.Server{Network: libptc.NetworkTCP, Address: "127.0.0.1:0"},
			Action:       &recordingAction{},
			Requester:    &fakeRequester{},
		})
		Expect(err).To(HaveOccurred())
	})

	It("rejects a config with neither Action nor Requester set", func() {
		_, err := protocol.NewFactory(protocol.FactoryOptions{
			FullName:     "none",
			CodecFactory: func() codec.Codec { return lineCodec{} },
			Config:       sckcfg.Server{Network: libptc.NetworkTCP, Address: "127.0.0.1:0"},
		})
		Expect(err).To(HaveOccurred())
	})

	It("rejects a Preaction set without an Action", func() {
		_, err := protocol.NewFactory(protocol.FactoryOptions{
			FullName:     "pre-only",
			CodecFactory: func() codec.Codec { return lineCodec{} },
			Config:       sckcfg.Server{Network: libptc.NetworkTCP, Address: "127.0.0.1:0"},
			Requester:    &fakeRequester{},
			Preaction:    &recordingAction{},
		})
		Expect(err).To(HaveOccurred())
	})

	It("accepts a TCP connection and dispatches decoded lines to the Action", func() {
		action := &recordingAction{}
		f, err := protocol.NewFactory(protocol.FactoryOptions{
			FullName:     "tcp-server",
			CodecFactory: func() codec.Codec { return lineCodec{} },
			Config:       sckcfg.Server{Network: libptc.NetworkTCP, Address: "127.0.0.1:0"},
			Action:       action,
		})
		Expect(err).To(BeNil())

		Expect(f.Start(context.Background())).To(Succeed())
		defer f.Close()

		Expect(f.Start(context.Background())).To(MatchError(ContainSubstring("already")))

		addr := waitListenAddr(f)
		conn, err := net.Dial("tcp", addr)
		Expect(err).To(BeNil())
		defer conn.Close()

		Expect(f.WaitNumHasConnected(withTimeout(), 1)).To(Succeed())

		_, err = conn.Write([]byte("hello\n"))
		Expect(err).To(BeNil())

		Eventually(func() []string {
			_, _, msgs := action.snapshot()
			return msgs
		}).Should(ConsistOf("hello"))

		Expect(conn.Close()).To(Succeed())
		Expect(f.WaitAllClosed(withTimeout())).To(Succeed())

		connected, disconnected, _ := action.snapshot()
		Expect(connected).To(Equal(1))
		Expect(disconnected).To(Equal(1))
	})

	It("reports IsOwner true only for a Connection whose ParentName is this Factory's FullName", func() {
		f, err := protocol.NewFactory(protocol.FactoryOptions{
			FullName:     "owner-check",
			CodecFactory: func() codec.Codec { return lineCodec{} },
			Config:       sckcfg.Server{Network: libptc.NetworkTCP, Address: "127.0.0.1:0"},
			Action:       &recordingAction{},
		})
		Expect(err).To(BeNil())

		Expect(f.IsOwner(&fakeConnection{parent: "owner-check"})).To(BeTrue())
		Expect(f.IsOwner(&fakeConnection{parent: "someone-else"})).To(BeFalse())
	})

	It("starts and closes a lifecycle-capable Action around Start/Close", func() {
		action := &lifecycleAction{}
		f, err := protocol.NewFactory(protocol.FactoryOptions{
			FullName:     "lifecycle",
			CodecFactory: func() codec.Codec { return lineCodec{} },
			Config:       sckcfg.Server{Network: libptc.NetworkTCP, Address: "127.0.0.1:0"},
			Action:       action,
		})
		Expect(err).To(BeNil())
		Expect(f.Start(context.Background())).To(Succeed())

		action.mu.Lock()
		started := action.started
		action.mu.Unlock()
		Expect(started).To(BeTrue())

		Expect(f.Close()).To(Succeed())
		Expect(f.Close()).To(MatchError(ContainSubstring("already")))

		action.mu.Lock()
		closed := action.closed
		action.mu.Unlock()
		Expect(closed).To(BeTrue())
	})

	It("returns the Start error from a failing lifecycle component", func() {
		boom := errors.New("boom")
		action := &lifecycleAction{}
		action.startErr = boom
		f, err := protocol.NewFactory(protocol.FactoryOptions{
			FullName:     "start-fail",
			CodecFactory: func() codec.Codec { return lineCodec{} },
			Config:       sckcfg.Server{Network: libptc.NetworkTCP, Address: "127.0.0.1:0"},
			Action:       action,
		})
		Expect(err).To(BeNil())
		Expect(f.Start(context.Background())).To(MatchError(boom))
	})

	It("demultiplexes UDP datagrams by source address into one Connection per peer", func() {
		action := &recordingAction{}
		f, err := protocol.NewFactory(protocol.FactoryOptions{
			FullName:     "udp-server",
			CodecFactory: func() codec.Codec { return lineCodec{} },
			Config:       sckcfg.Server{Network: libptc.NetworkUDP, Address: "127.0.0.1:0"},
			Action:       action,
		})
		Expect(err).To(BeNil())
		Expect(f.Start(context.Background())).To(Succeed())
		defer f.Close()

		addr := waitListenAddr(f)
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		Expect(err).To(BeNil())

		connA, err := net.DialUDP("udp", nil, udpAddr)
		Expect(err).To(BeNil())
		defer connA.Close()
		connB, err := net.DialUDP("udp", nil, udpAddr)
		Expect(err).To(BeNil())
		defer connB.Close()

		_, err = connA.Write([]byte("from-a\n"))
		Expect(err).To(BeNil())
		_, err = connB.Write([]byte("from-b\n"))
		Expect(err).To(BeNil())

		Expect(f.WaitNumHasConnected(withTimeout(), 2)).To(Succeed())

		Eventually(func() []string {
			_, _, msgs := action.snapshot()
			return msgs
		}).Should(ConsistOf("from-a", "from-b"))
	})
})

// fakeConnection is the minimal connection.Connection test double needed to
// exercise Factory.IsOwner without standing up a real Stream/Datagram.
type fakeConnection struct {
	parent string
}

func (c *fakeConnection) Name() string            { return "fake" }
func (c *fakeConnection) ParentName() string      { return c.parent }
func (c *fakeConnection) Context() codec.Context  { return nil }
func (c *fakeConnection) RemoteAddr() net.Addr    { return nil }
func (c *fakeConnection) LocalAddr() net.Addr     { return nil }
func (c *fakeConnection) IsConnected() bool       { return true }
func (c *fakeConnection) Done() <-chan struct{}   { return nil }
func (c *fakeConnection) Close() error            { return nil }

// fakeRequester is the minimal adaptor.Requester test double needed to
// exercise NewFactory's "exactly one of Action/Requester" validation.
type fakeRequester struct{}

func (fakeRequester) OnConnect(codec.Context) error                       { return nil }
func (fakeRequester) OnResponse(context.Context, codec.Message) error     { return nil }
func (fakeRequester) OnDisconnect(codec.Context, error)                  {}

func withTimeout() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	GinkgoT().Cleanup(cancel)
	return ctx
}

// waitListenAddr polls until Start has published its listener/packet conn
// address; Start opens the transport asynchronously relative to its caller
// only in the sense that the accept goroutine is spawned after the address
// is already known, so in practice this resolves on the first attempt, but
// the test does not depend on that timing.
func waitListenAddr(f *protocol.Factory) string {
	var addr string
	Eventually(func() string {
		addr = f.ListenAddr()
		return addr
	}).ShouldNot(BeEmpty())
	return addr
}
