// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package quict implements the mesh transport over QUIC. Every peer
// link is one QUIC connection carrying a single bidirectional stream;
// TLS 1.3 provides the encryption. A four byte protocol preamble is
// exchanged on the stream before the transport reports its handshake
// as complete.
package quict

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	log "github.com/sirupsen/logrus"

	"github.com/cloudvpn/cloudvpn-go/pkg/transport"
)

const (
	dialTimeout      = 5 * time.Second
	handshakeTimeout = 2 * time.Second

	// maxBuffered bounds each direction's staging buffer. Reads stall
	// the pump and writes return ErrAgain beyond it.
	maxBuffered = 256 * 1024
)

var preamble = []byte("CVPN")

// Transport is a QUIC-backed transport.Transport. Two pump goroutines
// shuttle bytes between the blocking stream and the non-blocking
// buffers the core polls.
type Transport struct {
	peerAddress string
	dialer      bool

	mu     sync.Mutex
	conn   *quic.Conn
	stream *quic.Stream
	rbuf   []byte
	wbuf   []byte
	// rfull is signalled when the read pump may continue, wready when
	// the write pump has bytes to flush.
	rfull  *sync.Cond
	wready *sync.Cond

	hs        bool
	wantWrite bool
	closed    bool
	err       error

	notifier transport.Notifier
}

func newTransport(peerAddress string, dialer bool) *Transport {
	t := &Transport{peerAddress: peerAddress, dialer: dialer}
	t.rfull = sync.NewCond(&t.mu)
	t.wready = sync.NewCond(&t.mu)

	return t
}

// dial creates the dialing side; the QUIC handshake runs asynchronously.
func dial(peerAddress string) *Transport {
	t := newTransport(peerAddress, true)
	go t.connectDialer()

	return t
}

// accepted wraps an accepted QUIC connection; the stream handshake runs
// asynchronously.
func accepted(conn *quic.Conn) *Transport {
	t := newTransport(conn.RemoteAddr().String(), false)
	t.conn = conn
	go t.connectListener()

	return t
}

func (t *Transport) String() string {
	return fmt.Sprintf("quict://%s", t.peerAddress)
}

func (t *Transport) log() *log.Entry {
	return log.WithFields(log.Fields{
		"transport": t,
		"dialer":    t.dialer,
	})
}

func (t *Transport) connectDialer() {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, t.peerAddress, generateDialerTLSConfig(), generateQUICConfig())
	if err != nil {
		t.fail(fmt.Errorf("dialing failed: %w", err))
		return
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		t.fail(fmt.Errorf("opening stream failed: %w", err))
		return
	}

	// The dialer speaks first so the listener's AcceptStream wakes up.
	if _, err := stream.Write(preamble); err != nil {
		t.fail(fmt.Errorf("sending preamble failed: %w", err))
		return
	}
	if err := expectPreamble(stream); err != nil {
		t.fail(err)
		return
	}

	t.established(conn, stream)
}

func (t *Transport) connectListener() {
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()

	stream, err := t.conn.AcceptStream(ctx)
	if err != nil {
		_ = t.conn.CloseWithError(0, "no stream")
		t.fail(fmt.Errorf("accepting stream failed: %w", err))
		return
	}

	if err := expectPreamble(stream); err != nil {
		t.fail(err)
		return
	}
	if _, err := stream.Write(preamble); err != nil {
		t.fail(fmt.Errorf("sending preamble failed: %w", err))
		return
	}

	t.established(t.conn, stream)
}

func expectPreamble(stream *quic.Stream) error {
	got := make([]byte, len(preamble))
	_ = stream.SetReadDeadline(time.Now().Add(handshakeTimeout))
	if _, err := io.ReadFull(stream, got); err != nil {
		return fmt.Errorf("reading preamble failed: %w", err)
	}
	_ = stream.SetReadDeadline(time.Time{})

	if !bytes.Equal(got, preamble) {
		return fmt.Errorf("peer sent preamble %x", got)
	}

	return nil
}

func (t *Transport) established(conn *quic.Conn, stream *quic.Stream) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.CloseWithError(0, "closed while handshaking")
		return
	}
	t.conn = conn
	t.stream = stream
	t.hs = true
	t.mu.Unlock()

	t.log().Debug("Transport established")

	go t.readPump()
	go t.writePump()

	t.notifier.Fire(transport.EventHandshake)
}

// fail records the first error and reports it upwards.
func (t *Transport) fail(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.err = err
	if t.conn != nil {
		_ = t.conn.CloseWithError(0, "transport failure")
	}
	t.rfull.Broadcast()
	t.wready.Broadcast()
	t.mu.Unlock()

	t.log().WithError(err).Debug("Transport failed")

	t.notifier.Fire(transport.EventError)
}

func (t *Transport) readPump() {
	tmp := make([]byte, 16*1024)

	for {
		n, err := t.stream.Read(tmp)

		if n > 0 {
			t.mu.Lock()
			for len(t.rbuf) >= maxBuffered && !t.closed {
				t.rfull.Wait()
			}
			if t.closed {
				t.mu.Unlock()
				return
			}
			wasEmpty := len(t.rbuf) == 0
			t.rbuf = append(t.rbuf, tmp[:n]...)
			t.mu.Unlock()

			if wasEmpty {
				t.notifier.Fire(transport.EventReadable)
			}
		}

		if err != nil {
			t.fail(fmt.Errorf("stream read failed: %w", err))
			return
		}
	}
}

func (t *Transport) writePump() {
	for {
		t.mu.Lock()
		for len(t.wbuf) == 0 && !t.closed {
			t.wready.Wait()
		}
		if t.closed {
			t.mu.Unlock()
			return
		}
		out := t.wbuf
		t.wbuf = nil
		t.mu.Unlock()

		if _, err := t.stream.Write(out); err != nil {
			t.fail(fmt.Errorf("stream write failed: %w", err))
			return
		}

		t.mu.Lock()
		drained := t.wantWrite && len(t.wbuf) == 0
		if drained {
			t.wantWrite = false
		}
		t.mu.Unlock()

		if drained {
			t.notifier.Fire(transport.EventWritable)
		}
	}
}

func (t *Transport) SetNotify(fn transport.Notify) {
	t.notifier.Set(fn)
}

func (t *Transport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.rbuf) == 0 {
		if t.closed {
			return 0, transport.ErrClosed
		}
		return 0, transport.ErrAgain
	}

	n := copy(p, t.rbuf)
	t.rbuf = t.rbuf[n:]
	if len(t.rbuf) < maxBuffered {
		t.rfull.Signal()
	}

	return n, nil
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, transport.ErrClosed
	}
	if !t.hs {
		t.wantWrite = true
		return 0, transport.ErrAgain
	}

	space := maxBuffered - len(t.wbuf)
	if space <= 0 {
		t.wantWrite = true
		return 0, transport.ErrAgain
	}
	if len(p) > space {
		p = p[:space]
	}

	t.wbuf = append(t.wbuf, p...)
	t.wready.Signal()

	return len(p), nil
}

func (t *Transport) Handshaken() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.hs && !t.closed
}

func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.err
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.rfull.Broadcast()
	t.wready.Broadcast()
	t.mu.Unlock()

	if conn != nil {
		return conn.CloseWithError(0, "shutdown")
	}

	return nil
}

// Connector dials one peer address on demand.
type Connector struct {
	address string
}

// NewConnector creates a Connector towards the given UDP address.
func NewConnector(address string) *Connector {
	return &Connector{address: address}
}

func (c *Connector) Connect() (transport.Transport, error) {
	return dial(c.address), nil
}

func (c *Connector) String() string {
	return fmt.Sprintf("quict://%s", c.address)
}
