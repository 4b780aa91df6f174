// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import "sync"

// MemTransport is an in-memory Transport half, connected to its peer
// half by MemPair. It exists for tests and in-process wiring; the
// "handshake" completes instantly.
type MemTransport struct {
	mu sync.Mutex

	peer   *MemTransport
	inbuf  []byte
	closed bool
	err    error

	// writeLimit caps how many bytes a single Write accepts; zero
	// means unlimited. Tests use it to force partial writes.
	writeLimit int

	// budget limits the total bytes Write accepts until Grant adds
	// more; negative means unlimited. Tests use it to make the
	// transport block.
	budget int

	notifier Notifier
}

// MemPair creates two connected MemTransport halves. Both report a
// completed handshake right after the notify callback is installed.
func MemPair() (*MemTransport, *MemTransport) {
	a := &MemTransport{budget: -1}
	b := &MemTransport{budget: -1}
	a.peer, b.peer = b, a

	a.notifier.Fire(EventHandshake)
	b.notifier.Fire(EventHandshake)

	return a, b
}

func (m *MemTransport) String() string {
	return "mem"
}

// SetWriteLimit caps the bytes accepted per Write call.
func (m *MemTransport) SetWriteLimit(n int) {
	m.mu.Lock()
	m.writeLimit = n
	m.mu.Unlock()
}

// SetWriteBudget bounds the total bytes further Writes accept; a
// negative value removes the bound.
func (m *MemTransport) SetWriteBudget(n int) {
	m.mu.Lock()
	m.budget = n
	m.mu.Unlock()
}

// Grant extends the write budget and announces writability.
func (m *MemTransport) Grant(n int) {
	m.mu.Lock()
	if m.budget < 0 {
		m.budget = 0
	}
	m.budget += n
	m.mu.Unlock()

	m.notifier.Fire(EventWritable)
}

func (m *MemTransport) SetNotify(fn Notify) {
	m.notifier.Set(fn)
}

func (m *MemTransport) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.inbuf) == 0 {
		if m.closed {
			return 0, ErrClosed
		}
		return 0, ErrAgain
	}

	n := copy(p, m.inbuf)
	m.inbuf = m.inbuf[n:]

	return n, nil
}

func (m *MemTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	if m.budget == 0 {
		m.mu.Unlock()
		return 0, ErrAgain
	}
	if m.writeLimit > 0 && len(p) > m.writeLimit {
		p = p[:m.writeLimit]
	}
	if m.budget > 0 {
		if len(p) > m.budget {
			p = p[:m.budget]
		}
		m.budget -= len(p)
	}
	m.mu.Unlock()

	peer := m.peer
	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return 0, ErrClosed
	}
	peer.inbuf = append(peer.inbuf, p...)
	peer.mu.Unlock()

	peer.notifier.Fire(EventReadable)

	return len(p), nil
}

func (m *MemTransport) Handshaken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return !m.closed
}

func (m *MemTransport) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.err
}

func (m *MemTransport) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	peer := m.peer
	peer.mu.Lock()
	wasClosed := peer.closed
	if !wasClosed {
		peer.closed = true
		peer.err = ErrClosed
	}
	peer.mu.Unlock()

	if !wasClosed {
		peer.notifier.Fire(EventError)
	}

	return nil
}

// MemConnector yields pre-created transports on Connect, one per call.
// Tests use it to hand the dialing side of a MemPair to a core.
type MemConnector struct {
	mu   sync.Mutex
	name string
	next []*MemTransport
}

// NewMemConnector creates a MemConnector handing out the given
// transports in order.
func NewMemConnector(name string, ts ...*MemTransport) *MemConnector {
	return &MemConnector{name: name, next: ts}
}

// Push appends another transport to hand out, for reconnect tests.
func (mc *MemConnector) Push(t *MemTransport) {
	mc.mu.Lock()
	mc.next = append(mc.next, t)
	mc.mu.Unlock()
}

func (mc *MemConnector) Connect() (Transport, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if len(mc.next) == 0 {
		return nil, ErrClosed
	}

	t := mc.next[0]
	mc.next = mc.next[1:]

	return t, nil
}

func (mc *MemConnector) String() string {
	return mc.name
}
