// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"math/rand"
	"time"

	"github.com/cloudvpn/cloudvpn-go/pkg/transport"
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// testClock replaces a core's wall clock so timer tests don't sleep.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_000_000, 0)}
}

func (tc *testClock) Now() time.Time {
	return tc.now
}

func (tc *testClock) Advance(d time.Duration) {
	tc.now = tc.now.Add(d)
}

// newTestCore builds a loopless Core with a fixed clock and a seeded
// rng; tests pump its action queue through settle.
func newTestCore(conf Config) (*Core, *testClock) {
	c := newCore(conf)
	tc := newTestClock()
	c.clock = tc.Now
	c.rng = rand.New(rand.NewSource(42))

	return c, tc
}

// settle drains every core's action queue until all of them are idle.
// Mem transports enqueue follow-up work on the receiving core, so one
// round may fan out into many.
func settle(cores ...*Core) {
	for progress := true; progress; {
		progress = false

		for _, c := range cores {
			for drained := false; !drained; {
				select {
				case f := <-c.actions:
					f()
					progress = true
				default:
					drained = true
				}
			}
		}
	}
}

// wirePair connects two cores with an in-memory transport, a dialing
// from b accepting, and settles until both sides are active.
func wirePair(a, b *Core, name string) (*Connection, *Connection) {
	ta, tb := transport.MemPair()

	a.AddPeer(transport.NewMemConnector(name, ta))
	b.AcceptTransport(tb)
	settle(a, b)

	return a.conns[a.peers[name]], b.conns[b.tindex[tb]]
}

type gatePacket struct {
	pi  wire.PacketInfo
	buf []byte
}

// testGate records every delivered packet.
type testGate struct {
	ready     bool
	local     []wire.Address
	instances map[uint32]bool
	got       []gatePacket
}

func newTestGate(local ...wire.Address) *testGate {
	g := &testGate{
		ready:     true,
		local:     local,
		instances: make(map[uint32]bool),
	}
	for _, a := range local {
		g.instances[a.Instance] = true
	}

	return g
}

func (g *testGate) Ready() bool {
	return g.ready
}

func (g *testGate) Local() []wire.Address {
	return g.local
}

func (g *testGate) HasInstance(instance uint32) bool {
	return g.instances[instance]
}

func (g *testGate) SendPacket(pi wire.PacketInfo, buf []byte) {
	g.got = append(g.got, gatePacket{pi: pi, buf: append([]byte(nil), buf...)})
}

// activeConn fabricates an Active connection with the given measured
// ping and advertised routes, for table construction tests.
func activeConn(c *Core, ping uint32, routes map[wire.Key]remoteRoute) *Connection {
	conn := c.newConnection("fake")
	conn.state = Active
	conn.ping = ping
	conn.remoteRoutes = routes

	return conn
}

type rawFrame struct {
	H       wire.Header
	Payload []byte
}

// drainFrames parses every complete frame buffered on a raw mem
// transport half.
func drainFrames(t *transport.MemTransport) []rawFrame {
	var pending []byte
	buf := make([]byte, 1<<20)
	for {
		n, err := t.Read(buf)
		if err != nil {
			break
		}
		pending = append(pending, buf[:n]...)
	}

	var out []rawFrame
	for len(pending) >= wire.HeaderLen {
		h, err := wire.ParseHeader(pending)
		if err != nil || len(pending) < wire.HeaderLen+int(h.Size) {
			break
		}
		out = append(out, rawFrame{h, pending[wire.HeaderLen : wire.HeaderLen+int(h.Size)]})
		pending = pending[wire.HeaderLen+int(h.Size):]
	}

	return out
}
