// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"testing"
	"time"

	"github.com/cloudvpn/cloudvpn-go/pkg/transport"
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

func TestActivationPushesRoutes(t *testing.T) {
	c, _ := newTestCore(Config{})

	g := newTestGate(wire.MustNewAddress(7, []byte{0xAA}))
	c.RegisterGate(g)
	settle(c)
	c.routeUpdate()

	ta, tb := transport.MemPair()
	c.AcceptTransport(tb)
	settle(c)

	conn := c.conns[c.tindex[tb]]
	if conn.state != Active {
		t.Fatalf("connection is %v", conn.state)
	}
	if conn.peerConnectedSince.IsZero() {
		t.Fatal("peerConnectedSince not recorded")
	}

	frames := drainFrames(ta)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames on activation, got %d", len(frames))
	}
	if frames[0].H.Type != wire.MsgRouteRequest {
		t.Fatalf("first frame is %v", frames[0].H.Type)
	}
	if frames[1].H.Type != wire.MsgRouteSet {
		t.Fatalf("second frame is %v", frames[1].H.Type)
	}

	recs, err := wire.ParseRouteRecords(frames[1].Payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Addr.Key() != wire.MustNewAddress(7, []byte{0xAA}).Key() {
		t.Fatalf("unexpected route set %v", recs)
	}
}

func TestKeepaliveAndPong(t *testing.T) {
	a, ca := newTestCore(Config{})
	b, _ := newTestCore(Config{})

	connA, _ := wirePair(a, b, "b")

	if connA.state != Active {
		t.Fatalf("connection is %v", connA.state)
	}

	ca.Advance(a.conf.Keepalive + time.Second)
	a.periodicUpdate()
	settle(a, b)

	if connA.sentPingID == 0 {
		t.Fatal("no ping was sent")
	}
	if !connA.sentPingTime.IsZero() {
		t.Fatal("pong did not clear the outstanding probe")
	}
	if connA.ping != 1 {
		t.Fatalf("measured ping is %d, expected the 1µs floor", connA.ping)
	}
}

func TestPingTimeoutResets(t *testing.T) {
	a, ca := newTestCore(Config{})

	// A silent peer: raw transport half that never answers.
	ta, _ := transport.MemPair()
	a.AddPeer(transport.NewMemConnector("silent", ta))
	settle(a)

	conn := a.conns[a.peers["silent"]]
	if conn.state != Active {
		t.Fatalf("connection is %v", conn.state)
	}

	ca.Advance(a.conf.Keepalive + time.Second)
	a.periodicUpdate()
	settle(a)

	if conn.sentPingTime.IsZero() {
		t.Fatal("no probe outstanding")
	}

	ca.Advance(a.conf.Timeout + time.Second)
	a.periodicUpdate()
	settle(a)

	if conn.state != RetryTimeout {
		t.Fatalf("connection is %v, expected retry timeout", conn.state)
	}
	if conn.t != nil {
		t.Fatal("transport survived the reset")
	}
}

func TestRetryReconnects(t *testing.T) {
	a, ca := newTestCore(Config{})

	ta1, _ := transport.MemPair()
	mc := transport.NewMemConnector("peer", ta1)
	a.AddPeer(mc)
	settle(a)

	conn := a.conns[a.peers["peer"]]
	conn.reset()
	if conn.state != RetryTimeout {
		t.Fatalf("connection is %v", conn.state)
	}

	ta2, _ := transport.MemPair()
	mc.Push(ta2)

	ca.Advance(a.conf.Retry + time.Second)
	a.periodicUpdate()
	settle(a)

	if conn.state != Active {
		t.Fatalf("connection is %v after retry", conn.state)
	}
	if a.tindex[ta2] != conn.id {
		t.Fatal("reconnect did not reindex the new transport")
	}
}

func TestOversizedFrameResets(t *testing.T) {
	c, _ := newTestCore(Config{MTU: 1024})

	ta, tb := transport.MemPair()
	c.AcceptTransport(tb)
	settle(c)

	conn := c.conns[c.tindex[tb]]

	_, _ = ta.Write(wire.AppendHeader(nil, wire.Header{Type: wire.MsgPacket, Size: 2048}))
	settle(c)

	if conn.state == Active {
		t.Fatal("oversized frame did not reset the connection")
	}
	if _, ok := c.conns[conn.id]; ok {
		t.Fatal("inbound connection survived its reset")
	}
}

func TestUnknownFrameTypeIgnored(t *testing.T) {
	c, _ := newTestCore(Config{})

	ta, tb := transport.MemPair()
	c.AcceptTransport(tb)
	settle(c)

	conn := c.conns[c.tindex[tb]]

	_, _ = ta.Write(wire.AppendHeader(nil, wire.Header{Type: 0x7F, Size: 4}))
	_, _ = ta.Write([]byte{1, 2, 3, 4})
	_, _ = ta.Write(wire.ControlFrame(wire.MsgPing, 5))
	settle(c)

	if conn.state != Active {
		t.Fatalf("unknown frame type broke the connection: %v", conn.state)
	}

	frames := drainFrames(ta)
	last := frames[len(frames)-1]
	if last.H.Type != wire.MsgPong || last.H.Special != 5 {
		t.Fatalf("ping after unknown frame went unanswered: %v", last.H)
	}
}

func TestRouteOverflowOncePerCrossing(t *testing.T) {
	c, _ := newTestCore(Config{MaxRemoteRoutes: 2})

	ta, tb := transport.MemPair()
	c.AcceptTransport(tb)
	settle(c)

	conn := c.conns[c.tindex[tb]]
	drainFrames(ta) // activation traffic, including one route request

	recs := []wire.RouteRecord{
		{Ping: 1, Dist: 0, Addr: wire.MustNewAddress(1, []byte{0x01})},
		{Ping: 1, Dist: 0, Addr: wire.MustNewAddress(1, []byte{0x02})},
		{Ping: 1, Dist: 0, Addr: wire.MustNewAddress(1, []byte{0x03})},
	}

	_, _ = ta.Write(wire.RouteFrame(wire.MsgRouteDiff, recs))
	settle(c)

	if !conn.routeOverflow {
		t.Fatal("overflow flag not set")
	}
	if len(conn.remoteRoutes) != 0 {
		t.Fatal("oversized table was kept")
	}

	requests := 0
	for _, f := range drainFrames(ta) {
		if f.H.Type == wire.MsgRouteRequest {
			requests++
		}
	}
	if requests != 1 {
		t.Fatalf("expected exactly one route request, got %d", requests)
	}

	// Still overflowed: another diff must not trigger a second request.
	_, _ = ta.Write(wire.RouteFrame(wire.MsgRouteDiff, recs))
	settle(c)

	for _, f := range drainFrames(ta) {
		if f.H.Type == wire.MsgRouteRequest {
			t.Fatal("second route request during one crossing")
		}
	}

	// A fitting route set clears the condition.
	_, _ = ta.Write(wire.RouteFrame(wire.MsgRouteSet, recs[:2]))
	settle(c)

	if conn.routeOverflow {
		t.Fatal("overflow flag survived a fitting route set")
	}
	if len(conn.remoteRoutes) != 2 {
		t.Fatalf("remote routes %d", len(conn.remoteRoutes))
	}
}

func TestEmptyDiffIsNoop(t *testing.T) {
	c, _ := newTestCore(Config{})

	conn := activeConn(c, 10, map[wire.Key]remoteRoute{
		wire.MustNewAddress(1, []byte{0x01}).Key(): {Ping: 5, Dist: 1},
	})

	dirty := c.routeDirty
	if !conn.handleRouteDiff(nil) {
		t.Fatal("empty diff reset the connection")
	}

	if len(conn.remoteRoutes) != 1 {
		t.Fatal("empty diff changed the remote routes")
	}
	if c.routeDirty != dirty {
		t.Fatal("empty diff dirtied the route table")
	}
}

func TestGracefulDisconnectDrains(t *testing.T) {
	c, _ := newTestCore(Config{})

	_, tb := transport.MemPair()

	c.AcceptTransport(tb)
	settle(c)
	conn := c.conns[c.tindex[tb]]

	// Block the transport so queued frames stay put; Closing must
	// drain them before the transport goes away.
	tb.SetWriteBudget(0)

	conn.writeProto(wire.ControlFrame(wire.MsgPing, 1))
	conn.disconnect()

	if conn.state != Closing {
		t.Fatalf("connection is %v", conn.state)
	}

	tb.SetWriteBudget(-1)
	conn.pollWrite()

	if _, ok := c.conns[conn.id]; ok {
		t.Fatal("connection not removed after the drain completed")
	}
}
