// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"testing"

	"github.com/cloudvpn/cloudvpn-go/pkg/transport"
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// Scenario: a stalled transport holds one 600 byte frame in flight;
// with a 1000 byte data lane the next frame queues and the one after
// is rejected, while the proto lane keeps accepting pings.
func TestQueueOverflow(t *testing.T) {
	c, _ := newTestCore(Config{MaxWaitingDataSize: 1000})

	ta, _ := transport.MemPair()
	ta.SetWriteBudget(0)

	conn := c.newConnection("test")
	conn.setTransport(ta)
	conn.state = Active
	settle(c)

	frame := func() []byte { return make([]byte, 600) }

	if !conn.writeData(frame()) {
		t.Fatal("first frame rejected")
	}
	conn.pollWrite() // dequeues into cur, then blocks

	if !conn.writeData(frame()) {
		t.Fatal("second frame rejected")
	}
	if conn.writeData(frame()) {
		t.Fatal("third frame accepted beyond the lane bound")
	}

	if !conn.writeProto(wire.ControlFrame(wire.MsgPing, 1)) {
		t.Fatal("proto lane affected by data lane pressure")
	}
}

func TestQueueByteCounters(t *testing.T) {
	c, _ := newTestCore(Config{})
	conn := c.newConnection("test")
	conn.state = Active

	conn.writeData(make([]byte, 100))
	conn.writeData(make([]byte, 50))
	conn.writeProto(make([]byte, 8))

	sum := 0
	for _, f := range conn.dataQ {
		sum += len(f)
	}
	if conn.dataQSize != sum || sum != 150 {
		t.Fatalf("data counter %d, queued %d", conn.dataQSize, sum)
	}
	if conn.protoQSize != 8 {
		t.Fatalf("proto counter %d", conn.protoQSize)
	}
}

// The proto lane preempts the data lane, but only at frame boundaries:
// a data frame that started sending finishes first.
func TestLanePriorityAndStickiness(t *testing.T) {
	c, _ := newTestCore(Config{})

	ta, tb := transport.MemPair()
	ta.SetWriteBudget(0)

	conn := c.newConnection("test")
	conn.setTransport(ta)
	conn.state = Active
	settle(c)

	data := wire.AppendPacketFrame(nil, wire.PacketInfo{Ds: 1}, []byte{0xAA})
	conn.writeData(data)
	conn.pollWrite() // data frame becomes cur, blocked at byte 0

	if !conn.sendingFromDataQ {
		t.Fatal("writer did not pick the data lane")
	}

	conn.writeProto(wire.ControlFrame(wire.MsgPing, 1))

	// Let half the data frame through, then everything.
	ta.Grant(10)
	settle(c)
	ta.SetWriteBudget(-1)
	conn.pollWrite()

	frames := drainFrames(tb)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if frames[0].H.Type != wire.MsgPacket {
		t.Fatalf("in-flight data frame was preempted by %v", frames[0].H.Type)
	}
	if frames[1].H.Type != wire.MsgPing {
		t.Fatalf("expected the ping second, got %v", frames[1].H.Type)
	}
}

// With an idle writer, a queued proto frame goes out before queued
// data frames.
func TestProtoLaneFirst(t *testing.T) {
	c, _ := newTestCore(Config{})

	ta, tb := transport.MemPair()
	ta.SetWriteBudget(0)

	conn := c.newConnection("test")
	conn.setTransport(ta)
	conn.state = Active
	settle(c)

	// Blocked before anything is dequeued: both lanes fill.
	conn.writeData(wire.AppendPacketFrame(nil, wire.PacketInfo{Ds: 1}, []byte{0xAA}))
	conn.writeProto(wire.ControlFrame(wire.MsgPing, 1))

	ta.SetWriteBudget(-1)
	conn.pollWrite()

	frames := drainFrames(tb)
	if len(frames) != 2 || frames[0].H.Type != wire.MsgPing {
		t.Fatalf("proto frame did not go first: %v", frames)
	}
}

func TestRedDrop(t *testing.T) {
	c, _ := newTestCore(Config{MaxWaitingDataSize: 1000, RedThreshold: 100})
	conn := c.newConnection("test")
	conn.state = Active

	// Below the threshold nothing drops.
	for i := 0; i < 50; i++ {
		conn.dataQ, conn.dataQSize = nil, 50
		if !conn.writeData(make([]byte, 1)) {
			t.Fatal("RED dropped below the threshold")
		}
	}

	// Halfway between threshold and bound the drop probability is
	// (550-100)/(1000-100) = 0.5.
	accepted := 0
	const trials = 10000
	for i := 0; i < trials; i++ {
		conn.dataQ, conn.dataQSize = nil, 550
		if conn.writeData(make([]byte, 1)) {
			accepted++
		}
	}

	if accepted < trials*45/100 || accepted > trials*55/100 {
		t.Fatalf("accepted %d of %d, expected about half", accepted, trials)
	}
}

func TestUplinkBandwidthTokens(t *testing.T) {
	c, _ := newTestCore(Config{UplinkConn: 1000 * ticksPerSecond, UplinkBurst: 1000})

	ta, tb := transport.MemPair()

	conn := c.newConnection("test")
	conn.setTransport(ta)
	conn.state = Active
	settle(c)

	conn.writeData(make([]byte, 1500))
	conn.pollWrite()

	if conn.stats.outBytes != 0 {
		t.Fatalf("sent %d bytes without any bandwidth tokens", conn.stats.outBytes)
	}

	c.blRecompute() // grants 1000 bytes
	if n := conn.stats.outBytes; n != 1000 {
		t.Fatalf("sent %d bytes on a 1000 byte budget", n)
	}

	c.blRecompute()
	if n := conn.stats.outBytes; n != 1500 {
		t.Fatalf("frame still incomplete after refill: %d bytes", n)
	}

	buf := make([]byte, 4096)
	total := 0
	for {
		n, err := tb.Read(buf)
		if err != nil {
			break
		}
		total += n
	}
	if total != 1500 {
		t.Fatalf("peer received %d bytes", total)
	}
}

func TestDownlinkSuspendsReads(t *testing.T) {
	c, _ := newTestCore(Config{DownlinkConn: 100 * ticksPerSecond, DownlinkBurst: 100})

	ta, tb := transport.MemPair()

	conn := c.newConnection("test")
	conn.setTransport(ta)
	conn.state = Active
	conn.dblAvailable = 100
	settle(c)

	// 150 bytes of pings: the first read overshoots the budget and
	// further reads stay suspended.
	for i := 0; i < 150/wire.HeaderLen+1; i++ {
		_, _ = tb.Write(wire.ControlFrame(wire.MsgPing, uint8(i)))
	}
	settle(c)

	if conn.dblOver() == 0 {
		t.Fatal("no downstream debt recorded")
	}

	drainFrames(tb) // clear the pongs already answered

	_, _ = tb.Write(wire.ControlFrame(wire.MsgPing, 99))
	settle(c)

	if got := len(drainFrames(tb)); got != 0 {
		t.Fatalf("suspended connection still answered %d frames", got)
	}

	// Refills eventually clear the debt and reads resume.
	for i := 0; i < 10 && conn.dblAvailable <= 0; i++ {
		c.blRecompute()
	}
	settle(c)

	if got := len(drainFrames(tb)); got == 0 {
		t.Fatal("reads did not resume after the debt cleared")
	}
}
