// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"github.com/cloudvpn/cloudvpn-go/pkg/transport"
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// The two outbound lanes: the proto lane carries routing messages and
// probes and is served first; the data lane carries packets. A frame
// that started sending is always finished before the writer switches
// lanes, so frame bytes never interleave on the wire.

func (conn *Connection) canWriteProto(n int) bool {
	return conn.protoQSize+n < conn.c.conf.MaxWaitingProtoSize
}

func (conn *Connection) canWriteData(n int) bool {
	return conn.dataQSize+n < conn.c.conf.MaxWaitingDataSize
}

// writeProto queues a frame on the proto lane. Overfull lanes drop
// silently; the routing layer tolerates lost messages.
func (conn *Connection) writeProto(frame []byte) bool {
	if !conn.canWriteProto(len(frame)) {
		return false
	}

	conn.protoQ = append(conn.protoQ, frame)
	conn.protoQSize += len(frame)

	return true
}

// writeData queues a frame on the data lane, applying admission and
// Random Early Drop.
func (conn *Connection) writeData(frame []byte) bool {
	if !conn.canWriteData(len(frame)) {
		return false
	}

	if red := conn.c.conf.RedThreshold; red > 0 && conn.dataQSize > red {
		p := float64(conn.dataQSize-red) / float64(conn.c.conf.MaxWaitingDataSize-red)
		if conn.c.rng.Float64() < p {
			return false
		}
	}

	conn.dataQ = append(conn.dataQ, frame)
	conn.dataQSize += len(frame)

	return true
}

// writePacket queues a unicast packet frame.
func (conn *Connection) writePacket(pi wire.PacketInfo, buf []byte) {
	if conn.state != Active {
		return
	}

	if conn.writeData(wire.AppendPacketFrame(nil, pi, buf)) {
		conn.stats.outPackets++
	}
	conn.pollWrite()
}

// writeBroadcast queues a broadcast packet frame.
func (conn *Connection) writeBroadcast(pi wire.PacketInfo, buf []byte) {
	if conn.state != Active {
		return
	}

	if conn.writeData(wire.AppendBroadcastFrame(nil, pi, buf)) {
		conn.stats.outPackets++
	}
	conn.pollWrite()
}

func (conn *Connection) dropQueues() {
	conn.protoQ, conn.dataQ = nil, nil
	conn.protoQSize, conn.dataQSize = 0, 0
	conn.cur = nil
	conn.sendingFromDataQ = false
}

func (conn *Connection) queuesEmpty() bool {
	return conn.cur == nil && len(conn.protoQ) == 0 && len(conn.dataQ) == 0
}

// pollWrite pushes queued frames into the transport until it blocks,
// the bandwidth budget runs out or the queues drain.
func (conn *Connection) pollWrite() {
	if conn.t == nil || !conn.t.Handshaken() {
		return
	}

	limited := conn.c.conf.uplinkLimited()

	for {
		if conn.cur == nil {
			switch {
			case len(conn.protoQ) > 0:
				conn.cur = conn.protoQ[0]
				conn.protoQ = conn.protoQ[1:]
				conn.protoQSize -= len(conn.cur)
				conn.sendingFromDataQ = false

			case len(conn.dataQ) > 0:
				conn.cur = conn.dataQ[0]
				conn.dataQ = conn.dataQ[1:]
				conn.dataQSize -= len(conn.cur)
				conn.sendingFromDataQ = true

			default:
				if conn.state == Closing {
					conn.finishClose()
				}
				return
			}
		}

		chunk := conn.cur
		if limited {
			if conn.ublAvailable <= 0 {
				return
			}
			if len(chunk) > conn.ublAvailable {
				chunk = chunk[:conn.ublAvailable]
			}
		}

		n, err := conn.t.Write(chunk)
		if err == transport.ErrAgain {
			return
		}
		if err != nil {
			conn.log().WithError(err).Debug("Write failed")
			conn.reset()
			return
		}

		if limited {
			conn.ublAvailable -= n
		}
		conn.stats.outBytes += uint64(n)

		conn.cur = conn.cur[n:]
		if len(conn.cur) == 0 {
			conn.cur = nil
			conn.sendingFromDataQ = false
		}
	}
}
