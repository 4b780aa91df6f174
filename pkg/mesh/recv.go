// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"github.com/cloudvpn/cloudvpn-go/pkg/transport"
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

const readChunk = 16 * 1024

// pollRead pulls inbound bytes and feeds the framing parser. Reads
// stay suspended while the connection is in downstream debt.
func (conn *Connection) pollRead() {
	if conn.t == nil || conn.state == Closing {
		return
	}

	limited := conn.c.conf.downlinkLimited()
	buf := make([]byte, readChunk)

	for {
		if limited && conn.dblAvailable <= 0 {
			return
		}

		n, err := conn.t.Read(buf)
		if err == transport.ErrAgain {
			break
		}
		if err != nil {
			conn.log().WithError(err).Debug("Read failed")
			conn.reset()
			return
		}

		conn.recvQ = append(conn.recvQ, buf[:n]...)
		conn.stats.inBytes += uint64(n)
		if limited {
			conn.dblAvailable -= n
		}

		if !conn.tryParseInput() {
			return
		}
	}

	if len(conn.recvQ) == 0 {
		conn.recvQ = nil
	}
}

// dblOver is the downstream debt in bytes.
func (conn *Connection) dblOver() int {
	if conn.dblAvailable >= 0 {
		return 0
	}

	return -conn.dblAvailable
}

// tryParseInput extracts complete frames from recvQ. It reports false
// when the connection was reset underneath it.
func (conn *Connection) tryParseInput() bool {
	for {
		if conn.cachedHeader == nil {
			if len(conn.recvQ) < wire.HeaderLen {
				return true
			}

			h, err := wire.ParseHeader(conn.recvQ)
			if err != nil || int(h.Size) > conn.c.conf.MTU {
				conn.log().WithField("header", h).Warn("Malformed frame header")
				conn.reset()
				return false
			}

			conn.recvQ = conn.recvQ[wire.HeaderLen:]
			conn.cachedHeader = &h
		}

		h := *conn.cachedHeader
		if len(conn.recvQ) < int(h.Size) {
			return true
		}

		payload := conn.recvQ[:h.Size]
		conn.recvQ = conn.recvQ[h.Size:]
		conn.cachedHeader = nil

		if !conn.handleFrame(h, payload) {
			return false
		}
	}
}

// handleFrame dispatches one complete frame. It reports false when the
// frame caused a reset.
func (conn *Connection) handleFrame(h wire.Header, payload []byte) bool {
	switch h.Type {
	case wire.MsgPing:
		conn.writeProto(wire.ControlFrame(wire.MsgPong, h.Special))
		conn.pollWrite()

	case wire.MsgPong:
		conn.handlePong(h.Special)

	case wire.MsgRouteRequest:
		conn.writeProto(conn.c.fullRouteSetFrame())
		conn.pollWrite()

	case wire.MsgRouteSet:
		return conn.handleRouteSet(payload)

	case wire.MsgRouteDiff:
		return conn.handleRouteDiff(payload)

	case wire.MsgPacket, wire.MsgBroadcastPacket:
		conn.handlePacket(h, payload)

	default:
		// Unknown types pass silently, leaving room for future frames.
		conn.log().WithField("type", h.Type).Debug("Ignoring unknown frame type")
	}

	return conn.t != nil
}

// handleRouteSet replaces the peer's advertised table.
func (conn *Connection) handleRouteSet(payload []byte) bool {
	recs, err := wire.ParseRouteRecords(payload)
	if err != nil {
		conn.log().WithError(err).Warn("Malformed route set")
		conn.reset()
		return false
	}

	routes := make(map[wire.Key]remoteRoute, len(recs))
	for _, r := range recs {
		if r.IsWithdrawal() {
			continue
		}
		routes[r.Addr.Key()] = remoteRoute{Ping: r.Ping, Dist: r.Dist}
	}

	if len(routes) > conn.c.conf.MaxRemoteRoutes {
		conn.routesOverflowed()
		return true
	}

	conn.remoteRoutes = routes
	conn.routeOverflow = false
	conn.c.routeDirty++

	return true
}

// handleRouteDiff applies single route changes; a zero ping withdraws.
func (conn *Connection) handleRouteDiff(payload []byte) bool {
	recs, err := wire.ParseRouteRecords(payload)
	if err != nil {
		conn.log().WithError(err).Warn("Malformed route diff")
		conn.reset()
		return false
	}

	// While overflowed the table is gone; diffs are meaningless until
	// the requested full set arrives.
	if conn.routeOverflow {
		return true
	}

	if conn.remoteRoutes == nil {
		conn.remoteRoutes = make(map[wire.Key]remoteRoute)
	}

	for _, r := range recs {
		if r.IsWithdrawal() {
			delete(conn.remoteRoutes, r.Addr.Key())
		} else {
			conn.remoteRoutes[r.Addr.Key()] = remoteRoute{Ping: r.Ping, Dist: r.Dist}
		}
	}

	if len(conn.remoteRoutes) > conn.c.conf.MaxRemoteRoutes {
		conn.routesOverflowed()
		return true
	}

	if len(recs) > 0 {
		conn.c.routeDirty++
	}

	return true
}

// routesOverflowed drops the peer's oversized table and asks for a
// fresh, hopefully smaller one.
func (conn *Connection) routesOverflowed() {
	conn.log().WithField("max", conn.c.conf.MaxRemoteRoutes).Warn("Peer route table overflow")

	conn.remoteRoutes = make(map[wire.Key]remoteRoute)
	conn.routeOverflow = true
	conn.c.routeDirty++

	conn.writeProto(wire.ControlFrame(wire.MsgRouteRequest, 0))
	conn.pollWrite()
}

// handlePacket feeds a data packet into the forwarder. Invalid packets
// drop without touching the connection.
func (conn *Connection) handlePacket(h wire.Header, payload []byte) {
	pi, buf, err := wire.ParsePacketPayload(h, payload)
	if err != nil {
		conn.log().WithError(err).Debug("Dropping invalid packet")
		return
	}

	conn.stats.inPackets++

	if h.Type == wire.MsgPacket {
		// Unicast frames carry no dedup id; draw a fresh one.
		pi.ID = conn.c.newPacketUID()
	}

	conn.c.routePacket(pi, h.Type == wire.MsgBroadcastPacket, buf, conn.id)
}
