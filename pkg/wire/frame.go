// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"fmt"
)

// MsgType is the first header byte, selecting the frame's meaning.
type MsgType uint8

const (
	// MsgPacket is a unicast data packet. The header's Special byte
	// carries the remaining hop TTL.
	MsgPacket MsgType = 0x01

	// MsgBroadcastPacket is a flooded data packet whose payload is
	// prefixed with a broadcast id and a TTL.
	MsgBroadcastPacket MsgType = 0x02

	// MsgRouteSet replaces the receiver's view of the sender's routes.
	MsgRouteSet MsgType = 0x03

	// MsgRouteDiff updates single routes; a zero ping withdraws.
	MsgRouteDiff MsgType = 0x04

	// MsgRouteRequest asks the peer for a full MsgRouteSet.
	MsgRouteRequest MsgType = 0x05

	// MsgPing is a latency probe; the probe id rides in Special.
	MsgPing MsgType = 0x06

	// MsgPong answers a MsgPing, echoing its Special byte.
	MsgPong MsgType = 0x07
)

func (t MsgType) String() string {
	switch t {
	case MsgPacket:
		return "packet"
	case MsgBroadcastPacket:
		return "broadcast packet"
	case MsgRouteSet:
		return "route set"
	case MsgRouteDiff:
		return "route diff"
	case MsgRouteRequest:
		return "route request"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	default:
		return "unknown"
	}
}

// HeaderLen is the fixed length of a frame header.
const HeaderLen = 8

// Header precedes every frame: type, one type-specific byte, the
// payload size and a reserved word kept zero on send.
type Header struct {
	Type     MsgType
	Special  uint8
	Size     uint16
	Reserved uint32
}

// ParseHeader reads a Header from the first HeaderLen bytes of b.
func ParseHeader(b []byte) (h Header, err error) {
	if len(b) < HeaderLen {
		err = fmt.Errorf("header needs %d bytes, got %d", HeaderLen, len(b))
		return
	}

	h.Type = MsgType(b[0])
	h.Special = b[1]
	h.Size = binary.BigEndian.Uint16(b[2:4])
	h.Reserved = binary.BigEndian.Uint32(b[4:8])

	return
}

// AppendHeader appends the wire form of h to b.
func AppendHeader(b []byte, h Header) []byte {
	b = append(b, byte(h.Type), h.Special)
	b = binary.BigEndian.AppendUint16(b, h.Size)
	b = binary.BigEndian.AppendUint32(b, h.Reserved)

	return b
}

// ControlFrame builds a payload-free frame, as used for route requests
// and the ping/pong probes.
func ControlFrame(t MsgType, special uint8) []byte {
	return AppendHeader(make([]byte, 0, HeaderLen), Header{Type: t, Special: special})
}
