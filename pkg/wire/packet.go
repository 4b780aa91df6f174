// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// PacketPrefixLen is the payload prefix of a MsgPacket:
	// inst, dof, ds, sof, ss.
	PacketPrefixLen = 12

	// BroadcastPrefixLen is the payload prefix of a MsgBroadcastPacket,
	// a broadcast id and a TTL in front of the MsgPacket prefix.
	BroadcastPrefixLen = 18
)

// PacketInfo describes one routed data packet. The destination address
// lives at buf[Dof:Dof+Ds], the source address at buf[Sof:Sof+Ss].
type PacketInfo struct {
	// ID deduplicates flooded packets. Only broadcasts carry it on the
	// wire; for unicast ingress the receiving node draws a fresh one.
	ID uint32

	// TTL is the remaining hop budget. Unicast frames carry it in the
	// header's Special byte, broadcasts inside the payload prefix.
	TTL uint16

	Inst    uint32
	Dof, Ds uint16
	Sof, Ss uint16
}

// Dst returns the destination address encoded in buf.
func (pi PacketInfo) Dst(buf []byte) Address {
	return Address{Instance: pi.Inst, Data: buf[pi.Dof : pi.Dof+pi.Ds]}
}

// Src returns the source address encoded in buf, if any.
func (pi PacketInfo) Src(buf []byte) Address {
	return Address{Instance: pi.Inst, Data: buf[pi.Sof : pi.Sof+pi.Ss]}
}

// AppendPacketFrame appends a complete MsgPacket frame carrying buf.
// The TTL is clamped to the Special byte's range.
func AppendPacketFrame(b []byte, pi PacketInfo, buf []byte) []byte {
	ttl := pi.TTL
	if ttl > 0xff {
		ttl = 0xff
	}

	b = AppendHeader(b, Header{
		Type:    MsgPacket,
		Special: uint8(ttl),
		Size:    uint16(PacketPrefixLen + len(buf)),
	})
	b = appendPacketPrefix(b, pi)

	return append(b, buf...)
}

// AppendBroadcastFrame appends a complete MsgBroadcastPacket frame
// carrying buf.
func AppendBroadcastFrame(b []byte, pi PacketInfo, buf []byte) []byte {
	b = AppendHeader(b, Header{
		Type: MsgBroadcastPacket,
		Size: uint16(BroadcastPrefixLen + len(buf)),
	})
	b = binary.BigEndian.AppendUint32(b, pi.ID)
	b = binary.BigEndian.AppendUint16(b, pi.TTL)
	b = appendPacketPrefix(b, pi)

	return append(b, buf...)
}

func appendPacketPrefix(b []byte, pi PacketInfo) []byte {
	b = binary.BigEndian.AppendUint32(b, pi.Inst)
	b = binary.BigEndian.AppendUint16(b, pi.Dof)
	b = binary.BigEndian.AppendUint16(b, pi.Ds)
	b = binary.BigEndian.AppendUint16(b, pi.Sof)

	return binary.BigEndian.AppendUint16(b, pi.Ss)
}

// ParsePacketPayload decodes the payload of a MsgPacket or
// MsgBroadcastPacket frame and returns its info plus the inner packet
// buffer. The offsets are validated against the buffer's size.
func ParsePacketPayload(h Header, payload []byte) (pi PacketInfo, buf []byte, err error) {
	switch h.Type {
	case MsgPacket:
		if len(payload) < PacketPrefixLen {
			err = fmt.Errorf("packet payload of %d bytes is below the %d byte prefix", len(payload), PacketPrefixLen)
			return
		}
		pi.TTL = uint16(h.Special)
		buf = payload[PacketPrefixLen:]
		payload = payload[:PacketPrefixLen]

	case MsgBroadcastPacket:
		if len(payload) < BroadcastPrefixLen {
			err = fmt.Errorf("broadcast payload of %d bytes is below the %d byte prefix", len(payload), BroadcastPrefixLen)
			return
		}
		pi.ID = binary.BigEndian.Uint32(payload[0:4])
		pi.TTL = binary.BigEndian.Uint16(payload[4:6])
		buf = payload[BroadcastPrefixLen:]
		payload = payload[6:BroadcastPrefixLen]

	default:
		err = fmt.Errorf("frame type %v carries no packet", h.Type)
		return
	}

	pi.Inst = binary.BigEndian.Uint32(payload[0:4])
	pi.Dof = binary.BigEndian.Uint16(payload[4:6])
	pi.Ds = binary.BigEndian.Uint16(payload[6:8])
	pi.Sof = binary.BigEndian.Uint16(payload[8:10])
	pi.Ss = binary.BigEndian.Uint16(payload[10:12])

	if int(pi.Dof)+int(pi.Ds) > len(buf) {
		err = fmt.Errorf("destination %d+%d exceeds the %d byte packet", pi.Dof, pi.Ds, len(buf))
		return
	}
	if int(pi.Sof)+int(pi.Ss) > len(buf) {
		err = fmt.Errorf("source %d+%d exceeds the %d byte packet", pi.Sof, pi.Ss, len(buf))
		return
	}

	return
}
