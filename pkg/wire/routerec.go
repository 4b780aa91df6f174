// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/binary"
	"fmt"
)

// routeRecFixedLen is the fixed part of a route record:
// ping, dist, inst and the address length.
const routeRecFixedLen = 14

// RouteRecord is one entry of a MsgRouteSet or MsgRouteDiff payload.
// A zero Ping inside a diff withdraws the address.
type RouteRecord struct {
	Ping uint32
	Dist uint32
	Addr Address
}

// IsWithdrawal checks for the zero-ping withdrawal form.
func (r RouteRecord) IsWithdrawal() bool {
	return r.Ping == 0
}

func (r RouteRecord) String() string {
	if r.IsWithdrawal() {
		return fmt.Sprintf("withdraw %v", r.Addr)
	}

	return fmt.Sprintf("%v ping=%d dist=%d", r.Addr, r.Ping, r.Dist)
}

// AppendRouteRecord appends the wire form of r to b.
func AppendRouteRecord(b []byte, r RouteRecord) []byte {
	b = binary.BigEndian.AppendUint32(b, r.Ping)
	b = binary.BigEndian.AppendUint32(b, r.Dist)
	b = binary.BigEndian.AppendUint32(b, r.Addr.Instance)
	b = binary.BigEndian.AppendUint16(b, uint16(len(r.Addr.Data)))

	return append(b, r.Addr.Data...)
}

// ParseRouteRecords decodes a full MsgRouteSet or MsgRouteDiff payload.
func ParseRouteRecords(b []byte) (recs []RouteRecord, err error) {
	for len(b) > 0 {
		if len(b) < routeRecFixedLen {
			return nil, fmt.Errorf("route record truncated after %d records", len(recs))
		}

		alen := int(binary.BigEndian.Uint16(b[12:14]))
		if alen > MaxAddrLen {
			return nil, fmt.Errorf("route record address of %d bytes exceeds the %d byte limit", alen, MaxAddrLen)
		}
		if len(b) < routeRecFixedLen+alen {
			return nil, fmt.Errorf("route record address truncated after %d records", len(recs))
		}

		recs = append(recs, RouteRecord{
			Ping: binary.BigEndian.Uint32(b[0:4]),
			Dist: binary.BigEndian.Uint32(b[4:8]),
			Addr: Address{
				Instance: binary.BigEndian.Uint32(b[8:12]),
				Data:     append([]byte(nil), b[routeRecFixedLen:routeRecFixedLen+alen]...),
			},
		})
		b = b[routeRecFixedLen+alen:]
	}

	return
}

// RouteFrame builds a complete route frame of the given type from recs.
func RouteFrame(t MsgType, recs []RouteRecord) []byte {
	size := 0
	for _, r := range recs {
		size += routeRecFixedLen + len(r.Addr.Data)
	}

	b := AppendHeader(make([]byte, 0, HeaderLen+size), Header{Type: t, Size: uint16(size)})
	for _, r := range recs {
		b = AppendRouteRecord(b, r)
	}

	return b
}
