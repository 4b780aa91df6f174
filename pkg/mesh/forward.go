// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import "github.com/cloudvpn/cloudvpn-go/pkg/wire"

// newPacketUID draws a random broadcast id for a freshly seen packet.
func (c *Core) newPacketUID() uint32 {
	return c.rng.Uint32()
}

// routePacket forwards one packet. from is the ingress: a nonnegative
// connection id or a negative gate route id; packets are not sent back
// where they came from, except that a shared-uplink broadcast picks its
// one peer among all active connections, the ingress included.
func (c *Core) routePacket(pi wire.PacketInfo, broadcast bool, buf []byte, from int32) {
	if int(pi.Dof)+int(pi.Ds) > len(buf) || pi.Ds == 0 {
		return
	}

	if c.idcache.Contains(pi.ID) {
		return
	}
	c.idcache.Add(pi.ID)

	c.routeUpdate()

	dst := pi.Dst(buf)
	dst.Broadcast = broadcast

	if dst.Broadcast {
		c.broadcastPacket(pi, true, buf, from)
		return
	}

	promKey := dst.Promisc().Key()

	sendlist := make(map[int32]struct{})

	if c.conf.Multipath {
		if id, ok := c.multirouteScatter(dst.Key(), from); ok {
			sendlist[id] = struct{}{}
		}
	} else if ri, ok := c.route[dst.Key()]; ok {
		sendlist[ri.ID] = struct{}{}
	}

	proms := c.promisc[promKey]

	// Destination unknown and nobody listens promiscuously: flood.
	// The packet keeps its unicast form, so a node that does know the
	// destination routes it properly again.
	if len(proms) == 0 && len(sendlist) == 0 {
		c.broadcastPacket(pi, false, buf, from)
		return
	}

	if c.conf.SharedUplink && len(proms) > 0 {
		sendlist[proms[c.rng.Intn(len(proms))].ID] = struct{}{}
	}

	// Feed all promiscs, or only the gate ones when the uplink is
	// shared and a single random promisc already got picked.
	for _, ri := range proms {
		if !c.conf.SharedUplink || ri.ID < 0 {
			sendlist[ri.ID] = struct{}{}
		}
	}

	delete(sendlist, from)

	for id := range sendlist {
		c.sendPacketTo(id, pi, buf)
	}
}

// sendPacketTo delivers to one next hop: gates directly, connections
// with a decremented TTL while the hop budget lasts.
func (c *Core) sendPacketTo(to int32, pi wire.PacketInfo, buf []byte) {
	if to < 0 {
		g, ok := c.gates[gateIDFromRoute(to)]
		if !ok || !g.Ready() {
			return
		}
		g.SendPacket(pi, buf)
		return
	}

	if pi.TTL == 0 {
		return
	}

	conn, ok := c.conns[to]
	if !ok {
		return
	}

	out := pi
	out.TTL--
	conn.writePacket(out, buf)
}

// broadcastPacket fans a packet out to local gates of its instance and
// on to the mesh. broadcast selects the frame type used towards peers;
// flooded unicast packets stay unicast on the wire.
func (c *Core) broadcastPacket(pi wire.PacketInfo, broadcast bool, buf []byte, from int32) {
	for gid, g := range c.gates {
		if gid == gateIDFromRoute(from) {
			continue
		}
		if !g.Ready() || !g.HasInstance(pi.Inst) {
			continue
		}
		g.SendPacket(pi, buf)
	}

	if pi.TTL == 0 {
		return
	}

	out := pi
	out.TTL--

	if c.conf.SharedUplink {
		// One random active peer carries the broadcast onwards.
		var active []*Connection
		for _, conn := range c.conns {
			if conn.state == Active {
				active = append(active, conn)
			}
		}
		if len(active) == 0 {
			return
		}
		c.forwardFlood(active[c.rng.Intn(len(active))], broadcast, out, buf)
		return
	}

	for id, conn := range c.conns {
		if id == from || conn.state != Active {
			continue
		}
		c.forwardFlood(conn, broadcast, out, buf)
	}
}

func (c *Core) forwardFlood(conn *Connection, broadcast bool, pi wire.PacketInfo, buf []byte) {
	if broadcast {
		conn.writeBroadcast(pi, buf)
	} else {
		conn.writePacket(pi, buf)
	}
}
