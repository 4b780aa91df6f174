// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// Gate is a local attachment point for packets, the mesh-side view of
// an application. Gates appear in the route table with the negative id
// -(g+1), where g is the id assigned by RegisterGate.
//
// All methods are called from the core's event loop and must not
// block; a Gate hands packets off to its application asynchronously.
type Gate interface {
	// Ready reports whether the gate can accept packets. Unready
	// gates contribute no routes.
	Ready() bool

	// Local lists the addresses this gate claims. An address with an
	// empty data part claims the whole instance promiscuously.
	Local() []wire.Address

	// HasInstance reports whether the gate wants broadcasts of the
	// given instance.
	HasInstance(instance uint32) bool

	// SendPacket delivers one packet. The addresses sit inside buf at
	// the offsets named by pi; buf must not be retained.
	SendPacket(pi wire.PacketInfo, buf []byte)
}

// gateRouteID converts a gate id into its route table form.
func gateRouteID(gateID int32) int32 {
	return -(gateID + 1)
}

// gateIDFromRoute is the inverse of gateRouteID.
func gateIDFromRoute(routeID int32) int32 {
	return -(routeID + 1)
}

// RegisterGate adds a gate and returns its assigned id. The route
// table is rebuilt on the next occasion.
func (c *Core) RegisterGate(g Gate) int32 {
	var id int32
	c.doWait(func() {
		id = c.nextGateID
		c.nextGateID++
		c.gates[id] = g
		c.routeDirty++

		c.log().WithField("gate", id).Info("Registered gate")
	})

	return id
}

// UnregisterGate removes a gate; its routes are withdrawn on the next
// rebuild.
func (c *Core) UnregisterGate(id int32) {
	c.doWait(func() {
		delete(c.gates, id)
		c.routeDirty++

		c.log().WithField("gate", id).Info("Unregistered gate")
	})
}

// InvalidateRoutes schedules a route table rebuild. Gates call this
// when their readiness or address set changed.
func (c *Core) InvalidateRoutes() {
	c.do(func() {
		c.routeDirty++
	})
}

// GateSend injects a packet from gate gateID into the mesh. For
// broadcast the destination address' data part names the target group
// within its instance; a fresh broadcast id and the configured TTL are
// assigned either way.
func (c *Core) GateSend(gateID int32, broadcast bool, pi wire.PacketInfo, buf []byte) {
	c.do(func() {
		if len(buf)+wire.BroadcastPrefixLen > c.conf.MTU {
			c.log().WithField("size", len(buf)).Debug("Dropping oversized gate packet")
			return
		}

		pi.ID = c.newPacketUID()
		pi.TTL = c.conf.BroadcastTTL

		c.routePacket(pi, broadcast, buf, gateRouteID(gateID))
	})
}
