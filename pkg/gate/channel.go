// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package gate

import (
	log "github.com/sirupsen/logrus"

	"github.com/cloudvpn/cloudvpn-go/pkg/mesh"
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// Packet is one delivered or submitted application packet.
type Packet struct {
	Dst     wire.Address
	Src     wire.Address
	Payload []byte
}

// ChannelGate attaches an in-process application to a mesh core. The
// application reads delivered packets from Receiver and submits with
// Send or Broadcast.
//
// On closing down, the supervising code calls Detach; the Receiver
// channel is closed afterwards.
type ChannelGate struct {
	c  *mesh.Core
	id int32

	local     []wire.Address
	instances map[uint32]bool

	receiver chan Packet
	stop     chan struct{}
}

// NewChannelGate registers a gate claiming the given local addresses.
func NewChannelGate(c *mesh.Core, local ...wire.Address) *ChannelGate {
	g := &ChannelGate{
		c:         c,
		local:     local,
		instances: make(map[uint32]bool),
		receiver:  make(chan Packet, 64),
		stop:      make(chan struct{}),
	}
	for _, a := range local {
		g.instances[a.Instance] = true
	}

	g.id = c.RegisterGate(g)
	c.InvalidateRoutes()

	return g
}

func (g *ChannelGate) log() *log.Entry {
	return log.WithField("gate", g.id)
}

// Receiver returns the channel of delivered packets.
func (g *ChannelGate) Receiver() <-chan Packet {
	return g.receiver
}

// Send submits a unicast packet into the mesh.
func (g *ChannelGate) Send(dst, src wire.Address, payload []byte) {
	g.submit(dst, src, payload, false)
}

// Broadcast floods a packet to every listener of dst's instance.
func (g *ChannelGate) Broadcast(dst, src wire.Address, payload []byte) {
	g.submit(dst, src, payload, true)
}

func (g *ChannelGate) submit(dst, src wire.Address, payload []byte, broadcast bool) {
	buf := make([]byte, 0, len(dst.Data)+len(src.Data)+len(payload))
	buf = append(buf, dst.Data...)
	buf = append(buf, src.Data...)
	buf = append(buf, payload...)

	g.c.GateSend(g.id, broadcast, wire.PacketInfo{
		Inst: dst.Instance,
		Dof:  0,
		Ds:   uint16(len(dst.Data)),
		Sof:  uint16(len(dst.Data)),
		Ss:   uint16(len(src.Data)),
	}, buf)
}

// Detach unregisters the gate and closes the Receiver channel.
func (g *ChannelGate) Detach() {
	close(g.stop)
	g.c.UnregisterGate(g.id)
	close(g.receiver)
}

// Ready implements mesh.Gate.
func (g *ChannelGate) Ready() bool {
	select {
	case <-g.stop:
		return false
	default:
		return true
	}
}

// Local implements mesh.Gate.
func (g *ChannelGate) Local() []wire.Address {
	return g.local
}

// HasInstance implements mesh.Gate.
func (g *ChannelGate) HasInstance(instance uint32) bool {
	return g.instances[instance]
}

// SendPacket implements mesh.Gate: packets are copied out of the
// core's buffer and handed to the application, dropping when the
// application lags.
func (g *ChannelGate) SendPacket(pi wire.PacketInfo, buf []byte) {
	p := Packet{
		Dst:     cloneAddress(pi.Dst(buf)),
		Src:     cloneAddress(pi.Src(buf)),
		Payload: payloadOf(pi, buf),
	}

	select {
	case g.receiver <- p:
	case <-g.stop:
	default:
		g.log().Debug("Application lags, dropping packet")
	}
}

func cloneAddress(a wire.Address) wire.Address {
	a.Data = append([]byte(nil), a.Data...)

	return a
}

// payloadOf copies the packet body behind the address fields.
func payloadOf(pi wire.PacketInfo, buf []byte) []byte {
	start := int(pi.Dof) + int(pi.Ds)
	if end := int(pi.Sof) + int(pi.Ss); end > start {
		start = end
	}
	if start > len(buf) {
		return nil
	}

	return append([]byte(nil), buf[start:]...)
}
