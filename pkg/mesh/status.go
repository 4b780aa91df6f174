// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"sort"
	"time"
)

// ConnectionStatus is a snapshot of one connection for inspection
// surfaces.
type ConnectionStatus struct {
	ID         int32     `json:"id"`
	Peer       string    `json:"peer"`
	State      string    `json:"state"`
	PingMicros uint32    `json:"ping_us"`
	Since      time.Time `json:"since,omitempty"`

	PacketsIn  uint64  `json:"packets_in"`
	PacketsOut uint64  `json:"packets_out"`
	BytesIn    uint64  `json:"bytes_in"`
	BytesOut   uint64  `json:"bytes_out"`
	RateIn     float64 `json:"rate_in"`
	RateOut    float64 `json:"rate_out"`
}

// RouteStatus is a snapshot of one route table entry.
type RouteStatus struct {
	Address    string `json:"address"`
	PingMicros uint32 `json:"ping_us"`
	Dist       uint32 `json:"dist"`
	Via        int32  `json:"via"`
}

// Status is a consistent snapshot of the core's tables.
type Status struct {
	Connections []ConnectionStatus `json:"connections"`
	Routes      []RouteStatus      `json:"routes"`
}

// Status captures the current connections and routes.
func (c *Core) Status() Status {
	var st Status

	c.doWait(func() {
		c.routeUpdate()

		for _, conn := range c.conns {
			st.Connections = append(st.Connections, ConnectionStatus{
				ID:         conn.id,
				Peer:       conn.name,
				State:      conn.state.String(),
				PingMicros: conn.ping,
				Since:      conn.peerConnectedSince,
				PacketsIn:  conn.stats.inPackets,
				PacketsOut: conn.stats.outPackets,
				BytesIn:    conn.stats.inBytes,
				BytesOut:   conn.stats.outBytes,
				RateIn:     conn.stats.inRate,
				RateOut:    conn.stats.outRate,
			})
		}

		for k, ri := range c.route {
			st.Routes = append(st.Routes, RouteStatus{
				Address:    k.String(),
				PingMicros: ri.Ping,
				Dist:       ri.Dist,
				Via:        ri.ID,
			})
		}
	})

	sort.Slice(st.Connections, func(i, j int) bool { return st.Connections[i].ID < st.Connections[j].ID })
	sort.Slice(st.Routes, func(i, j int) bool { return st.Routes[i].Address < st.Routes[j].Address })

	return st
}
