// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"sort"

	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// routeInfo is one route table entry: measured ping in microseconds,
// hop distance and the next hop. A nonnegative id names a connection,
// a negative one the gate -(id+1).
type routeInfo struct {
	Ping uint32
	Dist uint32
	ID   int32
}

// routeUpdate rebuilds the route table from gates and active
// connections when something marked it dirty. Local gate addresses win
// with a symbolic ping of 1; remote routes cost two microseconds plus
// the peer's advertised ping plus the link's measured ping.
func (c *Core) routeUpdate() {
	if c.routeDirty == 0 {
		return
	}
	c.routeDirty = 0

	c.route = make(map[wire.Key]routeInfo)
	c.promisc = make(map[wire.Key][]routeInfo)

	for gid, g := range c.gates {
		if !g.Ready() {
			continue
		}
		for _, a := range g.Local() {
			ri := routeInfo{Ping: 1, Dist: 0, ID: gateRouteID(gid)}
			k := a.Key()
			c.route[k] = ri
			if k.IsPromisc() {
				c.promisc[k] = append(c.promisc[k], ri)
			}
		}
	}

	// Connections compete in ascending id order; with hop
	// penalization the comparison is not symmetric, so the order must
	// be stable across rebuilds.
	for _, id := range c.sortedConnIDs() {
		conn := c.conns[id]
		if conn.state != Active {
			continue
		}

		for k, rr := range conn.remoteRoutes {
			if rr.Dist+1 > c.conf.RouteMaxDist {
				continue
			}

			cand := routeInfo{
				Ping: 2 + rr.Ping + conn.ping,
				Dist: rr.Dist + 1,
				ID:   id,
			}

			// The promisc table keeps every advertised listener, not
			// just the best-path winner.
			if k.IsPromisc() {
				c.promisc[k] = append(c.promisc[k], cand)
			}

			if cur, ok := c.route[k]; ok {
				effective := uint64(cur.Ping) * uint64(100+c.conf.HopPenalization*cur.Dist) / 100

				if effective < uint64(cand.Ping) {
					continue
				}
				if effective == uint64(cand.Ping) && cur.Dist < cand.Dist {
					continue
				}
			}

			c.route[k] = cand
		}
	}

	if c.conf.Multipath {
		c.updateMultiroute()
	}

	c.reportRoute()
}

func (c *Core) sortedConnIDs() []int32 {
	ids := make([]int32, 0, len(c.conns))
	for id := range c.conns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
