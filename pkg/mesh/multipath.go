// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"sort"

	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// Multipath scattering spreads unicast traffic across all connections
// that can reach a destination. Candidates are sorted by cost and cut
// into bands: a band extends while the cost stays below MultipathRatio
// times the band's cheapest member. Selection walks the bands, picking
// uniformly inside a band or moving on to the next, slower one.

// updateMultiroute rebuilds the per-destination cost map from every
// active connection's advertised routes.
func (c *Core) updateMultiroute() {
	c.multiroute = make(map[wire.Key]map[uint32]int32)

	for _, id := range c.sortedConnIDs() {
		conn := c.conns[id]
		if conn.state != Active {
			continue
		}

		for k, rr := range conn.remoteRoutes {
			m, ok := c.multiroute[k]
			if !ok {
				m = make(map[uint32]int32)
				c.multiroute[k] = m
			}
			m[2+rr.Ping+conn.ping] = id
		}
	}
}

// multirouteScatter picks a next hop for k, never the ingress
// connection. It fails when no candidate remains, which the caller
// treats as a routing hole.
func (c *Core) multirouteScatter(k wire.Key, from int32) (int32, bool) {
	m, ok := c.multiroute[k]
	if !ok || len(m) == 0 {
		return 0, false
	}

	type hop struct {
		cost uint32
		id   int32
	}
	hops := make([]hop, 0, len(m))
	for cost, id := range m {
		hops = append(hops, hop{cost, id})
	}
	sort.Slice(hops, func(i, j int) bool { return hops[i].cost < hops[j].cost })

	i := 0
	for i < len(hops) {
		start := i
		limit := uint64(c.conf.MultipathRatio) * uint64(hops[start].cost)

		n := 0
		for i < len(hops) && uint64(hops[i].cost) < limit {
			i++
			n++
		}

		// The final band always yields a winner; earlier bands pass
		// with one extra lot, shifting some traffic to slower paths.
		var r int
		if i == len(hops) {
			r = c.rng.Intn(n)
		} else {
			r = c.rng.Intn(n + 1)
		}

		if r != n {
			winner := hops[start+r]
			if winner.id == from {
				continue
			}

			return winner.id, true
		}
	}

	return 0, false
}
