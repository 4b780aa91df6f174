// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"sort"

	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

func sortedKeys(m map[wire.Key]routeInfo) []wire.Key {
	keys := make([]wire.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	return keys
}

// reportRoute diffs the fresh table against the one last reported and
// broadcasts the changes to every active peer. Entries whose ping
// moved by no more than ReportPingDiff, at unchanged distance, stay
// unreported to keep the mesh quiet.
func (c *Core) reportRoute() {
	var report []wire.RouteRecord

	emit := func(k wire.Key, ri routeInfo) {
		report = append(report, wire.RouteRecord{Ping: ri.Ping, Dist: ri.Dist, Addr: k.Address()})
	}
	withdraw := func(k wire.Key) {
		report = append(report, wire.RouteRecord{Addr: k.Address()})
	}

	fresh := sortedKeys(c.route)
	old := sortedKeys(c.reported)

	i, j := 0, 0
	for i < len(fresh) && j < len(old) {
		switch {
		case fresh[i] == old[j]:
			nr, or := c.route[fresh[i]], c.reported[old[j]]

			diff := nr.Ping - or.Ping
			if or.Ping > nr.Ping {
				diff = or.Ping - nr.Ping
			}
			if diff > c.conf.ReportPingDiff || nr.Dist != or.Dist {
				emit(fresh[i], nr)
			}
			i++
			j++

		case fresh[i].Less(old[j]):
			emit(fresh[i], c.route[fresh[i]])
			i++

		default:
			withdraw(old[j])
			j++
		}
	}
	for ; i < len(fresh); i++ {
		emit(fresh[i], c.route[fresh[i]])
	}
	for ; j < len(old); j++ {
		withdraw(old[j])
	}

	if len(report) == 0 {
		return
	}

	for _, r := range report {
		k := r.Addr.Key()
		if r.IsWithdrawal() {
			delete(c.reported, k)
		} else {
			c.reported[k] = routeInfo{Ping: r.Ping, Dist: r.Dist}
		}
	}

	frame := wire.RouteFrame(wire.MsgRouteDiff, report)
	for _, conn := range c.conns {
		if conn.state != Active {
			continue
		}
		conn.writeProto(frame)
		conn.pollWrite()
	}
}

// fullRouteSetFrame encodes the entire reported table, as pushed to
// newly active peers and on route requests.
func (c *Core) fullRouteSetFrame() []byte {
	keys := sortedKeys(c.reported)

	recs := make([]wire.RouteRecord, 0, len(keys))
	for _, k := range keys {
		ri := c.reported[k]
		recs = append(recs, wire.RouteRecord{Ping: ri.Ping, Dist: ri.Dist, Addr: k.Address()})
	}

	return wire.RouteFrame(wire.MsgRouteSet, recs)
}
