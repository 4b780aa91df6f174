// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import "time"

// Config collects the tunables of a Core. The zero value is usable;
// setDefaults fills in every unset field.
type Config struct {
	// PacketIDCacheSize bounds the broadcast deduplication cache.
	PacketIDCacheSize int `toml:"packet-id-cache-size"`

	// Multipath enables latency-scattered multipath routing.
	Multipath bool `toml:"multipath"`

	// MultipathRatio groups routes into latency bands; a band extends
	// while its members' cost stays below ratio times the band's
	// lowest cost. Minimum 2.
	MultipathRatio int `toml:"multipath-ratio"`

	// ReportPingDiff suppresses route reports for ping changes at or
	// below this many microseconds.
	ReportPingDiff uint32 `toml:"report-ping-changes-above"`

	// RouteMaxDist drops remote routes beyond this hop count.
	RouteMaxDist uint32 `toml:"route-max-dist"`

	// BroadcastTTL is the hop budget of locally originated packets.
	BroadcastTTL uint16 `toml:"route-broadcast-ttl"`

	// HopPenalization inflates a held route's effective ping by this
	// percentage per hop when comparing candidates, preferring shorter
	// paths.
	HopPenalization uint32 `toml:"route-hop-penalization"`

	// SharedUplink forwards each broadcast to one random peer instead
	// of all of them, relying on the mesh to spread it.
	SharedUplink bool `toml:"shared-uplink"`

	// MTU bounds a frame's payload; peers announcing more are reset.
	MTU int `toml:"mtu"`

	// Timeout resets a connection whose ping probe stays unanswered,
	// and doubles as the "unreachable" latency marker.
	Timeout time.Duration `toml:"timeout"`

	// Keepalive is the idle interval between ping probes.
	Keepalive time.Duration `toml:"keepalive"`

	// Retry is the pause before redialing a failed outbound peer.
	Retry time.Duration `toml:"retry"`

	// MaxWaitingDataSize and MaxWaitingProtoSize bound the two send
	// lanes in queued bytes. Writes beyond them are dropped.
	MaxWaitingDataSize  int `toml:"max-waiting-data-size"`
	MaxWaitingProtoSize int `toml:"max-waiting-proto-size"`

	// MaxRemoteRoutes caps a peer's advertised table; beyond it the
	// table is dropped and re-requested.
	MaxRemoteRoutes int `toml:"max-remote-routes"`

	// Upstream bandwidth limit, bytes per second. UplinkTotal is
	// shared by all active connections, UplinkConn caps one
	// connection's share and UplinkBurst its accumulated tokens.
	// Zero totals disable the limiter.
	UplinkTotal int `toml:"uplink-total"`
	UplinkConn  int `toml:"uplink-conn"`
	UplinkBurst int `toml:"uplink-burst"`

	// Downstream bandwidth limit, bytes per second per connection.
	// While a connection is in debt its reads stay suspended.
	DownlinkConn  int `toml:"downlink-conn"`
	DownlinkBurst int `toml:"downlink-burst"`

	// RedThreshold enables Random Early Drop on the data lane once
	// its queued bytes pass this mark. Zero disables RED.
	RedThreshold int `toml:"red-threshold"`
}

const (
	// tickInterval is the periodic driver's cadence.
	tickInterval = 100 * time.Millisecond

	ticksPerSecond = int(time.Second / tickInterval)

	// statsTicks is the rate-recomputation interval in ticks.
	statsTicks = 10
)

func (conf *Config) setDefaults() {
	if conf.PacketIDCacheSize == 0 {
		conf.PacketIDCacheSize = 1024
	}
	if conf.MultipathRatio < 2 {
		conf.MultipathRatio = 2
	}
	if conf.ReportPingDiff == 0 {
		conf.ReportPingDiff = 5000
	}
	if conf.RouteMaxDist == 0 {
		conf.RouteMaxDist = 64
	}
	if conf.BroadcastTTL == 0 {
		conf.BroadcastTTL = 64
	}
	if conf.MTU == 0 {
		conf.MTU = 8192
	}
	if conf.Timeout == 0 {
		conf.Timeout = 60 * time.Second
	}
	if conf.Keepalive == 0 {
		conf.Keepalive = 10 * time.Second
	}
	if conf.Retry == 0 {
		conf.Retry = 10 * time.Second
	}
	if conf.MaxWaitingDataSize == 0 {
		conf.MaxWaitingDataSize = 1 << 20
	}
	if conf.MaxWaitingProtoSize == 0 {
		conf.MaxWaitingProtoSize = 256 << 10
	}
	if conf.MaxRemoteRoutes == 0 {
		conf.MaxRemoteRoutes = 4096
	}
	if conf.UplinkBurst == 0 {
		conf.UplinkBurst = conf.UplinkConn
	}
	if conf.UplinkBurst == 0 {
		conf.UplinkBurst = conf.UplinkTotal
	}
	if conf.DownlinkBurst == 0 {
		conf.DownlinkBurst = conf.DownlinkConn
	}
}

// timeoutMicros is the latency marker of an unmeasured or unreachable
// connection.
func (conf *Config) timeoutMicros() uint32 {
	return uint32(conf.Timeout.Microseconds())
}

// uplinkLimited reports whether upstream bandwidth limiting is on.
func (conf *Config) uplinkLimited() bool {
	return conf.UplinkTotal > 0 || conf.UplinkConn > 0
}

// downlinkLimited reports whether downstream bandwidth limiting is on.
func (conf *Config) downlinkLimited() bool {
	return conf.DownlinkConn > 0
}
