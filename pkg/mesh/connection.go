// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cloudvpn/cloudvpn-go/pkg/transport"
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// ConnState describes the lifecycle position of a Connection.
type ConnState int

const (
	// Inactive is the state before an outbound start or after closure.
	Inactive ConnState = iota

	// RetryTimeout is the pause an outbound connection sits in after a
	// failure, before it redials.
	RetryTimeout

	// Connecting is an outbound connection whose transport is being
	// established.
	Connecting

	// HandshakeConnecting is an outbound connection whose transport
	// handshake is running. Transports that cannot separate
	// establishment from handshaking stay in Connecting instead.
	HandshakeConnecting

	// HandshakeAccepting is an accepted connection whose transport
	// handshake is running.
	HandshakeAccepting

	// Closing drains the send queues before a graceful shutdown.
	Closing

	// Active is an established connection exchanging frames.
	Active
)

func (cs ConnState) String() string {
	switch cs {
	case Inactive:
		return "inactive"
	case RetryTimeout:
		return "retry timeout"
	case Connecting:
		return "connecting"
	case HandshakeConnecting:
		return "handshake connecting"
	case HandshakeAccepting:
		return "handshake accepting"
	case Closing:
		return "closing"
	case Active:
		return "active"
	default:
		return "INVALID"
	}
}

// remoteRoute is one address a peer advertised, with the peer's own
// ping and distance towards it.
type remoteRoute struct {
	Ping uint32
	Dist uint32
}

type connStats struct {
	inPackets, outPackets uint64
	inBytes, outBytes     uint64

	prevInBytes, prevOutBytes uint64
	inRate, outRate           float64
}

func (s *connStats) computeRates(interval time.Duration) {
	secs := interval.Seconds()
	s.inRate = float64(s.inBytes-s.prevInBytes) / secs
	s.outRate = float64(s.outBytes-s.prevOutBytes) / secs
	s.prevInBytes = s.inBytes
	s.prevOutBytes = s.outBytes
}

// Connection is the per-peer state machine. It is owned by its Core
// and must only be touched from the core's event loop.
type Connection struct {
	c    *Core
	id   int32
	name string

	// connector redials outbound connections; nil for accepted ones.
	connector transport.Connector
	t         transport.Transport

	state     ConnState
	lastRetry time.Time

	// Ping probe state. A probe is outstanding iff sentPingTime equals
	// lastPing and is nonzero.
	lastPing           time.Time
	ping               uint32
	sentPingID         uint8
	sentPingTime       time.Time
	peerConnectedSince time.Time

	remoteRoutes  map[wire.Key]remoteRoute
	routeOverflow bool

	// Inbound framing: buffered bytes plus the header that is parsed
	// but not yet satisfied by enough payload.
	recvQ        []byte
	cachedHeader *wire.Header

	// Outbound lanes. cur is the frame currently on the wire;
	// sendingFromDataQ remembers its lane so the scheduler never
	// interleaves bytes mid-frame.
	protoQ, dataQ         [][]byte
	protoQSize, dataQSize int
	cur                   []byte
	sendingFromDataQ      bool

	// Bandwidth tokens: ublAvailable may be spent this tick,
	// dblAvailable goes negative when reads overshot their budget,
	// suspending further reads.
	ublAvailable int
	dblAvailable int

	stats connStats
}

func (conn *Connection) log() *log.Entry {
	return log.WithFields(log.Fields{
		"conn":  conn.id,
		"peer":  conn.name,
		"state": conn.state,
	})
}

// setTransport installs t and indexes it back to this connection.
func (conn *Connection) setTransport(t transport.Transport) {
	conn.t = t
	conn.c.tindex[t] = conn.id

	c := conn.c
	t.SetNotify(func(ev transport.Event) {
		c.do(func() {
			conn.handleEvent(ev)
		})
	})
}

func (conn *Connection) clearTransport() {
	if conn.t == nil {
		return
	}

	delete(conn.c.tindex, conn.t)
	_ = conn.t.Close()
	conn.t = nil
}

func (conn *Connection) handleEvent(ev transport.Event) {
	if conn.t == nil {
		// A stale event from a transport torn down by reset.
		return
	}

	switch ev {
	case transport.EventHandshake:
		switch conn.state {
		case Connecting, HandshakeConnecting, HandshakeAccepting:
			conn.activate()
		}

	case transport.EventReadable:
		conn.pollRead()

	case transport.EventWritable:
		conn.pollWrite()

	case transport.EventError:
		conn.log().WithError(conn.t.Err()).Debug("Transport failed")
		conn.reset()
	}
}

// startConnect dials the peer. Runs for fresh outbound connections and
// again after each RetryTimeout.
func (conn *Connection) startConnect() {
	conn.lastRetry = conn.c.clock()

	t, err := conn.connector.Connect()
	if err != nil {
		conn.log().WithError(err).Debug("Connect failed")
		conn.state = RetryTimeout
		return
	}

	conn.state = Connecting
	conn.setTransport(t)
	conn.log().Debug("Connecting")

	if t.Handshaken() {
		conn.activate()
	}
}

// activate enters Active: ask the peer for its routes, push ours,
// and let the routing layer know the topology changed.
func (conn *Connection) activate() {
	now := conn.c.clock()

	conn.state = Active
	conn.peerConnectedSince = now
	conn.lastPing = now
	conn.sentPingTime = time.Time{}
	conn.ping = conn.c.conf.timeoutMicros()
	conn.remoteRoutes = make(map[wire.Key]remoteRoute)
	conn.routeOverflow = false

	conn.log().Info("Connection active")

	conn.writeProto(wire.ControlFrame(wire.MsgRouteRequest, 0))
	conn.writeProto(conn.c.fullRouteSetFrame())
	conn.c.routeDirty++

	conn.pollWrite()
}

// reset tears the connection down immediately: the transport dies, all
// queues drop, and an outbound connection enters RetryTimeout.
func (conn *Connection) reset() {
	if conn.state == Inactive || conn.state == RetryTimeout {
		return
	}

	conn.log().Info("Resetting connection")

	conn.clearTransport()
	conn.dropQueues()
	conn.recvQ = nil
	conn.cachedHeader = nil
	conn.remoteRoutes = nil
	conn.routeOverflow = false
	conn.ping = conn.c.conf.timeoutMicros()
	conn.sentPingTime = time.Time{}
	conn.c.routeDirty++

	if conn.connector != nil {
		conn.state = RetryTimeout
		conn.lastRetry = conn.c.clock()
	} else {
		conn.state = Inactive
		conn.c.removeConnection(conn)
	}
}

// disconnect shuts down gracefully: queued frames drain first, then
// the transport closes.
func (conn *Connection) disconnect() {
	switch conn.state {
	case Inactive, RetryTimeout, Closing:
		return
	case Connecting, HandshakeConnecting, HandshakeAccepting:
		conn.reset()
		return
	}

	conn.log().Info("Disconnecting")

	conn.state = Closing
	conn.lastRetry = conn.c.clock()
	conn.remoteRoutes = nil
	conn.c.routeDirty++
	conn.pollWrite()
}

// finishClose completes a graceful disconnect once the queues drained.
func (conn *Connection) finishClose() {
	conn.clearTransport()
	conn.recvQ = nil
	conn.cachedHeader = nil
	conn.routeOverflow = false
	conn.ping = conn.c.conf.timeoutMicros()
	conn.c.routeDirty++

	if conn.connector != nil {
		conn.state = RetryTimeout
		conn.lastRetry = conn.c.clock()
	} else {
		conn.state = Inactive
		conn.c.removeConnection(conn)
	}
}

// sendPing emits a fresh latency probe.
func (conn *Connection) sendPing(now time.Time) {
	conn.sentPingID++
	conn.lastPing = now
	conn.sentPingTime = now

	conn.writeProto(wire.ControlFrame(wire.MsgPing, conn.sentPingID))
	conn.pollWrite()
}

// handlePong matches a probe answer and refreshes the measured ping.
func (conn *Connection) handlePong(id uint8) {
	if id != conn.sentPingID || conn.sentPingTime.IsZero() || !conn.sentPingTime.Equal(conn.lastPing) {
		return
	}

	measured := uint32(conn.c.clock().Sub(conn.sentPingTime).Microseconds())
	if measured == 0 {
		measured = 1
	}
	conn.sentPingTime = time.Time{}

	diff := conn.ping - measured
	if measured > conn.ping {
		diff = measured - conn.ping
	}
	conn.ping = measured

	if diff > conn.c.conf.ReportPingDiff {
		conn.c.routeDirty++
	}
}

// periodic drives timers: keepalive probes, probe timeouts, handshake
// timeouts and outbound redials.
func (conn *Connection) periodic(now time.Time) {
	conf := &conn.c.conf

	switch conn.state {
	case Active:
		outstanding := !conn.sentPingTime.IsZero() && conn.sentPingTime.Equal(conn.lastPing)
		if outstanding && now.Sub(conn.sentPingTime) > conf.Timeout {
			conn.log().Warn("Ping timed out")
			conn.reset()
			return
		}
		if now.Sub(conn.lastPing) > conf.Keepalive {
			conn.sendPing(now)
		}

	case Connecting, HandshakeConnecting, HandshakeAccepting:
		if now.Sub(conn.lastRetry) > conf.Timeout {
			conn.log().Warn("Handshake timed out")
			conn.reset()
		}

	case Closing:
		if now.Sub(conn.lastRetry) > conf.Timeout {
			conn.reset()
		}

	case RetryTimeout:
		if conn.connector != nil && now.Sub(conn.lastRetry) > conf.Retry {
			conn.log().Debug("Retrying connection")
			conn.startConnect()
		}
	}
}
