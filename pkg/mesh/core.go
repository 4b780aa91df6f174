// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import (
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/cloudvpn/cloudvpn-go/pkg/transport"
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// Core is one mesh node: the connection and gate tables, the route
// tables and the broadcast id cache, all driven by a single event loop
// goroutine.
type Core struct {
	conf  Config
	clock func() time.Time
	rng   *rand.Rand

	conns      map[int32]*Connection
	tindex     map[transport.Transport]int32
	nextConnID int32
	peers      map[string]int32

	gates      map[int32]Gate
	nextGateID int32

	route      map[wire.Key]routeInfo
	reported   map[wire.Key]routeInfo
	promisc    map[wire.Key][]routeInfo
	multiroute map[wire.Key]map[uint32]int32
	routeDirty int

	idcache *idCache

	actions   chan func()
	running   bool
	tickCount int
	closeErr  error
	closeOnce sync.Once
	stopSyn   chan struct{}
	stopAck   chan struct{}
}

// NewCore creates a Core and starts its event loop.
func NewCore(conf Config) *Core {
	c := newCore(conf)
	c.running = true
	go c.run()

	return c
}

// newCore builds a Core without starting the loop; tests drive it by
// hand through settle and periodicUpdate.
func newCore(conf Config) *Core {
	conf.setDefaults()

	c := &Core{
		conf:     conf,
		clock:    time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		conns:    make(map[int32]*Connection),
		tindex:   make(map[transport.Transport]int32),
		peers:    make(map[string]int32),
		gates:    make(map[int32]Gate),
		route:    make(map[wire.Key]routeInfo),
		reported: make(map[wire.Key]routeInfo),
		promisc:  make(map[wire.Key][]routeInfo),
		idcache:  newIDCache(conf.PacketIDCacheSize),
		actions:  make(chan func(), 4096),
		stopSyn:  make(chan struct{}),
		stopAck:  make(chan struct{}),
	}

	c.log().WithFields(log.Fields{
		"cache":    conf.PacketIDCacheSize,
		"max dist": conf.RouteMaxDist,
	}).Info("Core created")

	return c
}

func (c *Core) log() *log.Entry {
	return log.WithField("core", "mesh")
}

// do hands f to the event loop. After shutdown the call is discarded.
func (c *Core) do(f func()) {
	select {
	case c.actions <- f:
	case <-c.stopSyn:
	}
}

// doWait runs f on the event loop and waits for its completion.
func (c *Core) doWait(f func()) {
	if !c.running {
		// Loopless test mode: the caller is the loop.
		f()
		return
	}

	done := make(chan struct{})
	c.do(func() {
		f()
		close(done)
	})

	select {
	case <-done:
	case <-c.stopAck:
	}
}

func (c *Core) run() {
	tick := time.NewTicker(tickInterval)
	defer tick.Stop()

	for {
		select {
		case <-c.stopSyn:
			c.shutdown()
			close(c.stopAck)
			return

		case f := <-c.actions:
			f()

		case <-tick.C:
			c.periodicUpdate()
		}
	}
}

// Close stops the loop and tears every connection down.
func (c *Core) Close() error {
	if !c.running {
		c.shutdown()
		return c.closeErr
	}

	c.closeOnce.Do(func() { close(c.stopSyn) })
	<-c.stopAck

	return c.closeErr
}

func (c *Core) shutdown() {
	var result *multierror.Error

	for _, conn := range c.conns {
		if conn.t == nil {
			continue
		}
		if err := conn.t.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	c.conns = make(map[int32]*Connection)
	c.tindex = make(map[transport.Transport]int32)
	c.route = make(map[wire.Key]routeInfo)
	c.reported = make(map[wire.Key]routeInfo)

	c.closeErr = result.ErrorOrNil()
}

// AddPeer registers a persistent outbound peer. Duplicate connectors,
// by their String, are ignored.
func (c *Core) AddPeer(connector transport.Connector) {
	c.doWait(func() {
		name := connector.String()
		if _, ok := c.peers[name]; ok {
			return
		}

		conn := c.newConnection(name)
		conn.connector = connector
		c.peers[name] = conn.id

		c.log().WithField("peer", name).Info("Adding peer")

		conn.startConnect()
	})
}

// HasPeer reports whether an outbound peer with this connector name
// exists, as used by discovery to skip known nodes.
func (c *Core) HasPeer(name string) bool {
	var ok bool
	c.doWait(func() {
		_, ok = c.peers[name]
	})

	return ok
}

// AcceptTransport adopts an inbound, possibly still handshaking
// transport from a listener.
func (c *Core) AcceptTransport(t transport.Transport) {
	c.doWait(func() {
		conn := c.newConnection(t.String())
		conn.state = HandshakeAccepting
		conn.lastRetry = c.clock()
		conn.setTransport(t)

		c.log().WithFields(log.Fields{
			"conn": conn.id,
			"peer": conn.name,
		}).Info("Accepted connection")

		if t.Handshaken() {
			conn.activate()
		}
	})
}

func (c *Core) newConnection(name string) *Connection {
	conn := &Connection{
		c:     c,
		id:    c.nextConnID,
		name:  name,
		state: Inactive,
		ping:  c.conf.timeoutMicros(),
	}
	c.nextConnID++
	c.conns[conn.id] = conn

	return conn
}

func (c *Core) removeConnection(conn *Connection) {
	delete(c.conns, conn.id)
	if conn.connector != nil {
		delete(c.peers, conn.connector.String())
	}
}

// DisconnectPeer gracefully closes the named peer and forgets it.
func (c *Core) DisconnectPeer(name string) {
	c.doWait(func() {
		id, ok := c.peers[name]
		if !ok {
			return
		}

		conn := c.conns[id]
		delete(c.peers, name)
		conn.connector = nil
		conn.disconnect()
	})
}

// periodicUpdate is the ~100ms tick: route propagation, connection
// timers, bandwidth refill and rate bookkeeping.
func (c *Core) periodicUpdate() {
	c.tickCount++
	now := c.clock()

	c.routeUpdate()
	c.blRecompute()

	for _, conn := range c.conns {
		conn.periodic(now)
	}

	if c.tickCount%statsTicks == 0 {
		for _, conn := range c.conns {
			conn.stats.computeRates(time.Duration(statsTicks) * tickInterval)
		}
	}
}

// blRecompute refreshes both directions' bandwidth tokens and resumes
// connections that regained budget.
func (c *Core) blRecompute() {
	if c.conf.uplinkLimited() {
		var active []*Connection
		for _, conn := range c.conns {
			if conn.state == Active {
				active = append(active, conn)
			}
		}

		if len(active) > 0 {
			share := 0
			if c.conf.UplinkTotal > 0 {
				share = c.conf.UplinkTotal / ticksPerSecond / len(active)
			}
			if perConn := c.conf.UplinkConn / ticksPerSecond; perConn > 0 && (share == 0 || share > perConn) {
				share = perConn
			}

			for _, conn := range active {
				conn.ublAvailable += share
				if conn.ublAvailable > c.conf.UplinkBurst {
					conn.ublAvailable = c.conf.UplinkBurst
				}
				conn.pollWrite()
			}
		}
	}

	if c.conf.downlinkLimited() {
		share := c.conf.DownlinkConn / ticksPerSecond
		for _, conn := range c.conns {
			wasSuspended := conn.dblAvailable <= 0

			conn.dblAvailable += share
			if conn.dblAvailable > c.conf.DownlinkBurst {
				conn.dblAvailable = c.conf.DownlinkBurst
			}

			if wasSuspended && conn.dblAvailable > 0 {
				conn.pollRead()
			}
		}
	}
}
