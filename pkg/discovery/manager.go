// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"fmt"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/schollz/peerdiscovery"

	"github.com/cloudvpn/cloudvpn-go/pkg/mesh"
	"github.com/cloudvpn/cloudvpn-go/pkg/transport/quict"
)

const (
	// address4 is the multicast IPv4 address used for discovery.
	address4 = "224.23.23.23"

	// address6 is the multicast IPv6 address used for discovery.
	address6 = "ff02::2323"

	// port is the multicast port used for discovery.
	port = 35039
)

// Manager publishes and receives Announcements, dialing every newly
// heard peer.
type Manager struct {
	core  *mesh.Core
	nonce uint64

	stopChan4 chan struct{}
	stopChan6 chan struct{}
}

// NewManager creates a running Manager announcing the given endpoints.
func NewManager(core *mesh.Core, announcements []Announcement, interval time.Duration, ipv4, ipv6 bool) (*Manager, error) {
	manager := &Manager{
		core:  core,
		nonce: rand.Uint64(),
	}
	if ipv4 {
		manager.stopChan4 = make(chan struct{})
	}
	if ipv6 {
		manager.stopChan6 = make(chan struct{})
	}

	for i := range announcements {
		announcements[i].Nonce = manager.nonce
	}

	log.WithFields(log.Fields{
		"interval":      interval,
		"IPv4":          ipv4,
		"IPv6":          ipv6,
		"announcements": announcements,
	}).Info("Starting discovery manager")

	msg, err := MarshalAnnouncements(announcements)
	if err != nil {
		return nil, err
	}

	sets := []struct {
		active           bool
		multicastAddress string
		stopChan         chan struct{}
		ipVersion        peerdiscovery.IPVersion
		notify           func(discovered peerdiscovery.Discovered)
	}{
		{ipv4, address4, manager.stopChan4, peerdiscovery.IPv4, manager.notify},
		{ipv6, address6, manager.stopChan6, peerdiscovery.IPv6, manager.notify6},
	}

	for _, set := range sets {
		if !set.active {
			continue
		}

		settings := peerdiscovery.Settings{
			Limit:            -1,
			Port:             fmt.Sprintf("%d", port),
			MulticastAddress: set.multicastAddress,
			Payload:          msg,
			Delay:            interval,
			TimeLimit:        -1,
			StopChan:         set.stopChan,
			AllowSelf:        true,
			IPVersion:        set.ipVersion,
			Notify:           set.notify,
		}

		discoverErrChan := make(chan error)
		go func() {
			_, discoverErr := peerdiscovery.Discover(settings)
			discoverErrChan <- discoverErr
		}()

		select {
		case discoverErr := <-discoverErrChan:
			if discoverErr != nil {
				return nil, discoverErr
			}

		case <-time.After(time.Second):
		}
	}

	return manager, nil
}

func (manager *Manager) notify6(discovered peerdiscovery.Discovered) {
	discovered.Address = fmt.Sprintf("[%s]", discovered.Address)

	manager.notify(discovered)
}

func (manager *Manager) notify(discovered peerdiscovery.Discovered) {
	announcements, err := UnmarshalAnnouncements(discovered.Payload)
	if err != nil {
		log.WithError(err).WithField("peer", discovered.Address).Warn("Peer discovery failed to parse incoming package")

		return
	}

	for _, announcement := range announcements {
		manager.handleDiscovery(announcement, discovered.Address)
	}
}

func (manager *Manager) handleDiscovery(announcement Announcement, addr string) {
	if announcement.Nonce == manager.nonce {
		return
	}

	log.WithFields(log.Fields{
		"peer":    addr,
		"message": announcement,
	}).Debug("Peer discovery received a message")

	if announcement.Type != QUICT {
		log.WithFields(log.Fields{
			"peer":    addr,
			"type":    announcement.Type,
			"type-no": uint(announcement.Type),
		}).Warn("Announcement's type is unknown or unsupported")
		return
	}

	connector := quict.NewConnector(fmt.Sprintf("%s:%d", addr, announcement.Port))
	if manager.core.HasPeer(connector.String()) {
		return
	}

	manager.core.AddPeer(connector)
}

// Close this Manager.
func (manager *Manager) Close() {
	for _, c := range []chan struct{}{manager.stopChan4, manager.stopChan6} {
		if c != nil {
			c <- struct{}{}
		}
	}
}
