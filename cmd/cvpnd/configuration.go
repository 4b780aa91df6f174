// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/BurntSushi/toml"

	"github.com/cloudvpn/cloudvpn-go/pkg/discovery"
	"github.com/cloudvpn/cloudvpn-go/pkg/gate"
	"github.com/cloudvpn/cloudvpn-go/pkg/mesh"
	"github.com/cloudvpn/cloudvpn-go/pkg/transport/quict"
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core      mesh.Config
	Logging   logConf
	Discovery discoveryConf
	Web       webConf
	Listen    []listenConf
	Peer      []peerConf
	Gate      []gateConf
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// discoveryConf describes the Discovery-configuration block.
type discoveryConf struct {
	IPv4     bool
	IPv6     bool
	Interval uint
}

// webConf describes the status/WebSocket gate server.
type webConf struct {
	Listen string
}

// listenConf describes one transport listener.
type listenConf struct {
	Protocol string
	Endpoint string
}

// peerConf describes one static outbound peer.
type peerConf struct {
	Protocol string
	Endpoint string
}

// gateConf describes one local gate.
type gateConf struct {
	// Kind is "echo" for an echoing gate.
	Kind     string
	Instance uint32
	// Address is the hex form of the gate's address data.
	Address string
}

// daemon bundles everything main has to shut down.
type daemon struct {
	core      *mesh.Core
	listeners []*quict.Listener
	discovery *discovery.Manager
	web       *gate.WebGate
	gates     []*gate.EchoGate
}

// setupLogging applies the logging block, also used on config reload.
func setupLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

func parseListenPort(endpoint string) (port int, err error) {
	var portStr string
	if _, portStr, err = net.SplitHostPort(endpoint); err != nil {
		return
	}
	port, err = strconv.Atoi(portStr)

	return
}

// parseListen starts one listener and returns its discovery message.
func parseListen(conf listenConf, c *mesh.Core) (*quict.Listener, discovery.Announcement, error) {
	switch conf.Protocol {
	case "quict":
		portInt, err := parseListenPort(conf.Endpoint)
		if err != nil {
			return nil, discovery.Announcement{}, err
		}

		listener := quict.NewListener(conf.Endpoint, c.AcceptTransport)
		if err := listener.Start(); err != nil {
			return nil, discovery.Announcement{}, err
		}

		msg := discovery.Announcement{
			Type: discovery.QUICT,
			Port: uint(portInt),
		}

		return listener, msg, nil

	default:
		return nil, discovery.Announcement{}, fmt.Errorf("unknown listen.protocol %q", conf.Protocol)
	}
}

func parsePeer(conf peerConf, c *mesh.Core) error {
	switch conf.Protocol {
	case "quict":
		c.AddPeer(quict.NewConnector(conf.Endpoint))
		return nil

	default:
		return fmt.Errorf("unknown peer.protocol %q", conf.Protocol)
	}
}

func parseGate(conf gateConf, c *mesh.Core) (*gate.EchoGate, error) {
	data, err := hex.DecodeString(conf.Address)
	if err != nil {
		return nil, fmt.Errorf("gate address is not hex: %w", err)
	}

	addr, err := wire.NewAddress(conf.Instance, data)
	if err != nil {
		return nil, err
	}

	switch conf.Kind {
	case "echo":
		return gate.NewEchoGate(c, addr), nil

	default:
		return nil, fmt.Errorf("unknown gate.kind %q", conf.Kind)
	}
}

// parseConfig creates the daemon based on the given TOML configuration.
func parseConfig(filename string) (*daemon, error) {
	var conf tomlConfig
	if _, err := toml.DecodeFile(filename, &conf); err != nil {
		return nil, err
	}

	setupLogging(conf.Logging)

	d := &daemon{
		core: mesh.NewCore(conf.Core),
	}

	var announcements []discovery.Announcement

	for _, lst := range conf.Listen {
		listener, msg, err := parseListen(lst, d.core)
		if err != nil {
			return nil, err
		}
		d.listeners = append(d.listeners, listener)
		announcements = append(announcements, msg)
	}

	for _, peer := range conf.Peer {
		if err := parsePeer(peer, d.core); err != nil {
			log.WithFields(log.Fields{
				"peer":  peer.Endpoint,
				"error": err,
			}).Warn("Failed to establish a connection to a peer")
		}
	}

	for _, g := range conf.Gate {
		eg, err := parseGate(g, d.core)
		if err != nil {
			return nil, err
		}
		d.gates = append(d.gates, eg)
	}

	if conf.Web.Listen != "" {
		d.web = gate.NewWebGate(d.core, conf.Web.Listen)
		d.web.Start()
	}

	if conf.Discovery.IPv4 || conf.Discovery.IPv6 {
		if conf.Discovery.Interval == 0 {
			conf.Discovery.Interval = 10
		}

		ds, err := discovery.NewManager(
			d.core, announcements,
			time.Duration(conf.Discovery.Interval)*time.Second,
			conf.Discovery.IPv4, conf.Discovery.IPv6)
		if err != nil {
			return nil, err
		}
		d.discovery = ds
	}

	return d, nil
}

// reloadLogging re-reads only the logging block of the configuration.
func reloadLogging(filename string) {
	var conf tomlConfig
	if _, err := toml.DecodeFile(filename, &conf); err != nil {
		log.WithError(err).Warn("Reloading configuration failed")
		return
	}

	setupLogging(conf.Logging)
	log.Info("Reloaded logging configuration")
}
