// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// cvpnd is the CloudVPN mesh daemon: it joins the mesh over QUIC
// transports, routes packets between peers and local gates, and serves
// an optional status/WebSocket surface.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"

	log "github.com/sirupsen/logrus"
)

// watchConfig re-applies the logging block whenever the configuration
// file changes.
func watchConfig(filename string, stop chan struct{}) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WithError(err).Warn("Starting file watcher errored")
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filename); err != nil {
		log.WithError(err).Warn("Watching configuration file errored")
		return
	}

	for {
		select {
		case <-stop:
			return

		case e, ok := <-watcher.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			reloadLogging(filename)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Error("fsnotify errored")
		}
	}
}

// waitSignal blocks until a SIGINT or SIGTERM appears.
func waitSignal() {
	signalSyn := make(chan os.Signal, 1)
	signal.Notify(signalSyn, os.Interrupt, syscall.SIGTERM)

	<-signalSyn
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	d, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Fatal("Failed to parse config")
	}

	stopWatch := make(chan struct{})
	go watchConfig(os.Args[1], stopWatch)

	waitSignal()
	log.Info("Shutting down..")
	close(stopWatch)

	var result *multierror.Error

	if d.discovery != nil {
		d.discovery.Close()
	}
	if d.web != nil {
		result = multierror.Append(result, d.web.Close())
	}
	for _, g := range d.gates {
		result = multierror.Append(result, g.Close())
	}
	for _, listener := range d.listeners {
		result = multierror.Append(result, listener.Close())
	}
	result = multierror.Append(result, d.core.Close())

	if err := result.ErrorOrNil(); err != nil {
		log.WithError(err).Warn("Shutdown completed with errors")
	}
}
