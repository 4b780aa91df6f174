// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package quict

import (
	"context"
	"strings"

	"github.com/quic-go/quic-go"

	log "github.com/sirupsen/logrus"

	"github.com/cloudvpn/cloudvpn-go/pkg/transport"
)

// Listener accepts inbound QUIC transports and hands them to a
// registered callback, usually Core.AcceptTransport.
type Listener struct {
	listenAddress string
	accept        func(transport.Transport)
	listener      *quic.Listener
}

// NewListener creates a Listener for the given UDP address. Accepted
// transports are passed to accept while they are still handshaking.
func NewListener(listenAddress string, accept func(transport.Transport)) *Listener {
	return &Listener{
		listenAddress: listenAddress,
		accept:        accept,
	}
}

// Addr returns the bound address, valid after Start.
func (listener *Listener) Addr() string {
	if listener.listener == nil {
		return listener.listenAddress
	}

	return listener.listener.Addr().String()
}

func (listener *Listener) Start() error {
	log.WithField("address", listener.listenAddress).Info("Starting quict listener")

	lst, err := quic.ListenAddr(listener.listenAddress, generateListenerTLSConfig(), generateQUICConfig())
	if err != nil {
		log.WithError(err).Error("Error creating quict listener")
		return err
	}

	listener.listener = lst
	go listener.handle()

	return nil
}

func (listener *Listener) Close() error {
	log.WithField("address", listener.listenAddress).Info("Shutting quict listener down")

	return listener.listener.Close()
}

func (listener *Listener) handle() {
	for {
		conn, err := listener.listener.Accept(context.Background())
		if err != nil {
			if strings.Contains(err.Error(), "closed") {
				return
			}

			log.WithFields(log.Fields{
				"address": listener.listenAddress,
				"error":   err,
			}).Error("Error accepting QUIC connection")
			continue
		}

		log.WithFields(log.Fields{
			"address": listener.listenAddress,
			"peer":    conn.RemoteAddr(),
		}).Info("quict listener accepted new connection")

		listener.accept(accepted(conn))
	}
}
