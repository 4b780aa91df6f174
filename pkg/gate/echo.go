// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package gate

import (
	log "github.com/sirupsen/logrus"

	"github.com/cloudvpn/cloudvpn-go/pkg/mesh"
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// EchoGate answers every packet it receives by swapping source and
// destination, a cheap mesh liveness probe for applications.
type EchoGate struct {
	gate *ChannelGate
}

// NewEchoGate registers an echoing gate on the given address.
func NewEchoGate(c *mesh.Core, addr wire.Address) *EchoGate {
	e := &EchoGate{gate: NewChannelGate(c, addr)}

	go e.handler(addr)

	return e
}

func (e *EchoGate) handler(addr wire.Address) {
	for p := range e.gate.Receiver() {
		if len(p.Src.Data) == 0 {
			// No way back.
			continue
		}

		log.WithFields(log.Fields{
			"gate": e.gate.id,
			"from": p.Src,
		}).Debug("Echoing packet")

		e.gate.Send(p.Src, addr, p.Payload)
	}
}

// Close detaches the gate and ends the echo loop.
func (e *EchoGate) Close() error {
	e.gate.Detach()

	return nil
}
