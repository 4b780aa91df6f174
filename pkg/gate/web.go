// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package gate

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	log "github.com/sirupsen/logrus"

	"github.com/cloudvpn/cloudvpn-go/pkg/mesh"
	"github.com/cloudvpn/cloudvpn-go/pkg/wire"
)

// WebGate serves two HTTP surfaces: a JSON status endpoint with the
// core's connections and routes, and a WebSocket endpoint where each
// client becomes its own ChannelGate.
//
// A client opens with one JSON hello naming its address, then
// exchanges binary packet messages:
//
//	flags:u8 | dlen:u8 | dst | slen:u8 | src | payload
//
// with flags bit 0 marking a broadcast.
type WebGate struct {
	c        *mesh.Core
	server   *http.Server
	upgrader websocket.Upgrader
}

// webHello is the first, JSON-encoded client message.
type webHello struct {
	Instance uint32 `json:"instance"`
	// Address is the hex form of the claimed address data; empty
	// claims the instance promiscuously.
	Address string `json:"address"`
}

const webFlagBroadcast = 0x01

// NewWebGate creates a WebGate listening on addr.
func NewWebGate(c *mesh.Core, addr string) *WebGate {
	w := &WebGate{c: c}

	router := mux.NewRouter()
	router.HandleFunc("/status", w.handleStatus).Methods("GET")
	router.HandleFunc("/ws", w.handleWS)

	w.server = &http.Server{Addr: addr, Handler: router}

	return w
}

// Start serves HTTP in the background.
func (w *WebGate) Start() {
	go func() {
		if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("WebGate server failed")
		}
	}()
}

// Close shuts the HTTP server down.
func (w *WebGate) Close() error {
	return w.server.Close()
}

func (w *WebGate) handleStatus(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(rw).Encode(w.c.Status()); err != nil {
		log.WithError(err).Warn("Encoding status errored")
	}
}

func (w *WebGate) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}

	client, err := newWebClient(w.c, conn)
	if err != nil {
		log.WithError(err).Warn("WebSocket client rejected")
		_ = conn.Close()
		return
	}

	client.run()
}

// webClient is one attached WebSocket application.
type webClient struct {
	conn *websocket.Conn
	gate *ChannelGate
	addr wire.Address
}

func newWebClient(c *mesh.Core, conn *websocket.Conn) (*webClient, error) {
	var hello webHello
	if err := conn.ReadJSON(&hello); err != nil {
		return nil, fmt.Errorf("reading hello failed: %w", err)
	}

	data, err := hex.DecodeString(hello.Address)
	if err != nil {
		return nil, fmt.Errorf("hello address is not hex: %w", err)
	}
	addr, err := wire.NewAddress(hello.Instance, data)
	if err != nil {
		return nil, err
	}

	log.WithField("address", addr).Info("WebSocket client attached")

	return &webClient{
		conn: conn,
		gate: NewChannelGate(c, addr),
		addr: addr,
	}, nil
}

func (wc *webClient) run() {
	go wc.deliver()

	for {
		mt, data, err := wc.conn.ReadMessage()
		if err != nil {
			log.WithError(err).Debug("WebSocket client left")
			break
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		wc.submit(data)
	}

	wc.gate.Detach()
	_ = wc.conn.Close()
}

func (wc *webClient) submit(data []byte) {
	flags, dst, src, payload, err := parseWebPacket(wc.addr.Instance, data)
	if err != nil {
		log.WithError(err).Debug("Dropping malformed WebSocket packet")
		return
	}

	if flags&webFlagBroadcast != 0 {
		wc.gate.Broadcast(dst, src, payload)
	} else {
		wc.gate.Send(dst, src, payload)
	}
}

func (wc *webClient) deliver() {
	for p := range wc.gate.Receiver() {
		data := appendWebPacket(nil, 0, p.Dst, p.Src, p.Payload)
		if err := wc.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
			log.WithError(err).Debug("WebSocket delivery failed")
			return
		}
	}
}

func parseWebPacket(instance uint32, data []byte) (flags uint8, dst, src wire.Address, payload []byte, err error) {
	if len(data) < 2 {
		err = fmt.Errorf("packet message truncated")
		return
	}
	flags = data[0]

	dlen := int(data[1])
	rest := data[2:]
	if dlen == 0 {
		err = fmt.Errorf("empty destination")
		return
	}
	if len(rest) < dlen+1 {
		err = fmt.Errorf("packet message truncated")
		return
	}
	dst = wire.Address{Instance: instance, Data: append([]byte(nil), rest[:dlen]...)}

	slen := int(rest[dlen])
	rest = rest[dlen+1:]
	if len(rest) < slen {
		err = fmt.Errorf("packet message truncated")
		return
	}
	src = wire.Address{Instance: instance, Data: append([]byte(nil), rest[:slen]...)}
	payload = append([]byte(nil), rest[slen:]...)

	return
}

func appendWebPacket(b []byte, flags uint8, dst, src wire.Address, payload []byte) []byte {
	b = append(b, flags, uint8(len(dst.Data)))
	b = append(b, dst.Data...)
	b = append(b, uint8(len(src.Data)))
	b = append(b, src.Data...)

	return append(b, payload...)
}
