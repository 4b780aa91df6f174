// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package discovery announces this node on the local network and dials
// mesh peers it hears about.
package discovery

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
	"github.com/howeyc/crc16"
)

var crc16table = crc16.MakeTable(crc16.CCITT)

// TransportType is the first field of an Announcement, naming the
// announced transport.
type TransportType uint

const (
	// QUICT is the QUIC-based mesh transport of pkg/transport/quict.
	QUICT TransportType = 0
)

func (tt TransportType) String() string {
	switch tt {
	case QUICT:
		return "quict"
	default:
		return "unknown"
	}
}

// Announcement describes one reachable transport endpoint of a node.
type Announcement struct {
	// Type names the announced transport.
	Type TransportType

	// Port is the announced listen port; the address comes from the
	// multicast packet itself.
	Port uint

	// Nonce distinguishes nodes, so a node ignores its own
	// announcements echoed back by the network.
	Nonce uint64
}

func (announcement Announcement) String() string {
	return fmt.Sprintf("Announcement(%v,%d,%x)", announcement.Type, announcement.Port, announcement.Nonce)
}

// MarshalCbor creates a CBOR representation for an Announcement.
func (announcement *Announcement) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(3, w); err != nil {
		return err
	}

	if err := cboring.WriteUInt(uint64(announcement.Type), w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(uint64(announcement.Port), w); err != nil {
		return err
	}

	return cboring.WriteUInt(announcement.Nonce, w)
}

// UnmarshalCbor creates an Announcement from its CBOR representation.
func (announcement *Announcement) UnmarshalCbor(r io.Reader) error {
	if l, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if l != 3 {
		return fmt.Errorf("wrong array length: %d instead of 3", l)
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		announcement.Type = TransportType(n)
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		announcement.Port = uint(n)
	}

	if n, err := cboring.ReadUInt(r); err != nil {
		return err
	} else {
		announcement.Nonce = n
	}

	return nil
}

// MarshalAnnouncements packs announcements into a CBOR byte string,
// guarded by a trailing CRC-16 against multicast noise.
func MarshalAnnouncements(announcements []Announcement) (data []byte, err error) {
	buff := new(bytes.Buffer)

	if err = cboring.WriteArrayLength(uint64(len(announcements)), buff); err != nil {
		return
	}

	for i := range announcements {
		announcement := announcements[i]
		if cErr := cboring.Marshal(&announcement, buff); cErr != nil {
			err = fmt.Errorf("marshalling Announcement %d (%v) failed: %v", i, announcement, cErr)
			return
		}
	}

	data = buff.Bytes()
	data = binary.BigEndian.AppendUint16(data, crc16.Checksum(data, crc16table))

	return
}

// UnmarshalAnnouncements parses a checksummed CBOR byte string.
func UnmarshalAnnouncements(data []byte) (announcements []Announcement, err error) {
	if len(data) < 2 {
		err = fmt.Errorf("announcement of %d bytes is below the checksum length", len(data))
		return
	}

	payload, sum := data[:len(data)-2], binary.BigEndian.Uint16(data[len(data)-2:])
	if crc16.Checksum(payload, crc16table) != sum {
		err = fmt.Errorf("announcement checksum mismatch")
		return
	}

	buff := bytes.NewBuffer(payload)

	var l uint64
	if l, err = cboring.ReadArrayLength(buff); err != nil {
		return
	}
	announcements = make([]Announcement, l)

	for i := 0; i < len(announcements); i++ {
		if cErr := cboring.Unmarshal(&announcements[i], buff); cErr != nil {
			err = fmt.Errorf("unmarshalling Announcement %d failed: %v", i, cErr)
			return
		}
	}

	return
}
