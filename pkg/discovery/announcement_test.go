// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package discovery

import (
	"reflect"
	"testing"
)

func TestAnnouncementsRoundtrip(t *testing.T) {
	in := []Announcement{
		{Type: QUICT, Port: 2332, Nonce: 0xDEADBEEF},
		{Type: QUICT, Port: 65535, Nonce: 1},
	}

	data, err := MarshalAnnouncements(in)
	if err != nil {
		t.Fatal(err)
	}

	out, err := UnmarshalAnnouncements(data)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(in, out) {
		t.Fatalf("expected %v, got %v", in, out)
	}
}

func TestAnnouncementsChecksum(t *testing.T) {
	data, err := MarshalAnnouncements([]Announcement{{Type: QUICT, Port: 2332}})
	if err != nil {
		t.Fatal(err)
	}

	data[0] ^= 0xFF
	if _, err := UnmarshalAnnouncements(data); err == nil {
		t.Fatal("corrupted announcement parsed")
	}

	if _, err := UnmarshalAnnouncements([]byte{0x01}); err == nil {
		t.Fatal("short announcement parsed")
	}
}
