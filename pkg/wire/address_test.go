// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"bytes"
	"testing"
)

func TestAddressLimits(t *testing.T) {
	if _, err := NewAddress(1, make([]byte, MaxAddrLen)); err != nil {
		t.Fatalf("address of %d bytes should be valid: %v", MaxAddrLen, err)
	}

	if _, err := NewAddress(1, make([]byte, MaxAddrLen+1)); err == nil {
		t.Fatalf("address of %d bytes should be invalid", MaxAddrLen+1)
	}
}

func TestAddressPromisc(t *testing.T) {
	a := MustNewAddress(7, []byte{0xAA, 0xBB})
	if a.IsPromisc() {
		t.Fatal("regular address reported promisc")
	}

	p := a.Promisc()
	if !p.IsPromisc() || p.Instance != 7 {
		t.Fatalf("promisc form is %v", p)
	}
}

func TestKeyOrdering(t *testing.T) {
	tests := []struct {
		a, b Address
		less bool
	}{
		{MustNewAddress(1, nil), MustNewAddress(2, nil), true},
		{MustNewAddress(2, nil), MustNewAddress(1, nil), false},
		{MustNewAddress(1, nil), MustNewAddress(1, []byte{0x00}), true},
		{MustNewAddress(1, []byte{0x00}), MustNewAddress(1, []byte{0x00, 0x00}), true},
		{MustNewAddress(1, []byte{0x01}), MustNewAddress(1, []byte{0x00, 0xFF}), false},
		{MustNewAddress(3, []byte{0x01}), MustNewAddress(3, []byte{0x01}), false},
	}

	for _, test := range tests {
		if less := test.a.Key().Less(test.b.Key()); less != test.less {
			t.Errorf("%v < %v: expected %t, got %t", test.a, test.b, test.less, less)
		}
	}
}

func TestKeyRoundtrip(t *testing.T) {
	a := MustNewAddress(23, []byte{0xDE, 0xAD})
	b := a.Key().Address()

	if b.Instance != a.Instance || !bytes.Equal(b.Data, a.Data) {
		t.Fatalf("expected %v, got %v", a, b)
	}
}

func TestKeyIgnoresBroadcast(t *testing.T) {
	a := MustNewAddress(1, []byte{0x01})
	b := a
	b.Broadcast = true

	if a.Key() != b.Key() {
		t.Fatal("broadcast bit leaked into the routing identity")
	}
}
