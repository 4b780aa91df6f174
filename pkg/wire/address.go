// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wire

import (
	"encoding/hex"
	"fmt"
)

// MaxAddrLen bounds the variable part of an Address on the wire.
const MaxAddrLen = 255

// Address names an endpoint inside the mesh. The instance number
// partitions the address space, the data part identifies one endpoint
// within an instance. An empty data part is the promiscuous form, a
// wildcard listener claiming every address of its instance.
//
// Broadcast is a transient delivery property, never part of the
// routing identity: two Addresses with equal Instance and Data compare
// equal regardless of it.
type Address struct {
	Instance  uint32
	Data      []byte
	Broadcast bool
}

// NewAddress creates a unicast Address, rejecting oversized data parts.
func NewAddress(instance uint32, data []byte) (Address, error) {
	if len(data) > MaxAddrLen {
		return Address{}, fmt.Errorf("address data of %d bytes exceeds the %d byte limit", len(data), MaxAddrLen)
	}

	return Address{Instance: instance, Data: data}, nil
}

// MustNewAddress is like NewAddress and panics on oversized data parts.
func MustNewAddress(instance uint32, data []byte) Address {
	a, err := NewAddress(instance, data)
	if err != nil {
		panic(err)
	}

	return a
}

// Promisc returns the promiscuous form of this Address' instance.
func (a Address) Promisc() Address {
	return Address{Instance: a.Instance}
}

// IsPromisc checks for an empty data part.
func (a Address) IsPromisc() bool {
	return len(a.Data) == 0
}

// Key returns this Address' comparable routing identity, usable as a
// map key. The Broadcast bit is not part of it.
func (a Address) Key() Key {
	return Key{instance: a.Instance, data: string(a.Data)}
}

func (a Address) String() string {
	if a.IsPromisc() {
		return fmt.Sprintf("%d/*", a.Instance)
	}

	return fmt.Sprintf("%d/%s", a.Instance, hex.EncodeToString(a.Data))
}

// Key is the comparable form of an Address, ordered lexicographically
// on (instance, data).
type Key struct {
	instance uint32
	data     string
}

// Address restores the Address behind this Key.
func (k Key) Address() Address {
	return Address{Instance: k.instance, Data: []byte(k.data)}
}

// Instance returns the instance number of the keyed Address.
func (k Key) Instance() uint32 {
	return k.instance
}

// IsPromisc checks for an empty data part.
func (k Key) IsPromisc() bool {
	return len(k.data) == 0
}

// Less reports whether k orders before o.
func (k Key) Less(o Key) bool {
	if k.instance != o.instance {
		return k.instance < o.instance
	}

	return k.data < o.data
}

func (k Key) String() string {
	return k.Address().String()
}
