// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire implements the CloudVPN mesh protocol's binary encoding:
// addresses, the fixed eight byte frame header, packet payload prefixes
// and route record lists. All multi-byte integers are big-endian.
package wire
