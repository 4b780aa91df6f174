// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package mesh is the CloudVPN core: the per-peer connection state
// machine with its framed protocol, queueing and flow control, and the
// distance-vector routing machinery that forwards packets between
// local gates and remote peers.
//
// A Core owns all mutable state and mutates it from a single event
// loop goroutine. Transports and gates hand work to that loop through
// callbacks; nothing inside the core blocks.
package mesh
