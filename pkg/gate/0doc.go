// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package gate implements local attachment points for applications:
// an in-process channel gate, an echo gate for liveness probing, and a
// WebSocket gate with a JSON status surface.
package gate
