// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"bytes"
	"testing"
)

func TestMemPairExchange(t *testing.T) {
	a, b := MemPair()

	var events []Event
	a.SetNotify(func(ev Event) { events = append(events, ev) })
	b.SetNotify(func(Event) {})

	if len(events) != 1 || events[0] != EventHandshake {
		t.Fatalf("expected a replayed handshake event, got %v", events)
	}
	if !a.Handshaken() || !b.Handshaken() {
		t.Fatal("pair should be handshaken")
	}

	if n, err := b.Write([]byte("hello")); err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if len(events) != 2 || events[1] != EventReadable {
		t.Fatalf("expected a readable event, got %v", events)
	}

	buf := make([]byte, 16)
	if n, err := a.Read(buf); err != nil || !bytes.Equal(buf[:n], []byte("hello")) {
		t.Fatalf("read: %q err=%v", buf[:n], err)
	}

	if _, err := a.Read(buf); err != ErrAgain {
		t.Fatalf("empty read should return ErrAgain, got %v", err)
	}
}

func TestMemWriteLimit(t *testing.T) {
	a, b := MemPair()
	a.SetNotify(func(Event) {})
	b.SetNotify(func(Event) {})

	a.SetWriteLimit(2)

	if n, err := a.Write([]byte("abcdef")); err != nil || n != 2 {
		t.Fatalf("limited write: n=%d err=%v", n, err)
	}

	buf := make([]byte, 16)
	if n, _ := b.Read(buf); !bytes.Equal(buf[:n], []byte("ab")) {
		t.Fatalf("read %q", buf[:n])
	}
}

func TestMemClosePropagates(t *testing.T) {
	a, b := MemPair()
	a.SetNotify(func(Event) {})

	var events []Event
	b.SetNotify(func(ev Event) { events = append(events, ev) })

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	if len(events) != 2 || events[1] != EventError {
		t.Fatalf("expected an error event on the peer, got %v", events)
	}
	if b.Err() == nil {
		t.Fatal("peer should report an error")
	}
	if _, err := b.Write([]byte("x")); err != ErrClosed {
		t.Fatalf("write after close should return ErrClosed, got %v", err)
	}
}

func TestMemConnector(t *testing.T) {
	a, _ := MemPair()
	mc := NewMemConnector("test", a)

	if tr, err := mc.Connect(); err != nil || tr != Transport(a) {
		t.Fatalf("connect: %v %v", tr, err)
	}
	if _, err := mc.Connect(); err == nil {
		t.Fatal("exhausted connector should error")
	}
}
