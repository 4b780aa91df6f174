// SPDX-FileCopyrightText: 2026 The cloudvpn-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package mesh

import "testing"

func TestIDCacheBasics(t *testing.T) {
	q := newIDCache(4)

	if q.Contains(1) {
		t.Fatal("empty cache contains 1")
	}

	q.Add(1)
	q.Add(2)
	if !q.Contains(1) || !q.Contains(2) {
		t.Fatal("cache lost fresh entries")
	}
}

func TestIDCacheEviction(t *testing.T) {
	q := newIDCache(3)

	for id := uint32(1); id <= 5; id++ {
		q.Add(id)
	}

	if q.Contains(1) || q.Contains(2) {
		t.Fatal("oldest entries survived eviction")
	}
	for id := uint32(3); id <= 5; id++ {
		if !q.Contains(id) {
			t.Fatalf("entry %d evicted too early", id)
		}
	}
}

// A duplicate id occupies two age slots; evicting the older one must
// not erase the newer one's visibility.
func TestIDCacheDuplicateRefcount(t *testing.T) {
	q := newIDCache(3)

	q.Add(7)
	q.Add(8)
	q.Add(7)
	q.Add(9) // evicts the first 7

	if !q.Contains(7) {
		t.Fatal("refcounted entry vanished with its older duplicate")
	}

	q.Add(10) // evicts 8
	q.Add(11) // evicts the second 7

	if q.Contains(7) {
		t.Fatal("entry survived after all duplicates left the queue")
	}
}

func TestIDCacheCompaction(t *testing.T) {
	q := newIDCache(2)

	for id := uint32(0); id < 1000; id++ {
		q.Add(id)
	}

	if q.len() != 2 {
		t.Fatalf("cache holds %d entries", q.len())
	}
	if !q.Contains(999) || !q.Contains(998) || q.Contains(997) {
		t.Fatal("unexpected cache content after churn")
	}
}
