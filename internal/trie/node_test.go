// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package trie

import (
	"sync"
	"testing"

	"github.com/starcast/rib/internal/af"
)

func TestMergePfxIdempotent(t *testing.T) {
	n := NewNode[testMeta]()
	span := af.BitSpan{Bits: 3, Len: 2}

	if n.HasPrefix(span) {
		t.Fatalf("fresh node must not report any prefix set")
	}
	if r := n.MergePfx(span.BitPos()); r != 0 {
		t.Fatalf("first merge on an uncontended node should need 0 retries, got %d", r)
	}
	if !n.HasPrefix(span) {
		t.Fatalf("expected prefix set after merge")
	}
	if r := n.MergePfx(span.BitPos()); r != 0 {
		t.Fatalf("merging an already-set bit must be a cheap no-op, got %d retries", r)
	}
}

func TestMergePtrConcurrentDistinctBits(t *testing.T) {
	n := NewNode[testMeta]()

	var wg sync.WaitGroup
	for nib := uint32(0); nib < MaxNodeChildren; nib++ {
		wg.Add(1)
		go func(nib uint32) {
			defer wg.Done()
			n.MergePtr(nib)
		}(nib)
	}
	wg.Wait()

	for nib := uint32(0); nib < MaxNodeChildren; nib++ {
		if !n.HasChild(nib) {
			t.Fatalf("nibble %d should have a child after concurrent merge", nib)
		}
	}
}

func TestMergePtrConcurrentSameBit(t *testing.T) {
	n := NewNode[testMeta]()

	const workers = 32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			n.MergePtr(7)
		}()
	}
	wg.Wait()

	if !n.HasChild(7) {
		t.Fatalf("expected bit 7 set")
	}
	if got := n.PtrBits(); got != 1<<7 {
		t.Fatalf("expected only bit 7 set, got %#x", got)
	}
}

func TestAllPrefixBitPositionsOrdered(t *testing.T) {
	n := NewNode[testMeta]()
	spans := []af.BitSpan{{Bits: 0, Len: 0}, {Bits: 1, Len: 1}, {Bits: 5, Len: 3}, {Bits: 15, Len: 4}}
	for _, s := range spans {
		n.MergePfx(s.BitPos())
	}

	positions := n.AllPrefixBitPositions()
	if len(positions) != len(spans) {
		t.Fatalf("expected %d positions, got %d", len(spans), len(positions))
	}
	for i := 1; i < len(positions); i++ {
		if positions[i] <= positions[i-1] {
			t.Fatalf("positions must be strictly ascending, got %v", positions)
		}
	}
}

func TestRecordCellAtIsPerSpan(t *testing.T) {
	n := NewNode[testMeta]()
	a := af.BitSpan{Bits: 1, Len: 1}
	b := af.BitSpan{Bits: 0, Len: 1}

	ca := n.recordCellAt(a)
	cb := n.recordCellAt(b)
	if ca == cb {
		t.Fatalf("distinct spans must not share a record cell")
	}
	if n.recordCellAt(a) != ca {
		t.Fatalf("recordCellAt must be stable across calls for the same span")
	}
}
