// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package trie implements the tree-bitmap node and the stride-descent
// insert/match algorithms (component D), with the per-prefix record store
// (component E) collocated on each node: a PrefixId always resolves to
// exactly one (Node, BitSpan) pair during descent, so rather than stand up
// a second, fully parallel chained-hash-table keyed by PrefixId, each
// node carries a small once-write array of record cells addressed by
// BitSpan.BitPos(). See DESIGN.md for this simplification.
package trie

import (
	"math/bits"
	"runtime"
	"sync/atomic"

	"github.com/starcast/rib/internal/af"
	"github.com/starcast/rib/internal/oncebox"
	"github.com/starcast/rib/internal/rtypes"
)

const (
	// StrideLen is the fixed number of address bits a node consumes.
	StrideLen = af.StrideLen

	// MaxNodeChildren is 2^StrideLen: the width of ptrbitarr.
	MaxNodeChildren = 1 << StrideLen

	// MaxNodePrefixes is 2^(StrideLen+1): the width of pfxbitarr, one bit
	// per BitSpan reachable within a single stride.
	MaxNodePrefixes = 1 << (StrideLen + 1)
)

// recordCell is one per-prefix record slot: an atomically swapped
// pointer to the current record vector.
type recordCell[M rtypes.Meta[M]] struct {
	recs atomic.Pointer[[]rtypes.Record[M]]
}

// Node is one level of the multi-bit tree-bitmap trie. Both bitmaps are
// modified only by MergePtr/MergePfx, a monotonic CAS-OR; no mutex is ever
// taken to mutate them (Invariant I4).
type Node[M rtypes.Meta[M]] struct {
	ptrbitarr atomic.Uint32 // bit i set iff a child exists for nibble i
	pfxbitarr atomic.Uint32 // bit set iff a prefix terminates at that BitSpan

	retries atomic.Uint32 // CAS retries observed on this node, surfaced in UpsertReport

	records [MaxNodePrefixes]oncebox.Box[recordCell[M]]
}

// NewNode returns a freshly zeroed node.
func NewNode[M rtypes.Meta[M]]() *Node[M] {
	return &Node[M]{}
}

// PtrBits returns the current ptrbitarr snapshot.
func (n *Node[M]) PtrBits() uint32 { return n.ptrbitarr.Load() }

// PfxBits returns the current pfxbitarr snapshot.
func (n *Node[M]) PfxBits() uint32 { return n.pfxbitarr.Load() }

// Retries returns the number of CAS retries observed merging bitmaps into
// this node, for load-shedding / contention monitoring.
func (n *Node[M]) Retries() int { return int(n.retries.Load()) }

// HasChild reports whether a child exists at the given nibble.
func (n *Node[M]) HasChild(nibble uint32) bool {
	return n.ptrbitarr.Load()&(1<<nibble) != 0
}

// HasPrefix reports whether a prefix terminates at the given BitSpan.
func (n *Node[M]) HasPrefix(span af.BitSpan) bool {
	return n.pfxbitarr.Load()&(1<<span.BitPos()) != 0
}

// MergePtr OR's bit into ptrbitarr via a bounded CAS-retry loop and
// returns the number of retries observed.
func (n *Node[M]) MergePtr(bit uint32) int {
	return mergeBit(&n.ptrbitarr, bit, &n.retries)
}

// MergePfx OR's bit into pfxbitarr via a bounded CAS-retry loop and
// returns the number of retries observed.
func (n *Node[M]) MergePfx(bit uint32) int {
	return mergeBit(&n.pfxbitarr, bit, &n.retries)
}

func mergeBit(word *atomic.Uint32, bit uint32, retryCounter *atomic.Uint32) int {
	mask := uint32(1) << bit
	retries := 0

	for {
		old := word.Load()
		if old&mask != 0 {
			// Already set by a concurrent writer; nothing to merge.
			return retries
		}

		if word.CompareAndSwap(old, old|mask) {
			if retries > 0 {
				retryCounter.Add(uint32(retries))
			}
			return retries
		}

		retries++
		if retries&0x3f == 0 {
			// Bounded back-off: yield the P so the CAS winner makes
			// progress instead of every loser spinning in lockstep.
			runtime.Gosched()
		}
	}
}

// recordCellAt returns (creating on first use) the record cell for span.
func (n *Node[M]) recordCellAt(span af.BitSpan) *recordCell[M] {
	cell, _ := n.records[span.BitPos()].GetOrInit(func() *recordCell[M] {
		return &recordCell[M]{}
	})
	return cell
}

// loadRecords returns the current record vector for span, or nil if none
// has ever been written.
func (n *Node[M]) loadRecords(span af.BitSpan) []rtypes.Record[M] {
	cell, ok := n.records[span.BitPos()].Get()
	if !ok {
		return nil
	}
	p := cell.recs.Load()
	if p == nil {
		return nil
	}
	return *p
}

// AllPrefixBitPositions returns every set bit position in pfxbitarr, in
// ascending order.
func (n *Node[M]) AllPrefixBitPositions() []uint32 {
	word := n.pfxbitarr.Load()
	out := make([]uint32, 0, bits.OnesCount32(word))
	for word != 0 {
		pos := uint32(bits.TrailingZeros32(word))
		out = append(out, pos)
		word &^= 1 << pos
	}
	return out
}

// AllChildNibbles returns every nibble with a live child, in ascending
// order.
func (n *Node[M]) AllChildNibbles() []uint32 {
	word := n.ptrbitarr.Load()
	out := make([]uint32, 0, bits.OnesCount32(word))
	for word != 0 {
		nib := uint32(bits.TrailingZeros32(word))
		out = append(out, nib)
		word &^= 1 << nib
	}
	return out
}
