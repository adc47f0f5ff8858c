// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package trie

import (
	"iter"

	"github.com/starcast/rib/internal/af"
	"github.com/starcast/rib/internal/cht"
	"github.com/starcast/rib/internal/rtypes"
)

// LongestMatch performs the stride-descent longest-prefix-match lookup
// of §4.D: descend nibble by nibble, and at each node search from the
// full in-node nibble down to the empty span (ParentSpan backtrack) for
// a set pfxbitarr bit. The deepest node visited that holds any hit wins,
// since a hit found deeper in the descent is always a longer (more
// specific) prefix than any hit found in an ancestor.
func (t *Trie[M]) LongestMatch(addr af.Addr) (af.PrefixID, bool) {
	tok := t.guard.Pin()
	defer t.guard.Unpin(tok)

	node := t.root
	nodeSet := t.rootChildren.Bucket()

	var best af.PrefixID
	found := false

	for lvl := 0; ; lvl++ {
		nibbleLen := cht.NodesetSize(int(addr.Bits), lvl)
		if nibbleLen == 0 {
			break
		}

		startBit := uint8(lvl) * StrideLen
		nibble := addr.GetNibble(startBit, nibbleLen)

		for span, ok := (af.BitSpan{Bits: nibble, Len: nibbleLen}), true; ok; span, ok = span.ParentSpan() {
			if node.HasPrefix(span) {
				length := startBit + span.Len
				best = af.PrefixID{Addr: addr.TruncateToLen(length), Length: length}
				found = true
				break
			}
		}

		if startBit+nibbleLen >= addr.Bits || !node.HasChild(nibble) {
			break
		}

		sn, ok := nodeSet.Get(uint8(nibble))
		if !ok {
			break
		}
		node, nodeSet = sn.Value, sn.Children
	}

	return best, found
}

// ExactMatch reports whether id was ever inserted (regardless of
// whether it is still live for any mui).
func (t *Trie[M]) ExactMatch(id af.PrefixID) bool {
	return t.PrefixExists(id)
}

// LessSpecifics iterates every ancestor prefix of id that is currently
// set, from least specific (shortest) to most specific (longest,
// excluding id itself), by walking the same descent path and testing
// every BitSpan below id's own length at each node visited.
func (t *Trie[M]) LessSpecifics(id af.PrefixID) iter.Seq[af.PrefixID] {
	return func(yield func(af.PrefixID) bool) {
		tok := t.guard.Pin()
		defer t.guard.Unpin(tok)

		node := t.root
		nodeSet := t.rootChildren.Bucket()
		length := int(id.Length)

		for lvl := 0; ; lvl++ {
			nibbleLen := cht.NodesetSize(length, lvl)
			if nibbleLen == 0 {
				return
			}

			startBit := uint8(lvl) * StrideLen
			nibble := id.Addr.GetNibble(startBit, nibbleLen)
			terminal := startBit+nibbleLen >= id.Length

			// Walk the backtrack chain (full nibble down to the empty
			// span), collecting it so it can be replayed shortest-first.
			var spans []af.BitSpan
			for span, ok := (af.BitSpan{Bits: nibble, Len: nibbleLen}), true; ok; span, ok = span.ParentSpan() {
				if terminal && span.Len == nibbleLen {
					continue // id's own span, not an ancestor
				}
				spans = append(spans, span)
			}
			for i := len(spans) - 1; i >= 0; i-- {
				if node.HasPrefix(spans[i]) {
					l := startBit + spans[i].Len
					if !yield(af.PrefixID{Addr: id.Addr.TruncateToLen(l), Length: l}) {
						return
					}
				}
			}

			if terminal || !node.HasChild(nibble) {
				return
			}

			sn, ok := nodeSet.Get(uint8(nibble))
			if !ok {
				return
			}
			node, nodeSet = sn.Value, sn.Children
		}
	}
}

// MoreSpecifics iterates every currently set prefix at or more specific
// than id — id itself, if it is a set prefix, followed by every
// other-length hit collocated on id's own node, followed by a bounded
// depth-first walk of the subtree reachable through id's own node
// (§4.D, "bounded DFS over the child subtree"). Inclusive of id per the
// full-table bounded-walk scenario (e.g. more-specifics of 10.1.0.0/16
// after inserting it includes 10.1.0.0/16 itself).
func (t *Trie[M]) MoreSpecifics(id af.PrefixID) iter.Seq[af.PrefixID] {
	return t.MoreSpecificsMui(id, nil)
}

// MoreSpecificsMui is MoreSpecifics narrowed to a single source: per
// §4.D "mui filtering", before fanning out into a node's children the
// walk consults the shared NodeSet those children live in (Invariant
// I6) and skips the whole fan-out when mui never appeared anywhere
// under that NodeSet. The rbm is maintained per NodeSet, not per slot
// (§4.C), so it cannot distinguish which sibling carries mui — only
// that none of them do — and the gate must therefore be checked on the
// container a node's children are fetched from, never on a single
// child's own (one-level-deeper) children container, or a leaf holding
// mui directly (with no children of its own) would be wrongly pruned.
func (t *Trie[M]) MoreSpecificsMui(id af.PrefixID, mui *uint32) iter.Seq[af.PrefixID] {
	return func(yield func(af.PrefixID) bool) {
		tok := t.guard.Pin()
		defer t.guard.Unpin(tok)

		node, nodeSet, span, found := t.find(id)
		if !found {
			return
		}
		startBit := id.Length - span.Len

		for _, pos := range node.AllPrefixBitPositions() {
			if pos < span.BitPos() {
				continue
			}
			s := bitSpanFromPos(pos)
			if s.Len < span.Len || s.Bits>>(s.Len-span.Len) != span.Bits {
				continue // not nested under id's own bits
			}
			l := startBit + s.Len
			full := id.Addr.AddNibble(startBit, s.Bits, s.Len)
			if !yield(af.PrefixID{Addr: full.TruncateToLen(l), Length: l}) {
				return
			}
		}

		// When id's own span is a full stride, exactly one nibble
		// (span.Bits itself) identifies the child that any longer
		// prefix must descend through. When it's a partial span (id's
		// length isn't a multiple of StrideLen), every nibble whose
		// leading span.Len bits agree with span.Bits is a candidate —
		// the remaining StrideLen-span.Len bits are unconstrained by id
		// and any of them can lead to a more specific descendant.
		if mui != nil && !nodeSet.HasMui(*mui) {
			return
		}
		free := StrideLen - span.Len
		lo := span.Bits << free
		hi := lo + (uint32(1) << free)
		for nib := lo; nib < hi; nib++ {
			if !node.HasChild(nib) {
				continue
			}
			sn, ok := nodeSet.Get(uint8(nib))
			if !ok {
				continue
			}
			full := id.Addr.AddNibble(startBit, nib, StrideLen)
			if !dfsMoreSpecifics(sn.Value, sn.Children, full, startBit+StrideLen, mui, yield) {
				return
			}
		}
	}
}

// dfsMoreSpecifics yields every set prefix in the subtree rooted at
// node, whose address prefix is addr truncated to depth bits. A node
// can hold several prefixes of its own, one per in-node BitSpan, each
// terminating at different sub-nibble bits below depth; those bits
// must be folded into addr before truncating, or every prefix in the
// node collapses to the same (wrong) address. It returns false once
// yield asks to stop, so callers can short-circuit the recursion. When
// mui is non-nil and node's own children NodeSet has never observed
// mui, the entire fan-out below node is skipped in one check instead
// of walking every child only to filter it away.
func dfsMoreSpecifics[M rtypes.Meta[M]](node *Node[M], nodeSet *cht.NodeSet[*Node[M]], addr af.Addr, depth uint8, mui *uint32, yield func(af.PrefixID) bool) bool {
	for _, pos := range node.AllPrefixBitPositions() {
		s := bitSpanFromPos(pos)
		l := depth + s.Len
		full := addr.AddNibble(depth, s.Bits, s.Len)
		if !yield(af.PrefixID{Addr: full.TruncateToLen(l), Length: l}) {
			return false
		}
	}

	if mui != nil && !nodeSet.HasMui(*mui) {
		return true
	}

	for _, nib := range node.AllChildNibbles() {
		sn, ok := nodeSet.Get(uint8(nib))
		if !ok {
			continue
		}
		childAddr := addr.AddNibble(depth, nib, StrideLen)
		if !dfsMoreSpecifics(sn.Value, sn.Children, childAddr, depth+StrideLen, mui, yield) {
			return false
		}
	}
	return true
}

// All iterates every currently set prefix in the trie, in trie descent
// order (all of a node's own prefixes shortest-first, then each child
// subtree in ascending nibble order) — the same order the teacher's own
// Table.All walks its tree.
func (t *Trie[M]) All() iter.Seq[af.PrefixID] {
	return func(yield func(af.PrefixID) bool) {
		tok := t.guard.Pin()
		defer t.guard.Unpin(tok)

		width := uint8(32)
		if !t.is4 {
			width = 128
		}
		dfsMoreSpecifics(t.root, t.rootChildren.Bucket(), af.Addr{Bits: width}, 0, nil, yield)
	}
}

// bitSpanFromPos inverts BitSpan.BitPos: given a set bit position in a
// pfxbitarr, recovers the (bits, len) it encodes.
func bitSpanFromPos(pos uint32) af.BitSpan {
	length := uint8(0)
	for (uint32(1) << (length + 1)) <= pos {
		length++
	}
	return af.BitSpan{Bits: pos - (1 << length), Len: length}
}
