// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package trie

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/starcast/rib/internal/af"
	"github.com/starcast/rib/internal/cht"
	"github.com/starcast/rib/internal/epoch"
	"github.com/starcast/rib/internal/persist"
	"github.com/starcast/rib/internal/rerr"
	"github.com/starcast/rib/internal/rtypes"
)

// maxRetryBudget bounds the number of times descend retries publishing a
// child node before ErrNodeCreationMaxRetry is surfaced.
const maxRetryBudget = 64

// Trie is one address family's tree-bitmap trie plus its collocated
// per-prefix record store. Two Tries (v4, v6) back the root rib.RIB
// facade.
type Trie[M rtypes.Meta[M]] struct {
	is4 bool

	root         *Node[M]
	rootChildren *cht.Root[*Node[M]]

	strategy rtypes.PersistStrategy
	persist  *persist.Store[M]
	guard    *epoch.Guard

	nodeCount    atomic.Int64
	prefixCount  atomic.Int64
	routeCount   atomic.Int64
	reclaimCount atomic.Int64
	lenCounts    []atomic.Int64 // index by prefix length, size addrBits+1
}

// New returns an empty Trie for the given address family.
func New[M rtypes.Meta[M]](is4 bool, strategy rtypes.PersistStrategy, sink *persist.Store[M]) *Trie[M] {
	addrBits := 128
	if is4 {
		addrBits = 32
	}
	t := &Trie[M]{
		is4:          is4,
		root:         NewNode[M](),
		rootChildren: cht.NewRoot[*Node[M]](),
		strategy:     strategy,
		persist:      sink,
		guard:        epoch.NewGuard(),
		lenCounts:    make([]atomic.Int64, addrBits+1),
	}
	t.nodeCount.Store(1) // the root itself
	return t
}

// NodeCount returns the number of trie nodes created so far.
func (t *Trie[M]) NodeCount() int { return int(t.nodeCount.Load()) }

// PrefixesCount returns the number of distinct prefixes ever inserted.
func (t *Trie[M]) PrefixesCount() int { return int(t.prefixCount.Load()) }

// RoutesCount returns the total number of distinct (prefix, mui) records
// ever inserted.
func (t *Trie[M]) RoutesCount() int { return int(t.routeCount.Load()) }

// ReclaimedCount returns the number of replaced record vectors the
// epoch guard has actually reclaimed so far (i.e. for which every
// reader pinned at defer-time had already unpinned).
func (t *Trie[M]) ReclaimedCount() int { return int(t.reclaimCount.Load()) }

// PrefixesCountForLen returns the number of distinct prefixes of exactly
// the given length ever inserted.
func (t *Trie[M]) PrefixesCountForLen(length uint8) int {
	if int(length) >= len(t.lenCounts) {
		return 0
	}
	return int(t.lenCounts[length].Load())
}

// pathStep records one visited (node, nodeset) pair during descent, used
// both to propagate mui bits back up and to walk the less-specifics
// spine.
type pathStep[M rtypes.Meta[M]] struct {
	node    *Node[M]
	nodeSet *cht.NodeSet[*Node[M]]
	nibble  uint32
}

// descend walks (creating nodes as needed) to the terminal node for id,
// returning that node, id's in-node BitSpan, and the path of nodes
// visited (root first). retries is the total CAS-retry count observed
// along the way.
func (t *Trie[M]) descend(id af.PrefixID) (terminal *Node[M], span af.BitSpan, path []pathStep[M], retries int, err error) {
	length := int(id.Length)

	node := t.root
	nodeSet := t.rootChildren.Bucket()
	path = append(path, pathStep[M]{node: node})

	// The default route (length 0) terminates at the root node with the
	// empty BitSpan; NodesetSize(0, 0) == 0 like every other overshoot,
	// so it must be special-cased rather than mistaken for one.
	if length == 0 {
		return node, af.BitSpan{}, path, retries, nil
	}

	for lvl := 0; ; lvl++ {
		nibbleLen := cht.NodesetSize(length, lvl)
		if nibbleLen == 0 {
			return nil, af.BitSpan{}, nil, retries, fmt.Errorf("%w: descent overshot prefix length", rerr.ErrPrefixLengthInvalid)
		}

		startBit := uint8(lvl) * StrideLen
		nibble := id.Addr.GetNibble(startBit, nibbleLen)

		terminalHere := startBit+nibbleLen >= id.Length

		if terminalHere {
			return node, af.BitSpan{Bits: nibble, Len: nibbleLen}, path, retries, nil
		}

		// Not terminal: nibbleLen must be a full stride, follow/create a
		// child.
		r := node.MergePtr(nibble)
		retries += r

		// cht.NodeSet.GetOrInit is backed by oncebox, whose GetOrInit
		// always returns a non-nil winner (the loser's candidate is
		// dropped, never the slot itself), so this loop never actually
		// retries today. It stays as defense-in-depth against a future
		// NodeSet backing store that can fail to publish, which is the
		// only way ErrNodeCreationMaxRetry below would ever surface.
		var created bool
		var sn *cht.StoredNode[*Node[M]]
		for attempt := 0; attempt < maxRetryBudget; attempt++ {
			sn, created = nodeSet.GetOrInit(uint8(nibble), func() cht.StoredNode[*Node[M]] {
				return cht.StoredNode[*Node[M]]{
					ID:       af.PrefixID{Addr: id.Addr.TruncateToLen(startBit + nibbleLen), Length: startBit + nibbleLen},
					Value:    NewNode[M](),
					Children: cht.NewNodeSet[*Node[M]](StrideLen),
				}
			})
			if sn != nil {
				break
			}
			retries++
		}
		if sn == nil {
			return nil, af.BitSpan{}, nil, retries, fmt.Errorf("%w: child node at nibble %d", rerr.ErrNodeCreationMaxRetry, nibble)
		}
		if created {
			t.nodeCount.Add(1)
		}

		path[len(path)-1].nodeSet = nodeSet
		path[len(path)-1].nibble = nibble

		node = sn.Value
		nodeSet = sn.Children
		path = append(path, pathStep[M]{node: node})
	}
}

// markMuiAlongPath records mui in the rbm of every NodeSet visited while
// descending to a prefix (Invariant I6).
func markMuiAlongPath[M rtypes.Meta[M]](path []pathStep[M], mui uint32) {
	for _, step := range path {
		if step.nodeSet != nil {
			step.nodeSet.AddMui(mui)
		}
	}
}

// Upsert installs rec at id, creating trie nodes as needed, and returns
// the upsert report. This realizes component E's upsert contract
// (§4.E): locate-or-create, CAS-publish the record vector, apply the
// configured persistence strategy.
func (t *Trie[M]) Upsert(id af.PrefixID, rec rtypes.Record[M]) (rtypes.UpsertReport, error) {
	node, span, path, descendRetries, err := t.descend(id)
	if err != nil {
		return rtypes.UpsertReport{}, err
	}

	return t.upsertRecord(node, span, path, id, rec, descendRetries)
}

// upsertRecord publishes rec into node's record cell for span. Whether
// the prefix is new is determined from the cell itself (a cell holds no
// vector iff the prefix was never inserted), not from the pfxbitarr
// merge: two concurrent first-writers to the same prefix both observe
// pfxbitarr's bit as unset pre-CAS, but only the cell's CAS-swap has a
// single winner, so it alone is the race-free source of truth.
func (t *Trie[M]) upsertRecord(node *Node[M], span af.BitSpan, path []pathStep[M], id af.PrefixID, rec rtypes.Record[M], descendRetries int) (rtypes.UpsertReport, error) {
	cell := node.recordCellAt(span)

	// PersistOnly keeps no in-memory current record (§ rtypes.PersistStrategy
	// doc). The cell still CAS-swaps a vector so prefixNew/muiNew/muiCount
	// stay race-free and cheap to compute, but entries carry only the mui,
	// not the (possibly large) caller Meta payload.
	stored := rec
	if !t.strategy.KeepsInMemory() {
		var zero M
		stored = rtypes.Record[M]{Mui: rec.Mui}
		stored.Meta = zero
	}

	casCount := 0
	var prefixNew bool
	var muiNew bool
	var muiCount int

	for {
		old := cell.recs.Load()
		var oldSlice []rtypes.Record[M]
		if old != nil {
			oldSlice = *old
		}

		prefixNew = oldSlice == nil
		muiNew = true

		newSlice := make([]rtypes.Record[M], 0, len(oldSlice)+1)
		for _, r := range oldSlice {
			if r.Mui == rec.Mui {
				muiNew = false
				continue
			}
			newSlice = append(newSlice, r)
		}
		newSlice = append(newSlice, stored)
		slices.SortFunc(newSlice, func(a, b rtypes.Record[M]) int {
			if a.Mui < b.Mui {
				return -1
			}
			if a.Mui > b.Mui {
				return 1
			}
			return 0
		})
		muiCount = len(newSlice)

		if cell.recs.CompareAndSwap(old, &newSlice) {
			if prefixNew {
				t.prefixCount.Add(1)
				t.lenCounts[id.Length].Add(1)
			}
			if muiNew {
				t.routeCount.Add(1)
			}
			// Defer reclamation of the replaced vector until every
			// reader that might still hold it has moved on.
			if old != nil {
				t.guard.Defer(func() {
					t.reclaimCount.Add(1)
				})
			}
			break
		}
		casCount++
	}

	// The bit merge happens after the record publish, so a reader that
	// sees the bit also sees the record (Invariant I3); a reader that runs
	// between the two treats the prefix as not yet inserted.
	bitRetries := node.MergePfx(span.BitPos())

	markMuiAlongPath(path, rec.Mui)

	if err := t.applyPersist(id, rec); err != nil {
		return rtypes.UpsertReport{}, err
	}

	return rtypes.UpsertReport{
		CASCount:  casCount + descendRetries + bitRetries,
		PrefixNew: prefixNew,
		MuiNew:    muiNew,
		MuiCount:  muiCount,
	}, nil
}

func (t *Trie[M]) applyPersist(id af.PrefixID, rec rtypes.Record[M]) error {
	if t.persist == nil {
		return nil
	}
	if !t.strategy.PersistsCurrent() && !t.strategy.PersistsHistory() {
		return nil
	}
	if err := t.persist.Append(id, rec); err != nil {
		return err
	}
	return nil
}

// Records returns the current record vector at id, if the prefix has
// ever been inserted. For PersistOnly (which keeps no in-memory current
// record), callers must instead consult the persistence tier directly;
// Records returns ok=false regardless of whether the prefix exists.
func (t *Trie[M]) Records(id af.PrefixID) ([]rtypes.Record[M], bool) {
	if !t.strategy.KeepsInMemory() {
		return nil, false
	}

	tok := t.guard.Pin()
	defer t.guard.Unpin(tok)

	node, _, span, found := t.find(id)
	if !found {
		return nil, false
	}
	recs := node.loadRecords(span)
	return recs, recs != nil
}

// PrefixExists reports whether a prefix has ever been inserted,
// independent of whether any record for it is kept in memory.
func (t *Trie[M]) PrefixExists(id af.PrefixID) bool {
	tok := t.guard.Pin()
	defer t.guard.Unpin(tok)

	node, _, span, found := t.find(id)
	if !found {
		return false
	}
	return node.HasPrefix(span)
}

// find descends to the node that would hold id, without creating
// anything, returning ok=false if any node along the path is absent.
// The returned NodeSet is the terminal node's own children, for callers
// (MoreSpecifics) that need to keep descending past it.
func (t *Trie[M]) find(id af.PrefixID) (node *Node[M], ownChildren *cht.NodeSet[*Node[M]], span af.BitSpan, ok bool) {
	length := int(id.Length)

	node = t.root
	nodeSet := t.rootChildren.Bucket()

	if length == 0 {
		return node, nodeSet, af.BitSpan{}, true
	}

	for lvl := 0; ; lvl++ {
		nibbleLen := cht.NodesetSize(length, lvl)
		if nibbleLen == 0 {
			return nil, nil, af.BitSpan{}, false
		}

		startBit := uint8(lvl) * StrideLen
		nibble := id.Addr.GetNibble(startBit, nibbleLen)

		if startBit+nibbleLen >= id.Length {
			return node, nodeSet, af.BitSpan{Bits: nibble, Len: nibbleLen}, true
		}

		if !node.HasChild(nibble) {
			return nil, nil, af.BitSpan{}, false
		}

		sn, found := nodeSet.Get(uint8(nibble))
		if !found {
			return nil, nil, af.BitSpan{}, false
		}

		node = sn.Value
		nodeSet = sn.Children
	}
}
