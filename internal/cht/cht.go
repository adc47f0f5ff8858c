// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package cht implements the chained hash table that backs trie node
// storage: lock-free once-write slots (internal/oncebox) organized as a
// lazily allocated slab of child slots per trie node, chained from a
// single root NodeSet per address family (see Root). Prefix records are
// not stored here; internal/trie keeps them on the nodes themselves.
//
// cht is deliberately generic over the stored value V (analogous to the
// source specification's "V implements init_with_p2_children(size)") so
// that both the tree-bitmap trie and its child nodes (internal/trie) can
// reuse the same indexing structure at every level without a second,
// parallel container type.
package cht

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/starcast/rib/internal/af"
	"github.com/starcast/rib/internal/oncebox"
)

// StrideLen re-exports af.StrideLen for use within this package.
const StrideLen = af.StrideLen

// NodeID identifies where in the bit-space a stored node or prefix record
// lives: the pair (address, length).
type NodeID = af.PrefixID

// StoredNode is a single chained-hash-table slot: the node's identity, its
// payload, and (for trie nodes) the NodeSet of its own children.
type StoredNode[V any] struct {
	ID       NodeID
	Value    V
	Children *NodeSet[V]
}

// NodeSet is a lazily allocated slab of slots, one per possible child
// stride value at a given (length, level). A per-node-set roaring bitmap
// tracks which mui's appear anywhere in the subtree rooted here.
type NodeSet[V any] struct {
	slab *oncebox.Slab[StoredNode[V]]

	// rbm is guarded by mu: writers hold the lock only across the tiny
	// roaring-bitmap insert; readers take the read lock.
	mu  sync.RWMutex
	rbm *roaring.Bitmap
}

// NewNodeSet returns a NodeSet sized for stride-bits slot-address bits
// (i.e. 2^strideBits slots). strideBits is the value returned by
// NodesetSize for the (length, level) this set occupies.
func NewNodeSet[V any](strideBits uint8) *NodeSet[V] {
	return &NodeSet[V]{
		slab: oncebox.NewSlab[StoredNode[V]](1 << strideBits),
		rbm:  roaring.New(),
	}
}

// Get returns the stored slot at addr, or ok=false if unset.
func (ns *NodeSet[V]) Get(addr uint8) (*StoredNode[V], bool) {
	if ns == nil {
		return nil, false
	}
	return ns.slab.Get(int(addr))
}

// GetOrInit installs factory's result at addr if unset, otherwise returns
// the already-published slot. Exactly one caller's factory result is ever
// published per Invariant I4 (node_id never changes once installed).
func (ns *NodeSet[V]) GetOrInit(addr uint8, factory func() StoredNode[V]) (*StoredNode[V], bool) {
	return ns.slab.GetOrInit(int(addr), func() *StoredNode[V] {
		v := factory()
		return &v
	})
}

// AddMui records that mui appears somewhere in the subtree rooted at this
// NodeSet (Invariant I6).
func (ns *NodeSet[V]) AddMui(mui uint32) {
	ns.mu.Lock()
	ns.rbm.Add(mui)
	ns.mu.Unlock()
}

// HasMui reports whether mui was ever recorded under this NodeSet.
func (ns *NodeSet[V]) HasMui(mui uint32) bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.rbm.Contains(mui)
}

// Muis returns a point-in-time clone of the roaring bitmap of observed
// mui's, safe to use after the lock is released.
func (ns *NodeSet[V]) Muis() *roaring.Bitmap {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.rbm.Clone()
}

// NodesetSize computes the number of slot-address bits available at
// (length, level), so each trie level packs exactly the address bits it
// covers. A return of 0 signals the caller to consult the next
// length-bucket; a return > 0 is always <= StrideLen.
func NodesetSize(length int, lvl int) uint8 {
	covered := StrideLen * (lvl + 1)

	switch {
	case covered < length:
		return StrideLen
	case covered >= length+StrideLen:
		return 0
	default:
		return uint8(length - StrideLen*lvl)
	}
}

// Root is the CHT root for one address family.
//
// The source specification shards the root into ROOT_SIZE buckets indexed
// by len/STRIDES_PER_BUCKET, so that different prefix-length ranges don't
// contend on the same root slab. That sharding is an orthogonal
// performance optimization on top of the same per-level NodeSet chaining
// used everywhere else in the trie; this port keeps a single root
// NodeSet per family (ROOT_SIZE=1) and relies on the recursive
// StoredNode.Children chain for everything below it — see DESIGN.md.
type Root[V any] struct {
	root NodeSet[V]
}

// NewRoot returns a Root with its single top-level NodeSet initialized
// for a full stride of root children.
func NewRoot[V any]() *Root[V] {
	return &Root[V]{root: *NewNodeSet[V](StrideLen)}
}

// Bucket returns the root NodeSet.
func (r *Root[V]) Bucket() *NodeSet[V] {
	return &r.root
}
