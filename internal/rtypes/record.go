// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package rtypes holds the small, shared value types of the per-prefix
// record store (component E of the design): the Record itself, its
// RouteStatus, the upsert report, and the persistence-strategy enum.
// These live in their own package so that internal/trie, internal/persist
// and the root rib package can all depend on them without creating an
// import cycle.
package rtypes

import "encoding"

// Meta is the capability every caller-supplied record payload must
// provide. The RIB never interprets M beyond these operations.
//
// Meta deliberately omits encoding.BinaryUnmarshaler: that interface's
// method mutates its receiver, which requires a pointer receiver, and a
// pointer-receiver method is never in a value type's own method set —
// so a value type M could never satisfy a constraint embedding it (only
// *M could, which would make every Record[M] comparison a pointer
// comparison instead of a value comparison). Decoding a persisted Meta
// back into a value is instead the caller-supplied Decoder's job (see
// internal/persist), the same shape encoding/json.Unmarshal-into-a-
// factory-function callers use when the target type isn't known to the
// decoder package.
//
// Meta is self-referencing (Equal(M) bool), so it is itself generic over
// the concrete payload type, the standard Go pattern for "this interface
// is implemented by types comparable to themselves": a caller's concrete
// type C satisfies rtypes.Meta[C], and every package in this module
// spells the constraint as [M Meta[M]].
type Meta[M any] interface {
	comparable
	Equal(M) bool
	encoding.BinaryMarshaler
	String() string
}

// Decoder reconstructs a Meta value from its MarshalBinary encoding.
type Decoder[M Meta[M]] func(data []byte) (M, error)

// RouteStatus is the lifecycle status of a Record.
type RouteStatus uint8

const (
	StatusActive RouteStatus = iota
	StatusInActive
	StatusWithdrawn
)

func (s RouteStatus) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusInActive:
		return "InActive"
	case StatusWithdrawn:
		return "Withdrawn"
	default:
		return "Unknown"
	}
}

// Record is one (mui, ltime, status, meta) entry for a prefix. mui is the
// caller-supplied multi-unique-id identifying the record's source (e.g. a
// BGP peer); ltime is a caller-supplied logical time expected to be
// monotonic per writer.
type Record[M Meta[M]] struct {
	Mui    uint32
	LTime  uint64
	Status RouteStatus
	Meta   M
}

// Equal reports whether two records carry the same mui, ltime, status and
// meta, independent of their position in a record vector.
func (r Record[M]) Equal(o Record[M]) bool {
	return r.Mui == o.Mui && r.LTime == o.LTime && r.Status == o.Status && r.Meta.Equal(o.Meta)
}

// UpsertReport is returned by every upsert call.
type UpsertReport struct {
	CASCount  int
	PrefixNew bool
	MuiNew    bool
	MuiCount  int
}

// PersistStrategy selects how a Record is mirrored to the persistence
// tier on upsert.
type PersistStrategy int

const (
	// MemoryOnly keeps the current record in memory and never persists.
	MemoryOnly PersistStrategy = iota
	// PersistOnly keeps no in-memory current record; every upsert is
	// written straight to the persistence tier.
	PersistOnly
	// PersistHistory keeps the in-memory current record and appends every
	// overwrite to the on-disk history.
	PersistHistory
	// WriteAhead keeps the in-memory current record, the on-disk current
	// record, and the on-disk history.
	WriteAhead
)

func (s PersistStrategy) String() string {
	switch s {
	case MemoryOnly:
		return "MemoryOnly"
	case PersistOnly:
		return "PersistOnly"
	case PersistHistory:
		return "PersistHistory"
	case WriteAhead:
		return "WriteAhead"
	default:
		return "Unknown"
	}
}

// KeepsInMemory reports whether this strategy keeps a current record in
// memory.
func (s PersistStrategy) KeepsInMemory() bool {
	return s == MemoryOnly || s == PersistHistory || s == WriteAhead
}

// PersistsCurrent reports whether this strategy writes the current record
// to the persistence tier.
func (s PersistStrategy) PersistsCurrent() bool {
	return s == PersistOnly || s == WriteAhead
}

// PersistsHistory reports whether this strategy appends every overwrite
// to the persisted history.
func (s PersistStrategy) PersistsHistory() bool {
	return s == PersistHistory || s == WriteAhead
}

// RequiresPath reports whether this strategy requires a configured
// persistence path.
func (s PersistStrategy) RequiresPath() bool {
	return s != MemoryOnly
}
