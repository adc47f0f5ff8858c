// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package persist implements the log-structured-tree persistence tier for
// the per-prefix record store (component E, §6 "Persistence key layout").
// It is backed by github.com/syndtr/goleveldb, a pure-Go LSM-tree
// key/value store, the same dependency family the rest of the retrieved
// corpus reaches for when it needs an embedded log-structured store
// (dolthub-dolt/attic-labs-noms).
package persist

import (
	"encoding/binary"

	"github.com/starcast/rib/internal/af"
	"github.com/starcast/rib/internal/rtypes"
)

// EntryKey is the byte-exact persistence key for one (prefix, mui, ltime)
// entry:
//
//	[ len:1 | address: AF::BYTES (big-endian)
//	  | mui: 4 (little-endian) | ltime: 8 (little-endian) | status: 1 ]
//
// All records sharing a prefix form a contiguous range (the common
// [len|address] prefix); all records sharing (prefix, mui) form a
// sub-range within it.
func EntryKey(id af.PrefixID, mui uint32, ltime uint64, status rtypes.RouteStatus) []byte {
	prefixKey := id.Key()

	out := make([]byte, len(prefixKey)+4+8+1)
	n := copy(out, prefixKey)

	binary.LittleEndian.PutUint32(out[n:], mui)
	n += 4
	binary.LittleEndian.PutUint64(out[n:], ltime)
	n += 8
	out[n] = byte(status)

	return out
}

// MuiPrefix returns the key range prefix covering every entry for
// (prefix, mui), for a "by mui" history range scan.
func MuiPrefix(id af.PrefixID, mui uint32) []byte {
	prefixKey := id.Key()
	out := make([]byte, len(prefixKey)+4)
	n := copy(out, prefixKey)
	binary.LittleEndian.PutUint32(out[n:], mui)
	return out
}

// PrefixOnly returns the key range prefix covering every entry for a
// prefix, across all mui's.
func PrefixOnly(id af.PrefixID) []byte {
	return id.Key()
}

// ParseEntryKey decodes a key produced by EntryKey, given whether the
// address family is IPv4.
func ParseEntryKey(key []byte, is4 bool) (id af.PrefixID, mui uint32, ltime uint64, status rtypes.RouteStatus, err error) {
	idLen := 5
	if !is4 {
		idLen = 17
	}

	id, err = af.KeyFromBytes(key[:idLen], is4)
	if err != nil {
		return id, 0, 0, 0, err
	}

	rest := key[idLen:]
	mui = binary.LittleEndian.Uint32(rest[0:4])
	ltime = binary.LittleEndian.Uint64(rest[4:12])
	status = rtypes.RouteStatus(rest[12])

	return id, mui, ltime, status, nil
}
