// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package rib is StarCast RIB: a concurrent, generic routing information
// base supporting both IPv4 and IPv6 longest-prefix-match lookups over a
// multi-bit-stride tree-bitmap trie.
//
// A RIB is constructed with New, parameterized over a route payload type
// M satisfying Meta. Records are keyed by (prefix, mui): a single prefix
// may carry one record per distinct multi-unique-id, letting several
// sources (e.g. BGP peers) each hold an opinion about the same prefix
// without clobbering one another. Reads (MatchPrefix and the iterator
// family) take no lock on the trie's bitmaps or record vectors; they do
// take short mutex sections to register with the epoch guard and to
// consult the withdrawn-mui and per-subtree mui bitmaps. Writes (Insert)
// merge bitmaps and publish record vectors through CAS retry loops; the
// mutexes they take guard the per-subtree mui bitmap update, the epoch
// guard's reclamation queue and, when updatePathSelectionHint is set, the
// best-path cache.
//
// Persistence is optional and configured per-RIB via Config.PersistStrategy:
// MemoryOnly keeps records only in memory, PersistOnly writes only to the
// on-disk log-structured store, and PersistHistory/WriteAhead layer disk
// history and/or a disk mirror of the current record on top of the
// in-memory tier. See internal/persist for the on-disk key layout.
package rib
