// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package rerr holds the stable, typed error taxonomy shared by every
// layer of the RIB (internal/trie, internal/persist, and the root
// package), so that errors.Is keeps working across package boundaries
// instead of each layer minting its own incompatible sentinels.
package rerr

import "errors"

// Transient errors: safe to retry; a concurrent allocator or writer has
// simply not published its result yet.
var (
	ErrNodeCreationMaxRetry = errors.New("rib: node creation exceeded its retry budget")
	ErrNodeNotFound         = errors.New("rib: node not found")
)

// Precondition-not-met errors: retrying alone may not help.
var (
	ErrStoreNotReady         = errors.New("rib: store is not ready")
	ErrPrefixLengthInvalid   = errors.New("rib: prefix length invalid for address family")
	ErrPrefixNotFound        = errors.New("rib: prefix not found")
	ErrBestPathNotFound      = errors.New("rib: best path not calculated or not found")
	ErrPathSelectionOutdated = errors.New("rib: best-path selection is outdated, recalculate before reading")
	ErrRecordNotInMemory     = errors.New("rib: record not held in memory for this persist strategy")
	ErrStatusUnknown         = errors.New("rib: route status unknown")
)

// ErrPersistFailed indicates a persistence-tier write or read failed; the
// caller may retry, but repeated failure likely indicates an
// infrastructure problem.
var ErrPersistFailed = errors.New("rib: persistence operation failed")

// ErrFatal indicates lock poisoning or on-disk corruption: the RIB must
// be treated as corrupted and the process should terminate. ErrFatal is
// never wrapped further up the call stack so errors.Is keeps matching it
// verbatim.
var ErrFatal = errors.New("rib: fatal, store is corrupted")
