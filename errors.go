// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package rib

import "github.com/starcast/rib/internal/rerr"

// Stable, typed errors, re-exported from internal/rerr so errors.Is keeps
// working for callers across the package boundary.
var (
	// Transient: safe to retry.
	ErrNodeCreationMaxRetry = rerr.ErrNodeCreationMaxRetry
	ErrNodeNotFound         = rerr.ErrNodeNotFound

	// Precondition-not-met: retrying alone may not help.
	ErrStoreNotReady         = rerr.ErrStoreNotReady
	ErrPrefixLengthInvalid   = rerr.ErrPrefixLengthInvalid
	ErrPrefixNotFound        = rerr.ErrPrefixNotFound
	ErrBestPathNotFound      = rerr.ErrBestPathNotFound
	ErrPathSelectionOutdated = rerr.ErrPathSelectionOutdated
	ErrRecordNotInMemory     = rerr.ErrRecordNotInMemory
	ErrStatusUnknown         = rerr.ErrStatusUnknown

	// Persistence: caller may retry; repeated failure likely means an
	// infrastructure problem.
	ErrPersistFailed = rerr.ErrPersistFailed

	// Fatal: the RIB must be treated as corrupted.
	ErrFatal = rerr.ErrFatal
)
