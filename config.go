// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package rib

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/starcast/rib/internal/rerr"
	"github.com/starcast/rib/internal/rtypes"
)

// PersistStrategy selects how a RIB keeps and persists its current and
// historical per-prefix records.
type PersistStrategy = rtypes.PersistStrategy

// The four recognised persistence strategies.
const (
	MemoryOnly     = rtypes.MemoryOnly
	PersistOnly    = rtypes.PersistOnly
	PersistHistory = rtypes.PersistHistory
	WriteAhead     = rtypes.WriteAhead
)

// Config configures a RIB. The zero value (MemoryOnly, no logger) is
// usable as-is, mirroring the teacher's zero-value-is-usable bart.Table.
type Config[M Meta[M]] struct {
	// PersistStrategy selects the in-memory/on-disk record policy.
	PersistStrategy PersistStrategy

	// PersistPath is the filesystem directory for the persistence tier.
	// Required iff PersistStrategy != MemoryOnly.
	PersistPath string

	// Decode reconstructs M from the bytes its MarshalBinary produced.
	// Required iff PersistStrategy != MemoryOnly.
	Decode Decoder[M]

	// Logger receives structured diagnostics (CAS-retry exhaustion,
	// persistence failures, compaction events). A nil Logger falls back
	// to zap.NewNop().
	Logger *zap.Logger
}

func (c Config[M]) validate() error {
	if c.PersistStrategy.RequiresPath() {
		if c.PersistPath == "" {
			return fmt.Errorf("%w: persist_path is required for strategy %s", rerr.ErrStoreNotReady, c.PersistStrategy)
		}
		if c.Decode == nil {
			return fmt.Errorf("%w: a Decoder is required for strategy %s", rerr.ErrStoreNotReady, c.PersistStrategy)
		}
	}
	return nil
}
