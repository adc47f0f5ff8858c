// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package persist

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/starcast/rib/internal/af"
	"github.com/starcast/rib/internal/rerr"
	"github.com/starcast/rib/internal/rtypes"
)

// Store is the persistence tier for one address family's record store:
// an append-only log-structured tree keyed by EntryKey, range-scannable
// by prefix or by (prefix, mui).
type Store[M rtypes.Meta[M]] struct {
	is4    bool
	db     *leveldb.DB
	decode rtypes.Decoder[M]
}

// Open opens (or creates) the LevelDB directory at path. decode
// reconstructs a Meta value from the bytes its MarshalBinary produced;
// see rtypes.Meta's doc comment for why this is a supplied function
// rather than a method on M.
func Open[M rtypes.Meta[M]](path string, is4 bool, decode rtypes.Decoder[M]) (*Store[M], error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: opening persist store at %q: %v", rerr.ErrPersistFailed, path, err)
	}
	return &Store[M]{is4: is4, db: db, decode: decode}, nil
}

// Close releases the underlying LevelDB handle.
func (s *Store[M]) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: closing persist store: %v", rerr.ErrPersistFailed, err)
	}
	return nil
}

// Append writes one record entry. It is the idempotent primitive both
// PersistOnly/WriteAhead "persist current" and PersistHistory/WriteAhead
// "persist history" are built from: writing the same (prefix, mui, ltime)
// pair twice with the same status is a no-op overwrite.
func (s *Store[M]) Append(id af.PrefixID, rec rtypes.Record[M]) error {
	metaBytes, err := rec.Meta.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: marshaling meta: %v", rerr.ErrPersistFailed, err)
	}

	key := EntryKey(id, rec.Mui, rec.LTime, rec.Status)
	if err := s.db.Put(key, metaBytes, nil); err != nil {
		return fmt.Errorf("%w: %v", rerr.ErrPersistFailed, err)
	}
	return nil
}

// Entry is one decoded persisted record.
type Entry[M rtypes.Meta[M]] struct {
	Mui    uint32
	LTime  uint64
	Status rtypes.RouteStatus
	Meta   M
}

func (s *Store[M]) scan(rng *util.Range) ([]Entry[M], error) {
	it := s.db.NewIterator(rng, nil)
	defer it.Release()

	var out []Entry[M]
	for it.Next() {
		_, mui, ltime, status, err := ParseEntryKey(it.Key(), s.is4)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", rerr.ErrPersistFailed, err)
		}

		m, err := s.decode(it.Value())
		if err != nil {
			return nil, fmt.Errorf("%w: unmarshaling meta: %v", rerr.ErrPersistFailed, err)
		}

		out = append(out, Entry[M]{Mui: mui, LTime: ltime, Status: status, Meta: m})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", rerr.ErrPersistFailed, err)
	}
	return out, nil
}

// ScanPrefix returns every persisted entry for id, across all mui's and
// ltimes, in key order.
func (s *Store[M]) ScanPrefix(id af.PrefixID) ([]Entry[M], error) {
	return s.scan(util.BytesPrefix(PrefixOnly(id)))
}

// ScanMui returns every persisted entry for (id, mui), i.e. that mui's
// full history, in key order. The ltime follows the prefix+mui bytes but
// is stored little-endian, so key order is numeric ltime order only while
// every ltime is below 256; larger ltimes are not returned in numeric
// order.
func (s *Store[M]) ScanMui(id af.PrefixID, mui uint32) ([]Entry[M], error) {
	return s.scan(util.BytesPrefix(MuiPrefix(id, mui)))
}

// Compact merges on-disk segments over the whole key space. Flushing is
// otherwise implicit and idempotent. Compact deletes no entries itself:
// a record written with a Withdrawn status is stored under its own key
// and stays in the store alongside the earlier entries.
func (s *Store[M]) Compact() error {
	if err := s.db.CompactRange(util.Range{}); err != nil {
		return fmt.Errorf("%w: compaction: %v", rerr.ErrPersistFailed, err)
	}
	return nil
}
