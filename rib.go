// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package rib implements StarCast RIB: a concurrent, longest-prefix-match
// routing information base over a multi-bit-stride tree-bitmap trie, with
// reads that take no lock on the trie's bitmaps or record vectors,
// CAS-based inserts, and a pluggable per-prefix
// persistence tier. See internal/trie for the stride-descent algorithms
// this package's two address-family tries (v4, v6) are built from.
package rib

import (
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/starcast/rib/internal/af"
	"github.com/starcast/rib/internal/persist"
	"github.com/starcast/rib/internal/rerr"
	"github.com/starcast/rib/internal/rtypes"
	"github.com/starcast/rib/internal/trie"
)

// MatchType selects how MatchPrefix resolves a query against the trie.
type MatchType int

const (
	// MatchExact returns a hit only if the queried prefix was itself
	// inserted.
	MatchExact MatchType = iota
	// MatchLongest returns the deepest inserted prefix covering the
	// query.
	MatchLongest
	// MatchEmpty never reports a match of its own; it anchors
	// less/more-specifics computation at the queried prefix. A result's
	// MatchType is also downgraded to MatchEmpty whenever an Exact or
	// Longest query misses, signalling "no match of the requested kind,
	// but here is what you asked to see around it."
	MatchEmpty
)

func (m MatchType) String() string {
	switch m {
	case MatchExact:
		return "Exact"
	case MatchLongest:
		return "Longest"
	case MatchEmpty:
		return "Empty"
	default:
		return "Unknown"
	}
}

// IncludeHistory selects how much persisted history MatchPrefix attaches
// to its result. Only meaningful when a persisted strategy is configured.
type IncludeHistory int

const (
	IncludeHistoryNone IncludeHistory = iota
	// IncludeHistorySearchPrefix attaches history for the matched prefix
	// only.
	IncludeHistorySearchPrefix
	// IncludeHistoryAll attaches history for the matched prefix and
	// every less/more-specific prefix included in the result.
	IncludeHistoryAll
)

// MatchOptions parameterizes MatchPrefix.
type MatchOptions struct {
	MatchType            MatchType
	IncludeLessSpecifics bool
	IncludeMoreSpecifics bool
	IncludeWithdrawn     bool
	Mui                  *uint32
	IncludeHistory       IncludeHistory
}

// PrefixRecord pairs a prefix with its current record vector, the unit
// iterators and less/more-specifics results are built from.
type PrefixRecord[M Meta[M]] struct {
	Prefix  af.PrefixID
	Records []rtypes.Record[M]
}

// QueryResult is the outcome of a MatchPrefix call.
type QueryResult[M Meta[M]] struct {
	MatchType     MatchType
	Prefix        af.PrefixID
	Found         bool
	Records       []rtypes.Record[M]
	LessSpecifics []PrefixRecord[M]
	MoreSpecifics []PrefixRecord[M]
	History       []persist.Entry[M]
}

// bestPath is the cached result of CalculateAndStoreBestAndBackupPath for
// one prefix.
type bestPath struct {
	best, backup uint32
	hasBackup    bool
	stale        bool
}

// RIB is a complete routing information base: two address-family tries
// (v4, v6), their persistence tiers, the process-wide withdrawn-mui
// bitmap, and cached best-path selections. RIB is safe for concurrent use
// by any number of reader and writer goroutines.
type RIB[M Meta[M]] struct {
	cfg Config[M]

	v4 *trie.Trie[M]
	v6 *trie.Trie[M]

	persistV4 *persist.Store[M]
	persistV6 *persist.Store[M]

	withdrawnMu sync.RWMutex
	withdrawn   *roaring.Bitmap

	bestMu    sync.RWMutex
	bestPaths map[af.PrefixID]bestPath

	logger *zap.Logger
}

// New constructs a RIB from cfg. A persisted strategy requires both
// PersistPath and Decode to be set.
func New[M Meta[M]](cfg Config[M]) (*RIB[M], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var storeV4, storeV6 *persist.Store[M]
	if cfg.PersistStrategy.RequiresPath() {
		var err error
		storeV4, err = persist.Open[M](filepath.Join(cfg.PersistPath, "v4"), true, rtypes.Decoder[M](cfg.Decode))
		if err != nil {
			return nil, err
		}
		storeV6, err = persist.Open[M](filepath.Join(cfg.PersistPath, "v6"), false, rtypes.Decoder[M](cfg.Decode))
		if err != nil {
			_ = storeV4.Close()
			return nil, err
		}
	}

	return &RIB[M]{
		cfg:       cfg,
		v4:        trie.New[M](true, cfg.PersistStrategy, storeV4),
		v6:        trie.New[M](false, cfg.PersistStrategy, storeV6),
		persistV4: storeV4,
		persistV6: storeV6,
		withdrawn: roaring.New(),
		bestPaths: make(map[af.PrefixID]bestPath),
		logger:    logger,
	}, nil
}

// Close releases the persistence tier's file handles, if any.
func (r *RIB[M]) Close() error {
	var err error
	if r.persistV4 != nil {
		err = r.persistV4.Close()
	}
	if r.persistV6 != nil {
		if cerr := r.persistV6.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (r *RIB[M]) treeFor(id af.PrefixID) *trie.Trie[M] {
	if id.Addr.Is4() {
		return r.v4
	}
	return r.v6
}

func (r *RIB[M]) persistFor(id af.PrefixID) *persist.Store[M] {
	if id.Addr.Is4() {
		return r.persistV4
	}
	return r.persistV6
}

// Insert installs rec at id. updatePathSelectionHint tells the RIB that
// any previously calculated best/backup path for id may now be stale: a
// subsequent BestPath call returns ErrPathSelectionOutdated until
// CalculateAndStoreBestAndBackupPath recomputes it.
func (r *RIB[M]) Insert(id af.PrefixID, rec rtypes.Record[M], updatePathSelectionHint bool) (rtypes.UpsertReport, error) {
	report, err := r.treeFor(id).Upsert(id, rec)
	if err != nil {
		r.logger.Warn("upsert failed", zap.Stringer("prefix", id.ToNetipPrefix()), zap.Error(err))
		return report, err
	}

	if updatePathSelectionHint {
		r.bestMu.Lock()
		if bp, ok := r.bestPaths[id]; ok {
			bp.stale = true
			r.bestPaths[id] = bp
		}
		r.bestMu.Unlock()
	}

	r.logger.Debug("upsert complete",
		zap.Stringer("prefix", id.ToNetipPrefix()),
		zap.Uint32("mui", rec.Mui),
		zap.Int("cas_count", report.CASCount))
	return report, nil
}

func (r *RIB[M]) isWithdrawn(mui uint32) bool {
	r.withdrawnMu.RLock()
	defer r.withdrawnMu.RUnlock()
	return r.withdrawn.Contains(mui)
}

// MarkMuiAsWithdrawn marks mui globally withdrawn, process-wide.
func (r *RIB[M]) MarkMuiAsWithdrawn(mui uint32) {
	r.withdrawnMu.Lock()
	r.withdrawn.Add(mui)
	r.withdrawnMu.Unlock()
}

// MarkMuiAsActive reverses a prior MarkMuiAsWithdrawn.
func (r *RIB[M]) MarkMuiAsActive(mui uint32) {
	r.withdrawnMu.Lock()
	r.withdrawn.Remove(mui)
	r.withdrawnMu.Unlock()
}

// filterRecords applies the mui and withdrawn-status filtering policy
// common to every read path: §6 MatchOptions.mui narrows to one source,
// and a globally withdrawn mui's records are either dropped or reported
// with status overridden to Withdrawn, per opts.include_withdrawn.
func (r *RIB[M]) filterRecords(recs []rtypes.Record[M], mui *uint32, includeWithdrawn bool) []rtypes.Record[M] {
	if len(recs) == 0 {
		return nil
	}
	out := make([]rtypes.Record[M], 0, len(recs))
	for _, rec := range recs {
		if mui != nil && rec.Mui != *mui {
			continue
		}
		if r.isWithdrawn(rec.Mui) {
			if !includeWithdrawn {
				continue
			}
			rec.Status = rtypes.StatusWithdrawn
		}
		out = append(out, rec)
	}
	return out
}

func entriesToRecords[M Meta[M]](entries []persist.Entry[M]) []rtypes.Record[M] {
	out := make([]rtypes.Record[M], len(entries))
	for i, e := range entries {
		out[i] = rtypes.Record[M]{Mui: e.Mui, LTime: e.LTime, Status: e.Status, Meta: e.Meta}
	}
	return out
}

func (r *RIB[M]) recordsFor(id af.PrefixID, mui *uint32, includeWithdrawn bool) []rtypes.Record[M] {
	recs, ok := r.treeFor(id).Records(id)
	if ok {
		return r.filterRecords(recs, mui, includeWithdrawn)
	}
	if store := r.persistFor(id); store != nil {
		entries, err := store.ScanPrefix(id)
		if err != nil {
			return nil
		}
		return r.filterRecords(entriesToRecords(entries), mui, includeWithdrawn)
	}
	return nil
}

// MatchPrefix resolves id against the trie per opts. See MatchType and
// IncludeHistory for the policy each field selects.
func (r *RIB[M]) MatchPrefix(id af.PrefixID, opts MatchOptions) (QueryResult[M], error) {
	if id.Length > id.Addr.Bits {
		return QueryResult[M]{}, fmt.Errorf("%w: length %d exceeds %d-bit address", rerr.ErrPrefixLengthInvalid, id.Length, id.Addr.Bits)
	}

	t := r.treeFor(id)
	result := QueryResult[M]{MatchType: opts.MatchType, Prefix: id}

	anchor := id
	found := false

	switch opts.MatchType {
	case MatchExact:
		found = t.PrefixExists(id)
	case MatchLongest:
		if t.PrefixExists(id) {
			found = true
		} else {
			// LessSpecifics yields shortest-first; the last one is the
			// deepest inserted prefix covering id.
			for pid := range t.LessSpecifics(id) {
				anchor, found = pid, true
			}
		}
	case MatchEmpty:
		// anchor stays id; MatchEmpty never reports a hit of its own.
	}

	if opts.MatchType != MatchEmpty && !found {
		result.MatchType = MatchEmpty
	}

	result.Found = found
	result.Prefix = anchor
	if found {
		result.Records = r.recordsFor(anchor, opts.Mui, opts.IncludeWithdrawn)
	}

	if opts.IncludeLessSpecifics {
		for pid := range t.LessSpecifics(anchor) {
			result.LessSpecifics = append(result.LessSpecifics, PrefixRecord[M]{
				Prefix:  pid,
				Records: r.recordsFor(pid, opts.Mui, opts.IncludeWithdrawn),
			})
		}
	}

	if opts.IncludeMoreSpecifics {
		// t.MoreSpecifics is inclusive of anchor itself; the anchor's own
		// hit is already reported via result.Records, so skip it here to
		// avoid listing it twice.
		for pid := range t.MoreSpecificsMui(anchor, opts.Mui) {
			if pid == anchor {
				continue
			}
			result.MoreSpecifics = append(result.MoreSpecifics, PrefixRecord[M]{
				Prefix:  pid,
				Records: r.recordsFor(pid, opts.Mui, opts.IncludeWithdrawn),
			})
		}
	}

	if opts.IncludeHistory != IncludeHistoryNone {
		if store := r.persistFor(anchor); store != nil {
			history, err := store.ScanPrefix(anchor)
			if err != nil {
				return QueryResult[M]{}, err
			}
			result.History = history

			if opts.IncludeHistory == IncludeHistoryAll {
				for _, pr := range result.LessSpecifics {
					h, err := store.ScanPrefix(pr.Prefix)
					if err != nil {
						return QueryResult[M]{}, err
					}
					result.History = append(result.History, h...)
				}
				for _, pr := range result.MoreSpecifics {
					h, err := store.ScanPrefix(pr.Prefix)
					if err != nil {
						return QueryResult[M]{}, err
					}
					result.History = append(result.History, h...)
				}
			}
		}
	}

	return result, nil
}

// MoreSpecificsIterFrom lazily iterates every prefix at or more specific
// than id (id itself included when it is set), filtered by
// mui/includeWithdrawn.
func (r *RIB[M]) MoreSpecificsIterFrom(id af.PrefixID, mui *uint32, includeWithdrawn bool) iter.Seq[PrefixRecord[M]] {
	t := r.treeFor(id)
	return func(yield func(PrefixRecord[M]) bool) {
		for pid := range t.MoreSpecificsMui(id, mui) {
			recs := r.recordsFor(pid, mui, includeWithdrawn)
			if mui != nil && len(recs) == 0 {
				continue
			}
			if !yield(PrefixRecord[M]{Prefix: pid, Records: recs}) {
				return
			}
		}
	}
}

// LessSpecificsIterFrom lazily iterates every ancestor of id, filtered by
// mui/includeWithdrawn.
func (r *RIB[M]) LessSpecificsIterFrom(id af.PrefixID, mui *uint32, includeWithdrawn bool) iter.Seq[PrefixRecord[M]] {
	t := r.treeFor(id)
	return func(yield func(PrefixRecord[M]) bool) {
		for pid := range t.LessSpecifics(id) {
			recs := r.recordsFor(pid, mui, includeWithdrawn)
			if mui != nil && len(recs) == 0 {
				continue
			}
			if !yield(PrefixRecord[M]{Prefix: pid, Records: recs}) {
				return
			}
		}
	}
}

func (r *RIB[M]) prefixesIter(t *trie.Trie[M]) iter.Seq[PrefixRecord[M]] {
	return func(yield func(PrefixRecord[M]) bool) {
		for pid := range t.All() {
			recs := r.recordsFor(pid, nil, false)
			if !yield(PrefixRecord[M]{Prefix: pid, Records: recs}) {
				return
			}
		}
	}
}

// PrefixesIterV4 lazily iterates every currently inserted IPv4 prefix.
func (r *RIB[M]) PrefixesIterV4() iter.Seq[PrefixRecord[M]] { return r.prefixesIter(r.v4) }

// PrefixesIterV6 lazily iterates every currently inserted IPv6 prefix.
func (r *RIB[M]) PrefixesIterV6() iter.Seq[PrefixRecord[M]] { return r.prefixesIter(r.v6) }

// PrefixesIter lazily iterates every currently inserted prefix, v4 first
// then v6.
func (r *RIB[M]) PrefixesIter() iter.Seq[PrefixRecord[M]] {
	return func(yield func(PrefixRecord[M]) bool) {
		for pr := range r.PrefixesIterV4() {
			if !yield(pr) {
				return
			}
		}
		for pr := range r.PrefixesIterV6() {
			if !yield(pr) {
				return
			}
		}
	}
}

// BestPath returns the previously calculated best path for id.
// ErrBestPathNotFound if none was ever calculated; ErrPathSelectionOutdated
// if Insert(..., true) observed a change since the last calculation.
func (r *RIB[M]) BestPath(id af.PrefixID) (rtypes.Record[M], error) {
	r.bestMu.RLock()
	bp, ok := r.bestPaths[id]
	r.bestMu.RUnlock()

	if !ok {
		return rtypes.Record[M]{}, fmt.Errorf("%w: %s", rerr.ErrBestPathNotFound, id.ToNetipPrefix())
	}
	if bp.stale {
		return rtypes.Record[M]{}, fmt.Errorf("%w: %s", rerr.ErrPathSelectionOutdated, id.ToNetipPrefix())
	}

	recs, ok := r.treeFor(id).Records(id)
	if !ok {
		return rtypes.Record[M]{}, fmt.Errorf("%w: %s", rerr.ErrRecordNotInMemory, id.ToNetipPrefix())
	}
	for _, rec := range recs {
		if rec.Mui == bp.best {
			return rec, nil
		}
	}
	return rtypes.Record[M]{}, fmt.Errorf("%w: best mui %d no longer present for %s", rerr.ErrPathSelectionOutdated, bp.best, id.ToNetipPrefix())
}

// CalculateAndStoreBestAndBackupPath evaluates every record currently
// stored at id with tiebreaker (tiebreaker(a, b) reports whether a is
// preferred over b) and caches the winner and runner-up for BestPath.
func (r *RIB[M]) CalculateAndStoreBestAndBackupPath(id af.PrefixID, tiebreaker func(a, b rtypes.Record[M]) bool) error {
	recs, ok := r.treeFor(id).Records(id)
	if !ok || len(recs) == 0 {
		return fmt.Errorf("%w: %s", rerr.ErrPrefixNotFound, id.ToNetipPrefix())
	}

	best := recs[0]
	for _, rec := range recs[1:] {
		if tiebreaker(rec, best) {
			best = rec
		}
	}

	var backup rtypes.Record[M]
	hasBackup := false
	for _, rec := range recs {
		if rec.Mui == best.Mui {
			continue
		}
		if !hasBackup || tiebreaker(rec, backup) {
			backup, hasBackup = rec, true
		}
	}

	r.bestMu.Lock()
	r.bestPaths[id] = bestPath{best: best.Mui, backup: backup.Mui, hasBackup: hasBackup}
	r.bestMu.Unlock()
	return nil
}

// PrefixesCount returns the number of distinct prefixes ever inserted,
// across both address families.
func (r *RIB[M]) PrefixesCount() int { return r.v4.PrefixesCount() + r.v6.PrefixesCount() }

// NodesCount returns the number of trie nodes created, across both
// address families.
func (r *RIB[M]) NodesCount() int { return r.v4.NodeCount() + r.v6.NodeCount() }

// RoutesCount returns the total number of distinct (prefix, mui) records
// ever inserted, across both address families.
func (r *RIB[M]) RoutesCount() int { return r.v4.RoutesCount() + r.v6.RoutesCount() }

// PrefixesCountForLen returns the number of distinct prefixes of exactly
// length, summed across whichever address family that length is valid
// for.
func (r *RIB[M]) PrefixesCountForLen(length uint8) int {
	return r.v4.PrefixesCountForLen(length) + r.v6.PrefixesCountForLen(length)
}

// Stats is a point-in-time counters snapshot, broken out per address
// family (supplementing the abstract API's family-agnostic counters).
type Stats struct {
	PrefixesV4 int
	PrefixesV6 int
	NodesV4    int
	NodesV6    int
	RoutesV4   int
	RoutesV6   int

	// ReclaimedVectors is the number of replaced record vectors the
	// epoch guard has reclaimed so far, across both address families.
	ReclaimedVectors int

	// PrefixesByLen[l] is the combined v4+v6 prefix count at length l,
	// indexed 0..128.
	PrefixesByLen [129]int
}

// StatsSnapshot returns a point-in-time counters snapshot.
func (r *RIB[M]) StatsSnapshot() Stats {
	var s Stats
	s.PrefixesV4 = r.v4.PrefixesCount()
	s.PrefixesV6 = r.v6.PrefixesCount()
	s.NodesV4 = r.v4.NodeCount()
	s.NodesV6 = r.v6.NodeCount()
	s.RoutesV4 = r.v4.RoutesCount()
	s.RoutesV6 = r.v6.RoutesCount()
	s.ReclaimedVectors = r.v4.ReclaimedCount() + r.v6.ReclaimedCount()
	for l := 0; l <= 32; l++ {
		s.PrefixesByLen[l] += r.v4.PrefixesCountForLen(uint8(l))
	}
	for l := 0; l <= 128; l++ {
		s.PrefixesByLen[l] += r.v6.PrefixesCountForLen(uint8(l))
	}
	return s
}

// Compact merges on-disk segments of every configured persistence tier,
// fanning the v4/v6 compactions out concurrently.
func (r *RIB[M]) Compact(ctx context.Context) error {
	if r.persistV4 == nil && r.persistV6 == nil {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	if r.persistV4 != nil {
		g.Go(r.persistV4.Compact)
	}
	if r.persistV6 != nil {
		g.Go(r.persistV6.Compact)
	}

	if err := g.Wait(); err != nil {
		r.logger.Error("compaction failed", zap.Error(err))
		return err
	}
	r.logger.Debug("compaction complete")
	return nil
}
