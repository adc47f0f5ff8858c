// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package trie

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"

	"github.com/starcast/rib/internal/af"
	"github.com/starcast/rib/internal/rtypes"
)

// testMeta is a minimal rtypes.Meta payload for trie tests.
type testMeta struct {
	Tag uint32
}

func (m testMeta) String() string { return fmt.Sprintf("tag=%d", m.Tag) }

func (m testMeta) Equal(o testMeta) bool { return m.Tag == o.Tag }

func (m testMeta) MarshalBinary() ([]byte, error) {
	return []byte{byte(m.Tag), byte(m.Tag >> 8), byte(m.Tag >> 16), byte(m.Tag >> 24)}, nil
}

func mustPrefix(t *testing.T, s string) af.PrefixID {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return af.FromNetipPrefix(p)
}

func rec(mui uint32) rtypes.Record[testMeta] {
	return rtypes.Record[testMeta]{Mui: mui, LTime: 1, Status: rtypes.StatusActive, Meta: testMeta{Tag: mui}}
}

func newTrie(t *testing.T) *Trie[testMeta] {
	t.Helper()
	return New[testMeta](true, rtypes.MemoryOnly, nil)
}

func TestUpsertAndExactMatch(t *testing.T) {
	tr := newTrie(t)
	id := mustPrefix(t, "10.0.0.0/24")

	report, err := tr.Upsert(id, rec(1))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !report.PrefixNew || !report.MuiNew || report.MuiCount != 1 {
		t.Fatalf("unexpected first-insert report: %+v", report)
	}

	if !tr.ExactMatch(id) {
		t.Fatalf("expected exact match after insert")
	}

	report2, err := tr.Upsert(id, rec(1))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if report2.PrefixNew || report2.MuiNew || report2.MuiCount != 1 {
		t.Fatalf("re-upserting the same mui should not report new, got %+v", report2)
	}

	report3, err := tr.Upsert(id, rec(2))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if report3.PrefixNew || !report3.MuiNew || report3.MuiCount != 2 {
		t.Fatalf("adding a second mui to an existing prefix: got %+v", report3)
	}

	recs, ok := tr.Records(id)
	if !ok || len(recs) != 2 {
		t.Fatalf("expected 2 records, got %v ok=%v", recs, ok)
	}
}

func TestUpsertAndMatchDefaultRoute(t *testing.T) {
	tr := newTrie(t)
	id := mustPrefix(t, "0.0.0.0/0")

	report, err := tr.Upsert(id, rec(1))
	if err != nil {
		t.Fatalf("upsert default route: %v", err)
	}
	if !report.PrefixNew {
		t.Fatalf("expected the default route to report as a new prefix, got %+v", report)
	}
	if !tr.ExactMatch(id) {
		t.Fatalf("expected exact match on the default route after insert")
	}

	addr := af.FromNetip(netip.MustParseAddr("203.0.113.1"))
	best, ok := tr.LongestMatch(addr)
	if !ok || best.Length != 0 {
		t.Fatalf("expected the default route to match an address with no more specific route, got %+v ok=%v", best, ok)
	}

	if _, err := tr.Upsert(mustPrefix(t, "203.0.113.0/24"), rec(1)); err != nil {
		t.Fatalf("upsert more specific: %v", err)
	}
	best2, ok2 := tr.LongestMatch(addr)
	if !ok2 || best2.Length != 24 {
		t.Fatalf("expected the more specific route to win over the default route, got %+v ok=%v", best2, ok2)
	}
}

func TestLongestMatch(t *testing.T) {
	tr := newTrie(t)

	for _, s := range []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24"} {
		if _, err := tr.Upsert(mustPrefix(t, s), rec(1)); err != nil {
			t.Fatalf("upsert %s: %v", s, err)
		}
	}

	addr := af.FromNetip(netip.MustParseAddr("10.1.2.200"))

	best, ok := tr.LongestMatch(addr)
	if !ok || best.Length != 24 {
		t.Fatalf("expected /24 longest match, got %+v ok=%v", best, ok)
	}

	addr2 := af.FromNetip(netip.MustParseAddr("10.1.9.1"))
	best2, ok2 := tr.LongestMatch(addr2)
	if !ok2 || best2.Length != 16 {
		t.Fatalf("expected /16 match for 10.1.9.1, got %+v ok=%v", best2, ok2)
	}

	addr3 := af.FromNetip(netip.MustParseAddr("11.0.0.1"))
	if _, ok3 := tr.LongestMatch(addr3); ok3 {
		t.Fatalf("expected no match outside 10.0.0.0/8")
	}
}

func TestLessSpecifics(t *testing.T) {
	tr := newTrie(t)
	for _, s := range []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24", "10.1.2.128/25"} {
		if _, err := tr.Upsert(mustPrefix(t, s), rec(1)); err != nil {
			t.Fatalf("upsert %s: %v", s, err)
		}
	}

	var got []string
	for id := range tr.LessSpecifics(mustPrefix(t, "10.1.2.128/25")) {
		got = append(got, id.ToNetipPrefix().String())
	}

	want := []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMoreSpecifics(t *testing.T) {
	tr := newTrie(t)
	for _, s := range []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24", "10.1.2.128/25", "10.2.0.0/16"} {
		if _, err := tr.Upsert(mustPrefix(t, s), rec(1)); err != nil {
			t.Fatalf("upsert %s: %v", s, err)
		}
	}

	set := map[string]bool{}
	for id := range tr.MoreSpecifics(mustPrefix(t, "10.0.0.0/8")) {
		set[id.ToNetipPrefix().String()] = true
	}

	for _, want := range []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24", "10.1.2.128/25", "10.2.0.0/16"} {
		if !set[want] {
			t.Fatalf("expected %s among more-specifics, got %v", want, set)
		}
	}
	if len(set) != 5 {
		t.Fatalf("expected exactly 5 more-specifics (inclusive of the anchor), got %v", set)
	}
}

// TestMoreSpecificsDescendsPastPartialSpanAnchor guards against an
// anchor whose own length isn't a multiple of the stride (so its
// terminal BitSpan is partial) failing to descend into any of its
// several candidate children. The default route (/0) is the extreme
// case: every one of the root node's 16 child slots is a candidate.
func TestMoreSpecificsDescendsPastPartialSpanAnchor(t *testing.T) {
	tr := newTrie(t)
	for _, s := range []string{"0.0.0.0/0", "10.1.2.128/25", "10.1.2.136/30", "192.0.2.0/24"} {
		if _, err := tr.Upsert(mustPrefix(t, s), rec(1)); err != nil {
			t.Fatalf("upsert %s: %v", s, err)
		}
	}

	set := map[string]bool{}
	for id := range tr.MoreSpecifics(mustPrefix(t, "0.0.0.0/0")) {
		set[id.ToNetipPrefix().String()] = true
	}

	for _, want := range []string{"0.0.0.0/0", "10.1.2.128/25", "10.1.2.136/30", "192.0.2.0/24"} {
		if !set[want] {
			t.Fatalf("expected %s among more-specifics of the default route, got %v", want, set)
		}
	}

	// 10.1.2.136/30 sits one node deeper than 10.1.2.128/25's own
	// (partial, 1-bit) terminal span; confirm that anchor also descends
	// through its single matching child correctly.
	set2 := map[string]bool{}
	for id := range tr.MoreSpecifics(mustPrefix(t, "10.1.2.128/25")) {
		set2[id.ToNetipPrefix().String()] = true
	}
	if !set2["10.1.2.136/30"] || len(set2) != 2 {
		t.Fatalf("expected {10.1.2.128/25, 10.1.2.136/30}, got %v", set2)
	}
}

// TestMoreSpecificsDistinctSiblingsReportDistinctAddresses guards
// against a node's own in-node prefixes collapsing to the same
// address: a node can hold several of its own prefixes at different
// partial BitSpans, and a walk that forgets to fold a span's own bits
// into the accumulated address before truncating reports all of them
// at the same (wrong, zero-padded) address.
func TestMoreSpecificsDistinctSiblingsReportDistinctAddresses(t *testing.T) {
	tr := newTrie(t)
	// 10.1.2.0/25 and 10.1.2.128/25 terminate at the same node (24 bits
	// of common ancestor) with different 1-bit own BitSpans (Bits 0
	// and 1); they must not both report as 10.1.2.0/25.
	for _, s := range []string{"10.1.2.0/24", "10.1.2.0/25", "10.1.2.128/25"} {
		if _, err := tr.Upsert(mustPrefix(t, s), rec(1)); err != nil {
			t.Fatalf("upsert %s: %v", s, err)
		}
	}

	set := map[string]bool{}
	for id := range tr.MoreSpecifics(mustPrefix(t, "10.1.2.0/24")) {
		set[id.ToNetipPrefix().String()] = true
	}

	for _, want := range []string{"10.1.2.0/24", "10.1.2.0/25", "10.1.2.128/25"} {
		if !set[want] {
			t.Fatalf("expected %s among more-specifics, got %v", want, set)
		}
	}
	if len(set) != 3 {
		t.Fatalf("expected exactly 3 distinct more-specifics, got %v", set)
	}
}

func TestMoreSpecificsMuiSkipsUnrelatedSubtrees(t *testing.T) {
	tr := newTrie(t)
	if _, err := tr.Upsert(mustPrefix(t, "10.0.0.0/8"), rec(1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := tr.Upsert(mustPrefix(t, "10.1.0.0/16"), rec(2)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// mui 3 was never inserted anywhere below the anchor, so the whole
	// fan-out past the anchor's own node must be pruned via the shared
	// NodeSet's rbm; only the anchor's own (unrelated-mui) record still
	// surfaces, since a node's own position is yielded before the gate.
	mui := uint32(3)
	set := map[string]bool{}
	for id := range tr.MoreSpecificsMui(mustPrefix(t, "10.0.0.0/8"), &mui) {
		set[id.ToNetipPrefix().String()] = true
	}
	if set["10.1.0.0/16"] {
		t.Fatalf("expected 10.1.0.0/16 pruned for unrelated mui %d, got %v", mui, set)
	}
	if !set["10.0.0.0/8"] || len(set) != 1 {
		t.Fatalf("expected only the anchor itself, got %v", set)
	}

	// mui 2 does appear under the anchor (at 10.1.0.0/16), so that
	// subtree must not be pruned.
	mui2 := uint32(2)
	set2 := map[string]bool{}
	for id := range tr.MoreSpecificsMui(mustPrefix(t, "10.0.0.0/8"), &mui2) {
		set2[id.ToNetipPrefix().String()] = true
	}
	if !set2["10.1.0.0/16"] {
		t.Fatalf("expected 10.1.0.0/16 present for mui %d, got %v", mui2, set2)
	}
}

func TestReclaimedCountAdvancesAfterReplace(t *testing.T) {
	tr := newTrie(t)
	id := mustPrefix(t, "198.51.100.0/24")

	if _, err := tr.Upsert(id, rec(1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := tr.ReclaimedCount(); got != 0 {
		t.Fatalf("expected no reclamation after the first insert, got %d", got)
	}

	// Re-upserting the same mui replaces the record vector, deferring
	// reclamation of the old one; with no pinned readers it should run
	// immediately.
	if _, err := tr.Upsert(id, rec(1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := tr.ReclaimedCount(); got != 1 {
		t.Fatalf("expected the replaced vector to be reclaimed, got %d", got)
	}
}

func TestPersistOnlyKeepsNoInMemoryRecord(t *testing.T) {
	tr := New[testMeta](true, rtypes.PersistOnly, nil)
	id := mustPrefix(t, "192.168.0.0/16")

	if _, err := tr.Upsert(id, rec(1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if !tr.PrefixExists(id) {
		t.Fatalf("PersistOnly must still mark the prefix bit as set")
	}
	if _, ok := tr.Records(id); ok {
		t.Fatalf("PersistOnly must not serve an in-memory current record")
	}
}

func TestConcurrentUpsertSameMui(t *testing.T) {
	tr := newTrie(t)
	id := mustPrefix(t, "172.16.0.0/12")

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := tr.Upsert(id, rec(1)); err != nil {
				t.Errorf("concurrent upsert: %v", err)
			}
		}()
	}
	wg.Wait()

	recs, ok := tr.Records(id)
	if !ok || len(recs) != 1 {
		t.Fatalf("concurrent upserts of the same mui must collapse to one record, got %v", recs)
	}
}

func TestConcurrentUpsertDistinctMuis(t *testing.T) {
	tr := newTrie(t)
	id := mustPrefix(t, "172.16.0.0/12")

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		mui := uint32(i)
		go func() {
			defer wg.Done()
			if _, err := tr.Upsert(id, rec(mui)); err != nil {
				t.Errorf("concurrent upsert: %v", err)
			}
		}()
	}
	wg.Wait()

	recs, ok := tr.Records(id)
	if !ok || len(recs) != n {
		t.Fatalf("expected %d distinct records, got %d", n, len(recs))
	}
}
