// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package oncebox

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestBoxGetEmpty(t *testing.T) {
	var b Box[int]
	if v, ok := b.Get(); ok || v != nil {
		t.Fatalf("empty box should report absent, got %v, %v", v, ok)
	}
}

func TestBoxGetOrInit(t *testing.T) {
	var b Box[int]

	v, iWon := b.GetOrInit(func() *int { n := 42; return &n })
	if !iWon || *v != 42 {
		t.Fatalf("first GetOrInit should win and return 42, got %v, %v", *v, iWon)
	}

	v2, iWon2 := b.GetOrInit(func() *int { n := 7; return &n })
	if iWon2 || v2 != v {
		t.Fatalf("second GetOrInit must not win and must return the published value")
	}
}

func TestBoxConcurrentGetOrInitExactlyOneWinner(t *testing.T) {
	var b Box[int]

	const n = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, iWon := b.GetOrInit(func() *int { v := i; return &v })
			if iWon {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}

func TestSlabLazyAllocation(t *testing.T) {
	s := NewSlab[int](16)
	if s.boxes.Load() != nil {
		t.Fatalf("slab must not allocate its backing array before first access")
	}

	if _, ok := s.Get(3); ok {
		t.Fatalf("unset slot must report absent")
	}

	v, iWon := s.GetOrInit(3, func() *int { n := 9; return &n })
	if !iWon || *v != 9 {
		t.Fatalf("GetOrInit at idx 3 should win and store 9")
	}

	if s.boxes.Load() == nil {
		t.Fatalf("slab must have allocated its backing array after first write")
	}

	v2, ok := s.Get(3)
	if !ok || *v2 != 9 {
		t.Fatalf("Get after GetOrInit must observe the published value")
	}
}

func TestSlabConcurrentGetOrInitPerSlot(t *testing.T) {
	s := NewSlab[int](8)

	var wg sync.WaitGroup
	wins := make([]atomic.Int32, 8)

	for idx := 0; idx < 8; idx++ {
		for g := 0; g < 8; g++ {
			wg.Add(1)
			idx, g := idx, g
			go func() {
				defer wg.Done()
				_, iWon := s.GetOrInit(idx, func() *int { v := g; return &v })
				if iWon {
					wins[idx].Add(1)
				}
			}()
		}
	}
	wg.Wait()

	for idx, w := range wins {
		if got := w.Load(); got != 1 {
			t.Fatalf("slot %d: expected exactly one winner, got %d", idx, got)
		}
	}
}
