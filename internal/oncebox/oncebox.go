// Copyright (c) 2024 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package oncebox implements the lock-free "write-at-most-once" cell used
// to publish trie nodes and record slots exactly once under concurrent
// writers: a Box starts nil, and get_or_init races allocations through a
// single CAS, with the losing allocation dropped immediately.
package oncebox

import "sync/atomic"

// Box is an atomic pointer cell, initially nil.
type Box[T any] struct {
	p atomic.Pointer[T]
}

// Get loads the box with acquire semantics and returns the stored value,
// or ok=false if the box has never been initialized.
func (b *Box[T]) Get() (v *T, ok bool) {
	v = b.p.Load()
	return v, v != nil
}

// GetOrInit returns the current value if present. Otherwise it allocates
// via factory and tries to CAS it in from nil. If another goroutine wins
// the race, the caller's allocation is dropped and the winner's value is
// returned with iWon=false.
func (b *Box[T]) GetOrInit(factory func() *T) (v *T, iWon bool) {
	if v, ok := b.Get(); ok {
		return v, false
	}

	candidate := factory()
	if b.p.CompareAndSwap(nil, candidate) {
		return candidate, true
	}

	// Lost the race: drop candidate, return the winner's value.
	return b.p.Load(), false
}
