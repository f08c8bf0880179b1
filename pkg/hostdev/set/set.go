// Copyright (c) 2017-2018 Intel Corporation
// Copyright (c) 2018 Huawei Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package set implements the Device Set container: an ordered collection of
// device handles uniquely keyed by address, with steal/copy semantics. It is
// shared by the PCI, USB and SCSI registries in pkg/hostdev/manager.
package set

import (
	"sync"

	"github.com/pkg/errors"
)

// Keyed is the constraint a device handle must satisfy to live in a Set: a
// stable, comparable identity (Key) and a deep-copy constructor (Clone),
// used by ListCopy so callers can inspect a registry without racing its
// owner.
type Keyed[K comparable, Self any] interface {
	Key() K
	Clone() Self
}

// Set is an ordered collection of device handles, uniquely keyed by K. It
// carries its own intrinsic mutex (Lock/Unlock) but none of its own methods
// take that lock internally: the PCI assignment pipeline acquires the locks
// of the registries it touches for the whole operation (see
// pkg/hostdev/pipeline), so double-locking here would deadlock it.
type Set[K comparable, H Keyed[K, H]] struct {
	sync.Mutex

	order []H
	byKey map[K]H
}

// New returns an empty Set.
func New[K comparable, H Keyed[K, H]]() *Set[K, H] {
	return &Set[K, H]{byKey: make(map[K]H)}
}

// Add inserts h, rejecting a duplicate by key.
func (s *Set[K, H]) Add(h H) error {
	k := h.Key()
	if _, ok := s.byKey[k]; ok {
		return errors.Errorf("device %v already present in set", k)
	}
	s.byKey[k] = h
	s.order = append(s.order, h)
	return nil
}

// FindByAddress returns the handle keyed by k, if any.
func (s *Set[K, H]) FindByAddress(k K) (H, bool) {
	h, ok := s.byKey[k]
	return h, ok
}

// FindEqualHandle returns the handle in the set whose key equals h's key —
// i.e. "the handle this set already holds for the same device as h".
func (s *Set[K, H]) FindEqualHandle(h H) (H, bool) {
	return s.FindByAddress(h.Key())
}

// Remove removes and returns the handle keyed by k, if present.
func (s *Set[K, H]) Remove(k K) (H, bool) {
	h, ok := s.byKey[k]
	if !ok {
		var zero H
		return zero, false
	}
	delete(s.byKey, k)
	for i, existing := range s.order {
		if existing.Key() == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return h, true
}

// StealAtIndex removes the element at position i without destroying it and
// returns ownership to the caller. No operation reorders the surviving
// elements.
func (s *Set[K, H]) StealAtIndex(i int) (H, error) {
	var zero H
	if i < 0 || i >= len(s.order) {
		return zero, errors.Errorf("index %d out of range (len %d)", i, len(s.order))
	}
	h := s.order[i]
	delete(s.byKey, h.Key())
	s.order = append(s.order[:i], s.order[i+1:]...)
	return h, nil
}

// ListCopy returns a deep copy of every handle currently in the set, in
// iteration order.
func (s *Set[K, H]) ListCopy() []H {
	out := make([]H, len(s.order))
	for i, h := range s.order {
		out[i] = h.Clone()
	}
	return out
}

// Len returns the number of handles currently in the set.
func (s *Set[K, H]) Len() int {
	return len(s.order)
}
