// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"sync"
	"time"

	"github.com/google/btree"
)

const stateBTreeDegree = 16

type stateEntry struct {
	batch    *Batch
	deadline time.Time
}

func lessByHash(a, b *stateEntry) bool {
	return a.batch.hash.Compare(b.batch.hash) < 0
}

func lessByDeadline(a, b *stateEntry) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return lessByHash(a, b)
}

func hashProbe(h Hash) *stateEntry {
	return &stateEntry{batch: &Batch{hash: h}}
}

// State is an immutable collection of partially signed batches.
// Batches are indexed by hash and by expiry deadline. Every operation returns a new State,
// so a State may be read from any number of goroutines.
//
// States built through Insert and Union never hold a complete batch: completed batches are
// handed back to the caller instead. A State decoded from a gossip snapshot carries the
// batches exactly as the peer sent them.
type State struct {
	policy ExpiryPolicy

	// cloneLock serializes copy-on-write clones of the indexes
	cloneLock sync.Mutex
	batches   *btree.BTreeG[*stateEntry]
	deadlines *btree.BTreeG[*stateEntry]
}

// EmptyState returns a state without batches that assigns deadlines with the given policy.
func EmptyState(policy ExpiryPolicy) *State {
	return &State{
		policy:    policy,
		batches:   btree.NewG(stateBTreeDegree, lessByHash),
		deadlines: btree.NewG(stateBTreeDegree, lessByDeadline),
	}
}

func (s *State) clone() *State {
	s.cloneLock.Lock()
	defer s.cloneLock.Unlock()

	return &State{
		policy:    s.policy,
		batches:   s.batches.Clone(),
		deadlines: s.deadlines.Clone(),
	}
}

func (s *State) Policy() ExpiryPolicy {
	return s.policy
}

func (s *State) Len() int {
	return s.batches.Len()
}

func (s *State) IsEmpty() bool {
	return s.batches.Len() == 0
}

func (s *State) Get(h Hash) (*Batch, bool) {
	e, ok := s.batches.Get(hashProbe(h))
	if !ok {
		return nil, false
	}
	return e.batch, true
}

// Deadline returns the instant after which the batch is considered expired.
func (s *State) Deadline(h Hash) (time.Time, bool) {
	e, ok := s.batches.Get(hashProbe(h))
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Batches returns the batches of the state ordered by hash.
func (s *State) Batches() []*Batch {
	batches := make([]*Batch, 0, s.batches.Len())
	s.batches.Ascend(func(e *stateEntry) bool {
		batches = append(batches, e.batch)
		return true
	})
	return batches
}

// Insert adds a batch to the state, merging it with the copy already present.
// When the result is complete it is returned in completed instead of being kept in the state.
// A MismatchedBatchError leaves the receiver untouched.
func (s *State) Insert(b *Batch) (*State, []*Batch, error) {
	next := s.clone()
	done, err := next.insert(b, s.policy.Deadline(b))
	if err != nil {
		return s, nil, err
	}
	if done == nil {
		return next, nil, nil
	}
	return next, []*Batch{done}, nil
}

// Union merges every batch of other into the state, in hash order.
// The batches completed by the merge are returned in completion order.
// Either all of other is applied, or none of it together with the first error.
// Union is associative up to the extracted completions: once a batch completes it leaves the
// state, so a later union with another copy of it starts a new collection.
func (s *State) Union(other *State) (*State, []*Batch, error) {
	next := s.clone()
	var completed []*Batch
	var err error
	other.batches.Ascend(func(e *stateEntry) bool {
		var done *Batch
		done, err = next.insert(e.batch, e.deadline)
		if err != nil {
			return false
		}
		if done != nil {
			completed = append(completed, done)
		}
		return true
	})
	if err != nil {
		return s, nil, err
	}
	return next, completed, nil
}

// insert mutates the receiver and must only be called on a fresh clone.
// It returns the merged batch if it is complete.
func (s *State) insert(b *Batch, deadline time.Time) (*Batch, error) {
	merged := b
	existing, found := s.batches.Get(hashProbe(b.hash))
	if found {
		var err error
		merged, err = MergeBatches(existing.batch, b)
		if err != nil {
			return nil, err
		}
		if existing.deadline.Before(deadline) {
			deadline = existing.deadline
		}
		s.remove(existing)
	}

	if merged.IsComplete() {
		return merged, nil
	}

	e := &stateEntry{batch: merged, deadline: deadline}
	s.batches.ReplaceOrInsert(e)
	s.deadlines.ReplaceOrInsert(e)
	return nil, nil
}

func (s *State) remove(e *stateEntry) {
	s.batches.Delete(e)
	s.deadlines.Delete(e)
}

// Without returns the state minus the batch with the given hash.
func (s *State) Without(h Hash) *State {
	e, found := s.batches.Get(hashProbe(h))
	if !found {
		return s
	}
	next := s.clone()
	next.remove(e)
	return next
}

// Difference returns the part of the state that other does not know about:
// batches missing from other in full, and for batches known to both, the signatures
// whose signer is absent from other's copy. Batches with nothing new are left out.
func (s *State) Difference(other *State) *State {
	diff := EmptyState(s.policy)
	s.batches.Ascend(func(e *stateEntry) bool {
		theirs, found := other.batches.Get(e)
		if !found {
			diff.batches.ReplaceOrInsert(e)
			diff.deadlines.ReplaceOrInsert(e)
			return true
		}
		unknown, ok := e.batch.difference(theirs.batch)
		if !ok {
			return true
		}
		d := &stateEntry{batch: unknown, deadline: e.deadline}
		diff.batches.ReplaceOrInsert(d)
		diff.deadlines.ReplaceOrInsert(d)
		return true
	})
	return diff
}

// ExtractExpired splits off the batches whose deadline is not after now.
// Expired batches are ordered by deadline, ties broken by hash.
func (s *State) ExtractExpired(now time.Time) (*State, []*Batch) {
	var expired []*stateEntry
	s.deadlines.Ascend(func(e *stateEntry) bool {
		if e.deadline.After(now) {
			return false
		}
		expired = append(expired, e)
		return true
	})
	if len(expired) == 0 {
		return s, nil
	}

	next := s.clone()
	batches := make([]*Batch, len(expired))
	for i, e := range expired {
		next.remove(e)
		batches[i] = e.batch
	}
	return next, batches
}

// Filter returns the state holding only the batches for which keep returns true.
func (s *State) Filter(keep func(*Batch) bool) *State {
	filtered := EmptyState(s.policy)
	s.batches.Ascend(func(e *stateEntry) bool {
		if keep(e.batch) {
			filtered.batches.ReplaceOrInsert(e)
			filtered.deadlines.ReplaceOrInsert(e)
		}
		return true
	})
	return filtered
}

// Equal reports whether both states hold the same batches with the same signatures.
// Deadlines are not compared.
func (s *State) Equal(other *State) bool {
	if s.Len() != other.Len() {
		return false
	}
	equal := true
	s.batches.Ascend(func(e *stateEntry) bool {
		theirs, found := other.batches.Get(e)
		equal = found && e.batch.Equal(theirs.batch)
		return equal
	})
	return equal
}

// stateFromBatches builds a state holding the given batches as they are, without merging
// complete batches out. Batches sharing a hash are merged.
func stateFromBatches(policy ExpiryPolicy, batches []*Batch) (*State, error) {
	s := EmptyState(policy)
	for _, b := range batches {
		deadline := policy.Deadline(b)
		if existing, found := s.batches.Get(hashProbe(b.hash)); found {
			merged, err := MergeBatches(existing.batch, b)
			if err != nil {
				return nil, err
			}
			b = merged
			deadline = existing.deadline
			s.remove(existing)
		}
		e := &stateEntry{batch: b, deadline: deadline}
		s.batches.ReplaceOrInsert(e)
		s.deadlines.ReplaceOrInsert(e)
	}
	return s, nil
}
