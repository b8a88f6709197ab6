// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// signerView maps every batch of the state to the signers of each of its transactions.
func signerView(s *State) map[Hash][][]string {
	view := make(map[Hash][][]string, s.Len())
	for _, b := range s.Batches() {
		txs := make([][]string, b.Len())
		for i, tx := range b.Transactions() {
			for _, signer := range tx.Signatures().Signers() {
				txs[i] = append(txs[i], signer.String())
			}
		}
		view[b.Hash()] = txs
	}
	return view
}

// sampleStates builds states sharing some batches, each holding different signers.
// Quorums are high enough that no union of them completes a batch.
func sampleStates(t *testing.T) []*State {
	policy := DefaultExpiryPolicy()
	shared := func(by ...int) *Batch {
		txs := make([]*Transaction, 2)
		for i := range txs {
			var sigs []Signature
			for _, j := range by {
				payload := fmt.Sprintf("shared-%d", i)
				sigs = append(sigs, sign(signers[j], []byte(payload)))
			}
			tx, err := NewTransaction([]byte(fmt.Sprintf("shared-%d", i)), genesis, 8, sigs...)
			require.NoError(t, err)
			txs[i] = tx
		}
		return makeBatch(t, txs...)
	}

	return []*State{
		EmptyState(policy),
		insert(t, EmptyState(policy), shared(0), singleTxBatch(t, "a", 8, signers[0])),
		insert(t, EmptyState(policy), shared(1, 2), singleTxBatch(t, "b", 8, signers[1])),
		insert(t, EmptyState(policy), shared(0, 3), singleTxBatch(t, "a", 8, signers[4]), singleTxBatch(t, "c", 8)),
	}
}

func union(t *testing.T, a, b *State) *State {
	u, completed, err := a.Union(b)
	require.NoError(t, err)
	require.Empty(t, completed)
	return u
}

func TestStateUnionIdempotent(t *testing.T) {
	for i, s := range sampleStates(t) {
		t.Run(fmt.Sprintf("state %d", i), func(t *testing.T) {
			require.True(t, union(t, s, s).Equal(s))
		})
	}
}

func TestStateUnionCommutative(t *testing.T) {
	states := sampleStates(t)
	for i, a := range states {
		for j, b := range states {
			t.Run(fmt.Sprintf("states %d and %d", i, j), func(t *testing.T) {
				require.Equal(t, signerView(union(t, a, b)), signerView(union(t, b, a)))
			})
		}
	}
}

func TestStateUnionAssociative(t *testing.T) {
	states := sampleStates(t)
	for i, a := range states {
		for j, b := range states {
			for k, c := range states {
				t.Run(fmt.Sprintf("states %d %d %d", i, j, k), func(t *testing.T) {
					left := union(t, union(t, a, b), c)
					right := union(t, a, union(t, b, c))
					require.Equal(t, signerView(left), signerView(right))
				})
			}
		}
	}
}

func TestStateUnionAssociativeUpToCompletions(t *testing.T) {
	policy := DefaultExpiryPolicy()
	a := insert(t, EmptyState(policy), singleTxBatch(t, "x", 2, signers[0]))
	b := insert(t, EmptyState(policy), singleTxBatch(t, "x", 2, signers[1]))
	c := insert(t, EmptyState(policy), singleTxBatch(t, "x", 2, signers[2]))

	ab, completed, err := a.Union(b)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	left, completed, err := ab.Union(c)
	require.NoError(t, err)
	require.Empty(t, completed)

	bc, completed, err := b.Union(c)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	right, completed, err := a.Union(bc)
	require.NoError(t, err)
	require.Empty(t, completed)

	// the copy merged after the completion starts over on either side
	require.Equal(t, []int{1}, signerCount(left.Batches()[0]))
	require.Equal(t, []int{1}, signerCount(right.Batches()[0]))
	require.False(t, left.Equal(right))
}

func TestStateUnionLosesNothing(t *testing.T) {
	states := sampleStates(t)
	for i, a := range states {
		for j, b := range states {
			t.Run(fmt.Sprintf("states %d and %d", i, j), func(t *testing.T) {
				u := union(t, a, b)
				for _, in := range []*State{a, b} {
					for _, batch := range in.Batches() {
						merged, ok := u.Get(batch.Hash())
						require.True(t, ok)
						for x, tx := range batch.Transactions() {
							require.True(t, merged.Transactions()[x].Signatures().ContainsSigners(tx.Signatures()))
						}
					}
				}
			})
		}
	}
}

func TestStateQuorumMonotonic(t *testing.T) {
	b := makeBatch(t, makeTx(t, "a", 3, signers[0]), makeTx(t, "b", 1, signers[0]))
	s := insert(t, EmptyState(DefaultExpiryPolicy()), b)
	before, _ := s.Get(b.Hash())

	more := makeBatch(t, makeTx(t, "a", 3, signers[1]), makeTx(t, "b", 1, signers[1]))
	s = insert(t, s, more)
	after, ok := s.Get(b.Hash())
	require.True(t, ok)
	require.GreaterOrEqual(t, after.CompletedTransactions(), before.CompletedTransactions())
	require.Equal(t, []int{2, 2}, signerCount(after))
}

func TestStateInsertCompletes(t *testing.T) {
	// Scenario: a second signer completes a quorum-2 batch
	s := insert(t, EmptyState(DefaultExpiryPolicy()), singleTxBatch(t, "tx", 2, signers[0]))

	next, completed, err := s.Insert(singleTxBatch(t, "tx", 2, signers[1]))
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.True(t, completed[0].IsComplete())
	require.Equal(t, []int{2}, signerCount(completed[0]))

	_, found := next.Get(completed[0].Hash())
	require.False(t, found, "completed batches leave the state")
	require.Equal(t, 1, s.Len(), "the receiver is not modified")

	// a batch complete on arrival never enters the state
	next, completed, err = next.Insert(singleTxBatch(t, "solo", 1, signers[0]))
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.True(t, next.IsEmpty())
}

func TestStateUnionCompletes(t *testing.T) {
	// Scenario: two single-signature states for the same batch complete it when merged
	policy := DefaultExpiryPolicy()
	a := insert(t, EmptyState(policy), singleTxBatch(t, "tx", 2, signers[0]), singleTxBatch(t, "other", 3, signers[0]))
	b := insert(t, EmptyState(policy), singleTxBatch(t, "tx", 2, signers[1]))

	for _, pair := range [][2]*State{{a, b}, {b, a}} {
		u, completed, err := pair[0].Union(pair[1])
		require.NoError(t, err)
		require.Len(t, completed, 1)
		require.Equal(t, []int{2}, signerCount(completed[0]))
		for _, done := range completed {
			_, found := u.Get(done.Hash())
			require.False(t, found)
		}
	}
}

func TestStateUnionMismatch(t *testing.T) {
	policy := DefaultExpiryPolicy()
	a := insert(t, EmptyState(policy), singleTxBatch(t, "x", 3, signers[0]), singleTxBatch(t, "tx", 2, signers[0]))
	b := insert(t, EmptyState(policy), singleTxBatch(t, "x", 3, signers[1]), singleTxBatch(t, "tx", 4, signers[1]))

	u, completed, err := a.Union(b)
	var mismatch *MismatchedBatchError
	require.True(t, errors.As(err, &mismatch))
	require.Empty(t, completed)
	require.Same(t, a, u)
	require.Equal(t, signerView(insert(t, EmptyState(policy), singleTxBatch(t, "x", 3, signers[0]), singleTxBatch(t, "tx", 2, signers[0]))), signerView(a))
}

func TestStateDifference(t *testing.T) {
	policy := DefaultExpiryPolicy()
	full := singleTxBatch(t, "tx", 4, signers[0], signers[1])
	a := insert(t, EmptyState(policy), full, singleTxBatch(t, "only-a", 4, signers[2]))

	t.Run("nothing new", func(t *testing.T) {
		// Scenario: b already holds every signature of a for the shared batch
		b := insert(t, EmptyState(policy), singleTxBatch(t, "tx", 4, signers[0], signers[1], signers[3]))
		diff := a.Difference(b)
		_, found := diff.Get(full.Hash())
		require.False(t, found)
		require.Equal(t, 1, diff.Len())
	})

	t.Run("missing signatures", func(t *testing.T) {
		b := insert(t, EmptyState(policy), singleTxBatch(t, "tx", 4, signers[1]))
		diff := a.Difference(b)
		got, found := diff.Get(full.Hash())
		require.True(t, found)
		require.Equal(t, []PublicKey{PublicKey(signers[0].Public)}, got.Transactions()[0].Signatures().Signers())

		// sending the difference brings b up to date
		require.True(t, union(t, b, diff).Difference(a).IsEmpty())
		require.True(t, a.Difference(union(t, b, diff)).IsEmpty())
	})

	t.Run("unknown peer state", func(t *testing.T) {
		require.True(t, a.Difference(EmptyState(policy)).Equal(a))
	})
}

func TestStateExtractExpired(t *testing.T) {
	// Scenario: an expired batch is reported once
	policy := EarliestTxTime(time.Minute)
	old := makeBatch(t, makeTxAt(t, "old", genesis, 2, signers[0]))
	older := makeBatch(t, makeTxAt(t, "older", genesis.Add(-time.Second), 2, signers[0]))
	fresh := makeBatch(t, makeTxAt(t, "fresh", genesis.Add(time.Hour), 2, signers[0]))
	s := insert(t, EmptyState(policy), old, fresh, older)

	same, expired := s.ExtractExpired(genesis)
	require.Empty(t, expired)
	require.Same(t, s, same)

	next, expired := s.ExtractExpired(genesis.Add(time.Minute))
	require.Len(t, expired, 2)
	require.Equal(t, older.Hash(), expired[0].Hash(), "expired batches are ordered by deadline")
	require.Equal(t, old.Hash(), expired[1].Hash())
	require.Equal(t, 1, next.Len())
	require.Equal(t, 3, s.Len())

	again, expired := next.ExtractExpired(genesis.Add(2 * time.Minute))
	require.Empty(t, expired)
	require.Equal(t, 1, again.Len())
}

func TestStateMergeKeepsEarliestDeadline(t *testing.T) {
	now := genesis
	policy := FixedTimeout(time.Minute, func() time.Time { return now })

	s := insert(t, EmptyState(policy), singleTxBatch(t, "tx", 3, signers[0]))
	now = genesis.Add(time.Hour)
	later := insert(t, EmptyState(policy), singleTxBatch(t, "tx", 3, signers[1]))

	for _, u := range []*State{union(t, s, later), union(t, later, s)} {
		deadline, ok := u.Deadline(singleTxBatch(t, "tx", 3).Hash())
		require.True(t, ok)
		require.Equal(t, genesis.Add(time.Minute), deadline)
	}

	s = insert(t, s, singleTxBatch(t, "tx", 3, signers[2]))
	deadline, _ := s.Deadline(singleTxBatch(t, "tx", 3).Hash())
	require.Equal(t, genesis.Add(time.Minute), deadline, "new signatures do not extend the deadline")
}

func TestStateFilterAndWithout(t *testing.T) {
	a := singleTxBatch(t, "a", 2, signers[0])
	b := singleTxBatch(t, "b", 2, signers[0])
	s := insert(t, EmptyState(DefaultExpiryPolicy()), a, b)

	filtered := s.Filter(func(batch *Batch) bool {
		return batch.Hash() == a.Hash()
	})
	require.Equal(t, 1, filtered.Len())
	_, found := filtered.Get(a.Hash())
	require.True(t, found)

	without := s.Without(a.Hash())
	require.Equal(t, 1, without.Len())
	_, found = without.Get(a.Hash())
	require.False(t, found)
	require.Same(t, without, without.Without(a.Hash()))
	require.Equal(t, 2, s.Len())
}

func TestStateBatchesOrderedByHash(t *testing.T) {
	s := EmptyState(DefaultExpiryPolicy())
	for i := 0; i < 50; i++ {
		s = insert(t, s, singleTxBatch(t, fmt.Sprintf("tx-%d", i), 2, signers[0]))
	}
	batches := s.Batches()
	require.Len(t, batches, 50)
	for i := 1; i < len(batches); i++ {
		require.Negative(t, batches[i-1].Hash().Compare(batches[i].Hash()))
	}
}
