// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"testing"
	"time"

	"github.com/luxfi/mst/testutil"
	"github.com/stretchr/testify/require"
)

var (
	genesis = time.Unix(1_700_000_000, 0)
	signers = testutil.NewSigners(8)
)

func sign(s testutil.Signer, payload []byte) Signature {
	return Signature{
		Signer: PublicKey(s.Public),
		Signed: s.Sign(payload),
		Time:   genesis,
	}
}

func makeTx(t *testing.T, payload string, quorum int, by ...testutil.Signer) *Transaction {
	return makeTxAt(t, payload, genesis, quorum, by...)
}

func makeTxAt(t *testing.T, payload string, created time.Time, quorum int, by ...testutil.Signer) *Transaction {
	sigs := make([]Signature, len(by))
	for i, s := range by {
		sigs[i] = sign(s, []byte(payload))
	}
	tx, err := NewTransaction([]byte(payload), created, quorum, sigs...)
	require.NoError(t, err)
	return tx
}

func makeBatch(t *testing.T, txs ...*Transaction) *Batch {
	b, err := NewBatch(txs...)
	require.NoError(t, err)
	return b
}

// singleTxBatch returns a batch of one transaction with the given quorum signed by the given signers.
func singleTxBatch(t *testing.T, payload string, quorum int, by ...testutil.Signer) *Batch {
	return makeBatch(t, makeTx(t, payload, quorum, by...))
}

func insert(t *testing.T, s *State, batches ...*Batch) *State {
	for _, b := range batches {
		var err error
		s, _, err = s.Insert(b)
		require.NoError(t, err)
	}
	return s
}

func signerCount(b *Batch) []int {
	counts := make([]int, b.Len())
	for i, tx := range b.Transactions() {
		counts[i] = tx.Signatures().Len()
	}
	return counts
}

func makeLogger(t *testing.T, node ...int) *testutil.TestLogger {
	return testutil.MakeLogger(t, node...)
}
