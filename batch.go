// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	ErrEmptyBatch    = errors.New("batch has no transactions")
	ErrInvalidQuorum = errors.New("quorum must be at least 1")
)

// MismatchedBatchError is returned when two batches share a hash
// but do not describe the same sequence of transactions.
type MismatchedBatchError struct {
	Hash   Hash
	Reason string
}

func (e *MismatchedBatchError) Error() string {
	return fmt.Sprintf("mismatched batch %s: %s", e.Hash, e.Reason)
}

// Transaction is a payload awaiting signatures from at least Quorum distinct signers.
// Transactions are immutable; signature updates produce new values.
type Transaction struct {
	hash        Hash
	payload     []byte
	createdTime time.Time
	quorum      int
	signatures  SignatureSet
}

func NewTransaction(payload []byte, createdTime time.Time, quorum int, sigs ...Signature) (*Transaction, error) {
	if quorum < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuorum, quorum)
	}

	return &Transaction{
		hash:        hashBytes(payload),
		payload:     bytes.Clone(payload),
		createdTime: createdTime,
		quorum:      quorum,
		signatures:  NewSignatureSet(sigs...),
	}, nil
}

func (tx *Transaction) Hash() Hash {
	return tx.hash
}

func (tx *Transaction) Payload() []byte {
	return tx.payload
}

func (tx *Transaction) CreatedTime() time.Time {
	return tx.createdTime
}

// Quorum is the minimum number of distinct signers required.
func (tx *Transaction) Quorum() int {
	return tx.quorum
}

func (tx *Transaction) Signatures() SignatureSet {
	return tx.signatures
}

// IsComplete reports whether enough distinct signers signed the transaction.
func (tx *Transaction) IsComplete() bool {
	return tx.signatures.Len() >= tx.quorum
}

// WithSignatures returns a copy of the transaction holding the given signature set.
func (tx *Transaction) WithSignatures(sigs SignatureSet) *Transaction {
	cp := *tx
	cp.signatures = sigs
	return &cp
}

// AddSignatures returns a copy of the transaction with the given signatures added.
func (tx *Transaction) AddSignatures(sigs ...Signature) *Transaction {
	return tx.WithSignatures(tx.signatures.Union(NewSignatureSet(sigs...)))
}

func (tx *Transaction) sameContent(other *Transaction) error {
	switch {
	case tx.hash != other.hash:
		return fmt.Errorf("transaction %s differs from %s", tx.hash, other.hash)
	case tx.quorum != other.quorum:
		return fmt.Errorf("transaction %s has quorum %d and %d", tx.hash, tx.quorum, other.quorum)
	case !tx.createdTime.Equal(other.createdTime):
		return fmt.Errorf("transaction %s has created time %s and %s", tx.hash, tx.createdTime, other.createdTime)
	case !bytes.Equal(tx.payload, other.payload):
		return fmt.Errorf("transaction %s has two payloads", tx.hash)
	}
	return nil
}

// Batch is an ordered, non-empty group of transactions that are signed and committed atomically.
type Batch struct {
	hash Hash
	txs  []*Transaction
}

func NewBatch(txs ...*Transaction) (*Batch, error) {
	if len(txs) == 0 {
		return nil, ErrEmptyBatch
	}
	for i, tx := range txs {
		if tx == nil {
			return nil, fmt.Errorf("nil transaction at index %d", i)
		}
	}

	return &Batch{
		hash: batchHash(txs),
		txs:  slices.Clone(txs),
	}, nil
}

// batchHash digests the concatenation of the transaction hashes.
func batchHash(txs []*Transaction) Hash {
	hashes := make([][]byte, len(txs))
	for i, tx := range txs {
		h := tx.Hash()
		hashes[i] = h[:]
	}
	return hashBytes(hashes...)
}

func (b *Batch) Hash() Hash {
	return b.hash
}

func (b *Batch) Len() int {
	return len(b.txs)
}

// Transactions returns the transactions in batch order.
func (b *Batch) Transactions() []*Transaction {
	return slices.Clone(b.txs)
}

// IsComplete reports whether every transaction of the batch reached its quorum.
func (b *Batch) IsComplete() bool {
	for _, tx := range b.txs {
		if !tx.IsComplete() {
			return false
		}
	}
	return true
}

// CompletedTransactions counts the transactions that reached their quorum.
func (b *Batch) CompletedTransactions() int {
	var n int
	for _, tx := range b.txs {
		if tx.IsComplete() {
			n++
		}
	}
	return n
}

// CreatedTime is the earliest creation time among the batch transactions.
func (b *Batch) CreatedTime() time.Time {
	earliest := b.txs[0].CreatedTime()
	for _, tx := range b.txs[1:] {
		if tx.CreatedTime().Before(earliest) {
			earliest = tx.CreatedTime()
		}
	}
	return earliest
}

// Merge is MergeBatches with the receiver as the local copy.
func (b *Batch) Merge(other *Batch) (*Batch, error) {
	return MergeBatches(b, other)
}

// MergeBatches unions the signatures of two copies of the same batch.
// For every transaction the merged signature set holds the signers of both copies.
// A signer present in both copies with different signature bytes keeps the signature of local.
func MergeBatches(local, remote *Batch) (*Batch, error) {
	if err := local.sameContent(remote); err != nil {
		return nil, err
	}

	merged := make([]*Transaction, len(local.txs))
	changed := false
	for i, tx := range local.txs {
		sigs := tx.Signatures().Union(remote.txs[i].Signatures())
		if sigs.Len() == tx.Signatures().Len() {
			merged[i] = tx
			continue
		}
		merged[i] = tx.WithSignatures(sigs)
		changed = true
	}

	if !changed {
		return local, nil
	}
	return &Batch{hash: local.hash, txs: merged}, nil
}

func (b *Batch) sameContent(other *Batch) error {
	if b.hash != other.hash {
		return &MismatchedBatchError{Hash: b.hash, Reason: fmt.Sprintf("merged with batch %s", other.hash)}
	}
	if len(b.txs) != len(other.txs) {
		return &MismatchedBatchError{Hash: b.hash, Reason: fmt.Sprintf("%d and %d transactions", len(b.txs), len(other.txs))}
	}
	for i, tx := range b.txs {
		if err := tx.sameContent(other.txs[i]); err != nil {
			return &MismatchedBatchError{Hash: b.hash, Reason: err.Error()}
		}
	}
	return nil
}

// difference returns the signatures of the receiver not held by other's copy of the batch.
// It reports false when other already knows every signature.
func (b *Batch) difference(other *Batch) (*Batch, bool) {
	if len(b.txs) != len(other.txs) {
		return b, true
	}

	diff := make([]*Transaction, len(b.txs))
	var found bool
	for i, tx := range b.txs {
		sigs := tx.Signatures().Difference(other.txs[i].Signatures())
		if sigs.Len() > 0 {
			found = true
		}
		diff[i] = tx.WithSignatures(sigs)
	}

	if !found {
		return nil, false
	}
	return &Batch{hash: b.hash, txs: diff}, true
}

// Equal reports whether both batches hold the same transactions and signatures.
func (b *Batch) Equal(other *Batch) bool {
	if b.sameContent(other) != nil {
		return false
	}
	for i, tx := range b.txs {
		if !tx.Signatures().Equal(other.txs[i].Signatures()) {
			return false
		}
	}
	return true
}
