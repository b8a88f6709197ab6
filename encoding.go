// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidSnapshot = errors.New("invalid state snapshot")

type encodedSignature struct {
	Signer []byte
	Signed []byte
	Time   int64
}

type encodedTransaction struct {
	Payload     []byte
	CreatedTime int64
	Quorum      int
	Signatures  []encodedSignature
}

type encodedBatch struct {
	Hash         []byte
	Transactions []encodedTransaction
}

type encodedState struct {
	Batches []encodedBatch
}

// pendingBatch is a batch together with the deadline this node assigned to it.
type pendingBatch struct {
	Batch    encodedBatch
	Deadline int64
}

type pendingSnapshot struct {
	Batches []pendingBatch
}

func marshal(v any) []byte {
	buff, err := asn1.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed encoding %T: %v", v, err))
	}
	return buff
}

func unmarshal(buff []byte, v any) error {
	rest, err := asn1.Unmarshal(buff, v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if len(rest) > 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidSnapshot, len(rest))
	}
	return nil
}

func encodeTime(t time.Time) int64 {
	return t.UnixNano()
}

func decodeTime(nanos int64) time.Time {
	return time.Unix(0, nanos)
}

func encodeBatch(b *Batch) encodedBatch {
	txs := make([]encodedTransaction, len(b.txs))
	for i, tx := range b.txs {
		sigs := make([]encodedSignature, 0, tx.signatures.Len())
		for _, sig := range tx.signatures.sigs {
			sigs = append(sigs, encodedSignature{
				Signer: sig.Signer,
				Signed: sig.Signed,
				Time:   encodeTime(sig.Time),
			})
		}
		txs[i] = encodedTransaction{
			Payload:     tx.payload,
			CreatedTime: encodeTime(tx.createdTime),
			Quorum:      tx.quorum,
			Signatures:  sigs,
		}
	}
	return encodedBatch{
		Hash:         b.hash[:],
		Transactions: txs,
	}
}

func decodeBatch(eb encodedBatch) (*Batch, error) {
	txs := make([]*Transaction, len(eb.Transactions))
	for i, etx := range eb.Transactions {
		sigs := make([]Signature, len(etx.Signatures))
		for j, esig := range etx.Signatures {
			sigs[j] = Signature{
				Signer: esig.Signer,
				Signed: esig.Signed,
				Time:   decodeTime(esig.Time),
			}
		}
		tx, err := NewTransaction(etx.Payload, decodeTime(etx.CreatedTime), etx.Quorum, sigs...)
		if err != nil {
			return nil, fmt.Errorf("%w: transaction %d: %w", ErrInvalidSnapshot, i, err)
		}
		txs[i] = tx
	}

	b, err := NewBatch(txs...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if len(eb.Hash) != HashLen || Hash(eb.Hash) != b.hash {
		return nil, fmt.Errorf("%w: declared hash %x does not match batch %s", ErrInvalidSnapshot, eb.Hash, b.hash)
	}
	return b, nil
}

// Bytes encodes the batch together with its hash.
func (b *Batch) Bytes() []byte {
	return marshal(encodeBatch(b))
}

// BatchFromBytes decodes a batch and checks that the declared hash matches its transactions.
func BatchFromBytes(buff []byte) (*Batch, error) {
	var eb encodedBatch
	if err := unmarshal(buff, &eb); err != nil {
		return nil, err
	}
	return decodeBatch(eb)
}

// Bytes encodes the batches of the state. Deadlines are local to each node and are not encoded.
func (s *State) Bytes() []byte {
	es := encodedState{
		Batches: make([]encodedBatch, 0, s.Len()),
	}
	s.batches.Ascend(func(e *stateEntry) bool {
		es.Batches = append(es.Batches, encodeBatch(e.batch))
		return true
	})
	return marshal(es)
}

// StateFromBytes decodes a state snapshot, assigning deadlines with the given policy.
// Batches are kept as sent, so a snapshot may carry complete batches.
func StateFromBytes(buff []byte, policy ExpiryPolicy) (*State, error) {
	var es encodedState
	if err := unmarshal(buff, &es); err != nil {
		return nil, err
	}

	batches := make([]*Batch, len(es.Batches))
	for i, eb := range es.Batches {
		b, err := decodeBatch(eb)
		if err != nil {
			return nil, err
		}
		batches[i] = b
	}

	s, err := stateFromBatches(policy, batches)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	return s, nil
}

func encodePendingBatch(b *Batch, deadline time.Time) []byte {
	return marshal(pendingBatch{
		Batch:    encodeBatch(b),
		Deadline: encodeTime(deadline),
	})
}

func decodePendingBatch(buff []byte) (*Batch, time.Time, error) {
	var pb pendingBatch
	if err := unmarshal(buff, &pb); err != nil {
		return nil, time.Time{}, err
	}
	b, err := decodeBatch(pb.Batch)
	if err != nil {
		return nil, time.Time{}, err
	}
	return b, decodeTime(pb.Deadline), nil
}

// encodePendingSnapshot encodes the state along with the deadlines this node assigned.
func encodePendingSnapshot(s *State) []byte {
	ps := pendingSnapshot{
		Batches: make([]pendingBatch, 0, s.Len()),
	}
	s.batches.Ascend(func(e *stateEntry) bool {
		ps.Batches = append(ps.Batches, pendingBatch{
			Batch:    encodeBatch(e.batch),
			Deadline: encodeTime(e.deadline),
		})
		return true
	})
	return marshal(ps)
}

func decodePendingSnapshot(buff []byte, policy ExpiryPolicy) (*State, error) {
	var ps pendingSnapshot
	if err := unmarshal(buff, &ps); err != nil {
		return nil, err
	}

	s := EmptyState(policy)
	for _, pb := range ps.Batches {
		b, err := decodeBatch(pb.Batch)
		if err != nil {
			return nil, err
		}
		if _, err := s.insert(b, decodeTime(pb.Deadline)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
		}
	}
	return s, nil
}

func hashFromBytes(buff []byte) (Hash, error) {
	if len(buff) != HashLen {
		return Hash{}, fmt.Errorf("expected %d bytes hash, got %d", HashLen, len(buff))
	}
	return Hash(buff), nil
}
