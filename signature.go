// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"bytes"
	"slices"
	"time"
)

// Signature is the contribution of a single signer to a transaction.
type Signature struct {
	// Signer is the public key of the signing party.
	Signer PublicKey
	// Signed holds the signature bytes.
	Signed []byte
	// Time is when the signature was contributed.
	Time time.Time
}

func (s Signature) Equal(other Signature) bool {
	return s.Signer.Equals(other.Signer) && bytes.Equal(s.Signed, other.Signed) && s.Time.Equal(other.Time)
}

// SignatureSet is an immutable set of signatures keyed by signer.
// It holds at most one signature per signer, sorted by signer.
type SignatureSet struct {
	sigs []Signature
}

// NewSignatureSet builds a set out of the given signatures.
// When a signer appears more than once the first signature is kept,
// so contributing the same signer twice never accumulates.
func NewSignatureSet(sigs ...Signature) SignatureSet {
	if len(sigs) == 0 {
		return SignatureSet{}
	}

	sorted := make([]Signature, len(sigs))
	copy(sorted, sigs)
	// stable sort keeps the first occurrence of each signer in front
	slices.SortStableFunc(sorted, compareSignatures)
	sorted = slices.CompactFunc(sorted, func(a, b Signature) bool {
		return a.Signer.Equals(b.Signer)
	})

	return SignatureSet{sigs: slices.Clip(sorted)}
}

// Len returns the number of distinct signers in the set.
func (ss SignatureSet) Len() int {
	return len(ss.sigs)
}

func (ss SignatureSet) Get(signer PublicKey) (Signature, bool) {
	i, found := ss.search(signer)
	if !found {
		return Signature{}, false
	}
	return ss.sigs[i], true
}

func (ss SignatureSet) Has(signer PublicKey) bool {
	_, found := ss.search(signer)
	return found
}

// All returns the signatures ordered by signer.
func (ss SignatureSet) All() []Signature {
	return slices.Clone(ss.sigs)
}

func (ss SignatureSet) Signers() []PublicKey {
	signers := make([]PublicKey, len(ss.sigs))
	for i, sig := range ss.sigs {
		signers[i] = sig.Signer
	}
	return signers
}

// Union returns the signatures of both sets.
// A signer present in both keeps the signature held by the receiver: the local copy wins
// over a conflicting remote one, regardless of which was contributed later.
func (ss SignatureSet) Union(other SignatureSet) SignatureSet {
	if other.Len() == 0 {
		return ss
	}
	if ss.Len() == 0 {
		return other
	}

	merged := make([]Signature, 0, ss.Len()+other.Len())
	i, j := 0, 0
	for i < len(ss.sigs) && j < len(other.sigs) {
		switch compareSignatures(ss.sigs[i], other.sigs[j]) {
		case -1:
			merged = append(merged, ss.sigs[i])
			i++
		case 1:
			merged = append(merged, other.sigs[j])
			j++
		default:
			merged = append(merged, ss.sigs[i])
			i++
			j++
		}
	}
	merged = append(merged, ss.sigs[i:]...)
	merged = append(merged, other.sigs[j:]...)

	return SignatureSet{sigs: merged}
}

// Difference returns the signatures of the receiver whose signer is absent from other.
func (ss SignatureSet) Difference(other SignatureSet) SignatureSet {
	var diff []Signature
	for _, sig := range ss.sigs {
		if !other.Has(sig.Signer) {
			diff = append(diff, sig)
		}
	}
	return SignatureSet{sigs: diff}
}

// ContainsSigners reports whether every signer of other is present in the receiver.
func (ss SignatureSet) ContainsSigners(other SignatureSet) bool {
	for _, sig := range other.sigs {
		if !ss.Has(sig.Signer) {
			return false
		}
	}
	return true
}

func (ss SignatureSet) Equal(other SignatureSet) bool {
	return slices.EqualFunc(ss.sigs, other.sigs, Signature.Equal)
}

func (ss SignatureSet) search(signer PublicKey) (int, bool) {
	return slices.BinarySearchFunc(ss.sigs, signer, func(sig Signature, target PublicKey) int {
		return sig.Signer.Compare(target)
	})
}

// compareSignatures compares two signatures by their Signer field returning -1, 0, 1 if i is less than, equal to, or greater than j.
func compareSignatures(i, j Signature) int {
	return bytes.Compare(i.Signer, j.Signer)
}
