// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"bytes"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

const HashLen = 32

// PublicKey identifies a signer. Keys are ordered by their bytes.
type PublicKey []byte

func (pk PublicKey) Equals(other PublicKey) bool {
	return bytes.Equal(pk, other)
}

func (pk PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(pk, other)
}

func (pk PublicKey) String() string {
	return hex.EncodeToString(pk)
}

// Hash is a SHA3-256 digest identifying a transaction or a batch.
type Hash [HashLen]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func hashBytes(data ...[]byte) Hash {
	hasher := sha3.New256()
	for _, d := range data {
		hasher.Write(d)
	}

	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}
