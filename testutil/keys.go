// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package testutil

import (
	"crypto/ed25519"
	"encoding/binary"
)

// Signer is a deterministic ed25519 key pair.
type Signer struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewSigner derives the key pair of the given index, so that signers are stable across runs.
func NewSigner(index uint64) Signer {
	seed := make([]byte, ed25519.SeedSize)
	binary.BigEndian.PutUint64(seed[ed25519.SeedSize-8:], index+1)
	private := ed25519.NewKeyFromSeed(seed)
	return Signer{
		Public:  private.Public().(ed25519.PublicKey),
		private: private,
	}
}

// NewSigners derives the first n signers.
func NewSigners(n int) []Signer {
	signers := make([]Signer, n)
	for i := range signers {
		signers[i] = NewSigner(uint64(i))
	}
	return signers
}

func (s Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.private, msg)
}

func (s Signer) Verify(msg, sig []byte) bool {
	return ed25519.Verify(s.Public, msg, sig)
}
