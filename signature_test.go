// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSignatureSet(t *testing.T) {
	payload := []byte("payload")
	first := sign(signers[0], payload)
	again := Signature{Signer: first.Signer, Signed: []byte("other"), Time: genesis.Add(time.Minute)}

	for _, tc := range []struct {
		name    string
		sigs    []Signature
		signers int
	}{
		{
			name: "empty",
		},
		{
			name:    "distinct signers",
			sigs:    []Signature{sign(signers[2], payload), sign(signers[0], payload), sign(signers[1], payload)},
			signers: 3,
		},
		{
			name:    "repeated signer",
			sigs:    []Signature{first, sign(signers[1], payload), again},
			signers: 2,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			set := NewSignatureSet(tc.sigs...)
			require.Equal(t, tc.signers, set.Len())
			all := set.All()
			for i := 1; i < len(all); i++ {
				require.Negative(t, all[i-1].Signer.Compare(all[i].Signer))
			}
		})
	}

	set := NewSignatureSet(first, again)
	got, ok := set.Get(first.Signer)
	require.True(t, ok)
	require.True(t, got.Equal(first), "the first signature of a signer is kept")
}

func TestSignatureSetUnion(t *testing.T) {
	payload := []byte("payload")
	local := sign(signers[0], payload)
	conflicting := Signature{Signer: local.Signer, Signed: []byte("conflict"), Time: genesis.Add(time.Hour)}

	a := NewSignatureSet(local, sign(signers[1], payload))
	b := NewSignatureSet(conflicting, sign(signers[2], payload))

	ab := a.Union(b)
	ba := b.Union(a)

	require.Equal(t, 3, ab.Len())
	require.Equal(t, ab.Signers(), ba.Signers())

	got, _ := ab.Get(local.Signer)
	require.True(t, got.Equal(local))
	got, _ = ba.Get(local.Signer)
	require.True(t, got.Equal(conflicting))

	require.True(t, a.Union(a).Equal(a))
	require.True(t, a.Union(SignatureSet{}).Equal(a))
	require.True(t, SignatureSet{}.Union(a).Equal(a))
}

func TestSignatureSetDifference(t *testing.T) {
	payload := []byte("payload")
	a := NewSignatureSet(sign(signers[0], payload), sign(signers[1], payload), sign(signers[2], payload))
	b := NewSignatureSet(sign(signers[1], payload))

	diff := a.Difference(b)
	require.Equal(t, 2, diff.Len())
	require.False(t, diff.Has(PublicKey(signers[1].Public)))
	require.True(t, diff.Has(PublicKey(signers[0].Public)))

	require.Zero(t, b.Difference(a).Len())
	require.True(t, a.ContainsSigners(b))
	require.False(t, b.ContainsSigners(a))
	require.True(t, a.ContainsSigners(a.Union(diff)))
}
