// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package torii

import (
	"fmt"

	"github.com/luxfi/mst"
)

type StatusKind uint8

const (
	// MstPending is reported when a transaction waits for more signatures.
	MstPending StatusKind = iota + 1
	// EnoughSignaturesCollected is reported when the batch of a transaction reached its quorum
	// and was handed over to consensus.
	EnoughSignaturesCollected
	// MstExpired is reported when the batch of a transaction expired before reaching its quorum.
	MstExpired
)

func (k StatusKind) String() string {
	switch k {
	case MstPending:
		return "MstPending"
	case EnoughSignaturesCollected:
		return "EnoughSignaturesCollected"
	case MstExpired:
		return "MstExpired"
	default:
		return fmt.Sprintf("StatusKind(%d)", uint8(k))
	}
}

// Status is the progress of a transaction as seen by its submitter.
type Status struct {
	Kind StatusKind
	Hash mst.Hash
}

func (s Status) String() string {
	return fmt.Sprintf("%s %s", s.Hash, s.Kind)
}
