// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gossip

import (
	"math/rand/v2"
	"slices"

	"github.com/libp2p/go-libp2p/core/peer"
)

// selectPeers picks up to amount distinct peers uniformly at random.
func selectPeers(peers []peer.ID, amount int, r *rand.Rand) []peer.ID {
	if amount <= 0 || len(peers) == 0 {
		return nil
	}
	if amount >= len(peers) {
		return slices.Clone(peers)
	}

	shuffled := slices.Clone(peers)
	// partial Fisher-Yates: only the first amount positions are needed
	for i := 0; i < amount; i++ {
		j := i + r.IntN(len(shuffled)-i)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:amount]
}
