// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import "time"

const DefaultBatchLifetime = 24 * time.Hour

type ExpiryMode uint8

const (
	// ExpireByCreatedTime expires a batch a fixed lifetime after its earliest transaction was created.
	ExpireByCreatedTime ExpiryMode = iota
	// ExpireAfterArrival expires a batch a fixed timeout after it first reached this node.
	ExpireAfterArrival
)

func (m ExpiryMode) String() string {
	switch m {
	case ExpireByCreatedTime:
		return "created-time"
	case ExpireAfterArrival:
		return "arrival"
	default:
		return "unknown"
	}
}

// ExpiryPolicy decides the deadline of a batch entering a State.
type ExpiryPolicy struct {
	Mode    ExpiryMode
	Timeout time.Duration
	// Now is the clock used by ExpireAfterArrival. Defaults to time.Now.
	Now func() time.Time
}

// EarliestTxTime expires batches lifetime after the creation of their earliest transaction.
func EarliestTxTime(lifetime time.Duration) ExpiryPolicy {
	return ExpiryPolicy{Mode: ExpireByCreatedTime, Timeout: lifetime}
}

// FixedTimeout expires batches timeout after they were first inserted into a state.
func FixedTimeout(timeout time.Duration, now func() time.Time) ExpiryPolicy {
	return ExpiryPolicy{Mode: ExpireAfterArrival, Timeout: timeout, Now: now}
}

// DefaultExpiryPolicy is EarliestTxTime(DefaultBatchLifetime).
func DefaultExpiryPolicy() ExpiryPolicy {
	return EarliestTxTime(DefaultBatchLifetime)
}

func (p ExpiryPolicy) Deadline(b *Batch) time.Time {
	if p.Mode == ExpireAfterArrival {
		now := p.Now
		if now == nil {
			now = time.Now
		}
		return now().Add(p.Timeout)
	}
	return b.CreatedTime().Add(p.Timeout)
}
