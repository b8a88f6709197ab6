// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mst

import (
	"go.uber.org/zap"
)

type Logger interface {
	// Log that a fatal error has occurred. The program should likely exit soon
	// after this is called
	Fatal(msg string, fields ...zap.Field)
	// Log that an error has occurred. The program should be able to recover
	// from this error
	Error(msg string, fields ...zap.Field)
	// Log that an event has occurred that may indicate a future error or
	// vulnerability
	Warn(msg string, fields ...zap.Field)
	// Log an event that may be useful for a user to see to measure the progress
	// of signature collection
	Info(msg string, fields ...zap.Field)
	// Log an event that may be useful for understanding the order of the
	// execution of the processor
	Trace(msg string, fields ...zap.Field)
	// Log an event that may be useful for a programmer to see when debuging the
	// execution of the processor
	Debug(msg string, fields ...zap.Field)
	// Log extremely detailed events that can be useful for inspecting every
	// aspect of the program
	Verbo(msg string, fields ...zap.Field)
}

// WriteAheadLog persists the changes made to the pending state so that a restarted
// node resumes collecting signatures where it stopped.
type WriteAheadLog interface {
	// Append durably appends an entry to the log
	Append([]byte) error
	// ReadAll returns every entry of the log, oldest first
	ReadAll() ([][]byte, error)
	// Rewrite atomically replaces the log with the given entries
	Rewrite([][]byte) error
}

// StateExchanger is the part of the processor a gossip transport talks to.
type StateExchanger interface {
	// OutboundStateFor returns the part of the pending state the peer is not known to hold
	OutboundStateFor(peer string) *State
	// MarkSent records that the peer received the given state
	MarkSent(peer string, sent *State)
	// ApplyRemoteState merges a state received from the peer
	ApplyRemoteState(from string, remote *State) error
	// ForgetPeer drops what is known about the peer
	ForgetPeer(peer string)
	// ExpiryPolicy is the policy decoded states must use
	ExpiryPolicy() ExpiryPolicy
}
