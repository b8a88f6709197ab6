// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package record

// CurrentVersion is the version written into every new record.
const CurrentVersion uint8 = 1

const (
	UndefinedRecordType uint16 = iota
	// BatchRecordType holds a batch accepted into the pending state, with the signatures known at that time.
	BatchRecordType
	// PreparedRecordType holds the hash of a batch that left the pending state complete.
	PreparedRecordType
	// ExpiredRecordType holds the hash of a batch that left the pending state expired.
	ExpiredRecordType
	// SnapshotRecordType holds a whole pending state.
	SnapshotRecordType
	// StateMessageType is the gossip envelope of a state diff sent to a peer.
	StateMessageType
)

func TypeName(t uint16) string {
	switch t {
	case BatchRecordType:
		return "batch"
	case PreparedRecordType:
		return "prepared"
	case ExpiredRecordType:
		return "expired"
	case SnapshotRecordType:
		return "snapshot"
	case StateMessageType:
		return "state"
	default:
		return "undefined"
	}
}
