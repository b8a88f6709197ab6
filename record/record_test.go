// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package record

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	r := Record{
		Version: 1,
		Type:    BatchRecordType,
		Payload: []byte{3, 4, 5},
	}

	buff := r.Bytes()

	var r2 Record
	n, err := r2.FromBytes(bytes.NewBuffer(buff))
	require.NoError(t, err)
	require.Equal(t, len(buff), n)
	require.Equal(t, r, r2)

	// Corrupt the CRC of the buffer
	copy(buff[len(buff)-recordChecksumLen:], []byte{0, 1, 2, 3, 4, 5, 6, 7})
	_, err = r2.FromBytes(bytes.NewBuffer(buff))
	require.ErrorIs(t, err, ErrInvalidCRC)
}

func TestParse(t *testing.T) {
	valid := New(ExpiredRecordType, []byte{1, 2}).Bytes()

	for _, tc := range []struct {
		name        string
		buff        []byte
		errIs       error
		errContains string
	}{
		{
			name: "valid",
			buff: valid,
		},
		{
			name:        "trailing bytes",
			buff:        append(bytes.Clone(valid), 0),
			errContains: "trailing bytes",
		},
		{
			name:  "old version",
			buff:  (&Record{Version: 0, Type: ExpiredRecordType, Payload: []byte{1, 2}}).Bytes(),
			errIs: ErrUnsupportedVersion,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r, err := Parse(tc.buff)
			switch {
			case tc.errContains != "":
				require.ErrorContains(t, err, tc.errContains)
			case tc.errIs != nil:
				require.ErrorIs(t, err, tc.errIs)
			default:
				require.NoError(t, err)
				require.Equal(t, New(ExpiredRecordType, []byte{1, 2}), r)
			}
		})
	}
}

func TestExpect(t *testing.T) {
	r := New(PreparedRecordType, []byte{9})

	payload, err := r.Expect(PreparedRecordType)
	require.NoError(t, err)
	require.Equal(t, []byte{9}, payload)

	_, err = r.Expect(BatchRecordType)
	require.ErrorIs(t, err, ErrUnexpectedType)
	require.Equal(t, "prepared record v1 (1 bytes)", r.String())
}

func FuzzRecord(f *testing.F) {
	f.Fuzz(func(t *testing.T, version uint8, recType uint16, payload []byte, badCRC uint64) {
		r := Record{
			Version: version,
			Type:    recType,
			Payload: payload,
		}

		buff := r.Bytes()

		var r2 Record
		_, err := r2.FromBytes(bytes.NewBuffer(buff))
		require.NoError(t, err)
		require.Equal(t, r.Version, r2.Version)
		require.Equal(t, r.Type, r2.Type)
		require.Equal(t, len(r.Payload), len(r2.Payload))
		require.True(t, bytes.Equal(r.Payload, r2.Payload))

		crc := make([]byte, recordChecksumLen)
		binary.BigEndian.PutUint64(crc, badCRC)

		buffCRC := buff[len(buff)-recordChecksumLen:]
		if bytes.Equal(crc, buffCRC) {
			return
		}

		// Corrupt the CRC of the buffer
		copy(buffCRC, crc)

		_, err = r2.FromBytes(bytes.NewBuffer(buff))
		require.ErrorIs(t, err, ErrInvalidCRC)
	})
}
