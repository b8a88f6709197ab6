// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
)

const (
	recordSizeLen     = 4
	recordChecksumLen = 8
)

var (
	ErrInvalidCRC    = errors.New("invalid CRC checksum")
	ErrEntryTooLarge = errors.New("entry too large")
)

var crcTable = crc64.MakeTable(crc64.ECMA)

// writeRecord writes a length-prefixed and check-summed entry to the writer.
func writeRecord(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(payload))
	}

	checksumIndex := recordSizeLen + len(payload)
	buff := make([]byte, checksumIndex, checksumIndex+recordChecksumLen)
	binary.BigEndian.PutUint32(buff, uint32(len(payload)))
	copy(buff[recordSizeLen:], payload)

	crc := crc64.New(crcTable)
	if _, err := crc.Write(buff); err != nil {
		return fmt.Errorf("CRC checksum failed: %w", err)
	}

	_, err := w.Write(crc.Sum(buff))
	return err
}

// readRecord reads a length-prefixed and check-summed entry from the reader.
// The entry must not declare more than maxSize bytes.
// If the entry is read correctly, the number of bytes read is returned.
func readRecord(r io.Reader, maxSize uint32) ([]byte, uint32, error) {
	sizeBuff := make([]byte, recordSizeLen)
	if _, err := io.ReadFull(r, sizeBuff); err != nil {
		return nil, 0, err
	}

	payloadLen := binary.BigEndian.Uint32(sizeBuff)
	if payloadLen > maxSize {
		return nil, 0, fmt.Errorf("%w: record indicates payload is %d bytes long", ErrEntryTooLarge, payloadLen)
	}

	payloadAndChecksum := make([]byte, uint64(payloadLen)+recordChecksumLen)
	if _, err := io.ReadFull(r, payloadAndChecksum); err != nil {
		return nil, 0, err
	}
	payload := payloadAndChecksum[:payloadLen]
	checksum := payloadAndChecksum[payloadLen:]

	crc := crc64.New(crcTable)
	if _, err := crc.Write(sizeBuff); err != nil {
		return nil, 0, fmt.Errorf("CRC checksum failed: %w", err)
	}
	if _, err := crc.Write(payload); err != nil {
		return nil, 0, fmt.Errorf("CRC checksum failed: %w", err)
	}

	if !bytes.Equal(checksum, crc.Sum(nil)) {
		return nil, 0, ErrInvalidCRC
	}
	return payload, recordSizeLen + payloadLen + recordChecksumLen, nil
}
