// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
)

const (
	recordVersionLen  = 1
	recordTypeLen     = 2
	recordSizeLen     = 4
	recordChecksumLen = 8

	recordHeaderLen = recordVersionLen + recordTypeLen + recordSizeLen

	recordVersionIndex  = 0
	recordTypeOffset    = recordVersionIndex + recordVersionLen
	recordSizeOffset    = recordTypeOffset + recordTypeLen
	recordPayloadOffset = recordSizeOffset + recordSizeLen

	// MaxPayloadSize bounds the payload a record may declare.
	MaxPayloadSize = 64 << 20
)

var (
	ErrInvalidCRC         = errors.New("invalid CRC checksum")
	ErrUnsupportedVersion = errors.New("unsupported record version")
	ErrUnexpectedType     = errors.New("unexpected record type")
)

var crcTable = crc64.MakeTable(crc64.ECMA)

// Record is a typed payload framed as version | type | size | payload | crc64.
type Record struct {
	Version uint8
	Type    uint16
	Payload []byte
}

// New returns a record of the current version.
func New(recType uint16, payload []byte) *Record {
	return &Record{
		Version: CurrentVersion,
		Type:    recType,
		Payload: payload,
	}
}

func (r *Record) String() string {
	return fmt.Sprintf("%s record v%d (%d bytes)", TypeName(r.Type), r.Version, len(r.Payload))
}

func (r *Record) Bytes() []byte {
	payloadLen := len(r.Payload)
	buff := make([]byte, recordHeaderLen+payloadLen+recordChecksumLen)

	buff[recordVersionIndex] = r.Version
	binary.BigEndian.PutUint16(buff[recordTypeOffset:], r.Type)
	binary.BigEndian.PutUint32(buff[recordSizeOffset:], uint32(payloadLen))
	copy(buff[recordPayloadOffset:], r.Payload)

	checksumOffset := recordPayloadOffset + payloadLen
	crc := crc64.New(crcTable)
	if _, err := crc.Write(buff[:checksumOffset]); err != nil {
		panic(fmt.Sprintf("CRC checksum failed: %v", err))
	}
	return crc.Sum(buff[:checksumOffset])
}

// FromBytes reads a single record from in and returns the number of bytes consumed.
func (r *Record) FromBytes(in io.Reader) (int, error) {
	header := make([]byte, recordHeaderLen)
	if _, err := io.ReadFull(in, header); err != nil {
		return 0, err
	}

	version := header[recordVersionIndex]
	recType := binary.BigEndian.Uint16(header[recordTypeOffset:])
	payloadLen := binary.BigEndian.Uint32(header[recordSizeOffset:])
	if payloadLen > MaxPayloadSize {
		return 0, fmt.Errorf("record indicates payload is %d bytes long", payloadLen)
	}

	payloadAndChecksum := make([]byte, payloadLen+recordChecksumLen)
	if _, err := io.ReadFull(in, payloadAndChecksum); err != nil {
		return 0, err
	}
	payload := payloadAndChecksum[:payloadLen]
	checksum := payloadAndChecksum[payloadLen:]

	crc := crc64.New(crcTable)
	if _, err := crc.Write(header); err != nil {
		return 0, fmt.Errorf("CRC checksum failed: %w", err)
	}
	if _, err := crc.Write(payload); err != nil {
		return 0, fmt.Errorf("CRC checksum failed: %w", err)
	}
	if !bytes.Equal(checksum, crc.Sum(nil)) {
		return 0, ErrInvalidCRC
	}

	r.Version = version
	r.Type = recType
	r.Payload = payload

	return recordHeaderLen + len(payload) + recordChecksumLen, nil
}

// Parse decodes a buffer holding exactly one record of the current version.
func Parse(buff []byte) (*Record, error) {
	var r Record
	n, err := r.FromBytes(bytes.NewReader(buff))
	if err != nil {
		return nil, err
	}
	if n != len(buff) {
		return nil, fmt.Errorf("%d trailing bytes after record", len(buff)-n)
	}
	if r.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, r.Version)
	}
	return &r, nil
}

// Expect returns the payload of r if it has the given type.
func (r *Record) Expect(recType uint16) ([]byte, error) {
	if r.Type != recType {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedType, TypeName(recType), TypeName(r.Type))
	}
	return r.Payload, nil
}
