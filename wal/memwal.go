// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wal

import (
	"bytes"
	"fmt"
	"sync"
)

// InMemWAL keeps the log in memory using the same framing as the file log.
type InMemWAL struct {
	lock sync.Mutex
	bb   bytes.Buffer
}

func NewMemWAL() *InMemWAL {
	return &InMemWAL{}
}

func (wal *InMemWAL) Append(b []byte) error {
	wal.lock.Lock()
	defer wal.lock.Unlock()

	return writeRecord(&wal.bb, b)
}

func (wal *InMemWAL) ReadAll() ([][]byte, error) {
	wal.lock.Lock()
	defer wal.lock.Unlock()

	r := bytes.NewBuffer(wal.bb.Bytes())
	var res [][]byte
	for r.Len() > 0 {
		payload, _, err := readRecord(r, uint32(r.Len()))
		if err != nil {
			return nil, fmt.Errorf("failed reading in-memory record: %w", err)
		}
		res = append(res, payload)
	}
	return res, nil
}

func (wal *InMemWAL) Rewrite(entries [][]byte) error {
	var bb bytes.Buffer
	for _, entry := range entries {
		if err := writeRecord(&bb, entry); err != nil {
			return err
		}
	}

	wal.lock.Lock()
	defer wal.lock.Unlock()

	wal.bb = bb
	return nil
}

func (wal *InMemWAL) Truncate() error {
	wal.lock.Lock()
	defer wal.lock.Unlock()

	wal.bb.Reset()
	return nil
}

// Len returns the number of bytes held by the log.
func (wal *InMemWAL) Len() int {
	wal.lock.Lock()
	defer wal.lock.Unlock()

	return wal.bb.Len()
}
