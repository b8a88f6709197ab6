// Copyright (C) 2019-2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package wal

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	WalFlags       = os.O_APPEND | os.O_CREATE | os.O_RDWR
	WalPermissions = 0666
)

// WriteAheadLog is an append-only file of length-prefixed, check-summed entries.
// It is safe for concurrent use.
type WriteAheadLog struct {
	lock     sync.Mutex
	fileName string
	file     *os.File
}

// New opens a write ahead log file, creating one if necessary.
// Call Close() on the WriteAheadLog to ensure the file is closed after use.
func New(fileName string) (*WriteAheadLog, error) {
	file, err := os.OpenFile(fileName, WalFlags, WalPermissions)
	if err != nil {
		return nil, err
	}

	return &WriteAheadLog{
		fileName: fileName,
		file:     file,
	}, nil
}

// Append writes an entry to the log.
// Must flush the OS cache on every append to ensure consistency
func (w *WriteAheadLog) Append(entry []byte) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	var buff bytes.Buffer
	if err := writeRecord(&buff, entry); err != nil {
		return err
	}

	// write will append
	if _, err := w.file.Write(buff.Bytes()); err != nil {
		return err
	}

	// ensure file gets written to persistent storage
	return w.file.Sync()
}

// ReadAll returns every intact entry of the log.
// A corrupted tail, left by a crash in the middle of an append, is truncated away.
func (w *WriteAheadLog) ReadAll() ([][]byte, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to start %w", err)
	}

	fileInfo, err := w.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("error getting file info %w", err)
	}
	bytesToRead := fileInfo.Size()

	var entries [][]byte
	for bytesToRead > 0 {
		payload, bytesRead, err := readRecord(w.file, uint32(min(bytesToRead, int64(^uint32(0)))))
		// record was corrupted in wal
		if err != nil {
			return entries, w.truncateAt(fileInfo.Size() - bytesToRead)
		}

		bytesToRead -= int64(bytesRead)
		entries = append(entries, payload)
	}

	return entries, nil
}

// Rewrite atomically replaces the content of the log with the given entries.
func (w *WriteAheadLog) Rewrite(entries [][]byte) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	var buff bytes.Buffer
	for _, entry := range entries {
		if err := writeRecord(&buff, entry); err != nil {
			return err
		}
	}

	tmpName := w.fileName + ".tmp"
	if err := os.WriteFile(tmpName, buff.Bytes(), WalPermissions); err != nil {
		return fmt.Errorf("failed writing %s: %w", tmpName, err)
	}
	if err := syncFile(tmpName); err != nil {
		return err
	}
	if err := os.Rename(tmpName, w.fileName); err != nil {
		return fmt.Errorf("failed replacing %s: %w", w.fileName, err)
	}

	file, err := os.OpenFile(w.fileName, WalFlags, WalPermissions)
	if err != nil {
		return err
	}
	old := w.file
	w.file = file
	return old.Close()
}

func syncFile(name string) error {
	f, err := os.OpenFile(name, os.O_RDWR, WalPermissions)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Truncate truncates the write ahead log
func (w *WriteAheadLog) Truncate() error {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.truncateAt(0)
}

func (w *WriteAheadLog) truncateAt(offset int64) error {
	// truncate call is atomic. Ref https://cgi.cse.unsw.edu.au/~cs3231/18s1/os161/man/syscall/ftruncate.html
	err := w.file.Truncate(offset)
	if err != nil {
		return err
	}

	return w.file.Sync()
}

func (w *WriteAheadLog) Close() error {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.file.Close()
}
